// Copyright (c) 2013-2014 The btcsuite developers
// Copyright (c) 2015-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package version houses the application and protocol versions of darksendd.
package version

import (
	"fmt"
	"regexp"
	"runtime/debug"
	"strconv"
	"strings"
)

// ProtocolVersion is the version of the mixing and locking protocol
// messages.  Masternodes announcing an older version can be excluded with a
// minimum protocol version.
const ProtocolVersion uint32 = 1

// semanticAlphabet defines the allowed characters for the pre-release and
// build metadata portions of a semantic version string.
const semanticAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-."

// semverRE is a regular expression used to parse a semantic version string into
// its constituent parts.
var semverRE = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)` +
	`(?:-((?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*)(?:\.(?:0|[1-9]\d*|\d*` +
	`[a-zA-Z-][0-9a-zA-Z-]*))*))?(?:\+([0-9a-zA-Z-]+(?:\.[0-9a-zA-Z-]+)*))?$`)

var (
	// Version is the application version per the semantic versioning 2.0.0
	// spec (https://semver.org/).  Release builds override it with:
	// '-ldflags "-X github.com/drkcore/darksend/internal/version.Version=fullsemver"'
	//
	// The pre-release and build metadata portions MUST only contain
	// characters from semanticAlphabet or the package panics at init.
	Version = "0.1.0-pre"

	// The components of Version, set at init.
	Major         uint
	Minor         uint
	Patch         uint
	PreRelease    string
	BuildMetadata string
)

// parseUint converts the passed string to an unsigned integer or returns an
// error if it is invalid.
func parseUint(s string, fieldName string) (uint, error) {
	val, err := strconv.ParseUint(s, 10, 0)
	if err != nil {
		return 0, fmt.Errorf("malformed semver %s: %w", fieldName, err)
	}
	return uint(val), nil
}

// checkSemString returns an error if the passed string contains characters
// outside the semantic alphabet.
func checkSemString(s, fieldName string) error {
	for _, r := range s {
		if !strings.ContainsRune(semanticAlphabet, r) {
			return fmt.Errorf("malformed semver %s: %q invalid", fieldName, r)
		}
	}
	return nil
}

// parseSemVer parses the components of a semantic version string.
func parseSemVer(s string) (major, minor, patch uint, pre, build string, err error) {
	m := semverRE.FindStringSubmatch(s)
	if m == nil {
		err = fmt.Errorf("malformed version string %q: does not conform to "+
			"semver specification", s)
		return 0, 0, 0, "", "", err
	}

	if major, err = parseUint(m[1], "major"); err != nil {
		return 0, 0, 0, "", "", err
	}
	if minor, err = parseUint(m[2], "minor"); err != nil {
		return 0, 0, 0, "", "", err
	}
	if patch, err = parseUint(m[3], "patch"); err != nil {
		return 0, 0, 0, "", "", err
	}
	if err = checkSemString(m[4], "pre-release"); err != nil {
		return 0, 0, 0, "", "", err
	}
	if err = checkSemString(m[5], "buildmetadata"); err != nil {
		return 0, 0, 0, "", "", err
	}
	return major, minor, patch, m[4], m[5], nil
}

// vcsCommitID returns the abbreviated commit the binary was built from, or
// an empty string when it was not built from a git checkout.
func vcsCommitID() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	var vcs, revision string
	for _, bs := range bi.Settings {
		switch bs.Key {
		case "vcs":
			vcs = bs.Value
		case "vcs.revision":
			revision = bs.Value
		}
	}
	if vcs != "git" {
		return ""
	}
	if len(revision) > 9 {
		revision = revision[:9]
	}
	return NormalizeString(revision)
}

func init() {
	var err error
	Major, Minor, Patch, PreRelease, BuildMetadata, err = parseSemVer(Version)
	if err != nil {
		panic(err)
	}
	if BuildMetadata == "" {
		BuildMetadata = vcsCommitID()
		if BuildMetadata != "" {
			Version = fmt.Sprintf("%s+%s", Version, BuildMetadata)
		}
	}
}

// String returns the application version.
func String() string {
	return Version
}

// NormalizeString returns the passed string stripped of all characters which
// are not valid in the pre-release and build metadata of a semantic version.
func NormalizeString(str string) string {
	var b strings.Builder
	for _, r := range str {
		if strings.ContainsRune(semanticAlphabet, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
