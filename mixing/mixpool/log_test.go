// Copyright (c) 2024-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mixpool

import (
	"testing"

	"github.com/decred/slog"
)

type testLog struct {
	*testing.T
}

func (t *testLog) Write(b []byte) (int, error) {
	t.Logf("%s", b)
	return len(b), nil
}

// useTestLogger sets the package-level logger to a backend that writes
// trace-level logs to the test log.  The logger is set back to Disabled when
// the test finishes.
//
// Due to the use of a global logger variable that must write to individual
// test logs, it is not possible to parallelize tests.
func useTestLogger(t *testing.T) {
	backend := slog.NewBackend(&testLog{T: t})
	l := backend.Logger("MIXP")
	l.SetLevel(slog.LevelTrace)
	UseLogger(l)
	t.Cleanup(func() {
		UseLogger(slog.Disabled)
	})
}
