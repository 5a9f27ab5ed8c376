// Copyright (c) 2024-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mixing

import (
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrutil/v4"
)

// Network-wide amounts.
const (
	// CollateralAmount is the minimum fee a participant's collateral
	// transaction must pay.  It is forfeited when the participant
	// misbehaves and occasionally charged on success.
	CollateralAmount dcrutil.Amount = 1e6

	// MaxCollateralAmount is the largest fee a collateral transaction may
	// pay.
	MaxCollateralAmount = 4 * CollateralAmount

	// MasternodeCollateral is the exact amount locked by a masternode.
	// Outputs of this amount are never selected for mixing.
	MasternodeCollateral dcrutil.Amount = 1000e8
)

// Session and round limits.
const (
	DefaultMinParticipants = 2
	DefaultMaxParticipants = 3

	// MaxEntryInputs is the maximum number of inputs a single
	// participant may contribute to one session.
	MaxEntryInputs = 9

	MinRounds     = 2
	MaxRounds     = 16
	DefaultRounds = MinRounds

	// MaxLiquidity is the upper bound of the liquidity provider
	// setting.  Zero disables liquidity providing.
	MaxLiquidity = 100
)

// IsMasternodeCollateral returns whether amount is exactly the masternode
// collateral.
func IsMasternodeCollateral(amount dcrutil.Amount) bool {
	return amount == MasternodeCollateral
}

// Privacy is a named rounds preset.
type Privacy string

// Privacy presets.
const (
	PrivacyBasic   Privacy = "basic"
	PrivacyHigh    Privacy = "high"
	PrivacyMaximum Privacy = "maximum"
)

// Rounds returns the number of mixing rounds selected by the preset.
func (p Privacy) Rounds() int {
	switch p {
	case PrivacyHigh:
		return 8
	case PrivacyMaximum:
		return MaxRounds
	default:
		return MinRounds
	}
}

// ParsePrivacy parses a privacy preset name.
func ParsePrivacy(s string) (Privacy, error) {
	switch p := Privacy(strings.ToLower(s)); p {
	case PrivacyBasic, PrivacyHigh, PrivacyMaximum:
		return p, nil
	}
	return "", fmt.Errorf("unknown privacy preset %q", s)
}

// ValidateRounds checks that rounds is within the supported range.
func ValidateRounds(rounds int) error {
	if rounds < MinRounds || rounds > MaxRounds {
		return fmt.Errorf("rounds must be between %d and %d", MinRounds,
			MaxRounds)
	}
	return nil
}
