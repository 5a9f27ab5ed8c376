// Copyright (c) 2024-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mixclient

import (
	"errors"

	"github.com/drkcore/darksend/mixing"
)

var (
	// ErrStopped is returned by StartMixing when mixing was stopped
	// between rounds.
	ErrStopped = errors.New("mixing stopped")

	// ErrRejected is returned when a masternode rejects a contribution.
	ErrRejected = errors.New("contribution rejected")

	// ErrSessionFailed is returned when the session of a round failed.
	ErrSessionFailed = errors.New("mixing session failed")

	// ErrTooManyFailures is returned by StartMixing after the configured
	// number of failed rounds.
	ErrTooManyFailures = errors.New("too many failed mixing rounds")

	// errBackingOff is returned when every known masternode recently
	// failed too many sessions.
	errBackingOff = errors.New("all masternodes are backing off")

	// errAwaitingConfirmation is returned when the only mixable funds of
	// the wallet are still unconfirmed.
	errAwaitingConfirmation = errors.New("mixable funds are awaiting " +
		"confirmation")

	// ErrBadProposal is returned when a masternode proposes a transaction
	// that does not include the contribution exactly.  The round is
	// abandoned without signing.
	ErrBadProposal = mixing.RuleError{
		Description: "masternode proposed an invalid transaction",
		Err:         mixing.ErrProtocolViolation,
	}
)

// fatal returns whether err ends StartMixing instead of being retried with
// another masternode.
func fatal(err error) bool {
	return errors.Is(err, mixing.ErrResourceExhaustion) ||
		errors.Is(err, mixing.ErrWalletLocked) ||
		errors.Is(err, mixing.ErrNoMasternodes) ||
		errors.Is(err, ErrStopped)
}
