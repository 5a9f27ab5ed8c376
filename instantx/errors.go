// Copyright (c) 2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package instantx

import (
	"github.com/drkcore/darksend/mixing"
)

func violation(desc string) error {
	return mixing.RuleError{Description: desc, Err: mixing.ErrProtocolViolation}
}

var (
	// ErrEmptyTx is returned when a lock is requested for a transaction
	// without inputs.
	ErrEmptyTx = violation("transaction spends no inputs")

	// ErrUnknownMasternode is returned when a vote names a masternode
	// that is not in the registry.
	ErrUnknownMasternode = violation("vote from unknown masternode")

	// ErrInvalidVote is returned when a vote is not signed by the key of
	// the masternode it names.
	ErrInvalidVote = violation("invalid vote signature")

	// ErrNotInQuorum is returned when a vote is cast by a masternode
	// outside the quorum of the transaction.
	ErrNotInQuorum = violation("masternode is not in the quorum")

	// ErrWrongTx is returned when a vote is added to the lock of a
	// different transaction.
	ErrWrongTx = violation("vote for a different transaction")
)
