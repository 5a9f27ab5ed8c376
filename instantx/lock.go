// Copyright (c) 2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package instantx

import (
	"fmt"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/wire"
	"github.com/drkcore/darksend/masternode"
)

// TransactionLock aggregates the votes of a transaction's quorum.  Vote
// signatures are checked by the Manager before they are added.  It is not
// safe for concurrent access.
type TransactionLock struct {
	TxHash    chainhash.Hash
	Inputs    []wire.OutPoint
	Quorum    []wire.OutPoint
	Threshold int

	// Created is when the request was first seen until the quorum locks
	// the transaction, and the time of locking afterwards.
	Created time.Time

	votes map[wire.OutPoint]*MsgLockVote
}

// NewTransactionLock returns an empty lock of tx for the given quorum.
func NewTransactionLock(tx *wire.MsgTx, quorum []masternode.Entry, now time.Time) *TransactionLock {
	l := &TransactionLock{
		TxHash:    tx.TxHash(),
		Inputs:    make([]wire.OutPoint, len(tx.TxIn)),
		Quorum:    make([]wire.OutPoint, len(quorum)),
		Threshold: Threshold(len(quorum)),
		Created:   now,
		votes:     make(map[wire.OutPoint]*MsgLockVote),
	}
	for i, in := range tx.TxIn {
		l.Inputs[i] = in.PreviousOutPoint
	}
	for i := range quorum {
		l.Quorum[i] = quorum[i].ID
	}
	return l
}

// InQuorum returns whether the masternode id is a member of the quorum.
func (l *TransactionLock) InQuorum(id wire.OutPoint) bool {
	for i := range l.Quorum {
		if l.Quorum[i] == id {
			return true
		}
	}
	return false
}

// AddSignature adds a regular vote and returns whether it was new.
func (l *TransactionLock) AddSignature(v *MsgLockVote) (bool, error) {
	switch {
	case v.TxHash != l.TxHash:
		return false, fmt.Errorf("%w: %v", ErrWrongTx, v.TxHash)
	case !l.InQuorum(v.Masternode):
		return false, fmt.Errorf("%w: %v", ErrNotInQuorum, v.Masternode)
	case v.Conflict:
		return false, fmt.Errorf("conflict vote from %v is not a signature",
			v.Masternode)
	}
	if _, ok := l.votes[v.Masternode]; ok {
		return false, nil
	}
	l.votes[v.Masternode] = v
	return true, nil
}

// RemoveSignature removes the vote of a masternode and returns whether it
// was present.
func (l *TransactionLock) RemoveSignature(id wire.OutPoint) bool {
	_, ok := l.votes[id]
	delete(l.votes, id)
	return ok
}

// Signatures returns the number of votes.
func (l *TransactionLock) Signatures() int {
	return len(l.votes)
}

// IsLocked returns whether strictly more than half of the quorum voted.
func (l *TransactionLock) IsLocked() bool {
	return len(l.Quorum) > 0 && len(l.votes) >= l.Threshold
}
