// Copyright (c) 2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package instantx

import (
	"encoding/binary"
	"hash"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/dcrd/wire"
	"github.com/drkcore/darksend/mixing"
)

// Lock protocol commands.
const (
	CmdLockRequest = "ix"
	CmdLockVote    = "txlvote"
)

var (
	_ mixing.Message       = (*MsgLockRequest)(nil)
	_ mixing.SignedMessage = (*MsgLockVote)(nil)
)

// MsgLockRequest asks the quorum of a transaction to lock its inputs.
type MsgLockRequest struct {
	Tx *wire.MsgTx
}

// Command returns the protocol command string for the message.
func (m *MsgLockRequest) Command() string { return CmdLockRequest }

// Hash returns the message hash.
func (m *MsgLockRequest) Hash() chainhash.Hash {
	h := blake256.New()
	h.Write([]byte(CmdLockRequest))
	if m.Tx != nil {
		// Writes to a hash never fail.
		_ = m.Tx.Serialize(h)
	}
	var hash chainhash.Hash
	copy(hash[:], h.Sum(nil))
	return hash
}

// MsgLockVote is a quorum member's attestation about a transaction.  A
// regular vote promises that the masternode will not accept a conflicting
// spend of the transaction's inputs.  A conflict vote reports that an input
// is already bound to ConflictTx.
type MsgLockVote struct {
	TxHash     chainhash.Hash
	Masternode wire.OutPoint
	PubKey     [33]byte
	Conflict   bool
	ConflictTx chainhash.Hash
	Signature  [64]byte
}

// Command returns the protocol command string for the message.
func (m *MsgLockVote) Command() string { return CmdLockVote }

// Pub returns the masternode public key.
func (m *MsgLockVote) Pub() []byte { return m.PubKey[:] }

// Sig returns the masternode signature.
func (m *MsgLockVote) Sig() []byte { return m.Signature[:] }

// Sid returns the transaction hash, which scopes the signature.
func (m *MsgLockVote) Sid() []byte { return m.TxHash[:] }

// WriteSignedData writes the signed fields of the message to h.
func (m *MsgLockVote) WriteSignedData(h hash.Hash) {
	h.Write(m.TxHash[:])
	h.Write(m.Masternode.Hash[:])
	h.Write(binary.BigEndian.AppendUint32(nil, m.Masternode.Index))
	h.Write([]byte{byte(m.Masternode.Tree)})
	h.Write(m.PubKey[:])
	if m.Conflict {
		h.Write([]byte{1})
		h.Write(m.ConflictTx[:])
	} else {
		h.Write([]byte{0})
	}
}

// Hash returns the message hash.
func (m *MsgLockVote) Hash() chainhash.Hash {
	h := blake256.New()
	h.Write([]byte(CmdLockVote))
	m.WriteSignedData(h)
	h.Write(m.Signature[:])
	var hash chainhash.Hash
	copy(hash[:], h.Sum(nil))
	return hash
}
