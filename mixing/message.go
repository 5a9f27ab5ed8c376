// Copyright (c) 2024-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mixing

import (
	"encoding/binary"
	"hash"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/dcrd/wire"
)

// Commands of the mixing messages.
const (
	CmdSessionQueue       = "dsq"
	CmdContribution       = "dsi"
	CmdContributionStatus = "dssu"
	CmdProposedTx         = "dsf"
	CmdPartialSig         = "dss"
	CmdSessionStatus      = "dsc"
)

// Message is a protocol message routed between peers.  Mixing messages and
// transaction lock messages both satisfy it.
type Message interface {
	Command() string
	Hash() chainhash.Hash
}

// SignedMessage is a signed mixing message.
type SignedMessage interface {
	Message
	Signed
}

var (
	_ SignedMessage = (*MsgSessionQueue)(nil)
	_ SignedMessage = (*MsgContribution)(nil)
	_ SignedMessage = (*MsgContributionStatus)(nil)
	_ SignedMessage = (*MsgProposedTx)(nil)
	_ SignedMessage = (*MsgPartialSig)(nil)
	_ SignedMessage = (*MsgSessionStatus)(nil)
)

func messageHash(m Signed) chainhash.Hash {
	h := blake256.New()
	h.Write([]byte(m.Command()))
	m.WriteSignedData(h)
	h.Write(m.Sig())
	var hash chainhash.Hash
	copy(hash[:], h.Sum(nil))
	return hash
}

func writeUint32(h hash.Hash, v uint32) {
	h.Write(binary.BigEndian.AppendUint32(make([]byte, 0, 4), v))
}

func writeUint64(h hash.Hash, v uint64) {
	h.Write(binary.BigEndian.AppendUint64(make([]byte, 0, 8), v))
}

func writeVarBytes(h hash.Hash, b []byte) {
	writeUint32(h, uint32(len(b)))
	h.Write(b)
}

func writeOutPoint(h hash.Hash, op *wire.OutPoint) {
	h.Write(op.Hash[:])
	writeUint32(h, op.Index)
	h.Write([]byte{byte(op.Tree)})
}

func writeTxOut(h hash.Hash, out *wire.TxOut) {
	writeUint64(h, uint64(out.Value))
	h.Write(binary.BigEndian.AppendUint16(make([]byte, 0, 2), out.Version))
	writeVarBytes(h, out.PkScript)
}

func writeTx(h hash.Hash, tx *wire.MsgTx) {
	if tx == nil {
		writeUint32(h, 0)
		return
	}
	writeUint32(h, uint32(tx.SerializeSize()))
	// Writes to a hash never fail.
	_ = tx.Serialize(h)
}

// MsgSessionQueue advertises a session that is open for contributions of a
// denomination.  It is signed by the coordinating masternode.  The session ID
// is derived from the masternode key, the denomination and Nonce.
type MsgSessionQueue struct {
	SessionID  [32]byte
	Nonce      [32]byte
	Denom      Denomination
	Time       int64
	Masternode [33]byte
	Signature  [64]byte
}

// Command returns the protocol command string for the message.
func (m *MsgSessionQueue) Command() string { return CmdSessionQueue }

// Pub returns the masternode public key.
func (m *MsgSessionQueue) Pub() []byte { return m.Masternode[:] }

// Sig returns the masternode signature.
func (m *MsgSessionQueue) Sig() []byte { return m.Signature[:] }

// Sid returns the session ID.
func (m *MsgSessionQueue) Sid() []byte { return m.SessionID[:] }

// Hash returns the message hash.
func (m *MsgSessionQueue) Hash() chainhash.Hash { return messageHash(m) }

// WriteSignedData writes the signed fields of the message to h.
func (m *MsgSessionQueue) WriteSignedData(h hash.Hash) {
	h.Write(m.SessionID[:])
	h.Write(m.Nonce[:])
	writeUint32(h, uint32(m.Denom))
	writeUint64(h, uint64(m.Time))
	h.Write(m.Masternode[:])
}

// ContributedInput is a denominated output spent by a contribution, together
// with the public key it pays to and a proof that the contributor controls
// that key.
type ContributedInput struct {
	OutPoint wire.OutPoint
	PubKey   [33]byte
	Proof    [64]byte
}

// MsgContribution is a participant's entry into a session.  It is signed by
// an ephemeral identity key which also signs the participant's later partial
// signature message.
type MsgContribution struct {
	Identity   [33]byte
	Signature  [64]byte
	Denom      Denomination
	Inputs     []ContributedInput
	Outputs    []*wire.TxOut
	Collateral *wire.MsgTx
}

// Command returns the protocol command string for the message.
func (m *MsgContribution) Command() string { return CmdContribution }

// Pub returns the participant identity.
func (m *MsgContribution) Pub() []byte { return m.Identity[:] }

// Sig returns the identity signature.
func (m *MsgContribution) Sig() []byte { return m.Signature[:] }

// Sid returns nil.  Contributions are not bound to a session until the
// masternode accepts them.
func (m *MsgContribution) Sid() []byte { return nil }

// Hash returns the message hash.
func (m *MsgContribution) Hash() chainhash.Hash { return messageHash(m) }

// WriteSignedData writes the signed fields of the message to h.
func (m *MsgContribution) WriteSignedData(h hash.Hash) {
	h.Write(m.Identity[:])
	writeUint32(h, uint32(m.Denom))
	writeUint32(h, uint32(len(m.Inputs)))
	for i := range m.Inputs {
		in := &m.Inputs[i]
		writeOutPoint(h, &in.OutPoint)
		h.Write(in.PubKey[:])
		h.Write(in.Proof[:])
	}
	writeUint32(h, uint32(len(m.Outputs)))
	for _, out := range m.Outputs {
		writeTxOut(h, out)
	}
	writeTx(h, m.Collateral)
}

// MsgContributionStatus reports whether a masternode accepted a
// contribution.
type MsgContributionStatus struct {
	SessionID  [32]byte
	Identity   [33]byte
	Accepted   bool
	Reason     string
	Masternode [33]byte
	Signature  [64]byte
}

// Command returns the protocol command string for the message.
func (m *MsgContributionStatus) Command() string { return CmdContributionStatus }

// Pub returns the masternode public key.
func (m *MsgContributionStatus) Pub() []byte { return m.Masternode[:] }

// Sig returns the masternode signature.
func (m *MsgContributionStatus) Sig() []byte { return m.Signature[:] }

// Sid returns the session ID, which is zero for rejected contributions.
func (m *MsgContributionStatus) Sid() []byte { return m.SessionID[:] }

// Hash returns the message hash.
func (m *MsgContributionStatus) Hash() chainhash.Hash { return messageHash(m) }

// WriteSignedData writes the signed fields of the message to h.
func (m *MsgContributionStatus) WriteSignedData(h hash.Hash) {
	h.Write(m.SessionID[:])
	h.Write(m.Identity[:])
	if m.Accepted {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	writeVarBytes(h, []byte(m.Reason))
	h.Write(m.Masternode[:])
}

// MsgProposedTx carries the unsigned joint transaction of a session.
type MsgProposedTx struct {
	SessionID  [32]byte
	Tx         *wire.MsgTx
	Masternode [33]byte
	Signature  [64]byte
}

// Command returns the protocol command string for the message.
func (m *MsgProposedTx) Command() string { return CmdProposedTx }

// Pub returns the masternode public key.
func (m *MsgProposedTx) Pub() []byte { return m.Masternode[:] }

// Sig returns the masternode signature.
func (m *MsgProposedTx) Sig() []byte { return m.Signature[:] }

// Sid returns the session ID.
func (m *MsgProposedTx) Sid() []byte { return m.SessionID[:] }

// Hash returns the message hash.
func (m *MsgProposedTx) Hash() chainhash.Hash { return messageHash(m) }

// WriteSignedData writes the signed fields of the message to h.
func (m *MsgProposedTx) WriteSignedData(h hash.Hash) {
	h.Write(m.SessionID[:])
	writeTx(h, m.Tx)
	h.Write(m.Masternode[:])
}

// MsgPartialSig carries a participant's signatures for its own inputs of
// the joint transaction.  It must be signed by the identity of the
// participant's contribution.
type MsgPartialSig struct {
	SessionID [32]byte
	Identity  [33]byte
	Signature [64]byte
	Tx        *wire.MsgTx
}

// Command returns the protocol command string for the message.
func (m *MsgPartialSig) Command() string { return CmdPartialSig }

// Pub returns the participant identity.
func (m *MsgPartialSig) Pub() []byte { return m.Identity[:] }

// Sig returns the identity signature.
func (m *MsgPartialSig) Sig() []byte { return m.Signature[:] }

// Sid returns the session ID.
func (m *MsgPartialSig) Sid() []byte { return m.SessionID[:] }

// Hash returns the message hash.
func (m *MsgPartialSig) Hash() chainhash.Hash { return messageHash(m) }

// WriteSignedData writes the signed fields of the message to h.
func (m *MsgPartialSig) WriteSignedData(h hash.Hash) {
	h.Write(m.SessionID[:])
	h.Write(m.Identity[:])
	writeTx(h, m.Tx)
}

// MsgSessionStatus announces the final state of a session to its
// participants.
type MsgSessionStatus struct {
	SessionID  [32]byte
	Complete   bool
	TxHash     chainhash.Hash
	Reason     string
	Masternode [33]byte
	Signature  [64]byte
}

// Command returns the protocol command string for the message.
func (m *MsgSessionStatus) Command() string { return CmdSessionStatus }

// Pub returns the masternode public key.
func (m *MsgSessionStatus) Pub() []byte { return m.Masternode[:] }

// Sig returns the masternode signature.
func (m *MsgSessionStatus) Sig() []byte { return m.Signature[:] }

// Sid returns the session ID.
func (m *MsgSessionStatus) Sid() []byte { return m.SessionID[:] }

// Hash returns the message hash.
func (m *MsgSessionStatus) Hash() chainhash.Hash { return messageHash(m) }

// WriteSignedData writes the signed fields of the message to h.
func (m *MsgSessionStatus) WriteSignedData(h hash.Hash) {
	h.Write(m.SessionID[:])
	if m.Complete {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(m.TxHash[:])
	writeVarBytes(h, []byte(m.Reason))
	h.Write(m.Masternode[:])
}
