// Copyright (c) 2023-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mixing

import (
	"bytes"
	"sort"

	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/dcrd/wire"
	"github.com/drkcore/darksend/mixing/internal/chacha20prng"
)

// DeriveSessionID creates a session identifier from the coordinating
// masternode key, the session denomination and a random nonce.
func DeriveSessionID(masternode []byte, denom Denomination, nonce []byte) [32]byte {
	h := blake256.New()
	h.Write([]byte("darksend-session"))
	h.Write(masternode)
	writeUint32(h, uint32(denom))
	h.Write(nonce)
	return *(*[32]byte)(h.Sum(nil))
}

func compareOutPoints(a, b *wire.OutPoint) int {
	if c := bytes.Compare(a.Hash[:], b.Hash[:]); c != 0 {
		return c
	}
	switch {
	case a.Index < b.Index:
		return -1
	case a.Index > b.Index:
		return 1
	}
	switch {
	case a.Tree < b.Tree:
		return -1
	case a.Tree > b.Tree:
		return 1
	}
	return 0
}

func compareTxOuts(a, b *wire.TxOut) int {
	switch {
	case a.Value < b.Value:
		return -1
	case a.Value > b.Value:
		return 1
	case a.Version < b.Version:
		return -1
	case a.Version > b.Version:
		return 1
	}
	return bytes.Compare(a.PkScript, b.PkScript)
}

// orderingSeed sorts the inputs and outputs of tx lexicographically and
// returns the hash of the sorted contents.
func orderingSeed(tx *wire.MsgTx) [32]byte {
	sort.Slice(tx.TxIn, func(i, j int) bool {
		return compareOutPoints(&tx.TxIn[i].PreviousOutPoint,
			&tx.TxIn[j].PreviousOutPoint) == -1
	})
	sort.SliceStable(tx.TxOut, func(i, j int) bool {
		return compareTxOuts(tx.TxOut[i], tx.TxOut[j]) == -1
	})

	h := blake256.New()
	h.Write([]byte("darksend-order"))
	writeUint32(h, uint32(len(tx.TxIn)))
	for _, in := range tx.TxIn {
		writeOutPoint(h, &in.PreviousOutPoint)
		writeUint64(h, uint64(in.ValueIn))
	}
	writeUint32(h, uint32(len(tx.TxOut)))
	for _, out := range tx.TxOut {
		writeTxOut(h, out)
	}
	return *(*[32]byte)(h.Sum(nil))
}

// OrderTx performs an in-place reordering of the inputs and outputs of a
// joint transaction.  The order is a ChaCha20 shuffle keyed by the sorted
// transaction contents, so it does not depend on the order in which
// contributions were received and can not be predicted before every
// contribution is known.  Returns the ordering seed.
func OrderTx(tx *wire.MsgTx) [32]byte {
	seed := orderingSeed(tx)
	prng := chacha20prng.New(seed[:], 0)

	for i := len(tx.TxIn) - 1; i > 0; i-- {
		j := prng.Uint32n(uint32(i + 1))
		tx.TxIn[i], tx.TxIn[j] = tx.TxIn[j], tx.TxIn[i]
	}
	for i := len(tx.TxOut) - 1; i > 0; i-- {
		j := prng.Uint32n(uint32(i + 1))
		tx.TxOut[i], tx.TxOut[j] = tx.TxOut[j], tx.TxOut[i]
	}

	return seed
}

// ValidateOrder checks whether the inputs and outputs of a proposed joint
// transaction are in the order produced by OrderTx.
func ValidateOrder(tx *wire.MsgTx) error {
	ordered := tx.Copy()
	OrderTx(ordered)
	for i := range tx.TxIn {
		a := &tx.TxIn[i].PreviousOutPoint
		b := &ordered.TxIn[i].PreviousOutPoint
		if compareOutPoints(a, b) != 0 {
			return errInvalidOrder
		}
	}
	for i := range tx.TxOut {
		if compareTxOuts(tx.TxOut[i], ordered.TxOut[i]) != 0 {
			return errInvalidOrder
		}
	}
	return nil
}

// ValidateSessionID checks that sid was derived from the masternode key,
// denomination and nonce.
func ValidateSessionID(sid [32]byte, masternode []byte, denom Denomination, nonce []byte) error {
	if DeriveSessionID(masternode, denom, nonce) != sid {
		return errInvalidSessionID
	}
	return nil
}
