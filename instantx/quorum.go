// Copyright (c) 2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package instantx

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/dcrd/wire"
	"github.com/drkcore/darksend/masternode"
)

// DefaultQuorumSize is the number of masternodes asked to lock a
// transaction.
const DefaultQuorumSize = 10

// quorumScore ranks a masternode for a transaction.  The score can not be
// known before the transaction exists.
func quorumScore(txHash *chainhash.Hash, id *wire.OutPoint) [32]byte {
	h := blake256.New()
	h.Write(txHash[:])
	h.Write(id.Hash[:])
	h.Write(binary.BigEndian.AppendUint32(nil, id.Index))
	h.Write([]byte{byte(id.Tree)})
	return *(*[32]byte)(h.Sum(nil))
}

// SelectQuorum returns the size masternodes with the lowest scores for
// txHash, lowest first.  Entries without a public key are not eligible.
// Every node with the same registry view selects the same quorum.
func SelectQuorum(txHash chainhash.Hash, entries []masternode.Entry, size int) []masternode.Entry {
	type scored struct {
		score [32]byte
		entry masternode.Entry
	}
	candidates := make([]scored, 0, len(entries))
	for _, e := range entries {
		if e.PubKey == nil {
			continue
		}
		candidates = append(candidates, scored{quorumScore(&txHash, &e.ID), e})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return bytes.Compare(candidates[i].score[:], candidates[j].score[:]) < 0
	})
	if len(candidates) > size {
		candidates = candidates[:size]
	}
	quorum := make([]masternode.Entry, len(candidates))
	for i := range candidates {
		quorum[i] = candidates[i].entry
	}
	return quorum
}

// Threshold returns the number of votes that lock a transaction with a
// quorum of n masternodes: strictly more than half.
func Threshold(n int) int {
	return n/2 + 1
}
