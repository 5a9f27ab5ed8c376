// Copyright (c) 2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinselect

import (
	"bytes"
	"sort"
	"sync"

	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/wire"
	"github.com/drkcore/darksend/mixing"
)

// State describes whether an output is reserved by an in-progress spend.
type State int

// Output reservation states.
const (
	Free State = iota
	ReservedForSend
	ReservedForMix
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case ReservedForSend:
		return "reserved for send"
	case ReservedForMix:
		return "reserved for mix"
	}
	return "unknown"
}

// WalletLock describes how far the wallet is unlocked.
type WalletLock int

// Wallet lock states.
const (
	WalletLocked WalletLock = iota
	WalletUnlockedMixingOnly
	WalletUnlocked
)

func (l WalletLock) String() string {
	switch l {
	case WalletLocked:
		return "locked"
	case WalletUnlockedMixingOnly:
		return "unlocked for mixing only"
	case WalletUnlocked:
		return "unlocked"
	}
	return "unknown"
}

// UnspentOutput is a wallet output available to the selector.
type UnspentOutput struct {
	OutPoint      wire.OutPoint
	Amount        dcrutil.Amount
	PkScript      []byte
	Confirmations int32
	Rounds        int
	Change        bool
	Coinbase      bool
	State         State

	// Locked is set for outputs the user excluded with coin control.
	Locked bool
}

// RoundsStore persists the mixing rounds counters of outputs.
type RoundsStore interface {
	PutRounds(op wire.OutPoint, rounds int) error
	DeleteRounds(op wire.OutPoint) error
}

// Set is the collection of a wallet's unspent outputs.  It tracks which
// outputs are reserved by an in-progress send or mix and how many mixing
// rounds each output has been through.  It is safe for concurrent access.
type Set struct {
	mtx     sync.Mutex
	catalog *mixing.Catalog
	store   RoundsStore
	outputs map[wire.OutPoint]*UnspentOutput
	rounds  map[wire.OutPoint]int
}

// NewSet returns an empty set classifying outputs against catalog.  The
// store may be nil.
func NewSet(catalog *mixing.Catalog, store RoundsStore) *Set {
	return &Set{
		catalog: catalog,
		store:   store,
		outputs: make(map[wire.OutPoint]*UnspentOutput),
		rounds:  make(map[wire.OutPoint]int),
	}
}

// Catalog returns the denomination catalog of the set.
func (s *Set) Catalog() *mixing.Catalog {
	return s.catalog
}

// LoadRounds records the rounds counter of an output that may not have been
// added yet.  It is used to restore persisted counters.
func (s *Set) LoadRounds(op wire.OutPoint, rounds int) {
	s.mtx.Lock()
	s.rounds[op] = rounds
	if u, ok := s.outputs[op]; ok {
		u.Rounds = rounds
	}
	s.mtx.Unlock()
}

// Add inserts or updates an output.  A previously recorded rounds counter
// for the outpoint takes precedence over u.Rounds, and the reservation state
// of an existing output is kept.
func (s *Set) Add(u UnspentOutput) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if r, ok := s.rounds[u.OutPoint]; ok {
		u.Rounds = r
	}
	if old, ok := s.outputs[u.OutPoint]; ok {
		u.State = old.State
		u.Locked = old.Locked
	} else {
		u.State = Free
	}
	s.outputs[u.OutPoint] = &u
}

// Spend removes outputs that were spent, along with any reservation and
// rounds counter.  Unknown outpoints are ignored.
func (s *Set) Spend(ops ...wire.OutPoint) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	for _, op := range ops {
		delete(s.outputs, op)
		if _, ok := s.rounds[op]; ok {
			delete(s.rounds, op)
			if s.store != nil {
				if err := s.store.DeleteRounds(op); err != nil {
					log.Errorf("Failed to delete rounds of %v: %v", op, err)
				}
			}
		}
	}
}

// Get returns the output for op.
func (s *Set) Get(op wire.OutPoint) (UnspentOutput, bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	u, ok := s.outputs[op]
	if !ok {
		return UnspentOutput{}, false
	}
	return *u, true
}

// Len returns the number of outputs.
func (s *Set) Len() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return len(s.outputs)
}

// Outputs returns a snapshot of every output ordered by outpoint.
func (s *Set) Outputs() []UnspentOutput {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	us := make([]UnspentOutput, 0, len(s.outputs))
	for _, u := range s.outputs {
		us = append(us, *u)
	}
	sort.Slice(us, func(i, j int) bool {
		return lessOutPoint(&us[i].OutPoint, &us[j].OutPoint)
	})
	return us
}

func lessOutPoint(a, b *wire.OutPoint) bool {
	if c := bytes.Compare(a.Hash[:], b.Hash[:]); c != 0 {
		return c < 0
	}
	if a.Index != b.Index {
		return a.Index < b.Index
	}
	return a.Tree < b.Tree
}

// Reserve moves every listed output from Free to state.  The reservation is
// all or nothing: when any output is unknown or already reserved, no output
// changes state.
func (s *Set) Reserve(state State, ops ...wire.OutPoint) error {
	if state == Free {
		s.Release(ops...)
		return nil
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	for _, op := range ops {
		u, ok := s.outputs[op]
		if !ok {
			return mixing.RuleErrorf(mixing.ErrResourceExhaustion,
				"output %v is not in the wallet", op)
		}
		if u.State != Free {
			return mixing.RuleErrorf(mixing.ErrResourceExhaustion,
				"output %v is already %v", op, u.State)
		}
	}
	for _, op := range ops {
		s.outputs[op].State = state
	}
	return nil
}

// Release returns outputs to the Free state.  Releasing an output that is
// already free or no longer in the set has no effect.
func (s *Set) Release(ops ...wire.OutPoint) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	for _, op := range ops {
		if u, ok := s.outputs[op]; ok {
			u.State = Free
		}
	}
}

// LockUnspent excludes outputs from automatic selection.
func (s *Set) LockUnspent(ops ...wire.OutPoint) {
	s.setLocked(true, ops)
}

// UnlockUnspent returns outputs excluded by LockUnspent to automatic
// selection.
func (s *Set) UnlockUnspent(ops ...wire.OutPoint) {
	s.setLocked(false, ops)
}

func (s *Set) setLocked(locked bool, ops []wire.OutPoint) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	for _, op := range ops {
		if u, ok := s.outputs[op]; ok {
			u.Locked = locked
		}
	}
}

// SetRounds records the number of mixing rounds of an output.  The output
// need not be in the set yet, as outputs created by a mix are often added
// after the mix completes.
func (s *Set) SetRounds(op wire.OutPoint, rounds int) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.rounds[op] = rounds
	if u, ok := s.outputs[op]; ok {
		u.Rounds = rounds
	}
	if s.store != nil {
		return s.store.PutRounds(op, rounds)
	}
	return nil
}

// Rounds returns the mixing rounds counter of an output.
func (s *Set) Rounds(op wire.OutPoint) int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.rounds[op]
}

// UpdateConfirmations refreshes the confirmation counts of every output
// using confs.  Outputs for which confs reports false are removed.
func (s *Set) UpdateConfirmations(confs func(op wire.OutPoint) (int32, bool)) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	for op, u := range s.outputs {
		n, ok := confs(op)
		if !ok {
			delete(s.outputs, op)
			continue
		}
		u.Confirmations = n
	}
}

// Balances summarizes the outputs of a set.
type Balances struct {
	Total          dcrutil.Amount
	Unconfirmed    dcrutil.Amount
	Immature       dcrutil.Amount
	Denominated    dcrutil.Amount
	NonDenominated dcrutil.Amount

	// Anonymized is the value of denominated outputs that completed at
	// least the requested number of rounds.
	Anonymized dcrutil.Amount

	// Reserved is the value of outputs reserved by in-progress spends.
	Reserved dcrutil.Amount
}

// Balances returns the balances of the set, counting outputs with at least
// rounds mixing rounds as anonymized.  Coinbase outputs with fewer than
// maturity confirmations are immature.
func (s *Set) Balances(rounds int, maturity int32) Balances {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	var b Balances
	for _, u := range s.outputs {
		b.Total += u.Amount
		switch {
		case u.Coinbase && u.Confirmations < maturity:
			b.Immature += u.Amount
		case u.Confirmations == 0:
			b.Unconfirmed += u.Amount
		}
		if s.catalog.IsDenominated(u.Amount) {
			b.Denominated += u.Amount
			if u.Rounds >= rounds {
				b.Anonymized += u.Amount
			}
		} else {
			b.NonDenominated += u.Amount
		}
		if u.State != Free {
			b.Reserved += u.Amount
		}
	}
	return b
}
