// Copyright (c) 2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinselect

import (
	"errors"
	"sync"
	"testing"

	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/wire"
	"github.com/drkcore/darksend/mixing"
)

func op(n byte) wire.OutPoint {
	return wire.OutPoint{Hash: [32]byte{n}, Index: uint32(n)}
}

func newTestSet(amounts ...dcrutil.Amount) *Set {
	s := NewSet(mixing.DefaultCatalog, nil)
	for i, a := range amounts {
		s.Add(UnspentOutput{
			OutPoint:      op(byte(i + 1)),
			Amount:        a,
			Confirmations: 6,
		})
	}
	return s
}

type memRounds map[wire.OutPoint]int

func (m memRounds) PutRounds(op wire.OutPoint, rounds int) error {
	m[op] = rounds
	return nil
}

func (m memRounds) DeleteRounds(op wire.OutPoint) error {
	delete(m, op)
	return nil
}

func TestReserveAllOrNothing(t *testing.T) {
	s := newTestSet(1e8, 1e8, 1e8)

	if err := s.Reserve(ReservedForMix, op(2)); err != nil {
		t.Fatal(err)
	}
	err := s.Reserve(ReservedForSend, op(1), op(2), op(3))
	if !errors.Is(err, mixing.ErrResourceExhaustion) {
		t.Fatalf("got: %v want: %v", err, mixing.ErrResourceExhaustion)
	}
	for _, n := range []byte{1, 3} {
		u, _ := s.Get(op(n))
		if u.State != Free {
			t.Fatalf("output %d changed state to %v on failed reserve",
				n, u.State)
		}
	}
	err = s.Reserve(ReservedForSend, op(1), op(9))
	if err == nil {
		t.Fatal("reserved unknown output")
	}
	if u, _ := s.Get(op(1)); u.State != Free {
		t.Fatalf("output 1 changed state to %v", u.State)
	}
}

// TestReleaseIdempotent ensures that releasing outputs more than once, or
// releasing outputs that were never reserved, leaves them free.
func TestReleaseIdempotent(t *testing.T) {
	s := newTestSet(1e8, 10e8)

	if err := s.Reserve(ReservedForMix, op(1), op(2)); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		s.Release(op(1), op(2), op(7))
		for _, n := range []byte{1, 2} {
			if u, _ := s.Get(op(n)); u.State != Free {
				t.Fatalf("release %d: output %d is %v", i, n, u.State)
			}
		}
	}
	if b := s.Balances(2, 0); b.Reserved != 0 {
		t.Fatalf("reserved balance after release: %v", b.Reserved)
	}
	if err := s.Reserve(ReservedForSend, op(1), op(2)); err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
}

func TestConcurrentSelectDisjoint(t *testing.T) {
	s := NewSet(mixing.DefaultCatalog, nil)
	for i := 0; i < 100; i++ {
		s.Add(UnspentOutput{
			OutPoint:      wire.OutPoint{Index: uint32(i)},
			Amount:        1e8,
			Confirmations: 1,
		})
	}

	var mu sync.Mutex
	seen := make(map[wire.OutPoint]int)
	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				us, _, err := s.Select(3e8, Constraints{
					WalletLock: WalletUnlocked,
				})
				if err != nil {
					return
				}
				mu.Lock()
				for _, u := range us {
					seen[u.OutPoint]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for op, n := range seen {
		if n != 1 {
			t.Fatalf("output %v selected %d times", op, n)
		}
	}
	if len(seen) != 99 {
		t.Fatalf("selected %d outputs want 99", len(seen))
	}
}

func TestRoundsTracking(t *testing.T) {
	store := make(memRounds)
	s := NewSet(mixing.DefaultCatalog, store)

	// Rounds recorded before the output is known are applied on Add.
	if err := s.SetRounds(op(1), 3); err != nil {
		t.Fatal(err)
	}
	s.Add(UnspentOutput{OutPoint: op(1), Amount: 1e8, Confirmations: 1})
	if u, _ := s.Get(op(1)); u.Rounds != 3 {
		t.Fatalf("rounds: got: %d want: 3", u.Rounds)
	}
	if store[op(1)] != 3 {
		t.Fatalf("rounds not persisted")
	}

	s2 := NewSet(mixing.DefaultCatalog, nil)
	s2.LoadRounds(op(1), store[op(1)])
	s2.Add(UnspentOutput{OutPoint: op(1), Amount: 1e8})
	if got := s2.Rounds(op(1)); got != 3 {
		t.Fatalf("loaded rounds: got: %d want: 3", got)
	}

	s.Spend(op(1))
	if _, ok := s.Get(op(1)); ok {
		t.Fatal("spent output still present")
	}
	if _, ok := store[op(1)]; ok {
		t.Fatal("rounds of spent output still persisted")
	}
}

func TestBalances(t *testing.T) {
	s := NewSet(mixing.DefaultCatalog, nil)
	s.Add(UnspentOutput{OutPoint: op(1), Amount: 10e8, Confirmations: 3, Rounds: 2})
	s.Add(UnspentOutput{OutPoint: op(2), Amount: 1e8, Confirmations: 3, Rounds: 1})
	s.Add(UnspentOutput{OutPoint: op(3), Amount: 2.5e8, Confirmations: 0})
	s.Add(UnspentOutput{OutPoint: op(4), Amount: 5e8, Confirmations: 10, Coinbase: true})
	if err := s.Reserve(ReservedForMix, op(2)); err != nil {
		t.Fatal(err)
	}

	got := s.Balances(2, 256)
	want := Balances{
		Total:          18.5e8,
		Unconfirmed:    2.5e8,
		Immature:       5e8,
		Denominated:    11e8,
		NonDenominated: 7.5e8,
		Anonymized:     10e8,
		Reserved:       1e8,
	}
	if got != want {
		t.Fatalf("got: %+v want: %+v", got, want)
	}
}

func TestUpdateConfirmations(t *testing.T) {
	s := newTestSet(1e8, 10e8)
	s.UpdateConfirmations(func(o wire.OutPoint) (int32, bool) {
		if o == op(2) {
			return 0, false
		}
		return 42, true
	})
	if u, _ := s.Get(op(1)); u.Confirmations != 42 {
		t.Fatalf("confirmations: got: %d want: 42", u.Confirmations)
	}
	if _, ok := s.Get(op(2)); ok {
		t.Fatal("output reported gone is still present")
	}
	if s.Len() != 1 {
		t.Fatalf("len: got: %d want: 1", s.Len())
	}
}
