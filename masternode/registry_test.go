// Copyright (c) 2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package masternode

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/wire"
)

func testEntry(t *testing.T, n byte, proto uint32, seen time.Time) Entry {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	return Entry{
		ID:              wire.OutPoint{Hash: [32]byte{n}},
		Addr:            string([]byte{'m', 'n', '0' + n}),
		PubKey:          priv.PubKey(),
		ProtocolVersion: proto,
		LastSeen:        seen,
	}
}

func TestRegistryUpdate(t *testing.T) {
	start := time.Unix(1700000000, 0)
	r := NewRegistry(time.Hour)
	r.now = func() time.Time { return start }

	e := testEntry(t, 1, 70, start)
	if !r.Update(e) {
		t.Fatal("new entry not reported as added")
	}
	v := r.Version()
	if r.Update(e) {
		t.Fatal("existing entry reported as added")
	}
	if r.Version() != v {
		t.Fatal("refresh with no changes bumped the version")
	}

	stale := e
	stale.LastSeen = start.Add(-time.Minute)
	stale.Addr = "elsewhere"
	r.Update(stale)
	if got, _ := r.Lookup(e.ID); got.Addr != e.Addr {
		t.Fatal("stale update replaced newer entry")
	}

	moved := e
	moved.LastSeen = start.Add(time.Minute)
	moved.Addr = "moved"
	r.Update(moved)
	if got, _ := r.Lookup(e.ID); got.Addr != "moved" {
		t.Fatalf("got addr %q", got.Addr)
	}
	if r.Version() == v {
		t.Fatal("address change did not bump the version")
	}

	if !r.Remove(e.ID) || r.Remove(e.ID) {
		t.Fatal("Remove")
	}
	if r.Count() != 0 {
		t.Fatalf("count: got: %d want: 0", r.Count())
	}
}

func TestRegistrySnapshot(t *testing.T) {
	start := time.Unix(1700000000, 0)
	r := NewRegistry(time.Hour)
	r.Update(testEntry(t, 3, 70, start))
	r.Update(testEntry(t, 1, 70, start))
	r.Update(testEntry(t, 2, 60, start))

	s := r.Snapshot(70)
	if len(s.Entries) != 2 {
		t.Fatalf("got %d entries want 2", len(s.Entries))
	}
	if s.Entries[0].ID.Hash[0] != 1 || s.Entries[1].ID.Hash[0] != 3 {
		t.Fatal("snapshot not ordered by collateral outpoint")
	}
	if s.Version != r.Version() {
		t.Fatal("snapshot version mismatch")
	}
	if _, ok := s.ByAddr("mn3"); !ok {
		t.Fatal("ByAddr did not find mn3")
	}
	if _, ok := s.ByAddr("mn2"); ok {
		t.Fatal("ByAddr found filtered entry")
	}
	if got := len(r.Snapshot(0).Entries); got != 3 {
		t.Fatalf("unfiltered snapshot: got %d want 3", got)
	}
}

func TestRegistryPrune(t *testing.T) {
	start := time.Unix(1700000000, 0)
	r := NewRegistry(time.Hour)
	r.Update(testEntry(t, 1, 70, start))
	r.Update(testEntry(t, 2, 70, start.Add(30*time.Minute)))

	if n := r.Prune(start.Add(time.Hour)); n != 0 {
		t.Fatalf("pruned %d at exact expiry", n)
	}
	if n := r.Prune(start.Add(61 * time.Minute)); n != 1 {
		t.Fatalf("pruned %d want 1", n)
	}
	if _, ok := r.Lookup(wire.OutPoint{Hash: [32]byte{2}}); !ok {
		t.Fatal("fresh entry pruned")
	}
}

func TestRegistryRunStops(t *testing.T) {
	r := NewRegistry(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Run(ctx, time.Millisecond); !errors.Is(err, context.Canceled) {
		t.Fatalf("got: %v want: %v", err, context.Canceled)
	}
}
