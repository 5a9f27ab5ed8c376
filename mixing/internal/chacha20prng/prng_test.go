// Copyright (c) 2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chacha20prng

import (
	"bytes"
	"testing"
)

func TestDeterministic(t *testing.T) {
	seed := make([]byte, SeedSize)
	seed[0] = 1

	a := New(seed, 0).Next(64)
	b := New(seed, 0).Next(64)
	if !bytes.Equal(a, b) {
		t.Fatalf("same seed produced different streams")
	}

	c := New(seed, 1).Next(64)
	if bytes.Equal(a, c) {
		t.Fatalf("different stream numbers produced the same stream")
	}

	buf := make([]byte, 64)
	if _, err := New(seed, 0).Read(buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, buf) {
		t.Fatalf("Read and Next disagree")
	}
}

func TestUint32n(t *testing.T) {
	r := New(make([]byte, SeedSize), 0)
	for _, n := range []uint32{1, 2, 3, 7, 10, 1 << 31, 1<<32 - 1} {
		for i := 0; i < 100; i++ {
			if v := r.Uint32n(n); v >= n {
				t.Fatalf("Uint32n(%d) returned out of range value %d", n, v)
			}
		}
	}

	// Every value of a small range should be drawn.
	seen := make(map[uint32]bool)
	for i := 0; i < 1000; i++ {
		seen[r.Uint32n(5)] = true
	}
	if len(seen) != 5 {
		t.Fatalf("drew %d distinct values of 5", len(seen))
	}
}

func TestBadSeedPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for short seed")
		}
	}()
	New(make([]byte, 16), 0)
}
