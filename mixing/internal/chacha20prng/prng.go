// Copyright (c) 2023-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chacha20prng

import (
	"encoding/binary"
	"strconv"

	"golang.org/x/crypto/chacha20"
)

// SeedSize is the required length of seeds for New.
const SeedSize = 32

// Reader is a deterministic ChaCha20 PRNG.  Every party that knows the seed
// draws the same stream, which lets peers independently recompute and check
// a pseudorandom transaction order.  It implements io.Reader.
type Reader struct {
	cipher *chacha20.Cipher
	buf    [4]byte
}

// New creates a ChaCha20 PRNG seeded by a 32-byte key and a stream number.
// The returned reader is not safe for concurrent access.  This will panic if
// the length of seed is not SeedSize bytes.
func New(seed []byte, stream uint32) *Reader {
	if l := len(seed); l != SeedSize {
		panic("chacha20prng: bad seed length " + strconv.Itoa(l))
	}

	nonce := make([]byte, chacha20.NonceSize)
	binary.LittleEndian.PutUint32(nonce[:4], stream)

	cipher, _ := chacha20.NewUnauthenticatedCipher(seed, nonce)
	return &Reader{cipher: cipher}
}

// Read implements io.Reader.
func (r *Reader) Read(b []byte) (int, error) {
	// Zero the source such that the destination is written with just the
	// keystream.  Destination and source are allowed to overlap (exactly).
	for i := range b {
		b[i] = 0
	}
	r.cipher.XORKeyStream(b, b)
	return len(b), nil
}

// Next returns the next n bytes from the reader.
func (r *Reader) Next(n int) []byte {
	b := make([]byte, n)
	r.cipher.XORKeyStream(b, b)
	return b
}

// Uint32 returns the next 32 bits of the stream as an integer.
func (r *Reader) Uint32() uint32 {
	r.buf = [4]byte{}
	r.cipher.XORKeyStream(r.buf[:], r.buf[:])
	return binary.LittleEndian.Uint32(r.buf[:])
}

// Uint32n returns a uniformly distributed integer in [0, n).  It panics if n
// is zero.
func (r *Reader) Uint32n(n uint32) uint32 {
	if n == 0 {
		panic("chacha20prng: Uint32n with zero bound")
	}
	// Reject the values in the final partial range.
	limit := -n % n
	for {
		v := r.Uint32()
		if v >= limit {
			return v % n
		}
	}
}
