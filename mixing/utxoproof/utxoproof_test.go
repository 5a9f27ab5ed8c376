// Copyright (c) 2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package utxoproof

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// genSecp256k1KeyPair generates and returns a new secp256k1 key pair.
func genSecp256k1KeyPair(tb testing.TB) *Secp256k1KeyPair {
	privKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		tb.Fatalf("failed to generate key pair: %v", err)
	}
	return &Secp256k1KeyPair{
		Pub:  privKey.PubKey().SerializeCompressed(),
		Priv: privKey,
	}
}

func TestUtxoProof(t *testing.T) {
	keyPair := genSecp256k1KeyPair(t)
	identity := genSecp256k1KeyPair(t).Pub
	other := genSecp256k1KeyPair(t).Pub

	proof, err := keyPair.SignUtxoProof(identity)
	if err != nil {
		t.Fatalf("failed to sign utxo proof: %v", err)
	}

	tests := []struct {
		name     string
		pubkey   []byte
		proof    []byte
		identity []byte
		want     bool
	}{{
		name:     "valid",
		pubkey:   keyPair.Pub,
		proof:    proof,
		identity: identity,
		want:     true,
	}, {
		name:     "other identity",
		pubkey:   keyPair.Pub,
		proof:    proof,
		identity: other,
		want:     false,
	}, {
		name:     "other pubkey",
		pubkey:   other,
		proof:    proof,
		identity: identity,
		want:     false,
	}, {
		name:     "malformed proof",
		pubkey:   keyPair.Pub,
		proof:    proof[:32],
		identity: identity,
		want:     false,
	}, {
		name:     "malformed pubkey",
		pubkey:   []byte{2, 1},
		proof:    proof,
		identity: identity,
		want:     false,
	}}

	for _, test := range tests {
		got := ValidateSecp256k1P2PKH(test.pubkey, test.proof, test.identity)
		if got != test.want {
			t.Errorf("%s: got: %v want: %v", test.name, got, test.want)
		}
	}
}

// BenchmarkValidateSecp256k1P2PKH benchmarks how long it takes to validate a
// utxo proof along with the number of allocations needed.
func BenchmarkValidateSecp256k1P2PKH(b *testing.B) {
	keyPair := genSecp256k1KeyPair(b)
	identity := genSecp256k1KeyPair(b).Pub
	proof, err := keyPair.SignUtxoProof(identity)
	if err != nil {
		b.Fatalf("failed to sign utxo proof: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if !ValidateSecp256k1P2PKH(keyPair.Pub, proof, identity) {
			b.Fatal("invalid proof")
		}
	}
}
