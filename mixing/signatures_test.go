// Copyright (c) 2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mixing

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/wire"
)

var (
	testPrivKey = secp256k1.PrivKeyFromBytes([]byte{31: 1})
	testPubKey  = testPrivKey.PubKey()
)

func fakeContribution() *MsgContribution {
	var id [33]byte
	copy(id[:], testPubKey.SerializeCompressed())
	return &MsgContribution{
		Identity: id,
		Denom:    Denom1,
		Inputs: []ContributedInput{{
			OutPoint: wire.OutPoint{
				Hash:  [32]byte{31: 1},
				Index: 2,
			},
			PubKey: [33]byte{0: 2, 32: 7},
			Proof:  [64]byte{31: 8},
		}},
		Outputs: []*wire.TxOut{{
			Value:    1e8,
			PkScript: PayToPubKeyHashScript(make([]byte, 20)),
		}},
		Collateral: wire.NewMsgTx(),
	}
}

func TestSignMessage(t *testing.T) {
	m := fakeContribution()

	if err := SignMessage(m, testPrivKey); err != nil {
		t.Fatalf("Failed to sign message: %v", err)
	}
	if !VerifySignedMessage(m) {
		t.Fatalf("VerifySignedMessage invalid signature %x", m.Signature[:])
	}

	// Signing is deterministic.
	sig := m.Signature
	if err := SignMessage(m, testPrivKey); err != nil {
		t.Fatalf("Failed to sign message: %v", err)
	}
	if sig != m.Signature {
		t.Fatalf("Signature changed on resign (got: %x want: %x)",
			m.Signature[:], sig[:])
	}
}

func TestVerifySignedMessageTampered(t *testing.T) {
	m := fakeContribution()
	if err := SignMessage(m, testPrivKey); err != nil {
		t.Fatalf("Failed to sign message: %v", err)
	}

	m.Outputs[0].Value++
	if VerifySignedMessage(m) {
		t.Fatal("VerifySignedMessage accepted a modified message")
	}
	m.Outputs[0].Value--

	m.Denom = Denom10
	if VerifySignedMessage(m) {
		t.Fatal("VerifySignedMessage accepted a modified denomination")
	}
	m.Denom = Denom1

	other := secp256k1.PrivKeyFromBytes([]byte{31: 2})
	copy(m.Identity[:], other.PubKey().SerializeCompressed())
	if VerifySignedMessage(m) {
		t.Fatal("VerifySignedMessage accepted a signature by another key")
	}
}

func TestSignatureBindsSession(t *testing.T) {
	var mn [33]byte
	copy(mn[:], testPubKey.SerializeCompressed())
	m := &MsgSessionStatus{
		SessionID:  [32]byte{1},
		Complete:   true,
		Masternode: mn,
	}
	if err := SignMessage(m, testPrivKey); err != nil {
		t.Fatalf("Failed to sign message: %v", err)
	}
	if !VerifySignedMessage(m) {
		t.Fatal("VerifySignedMessage rejected a valid status")
	}

	h1 := m.Hash()
	m.SessionID[0] = 2
	if VerifySignedMessage(m) {
		t.Fatal("status signature verified for another session")
	}
	if m.Hash() == h1 {
		t.Fatal("message hash did not commit to the session")
	}
}

func BenchmarkSignMessage(b *testing.B) {
	m := fakeContribution()

	for i := 0; i < b.N; i++ {
		err := SignMessage(m, testPrivKey)
		if err != nil {
			b.Fatalf("Failed to sign message: %v", err)
		}
	}
}

func BenchmarkVerifySignedMessage(b *testing.B) {
	m := fakeContribution()
	err := SignMessage(m, testPrivKey)
	if err != nil {
		b.Fatalf("Failed to sign message: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if !VerifySignedMessage(m) {
			b.Fatalf("VerifySignedMessage invalid signature %x", m.Signature[:])
		}
	}
}
