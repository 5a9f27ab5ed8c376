// Copyright (c) 2023-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package utxoproof

import (
	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// Tags and schemes describing the message being signed.
//
// These strings must not contain the comma, which is reserved as a separator
// character.
const (
	tag = "darksend-utxoproof"

	// schemes
	secp256k1P2PKH = "P2PKH(EC-Schnorr-DCRv0)"
)

var sep = []byte{','}

// The signature hash is created from the serialization of:
//   tag , scheme , identity pubkey
// No separator is written after the identity; it is fixed length.

// Secp256k1KeyPair provides access to the serialized public key and parsed
// private key of a secp256k1 key pair.
type Secp256k1KeyPair struct {
	Pub  []byte
	Priv *secp256k1.PrivateKey
}

func proofHash(identity, pubkey []byte) []byte {
	const scheme = secp256k1P2PKH

	h := blake256.New()
	h.Write([]byte(tag))
	h.Write(sep)
	h.Write([]byte(scheme))
	h.Write(sep)
	h.Write(identity)
	h.Write(pubkey)
	return h.Sum(nil)
}

// SignUtxoProof returns the UTXO proof of ownership over an output controlled
// by the keypair.  The proof commits to the session identity of the
// contribution so that it can not be replayed in a contribution signed by an
// unrelated identity.
func (k *Secp256k1KeyPair) SignUtxoProof(identity []byte) ([]byte, error) {
	sig, err := schnorr.Sign(k.Priv, proofHash(identity, k.Pub))
	if err != nil {
		return nil, err
	}

	return sig.Serialize(), nil
}

// ValidateSecp256k1P2PKH validates the UTXO proof of an output controlled by
// a secp256k1 keypair for the given identity.  Returns true only if the proof
// is valid.
func ValidateSecp256k1P2PKH(pubkey, proof, identity []byte) bool {
	pubkeyParsed, err := secp256k1.ParsePubKey(pubkey)
	if err != nil {
		return false
	}
	proofParsed, err := schnorr.ParseSignature(proof)
	if err != nil {
		return false
	}

	return proofParsed.Verify(proofHash(identity, pubkey), pubkeyParsed)
}
