// Copyright (c) 2023-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mixing

import (
	"bytes"
	"fmt"
	"hash"

	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

const tag = "darksend-mix-signature"

// Signed is an interface describing a signed mixing message.
type Signed interface {
	Pub() []byte
	Sig() []byte
	Sid() []byte
	Command() string
	WriteSignedData(hash.Hash)
}

// SignMessage creates a signature for the message m and writes the signature
// into the message.
func SignMessage(m Signed, priv *secp256k1.PrivateKey) error {
	sig, err := sign(priv, m)
	if err != nil {
		return err
	}
	copy(m.Sig(), sig)
	return nil
}

// VerifySignedMessage verifies that a signed message carries a valid
// signature for the represented identity.
func VerifySignedMessage(m Signed) bool {
	h := blake256.New()
	m.WriteSignedData(h)
	sigHash := h.Sum(nil)

	return verify(h, m.Pub(), m.Sig(), sigHash, m.Command(), sessionOf(m))
}

// VerifySignature verifies a message signature from its signature hash and
// information describing the message type and session.  Two different
// messages of the same command and session should never be signed by the
// same key, and demonstrating this proves the signer equivocated.
func VerifySignature(pub, sig, sigHash []byte, command string, sid []byte) bool {
	h := blake256.New()
	return verify(h, pub, sig, sigHash, command, sid)
}

var zeroSID [32]byte

func sessionOf(m Signed) []byte {
	sid := m.Sid()
	if len(sid) != 32 {
		return zeroSID[:]
	}
	return sid
}

func sign(priv *secp256k1.PrivateKey, m Signed) ([]byte, error) {
	h := blake256.New()
	m.WriteSignedData(h)
	sigHash := h.Sum(nil)

	h.Reset()

	buf := new(bytes.Buffer)
	fmt.Fprintf(buf, tag+",%s,%x,%x", m.Command(), sessionOf(m), sigHash)
	h.Write(buf.Bytes())

	sig, err := schnorr.Sign(priv, h.Sum(nil))
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

func verify(h hash.Hash, pk []byte, sig []byte, sigHash []byte, command string, sid []byte) bool {
	pkParsed, err := secp256k1.ParsePubKey(pk)
	if err != nil {
		return false
	}
	sigParsed, err := schnorr.ParseSignature(sig)
	if err != nil {
		return false
	}

	h.Reset()

	buf := new(bytes.Buffer)
	fmt.Fprintf(buf, tag+",%s,%x,%x", command, sid, sigHash)
	h.Write(buf.Bytes())
	return sigParsed.Verify(h.Sum(nil), pkParsed)
}
