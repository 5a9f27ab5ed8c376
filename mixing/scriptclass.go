// Copyright (c) 2024-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mixing

import (
	"github.com/decred/dcrd/txscript/v4"
	"github.com/decred/dcrd/txscript/v4/stdscript"
)

// ScriptClass describes the type and format of scripts that can be used for
// mixed outputs.  A mix may only be performed among all participants who agree
// on the same script class.
type ScriptClass string

// Script class descriptors for the mixed outputs.
// Only secp256k1 P2PKH is allowed at this time.
const (
	ScriptClassP2PKHv0 ScriptClass = "P2PKH-secp256k1-v0"
)

// P2PKHv0ScriptSize is the size of a version 0 pay-to-pubkey-hash script.
const P2PKHv0ScriptSize = 25

// PayToPubKeyHashScript returns the version 0 P2PKH script paying to the
// 20-byte hash160 of a public key.
func PayToPubKeyHashScript(hash160 []byte) []byte {
	script := make([]byte, 0, P2PKHv0ScriptSize)
	script = append(script, txscript.OP_DUP, txscript.OP_HASH160,
		txscript.OP_DATA_20)
	script = append(script, hash160...)
	script = append(script, txscript.OP_EQUALVERIFY, txscript.OP_CHECKSIG)
	return script
}

// MixableScript returns whether an output script of the given version
// belongs to ScriptClassP2PKHv0.
func MixableScript(version uint16, script []byte) bool {
	return version == 0 && stdscript.IsPubKeyHashScriptV0(script)
}

// PubKeyHash returns the hash160 paid to by a version 0 P2PKH script, or nil
// for any other script.
func PubKeyHash(script []byte) []byte {
	return stdscript.ExtractPubKeyHashV0(script)
}
