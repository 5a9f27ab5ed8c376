// Copyright (c) 2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package simnet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/decred/dcrd/dcrec"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/txscript/v4"
	"github.com/decred/dcrd/txscript/v4/sign"
	"github.com/decred/dcrd/txscript/v4/stdaddr"
	"github.com/decred/dcrd/wire"
	"github.com/drkcore/darksend/coinselect"
	"github.com/drkcore/darksend/mixing"
	"github.com/drkcore/darksend/mixing/utxoproof"
)

var errUnknownScript = errors.New("script does not pay to a wallet key")

// Wallet holds P2PKH keys and tracks their outputs on a Chain.
type Wallet struct {
	chain *Chain
	set   *coinselect.Set

	mtx  sync.Mutex
	keys map[[20]byte]*secp256k1.PrivateKey
	lock coinselect.WalletLock
}

// NewWallet returns an unlocked wallet following chain.  The rounds store
// may be nil.
func NewWallet(chain *Chain, catalog *mixing.Catalog, store coinselect.RoundsStore) *Wallet {
	w := &Wallet{
		chain: chain,
		set:   coinselect.NewSet(catalog, store),
		keys:  make(map[[20]byte]*secp256k1.PrivateKey),
		lock:  coinselect.WalletUnlocked,
	}
	chain.Subscribe(w.onTx)
	return w
}

// Outputs returns the wallet's unspent outputs.
func (w *Wallet) Outputs() *coinselect.Set {
	return w.set
}

// LockState returns how far the wallet is unlocked.
func (w *Wallet) LockState() coinselect.WalletLock {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	return w.lock
}

// SetLockState locks or unlocks the wallet.
func (w *Wallet) SetLockState(l coinselect.WalletLock) {
	w.mtx.Lock()
	w.lock = l
	w.mtx.Unlock()
}

// NewOutputScript returns a P2PKH script paying to a new wallet key.
func (w *Wallet) NewOutputScript() ([]byte, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	var pkh [20]byte
	copy(pkh[:], stdaddr.Hash160(priv.PubKey().SerializeCompressed()))

	w.mtx.Lock()
	w.keys[pkh] = priv
	w.mtx.Unlock()

	return mixing.PayToPubKeyHashScript(pkh[:]), nil
}

func (w *Wallet) key(pkScript []byte) (*secp256k1.PrivateKey, error) {
	pkh := mixing.PubKeyHash(pkScript)
	if pkh == nil {
		return nil, errUnknownScript
	}

	w.mtx.Lock()
	defer w.mtx.Unlock()
	priv, ok := w.keys[*(*[20]byte)(pkh)]
	if !ok {
		return nil, errUnknownScript
	}
	return priv, nil
}

// Owns returns whether pkScript pays to a wallet key.
func (w *Wallet) Owns(pkScript []byte) bool {
	_, err := w.key(pkScript)
	return err == nil
}

// SignInput signs input idx of tx, which spends an output paying to
// prevScript.
func (w *Wallet) SignInput(tx *wire.MsgTx, idx int, prevScript []byte) error {
	if w.LockState() == coinselect.WalletLocked {
		return mixing.RuleErrorf(mixing.ErrWalletLocked, "wallet is locked")
	}
	priv, err := w.key(prevScript)
	if err != nil {
		return err
	}
	sigScript, err := sign.SignatureScript(tx, idx, prevScript,
		txscript.SigHashAll, priv.Serialize(), dcrec.STEcdsaSecp256k1, true)
	if err != nil {
		return err
	}
	tx.TxIn[idx].SignatureScript = sigScript
	return nil
}

// ProveOwnership returns the public key paid to by prevScript and a proof
// that the wallet controls it, bound to identity.
func (w *Wallet) ProveOwnership(prevScript, identity []byte) (pub [33]byte, proof [64]byte, err error) {
	priv, err := w.key(prevScript)
	if err != nil {
		return pub, proof, err
	}
	kp := utxoproof.Secp256k1KeyPair{
		Pub:  priv.PubKey().SerializeCompressed(),
		Priv: priv,
	}
	sig, err := kp.SignUtxoProof(identity)
	if err != nil {
		return pub, proof, err
	}
	copy(pub[:], kp.Pub)
	copy(proof[:], sig)
	return pub, proof, nil
}

// PublishTransaction publishes tx to the chain.
func (w *Wallet) PublishTransaction(ctx context.Context, tx *wire.MsgTx) error {
	return w.chain.Publish(ctx, tx)
}

// Fund creates a new confirmed output of amount paying to the wallet.
func (w *Wallet) Fund(amount dcrutil.Amount) (wire.OutPoint, error) {
	script, err := w.NewOutputScript()
	if err != nil {
		return wire.OutPoint{}, err
	}
	return w.chain.Fund(script, amount), nil
}

func (w *Wallet) onTx(tx *wire.MsgTx, height int64) {
	if tx != nil {
		hash := tx.TxHash()
		ownsInput := false
		for _, in := range tx.TxIn {
			if _, ok := w.set.Get(in.PreviousOutPoint); ok {
				ownsInput = true
				w.set.Spend(in.PreviousOutPoint)
			}
		}
		for i, out := range tx.TxOut {
			if !w.Owns(out.PkScript) {
				continue
			}
			w.set.Add(coinselect.UnspentOutput{
				OutPoint: wire.OutPoint{Hash: hash, Index: uint32(i)},
				Amount:   dcrutil.Amount(out.Value),
				PkScript: out.PkScript,
				Change:   ownsInput && !w.set.Catalog().IsDenominated(dcrutil.Amount(out.Value)),
			})
		}
	}

	_, tip := w.chain.CurrentTip()
	w.set.UpdateConfirmations(func(op wire.OutPoint) (int32, bool) {
		e, err := w.chain.FetchUtxoEntry(op)
		if err != nil || e == nil {
			return 0, false
		}
		return int32(mixing.Confirmations(e.BlockHeight(), tip)), true
	})
}

// String describes the wallet balances.
func (w *Wallet) String() string {
	b := w.set.Balances(mixing.DefaultRounds, 0)
	return fmt.Sprintf("total %v, denominated %v, anonymized %v",
		b.Total, b.Denominated, b.Anonymized)
}
