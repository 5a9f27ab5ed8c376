// Copyright (c) 2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package simnet provides an in-process network for running masternodes
// and mixing wallets against each other: a minimal UTXO chain, a wallet
// backed by it, and a message hub routing protocol messages between peers.
package simnet

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/txscript/v4"
	"github.com/decred/dcrd/wire"
	"github.com/drkcore/darksend/mixing"
)

const verifyFlags = txscript.ScriptDiscourageUpgradableNops |
	txscript.ScriptVerifyCleanStack |
	txscript.ScriptVerifyCheckLockTimeVerify |
	txscript.ScriptVerifyCheckSequenceVerify |
	txscript.ScriptVerifySHA256

type utxoEntry struct {
	amount   int64
	pkScript []byte
	height   int64
	spent    bool
}

func (e *utxoEntry) IsSpent() bool         { return e.spent }
func (e *utxoEntry) PkScript() []byte      { return e.pkScript }
func (e *utxoEntry) ScriptVersion() uint16 { return 0 }
func (e *utxoEntry) BlockHeight() int64    { return e.height }
func (e *utxoEntry) Amount() int64         { return e.amount }

// TxListener is notified of every transaction accepted to the mempool
// (height -1) and of every block connected (tx nil).
type TxListener func(tx *wire.MsgTx, height int64)

// Chain is a single-chain UTXO ledger with a mempool.  Published
// transactions are checked for double spends and valid signatures.  When
// AutoMine is set every published transaction is immediately mined into its
// own block.  Chain implements mixing.BlockChain and mixing.UtxoFetcher.
type Chain struct {
	mtx       sync.Mutex
	utxos     map[wire.OutPoint]*utxoEntry
	mempool   []*wire.MsgTx
	txs       map[chainhash.Hash]*wire.MsgTx
	height    int64
	tip       chainhash.Hash
	listeners []TxListener
	funded    uint64
	autoMine  bool
}

// NewChain returns a chain at height zero.
func NewChain(autoMine bool) *Chain {
	return &Chain{
		utxos:    make(map[wire.OutPoint]*utxoEntry),
		txs:      make(map[chainhash.Hash]*wire.MsgTx),
		autoMine: autoMine,
	}
}

// Subscribe registers a listener.  Listeners are called without the chain
// lock held and may query the chain.
func (c *Chain) Subscribe(l TxListener) {
	c.mtx.Lock()
	c.listeners = append(c.listeners, l)
	c.mtx.Unlock()
}

// CurrentTip returns the hash and height of the current tip block.
func (c *Chain) CurrentTip() (chainhash.Hash, int64) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.tip, c.height
}

// FetchUtxoEntry returns the unspent output at op, or nil when the output is
// unknown or spent.
func (c *Chain) FetchUtxoEntry(op wire.OutPoint) (mixing.UtxoEntry, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	e, ok := c.utxos[op]
	if !ok || e.spent {
		return nil, nil
	}
	entry := *e
	return &entry, nil
}

// Transaction returns a published transaction.
func (c *Chain) Transaction(hash chainhash.Hash) (*wire.MsgTx, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	tx, ok := c.txs[hash]
	return tx, ok
}

// Confirmations returns the confirmations of a published transaction.
func (c *Chain) Confirmations(hash chainhash.Hash) (int64, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	tx, ok := c.txs[hash]
	if !ok {
		return 0, false
	}
	// Outputs of a transaction share its height; an output spent since
	// still records it.
	op := wire.OutPoint{Hash: tx.TxHash()}
	if e, ok := c.utxos[op]; ok {
		return mixing.Confirmations(e.height, c.height), true
	}
	return 0, true
}

func (c *Chain) notify(tx *wire.MsgTx, height int64) {
	c.mtx.Lock()
	listeners := append([]TxListener(nil), c.listeners...)
	c.mtx.Unlock()
	for _, l := range listeners {
		l(tx, height)
	}
}

// Fund creates an output paying amount to pkScript in a new block.
func (c *Chain) Fund(pkScript []byte, amount dcrutil.Amount) wire.OutPoint {
	c.mtx.Lock()
	c.funded++
	var prev wire.OutPoint
	h := blake256.New()
	h.Write([]byte("simnet-fund"))
	h.Write(binary.BigEndian.AppendUint64(nil, c.funded))
	copy(prev.Hash[:], h.Sum(nil))
	prev.Index = wire.MaxPrevOutIndex
	tx := wire.NewMsgTx()
	tx.AddTxIn(wire.NewTxIn(&prev, int64(amount), nil))
	tx.AddTxOut(wire.NewTxOut(int64(amount), pkScript))
	hash := tx.TxHash()
	c.txs[hash] = tx
	c.connectBlock()
	c.utxos[wire.OutPoint{Hash: hash}] = &utxoEntry{
		amount:   int64(amount),
		pkScript: pkScript,
		height:   c.height,
	}
	height := c.height
	c.mtx.Unlock()

	c.notify(tx, height)
	return wire.OutPoint{Hash: hash}
}

// connectBlock mines the mempool into a new block.  The caller must hold
// the chain lock.
func (c *Chain) connectBlock() {
	c.height++
	h := blake256.New()
	h.Write(c.tip[:])
	for _, tx := range c.mempool {
		hash := tx.TxHash()
		h.Write(hash[:])
		for i := range tx.TxOut {
			op := wire.OutPoint{Hash: hash, Index: uint32(i)}
			if e, ok := c.utxos[op]; ok {
				e.height = c.height
			}
		}
	}
	copy(c.tip[:], h.Sum(nil))
	c.mempool = nil
}

// Mine connects n blocks, the first of which includes the mempool.
func (c *Chain) Mine(n int) {
	for i := 0; i < n; i++ {
		c.mtx.Lock()
		c.connectBlock()
		height := c.height
		c.mtx.Unlock()
		c.notify(nil, height)
	}
}

// Publish accepts a transaction to the mempool after checking that every
// input is unspent and correctly signed and that the outputs do not exceed
// the inputs.
func (c *Chain) Publish(ctx context.Context, tx *wire.MsgTx) error {
	hash := tx.TxHash()

	c.mtx.Lock()
	if _, ok := c.txs[hash]; ok {
		c.mtx.Unlock()
		return fmt.Errorf("transaction %v already published", hash)
	}
	var in int64
	for i, txIn := range tx.TxIn {
		e, ok := c.utxos[txIn.PreviousOutPoint]
		if !ok || e.spent {
			c.mtx.Unlock()
			return mixing.RuleErrorf(mixing.ErrConflict,
				"input %v of %v is missing or spent", txIn.PreviousOutPoint, hash)
		}
		vm, err := txscript.NewEngine(e.pkScript, tx, i, verifyFlags, 0, nil)
		if err == nil {
			err = vm.Execute()
		}
		if err != nil {
			c.mtx.Unlock()
			return fmt.Errorf("input %d of %v: %w", i, hash, err)
		}
		in += e.amount
	}
	var out int64
	for _, txOut := range tx.TxOut {
		out += txOut.Value
	}
	if out > in {
		c.mtx.Unlock()
		return fmt.Errorf("transaction %v spends %d more than its inputs",
			hash, out-in)
	}

	for _, txIn := range tx.TxIn {
		c.utxos[txIn.PreviousOutPoint].spent = true
	}
	for i, txOut := range tx.TxOut {
		c.utxos[wire.OutPoint{Hash: hash, Index: uint32(i)}] = &utxoEntry{
			amount:   txOut.Value,
			pkScript: txOut.PkScript,
			height:   -1,
		}
	}
	c.txs[hash] = tx
	c.mempool = append(c.mempool, tx)
	mined := c.autoMine
	if mined {
		c.connectBlock()
	}
	height := c.height
	c.mtx.Unlock()

	log.Debugf("Published %v (%d in, %d out)", hash, len(tx.TxIn), len(tx.TxOut))
	if mined {
		c.notify(tx, height)
	} else {
		c.notify(tx, -1)
	}
	return nil
}
