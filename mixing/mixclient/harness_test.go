// Copyright (c) 2024-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mixclient

import (
	"context"
	"testing"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/wire"
	"github.com/drkcore/darksend/coinselect"
	"github.com/drkcore/darksend/internal/simnet"
	"github.com/drkcore/darksend/masternode"
	"github.com/drkcore/darksend/mixing"
	"github.com/drkcore/darksend/mixing/collateral"
	"github.com/drkcore/darksend/mixing/mixpool"
)

const testPhaseTimeout = 500 * time.Millisecond

// testNet is a simulated network of masternodes and mixing clients sharing
// one chain.
type testNet struct {
	t        *testing.T
	ctx      context.Context
	chain    *simnet.Chain
	hub      *simnet.Hub
	registry *masternode.Registry
	mnKeys   map[string]*secp256k1.PrivateKey
}

func newTestNet(t *testing.T) *testNet {
	t.Helper()
	return newTestNetChain(t, simnet.NewChain(true))
}

// newTestNetChain returns a test network on the provided chain.
func newTestNetChain(t *testing.T, chain *simnet.Chain) *testNet {
	t.Helper()
	useTestLogger(t)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &testNet{
		t:        t,
		ctx:      ctx,
		chain:    chain,
		hub:      simnet.NewHub(chain),
		registry: masternode.NewRegistry(mixing.MasternodeExpiry),
		mnKeys:   make(map[string]*secp256k1.PrivateKey),
	}
}

// addMasternode starts a masternode pool reachable at addr and registers it.
func (n *testNet) addMasternode(addr string, minPeers, maxPeers int) *mixpool.Pool {
	n.t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		n.t.Fatal(err)
	}

	var pool *mixpool.Pool
	ep := n.hub.Join(n.ctx, addr, func(ctx context.Context, from string, msg mixing.Message) {
		_ = pool.HandleMessage(ctx, from, msg)
	})
	pool, err = mixpool.New(&mixpool.Config{
		PrivKey:         priv,
		Catalog:         mixing.DefaultCatalog,
		Utxos:           n.chain,
		Collateral:      collateral.NewValidator(n.chain, n.chain, collateral.DefaultPolicy),
		Network:         ep,
		MinParticipants: minPeers,
		MaxParticipants: maxPeers,
		PhaseTimeout:    testPhaseTimeout,
	})
	if err != nil {
		n.t.Fatal(err)
	}
	go pool.Run(n.ctx)

	id := wire.OutPoint{Hash: chainhash.HashH([]byte(addr))}
	n.registry.Update(masternode.Entry{
		ID:              id,
		Addr:            addr,
		PubKey:          priv.PubKey(),
		ProtocolVersion: 1,
	})
	n.mnKeys[addr] = priv
	return pool
}

// newClient joins a mixing client with an empty wallet at addr.
func (n *testNet) newClient(addr string, modify func(*Config)) (*Client, *simnet.Wallet) {
	n.t.Helper()
	w := simnet.NewWallet(n.chain, mixing.DefaultCatalog, nil)

	var c *Client
	ep := n.hub.Join(n.ctx, addr, func(ctx context.Context, from string, msg mixing.Message) {
		c.HandleMessage(ctx, from, msg)
	})
	cfg := &Config{
		Wallet:         w,
		Network:        ep,
		Registry:       n.registry,
		PhaseTimeout:   testPhaseTimeout,
		Backoff:        10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		BreakerTimeout: 200 * time.Millisecond,
	}
	if modify != nil {
		modify(cfg)
	}
	c, err := NewClient(cfg)
	if err != nil {
		n.t.Fatal(err)
	}
	return c, w
}

// fund creates confirmed outputs of each amount paying to w.
func fund(t *testing.T, w *simnet.Wallet, amounts ...dcrutil.Amount) []wire.OutPoint {
	t.Helper()
	ops := make([]wire.OutPoint, 0, len(amounts))
	for _, a := range amounts {
		op, err := w.Fund(a)
		if err != nil {
			t.Fatal(err)
		}
		ops = append(ops, op)
	}
	return ops
}

// fundMixable funds w with n outputs of amount and one collateral output.
func fundMixable(t *testing.T, w *simnet.Wallet, amount dcrutil.Amount, n int) []wire.OutPoint {
	t.Helper()
	amounts := make([]dcrutil.Amount, n)
	for i := range amounts {
		amounts[i] = amount
	}
	ops := fund(t, w, amounts...)
	fund(t, w, collateralOutput)
	return ops
}

// assertFree fails the test unless every output of w is unreserved.
func assertFree(t *testing.T, w *simnet.Wallet) {
	t.Helper()
	for _, u := range w.Outputs().Outputs() {
		if u.State != coinselect.Free {
			t.Errorf("output %v is %v", u.OutPoint, u.State)
		}
	}
}
