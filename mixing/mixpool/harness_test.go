// Copyright (c) 2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mixpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/wire"
	"github.com/drkcore/darksend/internal/simnet"
	"github.com/drkcore/darksend/mixing"
	"github.com/drkcore/darksend/mixing/collateral"
)

type sentMsg struct {
	to  string
	msg mixing.Message
}

// testNetwork records every message sent by a pool and publishes
// transactions to a simulated chain.
type testNetwork struct {
	chain *simnet.Chain

	mu         sync.Mutex
	sent       []sentMsg
	broadcasts []mixing.Message
}

func (n *testNetwork) SendMessage(ctx context.Context, to string, msg mixing.Message) error {
	n.mu.Lock()
	n.sent = append(n.sent, sentMsg{to: to, msg: msg})
	n.mu.Unlock()
	return nil
}

func (n *testNetwork) Broadcast(ctx context.Context, msg mixing.Message) error {
	n.mu.Lock()
	n.broadcasts = append(n.broadcasts, msg)
	n.mu.Unlock()
	return nil
}

func (n *testNetwork) PublishTransaction(ctx context.Context, tx *wire.MsgTx) error {
	return n.chain.Publish(ctx, tx)
}

// last returns the last message of a command sent to a peer.
func (n *testNetwork) last(to, command string) mixing.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].to == to && n.sent[i].msg.Command() == command {
			return n.sent[i].msg
		}
	}
	return nil
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	chain *simnet.Chain
	net   *testNetwork
	pool  *Pool
	now   time.Time
}

func newHarness(t *testing.T, chain *simnet.Chain, modify func(*Config)) *harness {
	t.Helper()
	useTestLogger(t)

	if chain == nil {
		chain = simnet.NewChain(true)
	}
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		chain: chain,
		net:   &testNetwork{chain: chain},
		now:   time.Unix(1700000000, 0),
	}
	cfg := &Config{
		PrivKey:    priv,
		Catalog:    mixing.DefaultCatalog,
		Utxos:      chain,
		Collateral: collateral.NewValidator(chain, chain, collateral.DefaultPolicy),
		Network:    h.net,
	}
	if modify != nil {
		modify(cfg)
	}
	h.pool, err = New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	h.pool.now = func() time.Time { return h.now }
	return h
}

// expire expires sessions at the deadline of the current phase of s.
func (h *harness) expire(s *Session) int {
	return h.pool.ExpireSessions(h.ctx, s.Deadline())
}

type testPeer struct {
	addr     string
	wallet   *simnet.Wallet
	identity *secp256k1.PrivateKey
	inputs   map[wire.OutPoint][]byte
}

func newTestPeer(chain *simnet.Chain, addr string) *testPeer {
	return &testPeer{
		addr:   addr,
		wallet: simnet.NewWallet(chain, mixing.DefaultCatalog, nil),
		inputs: make(map[wire.OutPoint][]byte),
	}
}

func (p *testPeer) fund(t *testing.T, amount dcrutil.Amount, n int) []wire.OutPoint {
	t.Helper()
	ops := make([]wire.OutPoint, n)
	for i := range ops {
		op, err := p.wallet.Fund(amount)
		if err != nil {
			t.Fatal(err)
		}
		ops[i] = op
	}
	return ops
}

// collateral returns a signed collateral transaction paying fee.
func (p *testPeer) collateral(t *testing.T, fee dcrutil.Amount) *wire.MsgTx {
	t.Helper()
	op := p.fund(t, 2e7, 1)[0]
	u, _ := p.wallet.Outputs().Get(op)
	script, err := p.wallet.NewOutputScript()
	if err != nil {
		t.Fatal(err)
	}
	tx := wire.NewMsgTx()
	tx.AddTxIn(wire.NewTxIn(&op, int64(u.Amount), nil))
	tx.AddTxOut(wire.NewTxOut(int64(u.Amount-fee), script))
	if err := p.wallet.SignInput(tx, 0, u.PkScript); err != nil {
		t.Fatal(err)
	}
	return tx
}

// contribution creates a contribution spending inputs and creating one
// output per value, signed by a fresh identity.
func (p *testPeer) contribution(t *testing.T, denom mixing.Denomination,
	inputs []wire.OutPoint, values ...dcrutil.Amount) *mixing.MsgContribution {

	t.Helper()
	id, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	p.identity = id

	msg := &mixing.MsgContribution{Denom: denom}
	copy(msg.Identity[:], id.PubKey().SerializeCompressed())
	for _, op := range inputs {
		u, ok := p.wallet.Outputs().Get(op)
		if !ok {
			t.Fatalf("peer %s does not own %v", p.addr, op)
		}
		pub, proof, err := p.wallet.ProveOwnership(u.PkScript, msg.Identity[:])
		if err != nil {
			t.Fatal(err)
		}
		msg.Inputs = append(msg.Inputs, mixing.ContributedInput{
			OutPoint: op,
			PubKey:   pub,
			Proof:    proof,
		})
		p.inputs[op] = u.PkScript
	}
	for _, v := range values {
		script, err := p.wallet.NewOutputScript()
		if err != nil {
			t.Fatal(err)
		}
		msg.Outputs = append(msg.Outputs, wire.NewTxOut(int64(v), script))
	}
	msg.Collateral = p.collateral(t, collateral.DefaultPolicy.Min)
	p.resign(t, msg)
	return msg
}

func (p *testPeer) resign(t *testing.T, msg *mixing.MsgContribution) {
	t.Helper()
	if err := mixing.SignMessage(msg, p.identity); err != nil {
		t.Fatal(err)
	}
}

// standard creates a contribution of n freshly funded inputs of denom and
// n outputs of denom.
func (p *testPeer) standard(t *testing.T, denom mixing.Denomination, n int) *mixing.MsgContribution {
	t.Helper()
	amount, _ := mixing.DefaultCatalog.Amount(denom)
	values := make([]dcrutil.Amount, n)
	for i := range values {
		values[i] = amount
	}
	return p.contribution(t, denom, p.fund(t, amount, n), values...)
}

// sign signs the peer's inputs of the proposed transaction.
func (p *testPeer) sign(t *testing.T, sid [32]byte, tx *wire.MsgTx) *mixing.MsgPartialSig {
	t.Helper()
	signed := tx.Copy()
	for i, in := range signed.TxIn {
		script, ok := p.inputs[in.PreviousOutPoint]
		if !ok {
			continue
		}
		if err := p.wallet.SignInput(signed, i, script); err != nil {
			t.Fatal(err)
		}
	}
	msg := &mixing.MsgPartialSig{SessionID: sid, Tx: signed}
	copy(msg.Identity[:], p.identity.PubKey().SerializeCompressed())
	if err := mixing.SignMessage(msg, p.identity); err != nil {
		t.Fatal(err)
	}
	return msg
}
