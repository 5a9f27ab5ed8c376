// Copyright (c) 2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/decred/dcrd/crypto/rand"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/txscript/v4/stdaddr"
	"github.com/decred/dcrd/wire"
	"github.com/drkcore/darksend/coinselect"
	"github.com/drkcore/darksend/instantx"
	"github.com/drkcore/darksend/internal/lockdb"
	"github.com/drkcore/darksend/internal/metrics"
	"github.com/drkcore/darksend/internal/simnet"
	"github.com/drkcore/darksend/internal/version"
	"github.com/drkcore/darksend/masternode"
	"github.com/drkcore/darksend/mixing"
	"github.com/drkcore/darksend/mixing/collateral"
	"github.com/drkcore/darksend/mixing/mixclient"
	"github.com/drkcore/darksend/mixing/mixpool"
	"golang.org/x/sync/errgroup"
)

const (
	// protocolVersion is the mixing and locking protocol version announced
	// by the masternodes of the simulation.
	protocolVersion = version.ProtocolVersion

	registryPruneInterval = time.Minute

	// liquidityDelay is the longest pause between the rounds of a wallet
	// providing the least liquidity.
	liquidityDelay = 30 * time.Second

	paymentAmount dcrutil.Amount = 1e8

	// feeChargePercent is the chance a completed session charges one
	// participant's collateral as the mixing fee.
	feeChargePercent = 10
)

// simNode is a participant of the simulated network.
type simNode struct {
	addr     string
	endpoint *simnet.Endpoint
	pool     *mixpool.Pool
	client   *mixclient.Client
	wallet   *simnet.Wallet
	locks    *instantx.Manager
}

// handleMessage dispatches a message received by the node.
func (n *simNode) handleMessage(ctx context.Context, from string, msg mixing.Message) {
	var err error
	switch msg.(type) {
	case *instantx.MsgLockRequest, *instantx.MsgLockVote:
		if n.locks != nil {
			err = n.locks.HandleMessage(ctx, from, msg)
		}
	default:
		if n.pool != nil {
			err = n.pool.HandleMessage(ctx, from, msg)
		}
		if n.client != nil {
			n.client.HandleMessage(ctx, from, msg)
		}
	}
	if err != nil {
		dsndLog.Debugf("%s: %s message from %s: %v", n.addr, msg.Command(),
			from, err)
	}
}

// simulation is a network of masternodes and wallets sharing a chain.
type simulation struct {
	cfg      *config
	db       *lockdb.DB
	chain    *simnet.Chain
	hub      *simnet.Hub
	registry *masternode.Registry

	masternodes []*simNode
	wallets     []*simNode
}

func newSimulation(cfg *config, db *lockdb.DB) *simulation {
	chain := simnet.NewChain(true)
	return &simulation{
		cfg:      cfg,
		db:       db,
		chain:    chain,
		hub:      simnet.NewHub(chain),
		registry: masternode.NewRegistry(mixing.MasternodeExpiry),
	}
}

// join connects a node to the hub and starts its lock manager.  The lock
// store is only given to the local node.
func (s *simulation) join(ctx context.Context, addr string, priv *secp256k1.PrivateKey,
	id wire.OutPoint, local bool) (*simNode, error) {

	n := &simNode{addr: addr}
	n.endpoint = s.hub.Join(ctx, addr, n.handleMessage)
	if s.cfg.NoInstantX {
		return n, nil
	}

	lockCfg := &instantx.Config{
		Registry:           s.registry,
		Network:            n.endpoint,
		PrivKey:            priv,
		MasternodeID:       id,
		MinProtocolVersion: s.cfg.MinMasternodeProto,
		LockConfirmations:  s.cfg.LockConfirmations,
	}
	if local {
		lockCfg.Store = s.db
	}
	locks, err := instantx.New(lockCfg)
	if err != nil {
		return nil, err
	}
	n.locks = locks
	s.chain.Subscribe(func(tx *wire.MsgTx, height int64) {
		if tx != nil {
			locks.MarkMined(tx.TxHash())
		}
	})
	return n, nil
}

// addMasternode starts a masternode at addr.  When id is nil, a collateral
// output is funded on the chain to identify it.
func (s *simulation) addMasternode(ctx context.Context, addr string,
	priv *secp256k1.PrivateKey, id *wire.OutPoint, local bool) error {

	if id == nil {
		pkh := stdaddr.Hash160(priv.PubKey().SerializeCompressed())
		op := s.chain.Fund(mixing.PayToPubKeyHashScript(pkh),
			mixing.MasternodeCollateral)
		id = &op
	}

	n, err := s.join(ctx, addr, priv, *id, local)
	if err != nil {
		return err
	}
	if !s.cfg.NoDarksend {
		n.pool, err = mixpool.New(&mixpool.Config{
			PrivKey:          priv,
			Catalog:          mixing.DefaultCatalog,
			Utxos:            s.chain,
			Collateral:       collateral.NewValidator(s.chain, s.chain, collateral.DefaultPolicy),
			Network:          n.endpoint,
			PhaseTimeout:     s.cfg.PhaseTimeout,
			FeeChargePercent: feeChargePercent,
		})
		if err != nil {
			return err
		}
	}

	s.registry.Update(masternode.Entry{
		ID:              *id,
		Addr:            addr,
		PubKey:          priv.PubKey(),
		ProtocolVersion: protocolVersion,
	})
	s.masternodes = append(s.masternodes, n)
	return nil
}

// addWallet starts a funded wallet at addr.  The local wallet persists its
// mixing rounds in the lock database.
func (s *simulation) addWallet(ctx context.Context, addr string, local bool) error {
	var store coinselect.RoundsStore
	if local {
		store = s.db
	}
	n, err := s.join(ctx, addr, nil, wire.OutPoint{}, local)
	if err != nil {
		return err
	}
	n.wallet = simnet.NewWallet(s.chain, mixing.DefaultCatalog, store)
	if local {
		err := s.db.ForEachRounds(func(op wire.OutPoint, rounds int) {
			n.wallet.Outputs().LoadRounds(op, rounds)
		})
		if err != nil {
			return err
		}
	}
	if _, err := n.wallet.Fund(s.cfg.simFunds); err != nil {
		return err
	}

	if !s.cfg.NoDarksend {
		n.client, err = mixclient.NewClient(&mixclient.Config{
			Wallet:             n.wallet,
			Network:            n.endpoint,
			Registry:           s.registry,
			MinProtocolVersion: s.cfg.MinMasternodeProto,
			Rounds:             s.cfg.rounds,
			PhaseTimeout:       s.cfg.PhaseTimeout,
		})
		if err != nil {
			return err
		}
	}
	s.wallets = append(s.wallets, n)
	return nil
}

// build creates the masternodes and wallets of the simulation.
func (s *simulation) build(ctx context.Context) error {
	if s.cfg.mnPrivKey != nil {
		if err := s.addMasternode(ctx, "local-masternode", s.cfg.mnPrivKey, nil, true); err != nil {
			return err
		}
	}
	for i := range s.cfg.mnConf {
		e := &s.cfg.mnConf[i]
		if err := s.addMasternode(ctx, e.Addr, e.PrivKey, &e.Collateral, false); err != nil {
			return fmt.Errorf("masternode %s: %w", e.Alias, err)
		}
	}
	for i := 0; i < s.cfg.SimMasternodes; i++ {
		priv, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return err
		}
		addr := fmt.Sprintf("masternode-%d", i)
		if err := s.addMasternode(ctx, addr, priv, nil, false); err != nil {
			return err
		}
	}
	for i := 0; i < s.cfg.SimParticipants; i++ {
		// The first wallet is the local one when this node is not a
		// masternode.
		local := i == 0 && s.cfg.mnPrivKey == nil
		if err := s.addWallet(ctx, fmt.Sprintf("wallet-%d", i), local); err != nil {
			return err
		}
	}
	metrics.Masternodes.Set(float64(s.registry.Count()))
	dsndLog.Infof("Simulating %d %s and %d %s", len(s.masternodes),
		pickNoun(len(s.masternodes), "masternode", "masternodes"),
		len(s.wallets), pickNoun(len(s.wallets), "wallet", "wallets"))
	return nil
}

// run runs every node until ctx is canceled.  Wallets mix, provide
// liquidity when configured, and finally pay the next wallet with an
// instant lock.  Run returns once every wallet finished and liquidity is not
// provided.
func (s *simulation) run(ctx context.Context) error {
	background, cancel := context.WithCancel(ctx)
	defer cancel()
	bg, bgCtx := errgroup.WithContext(background)
	bg.Go(func() error {
		err := s.registry.Run(bgCtx, registryPruneInterval)
		metrics.Masternodes.Set(0)
		return err
	})
	for _, n := range s.masternodes {
		n := n
		if n.pool != nil {
			bg.Go(func() error { return n.pool.Run(bgCtx) })
		}
		if n.locks != nil {
			bg.Go(func() error { return n.locks.Run(bgCtx) })
		}
	}
	for _, n := range s.wallets {
		n := n
		if n.locks != nil {
			bg.Go(func() error { return n.locks.Run(bgCtx) })
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, n := range s.wallets {
		n := n
		payee := s.wallets[(i+1)%len(s.wallets)]
		g.Go(func() error {
			return s.runWallet(gctx, n, payee)
		})
	}
	err := g.Wait()

	cancel()
	if bgErr := bg.Wait(); bgErr != nil && !errors.Is(bgErr, context.Canceled) {
		dsndLog.Errorf("Simulation: %v", bgErr)
	}
	return err
}

func (s *simulation) runWallet(ctx context.Context, n, payee *simNode) error {
	if n.client != nil {
		if err := s.mix(ctx, n); err != nil {
			return err
		}
	}
	if n.locks != nil {
		if err := s.pay(ctx, n, payee); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			dsndLog.Warnf("%s: payment failed: %v", n.addr, err)
		}
	}
	if n.client != nil && s.cfg.Liquidity > 0 {
		return s.provideLiquidity(ctx, n)
	}
	return nil
}

// mix anonymizes the configured amount of a wallet.  Running out of funds to
// mix ends mixing without error.
func (s *simulation) mix(ctx context.Context, n *simNode) error {
	err := n.client.StartMixing(ctx, s.cfg.anonymizeAmount, s.cfg.MaxAttempts)
	switch {
	case errors.Is(err, mixing.ErrResourceExhaustion):
		dsndLog.Infof("%s: no more funds to mix: %v", n.addr, err)
	case errors.Is(err, mixclient.ErrTooManyFailures):
		dsndLog.Warnf("%s: %v", n.addr, err)
	case err != nil:
		return err
	}
	b := n.client.Balances()
	dsndLog.Infof("%s: anonymized %v of %v (%v denominated)", n.addr,
		b.Anonymized, b.Total, b.Denominated)
	return nil
}

// provideLiquidity keeps mixing rounds running with random pauses that
// shorten as the liquidity setting grows.
func (s *simulation) provideLiquidity(ctx context.Context, n *simNode) error {
	maxDelay := liquidityDelay * time.Duration(mixing.MaxLiquidity+1-s.cfg.Liquidity) /
		mixing.MaxLiquidity
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rand.Duration(maxDelay)):
		}
		err := n.client.MixRound(ctx)
		switch {
		case errors.Is(err, mixing.ErrResourceExhaustion),
			errors.Is(err, mixing.ErrNoMasternodes):
			dsndLog.Infof("%s: stopped providing liquidity: %v", n.addr, err)
			return nil
		case err != nil:
			dsndLog.Debugf("%s: liquidity round: %v", n.addr, err)
		}
	}
}

// pay sends paymentAmount to payee, requesting an instant lock before the
// transaction is published.  Mixed outputs are spent when mixing is enabled.
func (s *simulation) pay(ctx context.Context, n, payee *simNode) error {
	payTo, err := payee.wallet.NewOutputScript()
	if err != nil {
		return err
	}
	change, err := n.wallet.NewOutputScript()
	if err != nil {
		return err
	}

	c := coinselect.Constraints{
		Purpose:                     coinselect.PurposeSend,
		WalletLock:                  n.wallet.LockState(),
		MinConfirmations:            1,
		AllowUnconfirmedChange:      s.cfg.SpendZeroConfChange,
		ExcludeMasternodeCollateral: true,
	}
	if n.client != nil {
		c.OnlyDenominated = true
		c.MinRounds = s.cfg.rounds
	}
	policy := coinselect.DefaultPolicy
	scriptSizes := []int{len(payTo), len(change)}
	fee := policy.MinFee(coinselect.EstimateSize(1, scriptSizes))
	set := n.wallet.Outputs()
	inputs, total, err := set.Select(paymentAmount+fee, c)
	if err != nil {
		return err
	}
	var ops []wire.OutPoint
	for _, u := range inputs {
		ops = append(ops, u.OutPoint)
	}
	tx, err := func() (*wire.MsgTx, error) {
		size := coinselect.EstimateSize(len(inputs), scriptSizes)
		fee = paymentFee(policy, inputs, size)
		if total < paymentAmount+fee {
			return nil, mixing.RuleErrorf(mixing.ErrResourceExhaustion,
				"selected %v is short of %v", total, paymentAmount+fee)
		}
		tx := wire.NewMsgTx()
		for _, u := range inputs {
			op := u.OutPoint
			tx.AddTxIn(wire.NewTxIn(&op, int64(u.Amount), nil))
		}
		tx.AddTxOut(wire.NewTxOut(int64(paymentAmount), payTo))
		if rest := total - paymentAmount - fee; !policy.IsDust(rest, len(change)) {
			tx.AddTxOut(wire.NewTxOut(int64(rest), change))
		}
		for i, u := range inputs {
			if err := n.wallet.SignInput(tx, i, u.PkScript); err != nil {
				return nil, err
			}
		}
		dsndLog.Debugf("%s: payment priority %s, fee %v", n.addr,
			coinselect.PriorityLabel(coinselect.CalcPriority(inputs,
				tx.SerializeSize())), fee)
		return tx, nil
	}()
	if err != nil {
		set.Release(ops...)
		return err
	}

	hash := tx.TxHash()
	pending, err := n.locks.RequestLock(ctx, tx)
	if err != nil {
		set.Release(ops...)
		return err
	}
	status, err := pending.Wait(ctx)
	if err != nil {
		set.Release(ops...)
		return err
	}
	if status != instantx.StatusLocked {
		set.Release(ops...)
		return fmt.Errorf("payment %v not locked: %v", hash, status)
	}
	dsndLog.Infof("%s: payment %v to %s locked (%d confirmations displayed)",
		n.addr, hash, payee.addr, n.locks.DisplayConfirmations(hash, 0))
	if err := n.wallet.PublishTransaction(ctx, tx); err != nil {
		set.Release(ops...)
		return err
	}
	confs, _ := s.chain.Confirmations(hash)
	dsndLog.Infof("%s: paid %v in %v with %d %s", n.addr, paymentAmount,
		hash, confs, pickNoun(int(confs), "confirmation", "confirmations"))
	return nil
}

// paymentFee returns the fee of a payment spending inputs with an estimated
// size.  High priority payments are free.
func paymentFee(policy coinselect.Policy, inputs []coinselect.UnspentOutput, size int) dcrutil.Amount {
	if !policy.RequiresFee(coinselect.CalcPriority(inputs, size), size) {
		return 0
	}
	return policy.MinFee(size)
}

func pickNoun(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
