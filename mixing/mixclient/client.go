// Copyright (c) 2023-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mixclient implements the wallet side of mixing.  A Client
// repeatedly contributes denominated outputs to masternode-coordinated
// sessions until the requested amount has been mixed the configured number of
// rounds.
package mixclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/dcrd/container/lru"
	"github.com/decred/dcrd/crypto/rand"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/wire"
	"github.com/drkcore/darksend/coinselect"
	"github.com/drkcore/darksend/internal/metrics"
	"github.com/drkcore/darksend/masternode"
	"github.com/drkcore/darksend/mixing"
	"github.com/sony/gobreaker"
)

const (
	// DefaultBackoff is the delay before retrying after the first failed
	// round.  It doubles with every consecutive failure up to
	// DefaultMaxBackoff.
	DefaultBackoff    = time.Second
	DefaultMaxBackoff = time.Minute

	// DefaultBreakerTimeout is how long a masternode is avoided after its
	// sessions repeatedly failed.
	DefaultBreakerTimeout = 10 * time.Minute

	// breakerFailures is the number of consecutive failed sessions that
	// open the breaker of a masternode.
	breakerFailures = 2

	maxQueuedPerDenom = 8
	maxDenominations  = 32
)

// Wallet provides the outputs and keys mixed by a Client.
type Wallet interface {
	// Outputs returns the wallet's unspent outputs.  Outputs selected
	// for a round are reserved in this set.
	Outputs() *coinselect.Set

	LockState() coinselect.WalletLock

	// NewOutputScript returns a P2PKH script paying to a new key.
	NewOutputScript() ([]byte, error)

	// SignInput adds a signature script to a transaction input.
	SignInput(tx *wire.MsgTx, idx int, prevScript []byte) error

	// ProveOwnership proves control of the key paid to by prevScript,
	// binding the proof to a contribution identity.
	ProveOwnership(prevScript, identity []byte) ([33]byte, [64]byte, error)

	PublishTransaction(ctx context.Context, tx *wire.MsgTx) error
}

// Network sends messages to masternodes.
type Network interface {
	SendMessage(ctx context.Context, to string, msg mixing.Message) error
}

// Config configures a Client.
type Config struct {
	Wallet   Wallet
	Network  Network
	Registry *masternode.Registry

	// MinProtocolVersion excludes masternodes running older protocol
	// versions.
	MinProtocolVersion uint32

	// Rounds is the number of rounds after which an output is
	// anonymized.
	Rounds int

	PhaseTimeout   time.Duration
	Backoff        time.Duration
	MaxBackoff     time.Duration
	BreakerTimeout time.Duration

	// Policy is the relay fee policy of transactions created by
	// Denominate.
	Policy coinselect.Policy
}

// Status describes the progress of a client.
type Status struct {
	Mixing          bool
	State           string
	Denom           string
	SessionID       [32]byte
	Masternode      string
	LastMessage     string
	CompletedRounds int
	FailedRounds    int
}

type queuedSession struct {
	sid        [32]byte
	masternode string
	time       time.Time
}

// Client mixes the outputs of a wallet.
type Client struct {
	cfg     Config
	set     *coinselect.Set
	catalog *mixing.Catalog
	now     func() time.Time

	// roundMtx serializes rounds.
	roundMtx sync.Mutex

	mtx        sync.Mutex
	byIdentity map[[33]byte]*round
	bySID      map[[32]byte]*round
	breakers   map[string]*gobreaker.CircuitBreaker
	lastMN     string
	status     Status

	// queues holds advertised sessions by denomination.  It is protected
	// by mtx so that updates of a denomination's list are atomic.
	queues  *lru.Map[mixing.Denomination, []queuedSession]
	stopped atomic.Bool

	testHooks map[hook]hookFunc
}

// NewClient returns a client configured by cfg.  Zero durations, rounds and
// policy are replaced by their defaults.
func NewClient(cfg *Config) (*Client, error) {
	c := *cfg
	if c.Wallet == nil || c.Network == nil || c.Registry == nil {
		return nil, errors.New("mixclient: missing wallet, network or " +
			"masternode registry")
	}
	if c.Rounds == 0 {
		c.Rounds = mixing.DefaultRounds
	}
	if err := mixing.ValidateRounds(c.Rounds); err != nil {
		return nil, fmt.Errorf("mixclient: %w", err)
	}
	if c.PhaseTimeout == 0 {
		c.PhaseTimeout = mixing.PhaseTimeout
	}
	if c.Backoff == 0 {
		c.Backoff = DefaultBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.BreakerTimeout == 0 {
		c.BreakerTimeout = DefaultBreakerTimeout
	}
	if c.Policy.MinRelayTxFee == 0 {
		c.Policy = coinselect.DefaultPolicy
	}

	set := c.Wallet.Outputs()
	return &Client{
		cfg:        c,
		set:        set,
		catalog:    set.Catalog(),
		now:        time.Now,
		byIdentity: make(map[[33]byte]*round),
		bySID:      make(map[[32]byte]*round),
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
		status:     Status{State: "idle"},
		queues:     lru.NewMap[mixing.Denomination, []queuedSession](maxDenominations),
	}, nil
}

func (c *Client) testHook(h hook, r *round, msg interface{}) bool {
	if f, ok := c.testHooks[h]; ok {
		return f(c, r, msg)
	}
	return true
}

// Status returns the current status of the client.
func (c *Client) Status() Status {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.status
}

func (c *Client) setStatus(f func(s *Status)) {
	c.mtx.Lock()
	f(&c.status)
	c.mtx.Unlock()
}

// Balances returns the wallet balances, counting outputs mixed at least the
// configured number of rounds as anonymized.
func (c *Client) Balances() coinselect.Balances {
	return c.set.Balances(c.cfg.Rounds, 0)
}

// Stop stops StartMixing before its next round.  A round in progress is
// completed.
func (c *Client) Stop() {
	c.stopped.Store(true)
}

// HandleMessage routes a message from a masternode to the round it belongs
// to.  Session queue advertisements are remembered so that later rounds can
// join them.
func (c *Client) HandleMessage(ctx context.Context, from string, msg mixing.Message) {
	switch m := msg.(type) {
	case *mixing.MsgSessionQueue:
		c.handleQueue(from, m)

	case *mixing.MsgContributionStatus:
		c.mtx.Lock()
		r := c.byIdentity[m.Identity]
		ok := r != nil && r.verify(m)
		if ok && m.Accepted {
			// Bind the session before the status is delivered so that
			// a proposal following it is routed.
			r.sid = m.SessionID
			c.bySID[m.SessionID] = r
			c.status.SessionID = m.SessionID
		}
		c.mtx.Unlock()
		if ok {
			r.push(m)
		}

	case *mixing.MsgProposedTx:
		c.mtx.Lock()
		r := c.bySID[m.SessionID]
		c.mtx.Unlock()
		r.deliver(m)

	case *mixing.MsgSessionStatus:
		c.mtx.Lock()
		r := c.bySID[m.SessionID]
		c.mtx.Unlock()
		r.deliver(m)
	}
}

func (c *Client) handleQueue(from string, m *mixing.MsgSessionQueue) {
	snap := c.cfg.Registry.Snapshot(c.cfg.MinProtocolVersion)
	mn, ok := snap.ByAddr(from)
	if !ok || string(mn.SerializedPubKey()) != string(m.Masternode[:]) {
		return
	}
	if !m.Denom.IsSingle() || !mixing.VerifySignedMessage(m) {
		log.Debugf("Invalid session queue message from %s", from)
		return
	}
	err := mixing.ValidateSessionID(m.SessionID, m.Masternode[:], m.Denom,
		m.Nonce[:])
	if err != nil {
		log.Debugf("Session queue message from %s: %v", from, err)
		return
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()
	qs, _ := c.queues.Peek(m.Denom)
	for _, q := range qs {
		if q.sid == m.SessionID {
			return
		}
	}
	qs = append(qs, queuedSession{
		sid:        m.SessionID,
		masternode: from,
		time:       time.Unix(m.Time, 0),
	})
	if len(qs) > maxQueuedPerDenom {
		qs = qs[len(qs)-maxQueuedPerDenom:]
	}
	c.queues.Put(m.Denom, qs)
}

// queuedDenominations returns the masternodes advertising recent sessions
// for each denomination, most recent first.
func (c *Client) queuedDenominations() map[mixing.Denomination][]string {
	queued := make(map[mixing.Denomination][]string)
	now := c.now()

	c.mtx.Lock()
	defer c.mtx.Unlock()
	for _, d := range c.catalog.Denominations() {
		qs, ok := c.queues.Peek(d)
		if !ok {
			continue
		}
		for i := len(qs) - 1; i >= 0; i-- {
			if now.Sub(qs[i].time) > mixing.QueueTimeout {
				continue
			}
			queued[d] = append(queued[d], qs[i].masternode)
		}
	}
	return queued
}

func (c *Client) breaker(addr string) *gobreaker.CircuitBreaker {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	cb, ok := c.breakers[addr]
	if ok {
		return cb
	}
	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        addr,
		MaxRequests: 1,
		Timeout:     c.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Infof("Masternode %s breaker %v -> %v", name, from, to)
			metrics.Breakers.WithLabelValues(name).Set(float64(to))
		},
	})
	c.breakers[addr] = cb
	return cb
}

func (c *Client) available(addr string) bool {
	c.mtx.Lock()
	cb, ok := c.breakers[addr]
	c.mtx.Unlock()
	return !ok || cb.State() != gobreaker.StateOpen
}

// chooseMasternode picks the masternode for a round of denom.  Masternodes
// with an open breaker are skipped and the previous masternode is avoided
// when another is eligible.  A masternode advertising a session of denom is
// preferred.
func (c *Client) chooseMasternode(denom mixing.Denomination, queued []string) (masternode.Entry, error) {
	snap := c.cfg.Registry.Snapshot(c.cfg.MinProtocolVersion)

	c.mtx.Lock()
	last := c.lastMN
	c.mtx.Unlock()

	var eligible []masternode.Entry
	known := 0
	for _, e := range snap.Entries {
		if e.PubKey == nil {
			continue
		}
		known++
		if c.available(e.Addr) {
			eligible = append(eligible, e)
		}
	}
	switch {
	case known == 0:
		return masternode.Entry{}, mixing.RuleErrorf(mixing.ErrNoMasternodes,
			"no masternode available for mixing")
	case len(eligible) == 0:
		return masternode.Entry{}, errBackingOff
	}

	for _, addr := range queued {
		for _, e := range eligible {
			if e.Addr == addr {
				return e, nil
			}
		}
	}

	if len(eligible) > 1 {
		for i, e := range eligible {
			if e.Addr == last {
				eligible = append(eligible[:i], eligible[i+1:]...)
				break
			}
		}
	}
	return eligible[rand.IntN(len(eligible))], nil
}

func (c *Client) mixConstraints() coinselect.Constraints {
	return coinselect.Constraints{
		Purpose:                     coinselect.PurposeMix,
		WalletLock:                  c.cfg.Wallet.LockState(),
		MinConfirmations:            1,
		ExcludeMasternodeCollateral: true,
		MaxRounds:                   c.cfg.Rounds,
	}
}

// chooseDenomination picks the denomination of the next round among those
// with unmixed outputs.  A denomination with an advertised session is
// preferred, then the one with the most outputs.
func (c *Client) chooseDenomination(queued map[mixing.Denomination][]string) (mixing.Denomination, bool) {
	counts := c.set.DenominationCounts(c.mixConstraints())
	var best mixing.Denomination
	bestCount := 0
	for _, d := range c.catalog.Denominations() {
		n := counts[d]
		if n == 0 {
			continue
		}
		if len(queued[d]) > 0 {
			return d, true
		}
		if n > bestCount {
			best, bestCount = d, n
		}
	}
	return best, bestCount > 0
}

// MixRound performs one round of mixing: it selects unmixed outputs of one
// denomination, contributes them to a masternode session and signs the
// joint transaction.  Outputs created by the round are credited one more
// round than the least mixed input.  Every reservation made by a failed
// round is released.
func (c *Client) MixRound(ctx context.Context) error {
	c.roundMtx.Lock()
	defer c.roundMtx.Unlock()

	if c.cfg.Wallet.LockState() == coinselect.WalletLocked {
		return mixing.RuleErrorf(mixing.ErrWalletLocked,
			"wallet must be unlocked to mix")
	}

	r, err := c.prepare(ctx)
	if errors.Is(err, mixing.ErrResourceExhaustion) {
		log.Debugf("Denominating wallet funds: %v", err)
		if _, derr := c.Denominate(ctx); derr == nil {
			r, err = c.prepare(ctx)
		}
		if errors.Is(err, mixing.ErrResourceExhaustion) && c.pendingFunds() {
			return fmt.Errorf("%w: %v", errAwaitingConfirmation, err)
		}
	}
	if err != nil {
		return err
	}
	denom, mn := r.denom, r.mn

	c.setStatus(func(s *Status) {
		s.State = "contributing"
		s.Denom = c.catalog.Describe(denom)
		s.Masternode = mn.Addr
		s.SessionID = [32]byte{}
	})

	// The exchange runs to completion even when ctx is canceled, so that
	// a stopped client never withholds a signature.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx),
		5*c.cfg.PhaseTimeout)
	defer cancel()

	_, err = c.breaker(mn.Addr).Execute(func() (interface{}, error) {
		return nil, c.exchange(rctx, r)
	})
	c.unregister(r)
	c.mtx.Lock()
	c.lastMN = mn.Addr
	c.mtx.Unlock()

	if err != nil {
		r.release(c.set)
		metrics.Rounds.WithLabelValues("failed").Inc()
		c.setStatus(func(s *Status) {
			s.State = "failed"
			s.LastMessage = err.Error()
			s.FailedRounds++
		})
		log.Infof("Mixing round with %s failed: %v", mn.Addr, err)
		return err
	}

	r.complete(c.set)
	c.set.Release(r.collateralIn)
	metrics.Rounds.WithLabelValues("complete").Inc()
	c.setStatus(func(s *Status) {
		s.State = "complete"
		s.LastMessage = fmt.Sprintf("mixed %d %v %s", len(r.inputs),
			c.catalog.Describe(denom),
			pickNoun(len(r.inputs), "output", "outputs"))
		s.CompletedRounds++
	})
	log.Infof("Mixed %d %s of %v with %s", len(r.inputs),
		pickNoun(len(r.inputs), "output", "outputs"), r.amount, mn.Addr)
	return nil
}

func pickNoun(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}

// pendingFunds returns whether the wallet holds unconfirmed outputs that
// could be mixed or denominated once confirmed.
func (c *Client) pendingFunds() bool {
	for _, u := range c.set.Outputs() {
		if u.Confirmations > 0 || u.State != coinselect.Free || u.Locked ||
			mixing.IsMasternodeCollateral(u.Amount) {
			continue
		}
		if !c.catalog.IsDenominated(u.Amount) || u.Rounds < c.cfg.Rounds {
			return true
		}
	}
	return false
}

func (c *Client) insufficientFunds() error {
	return mixing.RuleErrorf(mixing.ErrResourceExhaustion,
		"mixing requires at least %v of unmixed funds and a collateral "+
			"of %v", c.catalog.Smallest(), mixing.CollateralAmount)
}

func (c *Client) register(r *round) {
	c.mtx.Lock()
	c.byIdentity[r.idPub] = r
	c.mtx.Unlock()
}

func (c *Client) unregister(r *round) {
	c.mtx.Lock()
	delete(c.byIdentity, r.idPub)
	if c.bySID[r.sid] == r {
		delete(c.bySID, r.sid)
	}
	c.mtx.Unlock()
}

// anonymized returns the value of outputs mixed the configured number of
// rounds.
func (c *Client) anonymized() dcrutil.Amount {
	return c.Balances().Anonymized
}

// StartMixing runs rounds until target is anonymized.  Failed sessions are
// retried with another masternode after an exponential backoff, until
// maxAttempts rounds failed.  Insufficient funds, a locked wallet or the
// absence of masternodes end mixing immediately.  Stop is honored between
// rounds.
func (c *Client) StartMixing(ctx context.Context, target dcrutil.Amount, maxAttempts int) error {
	c.stopped.Store(false)
	c.setStatus(func(s *Status) { s.Mixing = true })
	defer c.setStatus(func(s *Status) { s.Mixing = false })

	backoff := c.cfg.Backoff
	failures := 0
	for {
		if c.stopped.Load() {
			return ErrStopped
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.anonymized() >= target {
			log.Infof("Anonymized %v of %v", c.anonymized(), target)
			return nil
		}

		err := c.MixRound(ctx)
		switch {
		case err == nil:
			backoff = c.cfg.Backoff
			continue
		case fatal(err):
			return err
		case errors.Is(err, errAwaitingConfirmation):
			// Waiting for a block is not a failed round.
			log.Debugf("%v", err)
		default:
			failures++
		}

		if failures >= maxAttempts {
			return fmt.Errorf("%w: %d %s, last: %v", ErrTooManyFailures,
				failures, pickNoun(failures, "failure", "failures"), err)
		}
		delay := backoff + rand.Duration(backoff/2)
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
