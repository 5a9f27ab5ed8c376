// Copyright (c) 2024-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mixpool implements the masternode side of mixing.  A Pool
// coordinates sessions for each denomination: it collects contributions,
// proposes the joint transaction, gathers partial signatures and publishes the
// result, penalizing participants that break the protocol.
package mixpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/decred/dcrd/container/apbf"
	"github.com/decred/dcrd/container/lru"
	"github.com/decred/dcrd/crypto/rand"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/txscript/v4/stdaddr"
	"github.com/decred/dcrd/wire"
	"github.com/drkcore/darksend/internal/metrics"
	"github.com/drkcore/darksend/internal/progresslog"
	"github.com/drkcore/darksend/mixing"
	"github.com/drkcore/darksend/mixing/utxoproof"
)

const (
	// DefaultMaxOffences is the number of protocol violations after which
	// a peer is deprioritized.
	DefaultMaxOffences = 3

	// DefaultOffenceTTL is how long offences are remembered.
	DefaultOffenceTTL = time.Hour

	maxOffenders   = 4096
	maxRecent      = 256
	seenCapacity   = 10000
	seenFPRate     = 0.0001
	minExpiryTick  = 10 * time.Millisecond
	maxExpiryTick  = time.Second
	feeChargeRange = 100
)

// Network sends messages to peers and publishes transactions.
type Network interface {
	SendMessage(ctx context.Context, to string, msg mixing.Message) error
	Broadcast(ctx context.Context, msg mixing.Message) error
	PublishTransaction(ctx context.Context, tx *wire.MsgTx) error
}

// CollateralChecker validates collateral transactions.  It is implemented
// by *collateral.Validator.
type CollateralChecker interface {
	Check(tx *wire.MsgTx) error
}

// Config configures a Pool.
type Config struct {
	// PrivKey is the masternode key signing every message sent by the
	// pool.
	PrivKey *secp256k1.PrivateKey

	Catalog    *mixing.Catalog
	Utxos      mixing.UtxoFetcher
	Collateral CollateralChecker
	Network    Network

	// MinParticipants is the number of contributions a session needs to
	// proceed to signing when its contribution phase times out.
	// MaxParticipants contributions start signing immediately.
	MinParticipants int
	MaxParticipants int

	PhaseTimeout time.Duration

	// FeeChargePercent is the chance, in percent, that the collateral of
	// one random participant of a completed session is published as the
	// mixing fee.
	FeeChargePercent int

	MaxOffences int
	OffenceTTL  time.Duration
}

type offence struct {
	count int
	until time.Time
}

// Pool coordinates the mixing sessions of a masternode.
type Pool struct {
	cfg Config
	pub [33]byte
	now func() time.Time

	mtx        sync.RWMutex
	sessions   map[[32]byte]*Session
	open       map[mixing.Denomination]*Session
	outPoints  map[wire.OutPoint][32]byte
	identities map[idPubKey][32]byte

	recent *lru.Map[[32]byte, *Session]
	seen   *apbf.Filter

	offenceMtx sync.Mutex
	offences   *lru.Map[string, offence]

	progress *progresslog.Logger
}

// New returns a pool configured by cfg.  Zero participant counts, timeouts
// and offence limits are replaced by their defaults.
func New(cfg *Config) (*Pool, error) {
	c := *cfg
	if c.PrivKey == nil {
		return nil, errors.New("mixpool: no masternode key")
	}
	if c.Catalog == nil {
		c.Catalog = mixing.DefaultCatalog
	}
	if c.Utxos == nil || c.Collateral == nil || c.Network == nil {
		return nil, errors.New("mixpool: missing utxo set, collateral " +
			"validator or network")
	}
	if c.MinParticipants == 0 {
		c.MinParticipants = mixing.DefaultMinParticipants
	}
	if c.MaxParticipants == 0 {
		c.MaxParticipants = mixing.DefaultMaxParticipants
	}
	if c.MinParticipants < 1 || c.MaxParticipants < c.MinParticipants {
		return nil, fmt.Errorf("mixpool: invalid participant bounds "+
			"[%d, %d]", c.MinParticipants, c.MaxParticipants)
	}
	if c.FeeChargePercent < 0 || c.FeeChargePercent > feeChargeRange {
		return nil, fmt.Errorf("mixpool: fee charge percent %d out of "+
			"range", c.FeeChargePercent)
	}
	if c.PhaseTimeout == 0 {
		c.PhaseTimeout = mixing.PhaseTimeout
	}
	if c.MaxOffences == 0 {
		c.MaxOffences = DefaultMaxOffences
	}
	if c.OffenceTTL == 0 {
		c.OffenceTTL = DefaultOffenceTTL
	}

	p := &Pool{
		cfg:        c,
		now:        time.Now,
		sessions:   make(map[[32]byte]*Session),
		open:       make(map[mixing.Denomination]*Session),
		outPoints:  make(map[wire.OutPoint][32]byte),
		identities: make(map[idPubKey][32]byte),
		recent:     lru.NewMap[[32]byte, *Session](maxRecent),
		seen:       apbf.NewFilter(seenCapacity, seenFPRate),
		offences:   lru.NewMap[string, offence](maxOffenders),
		progress:   progresslog.New("Mixed", log),
	}
	copy(p.pub[:], c.PrivKey.PubKey().SerializeCompressed())
	return p, nil
}

// PubKey returns the serialized masternode key of the pool.
func (p *Pool) PubKey() [33]byte {
	return p.pub
}

// Session returns an active or recently finished session.
func (p *Pool) Session(id [32]byte) (*Session, bool) {
	p.mtx.RLock()
	s, ok := p.sessions[id]
	p.mtx.RUnlock()
	if ok {
		return s, true
	}
	return p.recent.Peek(id)
}

// Sessions returns the active sessions.
func (p *Pool) Sessions() []*Session {
	p.mtx.RLock()
	defer p.mtx.RUnlock()

	sessions := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Deprioritized returns whether contributions from peer are refused.
func (p *Pool) Deprioritized(peer string) bool {
	p.offenceMtx.Lock()
	defer p.offenceMtx.Unlock()

	o, ok := p.offences.Get(peer)
	if !ok {
		return false
	}
	if !p.now().Before(o.until) {
		p.offences.Delete(peer)
		return false
	}
	return o.count >= p.cfg.MaxOffences
}

// chargeOffence records a protocol violation by peer.  Severe offences, such
// as withholding signatures, deprioritize the peer immediately.
func (p *Pool) chargeOffence(peer string, severe bool) {
	p.offenceMtx.Lock()
	defer p.offenceMtx.Unlock()

	now := p.now()
	o, ok := p.offences.Get(peer)
	if !ok || !now.Before(o.until) {
		o = offence{}
	}
	o.count++
	if severe && o.count < p.cfg.MaxOffences {
		o.count = p.cfg.MaxOffences
	}
	o.until = now.Add(p.cfg.OffenceTTL)
	p.offences.Put(peer, o)
	metrics.Offences.Inc()

	if o.count == p.cfg.MaxOffences {
		log.Infof("Deprioritizing peer %s after %d %s", peer, o.count,
			pickNoun(o.count, "offence", "offences"))
	}
}

func (p *Pool) sign(m mixing.SignedMessage) error {
	return mixing.SignMessage(m, p.cfg.PrivKey)
}

func (p *Pool) send(ctx context.Context, to string, m mixing.SignedMessage) {
	if err := p.sign(m); err != nil {
		log.Errorf("Failed to sign %s: %v", m.Command(), err)
		return
	}
	if err := p.cfg.Network.SendMessage(ctx, to, m); err != nil {
		log.Debugf("Failed to send %s to %s: %v", m.Command(), to, err)
	}
}

// HandleMessage processes a message received from peer.  Messages already
// seen and messages the pool does not handle are ignored.
func (p *Pool) HandleMessage(ctx context.Context, from string, msg mixing.Message) error {
	switch msg.(type) {
	case *mixing.MsgContribution, *mixing.MsgPartialSig:
	default:
		return nil
	}

	hash := msg.Hash()
	if p.seen.Contains(hash[:]) {
		return nil
	}
	p.seen.Add(hash[:])

	switch m := msg.(type) {
	case *mixing.MsgContribution:
		_, err := p.AcceptContribution(ctx, from, m)
		return err
	case *mixing.MsgPartialSig:
		return p.AcceptSignature(ctx, from, m)
	}
	return nil
}

// checkContribution performs every check of a contribution that does not
// depend on the state of the pool.  It returns the previous outputs spent by
// the contribution.
func (p *Pool) checkContribution(msg *mixing.MsgContribution) (map[wire.OutPoint]*prevOutput, error) {
	if !mixing.VerifySignedMessage(msg) {
		return nil, ErrInvalidSignature
	}
	amount, ok := p.cfg.Catalog.Amount(msg.Denom)
	if !msg.Denom.IsSingle() || !ok {
		return nil, ErrInvalidDenomination
	}
	switch {
	case len(msg.Inputs) == 0:
		return nil, ErrMissingInputs
	case len(msg.Inputs) > mixing.MaxEntryInputs:
		return nil, ErrTooManyInputs
	case len(msg.Outputs) != len(msg.Inputs):
		return nil, ErrInputOutputCount
	}

	for i, out := range msg.Outputs {
		if out == nil || dcrutil.Amount(out.Value) != amount {
			return nil, fmt.Errorf("%w: output %d", ErrWrongOutputValue, i)
		}
		if !mixing.MixableScript(out.Version, out.PkScript) {
			return nil, fmt.Errorf("%w: output %d", ErrInvalidScript, i)
		}
	}

	prevOuts := make(map[wire.OutPoint]*prevOutput, len(msg.Inputs))
	for i := range msg.Inputs {
		in := &msg.Inputs[i]
		if _, ok := prevOuts[in.OutPoint]; ok {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateInput, in.OutPoint)
		}
		entry, err := p.cfg.Utxos.FetchUtxoEntry(in.OutPoint)
		if err != nil {
			return nil, err
		}
		if entry == nil || entry.IsSpent() {
			return nil, fmt.Errorf("%w: %v", ErrMissingUTXO, in.OutPoint)
		}
		if dcrutil.Amount(entry.Amount()) != amount {
			return nil, fmt.Errorf("%w: %v", ErrWrongInputValue, in.OutPoint)
		}
		if !mixing.MixableScript(entry.ScriptVersion(), entry.PkScript()) {
			return nil, fmt.Errorf("%w: input %v", ErrInvalidScript, in.OutPoint)
		}
		pkh := mixing.PubKeyHash(entry.PkScript())
		if string(stdaddr.Hash160(in.PubKey[:])) != string(pkh) ||
			!utxoproof.ValidateSecp256k1P2PKH(in.PubKey[:], in.Proof[:],
				msg.Identity[:]) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidUTXOProof, in.OutPoint)
		}
		prevOuts[in.OutPoint] = &prevOutput{
			value:   entry.Amount(),
			script:  entry.PkScript(),
			version: entry.ScriptVersion(),
		}
	}

	if err := p.cfg.Collateral.Check(msg.Collateral); err != nil {
		return nil, err
	}
	if _, ok := prevOuts[msg.Collateral.TxIn[0].PreviousOutPoint]; ok {
		return nil, fmt.Errorf("%w: collateral spends a contributed input",
			ErrDuplicateInput)
	}

	return prevOuts, nil
}

// AcceptContribution adds a contribution received from peer to the open
// session of its denomination, starting a new session when none is open.
// The contributor is told whether it was accepted.  A rejected contribution
// leaves every session unchanged.  When the session reaches its participant
// cap the joint transaction is proposed to every participant.
func (p *Pool) AcceptContribution(ctx context.Context, from string, msg *mixing.MsgContribution) (*Session, error) {
	var s *Session
	var created bool
	var proposal *mixing.MsgProposedTx
	var participants []string

	err := func() error {
		if p.Deprioritized(from) {
			return ErrPeerDeprioritized
		}
		prevOuts, err := p.checkContribution(msg)
		if err != nil {
			return err
		}

		p.mtx.Lock()
		defer p.mtx.Unlock()

		if _, ok := p.identities[msg.Identity]; ok {
			return ErrDuplicateIdentity
		}
		collateralIn := msg.Collateral.TxIn[0].PreviousOutPoint
		if _, ok := p.outPoints[collateralIn]; ok {
			return fmt.Errorf("%w: collateral %v", ErrDuplicateInput, collateralIn)
		}
		for op := range prevOuts {
			if _, ok := p.outPoints[op]; ok {
				return fmt.Errorf("%w: %v", ErrDuplicateInput, op)
			}
		}

		s = p.open[msg.Denom]
		if s != nil {
			s.mu.Lock()
			accepting := s.state == StateIdle ||
				s.state == StateAwaitingContributions
			if !accepting || s.full() {
				s.mu.Unlock()
				s = nil
			}
		}
		if s == nil {
			amount, _ := p.cfg.Catalog.Amount(msg.Denom)
			var nonce [32]byte
			rand.Read(nonce[:])
			id := mixing.DeriveSessionID(p.pub[:], msg.Denom, nonce[:])
			s = newSession(id, msg.Denom, amount, p.cfg.MinParticipants,
				p.cfg.MaxParticipants, p.now(), p.cfg.PhaseTimeout)
			s.nonce = nonce
			p.sessions[id] = s
			p.open[msg.Denom] = s
			created = true
			metrics.ActiveSessions.Inc()
			s.mu.Lock()
		}
		defer s.mu.Unlock()

		part := &participant{
			peer:         from,
			identity:     msg.Identity,
			contribution: msg,
		}
		if err := s.addContribution(part, prevOuts); err != nil {
			return err
		}
		for op := range prevOuts {
			p.outPoints[op] = s.id
		}
		p.outPoints[collateralIn] = s.id
		p.identities[msg.Identity] = s.id

		if s.full() {
			delete(p.open, s.denom)
			s.propose(p.now(), p.cfg.PhaseTimeout)
			proposal = &mixing.MsgProposedTx{
				SessionID:  s.id,
				Tx:         s.tx.Copy(),
				Masternode: p.pub,
			}
			participants = s.peerAddrs()
		}
		return nil
	}()

	status := &mixing.MsgContributionStatus{
		Identity:   msg.Identity,
		Masternode: p.pub,
	}
	if err != nil {
		status.Reason = err.Error()
		metrics.Contributions.WithLabelValues("rejected").Inc()
		if IsOffence(err) {
			p.chargeOffence(from, false)
		}
		log.Debugf("Rejected contribution from %s: %v", from, err)
		p.send(ctx, from, status)
		return nil, err
	}

	metrics.Contributions.WithLabelValues("accepted").Inc()
	log.Debugf("Accepted contribution from %s to session %x (%v)", from,
		s.id[:8], s.denom)
	status.SessionID = s.id
	status.Accepted = true
	p.send(ctx, from, status)

	if created {
		dsq := &mixing.MsgSessionQueue{
			SessionID:  s.id,
			Nonce:      s.nonce,
			Denom:      s.denom,
			Time:       p.now().Unix(),
			Masternode: p.pub,
		}
		if err := p.sign(dsq); err == nil {
			if err := p.cfg.Network.Broadcast(ctx, dsq); err != nil {
				log.Debugf("Failed to advertise session: %v", err)
			}
		}
	}
	if proposal != nil {
		p.sendProposal(ctx, proposal, participants)
	}
	return s, nil
}

func (s *Session) peerAddrs() []string {
	addrs := make([]string, len(s.peers))
	for i, p := range s.peers {
		addrs[i] = p.peer
	}
	return addrs
}

func (p *Pool) sendProposal(ctx context.Context, m *mixing.MsgProposedTx, to []string) {
	log.Infof("Session %x proposing transaction %v with %d %s",
		m.SessionID[:8], m.Tx.TxHash(), len(m.Tx.TxIn),
		pickNoun(len(m.Tx.TxIn), "input", "inputs"))
	if err := p.sign(m); err != nil {
		log.Errorf("Failed to sign proposal: %v", err)
		return
	}
	for _, addr := range to {
		if err := p.cfg.Network.SendMessage(ctx, addr, m); err != nil {
			log.Debugf("Failed to send proposal to %s: %v", addr, err)
		}
	}
}

// AcceptSignature merges a participant's partial signature into the proposed
// transaction of its session.  An invalid signature fails the session and
// forfeits the signer's collateral.  Once every participant has signed, the
// transaction is published and the session completes.
func (p *Pool) AcceptSignature(ctx context.Context, from string, msg *mixing.MsgPartialSig) error {
	if !mixing.VerifySignedMessage(msg) {
		p.chargeOffence(from, false)
		return ErrInvalidSignature
	}

	p.mtx.RLock()
	s, ok := p.sessions[msg.SessionID]
	p.mtx.RUnlock()
	if !ok {
		return ErrUnknownSession
	}

	s.mu.Lock()
	part := s.participant(&msg.Identity)
	if part == nil {
		s.mu.Unlock()
		return ErrNotParticipant
	}
	err := s.applySignature(part, msg.Tx)
	switch {
	case err != nil && IsOffence(err):
		log.Warnf("Session %x: participant %s: %v", s.id[:8], from, err)
		s.fail(err, part)
		s.mu.Unlock()
		p.finish(ctx, s)
		return err

	case err != nil:
		s.mu.Unlock()
		return err

	case !s.signedAll():
		s.mu.Unlock()
		return nil
	}

	tx := s.tx.Copy()
	if err := p.cfg.Network.PublishTransaction(ctx, tx); err != nil {
		reason := mixing.RuleErrorf(mixing.ErrConflict,
			"joint transaction rejected: %v", err)
		s.fail(reason, p.spentInputOwners(s)...)
		s.mu.Unlock()
		p.finish(ctx, s)
		return nil
	}
	s.setState(StateComplete)
	s.mu.Unlock()

	log.Infof("Session %x complete: published %v", s.id[:8], s.txHash)
	p.finish(ctx, s)
	return nil
}

// spentInputOwners returns the participants whose contributed inputs were
// spent elsewhere.  The caller must hold s.mu.
func (p *Pool) spentInputOwners(s *Session) []*participant {
	var owners []*participant
	added := make(map[*participant]struct{})
	for op, prev := range s.inputs {
		if _, ok := added[prev.owner]; ok {
			continue
		}
		entry, err := p.cfg.Utxos.FetchUtxoEntry(op)
		if err != nil || (entry != nil && !entry.IsSpent()) {
			continue
		}
		owners = append(owners, prev.owner)
		added[prev.owner] = struct{}{}
	}
	return owners
}

// ExpireSessions advances or fails every session whose phase deadline is not
// after now.  Sessions collecting contributions with at least the minimum
// participant count proceed to signing; others fail.  Participants that did
// not sign in time forfeit their collateral.  Returns the number of failed
// sessions.
func (p *Pool) ExpireSessions(ctx context.Context, now time.Time) int {
	failed := 0
	for _, s := range p.Sessions() {
		var proposal *mixing.MsgProposedTx
		var participants []string

		s.mu.Lock()
		if s.state.Terminal() || now.Before(s.deadline) {
			s.mu.Unlock()
			continue
		}
		switch s.state {
		case StateAwaitingContributions:
			if len(s.peers) >= s.minPeers {
				s.propose(now, p.cfg.PhaseTimeout)
				proposal = &mixing.MsgProposedTx{
					SessionID:  s.id,
					Tx:         s.tx.Copy(),
					Masternode: p.pub,
				}
				participants = s.peerAddrs()
				break
			}
			s.fail(fmt.Errorf("%w: %d of %d participants", ErrSessionTimeout,
				len(s.peers), s.minPeers))

		case StateAwaitingSignatures:
			s.fail(ErrSessionTimeout, s.unsigned()...)

		default:
			s.fail(ErrSessionTimeout)
		}
		state := s.state
		s.mu.Unlock()

		if proposal != nil {
			p.mtx.Lock()
			if p.open[s.denom] == s {
				delete(p.open, s.denom)
			}
			p.mtx.Unlock()
			p.sendProposal(ctx, proposal, participants)
			continue
		}
		if state == StateFailed {
			failed++
			p.finish(ctx, s)
		}
	}
	return failed
}

// finish releases everything held by a session in a terminal state,
// notifies its participants and charges collateral.
func (p *Pool) finish(ctx context.Context, s *Session) {
	p.mtx.Lock()
	if _, ok := p.sessions[s.id]; !ok {
		p.mtx.Unlock()
		return
	}
	delete(p.sessions, s.id)
	if p.open[s.denom] == s {
		delete(p.open, s.denom)
	}
	for op, id := range p.outPoints {
		if id == s.id {
			delete(p.outPoints, op)
		}
	}
	for identity, id := range p.identities {
		if id == s.id {
			delete(p.identities, identity)
		}
	}
	p.mtx.Unlock()
	p.recent.Put(s.id, s)
	metrics.ActiveSessions.Dec()

	s.mu.Lock()
	status := &mixing.MsgSessionStatus{
		SessionID:  s.id,
		Complete:   s.state == StateComplete,
		Masternode: p.pub,
	}
	if status.Complete {
		status.TxHash = s.txHash
	} else if s.failure != nil {
		status.Reason = s.failure.Error()
	}
	peers := s.peerAddrs()
	summary := &progresslog.SessionSummary{
		Complete:     status.Complete,
		Participants: len(s.peers),
		Inputs:       len(s.inputs),
	}
	for _, part := range s.peers {
		for _, out := range part.contribution.Outputs {
			summary.Amount += dcrutil.Amount(out.Value)
		}
	}
	var charged []*participant
	var reason string
	if status.Complete {
		if len(s.peers) > 0 && p.cfg.FeeChargePercent > 0 &&
			rand.IntN(feeChargeRange) < p.cfg.FeeChargePercent {
			charged = []*participant{s.peers[rand.IntN(len(s.peers))]}
			reason = "fee"
		}
	} else {
		charged = s.offenders
		reason = "penalty"
	}
	s.mu.Unlock()

	if status.Complete {
		metrics.Sessions.WithLabelValues("complete").Inc()
	} else {
		metrics.Sessions.WithLabelValues("failed").Inc()
		log.Infof("Session %x failed: %v", s.id[:8], status.Reason)
	}
	p.progress.LogSession(summary, false)

	if err := p.sign(status); err != nil {
		log.Errorf("Failed to sign session status: %v", err)
	} else {
		for _, addr := range peers {
			if err := p.cfg.Network.SendMessage(ctx, addr, status); err != nil {
				log.Debugf("Failed to send session status to %s: %v",
					addr, err)
			}
		}
	}

	for _, part := range charged {
		if reason == "penalty" {
			p.chargeOffence(part.peer, true)
		}
		collateral := part.contribution.Collateral
		err := p.cfg.Network.PublishTransaction(ctx, collateral)
		if err != nil {
			log.Debugf("Failed to publish collateral of %s: %v",
				part.peer, err)
			continue
		}
		metrics.CollateralCharged.WithLabelValues(reason).Inc()
		log.Infof("Charged collateral %v of %s (%s)", collateral.TxHash(),
			part.peer, reason)
	}
}

// Run expires sessions until ctx is canceled.
func (p *Pool) Run(ctx context.Context) error {
	interval := p.cfg.PhaseTimeout / 10
	switch {
	case interval < minExpiryTick:
		interval = minExpiryTick
	case interval > maxExpiryTick:
		interval = maxExpiryTick
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			p.ExpireSessions(ctx, now)
		}
	}
}
