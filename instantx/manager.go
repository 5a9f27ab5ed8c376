// Copyright (c) 2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package instantx implements quorum based transaction locks.
//
// A transaction submitted for locking is announced to the network.  A quorum
// of masternodes, selected by a keyed hash of the transaction id, votes to
// lock its inputs, or reports a conflict when an input is already bound to a
// different transaction.  A lock is complete once strictly more than half of
// the quorum voted for it.  Complete locks bind their inputs until the
// transaction is mined or the lock times out, and conflicting transactions
// are rejected in the meantime.
package instantx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/container/apbf"
	"github.com/decred/dcrd/container/lru"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/wire"
	"github.com/drkcore/darksend/internal/lockdb"
	"github.com/drkcore/darksend/internal/metrics"
	"github.com/drkcore/darksend/masternode"
	"github.com/drkcore/darksend/mixing"
)

const (
	seenCapacity = 50000
	seenFPRate   = 0.0001

	maxOrphanTxs     = 1024
	maxOrphanVotes   = 32
	maxResolved      = 4096
	minExpiryTick    = 10 * time.Millisecond
	maxExpiryTick    = time.Second
	defaultLockConfs = 1
)

// Status is the lock status of a transaction.
type Status int

// Lock statuses.
const (
	StatusUnknown Status = iota
	StatusPending
	StatusLocked
	StatusConflicted
	StatusUnlocked
)

var statusStrings = map[Status]string{
	StatusUnknown:    "unknown",
	StatusPending:    "pending",
	StatusLocked:     "locked",
	StatusConflicted: "conflicted",
	StatusUnlocked:   "unlocked",
}

func (s Status) String() string {
	if str, ok := statusStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Network announces lock requests and votes.
type Network interface {
	Broadcast(ctx context.Context, msg mixing.Message) error
}

// Store persists complete locks.
type Store interface {
	PutLock(l *lockdb.Lock) error
	DeleteLock(hash chainhash.Hash) error
	Locks() ([]*lockdb.Lock, error)
}

// Config configures a Manager.
type Config struct {
	Registry *masternode.Registry
	Network  Network

	// PrivKey and MasternodeID are set when this node is a masternode
	// and votes on lock requests.
	PrivKey      *secp256k1.PrivateKey
	MasternodeID wire.OutPoint

	// Store, when not nil, persists complete locks.
	Store Store

	QuorumSize         int
	MinProtocolVersion uint32

	// VoteTimeout bounds how long a request waits for votes and
	// LockTimeout how long a complete lock is honored without being
	// mined.
	VoteTimeout time.Duration
	LockTimeout time.Duration

	// LockConfirmations is the confirmation count displayed for locked
	// transactions that have fewer.
	LockConfirmations int64
}

type request struct {
	tx       *wire.MsgTx
	lock     *TransactionLock
	deadline time.Time
	status   Status
	conflict chainhash.Hash
	voted    bool
	done     chan struct{}
}

func (r *request) resolve(s Status) {
	r.status = s
	close(r.done)
	metrics.LockRequests.WithLabelValues(s.String()).Inc()
}

// Manager tracks lock requests and complete locks.  When configured as a
// masternode it also votes on the requests whose quorum it belongs to.
type Manager struct {
	cfg Config
	pub [33]byte
	now func() time.Time

	mtx          sync.Mutex
	requests     map[chainhash.Hash]*request
	locks        map[chainhash.Hash]*TransactionLock
	lockedInputs map[wire.OutPoint]chainhash.Hash

	// voted records the inputs this masternode promised to a
	// transaction.
	voted map[wire.OutPoint]chainhash.Hash

	resolved *lru.Map[chainhash.Hash, request]
	orphans  *lru.Map[chainhash.Hash, []*MsgLockVote]
	seen     *apbf.Filter
}

// New returns a manager configured by cfg.  Locks persisted in the store are
// restored.
func New(cfg *Config) (*Manager, error) {
	c := *cfg
	if c.Registry == nil || c.Network == nil {
		return nil, errors.New("instantx: missing masternode registry or network")
	}
	if c.QuorumSize == 0 {
		c.QuorumSize = DefaultQuorumSize
	}
	if c.VoteTimeout == 0 {
		c.VoteTimeout = mixing.LockVoteTimeout
	}
	if c.LockTimeout == 0 {
		c.LockTimeout = mixing.LockTimeout
	}
	if c.LockConfirmations == 0 {
		c.LockConfirmations = defaultLockConfs
	}

	m := &Manager{
		cfg:          c,
		now:          time.Now,
		requests:     make(map[chainhash.Hash]*request),
		locks:        make(map[chainhash.Hash]*TransactionLock),
		lockedInputs: make(map[wire.OutPoint]chainhash.Hash),
		voted:        make(map[wire.OutPoint]chainhash.Hash),
		resolved:     lru.NewMap[chainhash.Hash, request](maxResolved),
		orphans:      lru.NewMap[chainhash.Hash, []*MsgLockVote](maxOrphanTxs),
		seen:         apbf.NewFilter(seenCapacity, seenFPRate),
	}
	if c.PrivKey != nil {
		copy(m.pub[:], c.PrivKey.PubKey().SerializeCompressed())
	}

	if c.Store != nil {
		stored, err := c.Store.Locks()
		if err != nil {
			return nil, fmt.Errorf("instantx: loading locks: %w", err)
		}
		for _, s := range stored {
			l := &TransactionLock{
				TxHash:  s.TxHash,
				Inputs:  s.Inputs,
				Created: s.Created,
				votes:   make(map[wire.OutPoint]*MsgLockVote),
			}
			m.addLock(l)
		}
		if len(stored) > 0 {
			log.Infof("Restored %d transaction %s", len(stored),
				pickNoun(len(stored), "lock", "locks"))
		}
	}
	return m, nil
}

func pickNoun(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}

func (m *Manager) isMasternode() bool {
	return m.cfg.PrivKey != nil
}

// addLock records a complete lock.  The caller must hold the mutex or own
// the manager exclusively.
func (m *Manager) addLock(l *TransactionLock) {
	m.locks[l.TxHash] = l
	for _, op := range l.Inputs {
		m.lockedInputs[op] = l.TxHash
	}
}

// forget drops every record of a transaction's inputs.  The caller must hold
// the mutex.
func (m *Manager) forget(hash chainhash.Hash) {
	if l, ok := m.locks[hash]; ok {
		for _, op := range l.Inputs {
			if m.lockedInputs[op] == hash {
				delete(m.lockedInputs, op)
			}
		}
		delete(m.locks, hash)
	}
	for op, h := range m.voted {
		if h == hash {
			delete(m.voted, op)
		}
	}
}

// conflictOf returns a transaction other than hash that one of the inputs
// is bound to, either by a complete lock or by this masternode's vote.
// The caller must hold the mutex.
func (m *Manager) conflictOf(hash chainhash.Hash, inputs []wire.OutPoint) (chainhash.Hash, bool) {
	for _, op := range inputs {
		if other, ok := m.lockedInputs[op]; ok && other != hash {
			return other, true
		}
		if other, ok := m.voted[op]; ok && other != hash {
			return other, true
		}
	}
	return chainhash.Hash{}, false
}

// CheckConflict returns an ErrConflict error when tx spends an input locked
// by a different transaction.
func (m *Manager) CheckConflict(tx *wire.MsgTx) error {
	hash := tx.TxHash()

	m.mtx.Lock()
	defer m.mtx.Unlock()
	for _, in := range tx.TxIn {
		op := in.PreviousOutPoint
		if other, ok := m.lockedInputs[op]; ok && other != hash {
			return mixing.RuleErrorf(mixing.ErrConflict,
				"input %v is locked by transaction %v", op, other)
		}
	}
	return nil
}

// track returns the request of tx, creating it with the quorum of the
// current registry.  Orphan votes received before the request are applied.
// The caller must hold the mutex.
func (m *Manager) track(tx *wire.MsgTx, hash chainhash.Hash) (r *request, created bool) {
	if r, ok := m.requests[hash]; ok {
		return r, false
	}
	now := m.now()
	snap := m.cfg.Registry.Snapshot(m.cfg.MinProtocolVersion)
	quorum := SelectQuorum(hash, snap.Entries, m.cfg.QuorumSize)
	r = &request{
		tx:       tx,
		lock:     NewTransactionLock(tx, quorum, now),
		deadline: now.Add(m.cfg.VoteTimeout),
		status:   StatusPending,
		done:     make(chan struct{}),
	}
	m.requests[hash] = r

	if orphans, ok := m.orphans.Peek(hash); ok {
		m.orphans.Delete(hash)
		for _, v := range orphans {
			if err := m.applyVote(r, v); err != nil {
				log.Debugf("Discarding orphan vote from %v: %v",
					v.Masternode, err)
			}
		}
	}
	return r, true
}

// PendingLock is a lock request awaiting its resolution.
type PendingLock struct {
	m    *Manager
	hash chainhash.Hash
	done <-chan struct{}
}

// TxHash returns the hash of the transaction to be locked.
func (p *PendingLock) TxHash() chainhash.Hash {
	return p.hash
}

// Wait blocks until the request is locked, conflicted or timed out, and
// returns its status.
func (p *PendingLock) Wait(ctx context.Context) (Status, error) {
	select {
	case <-p.done:
		return p.m.Status(p.hash), nil
	case <-ctx.Done():
		return StatusPending, ctx.Err()
	}
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// RequestLock announces tx to the network and returns the pending request.
// Transactions spending inputs locked by another transaction are rejected
// with ErrConflict, and ErrNoMasternodes is returned when no quorum can be
// formed.  Failed requests are not retried.
func (m *Manager) RequestLock(ctx context.Context, tx *wire.MsgTx) (*PendingLock, error) {
	if len(tx.TxIn) == 0 {
		return nil, ErrEmptyTx
	}
	if err := m.CheckConflict(tx); err != nil {
		metrics.LockRequests.WithLabelValues(StatusConflicted.String()).Inc()
		return nil, err
	}
	hash := tx.TxHash()

	m.mtx.Lock()
	if _, ok := m.locks[hash]; ok {
		m.mtx.Unlock()
		return &PendingLock{m: m, hash: hash, done: closedChan}, nil
	}
	r, created := m.track(tx, hash)
	if len(r.lock.Quorum) == 0 {
		if created {
			delete(m.requests, hash)
		}
		m.mtx.Unlock()
		return nil, mixing.RuleErrorf(mixing.ErrNoMasternodes,
			"no masternodes to form a lock quorum")
	}
	vote := m.vote(r, hash)
	m.mtx.Unlock()

	msg := &MsgLockRequest{Tx: tx}
	msgHash := msg.Hash()
	m.seen.Add(msgHash[:])
	if err := m.cfg.Network.Broadcast(ctx, msg); err != nil {
		return nil, err
	}
	log.Debugf("Requested lock of %v from a quorum of %d", hash,
		len(r.lock.Quorum))

	if vote != nil {
		m.castVote(ctx, vote)
	}
	return &PendingLock{m: m, hash: hash, done: r.done}, nil
}

// vote creates this masternode's vote for a request when it is a quorum
// member that has not voted yet.  The caller must hold the mutex.
func (m *Manager) vote(r *request, hash chainhash.Hash) *MsgLockVote {
	if !m.isMasternode() || r.voted || !r.lock.InQuorum(m.cfg.MasternodeID) {
		return nil
	}
	r.voted = true

	v := &MsgLockVote{
		TxHash:     hash,
		Masternode: m.cfg.MasternodeID,
		PubKey:     m.pub,
	}
	if other, ok := m.conflictOf(hash, r.lock.Inputs); ok {
		v.Conflict = true
		v.ConflictTx = other
		log.Infof("Transaction %v conflicts with %v", hash, other)
	} else {
		for _, op := range r.lock.Inputs {
			m.voted[op] = hash
		}
	}
	if err := mixing.SignMessage(v, m.cfg.PrivKey); err != nil {
		log.Errorf("Failed to sign lock vote: %v", err)
		return nil
	}
	return v
}

func (m *Manager) castVote(ctx context.Context, v *MsgLockVote) {
	if err := m.ProcessVote(ctx, v); err != nil {
		log.Errorf("Own vote for %v rejected: %v", v.TxHash, err)
	}
}

// ProcessLockRequest handles a lock request received from a peer.  The
// request is tracked and relayed, and voted on when this masternode is a
// member of its quorum.
func (m *Manager) ProcessLockRequest(ctx context.Context, from string, msg *MsgLockRequest) error {
	if msg.Tx == nil || len(msg.Tx.TxIn) == 0 {
		return ErrEmptyTx
	}
	msgHash := msg.Hash()
	if m.seen.Contains(msgHash[:]) {
		return nil
	}
	m.seen.Add(msgHash[:])
	hash := msg.Tx.TxHash()

	m.mtx.Lock()
	if _, ok := m.locks[hash]; ok {
		m.mtx.Unlock()
		return nil
	}
	r, _ := m.track(msg.Tx, hash)
	vote := m.vote(r, hash)
	m.mtx.Unlock()

	log.Debugf("Received lock request for %v from %s", hash, from)
	if err := m.cfg.Network.Broadcast(ctx, msg); err != nil {
		log.Debugf("Failed to relay lock request: %v", err)
	}
	if vote != nil {
		m.castVote(ctx, vote)
	}
	return nil
}

// ProcessVote verifies and applies a lock vote, relaying it on first sight.
// Votes for transactions whose request was not received yet are kept until
// it is.
func (m *Manager) ProcessVote(ctx context.Context, v *MsgLockVote) error {
	voteHash := v.Hash()
	if m.seen.Contains(voteHash[:]) {
		return nil
	}

	entry, ok := m.cfg.Registry.Lookup(v.Masternode)
	if !ok {
		metrics.LockVotes.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: %v", ErrUnknownMasternode, v.Masternode)
	}
	if !bytes.Equal(entry.SerializedPubKey(), v.PubKey[:]) ||
		!mixing.VerifySignedMessage(v) {
		metrics.LockVotes.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: %v", ErrInvalidVote, v.Masternode)
	}
	m.seen.Add(voteHash[:])

	var lock *TransactionLock
	err := func() error {
		m.mtx.Lock()
		defer m.mtx.Unlock()

		r, ok := m.requests[v.TxHash]
		if !ok {
			if _, ok := m.locks[v.TxHash]; ok {
				return nil
			}
			if _, ok := m.resolved.Peek(v.TxHash); ok {
				return nil
			}
			orphans, _ := m.orphans.Peek(v.TxHash)
			if len(orphans) < maxOrphanVotes {
				m.orphans.Put(v.TxHash, append(orphans, v))
				metrics.LockVotes.WithLabelValues("orphan").Inc()
			}
			return nil
		}
		if err := m.applyVote(r, v); err != nil {
			return err
		}
		if r.status == StatusLocked {
			lock = r.lock
		}
		return nil
	}()
	if err != nil {
		metrics.LockVotes.WithLabelValues("rejected").Inc()
		return err
	}

	if lock != nil && m.cfg.Store != nil {
		err := m.cfg.Store.PutLock(&lockdb.Lock{
			TxHash:  lock.TxHash,
			Inputs:  lock.Inputs,
			Created: lock.Created,
		})
		if err != nil {
			log.Errorf("Failed to store lock of %v: %v", lock.TxHash, err)
		}
	}

	if err := m.cfg.Network.Broadcast(ctx, v); err != nil {
		log.Debugf("Failed to relay vote: %v", err)
	}
	return nil
}

// applyVote adds a verified vote to a pending request and resolves the
// request when it becomes locked or conflicted.  The caller must hold the
// mutex.
func (m *Manager) applyVote(r *request, v *MsgLockVote) error {
	if r.status != StatusPending {
		return nil
	}
	if !r.lock.InQuorum(v.Masternode) {
		return fmt.Errorf("%w: %v", ErrNotInQuorum, v.Masternode)
	}
	hash := r.lock.TxHash

	if v.Conflict {
		metrics.LockVotes.WithLabelValues("conflict").Inc()
		log.Infof("Masternode %v reports %v conflicting with %v",
			v.Masternode, hash, v.ConflictTx)
		r.conflict = v.ConflictTx
		m.finishRequest(r, StatusConflicted)
		return nil
	}

	added, err := r.lock.AddSignature(v)
	if err != nil || !added {
		return err
	}
	metrics.LockVotes.WithLabelValues("sign").Inc()
	if !r.lock.IsLocked() {
		return nil
	}
	if other, ok := m.conflictOf(hash, r.lock.Inputs); ok {
		if _, locked := m.locks[other]; locked {
			r.conflict = other
			m.finishRequest(r, StatusConflicted)
			return nil
		}
	}
	r.lock.Created = m.now()
	m.addLock(r.lock)
	m.finishRequest(r, StatusLocked)
	log.Infof("Locked transaction %v with %d of %d votes", hash,
		r.lock.Signatures(), len(r.lock.Quorum))
	return nil
}

// finishRequest resolves a pending request and moves it to the resolved
// requests.  The caller must hold the mutex.
func (m *Manager) finishRequest(r *request, s Status) {
	hash := r.lock.TxHash
	delete(m.requests, hash)
	if s != StatusLocked {
		m.forget(hash)
	}
	r.resolve(s)
	m.resolved.Put(hash, request{
		lock:     r.lock,
		status:   s,
		conflict: r.conflict,
	})
}

// Status returns the lock status of a transaction.
func (m *Manager) Status(hash chainhash.Hash) Status {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if _, ok := m.locks[hash]; ok {
		return StatusLocked
	}
	if r, ok := m.requests[hash]; ok {
		return r.status
	}
	if r, ok := m.resolved.Peek(hash); ok {
		return r.status
	}
	return StatusUnknown
}

// ConflictingTx returns the transaction a conflicted request conflicts with.
func (m *Manager) ConflictingTx(hash chainhash.Hash) (chainhash.Hash, bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	r, ok := m.resolved.Peek(hash)
	if !ok || r.status != StatusConflicted {
		return chainhash.Hash{}, false
	}
	return r.conflict, true
}

// DisplayConfirmations returns the confirmation count to display for a
// transaction with confs confirmations.  Locked transactions display at
// least the configured lock confirmations.
func (m *Manager) DisplayConfirmations(hash chainhash.Hash, confs int64) int64 {
	if confs < m.cfg.LockConfirmations && m.Status(hash) == StatusLocked {
		return m.cfg.LockConfirmations
	}
	return confs
}

// MarkMined releases the lock of a mined transaction.  The chain protects
// its inputs from then on.
func (m *Manager) MarkMined(hash chainhash.Hash) {
	m.mtx.Lock()
	l, ok := m.locks[hash]
	if ok {
		m.forget(hash)
		m.resolved.Put(hash, request{lock: l, status: StatusLocked})
	}
	m.mtx.Unlock()

	if ok {
		m.deleteStored(hash)
	}
}

func (m *Manager) deleteStored(hash chainhash.Hash) {
	if m.cfg.Store == nil {
		return
	}
	if err := m.cfg.Store.DeleteLock(hash); err != nil {
		log.Errorf("Failed to delete lock of %v: %v", hash, err)
	}
}

// ExpireRequests resolves requests that did not gather enough votes before
// their deadline as unlocked.  It returns the number of expired requests.
func (m *Manager) ExpireRequests(now time.Time) int {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	n := 0
	for hash, r := range m.requests {
		if now.Before(r.deadline) {
			continue
		}
		log.Infof("Lock request for %v timed out with %d of %d votes",
			hash, r.lock.Signatures(), r.lock.Threshold)
		m.finishRequest(r, StatusUnlocked)
		n++
	}
	return n
}

// ExpireLocks abandons complete locks whose transaction was not mined within
// the lock timeout.  It returns the number of expired locks.
func (m *Manager) ExpireLocks(now time.Time) int {
	var expired []chainhash.Hash

	m.mtx.Lock()
	for hash, l := range m.locks {
		if now.Sub(l.Created) < m.cfg.LockTimeout {
			continue
		}
		log.Infof("Lock of unmined transaction %v expired", hash)
		m.forget(hash)
		m.resolved.Put(hash, request{lock: l, status: StatusUnlocked})
		metrics.LockRequests.WithLabelValues("expired").Inc()
		expired = append(expired, hash)
	}
	m.mtx.Unlock()

	for _, hash := range expired {
		m.deleteStored(hash)
	}
	return len(expired)
}

// Run expires requests and locks until ctx is canceled.
func (m *Manager) Run(ctx context.Context) error {
	interval := m.cfg.VoteTimeout / 10
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
			m.ExpireRequests(now)
			m.ExpireLocks(now)
		}
	}
}

// HandleMessage dispatches a lock protocol message received from a peer.
// Other messages are ignored.
func (m *Manager) HandleMessage(ctx context.Context, from string, msg mixing.Message) error {
	switch msg := msg.(type) {
	case *MsgLockRequest:
		return m.ProcessLockRequest(ctx, from, msg)
	case *MsgLockVote:
		return m.ProcessVote(ctx, msg)
	}
	return nil
}
