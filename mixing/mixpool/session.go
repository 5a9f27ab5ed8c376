// Copyright (c) 2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mixpool

import (
	"fmt"
	"sync"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/txscript/v4"
	"github.com/decred/dcrd/wire"
	"github.com/drkcore/darksend/mixing"
)

// State is the state of a mixing session.
type State int

// Session states.
const (
	StateIdle State = iota
	StateAwaitingContributions
	StateAwaitingSignatures
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingContributions:
		return "awaiting contributions"
	case StateAwaitingSignatures:
		return "awaiting signatures"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal returns whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

const verifyFlags = txscript.ScriptDiscourageUpgradableNops |
	txscript.ScriptVerifyCleanStack |
	txscript.ScriptVerifyCheckLockTimeVerify |
	txscript.ScriptVerifyCheckSequenceVerify |
	txscript.ScriptVerifySHA256

type idPubKey = [33]byte

type participant struct {
	peer         string
	identity     idPubKey
	contribution *mixing.MsgContribution
	signed       bool
}

type prevOutput struct {
	value   int64
	script  []byte
	version uint16
	owner   *participant
}

type broadcast struct {
	ch chan struct{}
	mu sync.Mutex
}

// wait returns the wait channel that is closed whenever the session changes
// state.
func (b *broadcast) wait() <-chan struct{} {
	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()

	return ch
}

func (b *broadcast) signal() {
	b.mu.Lock()
	close(b.ch)
	b.ch = make(chan struct{})
	b.mu.Unlock()
}

// Session is one masternode-coordinated mixing round for a single
// denomination.  Its state is only changed by the owning Pool, one message at
// a time.
type Session struct {
	mu sync.Mutex

	id        [32]byte
	nonce     [32]byte
	denom     mixing.Denomination
	amount    dcrutil.Amount
	minPeers  int
	maxPeers  int
	state     State
	created   time.Time
	deadline  time.Time
	peers     []*participant
	inputs    map[wire.OutPoint]*prevOutput
	tx        *wire.MsgTx
	txHash    chainhash.Hash
	failure   error
	offenders []*participant

	bc broadcast
}

func newSession(id [32]byte, denom mixing.Denomination, amount dcrutil.Amount,
	minPeers, maxPeers int, now time.Time, timeout time.Duration) *Session {

	return &Session{
		id:       id,
		denom:    denom,
		amount:   amount,
		minPeers: minPeers,
		maxPeers: maxPeers,
		state:    StateIdle,
		created:  now,
		deadline: now.Add(timeout),
		inputs:   make(map[wire.OutPoint]*prevOutput),
		bc:       broadcast{ch: make(chan struct{})},
	}
}

// ID returns the session identifier.
func (s *Session) ID() [32]byte {
	return s.id
}

// Denomination returns the denomination mixed by the session.
func (s *Session) Denomination() mixing.Denomination {
	return s.denom
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Participants returns the number of accepted contributions.
func (s *Session) Participants() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Deadline returns the deadline of the current phase.
func (s *Session) Deadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

// Failure returns the reason a Failed session failed.
func (s *Session) Failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Tx returns a copy of the proposed, or once complete the final, joint
// transaction.  It is nil before the session collects signatures.
func (s *Session) Tx() *wire.MsgTx {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return nil
	}
	return s.tx.Copy()
}

// Changed returns a channel that is closed on the next state change.
func (s *Session) Changed() <-chan struct{} {
	return s.bc.wait()
}

func (s *Session) setState(state State) {
	log.Debugf("Session %x (%v): %v -> %v", s.id[:8], s.denom, s.state, state)
	s.state = state
	s.bc.signal()
}

// addContribution applies an accepted contribution.  The caller must hold
// s.mu.
func (s *Session) addContribution(p *participant, prevOuts map[wire.OutPoint]*prevOutput) error {
	switch s.state {
	case StateIdle, StateAwaitingContributions:
	default:
		return exhaustion(fmt.Sprintf("session is %v", s.state))
	}
	if len(s.peers) >= s.maxPeers {
		return exhaustion("session is full")
	}

	for op, prev := range prevOuts {
		prev.owner = p
		s.inputs[op] = prev
	}
	s.peers = append(s.peers, p)
	if s.state == StateIdle {
		s.setState(StateAwaitingContributions)
	}
	return nil
}

// full returns whether the participant cap was reached.
func (s *Session) full() bool {
	return len(s.peers) >= s.maxPeers
}

// propose assembles the joint transaction and moves the session to
// AwaitingSignatures.  The caller must hold s.mu.
func (s *Session) propose(now time.Time, timeout time.Duration) {
	tx := wire.NewMsgTx()
	for _, p := range s.peers {
		c := p.contribution
		for i := range c.Inputs {
			op := c.Inputs[i].OutPoint
			tx.AddTxIn(wire.NewTxIn(&op, s.inputs[op].value, nil))
		}
		for _, out := range c.Outputs {
			tx.AddTxOut(&wire.TxOut{
				Value:    out.Value,
				Version:  out.Version,
				PkScript: out.PkScript,
			})
		}
	}
	mixing.OrderTx(tx)

	s.tx = tx
	s.txHash = tx.TxHash()
	s.deadline = now.Add(timeout)
	s.setState(StateAwaitingSignatures)
}

func (s *Session) participant(identity *idPubKey) *participant {
	for _, p := range s.peers {
		if p.identity == *identity {
			return p
		}
	}
	return nil
}

// applySignature merges the signature scripts a participant provided for
// its own inputs.  Each script is verified before any is kept.  The caller
// must hold s.mu.
func (s *Session) applySignature(p *participant, signed *wire.MsgTx) error {
	if s.state != StateAwaitingSignatures {
		return exhaustion(fmt.Sprintf("session is %v", s.state))
	}
	if signed == nil || signed.TxHash() != s.txHash ||
		len(signed.TxIn) != len(s.tx.TxIn) {
		return ErrSignedWrongTx
	}

	var scripts [][]byte
	var indexes []int
	for i, in := range s.tx.TxIn {
		prev := s.inputs[in.PreviousOutPoint]
		if prev.owner != p {
			continue
		}
		scripts = append(scripts, signed.TxIn[i].SignatureScript)
		indexes = append(indexes, i)
	}

	check := s.tx.Copy()
	for j, i := range indexes {
		check.TxIn[i].SignatureScript = scripts[j]
	}
	for _, i := range indexes {
		prev := s.inputs[check.TxIn[i].PreviousOutPoint]
		vm, err := txscript.NewEngine(prev.script, check, i, verifyFlags,
			prev.version, nil)
		if err == nil {
			err = vm.Execute()
		}
		if err != nil {
			return fmt.Errorf("%w: input %d: %v", ErrInvalidInputSignature, i, err)
		}
	}

	for j, i := range indexes {
		s.tx.TxIn[i].SignatureScript = scripts[j]
	}
	p.signed = true
	return nil
}

// signedAll returns whether every participant signed.
func (s *Session) signedAll() bool {
	for _, p := range s.peers {
		if !p.signed {
			return false
		}
	}
	return true
}

// unsigned returns the participants that have not signed.
func (s *Session) unsigned() []*participant {
	var ps []*participant
	for _, p := range s.peers {
		if !p.signed {
			ps = append(ps, p)
		}
	}
	return ps
}

// fail moves the session to Failed.  The caller must hold s.mu.
func (s *Session) fail(reason error, offenders ...*participant) {
	s.failure = reason
	s.offenders = offenders
	s.setState(StateFailed)
}
