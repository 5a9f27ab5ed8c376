// Copyright (c) 2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package instantx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/wire"
	"github.com/drkcore/darksend/internal/lockdb"
	"github.com/drkcore/darksend/internal/simnet"
	"github.com/drkcore/darksend/masternode"
	"github.com/drkcore/darksend/mixing"
)

// recordNet records broadcast messages without delivering them.
type recordNet struct {
	mtx  sync.Mutex
	msgs []mixing.Message
}

func (n *recordNet) Broadcast(ctx context.Context, msg mixing.Message) error {
	n.mtx.Lock()
	n.msgs = append(n.msgs, msg)
	n.mtx.Unlock()
	return nil
}

func (n *recordNet) votes() []*MsgLockVote {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	var votes []*MsgLockVote
	for _, msg := range n.msgs {
		if v, ok := msg.(*MsgLockVote); ok {
			votes = append(votes, v)
		}
	}
	return votes
}

func newRegistry(entries []masternode.Entry) *masternode.Registry {
	r := masternode.NewRegistry(mixing.MasternodeExpiry)
	for _, e := range entries {
		r.Update(e)
	}
	return r
}

func newManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := New(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func signedVote(t *testing.T, priv *secp256k1.PrivateKey, e masternode.Entry, tx *wire.MsgTx) *MsgLockVote {
	t.Helper()
	v := &MsgLockVote{TxHash: tx.TxHash(), Masternode: e.ID}
	copy(v.PubKey[:], priv.PubKey().SerializeCompressed())
	if err := mixing.SignMessage(v, priv); err != nil {
		t.Fatal(err)
	}
	return v
}

func waitStatus(t *testing.T, m *Manager, tx *wire.MsgTx, want Status) {
	t.Helper()
	hash := tx.TxHash()
	deadline := time.Now().Add(5 * time.Second)
	for m.Status(hash) != want {
		if time.Now().After(deadline) {
			t.Fatalf("status of %v is %v, want %v", hash, m.Status(hash), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLockOverNetwork(t *testing.T) {
	useTestLogger(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const numMasternodes = 7
	const quorumSize = 5
	entries, keys := testEntries(t, numMasternodes)
	registry := newRegistry(entries)
	hub := simnet.NewHub(simnet.NewChain(true))

	join := func(addr string, priv *secp256k1.PrivateKey, id wire.OutPoint) *Manager {
		var m *Manager
		ep := hub.Join(ctx, addr, func(ctx context.Context, from string, msg mixing.Message) {
			_ = m.HandleMessage(ctx, from, msg)
		})
		m = newManager(t, Config{
			Registry:     registry,
			Network:      ep,
			PrivKey:      priv,
			MasternodeID: id,
			QuorumSize:   quorumSize,
		})
		return m
	}
	masternodes := make([]*Manager, numMasternodes)
	for i := range entries {
		masternodes[i] = join(entries[i].Addr, keys[i], entries[i].ID)
	}
	wallet := join("wallet", nil, wire.OutPoint{})

	tx := testTx("network", 3)
	p, err := wallet.RequestLock(ctx, tx)
	if err != nil {
		t.Fatal(err)
	}
	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	status, err := p.Wait(waitCtx)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusLocked {
		t.Fatalf("lock request resolved as %v", status)
	}
	for _, m := range masternodes {
		waitStatus(t, m, tx, StatusLocked)
	}

	// A double spend of a locked input is refused everywhere.
	spend := testTx("network", 1)
	spend.TxOut[0].Value--
	if err := wallet.CheckConflict(spend); !errors.Is(err, mixing.ErrConflict) {
		t.Fatalf("double spend: got %v, want ErrConflict", err)
	}
	if _, err := masternodes[0].RequestLock(ctx, spend); !errors.Is(err, mixing.ErrConflict) {
		t.Fatalf("double spend lock: got %v, want ErrConflict", err)
	}

	if got := wallet.DisplayConfirmations(tx.TxHash(), 0); got != 1 {
		t.Errorf("locked transaction displays %d confirmations", got)
	}
	wallet.MarkMined(tx.TxHash())
	if err := wallet.CheckConflict(spend); err != nil {
		t.Errorf("mined transaction still locks its inputs: %v", err)
	}
}

func TestConflictVote(t *testing.T) {
	useTestLogger(t)
	ctx := context.Background()

	entries, keys := testEntries(t, 3)
	net := new(recordNet)
	m := newManager(t, Config{
		Registry:     newRegistry(entries),
		Network:      net,
		PrivKey:      keys[0],
		MasternodeID: entries[0].ID,
		QuorumSize:   3,
	})

	first := testTx("conflict", 2)
	if err := m.ProcessLockRequest(ctx, "peer", &MsgLockRequest{Tx: first}); err != nil {
		t.Fatal(err)
	}
	if s := m.Status(first.TxHash()); s != StatusPending {
		t.Fatalf("first request is %v", s)
	}

	second := testTx("conflict", 1)
	if err := m.ProcessLockRequest(ctx, "peer", &MsgLockRequest{Tx: second}); err != nil {
		t.Fatal(err)
	}
	if s := m.Status(second.TxHash()); s != StatusConflicted {
		t.Fatalf("conflicting request is %v", s)
	}
	other, ok := m.ConflictingTx(second.TxHash())
	if !ok || other != first.TxHash() {
		t.Fatalf("conflicting tx is %v (%v), want %v", other, ok, first.TxHash())
	}

	votes := net.votes()
	if len(votes) != 2 {
		t.Fatalf("%d votes relayed, want 2", len(votes))
	}
	if votes[0].Conflict || votes[0].TxHash != first.TxHash() {
		t.Errorf("unexpected first vote %+v", votes[0])
	}
	if !votes[1].Conflict || votes[1].ConflictTx != first.TxHash() {
		t.Errorf("unexpected second vote %+v", votes[1])
	}

	// A second sighting of a request is neither relayed nor voted on.
	before := len(net.msgs)
	if err := m.ProcessLockRequest(ctx, "peer", &MsgLockRequest{Tx: first}); err != nil {
		t.Fatal(err)
	}
	if len(net.msgs) != before {
		t.Error("duplicate request was relayed")
	}
}

// TestQuorumRefusesLockedInputs ensures every member of a quorum votes a
// conflict, naming the locked transaction, for a request spending inputs of
// a transaction the quorum already locked.
func TestQuorumRefusesLockedInputs(t *testing.T) {
	useTestLogger(t)
	ctx := context.Background()

	const quorumSize = 4
	entries, keys := testEntries(t, quorumSize)
	registry := newRegistry(entries)
	managers := make([]*Manager, quorumSize)
	nets := make([]*recordNet, quorumSize)
	for i := range entries {
		nets[i] = new(recordNet)
		managers[i] = newManager(t, Config{
			Registry:     registry,
			Network:      nets[i],
			PrivKey:      keys[i],
			MasternodeID: entries[i].ID,
			QuorumSize:   quorumSize,
		})
	}

	// Lock the first transaction on every member by exchanging all votes.
	locked := testTx("locked inputs", 2)
	for _, m := range managers {
		err := m.ProcessLockRequest(ctx, "wallet", &MsgLockRequest{Tx: locked})
		if err != nil {
			t.Fatal(err)
		}
	}
	var votes []*MsgLockVote
	for _, n := range nets {
		votes = append(votes, n.votes()...)
	}
	for _, m := range managers {
		for _, v := range votes {
			if err := m.ProcessVote(ctx, v); err != nil {
				t.Fatal(err)
			}
		}
	}
	for i, m := range managers {
		if s := m.Status(locked.TxHash()); s != StatusLocked {
			t.Fatalf("member %d: locked transaction is %v", i, s)
		}
	}

	// Every member queried about a double spend votes a conflict.
	spend := testTx("locked inputs", 1)
	for i, m := range managers {
		err := m.ProcessLockRequest(ctx, "wallet", &MsgLockRequest{Tx: spend})
		if err != nil {
			t.Fatal(err)
		}
		var own *MsgLockVote
		for _, v := range nets[i].votes() {
			if v.TxHash == spend.TxHash() && v.Masternode == entries[i].ID {
				own = v
			}
		}
		if own == nil {
			t.Fatalf("member %d did not vote on the double spend", i)
		}
		if !own.Conflict || own.ConflictTx != locked.TxHash() {
			t.Fatalf("member %d voted %+v, want a conflict with %v", i,
				own, locked.TxHash())
		}
		if s := m.Status(spend.TxHash()); s != StatusConflicted {
			t.Fatalf("member %d: double spend is %v", i, s)
		}
	}
}

func TestProcessVote(t *testing.T) {
	useTestLogger(t)
	ctx := context.Background()

	entries, keys := testEntries(t, 5)
	tx := testTx("votes", 1)
	quorum := SelectQuorum(tx.TxHash(), entries[:4], 3)
	inQuorum := func(e masternode.Entry) bool {
		for _, q := range quorum {
			if q.ID == e.ID {
				return true
			}
		}
		return false
	}
	var member, outsider int
	for i := 0; i < 4; i++ {
		if inQuorum(entries[i]) {
			member = i
		} else {
			outsider = i
		}
	}

	net := new(recordNet)
	m := newManager(t, Config{
		Registry:   newRegistry(entries[:4]),
		Network:    net,
		QuorumSize: 3,
	})

	// Votes arriving before the request are kept until it does.
	early := signedVote(t, keys[member], entries[member], tx)
	if err := m.ProcessVote(ctx, early); err != nil {
		t.Fatal(err)
	}
	if s := m.Status(tx.TxHash()); s != StatusUnknown {
		t.Fatalf("status before request is %v", s)
	}
	if err := m.ProcessLockRequest(ctx, "peer", &MsgLockRequest{Tx: tx}); err != nil {
		t.Fatal(err)
	}
	m.mtx.Lock()
	sigs := m.requests[tx.TxHash()].lock.Signatures()
	m.mtx.Unlock()
	if sigs != 1 {
		t.Fatalf("%d signatures after orphan vote, want 1", sigs)
	}

	forged := signedVote(t, keys[4], entries[member], tx)
	tests := []struct {
		name string
		vote *MsgLockVote
		want error
	}{{
		name: "unknown masternode",
		vote: signedVote(t, keys[4], entries[4], tx),
		want: ErrUnknownMasternode,
	}, {
		name: "forged signature",
		vote: forged,
		want: ErrInvalidVote,
	}, {
		name: "not in quorum",
		vote: signedVote(t, keys[outsider], entries[outsider], tx),
		want: ErrNotInQuorum,
	}}
	for _, test := range tests {
		err := m.ProcessVote(ctx, test.vote)
		if !errors.Is(err, test.want) {
			t.Errorf("%s: got %v, want %v", test.name, err, test.want)
		}
		if !mixing.IsProtocolViolation(err) {
			t.Errorf("%s: %v is not a protocol violation", test.name, err)
		}
	}

	// Tampering with a valid vote invalidates its signature.
	tampered := signedVote(t, keys[member], entries[member], tx)
	tampered.Conflict = true
	if err := m.ProcessVote(ctx, tampered); !errors.Is(err, ErrInvalidVote) {
		t.Errorf("tampered vote: got %v, want ErrInvalidVote", err)
	}

	for i := range quorum {
		idx := -1
		for j := range entries {
			if entries[j].ID == quorum[i].ID {
				idx = j
			}
		}
		if err := m.ProcessVote(ctx, signedVote(t, keys[idx], entries[idx], tx)); err != nil {
			t.Fatalf("vote of member %d: %v", i, err)
		}
	}
	if s := m.Status(tx.TxHash()); s != StatusLocked {
		t.Fatalf("status after quorum votes is %v", s)
	}
}

func TestExpiry(t *testing.T) {
	useTestLogger(t)
	ctx := context.Background()

	entries, keys := testEntries(t, 3)
	db, err := lockdb.OpenMem()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	// Without votes from the other masternodes requests time out.
	m := newManager(t, Config{
		Registry:     newRegistry(entries),
		Network:      new(recordNet),
		PrivKey:      keys[0],
		MasternodeID: entries[0].ID,
		QuorumSize:   3,
		Store:        db,
	})
	tx := testTx("expire request", 1)
	p, err := m.RequestLock(ctx, tx)
	if err != nil {
		t.Fatal(err)
	}
	if n := m.ExpireRequests(time.Now()); n != 0 {
		t.Fatalf("expired %d requests early", n)
	}
	if n := m.ExpireRequests(time.Now().Add(mixing.LockVoteTimeout)); n != 1 {
		t.Fatalf("expired %d requests, want 1", n)
	}
	status, err := p.Wait(ctx)
	if err != nil || status != StatusUnlocked {
		t.Fatalf("expired request resolved as %v (%v)", status, err)
	}
	// The vote of this masternode no longer binds the inputs.
	m.mtx.Lock()
	voted := len(m.voted)
	m.mtx.Unlock()
	if voted != 0 {
		t.Fatalf("%d inputs remain voted", voted)
	}

	// A quorum of one locks immediately and the lock expires unless the
	// transaction is mined.
	solo := newManager(t, Config{
		Registry:     newRegistry(entries[:1]),
		Network:      new(recordNet),
		PrivKey:      keys[0],
		MasternodeID: entries[0].ID,
		Store:        db,
	})
	tx = testTx("expire lock", 1)
	p, err = solo.RequestLock(ctx, tx)
	if err != nil {
		t.Fatal(err)
	}
	if status, _ := p.Wait(ctx); status != StatusLocked {
		t.Fatalf("solo lock resolved as %v", status)
	}
	if l, err := db.FetchLock(tx.TxHash()); err != nil || l == nil {
		t.Fatalf("lock not stored: %v", err)
	}
	if n := solo.ExpireLocks(time.Now().Add(mixing.LockTimeout)); n != 1 {
		t.Fatalf("expired %d locks, want 1", n)
	}
	if s := solo.Status(tx.TxHash()); s != StatusUnlocked {
		t.Fatalf("expired lock is %v", s)
	}
	if l, err := db.FetchLock(tx.TxHash()); err != nil || l != nil {
		t.Fatalf("expired lock still stored: %v", err)
	}
}

// TestLockAgeFromResolution ensures the age of a lock is measured from when
// the quorum locked it, not from when the request was first seen.
func TestLockAgeFromResolution(t *testing.T) {
	useTestLogger(t)
	ctx := context.Background()

	entries, keys := testEntries(t, 3)
	m := newManager(t, Config{
		Registry:     newRegistry(entries),
		Network:      new(recordNet),
		PrivKey:      keys[0],
		MasternodeID: entries[0].ID,
		QuorumSize:   3,
	})
	seen := time.Now()
	clock := seen
	m.now = func() time.Time { return clock }

	tx := testTx("late lock", 1)
	if err := m.ProcessLockRequest(ctx, "wallet", &MsgLockRequest{Tx: tx}); err != nil {
		t.Fatal(err)
	}
	clock = seen.Add(mixing.LockTimeout / 2)
	for i := 1; i < len(entries); i++ {
		if err := m.ProcessVote(ctx, signedVote(t, keys[i], entries[i], tx)); err != nil {
			t.Fatal(err)
		}
	}
	if s := m.Status(tx.TxHash()); s != StatusLocked {
		t.Fatalf("transaction is %v", s)
	}
	if n := m.ExpireLocks(seen.Add(mixing.LockTimeout)); n != 0 {
		t.Fatalf("expired %d locks counted from the request", n)
	}
	if n := m.ExpireLocks(clock.Add(mixing.LockTimeout)); n != 1 {
		t.Fatalf("expired %d locks, want 1", n)
	}
}

func TestRestoreLocks(t *testing.T) {
	useTestLogger(t)
	ctx := context.Background()

	entries, keys := testEntries(t, 1)
	db, err := lockdb.OpenMem()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	cfg := Config{
		Registry:     newRegistry(entries),
		Network:      new(recordNet),
		PrivKey:      keys[0],
		MasternodeID: entries[0].ID,
		Store:        db,
	}
	m := newManager(t, cfg)
	tx := testTx("restore", 2)
	if _, err := m.RequestLock(ctx, tx); err != nil {
		t.Fatal(err)
	}
	waitStatus(t, m, tx, StatusLocked)

	restored := newManager(t, cfg)
	if s := restored.Status(tx.TxHash()); s != StatusLocked {
		t.Fatalf("restored lock is %v", s)
	}
	spend := testTx("restore", 1)
	if err := restored.CheckConflict(spend); !errors.Is(err, mixing.ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}

	restored.MarkMined(tx.TxHash())
	locks, err := db.Locks()
	if err != nil {
		t.Fatal(err)
	}
	if len(locks) != 0 {
		t.Fatalf("%d locks stored after the transaction was mined", len(locks))
	}
}

func TestNoQuorum(t *testing.T) {
	useTestLogger(t)
	m := newManager(t, Config{
		Registry: newRegistry(nil),
		Network:  new(recordNet),
	})
	_, err := m.RequestLock(context.Background(), testTx("no quorum", 1))
	if !errors.Is(err, mixing.ErrNoMasternodes) {
		t.Fatalf("got %v, want ErrNoMasternodes", err)
	}
	if _, err := m.RequestLock(context.Background(), wire.NewMsgTx()); !errors.Is(err, ErrEmptyTx) {
		t.Fatalf("got %v, want ErrEmptyTx", err)
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		in   Status
		want string
	}{
		{StatusUnknown, "unknown"},
		{StatusPending, "pending"},
		{StatusLocked, "locked"},
		{StatusConflicted, "conflicted"},
		{StatusUnlocked, "unlocked"},
		{Status(99), "Status(99)"},
	}
	for _, test := range tests {
		if got := fmt.Sprint(test.in); got != test.want {
			t.Errorf("%d: got %q, want %q", int(test.in), got, test.want)
		}
	}
}
