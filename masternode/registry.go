// Copyright (c) 2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package masternode

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/wire"
)

// Entry describes a masternode known to the network.  A masternode is
// identified by the outpoint of its collateral and reached at Addr.
type Entry struct {
	ID              wire.OutPoint
	Addr            string
	PubKey          *secp256k1.PublicKey
	ProtocolVersion uint32
	LastSeen        time.Time
}

// SerializedPubKey returns the compressed public key of the masternode.
func (e *Entry) SerializedPubKey() []byte {
	if e.PubKey == nil {
		return nil
	}
	return e.PubKey.SerializeCompressed()
}

// Snapshot is a consistent view of the eligible masternodes at one registry
// version.
type Snapshot struct {
	Version uint64
	Entries []Entry
}

// ByAddr returns the entry reached at addr.
func (s *Snapshot) ByAddr(addr string) (Entry, bool) {
	for _, e := range s.Entries {
		if e.Addr == addr {
			return e, true
		}
	}
	return Entry{}, false
}

// Registry is the set of masternodes known to this node.  Entries are added
// or refreshed from network announcements and pruned when they have not been
// seen within the expiry duration.  It is safe for concurrent access.
type Registry struct {
	mtx     sync.RWMutex
	entries map[wire.OutPoint]*Entry
	version uint64
	expiry  time.Duration
	now     func() time.Time
}

// NewRegistry returns an empty registry that prunes entries not seen for
// expiry.
func NewRegistry(expiry time.Duration) *Registry {
	return &Registry{
		entries: make(map[wire.OutPoint]*Entry),
		expiry:  expiry,
		now:     time.Now,
	}
}

// Update adds or refreshes a masternode entry and returns whether it was
// newly added.  An entry whose LastSeen is zero is stamped with the current
// time.  Updates that are older than the recorded entry are ignored.
func (r *Registry) Update(e Entry) bool {
	if e.LastSeen.IsZero() {
		e.LastSeen = r.now()
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()

	old, ok := r.entries[e.ID]
	if ok && e.LastSeen.Before(old.LastSeen) {
		return false
	}
	changed := !ok || old.Addr != e.Addr || old.ProtocolVersion != e.ProtocolVersion ||
		!bytes.Equal(old.SerializedPubKey(), e.SerializedPubKey())
	r.entries[e.ID] = &e
	if changed {
		r.version++
	}
	if !ok {
		log.Debugf("Added masternode %v at %s", e.ID, e.Addr)
	}
	return !ok
}

// Remove deletes the masternode identified by id.
func (r *Registry) Remove(id wire.OutPoint) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	r.version++
	return true
}

// Prune removes every entry last seen before now minus the expiry, returning
// the number removed.
func (r *Registry) Prune(now time.Time) int {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	var n int
	for id, e := range r.entries {
		if now.Sub(e.LastSeen) > r.expiry {
			delete(r.entries, id)
			n++
		}
	}
	if n > 0 {
		r.version++
		log.Debugf("Pruned %d expired masternodes", n)
	}
	return n
}

// Lookup returns the entry identified by id.
func (r *Registry) Lookup(id wire.OutPoint) (Entry, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Count returns the number of masternodes.
func (r *Registry) Count() int {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return len(r.entries)
}

// Version returns a counter that changes whenever the set of masternodes or
// the details of one change.
func (r *Registry) Version() uint64 {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return r.version
}

// Snapshot returns the masternodes running at least minProto, ordered by
// collateral outpoint.
func (r *Registry) Snapshot(minProto uint32) *Snapshot {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	s := &Snapshot{Version: r.version}
	for _, e := range r.entries {
		if e.ProtocolVersion < minProto {
			continue
		}
		s.Entries = append(s.Entries, *e)
	}
	sort.Slice(s.Entries, func(i, j int) bool {
		a, b := &s.Entries[i].ID, &s.Entries[j].ID
		if c := bytes.Compare(a.Hash[:], b.Hash[:]); c != 0 {
			return c < 0
		}
		return a.Index < b.Index
	})
	return s
}

// Run prunes expired entries at every interval until ctx is canceled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Prune(r.now())
		}
	}
}
