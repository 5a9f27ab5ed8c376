// Copyright (c) 2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package simnet

import (
	"context"
	"fmt"
	"sync"

	"github.com/decred/dcrd/wire"
	"github.com/drkcore/darksend/mixing"
)

// Handler processes a message delivered to a peer.
type Handler func(ctx context.Context, from string, msg mixing.Message)

// Filter decides whether a message is delivered.  Returning false drops it.
type Filter func(from, to string, msg mixing.Message) bool

type envelope struct {
	from string
	msg  mixing.Message
}

// mailbox is an unbounded FIFO queue of messages for one peer.  Delivery
// never blocks the sender.
type mailbox struct {
	mtx     sync.Mutex
	queue   []envelope
	signal  chan struct{}
	handler Handler
}

func (m *mailbox) push(e envelope) {
	m.mtx.Lock()
	m.queue = append(m.queue, e)
	m.mtx.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) run(ctx context.Context) {
	for {
		m.mtx.Lock()
		queue := m.queue
		m.queue = nil
		m.mtx.Unlock()

		for _, e := range queue {
			m.handler(ctx, e.from, e.msg)
		}
		if len(queue) != 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-m.signal:
		}
	}
}

// Hub routes messages between the peers of a simulated network.  Each peer
// handles its messages on its own goroutine in the order they were sent.
type Hub struct {
	chain *Chain

	mtx    sync.RWMutex
	peers  map[string]*mailbox
	filter Filter
}

// NewHub returns a hub whose peers publish transactions to chain.
func NewHub(chain *Chain) *Hub {
	return &Hub{
		chain: chain,
		peers: make(map[string]*mailbox),
	}
}

// Chain returns the chain of the simulated network.
func (h *Hub) Chain() *Chain {
	return h.chain
}

// SetFilter installs a filter that may drop messages.
func (h *Hub) SetFilter(f Filter) {
	h.mtx.Lock()
	h.filter = f
	h.mtx.Unlock()
}

// Join adds a peer reachable at addr.  Messages to the peer are handled by
// handler until ctx is canceled.
func (h *Hub) Join(ctx context.Context, addr string, handler Handler) *Endpoint {
	m := &mailbox{
		signal:  make(chan struct{}, 1),
		handler: handler,
	}
	h.mtx.Lock()
	h.peers[addr] = m
	h.mtx.Unlock()

	go m.run(ctx)
	return &Endpoint{hub: h, addr: addr}
}

// Leave removes a peer.  Messages sent to it are dropped.
func (h *Hub) Leave(addr string) {
	h.mtx.Lock()
	delete(h.peers, addr)
	h.mtx.Unlock()
}

func (h *Hub) deliver(from, to string, msg mixing.Message) error {
	h.mtx.RLock()
	m, ok := h.peers[to]
	filter := h.filter
	h.mtx.RUnlock()

	if !ok {
		return fmt.Errorf("unknown peer %q", to)
	}
	if filter != nil && !filter(from, to, msg) {
		log.Tracef("Dropped %s from %s to %s", msg.Command(), from, to)
		return nil
	}
	m.push(envelope{from: from, msg: msg})
	return nil
}

// Endpoint is a peer's handle for sending messages and publishing
// transactions.
type Endpoint struct {
	hub  *Hub
	addr string
}

// Addr returns the address of the peer.
func (e *Endpoint) Addr() string {
	return e.addr
}

// SendMessage delivers msg to the peer at addr.
func (e *Endpoint) SendMessage(ctx context.Context, to string, msg mixing.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.hub.deliver(e.addr, to, msg)
}

// Broadcast delivers msg to every other peer.
func (e *Endpoint) Broadcast(ctx context.Context, msg mixing.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.hub.mtx.RLock()
	peers := make([]string, 0, len(e.hub.peers))
	for addr := range e.hub.peers {
		if addr != e.addr {
			peers = append(peers, addr)
		}
	}
	e.hub.mtx.RUnlock()

	for _, to := range peers {
		// Peers that left since the snapshot are skipped.
		_ = e.hub.deliver(e.addr, to, msg)
	}
	return nil
}

// PublishTransaction publishes tx to the chain of the network.
func (e *Endpoint) PublishTransaction(ctx context.Context, tx *wire.MsgTx) error {
	return e.hub.chain.Publish(ctx, tx)
}
