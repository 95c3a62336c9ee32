package transport

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// Hub is an in-process room. Delivery is synchronous: Send returns after
// every addressed peer's handlers ran, unless the hub is paused.
//
// Pausing models a network partition. Messages sent while paused are
// held and delivered in order by Resume.
type Hub struct {
	mu     sync.Mutex
	peers  []*Peer
	paused bool
	held   []Message
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{logger: slog.Default()}
}

// Join connects an actor to the hub.
func (h *Hub) Join(actor string) *Peer {
	p := &Peer{hub: h, actor: actor}
	h.mu.Lock()
	h.peers = append(h.peers, p)
	h.mu.Unlock()
	return p
}

// Pause holds every message until Resume.
func (h *Hub) Pause() {
	h.mu.Lock()
	h.paused = true
	h.mu.Unlock()
}

// Resume delivers held messages in send order and resumes synchronous
// delivery.
func (h *Hub) Resume() {
	h.mu.Lock()
	h.paused = false
	held := h.held
	h.held = nil
	h.mu.Unlock()

	for _, m := range held {
		h.deliver(m)
	}
}

// Held returns the number of messages waiting for Resume.
func (h *Hub) Held() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.held)
}

func (h *Hub) route(m Message) {
	h.mu.Lock()
	if h.paused {
		h.held = append(h.held, m)
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	h.deliver(m)
}

func (h *Hub) deliver(m Message) {
	h.mu.Lock()
	peers := slices.Clone(h.peers)
	h.mu.Unlock()

	for _, p := range peers {
		if m.addressedTo(p.actor) {
			p.dispatch(m)
		}
	}
}

func (h *Hub) leave(p *Peer) {
	h.mu.Lock()
	i := slices.Index(h.peers, p)
	if i < 0 {
		h.mu.Unlock()
		return
	}
	h.peers = slices.Delete(h.peers, i, i+1)
	h.mu.Unlock()

	h.logger.Debug("peer left hub", "actor", p.actor)
	h.route(Message{Kind: KindLeave, From: p.actor})
}

// Peer is one actor's connection to a Hub.
type Peer struct {
	hub   *Hub
	actor string

	mu       sync.Mutex
	handlers []func(Message)
	closed   bool
}

// Actor returns the actor the peer was joined as.
func (p *Peer) Actor() string {
	return p.actor
}

// Send implements Transport. The sender is always the peer's actor.
func (p *Peer) Send(_ context.Context, m Message) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}
	m.From = p.actor
	if err := m.Validate(); err != nil {
		return err
	}
	p.hub.route(m)
	return nil
}

// Subscribe implements Transport.
func (p *Peer) Subscribe(h func(Message)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

// Close implements Transport. Remaining peers receive a leave message.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	p.hub.leave(p)
	return nil
}

func (p *Peer) dispatch(m Message) {
	p.mu.Lock()
	handlers := slices.Clone(p.handlers)
	p.mu.Unlock()
	for _, h := range handlers {
		h(m)
	}
}
