package socket

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jsherman999/openclaw_logfeed/internal/bus"
)

// CloseInfo is the payload of close events.
type CloseInfo struct {
	Code   int    `json:"code"`
	Reason string `json:"reason,omitempty"`
}

// Registry tracks the connections of one controller. Every registered client
// holds a slot until released, so pending handshakes count against the cap
// just like live clients.
type Registry struct {
	name string
	cfg  Config
	bus  *bus.Bus
	log  *zap.Logger

	mu     sync.Mutex
	conns  map[string]*Client
	live   map[string]*Client
	closed bool
}

func NewRegistry(cfg Config, b *bus.Bus, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Registry{
		name:  cfg.Name,
		cfg:   cfg,
		bus:   b,
		log:   log,
		conns: make(map[string]*Client),
		live:  make(map[string]*Client),
	}
}

func (r *Registry) fullLocked() bool {
	return r.cfg.MaxConnections != Unbounded && len(r.conns) >= r.cfg.MaxConnections
}

// Register reserves a slot for t. When the controller is at capacity it
// returns ErrCapacityExceeded, and once closed ErrShuttingDown; t is left
// untouched either way.
func (r *Registry) Register(endpoint string, t Transport) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		e := *ErrShuttingDown
		return nil, &e
	}
	if r.fullLocked() {
		e := *ErrCapacityExceeded
		return nil, &e
	}
	c := newClient(endpoint, t, r.cfg)
	r.conns[c.id] = c
	return c, nil
}

// Activate adds an authorized client to the live set.
func (r *Registry) Activate(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return fmt.Errorf("activate %s: %w", id, ErrUnknownClient)
	}
	if c.State() != StateAuthenticated {
		return fmt.Errorf("activate %s in state %s: %w", id, c.State(), ErrIllegalTransition)
	}
	r.live[id] = c
	return nil
}

// Release removes the client, closes its transport and publishes its close
// event. Only the first call for an id does anything; it reports whether
// this call was the one.
func (r *Registry) Release(id string) bool {
	return r.release(id, websocket.CloseNormalClosure, "")
}

func (r *Registry) release(id string, code int, reason string) bool {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
		delete(r.live, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	_ = c.transition(StateClosed)
	c.shutdown(code, reason)

	if r.bus != nil {
		err := r.bus.Publish(bus.Event{
			Kind:    bus.KindClose,
			Source:  r.name,
			Peer:    c,
			Payload: CloseInfo{Code: code, Reason: reason},
		})
		if err != nil {
			r.log.Debug("close subscribers failed", zap.String("client", id), zap.Error(err))
		}
	}
	return true
}

// CloseAll releases every client, live or pending.
func (r *Registry) CloseAll(code int, reason string) int {
	r.mu.Lock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	n := 0
	for _, id := range ids {
		if r.release(id, code, reason) {
			n++
		}
	}
	return n
}

// Close stops admitting clients and releases every registered one.
func (r *Registry) Close(code int, reason string) int {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return r.CloseAll(code, reason)
}

func (r *Registry) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Registry) Get(id string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	return c, ok
}

// Len counts every registered client, pending ones included.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Live counts authorized clients.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

func (r *Registry) Full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fullLocked()
}

// Clients returns the live clients, oldest first.
func (r *Registry) Clients() []*Client {
	r.mu.Lock()
	out := make([]*Client, 0, len(r.live))
	for _, c := range r.live {
		out = append(out, c)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].created.Before(out[j].created) })
	return out
}
