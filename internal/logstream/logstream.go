// Package logstream is the administrator log feed: an admin-only websocket
// controller whose clients subscribe to the process log at a minimum level.
package logstream

import (
	"errors"
	"fmt"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap/zapcore"

	"github.com/jsherman999/openclaw_logfeed/internal/bus"
	"github.com/jsherman999/openclaw_logfeed/internal/config"
	"github.com/jsherman999/openclaw_logfeed/internal/logger"
	"github.com/jsherman999/openclaw_logfeed/internal/socket"
)

// Name is the controller name and the Source of its bus events.
const Name = "logs"

const defaultLevel = zapcore.InfoLevel

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrUnknownType  = errors.New("unknown message type")
	ErrUnknownLevel = errors.New("unknown log level")
)

// NewController builds the log feed controller: strict authentication with
// no grace period, administrators only, one endpoint.
func NewController(cfg *config.Config, d socket.Deps) (*socket.Controller, error) {
	limit := cfg.WebSockets.Logs.ConnLimit
	if limit < 0 {
		limit = socket.Unbounded
	}
	d.Policy = socket.AdminOnly
	return socket.New(socket.Config{
		Name:            Name,
		Endpoints:       []string{cfg.WebSockets.Logs.Path},
		MaxConnections:  limit,
		Auth:            socket.AuthConfig{Mode: socket.AuthStrict},
		HeartbeatPeriod: cfg.WebSockets.HeartbeatPeriod,
		AllowedOrigins:  cfg.WebSockets.AllowedOrigins,
		TrustProxy:      cfg.WebSockets.TrustProxy,
	}, d)
}

type subscription struct {
	peer  bus.Peer
	level zapcore.Level
}

// Handler tracks which log clients are subscribed and at what level, and
// forwards log records to them. It never logs: it is itself a log sink.
type Handler struct {
	mu   sync.RWMutex
	subs map[string]subscription
}

func NewHandler() *Handler {
	return &Handler{subs: make(map[string]subscription)}
}

// Attach subscribes h to b. The returned func detaches it.
func (h *Handler) Attach(b *bus.Bus) func() {
	cancels := []func(){
		b.Subscribe(h.onMessage, bus.KindMessage),
		b.Subscribe(h.onClose, bus.KindClose),
		b.Subscribe(h.onLog, bus.KindLog),
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}

// Subscribers reports the number of subscribed clients.
func (h *Handler) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Handler) onMessage(ev bus.Event) error {
	if ev.Source != Name || ev.Peer == nil {
		return nil
	}
	env, ok := ev.Payload.(*socket.Envelope)
	if !ok {
		return nil
	}

	switch env.Type {
	case "subscribe":
		level := defaultLevel
		if s, _ := env.Fields["log_level"].(string); s != "" {
			var err error
			if level, err = zapcore.ParseLevel(s); err != nil {
				return fmt.Errorf("%w %q", ErrUnknownLevel, s)
			}
		}
		h.mu.Lock()
		h.subs[ev.Peer.ID()] = subscription{peer: ev.Peer, level: level}
		h.mu.Unlock()
		return reply(ev.Peer, env, map[string]any{"type": "subscribe", "status": "ok", "log_level": level.String()})

	case "unsubscribe":
		h.mu.Lock()
		delete(h.subs, ev.Peer.ID())
		h.mu.Unlock()
		return reply(ev.Peer, env, map[string]any{"type": "unsubscribe", "status": "ok"})
	}
	return fmt.Errorf("%w %q", ErrUnknownType, env.Type)
}

func reply(p bus.Peer, env *socket.Envelope, msg map[string]any) error {
	if env.UID != "" {
		msg["uid"] = env.UID
	}
	if err := p.Send(msg); err != nil && !errors.Is(err, socket.ErrSendBufferFull) {
		return err
	}
	return nil
}

func (h *Handler) onClose(ev bus.Event) error {
	if ev.Source != Name || ev.Peer == nil {
		return nil
	}
	h.mu.Lock()
	delete(h.subs, ev.Peer.ID())
	h.mu.Unlock()
	return nil
}

func (h *Handler) onLog(ev bus.Event) error {
	rec, ok := ev.Payload.(logger.Record)
	if !ok {
		return nil
	}

	h.mu.RLock()
	targets := make([]bus.Peer, 0, len(h.subs))
	for _, s := range h.subs {
		if rec.Level >= s.level {
			targets = append(targets, s.peer)
		}
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return nil
	}

	b, err := json.Marshal(map[string]any{"type": "logs", "data": rec.Data()})
	if err != nil {
		return fmt.Errorf("encode log record: %w", err)
	}
	for _, p := range targets {
		// slow clients lose records
		_ = p.Send(b)
	}
	return nil
}
