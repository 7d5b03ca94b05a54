package socket

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jsherman999/openclaw_logfeed/internal/accounts"
)

// Client is one accepted connection. It is created and owned by a Registry;
// everything else holds it by pointer.
type Client struct {
	id       string
	endpoint string
	created  time.Time
	t        Transport

	writeWait time.Duration
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	state State
	acc   *accounts.Accountability

	// protects transport writes
	writeMu sync.Mutex

	// set by readPump before it closes its frame channel; guarded by mu
	readErr error
}

func newClient(endpoint string, t Transport, cfg Config) *Client {
	return &Client{
		id:        uuid.NewString(),
		endpoint:  endpoint,
		created:   time.Now(),
		t:         t,
		writeWait: cfg.WriteWait,
		send:      make(chan []byte, cfg.SendBuffer),
		done:      make(chan struct{}),
	}
}

func (c *Client) ID() string           { return c.id }
func (c *Client) Endpoint() string     { return c.endpoint }
func (c *Client) CreatedAt() time.Time { return c.created }

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Accountability is nil until the client is authenticated.
func (c *Client) Accountability() *accounts.Accountability {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acc
}

func (c *Client) transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.canTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, c.state, to)
	}
	c.state = to
	return nil
}

func (c *Client) authenticated(acc *accounts.Accountability) error {
	if acc == nil {
		return fmt.Errorf("%w: authenticated without accountability", ErrIllegalTransition)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.canTransition(StateAuthenticated) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, c.state, StateAuthenticated)
	}
	c.state = StateAuthenticated
	c.acc = acc
	return nil
}

// Send queues msg for the writer. It never blocks: a full buffer drops the
// message and returns ErrSendBufferFull.
func (c *Client) Send(msg any) error {
	b, err := encode(msg)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		return ErrSendBufferFull
	}
}

// writeNow writes msg synchronously, bypassing the send queue.
func (c *Client) writeNow(msg any) error {
	b, err := encode(msg)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, b)
}

func (c *Client) write(messageType int, b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.t.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.t.WriteMessage(messageType, b)
}

// shutdown sends a close frame and closes the transport. Safe to call more
// than once.
func (c *Client) shutdown(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.t.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(c.writeWait))
		c.writeMu.Unlock()
		_ = c.t.Close()
	})
}

func (c *Client) lastReadErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// readPump pushes inbound frames onto frames until the transport fails or the
// client is shut down, then closes frames.
func (c *Client) readPump(frames chan<- Frame, readLimit int64, heartbeat time.Duration) {
	defer close(frames)

	c.t.SetReadLimit(readLimit)
	if heartbeat > 0 {
		wait := 2 * heartbeat
		_ = c.t.SetReadDeadline(time.Now().Add(wait))
		c.t.SetPongHandler(func(string) error {
			return c.t.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		mt, data, err := c.t.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}
		if heartbeat > 0 {
			_ = c.t.SetReadDeadline(time.Now().Add(2 * heartbeat))
		}
		select {
		case frames <- Frame{Type: mt, Data: data}:
		case <-c.done:
			return
		}
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *Client) writePump(heartbeat time.Duration) {
	var tick <-chan time.Time
	if heartbeat > 0 {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-c.done:
			return
		case b := <-c.send:
			if err := c.write(websocket.TextMessage, b); err != nil {
				return
			}
		case <-tick:
			c.writeMu.Lock()
			err := c.t.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
