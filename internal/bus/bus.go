// Package bus is the in-process event bridge between connection controllers
// and everything else (metrics, log streaming, audit). Delivery is
// synchronous, in subscription order, with no buffering or replay.
package bus

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type Kind string

const (
	KindConnect Kind = "connect"
	KindMessage Kind = "message"
	KindError   Kind = "error"
	KindClose   Kind = "close"
	KindLog     Kind = "log"
)

// Peer is the connection an event originated from.
type Peer interface {
	ID() string
	Endpoint() string
	Send(msg any) error
}

type Event struct {
	Kind    Kind
	Source  string
	Peer    Peer
	Payload any
	Err     error
	Time    time.Time
}

// Handler receives events. A returned error (or a panic) is reported back to
// the publisher and never stops delivery to later subscribers.
type Handler func(Event) error

type subscriber struct {
	id    uint64
	kinds map[Kind]struct{}
	h     Handler
}

func (s *subscriber) wants(k Kind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

type Bus struct {
	mu   sync.Mutex
	next uint64
	// replaced wholesale on every (un)subscribe, so Publish reads it without locking
	subs atomic.Pointer[[]*subscriber]
}

func New() *Bus {
	b := &Bus{}
	b.subs.Store(&[]*subscriber{})
	return b
}

// Subscribe registers h for the given kinds (all kinds when none are given).
// The returned func unsubscribes; calling it more than once is harmless.
func (b *Bus) Subscribe(h Handler, kinds ...Kind) func() {
	s := &subscriber{h: h}
	if len(kinds) > 0 {
		s.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = struct{}{}
		}
	}

	b.mu.Lock()
	b.next++
	s.id = b.next
	cur := *b.subs.Load()
	subs := make([]*subscriber, len(cur), len(cur)+1)
	copy(subs, cur)
	subs = append(subs, s)
	b.subs.Store(&subs)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(s.id) })
	}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := *b.subs.Load()
	subs := make([]*subscriber, 0, len(cur))
	for _, s := range cur {
		if s.id != id {
			subs = append(subs, s)
		}
	}
	b.subs.Store(&subs)
}

// Publish delivers ev to every matching subscriber and returns the joined
// failures of those that errored or panicked.
func (b *Bus) Publish(ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	var errs []error
	for _, s := range *b.subs.Load() {
		if !s.wants(ev.Kind) {
			continue
		}
		if err := deliver(s.h, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func deliver(h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic on %s: %v", ev.Kind, r)
		}
	}()
	return h(ev)
}

// Len reports the number of subscribers.
func (b *Bus) Len() int {
	return len(*b.subs.Load())
}
