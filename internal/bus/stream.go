package bus

import "sync"

// Stream subscribes a buffered channel to the bus. Delivery is best-effort:
// when the buffer is full the event is dropped for this stream only, so a slow
// reader never blocks the publisher. The returned func unsubscribes and
// closes the channel.
func (b *Bus) Stream(buf int, kinds ...Kind) (<-chan Event, func()) {
	ch := make(chan Event, buf)
	var (
		mu     sync.RWMutex
		closed bool
	)
	unsub := b.Subscribe(func(ev Event) error {
		mu.RLock()
		defer mu.RUnlock()
		if closed {
			return nil
		}
		select {
		case ch <- ev:
		default:
			// drop if slow consumer
		}
		return nil
	}, kinds...)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			unsub()
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}
}
