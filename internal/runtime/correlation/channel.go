package correlation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	errspkg "github.com/drblury/replyflow/internal/runtime/errors"
)

// ReplyChannel fans the replies of one correlation id out to every
// subscription. The dispatcher is its only writer and never blocks on it:
// a subscriber whose buffer is full loses that reply.
type ReplyChannel struct {
	id CorrelationID

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool

	now        func() time.Time
	lastActive atomic.Int64
	dropped    atomic.Uint64
	onDrop     func(CorrelationID)
}

func newReplyChannel(id CorrelationID, now func() time.Time, onDrop func(CorrelationID)) *ReplyChannel {
	c := &ReplyChannel{
		id:     id,
		subs:   make(map[*Subscription]struct{}),
		now:    now,
		onDrop: onDrop,
	}
	c.touch()
	return c
}

// ID returns the correlation id the channel belongs to.
func (c *ReplyChannel) ID() CorrelationID {
	return c.id
}

// Dropped counts replies lost to full subscriber buffers.
func (c *ReplyChannel) Dropped() uint64 {
	return c.dropped.Load()
}

// Subscribe adds an observer with its own bounded buffer.
func (c *ReplyChannel) Subscribe(buffer int) (*Subscription, error) {
	if buffer < 1 {
		buffer = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errspkg.ErrStreamClosed
	}

	sub := &Subscription{
		ch:     make(chan string, buffer),
		parent: c,
	}
	c.subs[sub] = struct{}{}
	c.touch()
	return sub, nil
}

// publish delivers payload to every subscriber. It reports false when the
// channel was closed concurrently.
func (c *ReplyChannel) publish(payload string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}

	c.touch()
	for sub := range c.subs {
		select {
		case sub.ch <- payload:
		default:
			c.dropped.Add(1)
			if c.onDrop != nil {
				c.onDrop(c.id)
			}
		}
	}
	return true
}

func (c *ReplyChannel) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for sub := range c.subs {
		close(sub.ch)
		delete(c.subs, sub)
	}
}

func (c *ReplyChannel) unsubscribe(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[sub]; !ok {
		return
	}
	delete(c.subs, sub)
	close(sub.ch)
}

func (c *ReplyChannel) touch() {
	c.lastActive.Store(c.now().UnixNano())
}

func (c *ReplyChannel) idleSince(cutoff time.Time) bool {
	return c.lastActive.Load() < cutoff.UnixNano()
}

// Subscription is one observer of a ReplyChannel. Its channel is closed when
// the correlation id is removed or the subscription itself is closed.
type Subscription struct {
	ch     chan string
	parent *ReplyChannel
}

// ID returns the correlation id being observed.
func (s *Subscription) ID() CorrelationID {
	return s.parent.id
}

// C exposes the raw reply payloads for select loops.
func (s *Subscription) C() <-chan string {
	return s.ch
}

// Next waits for the next reply. It returns ErrStreamClosed once the
// registration is gone and buffered replies are drained.
func (s *Subscription) Next(ctx context.Context) (string, error) {
	select {
	case payload, ok := <-s.ch:
		if !ok {
			return "", errspkg.ErrStreamClosed
		}
		return payload, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// AwaitFirst is Next under a deadline, the usual way to wait for a single
// answer.
func (s *Subscription) AwaitFirst(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.Next(ctx)
}

// Collect gathers up to n replies; n <= 0 collects nothing. Whatever
// arrived is returned alongside the error that stopped collection early.
func (s *Subscription) Collect(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	replies := make([]string, 0, n)
	for len(replies) < n {
		payload, err := s.Next(ctx)
		if err != nil {
			return replies, err
		}
		replies = append(replies, payload)
	}
	return replies, nil
}

// Observe attaches another subscriber to the same correlation id.
func (s *Subscription) Observe(buffer int) (*Subscription, error) {
	return s.parent.Subscribe(buffer)
}

// Close detaches this subscriber only; the registration stays alive.
func (s *Subscription) Close() {
	s.parent.unsubscribe(s)
}
