// Package correlation maps correlation ids to live reply channels. The
// Registry is the only state shared between callers registering requests
// and the dispatcher delivering replies.
package correlation

import (
	"fmt"
	"sync"
	"time"

	errspkg "github.com/drblury/replyflow/internal/runtime/errors"
	idspkg "github.com/drblury/replyflow/internal/runtime/ids"
)

type CorrelationID = idspkg.CorrelationID

// Option customises a Registry.
type Option func(*Registry)

// WithClock overrides time.Now, used for idle tracking.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithDropHandler is invoked whenever a reply is lost to a full subscriber
// buffer.
func WithDropHandler(fn func(CorrelationID)) Option {
	return func(r *Registry) {
		r.onDrop = fn
	}
}

// Registry holds at most one ReplyChannel per correlation id.
type Registry struct {
	mu      sync.RWMutex
	entries map[CorrelationID]*ReplyChannel
	closed  bool

	now    func() time.Time
	onDrop func(CorrelationID)
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[CorrelationID]*ReplyChannel),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register atomically creates the channel for id. It fails with
// ErrDuplicateID when id is already registered.
func (r *Registry) Register(id CorrelationID) (*ReplyChannel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errspkg.ErrRegistryClosed
	}
	if _, exists := r.entries[id]; exists {
		return nil, fmt.Errorf("%w: %d", errspkg.ErrDuplicateID, id)
	}

	ch := newReplyChannel(id, r.now, r.onDrop)
	r.entries[id] = ch
	return ch, nil
}

// Lookup returns the channel registered for id.
func (r *Registry) Lookup(id CorrelationID) (*ReplyChannel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.entries[id]
	return ch, ok
}

// Has reports whether id is registered.
func (r *Registry) Has(id CorrelationID) bool {
	_, ok := r.Lookup(id)
	return ok
}

// Dispatch hands payload to every subscriber of id. Fan-out happens outside
// the registry lock so a busy channel does not stall registrations.
func (r *Registry) Dispatch(id CorrelationID, payload string) error {
	ch, ok := r.Lookup(id)
	if !ok || !ch.publish(payload) {
		return fmt.Errorf("%w: %d", errspkg.ErrUnknownCorrelation, id)
	}
	return nil
}

// Remove deletes id and closes its channel. Removing an absent id is a no-op.
func (r *Registry) Remove(id CorrelationID) {
	r.mu.Lock()
	ch, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if ok {
		ch.close()
	}
}

// RemoveIf removes id only while it is still registered to ch, so a late
// rollback cannot tear down a newer registration that reused the id. It
// reports whether anything was removed.
func (r *Registry) RemoveIf(id CorrelationID, ch *ReplyChannel) bool {
	r.mu.Lock()
	current, ok := r.entries[id]
	ok = ok && current == ch
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if ok {
		ch.close()
	}
	return ok
}

// EvictOlderThan removes every registration whose last activity (register,
// subscribe or reply) happened before cutoff and returns the evicted ids.
func (r *Registry) EvictOlderThan(cutoff time.Time) []CorrelationID {
	var evicted []*ReplyChannel

	r.mu.Lock()
	for id, ch := range r.entries {
		if ch.idleSince(cutoff) {
			evicted = append(evicted, ch)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	ids := make([]CorrelationID, 0, len(evicted))
	for _, ch := range evicted {
		ch.close()
		ids = append(ids, ch.id)
	}
	return ids
}

// Len returns the number of outstanding registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Close tears down every registration. Later Register calls fail with
// ErrRegistryClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	entries := r.entries
	r.entries = make(map[CorrelationID]*ReplyChannel)
	r.mu.Unlock()

	for _, ch := range entries {
		ch.close()
	}
}
