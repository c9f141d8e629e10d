// Package egress hands outbound envelopes to the broker without blocking the
// caller. Envelopes are queued in a bounded buffer drained by one goroutine.
package egress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/replyflow/internal/runtime/envelope"
	errspkg "github.com/drblury/replyflow/internal/runtime/errors"
	idspkg "github.com/drblury/replyflow/internal/runtime/ids"
	"github.com/drblury/replyflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/replyflow/internal/runtime/metadata"
)

// DefaultBufferSize is used when no positive buffer size is configured.
const DefaultBufferSize = 1024

// Failure describes an envelope the sink rejected after Publish had already
// accepted it. Owner is the value handed to PublishFor, so a rollback can
// tell which registration made the request.
type Failure struct {
	ID    idspkg.CorrelationID
	Owner any
	Err   error
}

// FailureFunc is told about every Failure. It runs on the drain goroutine.
type FailureFunc func(f Failure)

// TerminalFunc decides whether a sink error means the sink is gone for good.
type TerminalFunc func(err error) bool

type item struct {
	id    idspkg.CorrelationID
	owner any
	topic string
	msg   *message.Message
}

// Option customises a Publisher.
type Option func(*Publisher)

// WithBufferSize sets the queue capacity.
func WithBufferSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.size = n
		}
	}
}

// WithOnFailure registers the asynchronous failure callback.
func WithOnFailure(fn FailureFunc) Option {
	return func(p *Publisher) {
		p.onFailure = fn
	}
}

// WithTerminalCheck overrides how sink errors are classified.
func WithTerminalCheck(fn TerminalFunc) Option {
	return func(p *Publisher) {
		if fn != nil {
			p.isTerminal = fn
		}
	}
}

// Publisher is the single writer to the broker.
type Publisher struct {
	sink   message.Publisher
	logger logging.ServiceLogger

	size       int
	onFailure  FailureFunc
	isTerminal TerminalFunc

	queue chan item
	done  chan struct{}

	mu         sync.RWMutex
	closed     bool
	terminated atomic.Bool
	closeOnce  sync.Once
}

// NewPublisher starts the drain goroutine for sink.
func NewPublisher(sink message.Publisher, logger logging.ServiceLogger, opts ...Option) (*Publisher, error) {
	if sink == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	p := &Publisher{
		sink:       sink,
		logger:     logger,
		size:       DefaultBufferSize,
		isTerminal: IsTerminal,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queue = make(chan item, p.size)

	go p.loop()
	return p, nil
}

// Publish renders env and enqueues it. It never waits for the broker: a full
// queue yields ErrEgressFull, a closed or terminated sink ErrEgressClosed.
func (p *Publisher) Publish(ctx context.Context, env envelope.Outbound) error {
	return p.PublishFor(ctx, env, nil)
}

// PublishFor is Publish with an owner reported back in a later Failure.
func (p *Publisher) PublishFor(ctx context.Context, env envelope.Outbound, owner any) error {
	if env.RoutingKey == "" {
		return errspkg.ErrRoutingKeyRequired
	}
	if p.terminated.Load() {
		return errspkg.ErrEgressClosed
	}

	msg, err := NewMessage(ctx, env)
	if err != nil {
		return fmt.Errorf("%w: %v", errspkg.ErrPublishFailure, err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errspkg.ErrEgressClosed
	}

	select {
	case p.queue <- item{id: env.CorrelationID, owner: owner, topic: env.RoutingKey, msg: msg}:
		return nil
	default:
		return errspkg.ErrEgressFull
	}
}

// NewMessage converts an envelope into a Watermill message carrying the
// correlation headers and, when ctx holds a span, its trace identifiers.
func NewMessage(ctx context.Context, env envelope.Outbound) (*message.Message, error) {
	body, err := env.Body()
	if err != nil {
		return nil, err
	}

	msg := message.NewMessage(idspkg.CreateULID(), body)
	md := metadatapkg.ForRequest(env.CorrelationID, env.ReplyTo, env.Method)
	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			md[metadatapkg.KeyTraceID] = sc.TraceID().String()
			md[metadatapkg.KeySpanID] = sc.SpanID().String()
		}
		msg.SetContext(ctx)
	}
	metadatapkg.Apply(msg, md)
	return msg, nil
}

// Depth reports the number of queued envelopes.
func (p *Publisher) Depth() int {
	return len(p.queue)
}

// Terminated reports whether the sink failed terminally.
func (p *Publisher) Terminated() bool {
	return p.terminated.Load()
}

// Close stops accepting envelopes, drains the queue and waits for the drain
// goroutine. The sink itself is left open.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()
	})
	<-p.done
}

func (p *Publisher) loop() {
	defer close(p.done)
	for it := range p.queue {
		p.send(it)
	}
}

func (p *Publisher) send(it item) {
	if p.terminated.Load() {
		p.fail(it, errspkg.ErrEgressClosed)
		return
	}

	if err := p.sink.Publish(it.topic, it.msg); err != nil {
		if p.isTerminal(err) {
			p.terminated.Store(true)
		}
		p.fail(it, fmt.Errorf("%w: %v", errspkg.ErrPublishFailure, err))
		return
	}

	p.logger.Trace("Published request", logging.LogFields{
		"correlation_id": it.id,
		"topic":          it.topic,
		"message_uuid":   it.msg.UUID,
	})
}

func (p *Publisher) fail(it item, err error) {
	p.logger.Error("Failed to publish request", err, logging.LogFields{
		"correlation_id": it.id,
		"topic":          it.topic,
		"terminated":     p.terminated.Load(),
	})
	if p.onFailure != nil {
		p.onFailure(Failure{ID: it.id, Owner: it.owner, Err: err})
	}
}

// IsTerminal reports whether err says the egress itself was shut down.
// Broker errors are never terminal here: a dropped connection or a closed
// socket fails the one request it hit, and the next request tries again.
// Use WithTerminalCheck for sinks that report a permanent shutdown.
func IsTerminal(err error) bool {
	return err != nil && errors.Is(err, errspkg.ErrEgressClosed)
}
