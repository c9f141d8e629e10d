// Package ingress consumes the reply topic and routes every reply to the
// pending request it belongs to.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/replyflow/internal/runtime/envelope"
	errspkg "github.com/drblury/replyflow/internal/runtime/errors"
	idspkg "github.com/drblury/replyflow/internal/runtime/ids"
	"github.com/drblury/replyflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/replyflow/internal/runtime/metadata"
)

// Outcome classifies what happened to one inbound message.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeUnknown   Outcome = "unknown"
	OutcomeMalformed Outcome = "malformed"
	OutcomePanic     Outcome = "panic"
)

// Target receives routed replies. *correlation.Registry satisfies it.
type Target interface {
	Dispatch(id idspkg.CorrelationID, payload string) error
}

// ObserveFunc is called once per inbound message.
type ObserveFunc func(outcome Outcome, id idspkg.CorrelationID, payload string)

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithObserver registers a callback invoked after every message.
func WithObserver(fn ObserveFunc) Option {
	return func(d *Dispatcher) {
		d.observe = fn
	}
}

// Dispatcher is the single reader of the reply topic.
type Dispatcher struct {
	subscriber message.Subscriber
	target     Target
	topic      string
	logger     logging.ServiceLogger
	observe    ObserveFunc

	ready     chan struct{}
	readyOnce sync.Once
}

// NewDispatcher wires a dispatcher reading topic from subscriber.
func NewDispatcher(subscriber message.Subscriber, target Target, topic string, logger logging.ServiceLogger, opts ...Option) (*Dispatcher, error) {
	if subscriber == nil {
		return nil, errspkg.ErrSubscriberRequired
	}
	if target == nil {
		return nil, errors.New("replyflow: dispatch target is required")
	}
	if topic == "" {
		return nil, errspkg.ErrRoutingKeyRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	d := &Dispatcher{
		subscriber: subscriber,
		target:     target,
		topic:      topic,
		logger:     logger.With(logging.LogFields{"topic": topic}),
		ready:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Ready is closed once the subscription is established.
func (d *Dispatcher) Ready() <-chan struct{} {
	return d.ready
}

// Run subscribes and routes replies until ctx is done or the subscriber
// closes the stream. Individual bad messages never end the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	messages, err := d.subscriber.Subscribe(ctx, d.topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", d.topic, err)
	}
	d.readyOnce.Do(func() { close(d.ready) })
	d.logger.Info("Reply dispatcher started", nil)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Reply dispatcher stopped", logging.LogFields{"reason": ctx.Err().Error()})
			return nil
		case msg, ok := <-messages:
			if !ok {
				d.logger.Info("Reply stream closed", nil)
				return nil
			}
			d.handle(msg)
		}
	}
}

func (d *Dispatcher) handle(msg *message.Message) {
	defer msg.Ack()

	var (
		id      idspkg.CorrelationID
		outcome Outcome
	)
	payload := string(msg.Payload)
	defer func() {
		if r := recover(); r != nil {
			outcome = OutcomePanic
			d.logger.Error("Recovered from panic while dispatching reply", fmt.Errorf("%v", r), logging.LogFields{
				"message_uuid":   msg.UUID,
				"correlation_id": id,
			})
		}
		if d.observe != nil {
			d.observe(outcome, id, payload)
		}
	}()

	outcome = d.route(msg, payload, &id)
}

// correlationOf reads the id from the body. Peers that keep the body free of
// routing fields may send it in the correlation header instead.
func correlationOf(msg *message.Message, payload string) (idspkg.CorrelationID, error) {
	id, err := envelope.CorrelationOf([]byte(payload))
	if err == nil {
		return id, nil
	}
	if headerID, ok := metadatapkg.FromWatermill(msg.Metadata).CorrelationID(); ok {
		return headerID, nil
	}
	return 0, err
}

func (d *Dispatcher) route(msg *message.Message, payload string, id *idspkg.CorrelationID) Outcome {
	uuid := msg.UUID
	parsed, err := correlationOf(msg, payload)
	if err != nil {
		d.logger.Debug("Dropping malformed reply", logging.LogFields{
			"message_uuid": uuid,
			"reason":       err.Error(),
		})
		return OutcomeMalformed
	}
	*id = parsed

	if err := d.target.Dispatch(parsed, payload); err != nil {
		d.logger.Debug("Dropping reply without pending request", logging.LogFields{
			"message_uuid":   uuid,
			"correlation_id": parsed,
			"reason":         err.Error(),
		})
		return OutcomeUnknown
	}
	return OutcomeDelivered
}
