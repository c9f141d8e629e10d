package runtime

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/drblury/replyflow/internal/runtime/envelope"
	errspkg "github.com/drblury/replyflow/internal/runtime/errors"
	idspkg "github.com/drblury/replyflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/replyflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/replyflow/internal/runtime/metadata"
)

// MethodHandler serves one remote method. Every returned result is sent as
// its own reply on the request's correlation id; an error is sent as a
// single error reply.
type MethodHandler func(ctx context.Context, req envelope.Request) ([]any, error)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// Responder is the remote end of a Gateway: it consumes requests from a
// routing key and answers on the reply-to key each request names.
type Responder struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     loggingpkg.ServiceLogger

	mu       sync.RWMutex
	handlers map[string]MethodHandler

	running     chan struct{}
	runningOnce sync.Once
}

// NewResponder builds a responder on a publisher/subscriber pair, usually
// the Publisher and Subscriber of a transport.
func NewResponder(publisher message.Publisher, subscriber message.Subscriber, logger loggingpkg.ServiceLogger) (*Responder, error) {
	if publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if subscriber == nil {
		return nil, errspkg.ErrSubscriberRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	return &Responder{
		publisher:  publisher,
		subscriber: subscriber,
		logger:     logger,
		handlers:   make(map[string]MethodHandler),
		running:    make(chan struct{}),
	}, nil
}

// Handle registers fn for method, replacing any previous handler.
func (r *Responder) Handle(method string, fn MethodHandler) error {
	if method == "" {
		return errspkg.ErrMethodRequired
	}
	if fn == nil {
		return errspkg.ErrHandlerRequired
	}
	r.mu.Lock()
	r.handlers[method] = fn
	r.mu.Unlock()
	return nil
}

// Running is closed once Serve is consuming requests.
func (r *Responder) Running() <-chan struct{} {
	return r.running
}

// Serve consumes routingKey until ctx is cancelled.
func (r *Responder) Serve(ctx context.Context, routingKey string) error {
	if routingKey == "" {
		return errspkg.ErrRoutingKeyRequired
	}

	router, err := message.NewRouter(message.RouterConfig{}, loggingpkg.NewWatermillAdapter(r.logger))
	if err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}
	router.AddMiddleware(middleware.Recoverer)
	router.AddNoPublisherHandler("replyflow_responder_"+routingKey, routingKey, r.subscriber, r.handleMessage)

	go func() {
		select {
		case <-router.Running():
			r.runningOnce.Do(func() { close(r.running) })
		case <-ctx.Done():
		}
	}()

	return routerRun(router, ctx)
}

func (r *Responder) handleMessage(msg *message.Message) error {
	req, err := envelope.DecodeRequest(msg.Payload)
	if err != nil {
		// Nothing to answer to; redelivery would fail the same way.
		r.logger.Error("Dropping undecodable request", err, loggingpkg.LogFields{
			"message_uuid": msg.UUID,
		})
		return nil
	}

	// Only a failure before any reply went out is nacked. Once part of the
	// replies are published, redelivery would send them twice.
	replies := r.invoke(msg.Context(), req)
	for i, reply := range replies {
		if err := r.send(req, reply); err != nil {
			if i == 0 {
				return err
			}
			r.logger.Error("Dropping remaining replies after partial send", err, loggingpkg.CallFields(req.CorrelationID, "", req.Method).With(loggingpkg.LogFields{
				"sent":    i,
				"dropped": len(replies) - i,
			}))
			return nil
		}
	}
	return nil
}

func (r *Responder) invoke(ctx context.Context, req envelope.Request) (replies []envelope.Reply) {
	r.mu.RLock()
	fn, ok := r.handlers[req.Method]
	r.mu.RUnlock()
	if !ok {
		return []envelope.Reply{{CorrelationID: req.CorrelationID, Error: "unknown method " + req.Method}}
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Recovered from panic in method handler", fmt.Errorf("%v", rec), loggingpkg.CallFields(req.CorrelationID, "", req.Method))
			replies = []envelope.Reply{{CorrelationID: req.CorrelationID, Error: "internal error"}}
		}
	}()

	results, err := fn(ctx, req)
	if err != nil {
		return []envelope.Reply{{CorrelationID: req.CorrelationID, Error: err.Error()}}
	}
	if len(results) == 0 {
		return []envelope.Reply{{CorrelationID: req.CorrelationID}}
	}
	replies = make([]envelope.Reply, 0, len(results))
	for _, result := range results {
		replies = append(replies, envelope.Reply{CorrelationID: req.CorrelationID, Result: result})
	}
	return replies
}

func (r *Responder) send(req envelope.Request, reply envelope.Reply) error {
	body, err := reply.Body()
	if err != nil {
		return fmt.Errorf("failed to marshal reply for %s: %w", req.Method, err)
	}
	out := message.NewMessage(idspkg.CreateULID(), body)
	metadatapkg.Apply(out, metadatapkg.New(
		metadatapkg.KeyCorrelationID, strconv.FormatInt(req.CorrelationID, 10),
		metadatapkg.KeyMethod, req.Method,
	))
	if err := r.publisher.Publish(req.ReplyTo, out); err != nil {
		return fmt.Errorf("failed to publish reply to %s: %w", req.ReplyTo, err)
	}
	return nil
}
