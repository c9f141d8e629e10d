package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/replyflow/internal/runtime/config"
	"github.com/drblury/replyflow/internal/runtime/correlation"
	"github.com/drblury/replyflow/internal/runtime/egress"
	"github.com/drblury/replyflow/internal/runtime/envelope"
	errspkg "github.com/drblury/replyflow/internal/runtime/errors"
	idspkg "github.com/drblury/replyflow/internal/runtime/ids"
	"github.com/drblury/replyflow/internal/runtime/ingress"
	loggingpkg "github.com/drblury/replyflow/internal/runtime/logging"
	transportpkg "github.com/drblury/replyflow/internal/runtime/transport"
)

const tracerName = "github.com/drblury/replyflow"

// GatewayDependencies holds the optional collaborators of a Gateway. Leave
// fields nil to use the defaults.
type GatewayDependencies struct {
	TransportFactory transportpkg.Factory
	// Registerer receives the gateway collectors when metrics are enabled.
	// Defaults to prometheus.DefaultRegisterer.
	Registerer     prometheus.Registerer
	TracerProvider trace.TracerProvider
	Hooks          CallHooks
	// IntN replaces the random source of the correlation generator.
	IntN  idspkg.IntN
	Clock func() time.Time
}

// Gateway turns the broker binding into request/reply calls. Requests leave
// through one egress queue, replies arrive on Conf.ReplyTo and are routed to
// the caller by correlation id.
type Gateway struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	transport  transportpkg.Transport
	registry   *correlation.Registry
	generator  *idspkg.CorrelationGenerator
	egress     *egress.Publisher
	dispatcher *ingress.Dispatcher

	metrics  *GatewayMetrics
	gatherer prometheus.Gatherer
	hooks    CallHooks
	tracer   trace.Tracer
	now      func() time.Time

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewGateway constructs a Gateway and panics when the configuration is
// invalid or the transport cannot be built. Call Start before issuing calls.
func NewGateway(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps GatewayDependencies) *Gateway {
	g, err := TryNewGateway(conf, log, ctx, deps)
	if err != nil {
		panic(err)
	}
	return g
}

// TryNewGateway is NewGateway returning the construction error instead of
// panicking.
func TryNewGateway(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps GatewayDependencies) (*Gateway, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	resolved := conf.WithDefaults()
	if err := resolved.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	log.Info("Creating RPC gateway", loggingpkg.LogFields{
		"pubsub_system": resolved.PubSubSystem,
		"reply_to":      resolved.ReplyTo,
		"config":        resolved,
	})

	g := &Gateway{
		Conf:   &resolved,
		Logger: log,
		hooks:  deps.Hooks,
		now:    deps.Clock,
	}
	if g.now == nil {
		g.now = time.Now
	}
	tp := deps.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	g.tracer = tp.Tracer(tracerName)

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	transport, err := factory.Build(ctx, g.Conf, loggingpkg.NewWatermillAdapter(log))
	if err != nil {
		return nil, err
	}
	if transport.Publisher == nil || transport.Subscriber == nil {
		_ = transport.Close()
		return nil, fmt.Errorf("replyflow: transport %q is incomplete", g.Conf.PubSubSystem)
	}
	g.transport = transport

	if err := g.wire(deps); err != nil {
		_ = transport.Close()
		return nil, err
	}
	return g, nil
}

func (g *Gateway) wire(deps GatewayDependencies) error {
	registerer := deps.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if gatherer, ok := registerer.(prometheus.Gatherer); ok {
		g.gatherer = gatherer
	}

	g.metrics = NewGatewayMetrics(registerer, g.Pending, g.egressDepth)
	g.registry = correlation.NewRegistry(
		correlation.WithClock(g.now),
		correlation.WithDropHandler(func(idspkg.CorrelationID) { g.metrics.RecordDroppedReply() }),
	)

	generator, err := idspkg.NewCorrelationGenerator(g.Conf.MaxCorrelationID, g.registry, deps.IntN)
	if err != nil {
		return err
	}
	g.generator = generator

	publisher := g.transport.Publisher
	subscriber := g.transport.Subscriber
	if g.Conf.MetricsEnabled {
		if err := g.metrics.Register(); err != nil {
			return fmt.Errorf("failed to register gateway metrics: %w", err)
		}
		builder := metrics.NewPrometheusMetricsBuilder(registerer, metricsNamespace, "broker")
		if publisher, err = builder.DecoratePublisher(publisher); err != nil {
			return fmt.Errorf("failed to decorate publisher: %w", err)
		}
		if subscriber, err = builder.DecorateSubscriber(subscriber); err != nil {
			return fmt.Errorf("failed to decorate subscriber: %w", err)
		}
		if g.Conf.MetricsPort > 0 {
			g.RegisterHTTPHandler(g.Conf.MetricsPort, "/metrics", g.metricsHandler())
		}
	}

	g.egress, err = egress.NewPublisher(publisher, g.Logger,
		egress.WithBufferSize(g.Conf.EgressBufferSize),
		egress.WithOnFailure(g.onPublishFailure),
	)
	if err != nil {
		return err
	}

	g.dispatcher, err = ingress.NewDispatcher(subscriber, g.registry, g.Conf.ReplyTo, g.Logger,
		ingress.WithObserver(g.observeReply),
	)
	if err != nil {
		g.egress.Close()
		return err
	}
	return nil
}

// Start runs the reply dispatcher until ctx is cancelled or the broker closes
// the reply stream. The idle janitor and HTTP servers run alongside it.
func (g *Gateway) Start(ctx context.Context) error {
	g.startHTTPServers(ctx)
	if g.Conf.PendingTTL > 0 {
		go g.runJanitor(ctx)
	}
	return g.dispatcher.Run(ctx)
}

// Ready is closed once replies can be received.
func (g *Gateway) Ready() <-chan struct{} {
	return g.dispatcher.Ready()
}

// CallOption customises a single Call.
type CallOption func(*callOptions)

type callOptions struct {
	correlationID *idspkg.CorrelationID
}

// WithCorrelationID sends the request under an id that is already
// registered, so replies to several requests share one stream.
func WithCorrelationID(id idspkg.CorrelationID) CallOption {
	return func(o *callOptions) {
		o.correlationID = &id
	}
}

// Call publishes method(args) to routingKey and returns at once with the
// stream replies will arrive on. The registration stays until
// DeleteCorrelationID is called, the request cannot be published, or the
// idle janitor evicts it.
func (g *Gateway) Call(ctx context.Context, routingKey, method string, args []any, opts ...CallOption) (*ReplyStream, idspkg.CorrelationID, error) {
	if routingKey == "" {
		g.metrics.RecordCall(CallOutcomeInvalid)
		return nil, 0, errspkg.ErrRoutingKeyRequired
	}
	if method == "" {
		g.metrics.RecordCall(CallOutcomeInvalid)
		return nil, 0, errspkg.ErrMethodRequired
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := g.tracer.Start(ctx, "replyflow.call",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("replyflow.routing_key", routingKey),
			attribute.String("replyflow.method", method),
		),
	)
	defer span.End()

	info := CallInfo{RoutingKey: routingKey, Method: method, StartedAt: g.now()}
	stream, ch, err := g.open(o, &info)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, err
	}
	span.SetAttributes(
		attribute.Int64("replyflow.correlation_id", info.CorrelationID),
		attribute.Bool("replyflow.reused", info.Reused),
	)

	err = g.egress.PublishFor(ctx, envelope.Outbound{
		RoutingKey:    routingKey,
		Method:        method,
		Args:          args,
		CorrelationID: info.CorrelationID,
		ReplyTo:       g.Conf.ReplyTo,
	}, ch)
	if err != nil {
		stream.Close()
		g.registry.RemoveIf(info.CorrelationID, ch)
		g.metrics.RecordCall(CallOutcomePublishFailed)
		g.metrics.RecordPublishFailure(err)
		if g.hooks.OnPublishError != nil {
			g.hooks.OnPublishError(info.CorrelationID, err)
		}
		if !errors.Is(err, errspkg.ErrPublishFailure) {
			err = fmt.Errorf("%w: %v", errspkg.ErrPublishFailure, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, fmt.Errorf("call %s on %s: %w", method, routingKey, err)
	}

	g.metrics.RecordCall(CallOutcomePublished)
	if g.hooks.OnCall != nil {
		g.hooks.OnCall(info)
	}
	return stream, info.CorrelationID, nil
}

// open resolves the registration of a call and subscribes to it before
// anything is published, so no reply can be missed.
func (g *Gateway) open(o callOptions, info *CallInfo) (*ReplyStream, *correlation.ReplyChannel, error) {
	var ch *correlation.ReplyChannel
	if o.correlationID != nil {
		id := *o.correlationID
		var ok bool
		if ch, ok = g.registry.Lookup(id); !ok {
			g.metrics.RecordCall(CallOutcomeUnknown)
			return nil, nil, fmt.Errorf("%w: %d", errspkg.ErrUnknownCorrelation, id)
		}
		info.CorrelationID = id
		info.Reused = true
	} else {
		id, err := g.generator.Generate()
		if err != nil {
			g.metrics.RecordCall(CallOutcomeConflict)
			return nil, nil, err
		}
		if ch, err = g.registry.Register(id); err != nil {
			g.metrics.RecordCall(CallOutcomeConflict)
			return nil, nil, err
		}
		info.CorrelationID = id
	}

	sub, err := ch.Subscribe(g.Conf.ReplyBufferSize)
	if err != nil {
		if !info.Reused {
			g.registry.RemoveIf(info.CorrelationID, ch)
		}
		g.metrics.RecordCall(CallOutcomeUnknown)
		return nil, nil, fmt.Errorf("%w: %d", errspkg.ErrUnknownCorrelation, info.CorrelationID)
	}
	return &ReplyStream{Subscription: sub, buffer: g.Conf.ReplyBufferSize}, ch, nil
}

// DeleteCorrelationID tears the registration down. Every stream on the id is
// closed and later replies to it are dropped as unknown.
func (g *Gateway) DeleteCorrelationID(id idspkg.CorrelationID) {
	g.registry.Remove(id)
}

// Pending returns the number of live registrations.
func (g *Gateway) Pending() int {
	return g.registry.Len()
}

// Metrics exposes the gateway collectors.
func (g *Gateway) Metrics() *GatewayMetrics {
	return g.metrics
}

// EvictExpired removes registrations idle for longer than Conf.PendingTTL
// and returns their ids. It does nothing when no TTL is configured.
func (g *Gateway) EvictExpired() []idspkg.CorrelationID {
	if g.Conf.PendingTTL <= 0 {
		return nil
	}
	evicted := g.registry.EvictOlderThan(g.now().Add(-g.Conf.PendingTTL))
	if len(evicted) > 0 {
		g.metrics.RecordEvictions(len(evicted))
		g.Logger.Info("Evicted idle registrations", loggingpkg.LogFields{
			"count": len(evicted),
			"ttl":   g.Conf.PendingTTL.String(),
		})
	}
	return evicted
}

// Close drains the egress queue, ends every reply stream and closes the
// transport. Calls made afterwards fail.
func (g *Gateway) Close() error {
	g.closeOnce.Do(func() {
		g.egress.Close()
		g.registry.Close()
		g.closeErr = g.transport.Close()
	})
	return g.closeErr
}

func (g *Gateway) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(g.Conf.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.EvictExpired()
		}
	}
}

// onPublishFailure runs on the egress drain goroutine. Only the registration
// that made the request is rolled back; the id may already belong to a newer
// call. The hook runs on its own goroutine so it may call Close.
func (g *Gateway) onPublishFailure(f egress.Failure) {
	if ch, ok := f.Owner.(*correlation.ReplyChannel); ok {
		g.registry.RemoveIf(f.ID, ch)
	}
	g.metrics.RecordPublishFailure(f.Err)
	if g.hooks.OnPublishError != nil {
		go g.hooks.OnPublishError(f.ID, f.Err)
	}
}

func (g *Gateway) observeReply(outcome ingress.Outcome, id idspkg.CorrelationID, payload string) {
	g.metrics.RecordReply(outcome)
	if outcome == ingress.OutcomeDelivered && g.hooks.OnReply != nil {
		g.hooks.OnReply(id, payload)
	}
}

func (g *Gateway) egressDepth() int {
	if g.egress == nil {
		return 0
	}
	return g.egress.Depth()
}

func (g *Gateway) metricsHandler() http.Handler {
	if g.gatherer != nil {
		return promhttp.HandlerFor(g.gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// RegisterHTTPHandler mounts handler on the server listening on port. The
// servers start with the gateway.
func (g *Gateway) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	g.httpServersMu.Lock()
	defer g.httpServersMu.Unlock()

	if g.httpServers == nil {
		g.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := g.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		g.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (g *Gateway) startHTTPServers(ctx context.Context) {
	g.httpServersMu.Lock()
	defer g.httpServersMu.Unlock()

	for port, mux := range g.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				g.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}
}
