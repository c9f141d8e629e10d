package runtime

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	errspkg "github.com/drblury/replyflow/internal/runtime/errors"
	"github.com/drblury/replyflow/internal/runtime/ingress"
)

const (
	metricsNamespace = "replyflow"
	metricsSubsystem = "gateway"
)

// Call outcomes recorded on calls_total.
const (
	CallOutcomePublished     = "published"
	CallOutcomeConflict      = "conflict"
	CallOutcomeUnknown       = "unknown_correlation"
	CallOutcomePublishFailed = "publish_failed"
	CallOutcomeInvalid       = "invalid"
)

// Publish failure reasons recorded on publish_failures_total.
const (
	PublishFailureFull   = "full"
	PublishFailureClosed = "closed"
	PublishFailureSink   = "sink"
)

// GatewayMetrics holds the Prometheus collectors of one gateway.
type GatewayMetrics struct {
	mu sync.Mutex

	calls           *prometheus.CounterVec
	replies         *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
	evictions       prometheus.Counter
	droppedReplies  prometheus.Counter
	pending         prometheus.GaugeFunc
	egressDepth     prometheus.GaugeFunc

	registerer prometheus.Registerer
	registered bool
}

func newGatewayCounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newGatewayCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      name,
		Help:      help,
	})
}

func newGatewayGaugeFunc(name, help string, fn func() int) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		},
		func() float64 { return float64(fn()) },
	)
}

// NewGatewayMetrics creates the collectors. pending and depth are sampled at
// scrape time. Nothing is registered until Register is called.
func NewGatewayMetrics(registerer prometheus.Registerer, pending, depth func() int) *GatewayMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if pending == nil {
		pending = func() int { return 0 }
	}
	if depth == nil {
		depth = func() int { return 0 }
	}

	return &GatewayMetrics{
		registerer:      registerer,
		calls:           newGatewayCounterVec("calls_total", "Calls by outcome", "outcome"),
		replies:         newGatewayCounterVec("replies_total", "Inbound replies by dispatch outcome", "outcome"),
		publishFailures: newGatewayCounterVec("publish_failures_total", "Requests the egress queue could not deliver", "reason"),
		evictions:       newGatewayCounter("evictions_total", "Registrations removed by the idle janitor"),
		droppedReplies:  newGatewayCounter("dropped_replies_total", "Replies lost to full subscriber buffers"),
		pending:         newGatewayGaugeFunc("pending_requests", "Outstanding correlation registrations", pending),
		egressDepth:     newGatewayGaugeFunc("egress_queue_depth", "Requests waiting in the egress queue", depth),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *GatewayMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.calls,
		m.replies,
		m.publishFailures,
		m.evictions,
		m.droppedReplies,
		m.pending,
		m.egressDepth,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordCall counts a Call by outcome.
func (m *GatewayMetrics) RecordCall(outcome string) {
	m.calls.WithLabelValues(outcome).Inc()
}

// RecordReply counts an inbound message by dispatch outcome.
func (m *GatewayMetrics) RecordReply(outcome ingress.Outcome) {
	m.replies.WithLabelValues(string(outcome)).Inc()
}

// RecordPublishFailure counts an egress failure, classified by err.
func (m *GatewayMetrics) RecordPublishFailure(err error) {
	m.publishFailures.WithLabelValues(PublishFailureReason(err)).Inc()
}

func (m *GatewayMetrics) RecordEvictions(n int) {
	if n > 0 {
		m.evictions.Add(float64(n))
	}
}

func (m *GatewayMetrics) RecordDroppedReply() {
	m.droppedReplies.Inc()
}

// PublishFailureReason maps an egress error onto a publish_failures_total label.
func PublishFailureReason(err error) string {
	switch {
	case errors.Is(err, errspkg.ErrEgressFull):
		return PublishFailureFull
	case errors.Is(err, errspkg.ErrEgressClosed):
		return PublishFailureClosed
	default:
		return PublishFailureSink
	}
}
