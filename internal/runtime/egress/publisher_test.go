package egress

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/replyflow/internal/runtime/envelope"
	errspkg "github.com/drblury/replyflow/internal/runtime/errors"
	idspkg "github.com/drblury/replyflow/internal/runtime/ids"
	"github.com/drblury/replyflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/replyflow/internal/runtime/metadata"
)

type recordingSink struct {
	mu       sync.Mutex
	topics   []string
	messages []*message.Message
	err      error
	gate     chan struct{}
}

func (s *recordingSink) Publish(topic string, msgs ...*message.Message) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	for _, msg := range msgs {
		s.topics = append(s.topics, topic)
		s.messages = append(s.messages, msg)
	}
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func outbound(id idspkg.CorrelationID) envelope.Outbound {
	return envelope.Outbound{
		RoutingKey:    "nodeA.rpc",
		Method:        "createStream",
		Args:          []any{"room1"},
		CorrelationID: id,
		ReplyTo:       "gateway.replies",
	}
}

func TestPublishDeliversToSink(t *testing.T) {
	sink := &recordingSink{}
	pub, err := NewPublisher(sink, logging.NewNopServiceLogger())
	require.NoError(t, err)

	require.NoError(t, pub.Publish(context.Background(), outbound(42)))
	pub.Close()

	require.Equal(t, 1, sink.count())
	assert.Equal(t, "nodeA.rpc", sink.topics[0])

	msg := sink.messages[0]
	assert.NotEmpty(t, msg.UUID)
	assert.JSONEq(t, `{"method":"createStream","args":["room1"],"corrID":42,"replyTo":"gateway.replies"}`, string(msg.Payload))
	assert.Equal(t, "42", msg.Metadata.Get(metadatapkg.KeyCorrelationID))
	assert.Equal(t, "gateway.replies", msg.Metadata.Get(metadatapkg.KeyReplyTo))
	assert.Equal(t, "createStream", msg.Metadata.Get(metadatapkg.KeyMethod))
}

func TestPublishPreservesOrder(t *testing.T) {
	sink := &recordingSink{}
	pub, err := NewPublisher(sink, logging.NewNopServiceLogger(), WithBufferSize(64))
	require.NoError(t, err)

	for id := idspkg.CorrelationID(0); id < 50; id++ {
		require.NoError(t, pub.Publish(context.Background(), outbound(id)))
	}
	pub.Close()

	require.Equal(t, 50, sink.count())
	for i, msg := range sink.messages {
		assert.Equal(t, strconv.Itoa(i), msg.Metadata.Get(metadatapkg.KeyCorrelationID))
	}
}

func TestPublishRequiresRoutingKey(t *testing.T) {
	pub, err := NewPublisher(&recordingSink{}, logging.NewNopServiceLogger())
	require.NoError(t, err)
	defer pub.Close()

	env := outbound(1)
	env.RoutingKey = ""
	assert.ErrorIs(t, pub.Publish(context.Background(), env), errspkg.ErrRoutingKeyRequired)
}

func TestPublishFullQueueFailsFast(t *testing.T) {
	sink := &recordingSink{gate: make(chan struct{})}
	pub, err := NewPublisher(sink, logging.NewNopServiceLogger(), WithBufferSize(1))
	require.NoError(t, err)

	// The first envelope is picked up by the drain goroutine and parks on the
	// gate, the second fills the queue.
	require.NoError(t, pub.Publish(context.Background(), outbound(1)))
	require.Eventually(t, func() bool { return pub.Depth() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, pub.Publish(context.Background(), outbound(2)))

	err = pub.Publish(context.Background(), outbound(3))
	assert.ErrorIs(t, err, errspkg.ErrEgressFull)
	assert.ErrorIs(t, err, errspkg.ErrPublishFailure)

	close(sink.gate)
	pub.Close()
	assert.Equal(t, 2, sink.count())
}

func TestPublishAfterCloseFails(t *testing.T) {
	pub, err := NewPublisher(&recordingSink{}, logging.NewNopServiceLogger())
	require.NoError(t, err)
	pub.Close()
	pub.Close()

	err = pub.Publish(context.Background(), outbound(1))
	assert.ErrorIs(t, err, errspkg.ErrEgressClosed)
	assert.ErrorIs(t, err, errspkg.ErrPublishFailure)
}

func TestTerminalSinkFailureStopsEgress(t *testing.T) {
	sink := &recordingSink{err: fmt.Errorf("sink shut down: %w", errspkg.ErrEgressClosed)}

	var mu sync.Mutex
	var failed []idspkg.CorrelationID
	pub, err := NewPublisher(sink, logging.NewNopServiceLogger(), WithOnFailure(func(f Failure) {
		assert.ErrorIs(t, f.Err, errspkg.ErrPublishFailure)
		mu.Lock()
		failed = append(failed, f.ID)
		mu.Unlock()
	}))
	require.NoError(t, err)

	require.NoError(t, pub.Publish(context.Background(), outbound(5)))
	require.Eventually(t, pub.Terminated, time.Second, time.Millisecond)

	err = pub.Publish(context.Background(), outbound(6))
	assert.ErrorIs(t, err, errspkg.ErrEgressClosed)

	pub.Close()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []idspkg.CorrelationID{5}, failed)
}

func TestTransientSinkFailureKeepsRunning(t *testing.T) {
	sink := &recordingSink{err: errors.New("broker busy")}
	failures := make(chan idspkg.CorrelationID, 1)
	pub, err := NewPublisher(sink, logging.NewNopServiceLogger(), WithOnFailure(func(f Failure) {
		failures <- f.ID
	}))
	require.NoError(t, err)
	defer pub.Close()

	require.NoError(t, pub.Publish(context.Background(), outbound(9)))
	assert.Equal(t, idspkg.CorrelationID(9), <-failures)
	assert.False(t, pub.Terminated())
}

func TestClosedConnectionErrorsDoNotStopEgress(t *testing.T) {
	for name, sinkErr := range map[string]error{
		"reconnecting": errors.New("amqp: connection closed, reconnecting"),
		"net closed":   fmt.Errorf("kafka: write: %w", net.ErrClosed),
	} {
		t.Run(name, func(t *testing.T) {
			sink := &recordingSink{err: sinkErr}
			failures := make(chan Failure, 1)
			pub, err := NewPublisher(sink, logging.NewNopServiceLogger(), WithOnFailure(func(f Failure) {
				failures <- f
			}))
			require.NoError(t, err)

			require.NoError(t, pub.Publish(context.Background(), outbound(1)))
			f := <-failures
			assert.ErrorIs(t, f.Err, errspkg.ErrPublishFailure)
			assert.False(t, pub.Terminated())

			sink.mu.Lock()
			sink.err = nil
			sink.mu.Unlock()

			require.NoError(t, pub.Publish(context.Background(), outbound(2)))
			pub.Close()
			require.Equal(t, 1, sink.count())
			assert.Equal(t, "2", sink.messages[0].Metadata.Get(metadatapkg.KeyCorrelationID))
		})
	}
}

func TestFailureCarriesOwner(t *testing.T) {
	sink := &recordingSink{err: errors.New("nack")}
	failures := make(chan Failure, 2)
	pub, err := NewPublisher(sink, logging.NewNopServiceLogger(), WithOnFailure(func(f Failure) {
		failures <- f
	}))
	require.NoError(t, err)
	defer pub.Close()

	owner := &struct{ name string }{"first"}
	require.NoError(t, pub.PublishFor(context.Background(), outbound(3), owner))
	require.NoError(t, pub.Publish(context.Background(), outbound(3)))

	first, second := <-failures, <-failures
	assert.Same(t, owner, first.Owner)
	assert.Nil(t, second.Owner)
	assert.Equal(t, idspkg.CorrelationID(3), second.ID)
}

func TestCustomTerminalCheck(t *testing.T) {
	sink := &recordingSink{err: errors.New("topic deleted")}
	pub, err := NewPublisher(sink, logging.NewNopServiceLogger(), WithTerminalCheck(func(err error) bool {
		return strings.Contains(err.Error(), "deleted")
	}))
	require.NoError(t, err)
	defer pub.Close()

	require.NoError(t, pub.Publish(context.Background(), outbound(1)))
	require.Eventually(t, pub.Terminated, time.Second, time.Millisecond)
}

func TestNewMessageCarriesTraceIDs(t *testing.T) {
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	msg, err := NewMessage(ctx, outbound(1))
	require.NoError(t, err)
	assert.Equal(t, sc.TraceID().String(), msg.Metadata.Get(metadatapkg.KeyTraceID))
	assert.Equal(t, sc.SpanID().String(), msg.Metadata.Get(metadatapkg.KeySpanID))
}

func TestNewPublisherValidation(t *testing.T) {
	_, err := NewPublisher(nil, logging.NewNopServiceLogger())
	assert.ErrorIs(t, err, errspkg.ErrPublisherRequired)

	_, err = NewPublisher(&recordingSink{}, nil)
	assert.ErrorIs(t, err, errspkg.ErrLoggerRequired)
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(nil))
	assert.True(t, IsTerminal(errspkg.ErrEgressClosed))
	assert.True(t, IsTerminal(fmt.Errorf("drain: %w", errspkg.ErrEgressClosed)))
	assert.False(t, IsTerminal(errors.New("publisher closed")))
	assert.False(t, IsTerminal(errors.New("connection closed, reconnecting")))
	assert.False(t, IsTerminal(fmt.Errorf("write: %w", net.ErrClosed)))
	assert.False(t, IsTerminal(errors.New("timeout")))
}
