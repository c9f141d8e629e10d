package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/replyflow/transport"
	"github.com/drblury/replyflow/transport/transporttest"
)

func withFactories(t *testing.T) {
	t.Helper()
	pub, sub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() { PublisherFactory, SubscriberFactory = pub, sub })
}

func testConfig() *transporttest.Config {
	return &transporttest.Config{
		ServiceName:        "gateway",
		KafkaBrokers:       []string{"localhost:9092"},
		KafkaConsumerGroup: "gateway.replies",
	}
}

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "kafka", caps.Name)
	assert.True(t, caps.SupportsOrdering)
	assert.False(t, caps.SupportsNack)
}

func TestSaramaConfigs(t *testing.T) {
	sub := SaramaSubscriberConfig("gateway")
	assert.Equal(t, sarama.OffsetNewest, sub.Consumer.Offsets.Initial)
	assert.Equal(t, "gateway", sub.ClientID)

	pub := SaramaPublisherConfig("")
	assert.True(t, pub.Producer.Return.Successes)
}

func TestBuild(t *testing.T) {
	withFactories(t)

	pub := &transporttest.Publisher{}
	sub := &transporttest.Subscriber{}
	PublisherFactory = func(cfg kafka.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
		require.NotNil(t, cfg.OverwriteSaramaConfig)
		assert.Equal(t, "gateway", cfg.OverwriteSaramaConfig.ClientID)
		return pub, nil
	}
	SubscriberFactory = func(cfg kafka.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
		assert.Equal(t, "gateway.replies", cfg.ConsumerGroup)
		require.NotNil(t, cfg.OverwriteSaramaConfig)
		assert.Equal(t, sarama.OffsetNewest, cfg.OverwriteSaramaConfig.Consumer.Offsets.Initial)
		return sub, nil
	}

	tr, err := Build(context.Background(), testConfig(), watermill.NopLogger{})
	require.NoError(t, err)
	assert.Same(t, pub, tr.Publisher)
	assert.Same(t, sub, tr.Subscriber)
}

func TestBuildPublisherError(t *testing.T) {
	withFactories(t)
	PublisherFactory = func(kafka.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
		return nil, errors.New("publisher error")
	}

	_, err := Build(context.Background(), testConfig(), watermill.NopLogger{})
	assert.ErrorContains(t, err, "publisher error")
}

func TestBuildSubscriberErrorClosesPublisher(t *testing.T) {
	withFactories(t)
	pub := &transporttest.Publisher{}
	PublisherFactory = func(kafka.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
		return pub, nil
	}
	SubscriberFactory = func(kafka.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
		return nil, errors.New("subscriber error")
	}

	_, err := Build(context.Background(), testConfig(), watermill.NopLogger{})
	assert.ErrorContains(t, err, "subscriber error")
	assert.True(t, pub.Closed)
}
