// Package nats binds the gateway to NATS. Two bindings are registered:
// "nats" uses core NATS subjects, "nats-jetstream" the same subjects backed
// by auto-provisioned JetStream streams. In both, consumers of a routing key
// join one queue group so each request is handled once.
package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/drblury/replyflow/transport"
)

const (
	// TransportName is the core NATS binding.
	TransportName = "nats"
	// JetStreamTransportName is the JetStream binding.
	JetStreamTransportName = "nats-jetstream"
)

const (
	ReconnectWait  = time.Second
	AckWaitTimeout = 30 * time.Second
	CloseTimeout   = 30 * time.Second
)

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg wmnats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return wmnats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg wmnats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return wmnats.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register adds both bindings to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
	transport.RegisterWithCapabilities(JetStreamTransportName, BuildJetStream, transport.NATSJetStreamCapabilities)
}

// Build creates the core NATS binding.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	return build(cfg, logger, wmnats.JetStreamConfig{Disabled: true})
}

// BuildJetStream creates the JetStream binding.
func BuildJetStream(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	return build(cfg, logger, wmnats.JetStreamConfig{
		AutoProvision: true,
		TrackMsgId:    true,
		DurablePrefix: cfg.GetServiceName(),
	})
}

// ConnectOptions are the nats.go options used by both directions.
func ConnectOptions(serviceName string) []natsgo.Option {
	return []natsgo.Option{
		natsgo.Name(serviceName),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(ReconnectWait),
	}
}

func build(cfg transport.Config, logger watermill.LoggerAdapter, js wmnats.JetStreamConfig) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	options := ConnectOptions(cfg.GetServiceName())
	marshaler := &wmnats.NATSMarshaler{}

	publisher, err := PublisherFactory(wmnats.PublisherConfig{
		URL:         url,
		NatsOptions: options,
		Marshaler:   marshaler,
		JetStream:   js,
	}, logger)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("failed to create nats publisher: %w", err)
	}

	subscriber, err := SubscriberFactory(wmnats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: cfg.GetServiceName(),
		SubscribersCount: 1,
		AckWaitTimeout:   AckWaitTimeout,
		CloseTimeout:     CloseTimeout,
		NatsOptions:      options,
		Unmarshaler:      marshaler,
		JetStream:        js,
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, fmt.Errorf("failed to create nats subscriber: %w", err)
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities returns the capabilities of the core NATS binding.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
