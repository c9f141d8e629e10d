// Package channel binds the gateway to an in-process Watermill gochannel.
// Requests and replies never leave the process, which makes it the binding
// used by tests and single-binary setups that host the peers themselves.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/replyflow/transport"
)

// TransportName is the PubSubSystem value of this binding.
const TransportName = "channel"

// OutputBuffer is the per-subscription buffer of the gochannel.
const OutputBuffer = 256

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	Register()
}

// Register adds the binding to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates the gochannel pair. Publishing does not wait for the
// consumer's ack, so the gateway's single egress goroutine is never held up
// by a slow peer handler.
func Build(_ context.Context, _ transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(gochannel.Config{
		OutputChannelBuffer:            OutputBuffer,
		BlockPublishUntilSubscriberAck: false,
	}, logger)
	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
