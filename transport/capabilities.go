package transport

// Capabilities describes what a broker binding guarantees for RPC traffic.
type Capabilities struct {
	// Name is the PubSubSystem value the binding is registered under.
	Name string

	// SupportsOrdering reports whether requests published to one routing key
	// arrive in publish order.
	SupportsOrdering bool

	// SupportsAck reports explicit acknowledgement of consumed messages.
	SupportsAck bool

	// SupportsNack reports redelivery of negatively acknowledged messages.
	SupportsNack bool

	// SupportsTracing reports that message metadata travels as broker headers,
	// so trace and correlation headers reach the peer.
	SupportsTracing bool

	// SupportsWorkQueues reports that several consumers of one routing key
	// share the load instead of each receiving every request.
	SupportsWorkQueues bool

	// Durable reports that requests survive a broker restart.
	Durable bool

	// MaxMessageSize is the largest body in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// SupportsReliableDelivery reports at-least-once semantics (ack and nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Fits reports whether a body of size bytes can be published.
func (c Capabilities) Fits(size int) bool {
	return c.MaxMessageSize <= 0 || int64(size) <= c.MaxMessageSize
}

var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	RabbitMQCapabilities = Capabilities{
		Name:               "rabbitmq",
		SupportsOrdering:   true,
		SupportsAck:        true,
		SupportsNack:       true,
		SupportsTracing:    true,
		SupportsWorkQueues: true,
		Durable:            true,
	}

	NATSCapabilities = Capabilities{
		Name:               "nats",
		SupportsTracing:    true,
		SupportsWorkQueues: true,
		MaxMessageSize:     1 << 20,
	}

	NATSJetStreamCapabilities = Capabilities{
		Name:               "nats-jetstream",
		SupportsOrdering:   true,
		SupportsAck:        true,
		SupportsNack:       true,
		SupportsTracing:    true,
		SupportsWorkQueues: true,
		Durable:            true,
		MaxMessageSize:     1 << 20,
	}

	KafkaCapabilities = Capabilities{
		Name:               "kafka",
		SupportsOrdering:   true,
		SupportsAck:        true,
		SupportsTracing:    true,
		SupportsWorkQueues: true,
		Durable:            true,
		MaxMessageSize:     1 << 20,
	}

	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
	}

	AWSCapabilities = Capabilities{
		Name:               "aws",
		SupportsAck:        true,
		SupportsNack:       true,
		SupportsTracing:    true,
		SupportsWorkQueues: true,
		Durable:            true,
		MaxMessageSize:     256 << 10,
	}
)
