package transports_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drblury/replyflow/transport"
	_ "github.com/drblury/replyflow/transport/transports"
)

func TestBuiltinsRegistered(t *testing.T) {
	assert.Equal(t,
		[]string{"aws", "channel", "http", "kafka", "nats", "nats-jetstream", "rabbitmq"},
		transport.DefaultRegistry.Names(),
	)
}
