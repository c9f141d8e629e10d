// Package transports imports every built-in broker binding so they register
// with the default registry.
package transports

import (
	_ "github.com/drblury/replyflow/transport/aws"
	_ "github.com/drblury/replyflow/transport/channel"
	_ "github.com/drblury/replyflow/transport/http"
	_ "github.com/drblury/replyflow/transport/kafka"
	_ "github.com/drblury/replyflow/transport/nats"
	_ "github.com/drblury/replyflow/transport/rabbitmq"
)
