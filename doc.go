// Package replyflow turns a fire-and-forget publish/subscribe broker into
// request/reply calls. A Gateway publishes each request with a correlation
// id and its own reply-to routing key; whatever the remote peer publishes back
// under that id is delivered to the stream Call returned.
//
// Calls never block on the broker. Requests go through a bounded egress queue
// and a full or terminated queue fails the call at once, rolling its
// registration back. Replies are read by a single dispatcher; malformed
// replies and replies for unknown ids are logged and dropped without
// affecting other calls. A peer may answer one request several times, so a
// registration lives until DeleteCorrelationID is called (or, when
// Config.PendingTTL is set, until it has been idle for that long).
//
// # Transports
//
// The broker binding is selected by Config.PubSubSystem:
//   - channel: in-memory Go channels for tests and single-process setups
//   - rabbitmq: durable AMQP queues, one per routing key
//   - nats: core NATS with a queue group per service
//   - nats-jetstream: NATS JetStream with durable consumers
//   - kafka: topics with a consumer group per service
//   - http: HTTP push, replies served by an embedded server
//   - aws: SNS topics fanned into SQS queues, with LocalStack support
//
// # Peers
//
// Responder implements the other end: it consumes a routing key, calls the
// handler registered for the request's method and answers every result on
// the request's reply-to key. A handler may return several results; each is
// sent as its own reply.
//
// # Observability
//
// With MetricsEnabled the gateway registers Prometheus collectors, decorates
// the broker binding with Watermill's metrics and serves /metrics on
// MetricsPort. Every Call opens an OpenTelemetry producer span whose trace
// ids travel in the request headers. CallHooks observe the request lifecycle
// for custom logging or alerting.
package replyflow
