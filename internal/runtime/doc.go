/*
Package runtime provides the request/reply core of replyflow.

# Architecture Overview

A Gateway turns a fire-and-forget publish/subscribe transport into calls
that can be answered. Each call is tagged with a correlation id, the id is
registered before the request leaves, and replies arriving on the gateway's
own reply-to routing key are routed back to the registered stream.

# Package Structure

## Gateway (gateway.go)

The Gateway wires together:
  - the broker binding built by a transport.Factory
  - the correlation registry and id generator
  - the egress queue (one writer goroutine towards the broker)
  - the ingress dispatcher (one reader of the reply-to key)
  - Prometheus collectors, the /metrics server and the idle janitor

## Reply streams (stream.go)

Call returns a ReplyStream that was subscribed before publishing. Callers
await one reply, collect several or observe the id indefinitely; teardown is
explicit through DeleteCorrelationID.

## Hooks and metrics (hooks.go, metrics.go)

CallHooks observe the request lifecycle. GatewayMetrics counts calls,
replies, publish failures, evictions and dropped replies.

## Responder (responder.go)

The remote end of the protocol: a Watermill router that decodes requests,
calls the handler registered for the method and publishes each result to the
request's reply-to key.

# Sub-packages

  - config/: gateway and broker configuration with validation
  - correlation/: correlation registry and fan-out reply channels
  - egress/: bounded outbound queue in front of the broker publisher
  - envelope/: request and reply JSON bodies
  - errors/: sentinel errors and error types
  - ids/: correlation id generation and ULIDs for message UUIDs
  - ingress/: reply dispatcher
  - logging/: logger interface and adapters
  - metadata/: message header utilities
  - transport/: transport factories on top of the broker registry

# Usage Example

	cfg := &replyflow.Config{
		PubSubSystem: "nats",
		NATSURL:      "nats://localhost:4222",
		ReplyTo:      "gateway-1.replies",
	}

	gw := replyflow.NewGateway(cfg, logger, ctx, replyflow.GatewayDependencies{})
	go gw.Start(ctx)
	<-gw.Ready()

	stream, id, err := gw.Call(ctx, "nodeA.rpc", "createStream", []any{"room1"})
	if err != nil {
		return err
	}
	defer gw.DeleteCorrelationID(id)
	reply, err := stream.AwaitFirst(ctx, 5*time.Second)
*/
package runtime
