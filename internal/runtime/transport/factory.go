// Package transport resolves the broker binding the gateway runs on.
package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/replyflow/internal/runtime/config"
	brokers "github.com/drblury/replyflow/transport"

	_ "github.com/drblury/replyflow/transport/transports"
)

// Transport is a publisher/subscriber pair.
type Transport = brokers.Transport

// Factory builds the transport for a config.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)

func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	return f(ctx, conf, logger)
}

// Static always returns t. Used to run several components on one in-process
// broker.
func Static(t Transport) Factory {
	return FactoryFunc(func(context.Context, *config.Config, watermill.LoggerAdapter) (Transport, error) {
		return t, nil
	})
}

// DefaultFactory builds transports from the default broker registry.
func DefaultFactory() Factory {
	return FactoryFunc(func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
		if conf == nil {
			return Transport{}, errors.New("replyflow: config is required")
		}
		return brokers.Build(ctx, conf, logger)
	})
}
