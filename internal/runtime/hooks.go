package runtime

import (
	"time"

	idspkg "github.com/drblury/replyflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/replyflow/internal/runtime/logging"
)

// CallInfo describes a request handed to the egress queue.
type CallInfo struct {
	RoutingKey    string
	Method        string
	CorrelationID idspkg.CorrelationID
	// Reused is set when the call joined an existing registration.
	Reused    bool
	StartedAt time.Time
}

// CallHooks defines callbacks for the request lifecycle.
// All hooks are optional - nil hooks are simply not called.
type CallHooks struct {
	// OnCall runs once a request is queued for publishing.
	OnCall func(info CallInfo)

	// OnPublishError runs when a request could not be published, either
	// synchronously from Call or later on a goroutine of its own, so it may
	// call Gateway.Close. The registration has already been removed.
	OnPublishError func(id idspkg.CorrelationID, err error)

	// OnReply runs for every reply delivered to a pending request. It is
	// called from the dispatcher goroutine and must not block.
	OnReply func(id idspkg.CorrelationID, payload string)
}

// Merge combines two CallHooks. The hooks from 'other' run after the hooks
// from 'h'.
func (h CallHooks) Merge(other CallHooks) CallHooks {
	return CallHooks{
		OnCall:         chainHooks(h.OnCall, other.OnCall),
		OnPublishError: chainHooks2(h.OnPublishError, other.OnPublishError),
		OnReply:        chainHooks2(h.OnReply, other.OnReply),
	}
}

func chainHooks[T any](a, b func(T)) func(T) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(v T) {
		a(v)
		b(v)
	}
}

func chainHooks2[T, U any](a, b func(T, U)) func(T, U) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(v T, w U) {
		a(v, w)
		b(v, w)
	}
}

// LoggingHooks returns hooks that log the request lifecycle.
func LoggingHooks(logger loggingpkg.ServiceLogger) CallHooks {
	return CallHooks{
		OnCall: func(info CallInfo) {
			logger.Debug("Request queued", loggingpkg.CallFields(info.CorrelationID, info.RoutingKey, info.Method).
				With(loggingpkg.LogFields{"reused": info.Reused}))
		},
		OnPublishError: func(id idspkg.CorrelationID, err error) {
			logger.Error("Request not published", err, loggingpkg.CallFields(id, "", ""))
		},
		OnReply: func(id idspkg.CorrelationID, payload string) {
			logger.Trace("Reply delivered", loggingpkg.CallFields(id, "", "").
				With(loggingpkg.LogFields{"size": len(payload)}))
		},
	}
}

// AlertingHooks returns hooks that only fire on publish failures.
func AlertingHooks(alert func(id idspkg.CorrelationID, err error)) CallHooks {
	return CallHooks{
		OnPublishError: alert,
	}
}
