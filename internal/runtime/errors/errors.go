package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired     = sterrors.New("replyflow: configuration is required")
	ErrLoggerRequired     = sterrors.New("replyflow: logger is required")
	ErrPublisherRequired  = sterrors.New("replyflow: publisher is required")
	ErrSubscriberRequired = sterrors.New("replyflow: subscriber is required")
	ErrRoutingKeyRequired = sterrors.New("replyflow: routing key is required")
	ErrMethodRequired     = sterrors.New("replyflow: method is required")
	ErrHandlerRequired    = sterrors.New("replyflow: handler function is required")
)

// Correlation errors. ErrDuplicateID wraps ErrConflict so callers can treat
// generator and registry collisions alike.
var (
	ErrConflict           = sterrors.New("replyflow: correlation id already registered")
	ErrDuplicateID        = fmt.Errorf("%w: duplicate id", ErrConflict)
	ErrUnknownCorrelation = sterrors.New("replyflow: unknown correlation id")
	ErrMalformedMessage   = sterrors.New("replyflow: malformed inbound message")
	ErrRegistryClosed     = sterrors.New("replyflow: correlation registry closed")
	ErrStreamClosed       = sterrors.New("replyflow: reply stream closed")
)

// Egress errors. Both ErrEgressFull and ErrEgressClosed wrap ErrPublishFailure.
var (
	ErrPublishFailure = sterrors.New("replyflow: publish failure")
	ErrEgressFull     = fmt.Errorf("%w: egress buffer full", ErrPublishFailure)
	ErrEgressClosed   = fmt.Errorf("%w: egress sink terminated", ErrPublishFailure)
)

// ConfigValidationError wraps the aggregated output of Config.Validate.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "replyflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
