package errors

import (
	"errors"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrConfigRequired", ErrConfigRequired, "replyflow: configuration is required"},
		{"ErrLoggerRequired", ErrLoggerRequired, "replyflow: logger is required"},
		{"ErrPublisherRequired", ErrPublisherRequired, "replyflow: publisher is required"},
		{"ErrSubscriberRequired", ErrSubscriberRequired, "replyflow: subscriber is required"},
		{"ErrRoutingKeyRequired", ErrRoutingKeyRequired, "replyflow: routing key is required"},
		{"ErrMethodRequired", ErrMethodRequired, "replyflow: method is required"},
		{"ErrConflict", ErrConflict, "replyflow: correlation id already registered"},
		{"ErrUnknownCorrelation", ErrUnknownCorrelation, "replyflow: unknown correlation id"},
		{"ErrMalformedMessage", ErrMalformedMessage, "replyflow: malformed inbound message"},
		{"ErrEgressFull", ErrEgressFull, "replyflow: publish failure: egress buffer full"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestWrappedKinds(t *testing.T) {
	if !errors.Is(ErrDuplicateID, ErrConflict) {
		t.Error("duplicate id should be a conflict")
	}
	if !errors.Is(ErrEgressFull, ErrPublishFailure) {
		t.Error("egress full should be a publish failure")
	}
	if !errors.Is(ErrEgressClosed, ErrPublishFailure) {
		t.Error("egress closed should be a publish failure")
	}
	if errors.Is(ErrUnknownCorrelation, ErrConflict) {
		t.Error("unknown correlation must not match conflict")
	}
}

func TestConfigValidationError(t *testing.T) {
	inner := errors.New("reply-to is required")
	err := ConfigValidationError{Err: inner}

	want := "replyflow: invalid configuration: reply-to is required"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if unwrapped := err.Unwrap(); unwrapped != inner {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, inner)
	}
}

func TestNewConfigValidationError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if err := NewConfigValidationError(nil); err != nil {
			t.Errorf("NewConfigValidationError(nil) = %v, want nil", err)
		}
	})

	t.Run("errors.Is works with wrapped error", func(t *testing.T) {
		inner := errors.New("specific error")
		err := NewConfigValidationError(inner)

		var cfgErr ConfigValidationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected ConfigValidationError, got %T", err)
		}
		if !errors.Is(err, inner) {
			t.Error("errors.Is should match wrapped error")
		}
	})
}
