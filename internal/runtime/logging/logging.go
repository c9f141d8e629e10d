// Package logging is the logger contract of the gateway. Every component
// logs through ServiceLogger, and the same logger is handed to Watermill
// routers and broker bindings through NewWatermillAdapter.
package logging

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
)

// Field names shared by every component that logs about a call.
const (
	FieldCorrelationID = "correlation_id"
	FieldRoutingKey    = "routing_key"
	FieldMethod        = "method"
)

// LogFields represents structured logging key/value pairs.
type LogFields map[string]any

// CallFields are the fields identifying one request.
func CallFields(id int64, routingKey, method string) LogFields {
	fields := LogFields{FieldCorrelationID: id}
	if routingKey != "" {
		fields[FieldRoutingKey] = routingKey
	}
	if method != "" {
		fields[FieldMethod] = method
	}
	return fields
}

// With returns a copy of f extended by extra; extra wins on key clashes.
func (f LogFields) With(extra LogFields) LogFields {
	out := make(LogFields, len(f)+len(extra))
	for k, v := range f {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// ServiceLogger mirrors watermill.LoggerAdapter with the package's own
// field type.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

// EntryLoggerAdapter is what NewEntryServiceLogger needs from an
// entry-style logger such as *logrus.Entry.
type EntryLoggerAdapter[T any] interface {
	Error(args ...any)
	Info(args ...any)
	Debug(args ...any)
	Trace(args ...any)
	WithError(err error) T
	WithField(key string, value any) T
}

// NewSlogServiceLogger logs through log. Watermill's trace level is mapped
// below debug by the adapter.
func NewSlogServiceLogger(log *slog.Logger) ServiceLogger {
	if log == nil {
		panic("replyflow: slog logger cannot be nil")
	}
	return NewWatermillServiceLogger(watermill.NewSlogLoggerWithLevelMapping(log, map[slog.Level]slog.Level{
		slog.LevelDebug: slog.LevelDebug,
		slog.LevelInfo:  slog.LevelInfo,
		slog.LevelWarn:  slog.LevelWarn,
		slog.LevelError: slog.LevelError,
	}))
}

// NewWatermillServiceLogger wraps an existing Watermill LoggerAdapter.
func NewWatermillServiceLogger(logger watermill.LoggerAdapter) ServiceLogger {
	if logger == nil {
		panic("replyflow: watermill logger cannot be nil")
	}
	return adapterLogger{inner: logger}
}

// NewNopServiceLogger discards everything.
func NewNopServiceLogger() ServiceLogger {
	return adapterLogger{inner: watermill.NopLogger{}}
}

// NewEntryServiceLogger wraps an entry-style logger.
func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	if any(entry) == nil {
		panic("replyflow: entry logger cannot be nil")
	}
	return entryLogger[T]{entry: entry}
}

// NewWatermillAdapter hands a ServiceLogger to Watermill components.
func NewWatermillAdapter(log ServiceLogger) watermill.LoggerAdapter {
	if log == nil {
		panic("replyflow: ServiceLogger cannot be nil")
	}
	if a, ok := log.(adapterLogger); ok {
		return a.inner
	}
	return watermillAdapter{base: log}
}

type adapterLogger struct {
	inner watermill.LoggerAdapter
}

func (a adapterLogger) With(fields LogFields) ServiceLogger {
	return adapterLogger{inner: a.inner.With(watermill.LogFields(fields))}
}

func (a adapterLogger) Debug(msg string, fields LogFields) {
	a.inner.Debug(msg, watermill.LogFields(fields))
}

func (a adapterLogger) Info(msg string, fields LogFields) {
	a.inner.Info(msg, watermill.LogFields(fields))
}

func (a adapterLogger) Error(msg string, err error, fields LogFields) {
	a.inner.Error(msg, err, watermill.LogFields(fields))
}

func (a adapterLogger) Trace(msg string, fields LogFields) {
	a.inner.Trace(msg, watermill.LogFields(fields))
}

type entryLogger[T EntryLoggerAdapter[T]] struct {
	entry T
}

func (e entryLogger[T]) with(fields LogFields) T {
	out := e.entry
	for k, v := range fields {
		out = out.WithField(k, v)
	}
	return out
}

func (e entryLogger[T]) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return e
	}
	return entryLogger[T]{entry: e.with(fields)}
}

func (e entryLogger[T]) Debug(msg string, fields LogFields) { e.with(fields).Debug(msg) }
func (e entryLogger[T]) Info(msg string, fields LogFields)  { e.with(fields).Info(msg) }
func (e entryLogger[T]) Trace(msg string, fields LogFields) { e.with(fields).Trace(msg) }

func (e entryLogger[T]) Error(msg string, err error, fields LogFields) {
	out := e.with(fields)
	if err != nil {
		out = out.WithError(err)
	}
	out.Error(msg)
}

type watermillAdapter struct {
	base ServiceLogger
}

func (w watermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	w.base.Error(msg, err, LogFields(fields))
}

func (w watermillAdapter) Info(msg string, fields watermill.LogFields) {
	w.base.Info(msg, LogFields(fields))
}

func (w watermillAdapter) Debug(msg string, fields watermill.LogFields) {
	w.base.Debug(msg, LogFields(fields))
}

func (w watermillAdapter) Trace(msg string, fields watermill.LogFields) {
	w.base.Trace(msg, LogFields(fields))
}

func (w watermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return watermillAdapter{base: w.base.With(LogFields(fields))}
}
