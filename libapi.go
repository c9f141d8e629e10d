package replyflow

import (
	"google.golang.org/protobuf/proto"

	runtimepkg "github.com/drblury/replyflow/internal/runtime"
	configpkg "github.com/drblury/replyflow/internal/runtime/config"
	"github.com/drblury/replyflow/internal/runtime/correlation"
	"github.com/drblury/replyflow/internal/runtime/envelope"
	errspkg "github.com/drblury/replyflow/internal/runtime/errors"
	idspkg "github.com/drblury/replyflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/replyflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/replyflow/internal/runtime/metadata"
	transportpkg "github.com/drblury/replyflow/internal/runtime/transport"
	brokers "github.com/drblury/replyflow/transport"
)

type (
	Config              = configpkg.Config
	Gateway             = runtimepkg.Gateway
	GatewayDependencies = runtimepkg.GatewayDependencies
	CallOption          = runtimepkg.CallOption
	ReplyStream         = runtimepkg.ReplyStream
	Subscription        = correlation.Subscription
	CorrelationID       = idspkg.CorrelationID

	Responder     = runtimepkg.Responder
	MethodHandler = runtimepkg.MethodHandler
	Request       = envelope.Request
	Reply         = envelope.Reply

	CallInfo       = runtimepkg.CallInfo
	CallHooks      = runtimepkg.CallHooks
	GatewayMetrics = runtimepkg.GatewayMetrics

	Transport        = transportpkg.Transport
	TransportFactory = transportpkg.Factory

	TransportBuilder      = brokers.Builder
	TransportConfig       = brokers.Config
	TransportRegistry     = brokers.Registry
	TransportCapabilities = brokers.Capabilities

	Metadata = metadatapkg.Metadata

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	ConfigValidationError = errspkg.ConfigValidationError
)

var (
	NewGateway        = runtimepkg.NewGateway
	TryNewGateway     = runtimepkg.TryNewGateway
	WithCorrelationID = runtimepkg.WithCorrelationID
	NewResponder      = runtimepkg.NewResponder
	ValidateConfig    = configpkg.ValidateConfig

	LoggingHooks  = runtimepkg.LoggingHooks
	AlertingHooks = runtimepkg.AlertingHooks

	DefaultTransportFactory = transportpkg.DefaultFactory
	StaticTransport         = transportpkg.Static

	// The bundled broker bindings are registered on import of this package.
	// RegisterTransport adds custom ones under a new PubSubSystem name.
	DefaultTransportRegistry = brokers.DefaultRegistry
	RegisterTransport        = brokers.Register
	BuildTransport           = brokers.Build
	GetCapabilities          = brokers.GetCapabilities

	DecodeRequest  = envelope.DecodeRequest
	CorrelationOf  = envelope.CorrelationOf
	DecodeProtoArg = envelope.DecodeProtoArg
	DecodeResult   = envelope.DecodeResult

	Marshal   = envelope.Marshal
	Unmarshal = envelope.Unmarshal

	ErrConflict           = errspkg.ErrConflict
	ErrDuplicateID        = errspkg.ErrDuplicateID
	ErrUnknownCorrelation = errspkg.ErrUnknownCorrelation
	ErrMalformedMessage   = errspkg.ErrMalformedMessage
	ErrPublishFailure     = errspkg.ErrPublishFailure
	ErrEgressFull         = errspkg.ErrEgressFull
	ErrEgressClosed       = errspkg.ErrEgressClosed
	ErrStreamClosed       = errspkg.ErrStreamClosed
	ErrRegistryClosed     = errspkg.ErrRegistryClosed
	ErrRoutingKeyRequired = errspkg.ErrRoutingKeyRequired
	ErrMethodRequired     = errspkg.ErrMethodRequired
	ErrHandlerRequired    = errspkg.ErrHandlerRequired
	ErrConfigRequired     = errspkg.ErrConfigRequired
	ErrLoggerRequired     = errspkg.ErrLoggerRequired
	ErrPublisherRequired  = errspkg.ErrPublisherRequired
	ErrSubscriberRequired = errspkg.ErrSubscriberRequired

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopServiceLogger       = loggingpkg.NewNopServiceLogger
	NewWatermillAdapter       = loggingpkg.NewWatermillAdapter

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// Header keys set on every request.
const (
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyReplyTo       = metadatapkg.KeyReplyTo
	MetadataKeyMethod        = metadatapkg.KeyMethod
	MetadataKeyTraceID       = metadatapkg.KeyTraceID
	MetadataKeySpanID        = metadatapkg.KeySpanID
)

// ProtoArgs renders protobuf messages as Call arguments.
func ProtoArgs(msgs ...proto.Message) ([]any, error) {
	return envelope.ProtoArgs(msgs...)
}

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
