package metadata

import "strconv"

// Header keys attached to every gateway message. Bodies stay authoritative;
// headers let brokers and tooling route or inspect without parsing JSON.
const (
	KeyCorrelationID = "correlation_id"
	KeyReplyTo       = "reply_to"
	KeyMethod        = "rpc_method"
	KeyTraceID       = "trace_id"
	KeySpanID        = "span_id"
)

// Metadata represents the headers carried alongside a message.
type Metadata map[string]string

// ForRequest builds the headers of an outbound request.
func ForRequest(id int64, replyTo, method string) Metadata {
	md := Metadata{
		KeyCorrelationID: strconv.FormatInt(id, 10),
		KeyMethod:        method,
	}
	if replyTo != "" {
		md[KeyReplyTo] = replyTo
	}
	return md
}

// CorrelationID parses the correlation header. The second result is false
// when the header is absent or not an integer.
func (m Metadata) CorrelationID() (int64, bool) {
	raw, ok := m[KeyCorrelationID]
	if !ok || raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
