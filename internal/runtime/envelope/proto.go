package envelope

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

var protoJSONMarshalOptions = protojson.MarshalOptions{
	EmitUnpopulated: true,
}

var protoJSONUnmarshalOptions = protojson.UnmarshalOptions{
	DiscardUnknown: true,
}

// ProtoArgs renders protobuf messages as call arguments using their
// canonical JSON mapping.
func ProtoArgs(msgs ...proto.Message) ([]any, error) {
	args := make([]any, 0, len(msgs))
	for i, msg := range msgs {
		if msg == nil {
			return nil, fmt.Errorf("proto argument %d is nil", i)
		}
		raw, err := protoJSONMarshalOptions.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal proto argument %d: %w", i, err)
		}
		args = append(args, json.RawMessage(raw))
	}
	return args, nil
}

// DecodeProtoArg decodes one raw request argument into msg.
func DecodeProtoArg(raw json.RawMessage, msg proto.Message) error {
	return protoJSONUnmarshalOptions.Unmarshal(raw, msg)
}

// DecodeResult decodes the "result" member of a reply body into msg.
func DecodeResult(payload string, msg proto.Message) error {
	node, err := sonic.GetFromString(payload, "result")
	if err != nil {
		return fmt.Errorf("reply has no result: %w", err)
	}
	raw, err := node.Raw()
	if err != nil {
		return fmt.Errorf("failed to read reply result: %w", err)
	}
	if raw == "" || raw == "null" {
		return errors.New("reply result is empty")
	}
	return protoJSONUnmarshalOptions.Unmarshal([]byte(raw), msg)
}
