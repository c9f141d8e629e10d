package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// FromWatermill copies the headers of a received message.
func FromWatermill(md message.Metadata) Metadata {
	if len(md) == 0 {
		return Metadata{}
	}

	result := make(Metadata, len(md))
	for k, v := range md {
		result[k] = v
	}
	return result
}

// Apply sets every entry of md on msg, overwriting existing keys.
func Apply(msg *message.Message, md Metadata) {
	for k, v := range md {
		msg.Metadata.Set(k, v)
	}
}
