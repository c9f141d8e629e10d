package envelope

import "github.com/bytedance/sonic"

var defaultConfig = sonic.ConfigStd

// Marshal encodes v the way request and reply bodies are encoded.
func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

// Unmarshal decodes a body or a single argument.
func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}
