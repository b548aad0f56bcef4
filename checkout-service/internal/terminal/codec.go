package terminal

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is the content subtype the bridge speaks. The bridge firmware exposes a
// JSON-over-gRPC surface rather than protobuf messages.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
