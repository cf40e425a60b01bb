package protocol

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// Name of the JSON codec registered with gRPC.
const CodecName = "json"

// Control plane messages are plain structs exchanged as JSON.
// The codec is registered under the "json" content-subtype; clients
// must dial with WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)).
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (Codec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(Codec{})
}
