// Package collab adapts the three external recognition/rewrite/synthesis
// collaborators (SPEC_FULL.md §1, §6) onto a plain gRPC transport. No
// generated protobuf stubs are involved: messages are plain Go structs
// carried as JSON payloads under gRPC framing, the same way a reverse
// proxy speaks gRPC to services it has no .proto for. Dialing and
// readiness waiting are grounded on the teacher's Riva streaming client.
package collab

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const codecName = "json"

// jsonCodec implements google.golang.org/grpc/encoding.Codec. Registering
// it lets any collab client/stream request content-subtype "json" instead
// of gRPC's default protobuf-only "proto" codec.
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
