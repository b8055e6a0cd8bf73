// Package rmproto defines the wire messages and gRPC service description
// for the ResourceManagerClient transport (spec §4.2). No .proto file is
// compiled here: this environment cannot run protoc, and hand-authoring
// wire-compatible protobuf-generated code without the compiler would be
// unverifiable. Instead this package registers a small JSON codec with
// grpc-go's documented pluggable-codec extension point
// (google.golang.org/grpc/encoding) and defines the service by hand as a
// grpc.ServiceDesc — the same struct protoc-gen-go-grpc would emit — so
// google.golang.org/grpc still does real transport work. See DESIGN.md.
package rmproto

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is negotiated as the gRPC content-subtype for every call made
// through this package's client and server.
const CodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements google.golang.org/grpc/encoding.Codec.
type jsonCodec struct{}

func (jsonCodec) Name() string { return CodecName }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rmproto: marshal %T: %w", v, err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rmproto: unmarshal into %T: %w", v, err)
	}
	return nil
}
