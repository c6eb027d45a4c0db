package wire

import (
	"fmt"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/proto"
)

// Message is implemented by every ListingStream message.
type Message interface {
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
}

// Codec is a gRPC codec for ListingStream messages. Generated proto messages,
// such as the health service's, are delegated to the protobuf runtime so one
// codec can serve a whole server.
type Codec struct{}

var _ encoding.Codec = Codec{}

// Name reports "proto": the bytes on the wire are standard protobuf.
func (Codec) Name() string {
	return "proto"
}

// Marshal encodes v.
func (Codec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case Message:
		return m.Marshal()
	case proto.Message:
		return proto.Marshal(m)
	default:
		return nil, fmt.Errorf("wire: cannot marshal %T", v)
	}
}

// Unmarshal decodes data into v.
func (Codec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case Message:
		return m.Unmarshal(data)
	case proto.Message:
		return proto.Unmarshal(data, m)
	default:
		return fmt.Errorf("wire: cannot unmarshal into %T", v)
	}
}
