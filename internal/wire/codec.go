package wire

import (
	"github.com/pkg/errors"
)

// Codec is a gRPC codec for the messages in this package. It registers under
// the "proto" name so the content-type stays application/grpc+proto.
type Codec struct{}

// Name implements encoding.Codec.
func (Codec) Name() string { return "proto" }

// Marshal implements encoding.Codec.
func (Codec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(Message)
	if !ok {
		return nil, errors.Errorf("wire: cannot marshal %T", v)
	}
	return m.Marshal()
}

// Unmarshal implements encoding.Codec.
func (Codec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(Message)
	if !ok {
		return errors.Errorf("wire: cannot unmarshal into %T", v)
	}
	return m.Unmarshal(data)
}
