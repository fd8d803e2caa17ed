package codec

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/snekrpc/snekrpc/pkg/typetag"
)

// msgpackCodec is the binary, size-preferred default codec. Unlike JSON
// it handles bytes natively, with no base64 inflation.
type msgpackCodec struct{}

// NewMsgpack builds the "msgpack" codec.
func NewMsgpack() Codec { return msgpackCodec{} }

func (msgpackCodec) Name() string { return "msgpack" }

func (msgpackCodec) Encode(v any, _ typetag.Tag) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) Decode(b []byte, _ typetag.Tag, out any) error {
	if len(b) == 0 {
		return nil
	}
	return msgpack.Unmarshal(b, out)
}
