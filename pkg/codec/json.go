package codec

import (
	"encoding/json"

	"github.com/snekrpc/snekrpc/pkg/typetag"
)

// jsonCodec is textual, UTF-8. []byte values round-trip as base64
// strings and nil/none as JSON null, both for free via encoding/json's
// native []byte and nil handling.
type jsonCodec struct{}

// NewJSON builds the "json" codec.
func NewJSON() Codec { return jsonCodec{} }

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Encode(v any, _ typetag.Tag) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Decode(b []byte, _ typetag.Tag, out any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, out)
}
