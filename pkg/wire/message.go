// Package wire defines the on-the-wire message envelope shared by every
// transport and codec: a small tagged struct carrying a call id and a
// codec-defined payload, multiplexed over one connection.
package wire

// Kind identifies the shape of a Message's Payload (spec §4.3).
type Kind uint8

const (
	KindHello Kind = iota + 1
	KindWelcome
	KindCall
	KindReply
	KindChunk
	KindEnd
	KindError
	KindCancel
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "HELLO"
	case KindWelcome:
		return "WELCOME"
	case KindCall:
		return "CALL"
	case KindReply:
		return "REPLY"
	case KindChunk:
		return "CHUNK"
	case KindEnd:
		return "END"
	case KindError:
		return "ERROR"
	case KindCancel:
		return "CANCEL"
	default:
		return "UNKNOWN"
	}
}

// HandshakeID is the reserved call id used for HELLO/WELCOME and for
// connection-level error frames raised outside any call.
const HandshakeID uint64 = 0

// Message is the envelope every frame on the wire encodes to. Payload is
// kind-specific and is itself codec-encoded bytes; callers decode it into
// one of the Payload* structs below once Kind is known.
type Message struct {
	Kind    Kind   `msgpack:"kind" json:"kind"`
	ID      uint64 `msgpack:"id" json:"id"`
	Payload []byte `msgpack:"payload" json:"payload"`
}

// HelloPayload is the payload of a HELLO message.
type HelloPayload struct {
	Codecs  []string `msgpack:"codecs" json:"codecs"`
	Version string   `msgpack:"version" json:"version"`
}

// WelcomePayload is the payload of a WELCOME message.
type WelcomePayload struct {
	Codec   string `msgpack:"codec" json:"codec"`
	Version string `msgpack:"version" json:"version"`
}

// CallPayload is the payload of a CALL message.
type CallPayload struct {
	Service        string           `msgpack:"service" json:"service"`
	Command        string           `msgpack:"command" json:"command"`
	Args           []RawValue       `msgpack:"args" json:"args"`
	Kwargs         map[string]RawValue `msgpack:"kwargs" json:"kwargs"`
	HasInputStream bool             `msgpack:"has_input_stream" json:"has_input_stream"`
}

// ReplyPayload is the payload of a REPLY message.
type ReplyPayload struct {
	Value RawValue `msgpack:"value" json:"value"`
}

// ChunkPayload is the payload of a CHUNK message.
type ChunkPayload struct {
	Value RawValue `msgpack:"value" json:"value"`
}

// EndPayload is the payload of an END message; it carries no fields.
type EndPayload struct{}

// ErrorPayload is the payload of an ERROR message.
type ErrorPayload struct {
	Kind      string `msgpack:"kind" json:"kind"`
	Message   string `msgpack:"message" json:"message"`
	Traceback string `msgpack:"traceback,omitempty" json:"traceback,omitempty"`
}

// CancelPayload is the payload of a CANCEL message; it carries no fields.
type CancelPayload struct{}

// RawValue is a codec-encoded value (no type tag travels with it),
// carried opaque by the framing layer and decoded by the receiving side:
// the server's argument binder or the client's reply/chunk handling.
type RawValue struct {
	Bytes []byte `msgpack:"bytes" json:"bytes"`
}
