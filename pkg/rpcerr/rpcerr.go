// Package rpcerr implements the wire error taxonomy: ERROR.kind values
// that cross a connection boundary and translate back into a typed Go
// error on the receiving side.
package rpcerr

import "fmt"

// Kind is the closed set of wire-carried error kinds (spec §7).
type Kind string

const (
	KindTransport        Kind = "TransportError"
	KindCodec            Kind = "CodecError"
	KindProtocol         Kind = "ProtocolError"
	KindCodecNegotiation Kind = "CodecNegotiation"
	KindUnknownService   Kind = "UnknownService"
	KindUnknownCommand   Kind = "UnknownCommand"
	KindBadArguments     Kind = "BadArguments"
	KindCancelled        Kind = "Cancelled"
	KindTimeout          Kind = "TimeoutError"
	KindCommand          Kind = "CommandError"
	KindInternal         Kind = "Internal"
)

// Error is the typed error raised on the initiating side of a call and
// the payload shape of an ERROR wire message.
type Error struct {
	Kind      Kind
	Message   string
	Traceback string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// StatusCode lets callers that expect an HTTP-ish status classify the
// error without a type switch over Kind.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindUnknownService, KindUnknownCommand:
		return 404
	case KindBadArguments, KindProtocol, KindCodecNegotiation:
		return 400
	case KindTimeout:
		return 504
	case KindCancelled:
		return 499
	case KindCommand:
		return 422
	default:
		return 500
	}
}

// New builds an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an arbitrary error as Kind, preserving its message.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return &Error{Kind: kind, Message: err.Error()}
}

// Is supports errors.Is(err, rpcerr.Sentinel(rpcerr.KindX)) style
// matching by comparing Kind fields.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel builds a zero-message Error usable with errors.Is.
func Sentinel(kind Kind) *Error { return &Error{Kind: kind} }
