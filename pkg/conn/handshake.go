package conn

import (
	"context"
	"fmt"
	"time"

	"github.com/snekrpc/snekrpc/pkg/codec"
	"github.com/snekrpc/snekrpc/pkg/rpcerr"
	"github.com/snekrpc/snekrpc/pkg/transport"
	"github.com/snekrpc/snekrpc/pkg/wire"
)

// ProtocolVersion is advertised in HELLO/WELCOME.
const ProtocolVersion = "1"

// bootstrapCodec is a fixed, self-describing codec used only to encode
// the HELLO/WELCOME handshake frames themselves, sidestepping the
// chicken-and-egg problem of negotiating a codec before either side
// knows which one the other understands. Every other frame on the
// connection uses the negotiated data codec.
var bootstrapCodec = codec.NewJSON()

func readHandshakeFrame(tc transport.Conn) (wire.Message, error) {
	b, err := tc.Recv()
	if err != nil {
		return wire.Message{}, err
	}
	var msg wire.Message
	if err := bootstrapCodec.Decode(b, zeroTag, &msg); err != nil {
		return wire.Message{}, fmt.Errorf("conn: decode handshake frame: %w", err)
	}
	return msg, nil
}

func writeHandshakeFrame(tc transport.Conn, msg wire.Message) error {
	b, err := bootstrapCodec.Encode(msg, zeroTag)
	if err != nil {
		return err
	}
	return tc.Send(b)
}

// ServerHandshake awaits HELLO, negotiates the first mutually supported
// codec (preferring the client's order), and replies WELCOME. If no
// HELLO arrives within timeout, or no codec overlaps, it sends an ERROR
// at id 0 and returns an error (spec §4.5 step 1-2).
func ServerHandshake(ctx context.Context, tc transport.Conn, codecs *codec.Registry, timeout time.Duration) (codec.Codec, error) {
	type result struct {
		msg wire.Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := readHandshakeFrame(tc)
		ch <- result{msg, err}
	}()

	var r result
	select {
	case r = <-ch:
	case <-time.After(timeout):
		_ = writeHandshakeFrame(tc, errorMessage(wire.HandshakeID, rpcerr.New(rpcerr.KindProtocol, "handshake timed out")))
		return nil, fmt.Errorf("conn: handshake timed out")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if r.err != nil {
		return nil, fmt.Errorf("conn: read HELLO: %w", r.err)
	}
	if r.msg.Kind != wire.KindHello {
		sendProtocolError(tc, "expected HELLO")
		return nil, fmt.Errorf("conn: expected HELLO, got %s", r.msg.Kind)
	}
	var hello wire.HelloPayload
	if err := bootstrapCodec.Decode(r.msg.Payload, zeroTag, &hello); err != nil {
		sendProtocolError(tc, "malformed HELLO payload")
		return nil, err
	}
	c, ok := codecs.Negotiate(hello.Codecs)
	if !ok {
		_ = writeHandshakeFrame(tc, errorMessage(wire.HandshakeID, rpcerr.New(rpcerr.KindCodecNegotiation, "no common codec among %v", hello.Codecs)))
		return nil, fmt.Errorf("conn: no common codec among %v", hello.Codecs)
	}
	welcome := wire.WelcomePayload{Codec: c.Name(), Version: ProtocolVersion}
	payload, err := bootstrapCodec.Encode(welcome, zeroTag)
	if err != nil {
		return nil, err
	}
	if err := writeHandshakeFrame(tc, wire.Message{Kind: wire.KindWelcome, ID: wire.HandshakeID, Payload: payload}); err != nil {
		return nil, err
	}
	return c, nil
}

// ClientHandshake sends HELLO offering offered (in preference order) and
// awaits WELCOME. If pinned is non-nil, the handshake is skipped
// entirely and pinned is returned directly (spec §4.7's "a client may
// skip the handshake by pinning a codec known a priori").
func ClientHandshake(ctx context.Context, tc transport.Conn, offered []string, codecs *codec.Registry, pinned codec.Codec) (codec.Codec, error) {
	if pinned != nil {
		return pinned, nil
	}
	hello := wire.HelloPayload{Codecs: offered, Version: ProtocolVersion}
	payload, err := bootstrapCodec.Encode(hello, zeroTag)
	if err != nil {
		return nil, err
	}
	if err := writeHandshakeFrame(tc, wire.Message{Kind: wire.KindHello, ID: wire.HandshakeID, Payload: payload}); err != nil {
		return nil, fmt.Errorf("conn: send HELLO: %w", err)
	}

	type result struct {
		msg wire.Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := readHandshakeFrame(tc)
		ch <- result{msg, err}
	}()
	var r result
	select {
	case r = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if r.err != nil {
		return nil, fmt.Errorf("conn: read WELCOME: %w", r.err)
	}
	if r.msg.Kind == wire.KindError {
		var ep wire.ErrorPayload
		_ = bootstrapCodec.Decode(r.msg.Payload, zeroTag, &ep)
		return nil, &rpcerr.Error{Kind: rpcerr.Kind(ep.Kind), Message: ep.Message}
	}
	if r.msg.Kind != wire.KindWelcome {
		return nil, fmt.Errorf("conn: expected WELCOME, got %s", r.msg.Kind)
	}
	var welcome wire.WelcomePayload
	if err := bootstrapCodec.Decode(r.msg.Payload, zeroTag, &welcome); err != nil {
		return nil, err
	}
	c, ok := codecs.Get(welcome.Codec)
	if !ok {
		return nil, fmt.Errorf("conn: server chose unsupported codec %q", welcome.Codec)
	}
	return c, nil
}

func sendProtocolError(tc transport.Conn, msg string) {
	_ = writeHandshakeFrame(tc, errorMessage(wire.HandshakeID, rpcerr.New(rpcerr.KindProtocol, "%s", msg)))
}

func errorMessage(id uint64, e *rpcerr.Error) wire.Message {
	payload, _ := bootstrapCodec.Encode(wire.ErrorPayload{Kind: string(e.Kind), Message: e.Message, Traceback: e.Traceback}, zeroTag)
	return wire.Message{Kind: wire.KindError, ID: id, Payload: payload}
}
