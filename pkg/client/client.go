// Package client implements the caller side of the engine (spec §4.6):
// handshake, a metadata-driven proxy reconstructed from _meta.services(),
// and the three call shapes (unary, output-streaming, input-streaming).
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/snekrpc/snekrpc/pkg/codec"
	"github.com/snekrpc/snekrpc/pkg/conn"
	"github.com/snekrpc/snekrpc/pkg/registry"
	"github.com/snekrpc/snekrpc/pkg/rpcerr"
	"github.com/snekrpc/snekrpc/pkg/stream"
	"github.com/snekrpc/snekrpc/pkg/transport"
	"github.com/snekrpc/snekrpc/pkg/typetag"
	"github.com/snekrpc/snekrpc/pkg/wire"
)

var zeroTag = typetag.Any()

// Option configures Dial.
type Option func(*dialOpts)

type dialOpts struct {
	codecs       []string
	pinned       codec.Codec
	codecReg     *codec.Registry
	retryCount   int
	retryWait    time.Duration
	log          *logrus.Entry
}

// WithCodecPreference sets the HELLO codec offer order. Defaults to the
// registry's own order (msgpack, json).
func WithCodecPreference(names ...string) Option {
	return func(o *dialOpts) { o.codecs = names }
}

// WithPinnedCodec skips the handshake entirely, per spec §4.7.
func WithPinnedCodec(c codec.Codec) Option {
	return func(o *dialOpts) { o.pinned = c }
}

// WithCodecRegistry overrides the default (json+msgpack) codec registry.
func WithCodecRegistry(r *codec.Registry) Option {
	return func(o *dialOpts) { o.codecReg = r }
}

// WithRetry bounds connection-establishment retries only; an
// already-established connection that drops is never silently retried,
// matching spec §4.6's "retry applies to dialing, not to in-flight calls".
func WithRetry(count int, wait time.Duration) Option {
	return func(o *dialOpts) { o.retryCount, o.retryWait = count, wait }
}

// WithLogger overrides the client's logger.
func WithLogger(log *logrus.Entry) Option {
	return func(o *dialOpts) { o.log = log }
}

// Client is one multiplexed connection to a snekrpc server, plus the
// metadata snapshot fetched from _meta.services() at Dial time.
type Client struct {
	cn    *conn.Connection
	log   *logrus.Entry
	meta  map[string]registry.ServiceInfo
}

// Dial connects to rawURL, performs the handshake, and fetches service
// metadata to populate Proxy().
func Dial(ctx context.Context, rawURL string, opts ...Option) (*Client, error) {
	o := &dialOpts{codecReg: codec.Default(), log: logrus.NewEntry(logrus.StandardLogger())}
	for _, fn := range opts {
		fn(o)
	}
	if len(o.codecs) == 0 {
		o.codecs = o.codecReg.Names()
	}

	dialer, err := transport.Dial(rawURL)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", rawURL, err)
	}

	var tc transport.Conn
	attempts := o.retryCount + 1
	for i := 0; i < attempts; i++ {
		tc, err = dialer.Dial(ctx)
		if err == nil {
			break
		}
		if i < attempts-1 && o.retryWait > 0 {
			select {
			case <-time.After(o.retryWait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", rawURL, err)
	}

	c, err := conn.ClientHandshake(ctx, tc, o.codecs, o.codecReg, o.pinned)
	if err != nil {
		_ = tc.Close()
		return nil, err
	}

	cn := conn.New(tc, c, conn.RoleClient, o.log)
	go cn.Run(ctx)

	cl := &Client{cn: cn, log: o.log, meta: map[string]registry.ServiceInfo{}}
	if err := cl.refreshMeta(ctx); err != nil {
		_ = cn.Close(err)
		return nil, err
	}
	return cl, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error { return c.cn.Close(nil) }

// Done reports a channel closed once the connection has shut down.
func (c *Client) Done() <-chan struct{} { return c.cn.Done() }

func (c *Client) refreshMeta(ctx context.Context) error {
	v, err := c.Call(ctx, registry.MetaServiceName, "services")
	if err != nil {
		return fmt.Errorf("client: fetch metadata: %w", err)
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("client: unexpected metadata shape %T", v)
	}
	out := make(map[string]registry.ServiceInfo, len(raw))
	for name, infoAny := range raw {
		info, err := decodeServiceInfo(infoAny)
		if err != nil {
			return fmt.Errorf("client: decode metadata for %q: %w", name, err)
		}
		out[name] = info
	}
	c.meta = out
	return nil
}

// Proxy returns a snapshot-based dynamic surface over the fetched
// metadata (spec §4.6). Call Refresh to re-fetch after a server-side
// registry change.
func (c *Client) Proxy() *Proxy { return newProxy(c) }

// Refresh re-fetches _meta.services() and rebuilds the metadata snapshot
// Proxy() is built from.
func (c *Client) Refresh(ctx context.Context) error { return c.refreshMeta(ctx) }

// startCall allocates a call id, registers its inbox, and sends the CALL
// frame encoding args/kwargs with the advisory zero tag (the server
// re-decodes each argument against its declared parameter type; the
// client does not need to know it up front).
func (c *Client) startCall(service, command string, hasInputStream bool, args []any, kwargs map[string]any) (uint64, *conn.Inbox, error) {
	id := c.cn.NextID()
	ib := c.cn.Register(id)

	rawArgs := make([]wire.RawValue, len(args))
	for i, a := range args {
		b, err := c.cn.Codec().Encode(a, zeroTag)
		if err != nil {
			c.cn.Unregister(id)
			return 0, nil, fmt.Errorf("client: encode arg %d: %w", i, err)
		}
		rawArgs[i] = wire.RawValue{Bytes: b}
	}
	rawKwargs := make(map[string]wire.RawValue, len(kwargs))
	for k, v := range kwargs {
		b, err := c.cn.Codec().Encode(v, zeroTag)
		if err != nil {
			c.cn.Unregister(id)
			return 0, nil, fmt.Errorf("client: encode kwarg %q: %w", k, err)
		}
		rawKwargs[k] = wire.RawValue{Bytes: b}
	}

	call := wire.CallPayload{Service: service, Command: command, Args: rawArgs, Kwargs: rawKwargs, HasInputStream: hasInputStream}
	if err := c.cn.SendPayload(wire.KindCall, id, call); err != nil {
		c.cn.Unregister(id)
		return 0, nil, fmt.Errorf("client: send CALL: %w", err)
	}
	return id, ib, nil
}

// Call performs a unary invocation and decodes the REPLY value into an
// untyped any.
func (c *Client) Call(ctx context.Context, service, command string, args ...any) (any, error) {
	return c.CallKw(ctx, service, command, args, nil)
}

// CallKw is Call with keyword arguments.
func (c *Client) CallKw(ctx context.Context, service, command string, args []any, kwargs map[string]any) (any, error) {
	id, ib, err := c.startCall(service, command, false, args, kwargs)
	if err != nil {
		return nil, err
	}
	defer c.cn.Unregister(id)

	for {
		msg, err := ib.Recv(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				_ = c.cn.SendPayload(wire.KindCancel, id, wire.CancelPayload{})
			default:
			}
			return nil, fmt.Errorf("client: call %s.%s: %w", service, command, err)
		}
		switch msg.Kind {
		case wire.KindReply:
			var rp wire.ReplyPayload
			if err := c.cn.Codec().Decode(msg.Payload, zeroTag, &rp); err != nil {
				return nil, fmt.Errorf("client: decode REPLY: %w", err)
			}
			var v any
			if err := c.cn.Codec().Decode(rp.Value.Bytes, zeroTag, &v); err != nil {
				return nil, fmt.Errorf("client: decode REPLY value: %w", err)
			}
			return v, nil
		case wire.KindError:
			return nil, decodeRPCError(c.cn.Codec(), msg.Payload)
		default:
			// stray CHUNK/END for a non-streaming call: ignore and keep
			// waiting for the terminal frame.
		}
	}
}

// CallStream performs an output-streaming invocation. The returned
// Sequence's Cancel sends CANCEL; dropping it without draining to
// completion leaves the call's goroutine blocked until the consumer
// either cancels or the connection closes.
func (c *Client) CallStream(ctx context.Context, service, command string, args ...any) (*stream.Sequence, error) {
	id, ib, err := c.startCall(service, command, false, args, nil)
	if err != nil {
		return nil, err
	}
	out := stream.NewSequence(func() {
		_ = c.cn.SendPayload(wire.KindCancel, id, wire.CancelPayload{})
	})
	go func() {
		defer c.cn.Unregister(id)
		for {
			msg, err := ib.Recv(ctx)
			if err != nil {
				out.SendError(fmt.Errorf("client: stream %s.%s: %w", service, command, err))
				return
			}
			switch msg.Kind {
			case wire.KindChunk:
				var cp wire.ChunkPayload
				if err := c.cn.Codec().Decode(msg.Payload, zeroTag, &cp); err != nil {
					out.SendError(fmt.Errorf("client: decode CHUNK: %w", err))
					return
				}
				var v any
				if err := c.cn.Codec().Decode(cp.Value.Bytes, zeroTag, &v); err != nil {
					out.SendError(fmt.Errorf("client: decode CHUNK value: %w", err))
					return
				}
				if sendErr := out.Send(ctx, v); sendErr != nil {
					_ = c.cn.SendPayload(wire.KindCancel, id, wire.CancelPayload{})
					return
				}
			case wire.KindEnd:
				out.CloseOK()
				return
			case wire.KindError:
				out.SendError(decodeRPCError(c.cn.Codec(), msg.Payload))
				return
			}
		}
	}()
	return out, nil
}

// CallWithInputStream performs an input-streaming invocation: in is
// pumped to the server as CHUNK frames (one goroutine), and the REPLY
// value is awaited and returned, matching unary return semantics for
// commands whose only streaming direction is the input.
func (c *Client) CallWithInputStream(ctx context.Context, service, command string, in *stream.Sequence, args ...any) (any, error) {
	id, ib, err := c.startCall(service, command, true, args, nil)
	if err != nil {
		return nil, err
	}
	defer c.cn.Unregister(id)

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for {
			v, err := in.Next(ctx)
			if err != nil {
				_ = c.cn.SendPayload(wire.KindEnd, id, wire.EndPayload{})
				return
			}
			b, encErr := c.cn.Codec().Encode(v, zeroTag)
			if encErr != nil {
				_ = c.cn.SendError(id, rpcerr.New(rpcerr.KindCodec, "encode input chunk: %s", encErr))
				return
			}
			if sendErr := c.cn.SendPayload(wire.KindChunk, id, wire.ChunkPayload{Value: wire.RawValue{Bytes: b}}); sendErr != nil {
				return
			}
		}
	}()

	for {
		msg, err := ib.Recv(ctx)
		if err != nil {
			in.Cancel()
			return nil, fmt.Errorf("client: call %s.%s: %w", service, command, err)
		}
		switch msg.Kind {
		case wire.KindReply:
			var rp wire.ReplyPayload
			if err := c.cn.Codec().Decode(msg.Payload, zeroTag, &rp); err != nil {
				return nil, fmt.Errorf("client: decode REPLY: %w", err)
			}
			var v any
			if err := c.cn.Codec().Decode(rp.Value.Bytes, zeroTag, &v); err != nil {
				return nil, fmt.Errorf("client: decode REPLY value: %w", err)
			}
			return v, nil
		case wire.KindError:
			return nil, decodeRPCError(c.cn.Codec(), msg.Payload)
		}
	}
}

func decodeRPCError(c codec.Codec, payload []byte) error {
	var ep wire.ErrorPayload
	if err := c.Decode(payload, zeroTag, &ep); err != nil {
		return fmt.Errorf("client: decode ERROR: %w", err)
	}
	return &rpcerr.Error{Kind: rpcerr.Kind(ep.Kind), Message: ep.Message, Traceback: ep.Traceback}
}
