package server_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/snekrpc/snekrpc/pkg/client"
	"github.com/snekrpc/snekrpc/pkg/codec"
	"github.com/snekrpc/snekrpc/pkg/registry"
	"github.com/snekrpc/snekrpc/pkg/rpcerr"
	"github.com/snekrpc/snekrpc/pkg/server"
	"github.com/snekrpc/snekrpc/pkg/stream"
	"github.com/snekrpc/snekrpc/pkg/transport"
	"github.com/snekrpc/snekrpc/pkg/typetag"
	"github.com/snekrpc/snekrpc/pkg/wire"
)

// startTestServer boots a server on a loopback TCP port with reg
// registered, returning the dial URL and a cancel func that tears
// everything down.
func startTestServer(t *testing.T, reg *registry.Registry) (string, context.CancelFunc) {
	t.Helper()
	ln, err := transport.Listen("tcp://127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv := server.New(reg, codec.Default(), server.WithHandshakeTimeout(2*time.Second))
	go srv.Serve(ctx, ln, "tcp")

	url := "tcp://" + ln.Addr()
	t.Cleanup(func() {
		cancel()
		_ = ln.Close()
	})
	return url, cancel
}

func newEchoRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	svc := registry.NewService("echo", nil)
	require.NoError(t, svc.Register(registry.Command{
		Name:       "echo",
		Params:     []registry.Param{{Name: "value", Type: typetag.Str()}},
		ReturnType: typetag.Str(),
		Handler: func(ctx context.Context, args []any) (any, error) {
			v, _ := args[0].(string)
			return v, nil
		},
	}))
	require.NoError(t, reg.Register("echo", svc))
	return reg
}

func TestEchoUnaryRoundTrip(t *testing.T) {
	url, _ := startTestServer(t, newEchoRegistry(t))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, url)
	require.NoError(t, err)
	defer c.Close()

	v, err := c.Call(ctx, "echo", "echo", "hello")
	require.NoError(t, err)
	require.Equal(t, "hello", v)
}

func TestAddIntsUnary(t *testing.T) {
	reg := registry.New()
	svc := registry.NewService("math", nil)
	require.NoError(t, svc.Register(registry.Command{
		Name: "add",
		Params: []registry.Param{
			{Name: "a", Type: typetag.Int()},
			{Name: "b", Type: typetag.Int()},
		},
		ReturnType: typetag.Int(),
		Handler: func(ctx context.Context, args []any) (any, error) {
			a, _ := args[0].(int64)
			b, _ := args[1].(int64)
			return a + b, nil
		},
	}))
	require.NoError(t, reg.Register("math", svc))

	url, _ := startTestServer(t, reg)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, url)
	require.NoError(t, err)
	defer c.Close()

	v, err := c.Call(ctx, "math", "add", int64(2), int64(3))
	require.NoError(t, err)
	require.EqualValues(t, 5, v)
}

func TestOutputStreamDeliversAllChunksThenEnds(t *testing.T) {
	reg := registry.New()
	svc := registry.NewService("counter", nil)
	require.NoError(t, svc.Register(registry.Command{
		Name:       "count",
		Params:     []registry.Param{{Name: "n", Type: typetag.Int()}},
		ReturnType: typetag.Stream(typetag.Int()),
		Handler: func(ctx context.Context, args []any) (any, error) {
			n, _ := args[0].(int64)
			seq := stream.NewSequence(nil)
			go func() {
				for i := int64(0); i < n; i++ {
					if err := seq.Send(ctx, i); err != nil {
						return
					}
				}
				seq.CloseOK()
			}()
			return seq, nil
		},
	}))
	require.NoError(t, reg.Register("counter", svc))

	url, _ := startTestServer(t, reg)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, url)
	require.NoError(t, err)
	defer c.Close()

	seq, err := c.CallStream(ctx, "counter", "count", int64(4))
	require.NoError(t, err)

	got, err := stream.Collect(ctx, seq)
	require.NoError(t, err)
	require.Len(t, got, 4)
}

func TestInputStreamSumsChunks(t *testing.T) {
	reg := registry.New()
	svc := registry.NewService("agg", nil)
	require.NoError(t, svc.Register(registry.Command{
		Name:           "sum",
		Params:         []registry.Param{{Name: "values", Type: typetag.Stream(typetag.Int())}},
		ReturnType:     typetag.Int(),
		InputStreaming: true,
		Handler: func(ctx context.Context, args []any) (any, error) {
			seq, _ := args[0].(*stream.Sequence)
			var total int64
			for {
				v, err := seq.Next(ctx)
				if err != nil {
					return total, nil
				}
				switch n := v.(type) {
				case int64:
					total += n
				case float64:
					total += int64(n)
				}
			}
		},
	}))
	require.NoError(t, reg.Register("agg", svc))

	url, _ := startTestServer(t, reg)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, url)
	require.NoError(t, err)
	defer c.Close()

	in := stream.FromSlice([]any{int64(1), int64(2), int64(3)})
	v, err := c.CallWithInputStream(ctx, "agg", "sum", in)
	require.NoError(t, err)
	require.EqualValues(t, 6, v)
}

func TestUnknownCommandReturnsUnknownCommandError(t *testing.T) {
	url, _ := startTestServer(t, newEchoRegistry(t))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, url)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Call(ctx, "echo", "does-not-exist")
	require.Error(t, err)
	rerr, ok := err.(*rpcerr.Error)
	require.True(t, ok)
	require.Equal(t, rpcerr.KindUnknownCommand, rerr.Kind)
}

func TestBadArgumentsReturnsBadArgumentsError(t *testing.T) {
	url, _ := startTestServer(t, newEchoRegistry(t))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, url)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Call(ctx, "echo", "echo", "one", "two")
	require.Error(t, err)
	rerr, ok := err.(*rpcerr.Error)
	require.True(t, ok)
	require.Equal(t, rpcerr.KindBadArguments, rerr.Kind)
}

func TestHundredConcurrentCallsAllComplete(t *testing.T) {
	url, _ := startTestServer(t, newEchoRegistry(t))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, url)
	require.NoError(t, err)
	defer c.Close()

	const n = 100
	var wg sync.WaitGroup
	errs := make([]error, n)
	vals := make([]any, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			vals[i], errs[i] = c.Call(ctx, "echo", "echo", fmt.Sprintf("msg-%d", i))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, fmt.Sprintf("msg-%d", i), vals[i])
	}
}

func TestMetaServicesExposesRegisteredServices(t *testing.T) {
	url, _ := startTestServer(t, newEchoRegistry(t))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, url)
	require.NoError(t, err)
	defer c.Close()

	proxy := c.Proxy()
	require.Contains(t, proxy.ServiceNames(), "echo")
	require.Contains(t, proxy.ServiceNames(), registry.MetaServiceName)

	svc, ok := proxy.Service("echo")
	require.True(t, ok)
	require.Contains(t, svc.CommandNames(), "echo")
}

func TestCancelledCallStopsOutputStream(t *testing.T) {
	reg := registry.New()
	svc := registry.NewService("infinite", nil)
	require.NoError(t, svc.Register(registry.Command{
		Name:       "tick",
		ReturnType: typetag.Stream(typetag.Int()),
		Handler: func(ctx context.Context, args []any) (any, error) {
			seq := stream.NewSequence(nil)
			go func() {
				var i int64
				for {
					if err := seq.Send(ctx, i); err != nil {
						return
					}
					i++
				}
			}()
			return seq, nil
		},
	}))
	require.NoError(t, reg.Register("infinite", svc))

	url, _ := startTestServer(t, reg)
	dialCtx, dialCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer dialCancel()
	c, err := client.Dial(dialCtx, url)
	require.NoError(t, err)
	defer c.Close()

	callCtx, callCancel := context.WithCancel(context.Background())
	seq, err := c.CallStream(callCtx, "infinite", "tick")
	require.NoError(t, err)

	_, err = seq.Next(callCtx)
	require.NoError(t, err)
	seq.Cancel()
	for err == nil {
		_, err = seq.Next(callCtx)
	}
	require.ErrorIs(t, err, rpcerr.Sentinel(rpcerr.KindCancelled))
	callCancel()
}

// sanity check that wire.Message round-trips Kind across both codecs
// (the handshake's JSON bootstrap codec and msgpack), since a malformed
// HELLO/WELCOME would make every test above fail for the wrong reason.
func TestHandshakeMessageKindRoundTrips(t *testing.T) {
	for _, c := range []codec.Codec{codec.NewJSON(), codec.NewMsgpack()} {
		b, err := c.Encode(wire.Message{Kind: wire.KindHello, ID: 0}, typetag.Any())
		require.NoError(t, err)
		var msg wire.Message
		require.NoError(t, c.Decode(b, typetag.Any(), &msg))
		require.Equal(t, wire.KindHello, msg.Kind)
	}
}
