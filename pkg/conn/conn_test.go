package conn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/snekrpc/snekrpc/pkg/codec"
	"github.com/snekrpc/snekrpc/pkg/transport"
	"github.com/snekrpc/snekrpc/pkg/wire"
)

func TestHandshakeNegotiatesPreferredCodec(t *testing.T) {
	clientTC, serverTC := transport.NewPipePair()
	reg := codec.Default()

	type result struct {
		c   codec.Codec
		err error
	}
	serverCh := make(chan result, 1)
	go func() {
		c, err := ServerHandshake(context.Background(), serverTC, reg, time.Second)
		serverCh <- result{c, err}
	}()

	clientCodec, err := ClientHandshake(context.Background(), clientTC, []string{"json", "msgpack"}, reg, nil)
	require.NoError(t, err)
	require.Equal(t, "json", clientCodec.Name())

	r := <-serverCh
	require.NoError(t, r.err)
	require.Equal(t, "json", r.c.Name())
}

func TestHandshakeNoCommonCodec(t *testing.T) {
	clientTC, serverTC := transport.NewPipePair()
	serverReg := codec.NewRegistry()
	serverReg.Register(codec.NewMsgpack())

	errCh := make(chan error, 1)
	go func() {
		_, err := ServerHandshake(context.Background(), serverTC, serverReg, time.Second)
		errCh <- err
	}()

	clientReg := codec.NewRegistry()
	clientReg.Register(codec.NewJSON())
	_, err := ClientHandshake(context.Background(), clientTC, []string{"json"}, clientReg, nil)
	require.Error(t, err)
	require.Error(t, <-errCh)
}

func TestPinnedCodecSkipsHandshake(t *testing.T) {
	_, serverTC := transport.NewPipePair()
	_ = serverTC
	c, err := ClientHandshake(context.Background(), nil, nil, nil, codec.NewMsgpack())
	require.NoError(t, err)
	require.Equal(t, "msgpack", c.Name())
}

func TestRouteDeliversToRegisteredInbox(t *testing.T) {
	clientTC, serverTC := transport.NewPipePair()
	jsonCodec := codec.NewJSON()
	client := New(clientTC, jsonCodec, RoleClient, nil)
	server := New(serverTC, jsonCodec, RoleServer, nil)
	go client.Run(context.Background())
	go server.Run(context.Background())

	id := client.NextID()
	ib := server.Register(id)

	require.NoError(t, client.SendPayload(wire.KindCall, id, wire.CallPayload{Service: "echo", Command: "echo"}))

	msg, err := ib.Recv(context.Background())
	require.NoError(t, err)
	require.Equal(t, wire.KindCall, msg.Kind)
	require.Equal(t, id, msg.ID)
}

func TestCallIsolationAcrossConcurrentIDs(t *testing.T) {
	clientTC, serverTC := transport.NewPipePair()
	jsonCodec := codec.NewJSON()
	client := New(clientTC, jsonCodec, RoleClient, nil)
	server := New(serverTC, jsonCodec, RoleServer, nil)
	go client.Run(context.Background())
	go server.Run(context.Background())

	const n = 20
	inboxes := make([]*Inbox, n)
	ids := make([]uint64, n)
	for i := 0; i < n; i++ {
		ids[i] = client.NextID()
		inboxes[i] = server.Register(ids[i])
	}
	for i := 0; i < n; i++ {
		require.NoError(t, client.SendPayload(wire.KindCall, ids[i], wire.CallPayload{Command: "c"}))
	}
	for i := 0; i < n; i++ {
		msg, err := inboxes[i].Recv(context.Background())
		require.NoError(t, err)
		require.Equal(t, ids[i], msg.ID)
	}
}

func TestCloseFailsPendingCalls(t *testing.T) {
	clientTC, serverTC := transport.NewPipePair()
	jsonCodec := codec.NewJSON()
	client := New(clientTC, jsonCodec, RoleClient, nil)
	server := New(serverTC, jsonCodec, RoleServer, nil)
	go client.Run(context.Background())
	go server.Run(context.Background())

	id := client.NextID()
	ib := client.Register(id)

	require.NoError(t, server.Close(nil))

	msg, err := ib.Recv(context.Background())
	require.NoError(t, err)
	require.Equal(t, wire.KindError, msg.Kind)
}
