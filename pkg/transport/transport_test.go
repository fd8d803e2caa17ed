package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPipeSendRecvOrder(t *testing.T) {
	client, server := NewPipePair()
	defer client.Close()
	defer server.Close()

	msgs := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	go func() {
		for _, m := range msgs {
			_ = client.Send(m)
		}
	}()

	for _, want := range msgs {
		got, err := server.Recv()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestTCPListenDial(t *testing.T) {
	ln, err := Listen("tcp://127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	accepted := make(chan Conn, 1)
	go func() {
		c, err := ln.Accept(ctx)
		require.NoError(t, err)
		accepted <- c
	}()

	dialer, err := Dial("tcp://" + ln.Addr())
	require.NoError(t, err)
	clientConn, err := dialer.Dial(ctx)
	require.NoError(t, err)
	defer clientConn.Close()

	serverConn := <-accepted
	defer serverConn.Close()

	require.NoError(t, clientConn.Send([]byte("ping")))
	got, err := serverConn.Recv()
	require.NoError(t, err)
	require.Equal(t, []byte("ping"), got)
}

func TestUnknownSchemeRejected(t *testing.T) {
	_, err := Listen("ftp://nope")
	require.Error(t, err)
	_, err = Dial("ftp://nope")
	require.Error(t, err)
}
