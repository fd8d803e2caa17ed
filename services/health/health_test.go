package health

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snekrpc/snekrpc/pkg/stream"
)

func TestPingEmitsCountHeartbeatsThenCloses(t *testing.T) {
	svc := New()
	cmd, ok := svc.Command("ping")
	require.True(t, ok)

	ctx := context.Background()
	v, err := cmd.Handler(ctx, []any{int64(3), 0.01})
	require.NoError(t, err)
	seq, ok := v.(*stream.Sequence)
	require.True(t, ok)

	got, err := stream.Collect(ctx, seq)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, v := range got {
		require.Equal(t, true, v)
	}
}

func TestPingWithZeroIntervalDoesNotPanic(t *testing.T) {
	svc := New()
	cmd, ok := svc.Command("ping")
	require.True(t, ok)

	ctx := context.Background()
	v, err := cmd.Handler(ctx, []any{int64(3), 0.0})
	require.NoError(t, err)
	seq := v.(*stream.Sequence)

	got, err := stream.Collect(ctx, seq)
	require.NoError(t, err)
	require.Len(t, got, 3)
}

func TestPingStopsOnContextCancel(t *testing.T) {
	svc := New()
	cmd, _ := svc.Command("ping")

	ctx, cancel := context.WithCancel(context.Background())
	v, err := cmd.Handler(ctx, []any{int64(1000), 1.0})
	require.NoError(t, err)
	seq := v.(*stream.Sequence)

	cancel()
	_, err = seq.Next(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, io.EOF)
}

func TestAsIntAsFloatCoerceJSONNumbers(t *testing.T) {
	require.Equal(t, int64(5), asInt64(float64(5)))
	require.Equal(t, 2.5, asFloat64(float64(2.5)))
	require.Equal(t, int64(1), asInt64(nil))
}
