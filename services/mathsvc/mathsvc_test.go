package mathsvc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snekrpc/snekrpc/pkg/rpcerr"
)

func command(t *testing.T, name string) func(context.Context, []any) (any, error) {
	t.Helper()
	svc := New()
	cmd, ok := svc.Command(name)
	require.True(t, ok)
	return cmd.Handler
}

func TestAddSumsTwoInts(t *testing.T) {
	handler := command(t, "add")
	v, err := handler(context.Background(), []any{int64(2), int64(3)})
	require.NoError(t, err)
	require.EqualValues(t, 5, v)
}

func TestDivideComputesFloatQuotient(t *testing.T) {
	handler := command(t, "divide")
	v, err := handler(context.Background(), []any{int64(7), int64(2)})
	require.NoError(t, err)
	require.InDelta(t, 3.5, v, 0.0001)
}

func TestDivideByZeroReturnsCommandError(t *testing.T) {
	handler := command(t, "divide")
	_, err := handler(context.Background(), []any{int64(1), int64(0)})
	require.Error(t, err)
	rerr, ok := err.(*rpcerr.Error)
	require.True(t, ok)
	require.Equal(t, rpcerr.KindCommand, rerr.Kind)
}
