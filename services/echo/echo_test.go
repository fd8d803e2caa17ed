package echo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEchoReturnsItsArgumentUnchanged(t *testing.T) {
	svc := New()
	cmd, ok := svc.Command("echo")
	require.True(t, ok)

	v, err := cmd.Handler(context.Background(), []any{"hello"})
	require.NoError(t, err)
	require.Equal(t, "hello", v)
}
