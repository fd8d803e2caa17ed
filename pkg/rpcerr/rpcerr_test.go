package rpcerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsMatchesByKindOnly(t *testing.T) {
	a := New(KindCancelled, "call cancelled mid-flight")
	b := Sentinel(KindCancelled)
	require.True(t, errors.Is(a, b))

	c := New(KindTimeout, "deadline exceeded")
	require.False(t, errors.Is(a, c))
}

func TestWrapPreservesAlreadyTypedError(t *testing.T) {
	orig := New(KindBadArguments, "missing required parameter %q", "value")
	wrapped := Wrap(KindInternal, orig)
	require.Same(t, orig, wrapped)
	require.Equal(t, KindBadArguments, wrapped.Kind)
}

func TestWrapClassifiesPlainError(t *testing.T) {
	plain := errors.New("boom")
	wrapped := Wrap(KindCommand, plain)
	require.Equal(t, KindCommand, wrapped.Kind)
	require.Equal(t, "boom", wrapped.Message)
}

func TestStatusCodeByKind(t *testing.T) {
	require.Equal(t, 404, (&Error{Kind: KindUnknownService}).StatusCode())
	require.Equal(t, 400, (&Error{Kind: KindBadArguments}).StatusCode())
	require.Equal(t, 499, (&Error{Kind: KindCancelled}).StatusCode())
	require.Equal(t, 500, (&Error{Kind: KindInternal}).StatusCode())
}
