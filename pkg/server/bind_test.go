package server

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snekrpc/snekrpc/pkg/codec"
	"github.com/snekrpc/snekrpc/pkg/registry"
	"github.com/snekrpc/snekrpc/pkg/typetag"
	"github.com/snekrpc/snekrpc/pkg/wire"
)

// msgpack.Marshal picks the narrowest wire representation for small
// integers, so decoding into an interface{} can yield int8/uint8/etc.
// rather than int64. bindArgs must coerce all of these to the
// declared tag's Go type, not just float64 (JSON's shape).
func TestBindArgsCoercesMsgpackNarrowIntsToInt64(t *testing.T) {
	c := codec.NewMsgpack()
	cmd := &registry.Command{
		Params: []registry.Param{
			{Name: "a", Type: typetag.Int()},
			{Name: "b", Type: typetag.Int()},
		},
	}

	encode := func(v any) wire.RawValue {
		b, err := c.Encode(v, typetag.Int())
		require.NoError(t, err)
		return wire.RawValue{Bytes: b}
	}

	call := wire.CallPayload{Args: []wire.RawValue{encode(int8(2)), encode(int8(3))}}
	args, err := bindArgs(c, cmd, call)
	require.NoError(t, err)
	require.IsType(t, int64(0), args[0])
	require.IsType(t, int64(0), args[1])
	require.EqualValues(t, 2, args[0])
	require.EqualValues(t, 3, args[1])
}

func TestCoerceNormalizesAllIntegerAndFloatKinds(t *testing.T) {
	for _, v := range []any{int8(7), int16(7), int32(7), int64(7), int(7), uint8(7), uint16(7), uint32(7), uint64(7), uint(7), float32(7), float64(7)} {
		require.Equal(t, int64(7), coerce(v, typetag.Int()), "input %T", v)
	}
	for _, v := range []any{int8(7), int64(7), float32(7), float64(7)} {
		require.Equal(t, float64(7), coerce(v, typetag.Float()), "input %T", v)
	}
}

func TestMissingRequiredParamIsBadArguments(t *testing.T) {
	c := codec.NewJSON()
	cmd := &registry.Command{
		Params: []registry.Param{{Name: "a", Type: typetag.Int()}},
	}
	_, err := bindArgs(c, cmd, wire.CallPayload{})
	require.Error(t, err)
}
