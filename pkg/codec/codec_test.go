package codec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snekrpc/snekrpc/pkg/typetag"
)

func TestRoundTrip(t *testing.T) {
	for _, c := range []Codec{NewJSON(), NewMsgpack()} {
		c := c
		t.Run(c.Name(), func(t *testing.T) {
			cases := []struct {
				tag typetag.Tag
				in  any
				out any
			}{
				{typetag.Int(), int64(42), new(int64)},
				{typetag.Float(), 3.5, new(float64)},
				{typetag.Bool(), true, new(bool)},
				{typetag.Str(), "hello", new(string)},
				{typetag.Bytes(), []byte("AB"), new([]byte)},
				{typetag.List(typetag.Int()), []int64{1, 2, 3}, new([]int64)},
			}
			for _, tc := range cases {
				b, err := c.Encode(tc.in, tc.tag)
				require.NoError(t, err)
				err = c.Decode(b, tc.tag, tc.out)
				require.NoError(t, err)
				require.EqualValues(t, tc.in, derefAny(tc.out))
			}
		})
	}
}

func derefAny(v any) any {
	switch p := v.(type) {
	case *int64:
		return *p
	case *float64:
		return *p
	case *bool:
		return *p
	case *string:
		return *p
	case *[]byte:
		return *p
	case *[]int64:
		return *p
	default:
		return v
	}
}

func TestRegistryNegotiate(t *testing.T) {
	r := Default()
	require.Equal(t, []string{"msgpack", "json"}, r.Names())

	c, ok := r.Negotiate([]string{"json", "msgpack"})
	require.True(t, ok)
	require.Equal(t, "json", c.Name())

	c, ok = r.Negotiate([]string{"cbor", "msgpack"})
	require.True(t, ok)
	require.Equal(t, "msgpack", c.Name())

	_, ok = r.Negotiate([]string{"cbor"})
	require.False(t, ok)
}
