package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	require.NoError(t, fw.WriteFrame([]byte("hello")))
	require.NoError(t, fw.WriteFrame([]byte("")))
	require.NoError(t, fw.WriteFrame([]byte("world")))

	fr := NewFrameReader(&buf)
	b, err := fr.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, "hello", string(b))

	b, err = fr.ReadFrame()
	require.NoError(t, err)
	require.Empty(t, b)

	b, err = fr.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, "world", string(b))
}

func TestFrameReaderRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	hdr := []byte{0, 0, 0, 0}
	// Encode a length one byte over MaxFrameLen.
	n := uint32(MaxFrameLen + 1)
	hdr[0] = byte(n >> 24)
	hdr[1] = byte(n >> 16)
	hdr[2] = byte(n >> 8)
	hdr[3] = byte(n)
	buf.Write(hdr)

	fr := NewFrameReader(&buf)
	_, err := fr.ReadFrame()
	require.Error(t, err)
}

func TestKindString(t *testing.T) {
	require.Equal(t, "CALL", KindCall.String())
	require.Equal(t, "UNKNOWN", Kind(255).String())
}
