package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snekrpc/snekrpc/pkg/rpcerr"
	"github.com/snekrpc/snekrpc/pkg/stream"
)

func TestUploadWritesStreamedChunksToDisk(t *testing.T) {
	dir := t.TempDir()
	svc := New(dir)
	cmd, ok := svc.Command("upload")
	require.True(t, ok)

	in := stream.FromSlice([]any{[]byte("hello "), []byte("world")})
	_, err := cmd.Handler(context.Background(), []any{in, "out.txt"})
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello world", string(b))
}

func TestUploadRejectsEmptyPath(t *testing.T) {
	dir := t.TempDir()
	svc := New(dir)
	cmd, _ := svc.Command("upload")

	in := stream.FromSlice([]any{[]byte("x")})
	_, err := cmd.Handler(context.Background(), []any{in, ""})
	require.Error(t, err)
	rerr, ok := err.(*rpcerr.Error)
	require.True(t, ok)
	require.Equal(t, rpcerr.KindBadArguments, rerr.Kind)
}
