// Package file exercises input streaming (spec §8 "input stream"):
// upload consumes a stream<bytes> parameter and writes it to disk,
// returning once the stream ends cleanly.
package file

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/snekrpc/snekrpc/pkg/registry"
	"github.com/snekrpc/snekrpc/pkg/rpcerr"
	"github.com/snekrpc/snekrpc/pkg/stream"
	"github.com/snekrpc/snekrpc/pkg/typetag"
)

// Name is the exposed service name.
const Name = "file"

// New builds the file service rooted at dir; upload's path argument is
// resolved relative to it so the worked example never writes outside a
// sandbox directory chosen by the process embedding the server.
func New(dir string) *registry.Service {
	s := registry.NewService(Name, nil)
	s.Doc = "streamed file transfer"

	must(s.Register(registry.Command{
		Name: "upload",
		Params: []registry.Param{
			{Name: "data", Type: typetag.Stream(typetag.Bytes())},
			{Name: "path", Type: typetag.Str()},
		},
		ReturnType: typetag.None(),
		Doc:        "upload(data, path) -> none, writes the stream to dir/path",
		Handler: func(ctx context.Context, args []any) (any, error) {
			seq, ok := args[0].(*stream.Sequence)
			if !ok {
				return nil, rpcerr.New(rpcerr.KindInternal, "upload: args[0] is not a stream.Sequence")
			}
			path, _ := args[1].(string)
			if path == "" {
				return nil, rpcerr.New(rpcerr.KindBadArguments, "path must not be empty")
			}

			target := filepath.Join(dir, path)
			if rel, err := filepath.Rel(dir, target); err != nil || !filepath.IsLocal(rel) {
				return nil, rpcerr.New(rpcerr.KindBadArguments, "path %q resolves outside the upload directory", path)
			}
			f, err := os.Create(target)
			if err != nil {
				return nil, rpcerr.New(rpcerr.KindCommand, "create %s: %s", path, err)
			}
			defer f.Close()

			for {
				v, err := seq.Next(ctx)
				if err != nil {
					if err == io.EOF {
						return nil, nil
					}
					return nil, err
				}
				b, ok := v.([]byte)
				if !ok {
					if s, isStr := v.(string); isStr {
						b = []byte(s)
					}
				}
				if _, err := f.Write(b); err != nil {
					return nil, rpcerr.New(rpcerr.KindCommand, "write %s: %s", path, err)
				}
			}
		},
	}))

	return s
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
