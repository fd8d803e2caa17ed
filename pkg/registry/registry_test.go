package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snekrpc/snekrpc/pkg/rpcerr"
	"github.com/snekrpc/snekrpc/pkg/typetag"
)

func echoService(t *testing.T) *Service {
	t.Helper()
	svc := NewService("echo", nil)
	require.NoError(t, svc.Register(Command{
		Name:       "echo",
		Params:     []Param{{Name: "value", Type: typetag.Str()}},
		ReturnType: typetag.Str(),
		Handler: func(ctx context.Context, args []any) (any, error) {
			return args[0], nil
		},
	}))
	return svc
}

func TestMetaServiceNamesSorted(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("zeta", echoService(t)))
	require.NoError(t, r.Register("alpha", NewService("alpha", nil)))

	meta, ok := r.Service(MetaServiceName)
	require.True(t, ok)
	cmd, ok := meta.Command("service_names")
	require.True(t, ok)
	v, err := cmd.Handler(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, []string{"_meta", "alpha", "zeta"}, v)
}

func TestMetadataDeterminism(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("echo", echoService(t)))

	meta, _ := r.Service(MetaServiceName)
	cmd, _ := meta.Command("services")

	v1, err := cmd.Handler(context.Background(), nil)
	require.NoError(t, err)
	v2, err := cmd.Handler(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, v1, v2)
}

func TestDuplicateServiceRejected(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("echo", echoService(t)))
	err := r.Register("echo", echoService(t))
	require.Error(t, err)
}

func TestReservedMetaNameRejected(t *testing.T) {
	r := New()
	err := r.Register(MetaServiceName, NewService(MetaServiceName, nil))
	require.Error(t, err)
}

func TestStreamParamMustBeFirst(t *testing.T) {
	svc := NewService("bad", nil)
	err := svc.Register(Command{
		Name: "upload",
		Params: []Param{
			{Name: "path", Type: typetag.Str()},
			{Name: "data", Type: typetag.Stream(typetag.Bytes())},
		},
		ReturnType: typetag.None(),
		Handler:    func(context.Context, []any) (any, error) { return nil, nil },
	})
	require.Error(t, err)
}

func TestOutputStreamingDerivedFromReturnTag(t *testing.T) {
	svc := NewService("health", nil)
	require.NoError(t, svc.Register(Command{
		Name:       "ping",
		ReturnType: typetag.Stream(typetag.Bool()),
		Handler:    func(context.Context, []any) (any, error) { return nil, nil },
	}))
	cmd, _ := svc.Command("ping")
	require.True(t, cmd.OutputStreaming)
}

func TestUnknownServiceError(t *testing.T) {
	r := New()
	meta, _ := r.Service(MetaServiceName)
	cmd, _ := meta.Command("service")
	_, err := cmd.Handler(context.Background(), []any{"nope"})
	rerr, ok := err.(*rpcerr.Error)
	require.True(t, ok)
	require.Equal(t, rpcerr.KindUnknownService, rerr.Kind)
}
