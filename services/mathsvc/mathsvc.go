// Package mathsvc exercises integer argument binding and positional
// arity errors (spec §8 "add ints", "bad args").
package mathsvc

import (
	"context"

	"github.com/snekrpc/snekrpc/pkg/registry"
	"github.com/snekrpc/snekrpc/pkg/rpcerr"
	"github.com/snekrpc/snekrpc/pkg/typetag"
)

// Name is the exposed service name.
const Name = "math"

// New builds the math service.
func New() *registry.Service {
	s := registry.NewService(Name, nil)
	s.Doc = "arithmetic over the int type tag"

	must(s.Register(registry.Command{
		Name: "add",
		Params: []registry.Param{
			{Name: "a", Type: typetag.Int()},
			{Name: "b", Type: typetag.Int()},
		},
		ReturnType: typetag.Int(),
		Doc:        "add(a, b) -> a + b",
		Handler: func(ctx context.Context, args []any) (any, error) {
			a := asInt64(args[0])
			b := asInt64(args[1])
			return a + b, nil
		},
	}))

	must(s.Register(registry.Command{
		Name: "divide",
		Params: []registry.Param{
			{Name: "a", Type: typetag.Int()},
			{Name: "b", Type: typetag.Int()},
		},
		ReturnType: typetag.Float(),
		Doc:        "divide(a, b) -> a / b, raising Command on b == 0",
		Handler: func(ctx context.Context, args []any) (any, error) {
			a := asInt64(args[0])
			b := asInt64(args[1])
			if b == 0 {
				return nil, rpcerr.New(rpcerr.KindCommand, "division by zero")
			}
			return float64(a) / float64(b), nil
		},
	}))

	return s
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
