// Package echo is the simplest worked-example service: one unary
// command that returns its argument unchanged, used by the end-to-end
// tests as the minimal round-trip fixture (spec §8 "echo unary").
package echo

import (
	"context"

	"github.com/snekrpc/snekrpc/pkg/registry"
	"github.com/snekrpc/snekrpc/pkg/typetag"
)

// Name is the exposed service name.
const Name = "echo"

// New builds the echo service.
func New() *registry.Service {
	s := registry.NewService(Name, nil)
	s.Doc = "returns its argument unchanged"

	must(s.Register(registry.Command{
		Name:       "echo",
		Params:     []registry.Param{{Name: "value", Type: typetag.Str()}},
		ReturnType: typetag.Str(),
		Doc:        "echo(value) -> value",
		Handler: func(ctx context.Context, args []any) (any, error) {
			v, _ := args[0].(string)
			return v, nil
		},
	}))

	return s
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
