// Package health exercises output streaming and cancellation (spec §8
// "output stream"): ping emits count heartbeats, interval apart, and
// stops cleanly if the caller cancels before count is reached.
package health

import (
	"context"
	"time"

	"github.com/snekrpc/snekrpc/pkg/registry"
	"github.com/snekrpc/snekrpc/pkg/stream"
	"github.com/snekrpc/snekrpc/pkg/typetag"
)

// Name is the exposed service name.
const Name = "health"

// New builds the health service.
func New() *registry.Service {
	s := registry.NewService(Name, nil)
	s.Doc = "liveness heartbeat over an output stream"

	must(s.Register(registry.Command{
		Name: "ping",
		Params: []registry.Param{
			{Name: "count", Type: typetag.Int(), Default: int64(1), HasDefault: true},
			{Name: "interval", Type: typetag.Float(), Default: 1.0, HasDefault: true},
		},
		ReturnType: typetag.Stream(typetag.Bool()),
		Doc:        "ping(count=1, interval=1.0) -> stream<bool>, true once per tick",
		Handler:    ping,
	}))

	return s
}

func ping(ctx context.Context, args []any) (any, error) {
	count := asInt64(args[0])
	interval := asFloat64(args[1])

	seq := stream.NewSequence(nil)
	go func() {
		var tick <-chan time.Time
		if interval > 0 {
			ticker := time.NewTicker(time.Duration(interval * float64(time.Second)))
			defer ticker.Stop()
			tick = ticker.C
		}
		for i := int64(0); i < count; i++ {
			if tick != nil {
				select {
				case <-ctx.Done():
					seq.SendError(ctx.Err())
					return
				case <-tick:
				}
			} else if ctx.Err() != nil {
				seq.SendError(ctx.Err())
				return
			}
			if err := seq.Send(ctx, true); err != nil {
				return
			}
		}
		seq.CloseOK()
	}()
	return seq, nil
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
		return 1
	}
}

func asFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 1.0
	}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
