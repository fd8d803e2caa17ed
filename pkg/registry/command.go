package registry

import (
	"context"

	"github.com/snekrpc/snekrpc/pkg/typetag"
)

// Param describes one command parameter (spec §3).
type Param struct {
	Name    string
	Type    typetag.Tag
	Default any  // nil if required; use HasDefault to distinguish from a real nil default
	HasDefault bool
	Hidden  bool
	Doc     string
}

// Handler is the Go callable a Command invokes. args is positional,
// bound and defaulted by the dispatcher according to Command.Params; if
// InputStreaming is true, args[0] is a *stream.Sequence (typed as any
// here to avoid an import cycle with pkg/stream, which itself has no
// dependency on registry).
//
// The return value is either a plain Go value (unary commands) or a
// *stream.Sequence (output-streaming commands, asserted by the
// dispatcher since registry doesn't import pkg/stream).
type Handler func(ctx context.Context, args []any) (any, error)

// Command is a callable exposed by a service (spec §3).
type Command struct {
	Name            string
	Params          []Param
	ReturnType      typetag.Tag
	InputStreaming  bool
	OutputStreaming bool
	Doc             string
	Handler         Handler
}

// validate enforces the §3 invariants for a single command: at most one
// streaming parameter, and only as the first; output-streaming iff the
// return tag is stream<T>.
func (c *Command) validate() error {
	for i, p := range c.Params {
		if _, ok := p.Type.IsStream(); ok && i != 0 {
			return &RegistrationError{Reason: "stream parameter " + p.Name + " must be the first parameter"}
		}
	}
	if len(c.Params) > 0 {
		if _, ok := c.Params[0].Type.IsStream(); ok {
			c.InputStreaming = true
		}
	}
	_, isStreamReturn := c.ReturnType.IsStream()
	if isStreamReturn != c.OutputStreaming {
		c.OutputStreaming = isStreamReturn
	}
	return nil
}
