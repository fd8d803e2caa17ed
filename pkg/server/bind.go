package server

import (
	"github.com/snekrpc/snekrpc/pkg/codec"
	"github.com/snekrpc/snekrpc/pkg/registry"
	"github.com/snekrpc/snekrpc/pkg/rpcerr"
	"github.com/snekrpc/snekrpc/pkg/typetag"
	"github.com/snekrpc/snekrpc/pkg/wire"
)

// bindArgs resolves a CALL's positional args and keyword kwargs against
// cmd's declared parameters, decoding each with c, applying declared
// defaults, and erroring on arity/name mismatches (spec §4.5 step 2).
// If cmd.InputStreaming, slot 0 is left nil here; the dispatcher fills
// it with the live input stream.Sequence before invoking the handler.
func bindArgs(c codec.Codec, cmd *registry.Command, call wire.CallPayload) ([]any, error) {
	out := make([]any, len(cmd.Params))
	bound := make([]bool, len(cmd.Params))

	start := 0
	if cmd.InputStreaming {
		bound[0] = true // filled by the dispatcher, not decoded from the wire
		start = 1
	}

	if len(call.Args) > len(cmd.Params)-start {
		return nil, rpcerr.New(rpcerr.KindBadArguments, "too many positional arguments: got %d, want at most %d", len(call.Args), len(cmd.Params)-start)
	}
	for i, raw := range call.Args {
		idx := start + i
		v, err := decodeParam(c, cmd.Params[idx], raw)
		if err != nil {
			return nil, err
		}
		out[idx] = v
		bound[idx] = true
	}

	for name, raw := range call.Kwargs {
		idx := indexOfParam(cmd.Params, name)
		if idx < 0 {
			return nil, rpcerr.New(rpcerr.KindBadArguments, "unknown parameter %q", name)
		}
		if bound[idx] {
			return nil, rpcerr.New(rpcerr.KindBadArguments, "parameter %q bound twice", name)
		}
		v, err := decodeParam(c, cmd.Params[idx], raw)
		if err != nil {
			return nil, err
		}
		out[idx] = v
		bound[idx] = true
	}

	for i, p := range cmd.Params {
		if bound[i] {
			continue
		}
		if !p.HasDefault {
			return nil, rpcerr.New(rpcerr.KindBadArguments, "missing required parameter %q", p.Name)
		}
		out[i] = p.Default
	}
	return out, nil
}

func indexOfParam(params []registry.Param, name string) int {
	for i, p := range params {
		if p.Name == name {
			return i
		}
	}
	return -1
}

func decodeParam(c codec.Codec, p registry.Param, raw wire.RawValue) (any, error) {
	var v any
	if err := c.Decode(raw.Bytes, p.Type, &v); err != nil {
		return nil, rpcerr.New(rpcerr.KindBadArguments, "parameter %q: %s", p.Name, err)
	}
	return coerce(v, p.Type), nil
}

// coerce nudges decode idiosyncrasies toward the declared tag's natural
// Go type, so handlers can rely on cmd.Params[i].Type rather than
// type-switching on codec quirks. JSON numbers always decode to
// float64; msgpack's DecodeInterface instead lands integers as their
// narrow wire type (int8/uint8/int16/…), so an int-tagged argument can
// arrive as any of those depending on which codec the connection
// negotiated.
func coerce(v any, tag typetag.Tag) any {
	switch tag.Kind {
	case typetag.KindInt:
		switch n := v.(type) {
		case int64:
			return n
		case int:
			return int64(n)
		case int8:
			return int64(n)
		case int16:
			return int64(n)
		case int32:
			return int64(n)
		case uint:
			return int64(n)
		case uint8:
			return int64(n)
		case uint16:
			return int64(n)
		case uint32:
			return int64(n)
		case uint64:
			return int64(n)
		case float32:
			return int64(n)
		case float64:
			return int64(n)
		}
	case typetag.KindFloat:
		switch n := v.(type) {
		case float64:
			return n
		case float32:
			return float64(n)
		case int64:
			return float64(n)
		case int:
			return float64(n)
		case int8:
			return float64(n)
		case int16:
			return float64(n)
		case int32:
			return float64(n)
		case uint:
			return float64(n)
		case uint8:
			return float64(n)
		case uint16:
			return float64(n)
		case uint32:
			return float64(n)
		case uint64:
			return float64(n)
		}
	}
	return v
}
