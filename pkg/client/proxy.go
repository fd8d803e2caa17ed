package client

import (
	"context"
	"fmt"
	"sort"

	"github.com/snekrpc/snekrpc/pkg/registry"
	"github.com/snekrpc/snekrpc/pkg/stream"
)

// Proxy is a snapshot of the server's registered services, rebuilt from
// the Client's last _meta.services() fetch. It is the dynamic
// service/command surface spec §4.6 and §9 describe: a two-level
// service-name -> command-name map reconstructed purely from metadata,
// mirroring the teacher's provider-keyed dispatch in
// _teacher_ref/translator/registry.go generalized from one level to two.
type Proxy struct {
	client *Client
	names  []string
}

func newProxy(c *Client) *Proxy {
	names := make([]string, 0, len(c.meta))
	for n := range c.meta {
		names = append(names, n)
	}
	sort.Strings(names)
	return &Proxy{client: c, names: names}
}

// ServiceNames lists the services visible in this snapshot, sorted.
func (p *Proxy) ServiceNames() []string { return p.names }

// Service returns a ServiceProxy for name, or false if the last fetched
// snapshot has no such service.
func (p *Proxy) Service(name string) (*ServiceProxy, bool) {
	info, ok := p.client.meta[name]
	if !ok {
		return nil, false
	}
	return &ServiceProxy{client: p.client, info: info}, true
}

// ServiceProxy is one service's metadata plus the client used to invoke it.
type ServiceProxy struct {
	client *Client
	info   registry.ServiceInfo
}

// Name returns the service's registered name.
func (s *ServiceProxy) Name() string { return s.info.Name }

// CommandNames lists the service's commands, sorted.
func (s *ServiceProxy) CommandNames() []string {
	out := make([]string, len(s.info.Commands))
	for i, c := range s.info.Commands {
		out[i] = c.Name
	}
	return out
}

// Command returns a CommandProxy for name, or false if not found.
func (s *ServiceProxy) Command(name string) (*CommandProxy, bool) {
	for _, c := range s.info.Commands {
		if c.Name == name {
			return &CommandProxy{client: s.client, service: s.info.Name, info: c}, true
		}
	}
	return nil, false
}

// CommandProxy binds one command's metadata to the client it was
// fetched from, for CLI-style metadata-driven invocation.
type CommandProxy struct {
	client  *Client
	service string
	info    registry.CommandInfo
}

// Info returns the command's metadata (parameter names/types/defaults,
// return type, streaming flags).
func (c *CommandProxy) Info() registry.CommandInfo { return c.info }

// Call invokes the command positionally.
func (c *CommandProxy) Call(ctx context.Context, args ...any) (any, error) {
	if c.info.OutputStreaming {
		return nil, fmt.Errorf("client: %s.%s is output-streaming; use CallStream", c.service, c.info.Name)
	}
	return c.client.Call(ctx, c.service, c.info.Name, args...)
}

// CallKw invokes the command with positional and keyword arguments.
func (c *CommandProxy) CallKw(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	return c.client.CallKw(ctx, c.service, c.info.Name, args, kwargs)
}

// CallStream invokes an output-streaming command.
func (c *CommandProxy) CallStream(ctx context.Context, args ...any) (*stream.Sequence, error) {
	if !c.info.OutputStreaming {
		return nil, fmt.Errorf("client: %s.%s is not output-streaming", c.service, c.info.Name)
	}
	return c.client.CallStream(ctx, c.service, c.info.Name, args...)
}

// decodeServiceInfo rebuilds a registry.ServiceInfo from the generic
// map[string]any shape a codec produces when decoding into *any (both
// json.Unmarshal and msgpack.Unmarshal land maps as map[string]any with
// string keys for this wire format). Written by hand rather than via
// the codec's struct path because the client does not know the service
// name ahead of time to decode directly into a typed map value.
func decodeServiceInfo(v any) (registry.ServiceInfo, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return registry.ServiceInfo{}, fmt.Errorf("expected object, got %T", v)
	}
	info := registry.ServiceInfo{Name: asString(m["name"])}
	rawCmds, _ := m["commands"].([]any)
	for _, rc := range rawCmds {
		cm, ok := rc.(map[string]any)
		if !ok {
			continue
		}
		cmd := registry.CommandInfo{
			Name:            asString(cm["name"]),
			Doc:             asString(cm["doc"]),
			Returns:         asString(cm["returns"]),
			OutputStreaming: asBool(cm["output_streaming"]),
		}
		rawParams, _ := cm["params"].([]any)
		for _, rp := range rawParams {
			pm, ok := rp.(map[string]any)
			if !ok {
				continue
			}
			cmd.Params = append(cmd.Params, registry.ParamInfo{
				Name:    asString(pm["name"]),
				Type:    asString(pm["type"]),
				Default: pm["default"],
				Hidden:  asBool(pm["hidden"]),
				Doc:     asString(pm["doc"]),
			})
		}
		info.Commands = append(info.Commands, cmd)
	}
	return info, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}
