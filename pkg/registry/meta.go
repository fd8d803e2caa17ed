package registry

import (
	"context"
	"sort"

	"github.com/snekrpc/snekrpc/pkg/rpcerr"
	"github.com/snekrpc/snekrpc/pkg/typetag"
)

// ParamInfo is the metadata rendering of a Param (spec §4.4).
type ParamInfo struct {
	Name    string      `msgpack:"name" json:"name"`
	Type    string      `msgpack:"type" json:"type"`
	Default any         `msgpack:"default,omitempty" json:"default,omitempty"`
	Hidden  bool        `msgpack:"hidden" json:"hidden"`
	Doc     string      `msgpack:"doc,omitempty" json:"doc,omitempty"`
}

// CommandInfo is the metadata rendering of a Command.
type CommandInfo struct {
	Name            string      `msgpack:"name" json:"name"`
	Doc             string      `msgpack:"doc,omitempty" json:"doc,omitempty"`
	Params          []ParamInfo `msgpack:"params" json:"params"`
	Returns         string      `msgpack:"returns" json:"returns"`
	OutputStreaming bool        `msgpack:"output_streaming" json:"output_streaming"`
}

// ServiceInfo is the metadata rendering of a Service.
type ServiceInfo struct {
	Name     string        `msgpack:"name" json:"name"`
	Commands []CommandInfo `msgpack:"commands" json:"commands"`
}

// Status is the payload of _meta.status().
type Status struct {
	Codec     string `msgpack:"codec" json:"codec"`
	Transport string `msgpack:"transport" json:"transport"`
	Version   string `msgpack:"version" json:"version"`
}

func commandInfo(c *Command) CommandInfo {
	params := make([]ParamInfo, 0, len(c.Params))
	for _, p := range c.Params {
		pi := ParamInfo{Name: p.Name, Type: p.Type.String(), Hidden: p.Hidden, Doc: p.Doc}
		if p.HasDefault {
			pi.Default = p.Default
		}
		params = append(params, pi)
	}
	return CommandInfo{
		Name:            c.Name,
		Doc:             c.Doc,
		Params:          params,
		Returns:         c.ReturnType.String(),
		OutputStreaming: c.OutputStreaming,
	}
}

func serviceInfo(s *Service) ServiceInfo {
	cmds := s.Commands()
	infos := make([]CommandInfo, 0, len(cmds))
	for _, c := range cmds {
		infos = append(infos, commandInfo(c))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return ServiceInfo{Name: s.Name, Commands: infos}
}

// newMetaService builds the always-registered _meta service bound to
// r. Its commands are a deterministic function of the registry's
// current state (spec §3's metadata-determinism invariant): every call
// re-reads r under its RWMutex and builds a fresh snapshot, never
// caching across mutations.
func newMetaService(r *Registry) *Service {
	s := NewService(MetaServiceName, nil)
	s.Doc = "self-describing metadata service"

	mustRegister := func(cmd Command) {
		if err := s.Register(cmd); err != nil {
			panic(err)
		}
	}

	mustRegister(Command{
		Name:       "status",
		ReturnType: typetag.Any(),
		Doc:        "server codec/transport/version status",
		Handler: func(ctx context.Context, args []any) (any, error) {
			r.mu.RLock()
			defer r.mu.RUnlock()
			return r.status, nil
		},
	})

	mustRegister(Command{
		Name:       "service_names",
		ReturnType: typetag.List(typetag.Str()),
		Doc:        "sorted list of registered service names",
		Handler: func(ctx context.Context, args []any) (any, error) {
			return r.ServiceNames(), nil
		},
	})

	mustRegister(Command{
		Name:       "services",
		ReturnType: typetag.Map(typetag.Str(), typetag.Any()),
		Doc:        "metadata for every registered service",
		Handler: func(ctx context.Context, args []any) (any, error) {
			r.mu.RLock()
			defer r.mu.RUnlock()
			out := make(map[string]ServiceInfo, len(r.services))
			for name, svc := range r.services {
				out[name] = serviceInfo(svc)
			}
			return out, nil
		},
	})

	mustRegister(Command{
		Name:       "service",
		Params:     []Param{{Name: "name", Type: typetag.Str()}},
		ReturnType: typetag.Any(),
		Doc:        "metadata for a single service, or UnknownService",
		Handler: func(ctx context.Context, args []any) (any, error) {
			name, _ := args[0].(string)
			svc, ok := r.Service(name)
			if !ok {
				return nil, rpcerr.New(rpcerr.KindUnknownService, "unknown service %q", name)
			}
			return serviceInfo(svc), nil
		},
	})

	return s
}

// SetStatus records what _meta.status reports, so it can answer without
// a dependency from registry -> server. The server calls it when Serve
// starts and again after each connection's handshake, with that
// connection's negotiated codec.
func (r *Registry) SetStatus(st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = st
}
