// Package codec converts structured values to and from bytes across the
// codec-agnostic encoding boundary. Codecs are symmetric and
// self-delimiting within the bytes they are given; type tags are
// advisory hints a codec may use to disambiguate (e.g. a codec with no
// native integer type) or ignore.
package codec

import (
	"fmt"
	"sync"

	"github.com/snekrpc/snekrpc/pkg/typetag"
)

// Codec is the encode/decode boundary between Go values and wire bytes.
type Codec interface {
	// Name is the short identifier used during handshake ("json", "msgpack").
	Name() string
	// Encode converts v into bytes. tag is advisory.
	Encode(v any, tag typetag.Tag) ([]byte, error)
	// Decode fills out, which must be a pointer, from b. tag is advisory.
	Decode(b []byte, tag typetag.Tag, out any) error
}

// Registry holds codecs by name and answers handshake intersection
// queries, mirroring the read-write-locked lookup-table discipline used
// throughout this codebase's registries.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
	order  []string
}

// NewRegistry builds an empty codec registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Codec)}
}

// Register adds or replaces a codec under its Name(), appending it to
// the registration order the first time that name is seen.
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.codecs[c.Name()]; !exists {
		r.order = append(r.order, c.Name())
	}
	r.codecs[c.Name()] = c
}

// Get returns the codec registered under name, if any.
func (r *Registry) Get(name string) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[name]
	return c, ok
}

// Names returns the registered codec names in registration order
// (Default registers msgpack first), used to advertise HELLO.codecs and
// as the client's default codec preference.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Negotiate picks the first name in offered (client preference order)
// that the registry supports.
func (r *Registry) Negotiate(offered []string) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range offered {
		if c, ok := r.codecs[name]; ok {
			return c, true
		}
	}
	return nil, false
}

// Default builds a registry pre-populated with the two built-in codecs,
// msgpack first so it is preferred when offered in that order.
func Default() *Registry {
	r := NewRegistry()
	r.Register(NewMsgpack())
	r.Register(NewJSON())
	return r
}

// ErrUnsupported is returned when a codec is asked to handle a Go type
// it has no translation for.
func ErrUnsupported(codecName string, v any) error {
	return fmt.Errorf("codec %s: unsupported value of type %T", codecName, v)
}
