package wire

import (
	"encoding/json"
	"sync"

	"github.com/lightforgemedia/go-actioncable/pkg/channel"
)

// UnmarshalFunc decodes JSON into v. It has the signature of json.Unmarshal.
type UnmarshalFunc func(data []byte, v any) error

// DecodeFunc turns a raw body into an application value. unmarshal is the
// owning Codec's strategy and should be used for the actual decoding.
type DecodeFunc func(raw json.RawMessage, unmarshal UnmarshalFunc) (any, error)

// Registry maps lookup keys to payload decoders. It holds two namespaces:
// channel identifiers, which decode the whole body, and top-level key names,
// which decode the value under a body's single key.
//
// A Registry is safe for concurrent use. Entries live until removed.
type Registry struct {
	mu          sync.RWMutex
	identifiers map[string]DecodeFunc
	keys        map[string]DecodeFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		identifiers: make(map[string]DecodeFunc),
		keys:        make(map[string]DecodeFunc),
	}
}

// RegisterFunc installs fn for bodies shaped {key: ...}. It replaces any
// decoder previously registered for key.
func (r *Registry) RegisterFunc(key string, fn DecodeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[key] = fn
}

// RegisterIdentifierFunc installs fn for every body arriving on id.
func (r *Registry) RegisterIdentifierFunc(id channel.Identifier, fn DecodeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identifiers[id.Key()] = fn
}

// Unregister removes the decoder for key and reports whether one existed.
func (r *Registry) Unregister(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.keys[key]
	delete(r.keys, key)
	return ok
}

// UnregisterIdentifier removes the decoder for id and reports whether one existed.
func (r *Registry) UnregisterIdentifier(id channel.Identifier) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.identifiers[id.Key()]
	delete(r.identifiers, id.Key())
	return ok
}

// Clear removes every decoder.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identifiers = make(map[string]DecodeFunc)
	r.keys = make(map[string]DecodeFunc)
}

// Len returns the number of registered decoders across both namespaces.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.identifiers) + len(r.keys)
}

func (r *Registry) lookupIdentifier(key string) (DecodeFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.identifiers[key]
	return fn, ok
}

func (r *Registry) lookupKey(key string) (DecodeFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.keys[key]
	return fn, ok
}

// Register decodes bodies shaped {key: <T>} into a T value.
func Register[T any](r *Registry, key string) {
	r.RegisterFunc(key, decodeInto[T])
}

// RegisterForIdentifier decodes every body arriving on id into a T value.
func RegisterForIdentifier[T any](r *Registry, id channel.Identifier) {
	r.RegisterIdentifierFunc(id, decodeInto[T])
}

func decodeInto[T any](raw json.RawMessage, unmarshal UnmarshalFunc) (any, error) {
	var v T
	if err := unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
