package channel

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

var (
	ErrNoChannelType    = errors.New("channel: adapter has no type")
	ErrDuplicateChannel = errors.New("channel: type already registered")
)

// Registry holds one adapter per channel type. Lookups normalize the type.
type Registry struct {
	mu sync.RWMutex
	by map[ChannelType]Adapter
}

func NewRegistry() *Registry {
	return &Registry{by: make(map[ChannelType]Adapter)}
}

// Register adds a. Registering a type twice fails with ErrDuplicateChannel.
func (r *Registry) Register(a Adapter) error {
	if a == nil {
		return ErrNoChannelType
	}
	ct := ParseChannelType(a.Type().String())
	if ct == "" {
		return ErrNoChannelType
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.by[ct]; taken {
		return fmt.Errorf("%w: %s", ErrDuplicateChannel, ct)
	}
	r.by[ct] = a
	return nil
}

// MustRegister registers each adapter and panics on the first failure.
func (r *Registry) MustRegister(adapters ...Adapter) {
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Adapter(ct ChannelType) (Adapter, bool) {
	r.mu.RLock()
	a, ok := r.by[ParseChannelType(ct.String())]
	r.mu.RUnlock()
	return a, ok
}

func (r *Registry) Descriptor(ct ChannelType) (Descriptor, bool) {
	if a, ok := r.Adapter(ct); ok {
		return a.Descriptor(), true
	}
	return Descriptor{}, false
}

// Types returns the registered channel types, sorted.
func (r *Registry) Types() []ChannelType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.by))
}

// As returns the adapter for ct if it implements T, for example As[Deliverer].
func As[T any](r *Registry, ct ChannelType) (T, bool) {
	var zero T
	if r == nil {
		return zero, false
	}
	a, ok := r.Adapter(ct)
	if !ok {
		return zero, false
	}
	v, ok := a.(T)
	return v, ok
}
