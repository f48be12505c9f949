package op

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mai-ml/mai/internal/tensor"
)

// Key identifies a kernel variant: an operator kind specialised for one element type.
type Key struct {
	Kind     Kind
	DataType tensor.DataType
}

// String returns e.g. "Conv2D/float32".
func (k Key) String() string {
	return k.Kind.String() + "/" + k.DataType.String()
}

// Factory produces a fresh, unconfigured operator.
type Factory func() Operator

// Registry maps (kind, element type) pairs to factories.
//
// All Register calls must happen before the first Create. After that the
// registry is frozen and safe for concurrent Create calls.
type Registry struct {
	mu        sync.RWMutex
	factories map[Key]Factory
	frozen    bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[Key]Factory),
	}
}

// Register installs a factory for the exact (kind, dtype) pair.
func (r *Registry) Register(kind Kind, dtype tensor.DataType, factory Factory) error {
	key := Key{Kind: kind, DataType: dtype}
	if factory == nil {
		return fmt.Errorf("%w: nil factory for %s", ErrInvalidParam, key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("register %s: %w", key, ErrRegistryFrozen)
	}
	if _, ok := r.factories[key]; ok {
		return fmt.Errorf("register %s: %w", key, ErrDuplicateOperator)
	}
	r.factories[key] = factory
	return nil
}

// Create returns a new operator from the factory registered for (kind, dtype).
func (r *Registry) Create(kind Kind, dtype tensor.DataType) (Operator, error) {
	key := Key{Kind: kind, DataType: dtype}

	r.mu.RLock()
	factory, ok := r.factories[key]
	frozen := r.frozen
	r.mu.RUnlock()

	if !frozen {
		r.mu.Lock()
		r.frozen = true
		r.mu.Unlock()
	}
	if !ok {
		return nil, fmt.Errorf("create %s: %w", key, ErrNoOperator)
	}
	return factory(), nil
}

// Registered returns every registered key, ordered by kind then element type.
func (r *Registry) Registered() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]Key, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Kind != keys[j].Kind {
			return keys[i].Kind < keys[j].Kind
		}
		return keys[i].DataType < keys[j].DataType
	})
	return keys
}
