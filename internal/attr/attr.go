// Package attr holds the flat, typed attribute map produced by resolving a
// rule set against one product.
//
// Access is split in two contracts: Required fails when the key is absent,
// Optional reports absence. Neither takes a default value.
package attr

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/agentic-research/stacgen/api"
)

// ErrMissingKey is returned by Required for an absent key.
var ErrMissingKey = errors.New("missing attribute")

// KeyError names the key behind an access failure.
type KeyError struct {
	Key string
	Err error
}

func (e *KeyError) Error() string { return fmt.Sprintf("attribute %s: %v", e.Key, e.Err) }

func (e *KeyError) Unwrap() error { return e.Err }

// Map is an immutable attribute map. The zero value is an empty map.
type Map struct {
	values map[string]any
}

// Builder accumulates values. Later sets of the same key overwrite earlier ones.
type Builder struct {
	values map[string]any
	frozen bool
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{values: make(map[string]any)}
}

// Set stores v under key.
func (b *Builder) Set(key string, v any) {
	if b.frozen {
		panic("attr: Set after Map")
	}
	b.values[key] = v
}

// Has reports whether key has been set.
func (b *Builder) Has(key string) bool {
	_, ok := b.values[key]
	return ok
}

// Get returns the value under key so far.
func (b *Builder) Get(key string) (any, bool) {
	v, ok := b.values[key]
	return v, ok
}

// Map freezes the builder and returns the resulting map.
func (b *Builder) Map() Map {
	b.frozen = true
	return Map{values: b.values}
}

// FromValues copies values into a Map.
func FromValues(values map[string]any) Map {
	b := NewBuilder()
	for k, v := range values {
		b.Set(k, v)
	}
	return b.Map()
}

// Len returns the number of keys.
func (m Map) Len() int { return len(m.values) }

// Has reports whether key is present.
func (m Map) Has(key string) bool {
	_, ok := m.values[key]
	return ok
}

// Get returns the raw value under key.
func (m Map) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Keys returns all keys, sorted.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Flat returns the sorted keys that are not asset-scoped.
func (m Map) Flat() []string {
	var out []string
	for _, k := range m.Keys() {
		if !strings.HasPrefix(k, api.AssetPrefix) {
			out = append(out, k)
		}
	}
	return out
}

// AssetNames returns the names of all assets declared with an asset:<NAME>
// key, sorted.
func (m Map) AssetNames() []string {
	var out []string
	for _, k := range m.Keys() {
		if name, suffix, ok := api.AssetKey(k); ok && suffix == "" {
			out = append(out, name)
		}
	}
	return out
}

// Asset returns the sub-keys of asset name with the asset:<NAME>: prefix
// stripped. The asset's own value is not included.
func (m Map) Asset(name string) map[string]any {
	out := make(map[string]any)
	prefix := api.AssetPrefix + name + ":"
	for k, v := range m.values {
		if suffix, ok := strings.CutPrefix(k, prefix); ok {
			out[suffix] = v
		}
	}
	return out
}

// MarshalJSON encodes the map with sorted keys, so equal maps encode to
// identical bytes.
func (m Map) MarshalJSON() ([]byte, error) {
	if m.values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m.values)
}

// Required returns the value under key as T. An absent key wraps
// ErrMissingKey; a value of another type is an error as well.
func Required[T any](m Map, key string) (T, error) {
	var zero T
	v, ok := m.values[key]
	if !ok {
		return zero, &KeyError{Key: key, Err: ErrMissingKey}
	}
	t, ok := v.(T)
	if !ok {
		return zero, &KeyError{Key: key, Err: fmt.Errorf("holds %T, want %T", v, zero)}
	}
	return t, nil
}

// Optional returns the value under key as T with ok=false when absent.
// A present value of another type is an error, never a silent absence.
func Optional[T any](m Map, key string) (value T, ok bool, err error) {
	v, present := m.values[key]
	if !present {
		return value, false, nil
	}
	t, isT := v.(T)
	if !isT {
		return value, false, &KeyError{Key: key, Err: fmt.Errorf("holds %T, want %T", v, value)}
	}
	return t, true, nil
}
