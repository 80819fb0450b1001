package record

import (
	"reflect"
	"sync"
)

// TypeCache is the process-wide descriptor cache (spec §3
// TableMappingCache): populated lazily, first writer wins on a race,
// entries never invalidated except by an explicit Clear (test only).
// Callers needing isolation (tests) construct their own instance per
// Design Notes §9 rather than relying on the package-level Default.
type TypeCache struct {
	entries sync.Map // reflect.Type -> *Descriptor
}

// NewTypeCache returns a fresh, empty cache.
func NewTypeCache() *TypeCache {
	return &TypeCache{}
}

// Default is the process-wide instance most callers use.
var Default = NewTypeCache()

// Get derives (or returns the cached) Descriptor for t, unwrapping
// pointers to the underlying struct type.
func (c *TypeCache) Get(t reflect.Type) (*Descriptor, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if v, ok := c.entries.Load(t); ok {
		return v.(*Descriptor), nil
	}
	d, err := Describe(t)
	if err != nil {
		return nil, err
	}
	actual, _ := c.entries.LoadOrStore(t, d)
	return actual.(*Descriptor), nil
}

// Register installs an explicitly-built Descriptor (from Builder.Build),
// overriding whatever tag-driven derivation would otherwise produce. Used
// for types needing a custom TableMapper per spec's
// `TableMapper(customMapperType)` attribute.
func (c *TypeCache) Register(t reflect.Type, d *Descriptor) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	c.entries.Store(t, d)
}

// Clear empties the cache. Test only (spec §4.2).
func (c *TypeCache) Clear() {
	c.entries.Range(func(k, _ any) bool {
		c.entries.Delete(k)
		return true
	})
}
