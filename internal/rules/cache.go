package rules

import (
	"path/filepath"
	"sync"
)

// Cache holds loaded rule sets keyed by absolute path. It is safe for
// concurrent use. Two callers that miss on the same path both load it and
// the last store wins; loads are deterministic, so both results are equal.
type Cache struct {
	m sync.Map // abs path -> *RuleSet
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Get returns the rule set at path, loading it on first use.
func (c *Cache) Get(path string) (*RuleSet, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if v, ok := c.m.Load(abs); ok {
		return v.(*RuleSet), nil
	}
	rs, err := Load(abs)
	if err != nil {
		return nil, err
	}
	c.m.Store(abs, rs)
	return rs, nil
}

// Len returns the number of cached rule sets.
func (c *Cache) Len() int {
	n := 0
	c.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
