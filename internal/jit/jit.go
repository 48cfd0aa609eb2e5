// Package jit defines the invalidation-hook contract MTS calls into
// whenever a write lands on a page tagged EXEC, or a CACHE/ICBI memop
// targets one. Code generation itself is out of scope; this package
// only owns enough state to make that contract testable in isolation.
package jit

// CodeCacheHook is implemented by the (out-of-scope) JIT engine. MTS
// never inspects compiled code; it only reports which physical page
// changed.
type CodeCacheHook interface {
	// InvalidatePage evicts any compiled block covering physPage.
	InvalidatePage(physPage uint64)
	// HasBlock reports whether a compiled block exists for physPage, so
	// MTS can decide whether to tag a freshly filled cache entry EXEC.
	HasBlock(physPage uint64) bool
}

// StubCache is a minimal CodeCacheHook: it tracks which physical pages
// have a "block" (for EXEC tagging) and counts invalidations, enough to
// drive the JIT-coherence test named in the testable properties without
// implementing an actual code generator.
type StubCache struct {
	blocks      map[uint64]bool
	invalidated []uint64
}

// NewStubCache returns an empty cache.
func NewStubCache() *StubCache {
	return &StubCache{blocks: make(map[uint64]bool)}
}

// Compile marks physPage as holding a compiled block.
func (c *StubCache) Compile(physPage uint64) {
	c.blocks[physPage] = true
}

func (c *StubCache) HasBlock(physPage uint64) bool {
	return c.blocks[physPage]
}

func (c *StubCache) InvalidatePage(physPage uint64) {
	if c.blocks[physPage] {
		delete(c.blocks, physPage)
		c.invalidated = append(c.invalidated, physPage)
	}
}

// Invalidated returns every page evicted so far, in eviction order.
func (c *StubCache) Invalidated() []uint64 {
	return c.invalidated
}
