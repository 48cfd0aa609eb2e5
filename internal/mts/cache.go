// Package mts implements the hash-variant Memory Translation System: a
// direct-mapped software TLB cache in front of an architecture's own
// TLB/BAT/segment lookup, used by 64-bit MIPS and 32-bit PowerPC
// guests. It is component E (hash) and consumes component F
// (architectural MMU glue) through the Resolver interface.
package mts

import (
	"routervm/internal/jit"
	"routervm/internal/vm"
)

// CacheID distinguishes PPC's split I/D caches from MIPS's unified one;
// MIPS memops always pass Unified.
type CacheID uint8

const (
	Unified CacheID = iota
	ICache
	DCache
)

// EntryFlags mirrors the MTS cache entry's flag bits from §3.
type EntryFlags uint8

const (
	FlagDev EntryFlags = 1 << iota
	FlagCOW
	FlagExec
)

// Resolver is the architectural MMU glue (component F) that the MTS
// slow path consults on a cache miss: TLB lookup for MIPS, BAT/segment
// lookup for PPC. tlbIndex identifies the architectural entry that
// produced the translation, for the MTS reverse map; implementations
// with no meaningful index (e.g. an unconditionally-direct-mapped
// region) may return a constant.
type Resolver interface {
	Translate(vaddr uint64, write bool, cacheID CacheID) (paddr uint64, tlbIndex int, fault *vm.Fault)
}

// entry is one slot of the direct-mapped cache.
type entry struct {
	valid     bool
	vpage     uint64
	ppage     uint64
	isDevice  bool
	host      []byte // page start, when !isDevice
	deviceID  int
	devOffset uint32 // offset of the page start within the device
	flags     EntryFlags
	tlbIndex  int
}

// Cache is one guest CPU's hash MTS: Size must be a power of two.
type Cache struct {
	vm       *vm.VM
	resolver Resolver
	jit      jit.CodeCacheHook

	mask    uint64
	entries []entry

	// reverseMap indexes from architectural TLB entry index to the
	// cache slots it produced, so an architectural invalidation can
	// selectively evict exactly those slots.
	reverseMap map[int][]int
}

// NewCache builds a hash MTS of the given size (rounded down to the
// nearest power of two, minimum 1024).
func NewCache(v *vm.VM, resolver Resolver, hook jit.CodeCacheHook, size int) *Cache {
	if size < 1024 {
		size = 1024
	}
	size = floorPow2(size)

	return &Cache{
		vm:         v,
		resolver:   resolver,
		jit:        hook,
		mask:       uint64(size - 1),
		entries:    make([]entry, size),
		reverseMap: make(map[int][]int),
	}
}

func floorPow2(n int) int {
	p := 1
	for p*2 <= n {
		p *= 2
	}
	return p
}

func (c *Cache) bucket(vpage uint64) uint64 {
	// A simple multiplicative hash; any direct-mapped cache only needs
	// to spread pages across buckets and detect collisions via the tag
	// compare in lookup, which every caller does.
	return ((vpage >> vm.PageShift) * 2654435761) & c.mask
}

// Rebuild is a no-op for the hash variant: it is lazy, so there is
// nothing to eagerly recompute. It exists so callers that walk all MTS
// variants uniformly (CPU reset, ASID change) don't need a type switch.
func (c *Cache) Rebuild() {}

// InvalidateTLBIndex evicts every cache slot linked to tlbIndex and no
// others, implementing selective invalidation.
func (c *Cache) InvalidateTLBIndex(tlbIndex int) {
	for _, slot := range c.reverseMap[tlbIndex] {
		if c.entries[slot].valid && c.entries[slot].tlbIndex == tlbIndex {
			c.entries[slot] = entry{}
		}
	}
	delete(c.reverseMap, tlbIndex)
}

// InvalidateAll drops every cache slot and reverse-map link (ASID
// flush, full TLB rewrite).
func (c *Cache) InvalidateAll() {
	for i := range c.entries {
		c.entries[i] = entry{}
	}
	c.reverseMap = make(map[int][]int)
}

func (c *Cache) lookup(vaddr uint64, write bool, cacheID CacheID) (*entry, *vm.Fault) {
	vpage := vaddr &^ uint64(vm.PageMask)
	slot := c.bucket(vpage)
	e := &c.entries[slot]

	if e.valid && e.vpage == vpage {
		if write && e.flags&FlagCOW != 0 {
			return c.slowLookup(vaddr, write, cacheID, slot)
		}
		return e, nil
	}

	return c.slowLookup(vaddr, write, cacheID, slot)
}

func (c *Cache) slowLookup(vaddr uint64, write bool, cacheID CacheID, slot uint64) (*entry, *vm.Fault) {
	paddr, tlbIndex, fault := c.resolver.Translate(vaddr, write, cacheID)
	if fault != nil {
		return nil, fault
	}

	vpage := vaddr &^ uint64(vm.PageMask)
	ppage := paddr &^ uint64(vm.PageMask)

	dev := c.vm.LookupByPhys(ppage, true)
	if dev == nil {
		// Undefined memory: not cached, handled by the caller (reads
		// zero, writes drop).
		return nil, nil
	}

	e := entry{valid: true, vpage: vpage, ppage: ppage, tlbIndex: tlbIndex}
	op := vm.OpRead
	if write {
		op = vm.OpWrite
	}

	if dev.Flags&vm.FlagSparse != 0 {
		page, cow, err := c.vm.SparseHostPage(dev, ppage, op)
		if err == nil {
			e.host = page
			if cow {
				e.flags |= FlagCOW
			}
		} else {
			e.isDevice = true
			e.deviceID = dev.ID
			e.devOffset = uint32(ppage - dev.PhysAddr)
		}
	} else if dev.Host != nil && dev.Flags&vm.FlagNoMTSMmap == 0 {
		offset := uint32(ppage - dev.PhysAddr)
		end := offset + vm.PageSize
		if end > uint32(len(dev.Host)) {
			end = uint32(len(dev.Host))
		}
		e.host = dev.Host[offset:end]
	} else {
		e.isDevice = true
		e.deviceID = dev.ID
		e.devOffset = uint32(ppage - dev.PhysAddr)
	}

	if c.jit != nil && c.jit.HasBlock(ppage) {
		e.flags |= FlagExec
	}

	c.entries[slot] = e
	c.reverseMap[tlbIndex] = append(c.reverseMap[tlbIndex], int(slot))
	return &c.entries[slot], nil
}

// Load performs a typed read of size bytes at vaddr, returning the
// value zero-extended into a uint64 in host byte order (sign-extension
// is the memop wrapper's job, per architecture).
func (c *Cache) Load(ctx *vm.AccessContext, vaddr uint64, size vm.Size, cacheID CacheID) (uint64, *vm.Fault) {
	e, fault := c.lookup(vaddr, false, cacheID)
	if fault != nil {
		return 0, fault
	}
	if e == nil {
		return 0, nil // undefined memory reads as zero
	}

	pageOff := uint32(vaddr & vm.PageMask)

	if !e.isDevice {
		return c.vm.DecodeGuest(e.host[pageOff:pageOff+uint32(size)], size), nil
	}

	dev := c.vm.LookupByID(e.deviceID)
	if dev == nil || dev.Handler == nil {
		return 0, nil
	}
	var data uint64
	ptr, err := dev.Handler(ctx, dev, e.devOffset+pageOff, size, vm.OpRead, &data)
	if err != nil {
		return 0, &vm.Fault{Kind: vm.FaultBusFault, Addr: vaddr}
	}
	if ptr != nil {
		return c.vm.DecodeGuest(ptr, size), nil
	}
	return data, nil
}

// Store performs a typed write of size bytes at vaddr.
func (c *Cache) Store(ctx *vm.AccessContext, vaddr uint64, size vm.Size, value uint64, cacheID CacheID) *vm.Fault {
	e, fault := c.lookup(vaddr, true, cacheID)
	if fault != nil {
		return fault
	}
	if e == nil {
		return nil // undefined memory: write dropped
	}

	pageOff := uint32(vaddr & vm.PageMask)

	if e.flags&FlagExec != 0 {
		c.invalidateExec(e.ppage)
	}

	if !e.isDevice {
		c.vm.EncodeGuest(value, e.host[pageOff:pageOff+uint32(size)], size)
		return nil
	}

	dev := c.vm.LookupByID(e.deviceID)
	if dev == nil || dev.Handler == nil {
		return nil
	}
	data := value
	ptr, err := dev.Handler(ctx, dev, e.devOffset+pageOff, size, vm.OpWrite, &data)
	if err != nil {
		return &vm.Fault{Kind: vm.FaultBusFault, Addr: vaddr}
	}
	if ptr != nil {
		c.vm.EncodeGuest(value, ptr, size)
	}
	return nil
}

// InvalidateLine services CACHE (MIPS)/ICBI (PPC): it performs no
// memory access but evicts any JIT block covering vaddr's physical
// page, per §4.4.
func (c *Cache) InvalidateLine(vaddr uint64, cacheID CacheID) *vm.Fault {
	e, fault := c.lookup(vaddr, false, cacheID)
	if fault != nil {
		return fault
	}
	if e != nil {
		c.invalidateExec(e.ppage)
	}
	return nil
}

func (c *Cache) invalidateExec(ppage uint64) {
	if c.jit != nil {
		c.jit.InvalidatePage(ppage)
	}
}
