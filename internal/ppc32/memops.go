package ppc32

import (
	"routervm/internal/jit"
	"routervm/internal/mts"
	"routervm/internal/utils"
	"routervm/internal/vm"
)

// CPU is the typed memory-operation surface a PPC32 dispatch loop
// issues against. Only the data-side MTS cache is instantiated: this
// package, like internal/mips64, stops at the MMU-glue/MTS boundary
// and never fetches or decodes an instruction stream, so there is
// nothing for a separate instruction cache to serve — ICBI's only
// observable effect in scope is the JIT-invalidation call it shares
// with every other write path, routed through the same cache.
type CPU struct {
	cache *mts.Cache
}

// NewCPU builds a PPC32 memory-op dispatcher over v, resolving misses
// through mmu and invalidating JIT blocks through hook.
func NewCPU(v *vm.VM, mmu *MMU, hook jit.CodeCacheHook, cacheSize int) *CPU {
	return &CPU{cache: mts.NewCache(v, NewResolver(mmu), hook, cacheSize)}
}

func (c *CPU) load(ctx *vm.AccessContext, ea uint32, size vm.Size) (uint64, *vm.Fault) {
	return c.cache.Load(ctx, uint64(ea), size, mts.DCache)
}

func (c *CPU) store(ctx *vm.AccessContext, ea uint32, size vm.Size, val uint64) *vm.Fault {
	return c.cache.Store(ctx, uint64(ea), size, val, mts.DCache)
}

// LBZ/LHZ/LWZ load a zero-extended byte/halfword/word.
func (c *CPU) LBZ(ctx *vm.AccessContext, ea uint32) (uint64, *vm.Fault) { return c.load(ctx, ea, vm.Size1) }
func (c *CPU) LHZ(ctx *vm.AccessContext, ea uint32) (uint64, *vm.Fault) { return c.load(ctx, ea, vm.Size2) }
func (c *CPU) LWZ(ctx *vm.AccessContext, ea uint32) (uint64, *vm.Fault) { return c.load(ctx, ea, vm.Size4) }

// LHA loads a halfword, sign-extended ("algebraic") into the register.
func (c *CPU) LHA(ctx *vm.AccessContext, ea uint32) (uint64, *vm.Fault) {
	v, f := c.load(ctx, ea, vm.Size2)
	return utils.SignExtend(v, 16), f
}

// LWBR loads a word with its bytes reversed, for interoperating with
// little-endian data on a big-endian PPC bus.
func (c *CPU) LWBR(ctx *vm.AccessContext, ea uint32) (uint32, *vm.Fault) {
	v, f := c.load(ctx, ea, vm.Size4)
	if f != nil {
		return 0, f
	}
	w := uint32(v)
	return (w>>24)&0xFF | (w>>8)&0xFF00 | (w<<8)&0xFF0000 | (w<<24)&0xFF000000, nil
}

// STB/STH/STW store the low 8/16/32 bits of val.
func (c *CPU) STB(ctx *vm.AccessContext, ea uint32, val uint64) *vm.Fault { return c.store(ctx, ea, vm.Size1, val) }
func (c *CPU) STH(ctx *vm.AccessContext, ea uint32, val uint64) *vm.Fault { return c.store(ctx, ea, vm.Size2, val) }
func (c *CPU) STW(ctx *vm.AccessContext, ea uint32, val uint64) *vm.Fault { return c.store(ctx, ea, vm.Size4, val) }

// STWBR stores a word with its bytes reversed, LWBR's counterpart.
func (c *CPU) STWBR(ctx *vm.AccessContext, ea uint32, val uint32) *vm.Fault {
	r := (val>>24)&0xFF | (val>>8)&0xFF00 | (val<<8)&0xFF0000 | (val<<24)&0xFF000000
	return c.store(ctx, ea, vm.Size4, uint64(r))
}

// LSW loads n bytes starting at ea into successive big-endian-packed
// 4-byte register slots, the string-move form used by firmware for
// unaligned/variable-length block copies.
func (c *CPU) LSW(ctx *vm.AccessContext, ea uint32, n int) ([]uint32, *vm.Fault) {
	regs := make([]uint32, (n+3)/4)
	for i := 0; i < n; i++ {
		b, f := c.load(ctx, ea+uint32(i), vm.Size1)
		if f != nil {
			return nil, f
		}
		regs[i/4] |= uint32(b) << uint((3-(i%4))*8)
	}
	return regs, nil
}

// STSW is LSW's inverse: store the first n bytes of regs to ea.
func (c *CPU) STSW(ctx *vm.AccessContext, ea uint32, regs []uint32, n int) *vm.Fault {
	for i := 0; i < n; i++ {
		b := (regs[i/4] >> uint((3-(i%4))*8)) & 0xFF
		if f := c.store(ctx, ea+uint32(i), vm.Size1, uint64(b)); f != nil {
			return f
		}
	}
	return nil
}

// LFD/STFD move a floating-point register's raw 64-bit pattern
// to/from memory; the memory side is indistinguishable from LD/SD.
func (c *CPU) LFD(ctx *vm.AccessContext, ea uint32) (uint64, *vm.Fault) { return c.load(ctx, ea, vm.Size8) }
func (c *CPU) STFD(ctx *vm.AccessContext, ea uint32, val uint64) *vm.Fault {
	return c.store(ctx, ea, vm.Size8, val)
}

// ICBI services the Instruction Cache Block Invalidate instruction: no
// data movement, just eviction of any JIT block covering ea's page.
func (c *CPU) ICBI(ea uint32) *vm.Fault {
	return c.cache.InvalidateLine(uint64(ea), mts.DCache)
}
