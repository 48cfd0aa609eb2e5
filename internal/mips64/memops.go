package mips64

import (
	"routervm/internal/jit"
	"routervm/internal/mts"
	"routervm/internal/utils"
	"routervm/internal/vm"
)

// CPU is the typed memory-operation surface a MIPS64 dispatch loop
// issues against: the hash MTS cache plus the sign/zero-extension and
// byte-lane rules each opcode mnemonic carries, grounded on spec.md
// §4.4's "for loads apply the op's sign/zero-extension rule".
type CPU struct {
	cache   *mts.Cache
	trans   *Translator
	llAddr  uint64
	llValid bool
}

// NewCPU builds a MIPS64 memory-op dispatcher over v, sharing cop0's
// TLB with trans and caching through hook's JIT invalidation contract.
func NewCPU(v *vm.VM, cop0 *COP0, hook jit.CodeCacheHook, cacheSize int) *CPU {
	trans := NewTranslator(cop0)
	return &CPU{cache: mts.NewCache(v, trans, hook, cacheSize), trans: trans}
}

// SetASID propagates an address-space change to the TLB walk and drops
// every cached translation, since ASID-tagged entries are no longer
// valid lookups under the new context.
func (c *CPU) SetASID(asid uint8) {
	c.trans.SetASID(asid)
	c.cache.InvalidateAll()
}

// InvalidateTLBIndex services a TLBWI/TLBWR that overwrote an
// architectural entry already cached by the MTS.
func (c *CPU) InvalidateTLBIndex(idx int) { c.cache.InvalidateTLBIndex(idx) }

func (c *CPU) load(ctx *vm.AccessContext, vaddr uint64, size vm.Size) (uint64, *vm.Fault) {
	return c.cache.Load(ctx, vaddr, size, mts.Unified)
}

func (c *CPU) store(ctx *vm.AccessContext, vaddr uint64, size vm.Size, val uint64) *vm.Fault {
	return c.cache.Store(ctx, vaddr, size, val, mts.Unified)
}

// LB/LBU load a signed/unsigned byte.
func (c *CPU) LB(ctx *vm.AccessContext, vaddr uint64) (uint64, *vm.Fault) {
	v, f := c.load(ctx, vaddr, vm.Size1)
	return utils.SignExtend(v, 8), f
}
func (c *CPU) LBU(ctx *vm.AccessContext, vaddr uint64) (uint64, *vm.Fault) {
	return c.load(ctx, vaddr, vm.Size1)
}

// LH/LHU load a signed/unsigned halfword. LH widens the 16-bit value
// straight into the 64-bit GPR width via the shared sign-extension
// helper, rather than round-tripping through a 16-bit Go type.
func (c *CPU) LH(ctx *vm.AccessContext, vaddr uint64) (uint64, *vm.Fault) {
	v, f := c.load(ctx, vaddr, vm.Size2)
	return utils.SignExtend(v, 16), f
}
func (c *CPU) LHU(ctx *vm.AccessContext, vaddr uint64) (uint64, *vm.Fault) {
	return c.load(ctx, vaddr, vm.Size2)
}

// LW/LWU load a signed/unsigned word. Per MIPS64, LW always sign-extends
// the 32-bit word into the full 64-bit GPR, independent of addressing mode.
func (c *CPU) LW(ctx *vm.AccessContext, vaddr uint64) (uint64, *vm.Fault) {
	v, f := c.load(ctx, vaddr, vm.Size4)
	return utils.SignExtend(v, 32), f
}
func (c *CPU) LWU(ctx *vm.AccessContext, vaddr uint64) (uint64, *vm.Fault) {
	return c.load(ctx, vaddr, vm.Size4)
}

// LD loads a doubleword.
func (c *CPU) LD(ctx *vm.AccessContext, vaddr uint64) (uint64, *vm.Fault) {
	return c.load(ctx, vaddr, vm.Size8)
}

// SB/SH/SW/SD store the low 8/16/32/64 bits of val.
func (c *CPU) SB(ctx *vm.AccessContext, vaddr uint64, val uint64) *vm.Fault {
	return c.store(ctx, vaddr, vm.Size1, val)
}
func (c *CPU) SH(ctx *vm.AccessContext, vaddr uint64, val uint64) *vm.Fault {
	return c.store(ctx, vaddr, vm.Size2, val)
}
func (c *CPU) SW(ctx *vm.AccessContext, vaddr uint64, val uint64) *vm.Fault {
	return c.store(ctx, vaddr, vm.Size4, val)
}
func (c *CPU) SD(ctx *vm.AccessContext, vaddr uint64, val uint64) *vm.Fault {
	return c.store(ctx, vaddr, vm.Size8, val)
}

// LWL/LWR merge an unaligned word load into reg's existing value,
// fetching only the aligned word containing vaddr and masking/shifting
// the bytes LWL/LWR are each responsible for (big-endian byte lanes).
func (c *CPU) LWL(ctx *vm.AccessContext, vaddr uint64, reg uint32) (uint32, *vm.Fault) {
	aligned := vaddr &^ 3
	word, f := c.load(ctx, aligned, vm.Size4)
	if f != nil {
		return 0, f
	}
	shift := uint(vaddr&3) * 8
	mask := uint32(1)<<shift - 1
	return (uint32(word) << shift) | (reg & mask), nil
}

func (c *CPU) LWR(ctx *vm.AccessContext, vaddr uint64, reg uint32) (uint32, *vm.Fault) {
	aligned := vaddr &^ 3
	word, f := c.load(ctx, aligned, vm.Size4)
	if f != nil {
		return 0, f
	}
	shift := uint(3-(vaddr&3)) * 8
	mask := uint32(0xFFFFFFFF) << (32 - shift)
	if shift == 0 {
		mask = 0
	}
	return (uint32(word) >> shift) | (reg & mask), nil
}

// LDL/LDR are LWL/LWR's doubleword counterparts.
func (c *CPU) LDL(ctx *vm.AccessContext, vaddr uint64, reg uint64) (uint64, *vm.Fault) {
	aligned := vaddr &^ 7
	dw, f := c.load(ctx, aligned, vm.Size8)
	if f != nil {
		return 0, f
	}
	shift := uint(vaddr&7) * 8
	mask := uint64(1)<<shift - 1
	return (dw << shift) | (reg & mask), nil
}

func (c *CPU) LDR(ctx *vm.AccessContext, vaddr uint64, reg uint64) (uint64, *vm.Fault) {
	aligned := vaddr &^ 7
	dw, f := c.load(ctx, aligned, vm.Size8)
	if f != nil {
		return 0, f
	}
	shift := uint(7-(vaddr&7)) * 8
	var mask uint64
	if shift != 0 {
		mask = uint64(0xFFFFFFFFFFFFFFFF) << (64 - shift)
	}
	return (dw >> shift) | (reg & mask), nil
}

// LL loads a word and arms the link bit for a matching SC.
func (c *CPU) LL(ctx *vm.AccessContext, vaddr uint64) (uint64, *vm.Fault) {
	v, f := c.load(ctx, vaddr, vm.Size4)
	if f == nil {
		c.llAddr, c.llValid = vaddr, true
	}
	return v, f
}

// SC stores conditionally on the link from the last LL to the same
// address still being armed; it reports whether the store committed.
func (c *CPU) SC(ctx *vm.AccessContext, vaddr uint64, val uint64) (bool, *vm.Fault) {
	if !c.llValid || c.llAddr != vaddr {
		return false, nil
	}
	c.llValid = false
	if f := c.store(ctx, vaddr, vm.Size4, val); f != nil {
		return false, f
	}
	return true, nil
}

// LDC1/SDC1 move a doubleword floating-point register's raw bits
// to/from memory; floating-point execution itself is out of scope, but
// the memory side of the instruction is indistinguishable from LD/SD.
func (c *CPU) LDC1(ctx *vm.AccessContext, vaddr uint64) (uint64, *vm.Fault) {
	return c.load(ctx, vaddr, vm.Size8)
}
func (c *CPU) SDC1(ctx *vm.AccessContext, vaddr uint64, val uint64) *vm.Fault {
	return c.store(ctx, vaddr, vm.Size8, val)
}

// CACHE services the CACHE instruction: no data movement, just eviction
// of any JIT block covering vaddr's physical page.
func (c *CPU) CACHE(vaddr uint64) *vm.Fault {
	return c.cache.InvalidateLine(vaddr, mts.Unified)
}
