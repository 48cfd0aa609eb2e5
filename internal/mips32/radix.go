package mips32

import (
	"routervm/internal/jit"
	"routervm/internal/mts"
	"routervm/internal/vm"
)

// radixEntry is one slot of the two-level page table.
type radixEntry struct {
	valid     bool
	ppage     uint64
	isDevice  bool
	host      []byte
	deviceID  int
	devOffset uint32
	exec      bool
	cow       bool
}

type l2Table struct {
	entries [1024]radixEntry
}

// KSEG0 (cached) and KSEG1 (uncached) are the 512 MiB windows IOS and
// the reset vector run out of directly, with no TLB entry involved:
// both alias the same low 512 MiB of physical space, differing only in
// cacheability, which this translator does not model further. KSEG2
// marks where TLB-mapped kernel space (KSSEG/KSEG3) resumes.
const (
	kseg0Base    uint32 = 0x80000000
	kseg2Base    uint32 = 0xC0000000
	ksegPhysMask uint32 = 0x1FFFFFFF
)

// classifyDirectMapped reports the physical address a KSEG0/KSEG1
// virtual address resolves to, and whether va falls in either window.
func classifyDirectMapped(va uint32) (paddr uint32, ok bool) {
	if va >= kseg0Base && va < kseg2Base {
		return va & ksegPhysMask, true
	}
	return 0, false
}

// Translator is the 32-bit MIPS MTS: a two-level radix table (L1 10
// bits, L2 10 bits, 4 KiB pages) consulted on every access. Each page's
// entry is filled on the first access that misses it; an ASID change or
// full TLB flush empties the whole table rather than invalidating
// entries one by one through a reverse map, and the current TLB contents
// are not pre-installed afterwards. It also
// implements mts.Resolver, so the same TLB walk can drive a hash MTS if
// a 64-bit mode shares this COP0.
type Translator struct {
	vm   *vm.VM
	cop0 *COP0
	jit  jit.CodeCacheHook
	asid uint8
	l1   [1024]*l2Table
}

// NewTranslator builds a radix MTS over v, backed by cop0's TLB.
func NewTranslator(v *vm.VM, cop0 *COP0, hook jit.CodeCacheHook) *Translator {
	return &Translator{vm: v, cop0: cop0, jit: hook}
}

// SetASID changes the current ASID and drops every entry, global ones
// included, since non-global entries are no longer addressable under
// the new context.
func (t *Translator) SetASID(asid uint8) {
	t.asid = asid
	t.Rebuild()
}

// Rebuild drops the entire table. It is idempotent: calling it twice in
// a row, or after a sequence of reads that only populated entries
// already implied by the current TLB contents, leaves the table in the
// same observable state (empty, repopulated lazily on next access).
// KSEG0/KSEG1 need no special handling here: Translate reclassifies
// them as direct-mapped on every call regardless of table or TLB
// contents, so the next access through either window re-populates its
// entry the same way a TLB-mapped address would.
func (t *Translator) Rebuild() {
	for i := range t.l1 {
		t.l1[i] = nil
	}
}

// Unmap clears the single L1/L2 entry covering vaddr, used when a
// TLBWI/TLBWR overwrites the architectural entry that produced it.
func (t *Translator) Unmap(vaddr uint32) {
	l1i, l2i := splitVaddr(vaddr)
	if l2 := t.l1[l1i]; l2 != nil {
		l2.entries[l2i] = radixEntry{}
	}
}

func splitVaddr(vaddr uint32) (l1i, l2i uint32) {
	pn := vaddr >> vm.PageShift
	return (pn >> 10) & 0x3FF, pn & 0x3FF
}

// Translate implements mts.Resolver: direct-mapped KSEG0/KSEG1
// addresses are classified and resolved before any TLB walk, then a
// plain TLB walk handles everything else (useg, KSSEG, KSEG3), reused
// by Map below and available to a hash MTS that wants to share this
// COP0.
func (t *Translator) Translate(vaddr uint64, write bool, cacheID mts.CacheID) (uint64, int, *vm.Fault) {
	va := uint32(vaddr)

	if paddr, ok := classifyDirectMapped(va); ok {
		return uint64(paddr), -1, nil
	}

	e, odd, hit := t.cop0.lookupTLB(va, t.asid)
	if !hit {
		t.cop0.RaiseException(excTLBL, va)
		return 0, 0, &vm.Fault{Kind: vm.FaultTLBMiss, Addr: vaddr, IsWrite: write}
	}

	valid, dirty, pfn := e.V0, e.D0, e.PFN0
	if odd {
		valid, dirty, pfn = e.V1, e.D1, e.PFN1
	}
	if !valid {
		t.cop0.RaiseException(excTLBL, va)
		return 0, 0, &vm.Fault{Kind: vm.FaultTLBMiss, Addr: vaddr, IsWrite: write}
	}
	if write && !dirty {
		t.cop0.RaiseException(excMod, va)
		return 0, 0, &vm.Fault{Kind: vm.FaultTLBMiss, Addr: vaddr, IsWrite: write}
	}

	paddr := (uint64(pfn) << vm.PageShift) | (vaddr & uint64(vm.PageMask))
	return paddr, int(e.VPN2), nil
}

func (t *Translator) lookup(vaddr uint32) *radixEntry {
	l1i, l2i := splitVaddr(vaddr)
	l2 := t.l1[l1i]
	if l2 == nil {
		return nil
	}
	e := &l2.entries[l2i]
	if !e.valid {
		return nil
	}
	return e
}

// Map resolves vaddr through the TLB and installs the L1/L2 entry,
// allocating the L2 table on first touch of its containing L1 slot.
func (t *Translator) Map(vaddr uint32, write bool) (*radixEntry, *vm.Fault) {
	paddr, _, fault := t.Translate(uint64(vaddr), write, mts.Unified)
	if fault != nil {
		return nil, fault
	}

	ppage := paddr &^ uint64(vm.PageMask)
	dev := t.vm.LookupByPhys(ppage, true)
	if dev == nil {
		return nil, nil // undefined memory: caller reads zero / drops write
	}

	re := radixEntry{valid: true, ppage: ppage}
	if dev.Flags&vm.FlagSparse != 0 {
		op := vm.OpRead
		if write {
			op = vm.OpWrite
		}
		page, cow, err := t.vm.SparseHostPage(dev, ppage, op)
		if err == nil {
			re.host = page
			re.cow = cow
		}
	} else if dev.Host != nil && dev.Flags&vm.FlagNoMTSMmap == 0 {
		offset := uint32(ppage - dev.PhysAddr)
		end := offset + vm.PageSize
		if end > uint32(len(dev.Host)) {
			end = uint32(len(dev.Host))
		}
		re.host = dev.Host[offset:end]
	} else {
		re.isDevice = true
		re.deviceID = dev.ID
		re.devOffset = uint32(ppage - dev.PhysAddr)
	}

	if t.jit != nil && t.jit.HasBlock(ppage) {
		re.exec = true
	}

	l1i, l2i := splitVaddr(vaddr)
	if t.l1[l1i] == nil {
		t.l1[l1i] = &l2Table{}
	}
	t.l1[l1i].entries[l2i] = re
	return &t.l1[l1i].entries[l2i], nil
}

// Load performs a typed read of size bytes at vaddr.
func (t *Translator) Load(ctx *vm.AccessContext, vaddr uint32, size vm.Size) (uint64, *vm.Fault) {
	e := t.lookup(vaddr)
	if e == nil {
		var fault *vm.Fault
		e, fault = t.Map(vaddr, false)
		if fault != nil {
			return 0, fault
		}
		if e == nil {
			return 0, nil
		}
	}

	pageOff := vaddr & vm.PageMask
	if !e.isDevice {
		return t.vm.DecodeGuest(e.host[pageOff : pageOff+uint32(size)], size), nil
	}

	dev := t.vm.LookupByID(e.deviceID)
	if dev == nil || dev.Handler == nil {
		return 0, nil
	}
	var data uint64
	ptr, err := dev.Handler(ctx, dev, e.devOffset+pageOff, size, vm.OpRead, &data)
	if err != nil {
		return 0, &vm.Fault{Kind: vm.FaultBusFault, Addr: uint64(vaddr)}
	}
	if ptr != nil {
		return t.vm.DecodeGuest(ptr, size), nil
	}
	return data, nil
}

// Store performs a typed write of size bytes at vaddr.
func (t *Translator) Store(ctx *vm.AccessContext, vaddr uint32, size vm.Size, value uint64) *vm.Fault {
	e := t.lookup(vaddr)
	if e == nil || e.cow {
		var fault *vm.Fault
		e, fault = t.Map(vaddr, true)
		if fault != nil {
			return fault
		}
		if e == nil {
			return nil
		}
	}

	if e.exec && t.jit != nil {
		t.jit.InvalidatePage(e.ppage)
	}

	pageOff := vaddr & vm.PageMask
	if !e.isDevice {
		t.vm.EncodeGuest(value, e.host[pageOff : pageOff+uint32(size)], size)
		return nil
	}

	dev := t.vm.LookupByID(e.deviceID)
	if dev == nil || dev.Handler == nil {
		return nil
	}
	data := value
	ptr, err := dev.Handler(ctx, dev, e.devOffset+pageOff, size, vm.OpWrite, &data)
	if err != nil {
		return &vm.Fault{Kind: vm.FaultBusFault, Addr: uint64(vaddr)}
	}
	if ptr != nil {
		t.vm.EncodeGuest(value, ptr, size)
	}
	return nil
}
