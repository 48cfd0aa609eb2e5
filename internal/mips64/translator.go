package mips64

import (
	"routervm/internal/mts"
	"routervm/internal/vm"
)

// Translator is the 64-bit MIPS architectural MMU glue: a plain TLB
// walk with no caching of its own, consulted by internal/mts.Cache on
// every miss. It implements mts.Resolver directly, unlike mips32's
// radix table, because the hash MTS is the only variant reachable for
// this architecture (see the historical-radix Open Question resolution
// recorded in DESIGN.md).
type Translator struct {
	cop0 *COP0
	asid uint8
}

// NewTranslator builds the architectural resolver over cop0.
func NewTranslator(cop0 *COP0) *Translator {
	return &Translator{cop0: cop0}
}

// SetASID changes the current address space identifier.
func (t *Translator) SetASID(asid uint8) { t.asid = asid }

// Translate implements mts.Resolver. Direct-mapped zones (ckseg0,
// ckseg1, xkphys) are classified and resolved before any TLB walk is
// attempted, since IOS and the reset vector itself run out of these
// windows rather than through mapped, TLB-backed segments.
func (t *Translator) Translate(vaddr uint64, write bool, cacheID mts.CacheID) (uint64, int, *vm.Fault) {
	if paddr, ok := classifyDirectMapped(vaddr); ok {
		return paddr, -1, nil
	}

	e, odd, hit := t.cop0.lookupTLB(vaddr, t.asid)
	if !hit {
		t.cop0.RaiseException(excTLBL, vaddr)
		return 0, 0, &vm.Fault{Kind: vm.FaultTLBMiss, Addr: vaddr, IsWrite: write}
	}

	valid, dirty, pfn := e.V0, e.D0, e.PFN0
	if odd {
		valid, dirty, pfn = e.V1, e.D1, e.PFN1
	}
	if !valid {
		t.cop0.RaiseException(excTLBL, vaddr)
		return 0, 0, &vm.Fault{Kind: vm.FaultTLBMiss, Addr: vaddr, IsWrite: write}
	}
	if write && !dirty {
		t.cop0.RaiseException(excMod, vaddr)
		return 0, 0, &vm.Fault{Kind: vm.FaultTLBMiss, Addr: vaddr, IsWrite: write}
	}

	paddr := (pfn << vm.PageShift) | (vaddr & uint64(vm.PageMask))
	idx := 0
	for i := range t.cop0.tlb {
		if &t.cop0.tlb[i] == e {
			idx = i
			break
		}
	}
	return paddr, idx, nil
}
