// Package mips64 implements the primary 64-bit MIPS architectural MMU
// glue (component F): the COP0 register file and software TLB, wired
// to the hash-variant MTS (internal/mts) as its Resolver, plus the
// typed memory operations a CPU dispatch loop issues against it.
package mips64

// COP0 is the 64-bit MIPS CP0: the TLB and the subset of architectural
// registers the hash MTS's slow path needs to resolve a virtual
// address and to raise TLBMiss/Mod exceptions. EntryHi/EntryLo/BadVAddr
// and the TLB's VPN2/PFN fields are widened to 64 bits relative to the
// teacher's mips32 COP0, since XTLB entries carry a full 64-bit virtual
// page number rather than a 32-bit one.
type COP0 struct {
	tlb     []TLBEntry
	tlbSize int

	index    uint32
	random   uint32
	entryLo0 uint64
	entryLo1 uint64
	context  uint64
	pageMask uint64
	wired    uint32
	badVAddr uint64
	entryHi  uint64
	status   uint32
	cause    uint32
	epc      uint64
}

// TLBEntry models a two-page (even/odd) 64-bit MIPS TLB entry. C0/C1
// (cache attribute) and Mask are carried for parity with real r4000
// hardware, but the translator below
// only ever installs fixed 4 KiB pages, so Mask is always zero and
// C0/C1 are read back unexamined — no chassis in scope varies page
// size or cache-coherency attribute per TLB entry.
type TLBEntry struct {
	VPN2 uint64
	ASID uint8
	G    bool

	PFN0 uint64
	C0   uint8
	D0   bool
	V0   bool

	PFN1 uint64
	C1   uint8
	D1   bool
	V1   bool

	Mask uint64
}

const (
	excMod  = 1
	excTLBL = 2
	excTLBS = 3
)

const statusEXL uint32 = 1 << 1

// NewCOP0 creates a CP0 with a TLB of the given size.
func NewCOP0(tlbSize int) *COP0 {
	if tlbSize <= 0 {
		tlbSize = 48
	}
	return &COP0{
		tlb:     make([]TLBEntry, tlbSize),
		tlbSize: tlbSize,
		random:  uint32(tlbSize - 1),
	}
}

// SetEntryHi/SetEntryLo0/SetEntryLo1 stage a TLB entry's fields ahead
// of TLBWI/TLBWR, mirroring DMTC0 into those registers in 64-bit mode.
// EntryHi clears bits [12:8] (reserved, between ASID and VPN2) the same
// way the mips32 port clears them, just over a wider register.
func (c *COP0) SetEntryHi(val uint64)  { c.entryHi = val &^ 0x1F00 }
func (c *COP0) SetEntryLo0(val uint64) { c.entryLo0 = val & 0x3FFFFFFFFFF }
func (c *COP0) SetEntryLo1(val uint64) { c.entryLo1 = val & 0x3FFFFFFFFFF }

func (c *COP0) SetIndex(val uint32) {
	idx := val & 0x3F
	if int(idx) >= c.tlbSize {
		idx = uint32(c.tlbSize - 1)
	}
	c.index = idx
}

// TLBWI writes the staged entry into TLB[Index].
func (c *COP0) TLBWI() { c.writeTLBAt(int(c.index & 0x3F)) }

// TLBWR writes the staged entry into TLB[Random] and advances Random.
func (c *COP0) TLBWR() {
	idx := int(c.random)
	if idx < int(c.wired) || idx >= c.tlbSize {
		idx = c.tlbSize - 1
	}
	c.writeTLBAt(idx)
	if c.random == 0 || c.random <= c.wired {
		c.random = uint32(c.tlbSize - 1)
	} else {
		c.random--
	}
}

func (c *COP0) writeTLBAt(idx int) {
	if idx < 0 || idx >= c.tlbSize {
		return
	}
	e := &c.tlb[idx]
	e.VPN2 = c.entryHi &^ 0x1FFF
	e.ASID = uint8(c.entryHi & 0xFF)

	lo0 := c.entryLo0
	e.PFN0 = (lo0 >> 6) & 0xFFFFFFFFF
	e.C0 = uint8((lo0 >> 3) & 0x7)
	e.D0 = lo0&(1<<2) != 0
	e.V0 = lo0&(1<<1) != 0
	g0 := lo0&1 != 0

	lo1 := c.entryLo1
	e.PFN1 = (lo1 >> 6) & 0xFFFFFFFFF
	e.C1 = uint8((lo1 >> 3) & 0x7)
	e.D1 = lo1&(1<<2) != 0
	e.V1 = lo1&(1<<1) != 0
	g1 := lo1&1 != 0

	e.G = g0 && g1
	e.Mask = c.pageMask
}

// RaiseException sets Cause.ExcCode/EPC/EXL and returns the exception
// vector (fixed BEV=1 vector, as in the mips32 port).
func (c *COP0) RaiseException(excCode uint8, pc uint64) uint64 {
	c.cause = (c.cause &^ 0x7C) | uint32(excCode&0x1F)<<2
	c.epc = pc
	c.badVAddr = pc
	c.status |= statusEXL
	return 0xFFFFFFFFBFC00180
}

// lookupTLB scans the TLB for an entry matching vaddr's VPN2 and the
// given ASID (or a global entry). It returns the matched entry, which
// half (even=page 0, odd=page 1) vaddr falls in, and whether it hit.
func (c *COP0) lookupTLB(vaddr uint64, asid uint8) (e *TLBEntry, odd bool, hit bool) {
	vpn2 := vaddr &^ 0x1FFF
	for i := range c.tlb {
		t := &c.tlb[i]
		if t.VPN2 == vpn2 && (t.G || t.ASID == asid) {
			return t, vaddr&0x1000 != 0, true
		}
	}
	return nil, false, false
}
