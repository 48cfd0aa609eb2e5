// Package mips32 implements the 32-bit MIPS architectural MMU glue: the
// COP0 register file and software TLB, plus the radix-variant MTS
// (component E) that consults it on demand, one page at a time.
package mips32

// COP0 is a simplified but comprehensive MIPS32r1/r2 CP0: the TLB and
// the architectural registers a translator needs to resolve a virtual
// address and to raise TLBMiss/Mod exceptions.
type COP0 struct {
	tlb     []TLBEntry
	tlbSize int

	index    uint32
	random   uint32
	entryLo0 uint32
	entryLo1 uint32
	context  uint32
	pageMask uint32
	wired    uint32
	badVAddr uint32
	entryHi  uint32
	status   uint32
	cause    uint32
	epc      uint32
}

// TLBEntry models a two-page (even/odd) MIPS TLB entry.
type TLBEntry struct {
	VPN2 uint32
	ASID uint8
	G    bool

	PFN0 uint32
	D0   bool
	V0   bool

	PFN1 uint32
	D1   bool
	V1   bool
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
		tlbSize = 16
	}
	return &COP0{
		tlb:     make([]TLBEntry, tlbSize),
		tlbSize: tlbSize,
		random:  uint32(tlbSize - 1),
	}
}

// SetEntryHi/SetEntryLo0/SetEntryLo1 stage a TLB entry's fields ahead of
// TLBWI/TLBWR, mirroring MTC0 into those registers.
func (c *COP0) SetEntryHi(val uint32)  { c.entryHi = val & 0xFFFFE0FF }
func (c *COP0) SetEntryLo0(val uint32) { c.entryLo0 = val & 0x3FFFFFFF }
func (c *COP0) SetEntryLo1(val uint32) { c.entryLo1 = val & 0x3FFFFFFF }
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
	e.VPN2 = c.entryHi & 0xFFFFE000
	e.ASID = uint8(c.entryHi & 0xFF)

	lo0 := c.entryLo0
	e.PFN0 = (lo0 >> 6) & 0xFFFFF
	e.D0 = lo0&(1<<2) != 0
	e.V0 = lo0&(1<<1) != 0
	g0 := lo0&1 != 0

	lo1 := c.entryLo1
	e.PFN1 = (lo1 >> 6) & 0xFFFFF
	e.D1 = lo1&(1<<2) != 0
	e.V1 = lo1&(1<<1) != 0
	g1 := lo1&1 != 0

	e.G = g0 && g1
}

// RaiseException sets Cause.ExcCode/EPC/EXL and returns the (fixed,
// BEV=1) exception vector, trimmed to the three exceptions the
// translator itself raises.
func (c *COP0) RaiseException(excCode uint8, pc uint32) uint32 {
	c.cause = (c.cause &^ 0x7C) | uint32(excCode&0x1F)<<2
	c.epc = pc
	c.badVAddr = pc
	c.status |= statusEXL
	return 0xBFC00180
}

// lookupTLB scans the TLB for an entry matching vaddr's VPN2 and the
// given ASID (or a global entry). It returns the matched entry, which
// half (even=page 0, odd=page 1) vaddr falls in, and whether it hit.
func (c *COP0) lookupTLB(vaddr uint32, asid uint8) (e *TLBEntry, odd bool, hit bool) {
	vpn2 := vaddr & 0xFFFFE000
	for i := range c.tlb {
		t := &c.tlb[i]
		if t.VPN2 == vpn2 && (t.G || t.ASID == asid) {
			return t, vaddr&0x1000 != 0, true
		}
	}
	return nil, false, false
}
