package mips64

// Architectural zone classification for 64-bit MIPS virtual addresses,
// applied ahead of any TLB walk. ckseg0/ckseg1 are the sign-extended
// 64-bit views of the familiar 32-bit KSEG0/KSEG1 windows: 512 MiB each,
// direct-mapped onto the low 512 MiB of physical space, differing only
// in cacheability (irrelevant to address resolution itself). xkphys is
// the 64-bit-only direct-mapped window covering all of physical memory,
// selected by vaddr's top 2 bits (binary 10) plus a 3-bit cache-coherency attribute
// that this translator does not otherwise model. Addresses outside all
// of these (xkuseg/xksseg/xkseg, cksseg, ckseg3) remain TLB-mapped.
const (
	ckseg0Base uint64 = 0xFFFFFFFF80000000
	ckseg1Base uint64 = 0xFFFFFFFFA0000000
	ksegSize   uint64 = 0x20000000 // 512 MiB, matches 32-bit KSEG0/KSEG1

	xkphysPhysMask uint64 = 0x0000000FFFFFFFFF // low 36 bits: physical offset
)

// classifyDirectMapped reports the physical address a direct-mapped
// (non-TLB) virtual address resolves to, and whether vaddr falls in
// such a window at all.
func classifyDirectMapped(vaddr uint64) (paddr uint64, ok bool) {
	zone := vaddr >> 40

	if zone == 0xffffff {
		switch (vaddr >> 29) & 0x7FF {
		case 0x7fc: // ckseg0: cached
			if vaddr >= ckseg0Base && vaddr < ckseg0Base+ksegSize {
				return vaddr - ckseg0Base, true
			}
		case 0x7fd: // ckseg1: uncached
			if vaddr >= ckseg1Base && vaddr < ckseg1Base+ksegSize {
				return vaddr - ckseg1Base, true
			}
		}
		return 0, false
	}

	switch zone {
	case 0x800000, 0x880000, 0x900000, 0x980000, 0xa00000, 0xa80000, 0xb00000, 0xb80000:
		return vaddr & xkphysPhysMask, true
	}

	return 0, false
}
