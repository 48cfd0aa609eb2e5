package vm

import (
	"encoding/binary"
)

// vmtoh32/vmtoh16 convert a guest-order word read from host memory into
// host byte order; htovm32/htovm16 do the reverse. Every word-sized
// physical memory accessor runs its result through these so that
// callers never have to think about the guest's endianness directly -
// only these four functions do.
func (v *VM) vmtoh32(b []byte) uint32 {
	if v.ByteOrder == binary.BigEndian {
		return binary.BigEndian.Uint32(b)
	}
	return binary.LittleEndian.Uint32(b)
}

func (v *VM) htovm32(val uint32, b []byte) {
	v.ByteOrder.PutUint32(b, val)
}

func (v *VM) vmtoh16(b []byte) uint16 {
	if v.ByteOrder == binary.BigEndian {
		return binary.BigEndian.Uint16(b)
	}
	return binary.LittleEndian.Uint16(b)
}

func (v *VM) htovm16(val uint16, b []byte) {
	v.ByteOrder.PutUint16(b, val)
}

// DecodeGuest reads a Size-wide guest-order value out of b and returns
// it zero-extended into a uint64, honoring v.ByteOrder. It is the
// exported, any-width counterpart of vmtoh16/vmtoh32 used by MTS
// translators outside this package.
func (v *VM) DecodeGuest(b []byte, size Size) uint64 {
	switch size {
	case Size1:
		return uint64(b[0])
	case Size2:
		return uint64(v.vmtoh16(b))
	case Size4:
		return uint64(v.vmtoh32(b))
	case Size8:
		return v.ByteOrder.Uint64(b)
	default:
		return 0
	}
}

// EncodeGuest writes val into b in guest byte order at the given width,
// the any-width counterpart of htovm16/htovm32.
func (v *VM) EncodeGuest(val uint64, b []byte, size Size) {
	switch size {
	case Size1:
		b[0] = byte(val)
	case Size2:
		v.htovm16(uint16(val), b)
	case Size4:
		v.htovm32(uint32(val), b)
	case Size8:
		v.ByteOrder.PutUint64(b, val)
	}
}

// hostPage returns the host bytes backing dev's page containing paddr,
// resolving sparse pages (allocating/COW-duplicating as op requires) or
// the device's flat Host slice. ok is false for a pure-MMIO device with
// no host backing at all.
func (v *VM) hostPage(dev *Device, paddr uint64, op OpType) (page []byte, pageOff uint32, ok bool) {
	offset := uint32(paddr - dev.PhysAddr)

	if dev.Flags&FlagSparse != 0 {
		pageStart := paddr &^ uint64(PageMask)
		p, _, err := v.SparseHostPage(dev, pageStart, op)
		if err != nil {
			return nil, 0, false
		}
		return p, uint32(paddr & PageMask), true
	}

	if dev.Host != nil && dev.Flags&FlagNoMTSMmap == 0 {
		return dev.Host, offset, true
	}

	return nil, offset, false
}

// runLength returns how many bytes starting at paddr can be moved in
// one sub-access: bounded by the device's own remaining length and by
// the page boundary, whichever comes first, per the "split at the
// earlier of the two" rule.
func runLength(dev *Device, paddr uint64, want int) int {
	offset := paddr - dev.PhysAddr
	devRemaining := uint64(dev.PhysLen) - offset
	pageRemaining := uint64(PageSize - (paddr & PageMask))

	n := uint64(want)
	if devRemaining < n {
		n = devRemaining
	}
	if pageRemaining < n {
		n = pageRemaining
	}
	return int(n)
}

// accessChunk performs one sub-access of at most len(buf) bytes,
// entirely within a single device and a single page, via the host
// mapping when one exists or the device handler otherwise.
func (v *VM) accessChunk(dev *Device, paddr uint64, op OpType, buf []byte) {
	page, pageOff, ok := v.hostPage(dev, paddr, op)
	if ok {
		if op == OpRead {
			copy(buf, page[pageOff:pageOff+uint32(len(buf))])
		} else {
			copy(page[pageOff:pageOff+uint32(len(buf))], buf)
		}
		return
	}

	if dev.Handler == nil {
		return
	}

	offset := uint32(paddr - dev.PhysAddr)
	ctx := &AccessContext{}
	for i := 0; i < len(buf); i++ {
		var tmp uint64
		if op == OpWrite {
			tmp = uint64(buf[i])
		}
		ptr, err := dev.Handler(ctx, dev, offset+uint32(i), Size1, op, &tmp)
		if err != nil {
			continue
		}
		if ptr != nil {
			if op == OpRead {
				buf[i] = ptr[0]
			} else {
				ptr[0] = buf[i]
			}
		} else if op == OpRead {
			buf[i] = byte(tmp)
		}
	}
}

// CopyFromVM copies len(buf) bytes starting at paddr into buf. Any
// stretch that does not intersect a bound device reads as zero.
func (v *VM) CopyFromVM(paddr uint64, buf []byte) {
	v.rangeOp(paddr, OpRead, buf)
}

// CopyToVM copies len(buf) bytes from buf into guest physical memory
// starting at paddr. Any stretch that does not intersect a bound
// device is silently dropped.
func (v *VM) CopyToVM(paddr uint64, buf []byte) {
	v.rangeOp(paddr, OpWrite, buf)
}

func (v *VM) rangeOp(paddr uint64, op OpType, buf []byte) {
	remaining := len(buf)
	cursor := paddr
	pos := 0

	for remaining > 0 {
		dev := v.LookupByPhys(cursor, false)
		if dev == nil {
			hole := remaining
			if next := v.LookupNext(cursor, false); next != nil {
				if n := next.PhysAddr - cursor; n < uint64(hole) {
					hole = int(n)
				}
			}
			if op == OpRead {
				for i := 0; i < hole; i++ {
					buf[pos+i] = 0
				}
			}
			cursor += uint64(hole)
			pos += hole
			remaining -= hole
			continue
		}

		n := runLength(dev, cursor, remaining)
		if n == 0 {
			// Zero-length device range; avoid an infinite loop.
			n = 1
		}
		v.accessChunk(dev, cursor, op, buf[pos:pos+n])
		cursor += uint64(n)
		pos += n
		remaining -= n
	}
}

// CopyU8FromVM reads a single byte. Unmapped addresses read as zero.
func (v *VM) CopyU8FromVM(paddr uint64) uint8 {
	var b [1]byte
	v.CopyFromVM(paddr, b[:])
	return b[0]
}

// CopyU8ToVM writes a single byte. Unmapped addresses are dropped.
func (v *VM) CopyU8ToVM(paddr uint64, val uint8) {
	v.CopyToVM(paddr, []byte{val})
}

// CopyU16FromVM reads a 16-bit word in host byte order, mirroring
// physmem_copy_u16_from_vm: a host-backed device is read directly
// through its mapping (vmtoh16 applied to the raw bytes); otherwise the
// access is dispatched to the device handler at Size2.
func (v *VM) CopyU16FromVM(paddr uint64) uint16 {
	dev := v.LookupByPhys(paddr, false)
	if dev == nil {
		return 0
	}

	if page, pageOff, ok := v.hostPage(dev, paddr, OpRead); ok {
		return v.vmtoh16(page[pageOff : pageOff+2])
	}

	if dev.Handler == nil {
		return 0
	}
	offset := uint32(paddr - dev.PhysAddr)
	var tmp uint64
	ptr, err := dev.Handler(&AccessContext{}, dev, offset, Size2, OpRead, &tmp)
	if err != nil {
		return 0
	}
	if ptr != nil {
		return v.vmtoh16(ptr)
	}
	return uint16(tmp)
}

// CopyU16ToVM writes a 16-bit word, converting host order to guest
// order before it lands in host-backed memory; a handler instead
// receives the value itself, in host order, via *data.
func (v *VM) CopyU16ToVM(paddr uint64, val uint16) {
	dev := v.LookupByPhys(paddr, false)
	if dev == nil {
		return
	}

	if page, pageOff, ok := v.hostPage(dev, paddr, OpWrite); ok {
		v.htovm16(val, page[pageOff:pageOff+2])
		return
	}

	if dev.Handler == nil {
		return
	}
	offset := uint32(paddr - dev.PhysAddr)
	tmp := uint64(val)
	ptr, err := dev.Handler(&AccessContext{}, dev, offset, Size2, OpWrite, &tmp)
	if err == nil && ptr != nil {
		v.htovm16(val, ptr)
	}
}

// CopyU32FromVM reads a 32-bit word, mirroring physmem_copy_u32_from_vm.
func (v *VM) CopyU32FromVM(paddr uint64) uint32 {
	dev := v.LookupByPhys(paddr, false)
	if dev == nil {
		return 0
	}

	if page, pageOff, ok := v.hostPage(dev, paddr, OpRead); ok {
		return v.vmtoh32(page[pageOff : pageOff+4])
	}

	if dev.Handler == nil {
		return 0
	}
	offset := uint32(paddr - dev.PhysAddr)
	var tmp uint64
	ptr, err := dev.Handler(&AccessContext{}, dev, offset, Size4, OpRead, &tmp)
	if err != nil {
		return 0
	}
	if ptr != nil {
		return v.vmtoh32(ptr)
	}
	return uint32(tmp)
}

// CopyU32ToVM writes a 32-bit word, mirroring physmem_copy_u32_to_vm.
func (v *VM) CopyU32ToVM(paddr uint64, val uint32) {
	dev := v.LookupByPhys(paddr, false)
	if dev == nil {
		return
	}

	if page, pageOff, ok := v.hostPage(dev, paddr, OpWrite); ok {
		v.htovm32(val, page[pageOff:pageOff+4])
		return
	}

	if dev.Handler == nil {
		return
	}
	offset := uint32(paddr - dev.PhysAddr)
	tmp := uint64(val)
	ptr, err := dev.Handler(&AccessContext{}, dev, offset, Size4, OpWrite, &tmp)
	if err == nil && ptr != nil {
		v.htovm32(val, ptr)
	}
}

// DMATransfer copies length bytes from src to dst, both guest physical
// addresses. It only succeeds between two fully host-backed regions in
// both directions; a request that straddles a device or page boundary
// is split, matching physmem_dma_transfer's memcpy-between-mappings
// semantics extended to the multi-device case. A transfer that cannot
// be completed (either side unmapped, or a pure-MMIO device with no
// host backing) is logged and dropped, never partially applied past
// the point of failure.
func (v *VM) DMATransfer(src, dst uint64, length int) {
	remaining := length
	s, d := src, dst

	for remaining > 0 {
		srcDev := v.LookupByPhys(s, false)
		dstDev := v.LookupByPhys(d, false)
		if srcDev == nil || dstDev == nil {
			v.Logger.Warn().Uint64("src", src).Uint64("dst", dst).
				Int("len", length).Msg("dma: unable to transfer, unmapped region")
			return
		}
		if (srcDev.Host == nil && srcDev.Flags&FlagSparse == 0) ||
			(dstDev.Host == nil && dstDev.Flags&FlagSparse == 0) {
			v.Logger.Warn().Uint64("src", src).Uint64("dst", dst).
				Int("len", length).Msg("dma: unable to transfer, region not host-backed")
			return
		}

		n := remaining
		if sn := runLength(srcDev, s, n); sn < n {
			n = sn
		}
		if dn := runLength(dstDev, d, n); dn < n {
			n = dn
		}
		if n == 0 {
			n = 1
		}

		buf := make([]byte, n)
		v.accessChunk(srcDev, s, OpRead, buf)
		v.accessChunk(dstDev, d, OpWrite, buf)

		s += uint64(n)
		d += uint64(n)
		remaining -= n
	}
}

// Strlen returns the length of the NUL-terminated string starting at
// paddr, within a single cacheable (host-backed) device, mirroring
// physmem_strlen. It returns 0 if paddr is not itself mapped.
func (v *VM) Strlen(paddr uint64) int {
	dev := v.LookupByPhys(paddr, true)
	if dev == nil {
		return 0
	}

	n := 0
	cursor := paddr
	for {
		d := v.LookupByPhys(cursor, true)
		if d != dev || d == nil {
			return n
		}
		page, pageOff, ok := v.hostPage(d, cursor, OpRead)
		if !ok {
			return n
		}
		for _, b := range page[pageOff:] {
			if b == 0 {
				return n
			}
			n++
			cursor++
			if !d.Contains(cursor) {
				break
			}
		}
	}
}

// Dump logs count consecutive 32-bit words starting at paddr, mirroring
// physmem_dump_vm.
func (v *VM) Dump(paddr uint64, count uint32) {
	for i := uint32(0); i < count; i++ {
		a := paddr + uint64(i)*4
		v.Logger.Info().Uint64("addr", a).Uint32("word", v.CopyU32FromVM(a)).
			Msg("physmem_dump")
	}
}
