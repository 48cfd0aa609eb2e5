package devices

import "routervm/internal/vm"

// NewByteSwap binds a device that reshapes byte order on every access
// by XOR-ing the offset into a target region before forwarding: byte
// accesses XOR 0x03, halfword 0x02, word unchanged; halfword and word
// values are then byte-swapped in host order. It is used to present a big-endian RAM region as
// little-endian (or vice versa) to a CPU that expects the other order,
// without touching the underlying bytes.
func NewByteSwap(v *vm.VM, name string, paddr uint64, length uint32, remapAddr uint64) (*vm.Device, error) {
	dev := &vm.Device{
		Name:     name,
		PhysAddr: paddr,
		PhysLen:  length,
	}
	dev.Handler = bswapHandler(v, remapAddr)

	if err := v.Bind(dev); err != nil {
		return nil, err
	}
	return dev, nil
}

func bswapHandler(v *vm.VM, remapAddr uint64) vm.Handler {
	return func(ctx *vm.AccessContext, dev *vm.Device, offset uint32, size vm.Size, op vm.OpType, data *uint64) ([]byte, error) {
		paddr := remapAddr + uint64(offset)

		switch size {
		case vm.Size1:
			target := paddr ^ 0x03
			if op == vm.OpRead {
				*data = uint64(v.CopyU8FromVM(target))
			} else {
				v.CopyU8ToVM(target, uint8(*data))
			}

		case vm.Size2:
			target := paddr ^ 0x02
			if op == vm.OpRead {
				*data = uint64(swap16(v.CopyU16FromVM(target)))
			} else {
				v.CopyU16ToVM(target, swap16(uint16(*data)))
			}

		case vm.Size4:
			if op == vm.OpRead {
				*data = uint64(swap32(v.CopyU32FromVM(paddr)))
			} else {
				v.CopyU32ToVM(paddr, swap32(uint32(*data)))
			}
		}

		return nil, nil
	}
}

func swap16(v uint16) uint16 {
	return v<<8 | v>>8
}

func swap32(v uint32) uint32 {
	return v<<24 | (v&0xFF00)<<8 | (v&0xFF0000)>>8 | v>>24
}
