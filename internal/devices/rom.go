package devices

import "routervm/internal/vm"

// NewROM binds a read-only region backed by image. Reads past the end
// of image read as zero; writes are dropped and logged, never reaching
// the backing bytes.
func NewROM(v *vm.VM, name string, paddr uint64, length uint32, image []byte) (*vm.Device, error) {
	dev := &vm.Device{
		Name:     name,
		PhysAddr: paddr,
		PhysLen:  length,
		Flags:    vm.FlagCaching,
	}
	dev.Handler = romHandler(v, dev, image)

	if err := v.Bind(dev); err != nil {
		return nil, err
	}
	return dev, nil
}

func romHandler(v *vm.VM, dev *vm.Device, image []byte) vm.Handler {
	return func(ctx *vm.AccessContext, dev *vm.Device, offset uint32, size vm.Size, op vm.OpType, data *uint64) ([]byte, error) {
		if op == vm.OpWrite {
			v.Logger.Warn().Str("device", dev.Name).Uint32("offset", offset).
				Uint64("data", *data).Msg("write attempt to read-only ROM")
			return nil, nil
		}

		if offset >= uint32(len(image)) {
			*data = 0
			return nil, nil
		}

		end := offset + uint32(size)
		if end <= uint32(len(image)) {
			return image[offset:end], nil
		}

		// Access straddles the end of the backing image: pad with zero
		// rather than reading past it.
		buf := make([]byte, size)
		copy(buf, image[offset:])
		return buf, nil
	}
}
