package devices

import "routervm/internal/vm"

// Intel 28Fxxx-style unlock addresses/data and command opcodes. Cycles
// are counted from the first unlock write; cycle numbers in comments
// match the reference command table.
const (
	flashUnlockAddr1 = 0xAAA
	flashUnlockData1 = 0xAA
	flashUnlockAddr2 = 0x555
	flashUnlockData2 = 0x55

	flashOpErase       = 0x80 // cycle 3: erase setup
	flashOpProgram     = 0xA0 // cycle 3: byte/word program
	flashOpReadID      = 0x90 // cycle 3: read manufacturer/device ID
	flashOpChipErase   = 0x10 // cycle 6, any address: chip erase
	flashOpSectorErase = 0x30 // cycle 6, address = sector: sector erase
)

type flashState uint8

const (
	flashReady flashState = iota
	flashUnlock1
	flashUnlock2
	flashEraseSetup
	flashEraseUnlock1
	flashEraseUnlock2
	flashProgramSetup
	flashIDRead
)

// Flash is an Intel 28Fxxx-style NOR flash command sequencer: writes to
// the unlock addresses walk a small state machine; everything else
// falls straight through to the backing bytes (program) or a synthetic
// status/ID byte (erase/ID-read).
type Flash struct {
	dev        *vm.Device
	backing    []byte
	sectorSize uint32
	state      flashState
	manufID    byte
	deviceID   byte
}

// NewFlash binds a flash device of length length, backed by a file
// under the VM's working directory so content survives across runs.
// sectorSize governs which bytes a sector-erase command clears.
func NewFlash(v *vm.VM, name string, paddr uint64, length uint32, sectorSize uint32, manufID, deviceID byte) (*vm.Device, error) {
	data, f, err := vm.CreateFileBacking(v.WorkDir, v.Name, name, length)
	if err != nil {
		return nil, err
	}

	fl := &Flash{backing: data, sectorSize: sectorSize, manufID: manufID, deviceID: deviceID}

	dev := &vm.Device{
		Name:     name,
		PhysAddr: paddr,
		PhysLen:  length,
		File:     f,
		Flags:    vm.FlagSync,
		PrivData: fl,
	}
	fl.dev = dev
	dev.Handler = fl.access

	if err := v.Bind(dev); err != nil {
		return nil, err
	}
	return dev, nil
}

func (f *Flash) access(ctx *vm.AccessContext, dev *vm.Device, offset uint32, size vm.Size, op vm.OpType, data *uint64) ([]byte, error) {
	if op == vm.OpWrite {
		f.write(offset, byte(*data))
		return nil, nil
	}

	*data = uint64(f.read(offset))
	return nil, nil
}

func (f *Flash) read(offset uint32) byte {
	switch f.state {
	case flashReady:
		if int(offset) < len(f.backing) {
			return f.backing[offset]
		}
		return 0

	case flashIDRead:
		switch offset {
		case 0x00:
			return f.manufID
		case 0x01:
			return f.deviceID
		default:
			return 0
		}

	default:
		// Every simulated operation completes synchronously, so the
		// device is always ready by the time it's polled.
		return 0x80
	}
}

func (f *Flash) write(offset uint32, val byte) {
	switch f.state {
	case flashReady, flashIDRead:
		if offset == flashUnlockAddr1 && val == flashUnlockData1 {
			f.state = flashUnlock1
		} else {
			f.state = flashReady
		}

	case flashUnlock1:
		if offset == flashUnlockAddr2 && val == flashUnlockData2 {
			f.state = flashUnlock2
		} else {
			f.state = flashReady
		}

	case flashUnlock2:
		switch val {
		case flashOpErase:
			f.state = flashEraseSetup
		case flashOpProgram:
			f.state = flashProgramSetup
		case flashOpReadID:
			f.state = flashIDRead
		default:
			f.state = flashReady
		}

	case flashProgramSetup:
		if int(offset) < len(f.backing) {
			f.backing[offset] = val
		}
		f.state = flashReady

	case flashEraseSetup:
		if offset == flashUnlockAddr1 && val == flashUnlockData1 {
			f.state = flashEraseUnlock1
		} else {
			f.state = flashReady
		}

	case flashEraseUnlock1:
		if offset == flashUnlockAddr2 && val == flashUnlockData2 {
			f.state = flashEraseUnlock2
		} else {
			f.state = flashReady
		}

	case flashEraseUnlock2:
		switch val {
		case flashOpChipErase:
			f.eraseRange(0, uint32(len(f.backing)))
		case flashOpSectorErase:
			start := offset &^ (f.sectorSize - 1)
			end := start + f.sectorSize
			if end > uint32(len(f.backing)) {
				end = uint32(len(f.backing))
			}
			f.eraseRange(start, end)
		}
		f.state = flashReady
	}
}

func (f *Flash) eraseRange(start, end uint32) {
	for i := start; i < end; i++ {
		f.backing[i] = 0x00
	}
}
