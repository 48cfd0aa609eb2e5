package devices

import (
	"io"
	"sync"

	"routervm/internal/eeprom"
	"routervm/internal/vm"
)

// dummy console phys offsets (relative to the device base), carried
// over unchanged from the reference platform.
const (
	dummyConsoleTxReadyOffset = 0x40c
	dummyConsoleTxDataOffset  = 0x41c
)

// NewDummyConsole binds a minimal UART stand-in: offset 0x40c always
// reads "transmitter ready", offset 0x41c writes one byte to out. It
// exists so early boot code that polls a UART before the real console
// driver attaches has somewhere harmless to write.
func NewDummyConsole(v *vm.VM, paddr uint64, out io.Writer) (*vm.Device, error) {
	dev := &vm.Device{
		Name:     "dummy_console",
		PhysAddr: paddr,
		PhysLen:  4096,
	}
	dev.Handler = func(ctx *vm.AccessContext, dev *vm.Device, offset uint32, size vm.Size, op vm.OpType, data *uint64) ([]byte, error) {
		switch offset {
		case dummyConsoleTxReadyOffset:
			if op == vm.OpRead {
				*data = 0x04
			}
		case dummyConsoleTxDataOffset:
			if op == vm.OpWrite && out != nil {
				_, _ = out.Write([]byte{byte(*data & 0xff)})
			}
		}
		return nil, nil
	}

	if err := v.Bind(dev); err != nil {
		return nil, err
	}
	return dev, nil
}

// IOFPGA is the per-chassis I/O controller: a single MMIO register
// fanning out to one or more EEPROM groups (chassis/PA/WIC identity
// PROMs), behind a lock since several device handlers and CPUs may
// touch it concurrently.
type IOFPGA struct {
	mu     sync.Mutex
	dev    *vm.Device
	groups map[string]*eeprom.Group
	layout []fpgaRegister
}

// fpgaRegister binds one EEPROM group's bit-bang register to an offset
// within the FPGA's address window.
type fpgaRegister struct {
	offset uint32
	group  *eeprom.Group
}

// NewIOFPGA binds an empty IO FPGA at paddr; call BindGroup to wire in
// EEPROM groups at specific register offsets before the VM starts.
func NewIOFPGA(v *vm.VM, paddr uint64, length uint32) (*IOFPGA, error) {
	f := &IOFPGA{groups: make(map[string]*eeprom.Group)}

	dev := &vm.Device{
		Name:     "io_fpga",
		PhysAddr: paddr,
		PhysLen:  length,
	}
	dev.Handler = f.access
	f.dev = dev

	if err := v.Bind(dev); err != nil {
		return nil, err
	}
	return f, nil
}

// BindGroup wires an EEPROM group's shared register at the given
// offset within the FPGA's window.
func (f *IOFPGA) BindGroup(name string, offset uint32, g *eeprom.Group) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[name] = g
	f.layout = append(f.layout, fpgaRegister{offset: offset, group: g})
}

func (f *IOFPGA) access(ctx *vm.AccessContext, dev *vm.Device, offset uint32, size vm.Size, op vm.OpType, data *uint64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, reg := range f.layout {
		if reg.offset != offset {
			continue
		}

		if op == vm.OpWrite {
			reg.group.Write(uint32(*data))
		} else {
			*data = uint64(reg.group.Read())
		}
		return nil, nil
	}

	// Unassigned offset: reads return zero and writes are dropped.
	if op == vm.OpRead {
		*data = 0
	}
	return nil, nil
}
