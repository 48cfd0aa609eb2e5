// Package config turns a chassis description into a bound vm.VM: the
// declarative side of device wiring, distinct from the devices
// themselves (internal/devices) and the address-space registry they
// bind into (internal/vm).
package config

import (
	"io"
	"os"

	"routervm/internal/devices"
	"routervm/internal/eeprom"
	"routervm/internal/vm"
)

// EEPROMChip is one chip's pin assignment and backing image within an
// EEPROMGroup.
type EEPROMChip struct {
	ClockBit, SelectBit, DinBit, DoutBit uint
	Image                                []byte
}

// EEPROMGroup describes one shared bit-bang register and the chips
// multiplexed onto it, bound into the IO FPGA's window at Offset.
type EEPROMGroup struct {
	Name        string
	Description string
	Type        eeprom.Type
	ReverseData bool
	Offset      uint32
	Chips       []EEPROMChip
}

// Chassis is the set of parameters needed to build one VM's device
// list: sizes, addresses, and backing images, with no behavior of its
// own beyond Build. Zero-value fields for an optional device (RAM
// size, bootflash size, IO FPGA length, ...) mean "don't bind it".
type Chassis struct {
	Name string

	RAMAddr      uint64
	RAMSize      uint32
	RAMGhostPath string // non-empty: COW sparse RAM over this image instead of plain RAM

	NVRAMAddr uint64
	NVRAMSize uint32

	ROMAddr  uint64
	ROMImage []byte

	BootFlashAddr       uint64
	BootFlashSize       uint32
	BootFlashSectorSize uint32
	BootFlashManufID    byte
	BootFlashDeviceID   byte

	ByteSwapAddr      uint64
	ByteSwapLen       uint32
	ByteSwapRemapAddr uint64

	IOFPGAAddr   uint64
	IOFPGALen    uint32
	EEPROMGroups []EEPROMGroup

	ConsoleAddr uint64
	Console     io.Writer // defaults to os.Stdout when nil

	// FPGA is populated by Build once the IO FPGA device is bound, so
	// callers can reach BindGroup/group state afterward (e.g. to flip
	// a card-presence bit from elsewhere in the VM's lifecycle).
	FPGA *devices.IOFPGA
}

// Build binds every device this chassis describes into v, in the
// order a real boot sequence would probe them: persistent state
// first (NVRAM, bootflash), then RAM, then the boot ROM, then the
// glue devices (byte-swap alias, IO FPGA with its EEPROM groups), then
// the console. Binding order only matters for devices that overlap in
// physical address, which a correctly described chassis never does;
// it is fixed regardless so two runs of the same Chassis produce the
// same device ID assignment.
func (c *Chassis) Build(v *vm.VM) error {
	if c.NVRAMSize > 0 {
		if _, err := devices.NewFileBackedRAM(v, "nvram", c.NVRAMAddr, c.NVRAMSize, true); err != nil {
			return err
		}
	}

	if c.BootFlashSize > 0 {
		if _, err := devices.NewFlash(v, "bootflash", c.BootFlashAddr, c.BootFlashSize, c.BootFlashSectorSize, c.BootFlashManufID, c.BootFlashDeviceID); err != nil {
			return err
		}
	}

	if c.RAMSize > 0 {
		if c.RAMGhostPath != "" {
			if _, err := devices.NewGhostRAM(v, "ram", c.RAMAddr, c.RAMSize, c.RAMGhostPath); err != nil {
				return err
			}
		} else if _, err := devices.NewRAM(v, "ram", c.RAMAddr, c.RAMSize); err != nil {
			return err
		}
	}

	if len(c.ROMImage) > 0 {
		if _, err := devices.NewROM(v, "rom", c.ROMAddr, uint32(len(c.ROMImage)), c.ROMImage); err != nil {
			return err
		}
	}

	if c.ByteSwapLen > 0 {
		if _, err := devices.NewByteSwap(v, "bswap", c.ByteSwapAddr, c.ByteSwapLen, c.ByteSwapRemapAddr); err != nil {
			return err
		}
	}

	if c.IOFPGALen > 0 {
		fpga, err := devices.NewIOFPGA(v, c.IOFPGAAddr, c.IOFPGALen)
		if err != nil {
			return err
		}
		for _, gs := range c.EEPROMGroups {
			g := eeprom.NewGroup(gs.Description, gs.Type)
			g.ReverseData = gs.ReverseData
			for _, chip := range gs.Chips {
				g.AddChip(eeprom.ChipDef{
					ClockBit:  chip.ClockBit,
					SelectBit: chip.SelectBit,
					DinBit:    chip.DinBit,
					DoutBit:   chip.DoutBit,
				}, chip.Image)
			}
			fpga.BindGroup(gs.Name, gs.Offset, g)
		}
		c.FPGA = fpga
	}

	out := c.Console
	if out == nil {
		out = os.Stdout
	}
	if _, err := devices.NewDummyConsole(v, c.ConsoleAddr, out); err != nil {
		return err
	}

	return nil
}
