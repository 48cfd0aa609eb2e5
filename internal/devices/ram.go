// Package devices provides the concrete MMIO device kinds built on top
// of internal/vm's registry: plain and file-backed RAM, ghost RAM,
// remap aliases, ROM, the byte-swap bridge, NOR flash, and the IO FPGA
// (EEPROM groups plus the dummy console).
package devices

import "routervm/internal/vm"

// NewRAM binds a fresh, zero-filled, host-backed RAM region.
func NewRAM(v *vm.VM, name string, paddr uint64, size uint32) (*vm.Device, error) {
	dev := &vm.Device{
		Name:     name,
		PhysAddr: paddr,
		PhysLen:  size,
		Host:     make([]byte, size),
		Flags:    vm.FlagCaching,
	}
	if err := v.Bind(dev); err != nil {
		return nil, err
	}
	return dev, nil
}

// NewFileBackedRAM binds RAM whose content is mmap'd from a file under
// the VM's working directory, surviving across runs (NVRAM, bootflash).
// sync requests msync on teardown.
func NewFileBackedRAM(v *vm.VM, name string, paddr uint64, size uint32, sync bool) (*vm.Device, error) {
	data, f, err := vm.CreateFileBacking(v.WorkDir, v.Name, name, size)
	if err != nil {
		return nil, err
	}

	flags := vm.FlagCaching
	if sync {
		flags |= vm.FlagSync
	}

	dev := &vm.Device{
		Name:     name,
		PhysAddr: paddr,
		PhysLen:  size,
		Host:     data,
		File:     f,
		Flags:    flags,
	}
	if err := v.Bind(dev); err != nil {
		return nil, err
	}
	return dev, nil
}

// NewGhostRAM binds sparse RAM that reads through a process-shared
// read-only base image and privately COW-duplicates any page it
// writes, as used for a VM's initial RAM contents shared across
// multiple chassis instances.
func NewGhostRAM(v *vm.VM, name string, paddr uint64, size uint32, ghostPath string) (*vm.Device, error) {
	dev := &vm.Device{
		Name:     name,
		PhysAddr: paddr,
		PhysLen:  size,
		Flags:    vm.FlagCaching,
	}
	if err := vm.AttachGhost(dev, ghostPath); err != nil {
		return nil, err
	}
	if err := v.Bind(dev); err != nil {
		return nil, err
	}
	return dev, nil
}

// NewRAMAlias binds a second window onto target's backing at a
// different physical address, sharing its host memory, sparse table,
// and handler - writes through either window are visible through the
// other.
func NewRAMAlias(v *vm.VM, name string, paddr uint64, size uint32, target *vm.Device) (*vm.Device, error) {
	dev := &vm.Device{
		Name:     name,
		PhysAddr: paddr,
		PhysLen:  size,
		Host:     target.Host,
		Handler:  target.Handler,
		Sparse:   target.Sparse,
		Flags:    target.Flags | vm.FlagRemap,
	}
	if err := v.Bind(dev); err != nil {
		return nil, err
	}
	return dev, nil
}
