package vm

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// DeviceMax bounds the dense ID->Device table (VM_DEVICE_MAX on the
// reference platform). A real chassis binds on the order of dozens of
// devices, so this is generous headroom, not a tuned limit.
const DeviceMax = 256

// State is the VM lifecycle state machine driven by the supervisory
// thread; every CPU thread polls it at instruction boundaries.
type State uint8

const (
	StateInit State = iota
	StateRunning
	StateSuspended
	StateShutdown
	StateHalted
)

// VM is one emulated chassis's physical address space: the ordered
// device list, the dense ID table, the sparse-page arena, and the
// byte order in which guest words are interpreted by the physical
// memory API's vmtoh*/htovm* helpers.
type VM struct {
	Name    string
	WorkDir string
	Logger  zerolog.Logger

	// ByteOrder is the guest's byte order. Cisco platforms in this
	// family are big-endian MIPS/PowerPC.
	ByteOrder binary.ByteOrder

	mu      sync.RWMutex
	devices []*Device // ordered by ascending PhysAddr
	byID    [DeviceMax]*Device

	pages *pageArena

	stateMu sync.Mutex
	state   State
}

// New creates an empty VM. Devices are bound one at a time as the
// caller wires up the chassis.
func New(name, workDir string) *VM {
	return &VM{
		Name:      name,
		WorkDir:   workDir,
		Logger:    NewLogger(name),
		ByteOrder: binary.BigEndian,
		pages:     newPageArena(),
		state:     StateInit,
	}
}

// State returns the current lifecycle state.
func (v *VM) State() State {
	v.stateMu.Lock()
	defer v.stateMu.Unlock()
	return v.state
}

// SetState transitions the VM's lifecycle state. Called only by the
// supervisory thread.
func (v *VM) SetState(s State) {
	v.stateMu.Lock()
	v.state = s
	v.stateMu.Unlock()
}

// Bind assigns the next free dense ID to dev, links it into the
// ordered device list, and populates the ID table. It rejects a
// CACHING device that overlaps another CACHING device's range, and
// fails with ErrOutOfSlots once DeviceMax devices are bound.
func (v *VM) Bind(dev *Device) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if dev.cacheable() {
		for _, other := range v.devices {
			if !other.cacheable() {
				continue
			}
			if rangesOverlap(dev.PhysAddr, dev.PhysLen, other.PhysAddr, other.PhysLen) {
				return ErrOverlappingDev
			}
		}
	}

	id := -1
	for i := 0; i < DeviceMax; i++ {
		if v.byID[i] == nil {
			id = i
			break
		}
	}
	if id == -1 {
		return ErrOutOfSlots
	}

	dev.ID = id
	v.byID[id] = dev

	idx := sort.Search(len(v.devices), func(i int) bool {
		return v.devices[i].PhysAddr >= dev.PhysAddr
	})
	v.devices = append(v.devices, nil)
	copy(v.devices[idx+1:], v.devices[idx:])
	v.devices[idx] = dev

	v.Logger.Debug().Str("device", dev.Name).Uint64("phys_addr", dev.PhysAddr).
		Uint32("phys_len", dev.PhysLen).Msg("device bound")
	return nil
}

func rangesOverlap(aAddr uint64, aLen uint32, bAddr uint64, bLen uint32) bool {
	aEnd := aAddr + uint64(aLen)
	bEnd := bAddr + uint64(bLen)
	return aAddr < bEnd && bAddr < aEnd
}

// Unbind removes dev from the registry and releases its resources
// (msync/unmap/close, sparse pages, ghost reference) as its flags
// dictate. It is a caller error to unbind a device not bound to v.
func (v *VM) Unbind(dev *Device) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if dev.ID < 0 || dev.ID >= DeviceMax || v.byID[dev.ID] != dev {
		return ErrDeviceNotBound
	}

	v.byID[dev.ID] = nil
	for i, d := range v.devices {
		if d == dev {
			v.devices = append(v.devices[:i], v.devices[i+1:]...)
			break
		}
	}

	v.releaseDevice(dev)
	v.Logger.Debug().Str("device", dev.Name).Msg("device unbound")
	return nil
}

func (v *VM) releaseDevice(dev *Device) {
	if dev.Flags&FlagRemap != 0 {
		// Shares backing with another live device; nothing of our own
		// to release.
		return
	}

	if dev.Flags&FlagSparse != 0 {
		dev.Sparse = nil
		if dev.Flags&FlagGhost != 0 && dev.ghost != nil {
			releaseGhostImage(dev.ghost)
			dev.ghost = nil
		}
		return
	}

	if dev.File != nil {
		if dev.Flags&FlagSync != 0 {
			_ = syncMapping(dev.Host)
		}
		_ = unmapFile(dev.Host, dev.File)
		dev.File = nil
	}
	dev.Host = nil
}

// LookupByPhys returns the unique device whose range contains paddr,
// or nil. When cachedOnly is set, devices without FlagCaching are
// skipped.
func (v *VM) LookupByPhys(paddr uint64, cachedOnly bool) *Device {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, d := range v.devices {
		if cachedOnly && !d.cacheable() {
			continue
		}
		if d.Contains(paddr) {
			return d
		}
	}
	return nil
}

// LookupNext returns the device with the smallest PhysAddr strictly
// greater than paddr matching the filter, or nil. Used to compute the
// remaining run length before a physical-memory access crosses into
// the next device.
func (v *VM) LookupNext(paddr uint64, cachedOnly bool) *Device {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, d := range v.devices {
		if cachedOnly && !d.cacheable() {
			continue
		}
		if d.PhysAddr > paddr {
			return d
		}
	}
	return nil
}

// LookupByID is the O(1) dense-array lookup used on the MTS device
// dispatch fast path.
func (v *VM) LookupByID(id int) *Device {
	if id < 0 || id >= DeviceMax {
		return nil
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.byID[id]
}

// LookupByName is diagnostic-only; it scans the ordered list.
func (v *VM) LookupByName(name string) *Device {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, d := range v.devices {
		if d.Name == name {
			return d
		}
	}
	return nil
}

// Devices returns a snapshot of the ordered device list, for
// diagnostics (dev_show_list equivalent).
func (v *VM) Devices() []*Device {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*Device, len(v.devices))
	copy(out, v.devices)
	return out
}

// Teardown unbinds every device in descending physical-address order
// (the reverse of the registry's ordering, not of the order in which
// devices were bound), then drops the sparse-page arena.
func (v *VM) Teardown() {
	v.mu.Lock()
	devs := make([]*Device, len(v.devices))
	copy(devs, v.devices)
	v.mu.Unlock()

	for i := len(devs) - 1; i >= 0; i-- {
		_ = v.Unbind(devs[i])
	}

	v.pages.teardown()
	v.SetState(StateShutdown)
}
