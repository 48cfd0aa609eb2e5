package eeprom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// driver toggles select/clock/din on a single shared register and
// feeds each resulting value through Write, mirroring how an IO FPGA's
// MMIO handler would drive the chip from guest stores.
type driver struct {
	g   *Group
	reg uint32
}

func (d *driver) set(bit uint, val bool) {
	if val {
		d.reg |= 1 << bit
	} else {
		d.reg &^= 1 << bit
	}
	d.g.Write(d.reg)
}

func (d *driver) pulseClock(clockBit uint) {
	d.set(clockBit, false)
	d.set(clockBit, true)
}

func TestEEPROMReadoutMatchesStoredImage(t *testing.T) {
	g := NewGroup("test-group", TypeNMC93C46)
	def := ChipDef{ClockBit: 1, SelectBit: 0, DinBit: 2, DoutBit: 3}
	id := g.AddChip(def, []byte{0xDE, 0xAD, 0xBE, 0xEF})

	d := &driver{g: g}
	d.set(def.SelectBit, true)
	require.True(t, g.IsActive(id))

	// READ command (start bit + opcode 0x3, LSB-first) followed by a
	// 6-bit address of 0 - 9 bits total for NMC93C46.
	cmd := bitsOf(opRead, 3, false, false, false, false, false, false)
	for _, bit := range cmd {
		d.set(def.DinBit, bit)
		d.pulseClock(def.ClockBit)
	}

	var result uint16
	for i := 0; i < 16; i++ {
		d.pulseClock(def.ClockBit)
		if g.ChipDout(id) != 0 {
			result |= 1 << (15 - i)
		}
	}

	assert.Equal(t, uint16(0xDEAD), result)
}

// bitsOf renders cmdVal's low cmdBits bits LSB-first, then appends the
// given address bits verbatim.
func bitsOf(cmdVal uint, cmdBits int, addrBits ...bool) []bool {
	out := make([]bool, 0, cmdBits+len(addrBits))
	for i := 0; i < cmdBits; i++ {
		out = append(out, (cmdVal>>uint(i))&1 != 0)
	}
	out = append(out, addrBits...)
	return out
}

func TestEEPROMOutOfRangeAddressReadsAllOnes(t *testing.T) {
	g := NewGroup("oob", TypeNMC93C46)
	def := ChipDef{ClockBit: 1, SelectBit: 0, DinBit: 2, DoutBit: 3}
	id := g.AddChip(def, []byte{0xDE, 0xAD})

	d := &driver{g: g}
	d.set(def.SelectBit, true)

	// addr bits all 1 after the opcode -> out of range for a 2-byte image.
	cmd := bitsOf(opRead, 3, true, true, true, true, true, true)
	for _, bit := range cmd {
		d.set(def.DinBit, bit)
		d.pulseClock(def.ClockBit)
	}

	var result uint16
	for i := 0; i < 16; i++ {
		d.pulseClock(def.ClockBit)
		if g.ChipDout(id) != 0 {
			result |= 1 << (15 - i)
		}
	}

	assert.Equal(t, uint16(0xFFFF), result)
}

func TestEEPROMDeselectResetsCommandState(t *testing.T) {
	g := NewGroup("reset", TypeNMC93C46)
	def := ChipDef{ClockBit: 1, SelectBit: 0, DinBit: 2, DoutBit: 3}
	g.AddChip(def, []byte{0xDE, 0xAD})

	d := &driver{g: g}
	d.set(def.SelectBit, true)
	d.set(def.DinBit, true)
	d.pulseClock(def.ClockBit)
	d.set(def.SelectBit, false)

	assert.False(t, g.IsActive(0))
	assert.Equal(t, stateInactive, g.state[0].state)
	assert.Equal(t, uint(0), g.state[0].cmdLen)
}
