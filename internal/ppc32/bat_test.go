package ppc32

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routervm/internal/vm"
)

func TestDBATCoveredAddressTranslatesDirectly(t *testing.T) {
	m := NewMMU()
	// BEPI=0x800 (EA 0x10000000), length=0 (128KiB block), Vs=1.
	m.WriteSPR(SPR_DBAT0U, 0x800<<17|0x2)
	// BRPN=0x1000 (RA 0x20000000), PP=2 (read/write).
	m.WriteSPR(SPR_DBAT0L, 0x1000<<17|0x2)

	paddr, fault := m.Translate(0x10000100, false, false)
	require.Nil(t, fault)
	assert.Equal(t, uint32(0x20000100), paddr)
}

func TestDBATWriteToReadOnlyBlockFaults(t *testing.T) {
	m := NewMMU()
	m.WriteSPR(SPR_DBAT0U, 0x800<<17|0x2)
	m.WriteSPR(SPR_DBAT0L, 0x1000<<17|0x1) // PP=1: read-only

	_, fault := m.Translate(0x10000000, true, false)
	require.NotNil(t, fault)
	assert.Equal(t, vm.FaultBATMiss, fault.Kind)
}

func TestUncoveredAddressFallsThroughToIdentitySegment(t *testing.T) {
	m := NewMMU()
	paddr, fault := m.Translate(0x30000000, false, false)
	require.Nil(t, fault)
	assert.Equal(t, uint32(0x30000000), paddr)
}

func TestDirectStoreSegmentRaisesSegmentMiss(t *testing.T) {
	m := NewMMU()
	m.SetSR(3, 0x80000000) // T=1, direct-store segment

	_, fault := m.Translate(0x30000000, false, false)
	require.NotNil(t, fault)
	assert.Equal(t, vm.FaultSegmentMiss, fault.Kind)
}

func TestIBATAndDBATResolveIndependently(t *testing.T) {
	m := NewMMU()
	m.WriteSPR(SPR_IBAT0U, 0x800<<17|0x2)
	m.WriteSPR(SPR_IBAT0L, 0x1000<<17|0x2)

	// No DBAT programmed: a data access to the same EA falls through
	// to the identity-mapped segment instead of the instruction block.
	paddr, fault := m.Translate(0x10000000, false, false)
	require.Nil(t, fault)
	assert.Equal(t, uint32(0x10000000), paddr)

	paddr, fault = m.Translate(0x10000000, false, true)
	require.Nil(t, fault)
	assert.Equal(t, uint32(0x20000000), paddr)
}
