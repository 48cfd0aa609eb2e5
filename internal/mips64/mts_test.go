package mips64

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routervm/internal/vm"
)

func writeTLBEntry(cop0 *COP0, index int, vpn2, asid uint64, pfn0, pfn1 uint64, writable bool) {
	cop0.SetIndex(uint32(index))
	cop0.SetEntryHi(vpn2 | asid)
	lo0 := pfn0<<6 | 1<<1
	lo1 := pfn1<<6 | 1<<1
	if writable {
		lo0 |= 1 << 2
		lo1 |= 1 << 2
	}
	cop0.SetEntryLo0(lo0)
	cop0.SetEntryLo1(lo1)
	cop0.TLBWI()
}

// TestTLBMissOnUnmappedUserAddress mirrors the literal golden scenario:
// with no TLB entries installed, an LW at 0x00001000 faults with
// BadVAddr==vaddr and the TLB-load exception code.
func TestTLBMissOnUnmappedUserAddress(t *testing.T) {
	v := vm.New("mips64-1", t.TempDir())
	cop0 := NewCOP0(48)
	cpu := NewCPU(v, cop0, nil, 1024)
	ctx := &vm.AccessContext{}

	_, fault := cpu.LW(ctx, 0x00001000)
	require.NotNil(t, fault)
	assert.Equal(t, vm.FaultTLBMiss, fault.Kind)
	assert.Equal(t, uint64(0x00001000), fault.Addr)
	assert.Equal(t, uint64(0x00001000), cop0.badVAddr)
	assert.Equal(t, uint32(excTLBL), (cop0.cause>>2)&0x1F)
}

func TestLoadStoreRoundTripsThroughMappedTLBEntry(t *testing.T) {
	v := vm.New("mips64-2", t.TempDir())
	dev := &vm.Device{Name: "ram", PhysAddr: 0x1000, PhysLen: 0x4000, Host: make([]byte, 0x4000), Flags: vm.FlagCaching}
	require.NoError(t, v.Bind(dev))

	cop0 := NewCOP0(48)
	writeTLBEntry(cop0, 0, 0xFFFFFFFFC0000000, 0, 0x1, 0x2, true)
	cpu := NewCPU(v, cop0, nil, 1024)
	ctx := &vm.AccessContext{}

	require.Nil(t, cpu.SD(ctx, 0xFFFFFFFFC0000000, 0x0102030405060708))
	val, fault := cpu.LD(ctx, 0xFFFFFFFFC0000000)
	require.Nil(t, fault)
	assert.Equal(t, uint64(0x0102030405060708), val)
}

func TestSignExtendedLoadsPreserveNegativeValues(t *testing.T) {
	v := vm.New("mips64-3", t.TempDir())
	dev := &vm.Device{Name: "ram", PhysAddr: 0x1000, PhysLen: 0x4000, Host: make([]byte, 0x4000), Flags: vm.FlagCaching}
	require.NoError(t, v.Bind(dev))

	cop0 := NewCOP0(48)
	writeTLBEntry(cop0, 0, 0xFFFFFFFFC0000000, 0, 0x1, 0x2, true)
	cpu := NewCPU(v, cop0, nil, 1024)
	ctx := &vm.AccessContext{}

	require.Nil(t, cpu.SW(ctx, 0xFFFFFFFFC0000000, 0xFFFFFFFF))
	word, fault := cpu.LW(ctx, 0xFFFFFFFFC0000000)
	require.Nil(t, fault)
	assert.Equal(t, uint64(0xFFFFFFFFFFFFFFFF), word)

	uword, fault := cpu.LWU(ctx, 0xFFFFFFFFC0000000)
	require.Nil(t, fault)
	assert.Equal(t, uint64(0xFFFFFFFF), uword)
}

func TestLoadLinkedStoreConditionalRequiresMatchingLink(t *testing.T) {
	v := vm.New("mips64-4", t.TempDir())
	dev := &vm.Device{Name: "ram", PhysAddr: 0x1000, PhysLen: 0x4000, Host: make([]byte, 0x4000), Flags: vm.FlagCaching}
	require.NoError(t, v.Bind(dev))

	cop0 := NewCOP0(48)
	writeTLBEntry(cop0, 0, 0xFFFFFFFFC0000000, 0, 0x1, 0x2, true)
	cpu := NewCPU(v, cop0, nil, 1024)
	ctx := &vm.AccessContext{}

	_, fault := cpu.LL(ctx, 0xFFFFFFFFC0000000)
	require.Nil(t, fault)

	ok, fault := cpu.SC(ctx, 0xFFFFFFFFC0000004, 0x1)
	require.Nil(t, fault)
	assert.False(t, ok, "SC to a different address must not commit")

	ok, fault = cpu.SC(ctx, 0xFFFFFFFFC0000000, 0xCAFEBABE)
	require.Nil(t, fault)
	assert.True(t, ok)

	ok, fault = cpu.SC(ctx, 0xFFFFFFFFC0000000, 0x1)
	require.Nil(t, fault)
	assert.False(t, ok, "a second SC without an intervening LL must not commit")
}

func TestASIDChangeDropsCachedTranslations(t *testing.T) {
	v := vm.New("mips64-5", t.TempDir())
	devA := &vm.Device{Name: "a", PhysAddr: 0x1000, PhysLen: 0x1000, Host: make([]byte, 0x1000), Flags: vm.FlagCaching}
	devB := &vm.Device{Name: "b", PhysAddr: 0x2000, PhysLen: 0x1000, Host: make([]byte, 0x1000), Flags: vm.FlagCaching}
	require.NoError(t, v.Bind(devA))
	require.NoError(t, v.Bind(devB))

	cop0 := NewCOP0(48)
	writeTLBEntry(cop0, 0, 0xFFFFFFFFC0000000, 0, 0x1, 0x1, true)
	writeTLBEntry(cop0, 1, 0xFFFFFFFFC0000000, 1, 0x2, 0x2, true)
	cpu := NewCPU(v, cop0, nil, 1024)
	ctx := &vm.AccessContext{}

	require.Nil(t, cpu.SW(ctx, 0xFFFFFFFFC0000000, 0xAAAAAAAA))

	cpu.SetASID(1)
	require.Nil(t, cpu.SW(ctx, 0xFFFFFFFFC0000000, 0xBBBBBBBB))
	val, fault := cpu.LW(ctx, 0xFFFFFFFFC0000000)
	require.Nil(t, fault)
	assert.Equal(t, uint64(0xFFFFFFFFBBBBBBBB), val)
}
