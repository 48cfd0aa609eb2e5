package mts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routervm/internal/jit"
	"routervm/internal/vm"
)

// idResolver is a test Resolver: identity-maps vaddr to vaddr+offset and
// looks up the TLB index from a per-page override map, defaulting to
// the page number itself. It counts calls per vaddr page so tests can
// assert a cache hit never reaches the resolver.
type idResolver struct {
	offset    uint64
	tlbIndex  map[uint64]int
	fault     map[uint64]*vm.Fault
	callCount map[uint64]int
}

func newIDResolver(offset uint64) *idResolver {
	return &idResolver{
		offset:    offset,
		tlbIndex:  make(map[uint64]int),
		fault:     make(map[uint64]*vm.Fault),
		callCount: make(map[uint64]int),
	}
}

func (r *idResolver) Translate(vaddr uint64, write bool, cacheID CacheID) (uint64, int, *vm.Fault) {
	vpage := vaddr &^ uint64(vm.PageMask)
	r.callCount[vpage]++
	if f := r.fault[vpage]; f != nil {
		return 0, 0, f
	}
	idx, ok := r.tlbIndex[vpage]
	if !ok {
		idx = int(vpage >> vm.PageShift)
	}
	return vaddr + r.offset, idx, nil
}

func ramDevice(name string, addr uint64, size uint32) *vm.Device {
	return &vm.Device{Name: name, PhysAddr: addr, PhysLen: size, Host: make([]byte, size), Flags: vm.FlagCaching}
}

func TestLoadStoreRoundTripsAllWidths(t *testing.T) {
	v := vm.New("mts1", t.TempDir())
	dev := ramDevice("ram", 0x1000, 0x4000)
	require.NoError(t, v.Bind(dev))

	r := newIDResolver(0)
	c := NewCache(v, r, nil, 1024)

	ctx := &vm.AccessContext{}
	require.Nil(t, c.Store(ctx, 0x1000, vm.Size1, 0xAB, Unified))
	val, fault := c.Load(ctx, 0x1000, vm.Size1, Unified)
	require.Nil(t, fault)
	assert.Equal(t, uint64(0xAB), val)

	require.Nil(t, c.Store(ctx, 0x1010, vm.Size4, 0x11223344, Unified))
	val, fault = c.Load(ctx, 0x1010, vm.Size4, Unified)
	require.Nil(t, fault)
	assert.Equal(t, uint64(0x11223344), val)

	require.Nil(t, c.Store(ctx, 0x1030, vm.Size2, 0xBEEF, Unified))
	val, fault = c.Load(ctx, 0x1030, vm.Size2, Unified)
	require.Nil(t, fault)
	assert.Equal(t, uint64(0xBEEF), val)

	require.Nil(t, c.Store(ctx, 0x1020, vm.Size8, 0x0102030405060708, Unified))
	val, fault = c.Load(ctx, 0x1020, vm.Size8, Unified)
	require.Nil(t, fault)
	assert.Equal(t, uint64(0x0102030405060708), val)
}

func TestCacheHitDoesNotReconsultResolver(t *testing.T) {
	v := vm.New("mts2", t.TempDir())
	dev := ramDevice("ram", 0x2000, 0x4000)
	require.NoError(t, v.Bind(dev))

	r := newIDResolver(0)
	c := NewCache(v, r, nil, 1024)
	ctx := &vm.AccessContext{}

	_, fault := c.Load(ctx, 0x2000, vm.Size4, Unified)
	require.Nil(t, fault)
	assert.Equal(t, 1, r.callCount[0x2000])

	_, fault = c.Load(ctx, 0x2004, vm.Size4, Unified)
	require.Nil(t, fault)
	assert.Equal(t, 1, r.callCount[0x2000], "second access to the same page must hit the cache")
}

func TestSelectiveInvalidationEvictsOnlyLinkedEntries(t *testing.T) {
	v := vm.New("mts3", t.TempDir())
	devA := ramDevice("a", 0x10000, 0x1000)
	devB := ramDevice("b", 0x20000, 0x1000)
	require.NoError(t, v.Bind(devA))
	require.NoError(t, v.Bind(devB))

	r := newIDResolver(0)
	r.tlbIndex[0x10000] = 5
	r.tlbIndex[0x20000] = 7
	c := NewCache(v, r, nil, 1024)
	ctx := &vm.AccessContext{}

	_, fault := c.Load(ctx, 0x10000, vm.Size4, Unified)
	require.Nil(t, fault)
	_, fault = c.Load(ctx, 0x20000, vm.Size4, Unified)
	require.Nil(t, fault)
	assert.Equal(t, 1, r.callCount[0x10000])
	assert.Equal(t, 1, r.callCount[0x20000])

	c.InvalidateTLBIndex(5)

	_, fault = c.Load(ctx, 0x10000, vm.Size4, Unified)
	require.Nil(t, fault)
	assert.Equal(t, 2, r.callCount[0x10000], "entry linked to the invalidated index must miss again")

	_, fault = c.Load(ctx, 0x20000, vm.Size4, Unified)
	require.Nil(t, fault)
	assert.Equal(t, 1, r.callCount[0x20000], "entry linked to a different index must not be evicted")
}

func TestTLBMissFaultPropagatesWithoutCaching(t *testing.T) {
	v := vm.New("mts4", t.TempDir())
	r := newIDResolver(0)
	r.fault[0x30000] = &vm.Fault{Kind: vm.FaultTLBMiss, Addr: 0x30000}
	c := NewCache(v, r, nil, 1024)
	ctx := &vm.AccessContext{}

	_, fault := c.Load(ctx, 0x30000, vm.Size4, Unified)
	require.NotNil(t, fault)
	assert.Equal(t, vm.FaultTLBMiss, fault.Kind)
}

func TestUndefinedMemoryReadsZeroAndDropsWrites(t *testing.T) {
	v := vm.New("mts5", t.TempDir())
	r := newIDResolver(0)
	c := NewCache(v, r, nil, 1024)
	ctx := &vm.AccessContext{}

	val, fault := c.Load(ctx, 0x40000, vm.Size4, Unified)
	require.Nil(t, fault)
	assert.Equal(t, uint64(0), val)

	fault = c.Store(ctx, 0x40000, vm.Size4, 0xDEADBEEF, Unified)
	assert.Nil(t, fault)
}

func TestCOWSparseEntryDuplicatesOnFirstWrite(t *testing.T) {
	v := vm.New("mts6", t.TempDir())
	ghostBase := make([]byte, vm.PageSize)
	ghostBase[0] = 0xAB

	dev := &vm.Device{Name: "ghosted", PhysAddr: 0x50000, PhysLen: vm.PageSize, Flags: vm.FlagCaching}
	vm.InitSparse(dev, ghostBase)
	require.NoError(t, v.Bind(dev))

	r := newIDResolver(0)
	c := NewCache(v, r, nil, 1024)
	ctx := &vm.AccessContext{}

	val, fault := c.Load(ctx, 0x50000, vm.Size1, Unified)
	require.Nil(t, fault)
	assert.Equal(t, uint64(0xAB), val)
	assert.Equal(t, 0, dev.DirtyPageCount(), "a ghost read must not dirty the page")

	fault = c.Store(ctx, 0x50000, vm.Size1, 0xFF, Unified)
	require.Nil(t, fault)
	assert.Equal(t, 1, dev.DirtyPageCount())
	assert.Equal(t, byte(0xAB), ghostBase[0], "the shared ghost base must not be mutated")

	val, fault = c.Load(ctx, 0x50000, vm.Size1, Unified)
	require.Nil(t, fault)
	assert.Equal(t, uint64(0xFF), val)
}

func TestWriteToExecPageInvalidatesJITBlock(t *testing.T) {
	v := vm.New("mts7", t.TempDir())
	dev := ramDevice("ram", 0x60000, 0x1000)
	require.NoError(t, v.Bind(dev))

	hook := jit.NewStubCache()
	hook.Compile(0x60000)

	r := newIDResolver(0)
	c := NewCache(v, r, hook, 1024)
	ctx := &vm.AccessContext{}

	// First touch installs the cache entry and tags it EXEC.
	_, fault := c.Load(ctx, 0x60000, vm.Size4, Unified)
	require.Nil(t, fault)

	fault = c.Store(ctx, 0x60000, vm.Size4, 0x12345678, Unified)
	require.Nil(t, fault)
	assert.Equal(t, []uint64{0x60000}, hook.Invalidated())
}

func TestInvalidateLineEvictsJITBlockWithoutAccess(t *testing.T) {
	v := vm.New("mts8", t.TempDir())
	dev := ramDevice("ram", 0x70000, 0x1000)
	require.NoError(t, v.Bind(dev))

	hook := jit.NewStubCache()
	hook.Compile(0x70000)

	r := newIDResolver(0)
	c := NewCache(v, r, hook, 1024)
	ctx := &vm.AccessContext{}

	_, fault := c.Load(ctx, 0x70000, vm.Size4, Unified)
	require.Nil(t, fault)

	fault = c.InvalidateLine(0x70000, ICache)
	require.Nil(t, fault)
	assert.Equal(t, []uint64{0x70000}, hook.Invalidated())
}

func TestDeviceBackedEntryDispatchesThroughHandler(t *testing.T) {
	v := vm.New("mts9", t.TempDir())
	var stored uint64
	dev := &vm.Device{
		Name: "mmio", PhysAddr: 0x80000, PhysLen: 0x10,
		Flags: vm.FlagCaching | vm.FlagNoMTSMmap,
		Handler: func(ctx *vm.AccessContext, dev *vm.Device, offset uint32, size vm.Size, op vm.OpType, data *uint64) ([]byte, error) {
			if op == vm.OpWrite {
				stored = *data
				return nil, nil
			}
			*data = stored
			return nil, nil
		},
	}
	require.NoError(t, v.Bind(dev))

	r := newIDResolver(0)
	c := NewCache(v, r, nil, 1024)
	ctx := &vm.AccessContext{}

	require.Nil(t, c.Store(ctx, 0x80000, vm.Size4, 0x99, Unified))
	val, fault := c.Load(ctx, 0x80000, vm.Size4, Unified)
	require.Nil(t, fault)
	assert.Equal(t, uint64(0x99), val)
}
