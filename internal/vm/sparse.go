package vm

import "sync"

// pageArena is the per-VM page allocator: every sparse page, whether
// newly allocated or COW-duplicated, is handed out from here so
// Teardown can reclaim them all at once (they're GC'd the moment the
// arena drops its references).
type pageArena struct {
	mu    sync.Mutex
	pages [][]byte
}

func newPageArena() *pageArena {
	return &pageArena{}
}

func (a *pageArena) alloc() []byte {
	p := make([]byte, PageSize)
	a.mu.Lock()
	a.pages = append(a.pages, p)
	a.mu.Unlock()
	return p
}

func (a *pageArena) teardown() {
	a.mu.Lock()
	a.pages = nil
	a.mu.Unlock()
}

// sparseEntry is one slot of a device's sparse page table, in one of
// three states: zero value (never touched), a ghost reference (host
// set, dirty false), or a private page (host set, dirty true).
type sparseEntry struct {
	host  []byte
	dirty bool
}

// SparseTable is the per-device page table of host pointers described
// in §3/§4.3: one entry per PageSize of the device's range.
type SparseTable struct {
	entries []sparseEntry
}

// InitSparse allocates dev's sparse table. If ghostBase is non-nil
// (the device shares a read-only base image), every slot is
// pre-populated with a read-only slice into it; otherwise every slot
// starts zero (unallocated).
func InitSparse(dev *Device, ghostBase []byte) {
	nrPages := (dev.PhysLen + PageSize - 1) / PageSize
	t := &SparseTable{entries: make([]sparseEntry, nrPages)}

	if ghostBase != nil {
		for i := range t.entries {
			start := i * PageSize
			end := start + PageSize
			if end > len(ghostBase) {
				end = len(ghostBase)
			}
			if start < len(ghostBase) {
				t.entries[i] = sparseEntry{host: ghostBase[start:end], dirty: false}
			}
		}
	}

	dev.Sparse = t
	dev.Flags |= FlagSparse
}

// SparseHostPage implements dev_sparse_get_host_addr: resolve the
// host page backing paddr within dev, allocating or COW-duplicating as
// required. cow reports whether the returned page is a read-only
// ghost reference (so MTS should tag the cache entry COW and
// duplicate again on the first write through the cache).
func (v *VM) SparseHostPage(dev *Device, paddr uint64, op OpType) (page []byte, cow bool, err error) {
	idx := (paddr - dev.PhysAddr) >> PageShift
	e := &dev.Sparse.entries[idx]

	if e.host == nil {
		p := v.pages.alloc()
		e.host = p
		e.dirty = true
		return p, false, nil
	}

	if e.dirty {
		return e.host, false, nil
	}

	// Ghost reference: reads are free, writes must duplicate (COW).
	if op == OpRead {
		return e.host, true, nil
	}

	p := v.pages.alloc()
	copy(p, e.host)
	e.host = p
	e.dirty = true
	return p, false, nil
}

// DirtyPageCount reports how many of dev's sparse pages are privately
// owned (diagnostic use, mirrors dev_sparse_show_info).
func (dev *Device) DirtyPageCount() int {
	if dev.Sparse == nil {
		return 0
	}
	n := 0
	for _, e := range dev.Sparse.entries {
		if e.dirty {
			n++
		}
	}
	return n
}
