package vm

import (
	"os"
	"sync"
)

// ghostImage is a read-only, process-shared file-backed base image.
// Several VMs' sparse devices can COW against the same image; it is
// released (munmap'd, closed) only once the last reference drops.
type ghostImage struct {
	path string
	data []byte
	file *os.File
	refs int
}

var ghostRegistry = struct {
	mu     sync.Mutex
	images map[string]*ghostImage
}{images: make(map[string]*ghostImage)}

// AcquireGhostImage opens (or reuses an already-open) read-only ghost
// image file and returns its bytes. Call releaseGhostImage (indirectly,
// via VM.Unbind on a FlagGhost device) when done.
func AcquireGhostImage(path string) ([]byte, *ghostImage, error) {
	ghostRegistry.mu.Lock()
	defer ghostRegistry.mu.Unlock()

	if g, ok := ghostRegistry.images[path]; ok {
		g.refs++
		return g.data, g, nil
	}

	data, f, err := openReadOnlyMapping(path)
	if err != nil {
		return nil, nil, err
	}

	g := &ghostImage{path: path, data: data, file: f, refs: 1}
	ghostRegistry.images[path] = g
	return data, g, nil
}

func releaseGhostImage(g *ghostImage) {
	ghostRegistry.mu.Lock()
	defer ghostRegistry.mu.Unlock()

	g.refs--
	if g.refs > 0 {
		return
	}

	delete(ghostRegistry.images, g.path)
	_ = unmapFile(g.data, g.file)
}

// AttachGhost binds dev as a GHOST|SPARSE device sharing the named
// ghost image, mirroring dev_create_ghost_ram's sparse path.
func AttachGhost(dev *Device, path string) error {
	data, g, err := AcquireGhostImage(path)
	if err != nil {
		return err
	}
	dev.ghost = g
	dev.Flags |= FlagGhost
	InitSparse(dev, data)
	return nil
}
