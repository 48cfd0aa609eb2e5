package vm

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// CreateFileBacking opens (creating if necessary) a file under the
// VM's working directory named "<vm>_<device>", truncates it to size
// bytes, and maps it read-write. This realises the "Persisted state
// layout" contract: NVRAM/flash/RAM devices backed by a file survive
// across VM runs.
func CreateFileBacking(workDir, vmName, devName string, size uint32) ([]byte, *os.File, error) {
	path := fmt.Sprintf("%s/%s_%s", workDir, vmName, devName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMapFailed, err)
	}

	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrMapFailed, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrMapFailed, err)
	}

	return data, f, nil
}

// openReadOnlyMapping mmaps an existing file read-only, sized to the
// file's own length. Used by the ghost-image cache.
func openReadOnlyMapping(path string) ([]byte, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMapFailed, err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrMapFailed, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrMapFailed, err)
	}

	return data, f, nil
}

func syncMapping(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Msync(data, unix.MS_SYNC|unix.MS_INVALIDATE)
}

func unmapFile(data []byte, f *os.File) error {
	var err error
	if len(data) > 0 {
		err = unix.Munmap(data)
	}
	if f != nil {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
