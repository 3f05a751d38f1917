//go:build linux || darwin || freebsd

package disk

import (
	"os"

	"golang.org/x/sys/unix"
)

func mmapRegion(f *os.File, off int64, length int, writable bool) ([]byte, error) {
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	data, err := unix.Mmap(int(f.Fd()), off, length, prot, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	// records are read and written front to back
	_ = unix.Madvise(data, unix.MADV_SEQUENTIAL)
	return data, nil
}

func munmapRegion(data []byte) error {
	return unix.Munmap(data)
}

func syncRegion(data []byte) error {
	return unix.Msync(data, unix.MS_SYNC)
}

// growFile extends f to at least size. The flock keeps two processes from
// shrinking each other's growth.
func growFile(f *os.File, size int64) error {
	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return err
	}
	defer func() { _ = unix.Flock(fd, unix.LOCK_UN) }()

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return err
	}
	if st.Size >= size {
		return nil
	}
	return unix.Ftruncate(fd, size)
}
