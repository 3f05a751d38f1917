//go:build !linux && !darwin && !freebsd

package disk

import "os"

func mmapRegion(*os.File, int64, int, bool) ([]byte, error) {
	return nil, ErrMappingUnsupported
}

func munmapRegion([]byte) error { return nil }

func syncRegion([]byte) error { return nil }

func growFile(f *os.File, size int64) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() >= size {
		return nil
	}
	return f.Truncate(size)
}
