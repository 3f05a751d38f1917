//go:build !linux && !darwin && !freebsd

package disk

func freeSpace(string) (uint64, uint64, error) {
	return 0, 0, ErrMappingUnsupported
}
