package disk

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/downfa11-org/cursus-queue/pkg/resource"
	"github.com/downfa11-org/cursus-queue/util"
	"golang.org/x/exp/mmap"
)

// ReadStoreHeader decodes the header of an existing cycle file through a
// read-only mapping, without joining the header protocol.
func ReadStoreHeader(path string) (*StoreHeader, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := r.Close(); err != nil {
			util.Error("failed to close header reader for %s: %v", path, err)
		}
	}()

	if r.Len() < headerBodyOffset {
		return nil, fmt.Errorf("%w: %s is only %d bytes", ErrStoreNotReady, path, r.Len())
	}
	fixed := make([]byte, headerBodyOffset)
	if _, err := r.ReadAt(fixed, 0); err != nil {
		return nil, err
	}

	switch state := binary.NativeEndian.Uint32(fixed[headerStateOffset:]); {
	case state > stateReady:
		return nil, fmt.Errorf("%w: %s has header state %d", ErrCorruptStore, path, state)
	case state != stateReady:
		return nil, fmt.Errorf("%w: %s", ErrStoreNotReady, path)
	}

	n := binary.NativeEndian.Uint32(fixed[headerLengthOffset:])
	if n == 0 || n > maxHeaderBody || int(n)+headerBodyOffset > r.Len() {
		return nil, fmt.Errorf("%w: %s header length %d", ErrCorruptStore, path, n)
	}
	body := make([]byte, n)
	if _, err := r.ReadAt(body, headerBodyOffset); err != nil {
		return nil, err
	}
	return decodeHeader(body)
}

// RetrieveStoreHeader returns the header of the newest readable cycle file
// in dir, or ErrCycleNotFound when there is none.
func RetrieveStoreHeader(dir string) (*StoreHeader, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrCycleNotFound, dir)
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && resource.IsQueueFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	for _, name := range names {
		h, err := ReadStoreHeader(filepath.Join(dir, name))
		if err == nil {
			return h, nil
		}
		util.Debug("Roll cycle probe skipped %s: %v", name, err)
	}
	return nil, fmt.Errorf("%w: no readable cycle file in %s", ErrCycleNotFound, dir)
}
