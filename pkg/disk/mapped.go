package disk

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/downfa11-org/cursus-queue/util"
)

const minOverlapSize = 64 << 10

// OverlapSize is the slack mapped past every chunk; no region wider than it
// can be requested.
func OverlapSize(blockSize int64) int64 {
	if o := blockSize / 4; o > minOverlapSize {
		return o
	}
	return minOverlapSize
}

// MappedFile maps a file in fixed chunks. Chunk i covers
// [i*chunkSize, (i+1)*chunkSize+overlapSize), so any region no wider than the
// overlap is contiguous inside one mapping.
type MappedFile struct {
	path        string
	file        *os.File
	readOnly    bool
	chunkSize   int64
	overlapSize int64

	mu      sync.Mutex
	chunks  map[int64][]byte
	retired [][]byte
	closed  bool
}

func OpenMappedFile(path string, chunkSize, overlapSize int64, readOnly bool) (*MappedFile, error) {
	page := int64(os.Getpagesize())
	chunkSize = alignUp(chunkSize, page)
	overlapSize = alignUp(overlapSize, page)

	var (
		f   *os.File
		err error
	)
	if readOnly {
		f, err = os.Open(path)
	} else {
		f, err = os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	}
	if err != nil {
		return nil, err
	}

	return &MappedFile{
		path:        path,
		file:        f,
		readOnly:    readOnly,
		chunkSize:   chunkSize,
		overlapSize: overlapSize,
		chunks:      make(map[int64][]byte),
	}, nil
}

func (m *MappedFile) Path() string { return m.path }

func (m *MappedFile) OverlapSize() int64 { return m.overlapSize }

// Bytes returns the mapped region [pos, pos+n). Writable files grow on
// demand; read-only files report ErrRegionUnavailable past their end.
func (m *MappedFile) Bytes(pos int64, n int) ([]byte, error) {
	if pos < 0 || n < 0 || int64(n) > m.overlapSize {
		return nil, fmt.Errorf("%w: %d bytes at %d", ErrRecordTooLarge, n, pos)
	}
	idx := pos / m.chunkSize
	off := pos - idx*m.chunkSize
	end := off + int64(n)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	data := m.chunks[idx]
	if int64(len(data)) < end {
		var err error
		if data, err = m.mapChunk(idx, end); err != nil {
			return nil, err
		}
	}
	return data[off:end:end], nil
}

func (m *MappedFile) mapChunk(idx, need int64) ([]byte, error) {
	start := idx * m.chunkSize
	length := m.chunkSize + m.overlapSize

	if m.readOnly {
		info, err := m.file.Stat()
		if err != nil {
			return nil, err
		}
		avail := info.Size() - start
		if avail < need {
			return nil, fmt.Errorf("%w: %s is %d bytes, need %d", ErrRegionUnavailable, m.path, info.Size(), start+need)
		}
		if avail < length {
			length = avail
		}
	} else if err := growFile(m.file, start+length); err != nil {
		return nil, fmt.Errorf("grow %s to %d: %w", m.path, start+length, err)
	}

	data, err := mmapRegion(m.file, start, int(length), !m.readOnly)
	if err != nil {
		return nil, fmt.Errorf("mmap %s at %d: %w", m.path, start, err)
	}
	// a shorter read-only mapping may still be referenced; keep it until Close
	if old, ok := m.chunks[idx]; ok {
		m.retired = append(m.retired, old)
	}
	m.chunks[idx] = data
	return data, nil
}

// Sync flushes every mapped chunk to the file.
func (m *MappedFile) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.readOnly {
		return nil
	}
	var errs []error
	for _, data := range m.chunks {
		if err := syncRegion(data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MappedFile) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	for idx, data := range m.chunks {
		if err := munmapRegion(data); err != nil {
			errs = append(errs, fmt.Errorf("munmap chunk %d: %w", idx, err))
		}
	}
	for _, data := range m.retired {
		if err := munmapRegion(data); err != nil {
			errs = append(errs, err)
		}
	}
	m.chunks, m.retired = nil, nil

	if err := m.file.Close(); err != nil {
		util.Error("failed to close %s: %v", m.path, err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func alignUp(n, align int64) int64 {
	return (n + align - 1) / align * align
}
