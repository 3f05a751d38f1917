package disk

import (
	"bytes"
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/downfa11-org/cursus-queue/pkg/metrics"
	"github.com/downfa11-org/cursus-queue/pkg/rollcycle"
	"github.com/downfa11-org/cursus-queue/util"
	"gopkg.in/yaml.v3"
)

// Fixed header words, native byte order, accessed atomically.
const (
	headerStateOffset   = 0
	headerLengthOffset  = 4
	writePositionOffset = 8
	lastSequenceOffset  = 16
	writeLockOffset     = 24
	lockTimeOffset      = 32
	recoveryCountOffset = 40
	headerBodyOffset    = 64
	headerRegionSize    = 1024

	maxHeaderBody = headerRegionSize - headerBodyOffset
)

const (
	stateUninitialized   uint32 = 0
	stateWriteInProgress uint32 = 1
	stateReady           uint32 = 2
)

const (
	storeHeaderVersion = 1
	recoveryKindTimed  = "timed"
)

// StoreHeader is the YAML body persisted once at the start of every cycle file.
type StoreHeader struct {
	Version                 int            `yaml:"version"`
	Roll                    RollHeader     `yaml:"roll"`
	Indexing                IndexingHeader `yaml:"indexing"`
	Recovery                RecoveryHeader `yaml:"recovery"`
	DeltaCheckpointInterval int            `yaml:"deltaCheckpointInterval"`
	SourceID                int            `yaml:"sourceId"`
	CreatedAt               int64          `yaml:"createdAt"`
}

type RollHeader struct {
	Name   string `yaml:"name"`
	Length int64  `yaml:"length"`
	Format string `yaml:"format"`
	Epoch  int64  `yaml:"epoch"`
}

type IndexingHeader struct {
	IndexCount   int   `yaml:"indexCount"`
	IndexSpacing int   `yaml:"indexSpacing"`
	IndexOffset  int64 `yaml:"indexOffset"`
	DataOffset   int64 `yaml:"dataOffset"`
}

type RecoveryHeader struct {
	Kind      string `yaml:"kind"`
	TimeoutMs int64  `yaml:"timeoutMs"`
}

// HeaderFactory builds the header for a cycle file this process creates.
type HeaderFactory func(cycle int) *StoreHeader

// NewStoreHeader fills a header for rc.
func NewStoreHeader(rc rollcycle.RollCycle, epochMs int64, recoveryTimeout time.Duration, deltaCheckpointInterval, sourceID int) *StoreHeader {
	return &StoreHeader{
		Version: storeHeaderVersion,
		Roll: RollHeader{
			Name:   rc.Name(),
			Length: rc.LengthMs(),
			Format: rc.Format(),
			Epoch:  epochMs,
		},
		Indexing: IndexingHeader{
			IndexCount:   rc.IndexCount(),
			IndexSpacing: rc.IndexSpacing(),
		},
		Recovery: RecoveryHeader{
			Kind:      recoveryKindTimed,
			TimeoutMs: recoveryTimeout.Milliseconds(),
		},
		DeltaCheckpointInterval: deltaCheckpointInterval,
		SourceID:                sourceID,
		CreatedAt:               time.Now().UnixMilli(),
	}
}

// RollCycle rebuilds the roll cycle the file was written with.
func (h *StoreHeader) RollCycle() rollcycle.RollCycle {
	return rollcycle.Match(h.Roll.Format, h.Roll.Length, h.Indexing.IndexCount, h.Indexing.IndexSpacing)
}

func (h *StoreHeader) validate() error {
	if h.Version <= 0 || h.Roll.Length <= 0 || h.Roll.Format == "" {
		return fmt.Errorf("%w: incomplete roll section", ErrCorruptStore)
	}
	if h.Indexing.IndexCount <= 0 || h.Indexing.IndexSpacing <= 0 || h.Indexing.DataOffset < headerRegionSize {
		return fmt.Errorf("%w: incomplete indexing section", ErrCorruptStore)
	}
	return nil
}

func encodeHeader(h *StoreHeader) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(h); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	if buf.Len() > maxHeaderBody {
		return nil, fmt.Errorf("store header is %d bytes, limit %d", buf.Len(), maxHeaderBody)
	}
	return buf.Bytes(), nil
}

func decodeHeader(body []byte) (*StoreHeader, error) {
	h := &StoreHeader{}
	if err := yaml.Unmarshal(body, h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	if err := h.validate(); err != nil {
		return nil, err
	}
	return h, nil
}

func word32(b []byte, off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&b[off]))
}

func word64(b []byte, off int) *int64 {
	return (*int64)(unsafe.Pointer(&b[off]))
}

// writeFirstHeader claims the right to build the header. Exactly one opener
// of a fresh file wins.
func (s *Store) writeFirstHeader() bool {
	return atomic.CompareAndSwapUint32(word32(s.meta, headerStateOffset), stateUninitialized, stateWriteInProgress)
}

// abandonFirstHeader hands the header back to the next opener after a failed
// build.
func (s *Store) abandonFirstHeader() {
	atomic.CompareAndSwapUint32(word32(s.meta, headerStateOffset), stateWriteInProgress, stateUninitialized)
}

// updateFirstHeader lays out the index and data regions, persists h and
// publishes the READY state.
func (s *Store) updateFirstHeader(h *StoreHeader) error {
	h.Indexing.IndexOffset = headerRegionSize
	h.Indexing.DataOffset = alignUp(headerRegionSize+int64(h.Indexing.IndexCount)*8, 64)

	body, err := encodeHeader(h)
	if err != nil {
		return err
	}
	copy(s.meta[headerBodyOffset:], body)
	atomic.StoreUint32(word32(s.meta, headerLengthOffset), uint32(len(body)))
	atomic.StoreInt64(word64(s.meta, writePositionOffset), h.Indexing.DataOffset)
	atomic.StoreInt64(word64(s.meta, lastSequenceOffset), -1)
	atomic.StoreUint32(word32(s.meta, headerStateOffset), stateReady)

	metrics.StoresCreated.Inc()
	util.Debug("Wrote header for cycle %d in %s", s.cycle, s.path)
	return nil
}

// readFirstHeader waits for a READY header and decodes it.
func (s *Store) readFirstHeader(timeout time.Duration, pauser *util.Pauser) (*StoreHeader, error) {
	state := word32(s.meta, headerStateOffset)
	start := time.Now()

	ready := pauser.Await(timeout, func() bool {
		return atomic.LoadUint32(state) >= stateReady
	})
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.HeaderWaitSeconds.Observe(waited.Seconds())
	}

	switch st := atomic.LoadUint32(state); {
	case st > stateReady:
		return nil, fmt.Errorf("%w: %s has header state %d", ErrCorruptStore, s.path, st)
	case !ready:
		metrics.HeaderTimeouts.Inc()
		return nil, fmt.Errorf("%w: %s after %v", ErrStoreNotReady, s.path, s.timeout)
	}

	n := atomic.LoadUint32(word32(s.meta, headerLengthOffset))
	if n == 0 || n > maxHeaderBody {
		return nil, fmt.Errorf("%w: %s header length %d", ErrCorruptStore, s.path, n)
	}
	return decodeHeader(s.meta[headerBodyOffset : headerBodyOffset+int(n)])
}
