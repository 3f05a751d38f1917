package disk

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/downfa11-org/cursus-queue/pkg/metrics"
	"github.com/downfa11-org/cursus-queue/pkg/rollcycle"
	"github.com/downfa11-org/cursus-queue/util"
)

// Record header word: bit 31 marks a write in progress, bit 30 a finished
// record, the low bits carry the payload length. All ones seals the file.
const (
	recordNotComplete uint32 = 1 << 31
	recordComplete    uint32 = 1 << 30
	recordLengthMask  uint32 = recordComplete - 1
	recordEOFMarker   uint32 = 0xFFFFFFFF

	recordHeaderSize = 4
	recordAlign      = 8
)

type RecordState int

const (
	RecordReady RecordState = iota
	RecordEmpty
	RecordInProgress
	RecordEOF
)

func (rs RecordState) String() string {
	switch rs {
	case RecordReady:
		return "ready"
	case RecordEmpty:
		return "empty"
	case RecordInProgress:
		return "in-progress"
	default:
		return "eof"
	}
}

// Record is one slot read from a store. Payload is a private copy.
type Record struct {
	Payload []byte
	Next    int64
	State   RecordState
}

type storeOptions struct {
	chunkSize       int64
	overlapSize     int64
	readOnly        bool
	timeout         time.Duration
	recoveryTimeout time.Duration
}

// Store is one mapped cycle file. It is shared by every cursor of the process
// and reference counted by the pool.
type Store struct {
	cycle    int
	path     string
	file     *MappedFile
	meta     []byte
	header   *StoreHeader
	readOnly bool

	refCount atomic.Int32

	indexOffset  int64
	dataOffset   int64
	indexCount   int
	indexSpacing int
	maxSequence  int64
	maxPayload   int

	timeout         time.Duration
	recoveryTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func recordSize(n int) int64 {
	return alignUp(int64(recordHeaderSize+n), recordAlign)
}

// openStore maps path and runs the first-header protocol against it.
func openStore(path string, cycle int, opts storeOptions, factory HeaderFactory) (*Store, error) {
	mf, err := OpenMappedFile(path, opts.chunkSize, opts.overlapSize, opts.readOnly)
	if err != nil {
		return nil, err
	}

	s := &Store{
		cycle:           cycle,
		path:            path,
		file:            mf,
		readOnly:        opts.readOnly,
		timeout:         opts.timeout,
		recoveryTimeout: opts.recoveryTimeout,
	}

	// both waits below share one deadline
	deadline := time.Now().Add(s.timeout)
	pauser := util.NewPauser(50*time.Microsecond, 10*time.Millisecond)
	if err := s.mapHeaderRegion(time.Until(deadline), pauser); err != nil {
		_ = mf.Close()
		return nil, err
	}

	if !s.readOnly && s.writeFirstHeader() {
		if err := s.updateFirstHeader(factory(cycle)); err != nil {
			s.abandonFirstHeader()
			_ = mf.Close()
			return nil, fmt.Errorf("write header for %s: %w", path, err)
		}
	}

	h, err := s.readFirstHeader(time.Until(deadline), pauser)
	if err != nil {
		_ = mf.Close()
		return nil, err
	}
	s.applyHeader(h)
	return s, nil
}

// mapHeaderRegion waits for a file still being created by another process to
// become long enough to map.
func (s *Store) mapHeaderRegion(timeout time.Duration, pauser *util.Pauser) error {
	var err error
	pauser.Await(timeout, func() bool {
		s.meta, err = s.file.Bytes(0, headerRegionSize)
		return err == nil || !errors.Is(err, ErrRegionUnavailable)
	})
	if errors.Is(err, ErrRegionUnavailable) {
		metrics.HeaderTimeouts.Inc()
		return fmt.Errorf("%w: %s never grew past its header", ErrStoreNotReady, s.path)
	}
	return err
}

func (s *Store) applyHeader(h *StoreHeader) {
	s.header = h
	s.indexOffset = h.Indexing.IndexOffset
	s.dataOffset = h.Indexing.DataOffset
	s.indexCount = h.Indexing.IndexCount
	s.indexSpacing = h.Indexing.IndexSpacing
	s.maxSequence = h.RollCycle().MaxSequence()
	s.maxPayload = int(s.file.OverlapSize()) - recordAlign
	if s.maxPayload > int(recordLengthMask) {
		s.maxPayload = int(recordLengthMask)
	}
	if h.Recovery.TimeoutMs > 0 && s.recoveryTimeout <= 0 {
		s.recoveryTimeout = time.Duration(h.Recovery.TimeoutMs) * time.Millisecond
	}
}

func (s *Store) Cycle() int                     { return s.cycle }
func (s *Store) Path() string                   { return s.path }
func (s *Store) Header() *StoreHeader           { return s.header }
func (s *Store) ReadOnly() bool                 { return s.readOnly }
func (s *Store) RefCount() int32                { return s.refCount.Load() }
func (s *Store) DataOffset() int64              { return s.dataOffset }
func (s *Store) MaxPayloadSize() int            { return s.maxPayload }
func (s *Store) RecoveryCount() int64           { return atomic.LoadInt64(word64(s.meta, recoveryCountOffset)) }
func (s *Store) WritePosition() int64           { return atomic.LoadInt64(word64(s.meta, writePositionOffset)) }
func (s *Store) RollCycle() rollcycle.RollCycle { return s.header.RollCycle() }

// LastSequenceNumber is the sequence of the newest finished record, -1 when empty.
func (s *Store) LastSequenceNumber() int64 {
	return atomic.LoadInt64(word64(s.meta, lastSequenceOffset))
}

// Count is the number of records in the cycle.
func (s *Store) Count() int64 {
	return s.LastSequenceNumber() + 1
}

// Append writes payload as the next record and returns its sequence.
func (s *Store) Append(payload []byte) (int64, error) {
	if s.readOnly {
		return -1, ErrReadOnly
	}
	if len(payload) > s.maxPayload {
		return -1, fmt.Errorf("%w: %d bytes, limit %d", ErrRecordTooLarge, len(payload), s.maxPayload)
	}
	if err := s.lockWrite(); err != nil {
		return -1, err
	}
	defer s.unlockWrite()

	pos := atomic.LoadInt64(word64(s.meta, writePositionOffset))
	seq := atomic.LoadInt64(word64(s.meta, lastSequenceOffset)) + 1
	if seq > s.maxSequence {
		return -1, fmt.Errorf("%w: cycle %d", ErrCycleFull, s.cycle)
	}

	b, err := s.file.Bytes(pos, recordHeaderSize+len(payload))
	if err != nil {
		return -1, err
	}
	h := word32(b, 0)
	if atomic.LoadUint32(h) == recordEOFMarker {
		return -1, fmt.Errorf("%w: cycle %d", ErrStoreEOF, s.cycle)
	}

	n := uint32(len(payload))
	atomic.StoreUint32(h, recordNotComplete|n)
	copy(b[recordHeaderSize:], payload)
	atomic.StoreUint32(h, recordComplete|n)

	s.indexRecord(seq, pos)
	atomic.StoreInt64(word64(s.meta, lastSequenceOffset), seq)
	atomic.StoreInt64(word64(s.meta, writePositionOffset), pos+recordSize(len(payload)))
	return seq, nil
}

// WriteEOF seals the store so tailers move on to the next cycle.
func (s *Store) WriteEOF() error {
	if s.readOnly {
		return ErrReadOnly
	}
	if err := s.lockWrite(); err != nil {
		return err
	}
	defer s.unlockWrite()

	pos := atomic.LoadInt64(word64(s.meta, writePositionOffset))
	b, err := s.file.Bytes(pos, recordHeaderSize)
	if err != nil {
		return err
	}
	if atomic.CompareAndSwapUint32(word32(b, 0), 0, recordEOFMarker) {
		util.Debug("Sealed cycle %d at position %d", s.cycle, pos)
	}
	return nil
}

// Sealed reports whether an EOF marker follows the last record.
func (s *Store) Sealed() bool {
	state, _, err := s.recordAt(s.WritePosition())
	return err == nil && state == RecordEOF
}

// ReadAt reads the record starting at pos.
func (s *Store) ReadAt(pos int64) (Record, error) {
	state, n, err := s.recordAt(pos)
	if err != nil || state != RecordReady {
		return Record{Next: pos, State: state}, err
	}
	b, err := s.file.Bytes(pos, recordHeaderSize+n)
	if err != nil {
		return Record{Next: pos, State: RecordEmpty}, err
	}
	payload := make([]byte, n)
	copy(payload, b[recordHeaderSize:])
	return Record{Payload: payload, Next: pos + recordSize(n), State: RecordReady}, nil
}

// recordAt decodes only the header word at pos.
func (s *Store) recordAt(pos int64) (RecordState, int, error) {
	if pos < s.dataOffset {
		return RecordEmpty, 0, fmt.Errorf("position %d precedes data region %d", pos, s.dataOffset)
	}
	hb, err := s.file.Bytes(pos, recordHeaderSize)
	if errors.Is(err, ErrRegionUnavailable) {
		return RecordEmpty, 0, nil
	}
	if err != nil {
		return RecordEmpty, 0, err
	}

	w := atomic.LoadUint32(word32(hb, 0))
	switch {
	case w == 0:
		return RecordEmpty, 0, nil
	case w == recordEOFMarker:
		return RecordEOF, 0, nil
	case w&recordNotComplete != 0:
		return RecordInProgress, 0, nil
	case w&recordComplete == 0:
		return RecordEmpty, 0, fmt.Errorf("%w: bad record word %#x at %d in %s", ErrCorruptStore, w, pos, s.path)
	}
	return RecordReady, int(w & recordLengthMask), nil
}

// PositionOf returns the byte position of seq. seq may be one past the last
// record, which yields the next write position.
func (s *Store) PositionOf(seq int64) (int64, error) {
	if seq < 0 || seq > s.LastSequenceNumber()+1 {
		return -1, fmt.Errorf("%w: sequence %d, last %d", ErrSequenceOutOfRange, seq, s.LastSequenceNumber())
	}

	pos, cur := s.nearestIndexed(seq)
	for cur < seq {
		state, n, err := s.recordAt(pos)
		if err != nil {
			return -1, err
		}
		if state != RecordReady {
			return -1, fmt.Errorf("%w: sequence %d ends at %d", ErrSequenceOutOfRange, seq, cur)
		}
		pos += recordSize(n)
		cur++
	}
	return pos, nil
}

// lockWrite serializes writers in-process with writeMu and across processes
// with the mapped lock word. A lock held past the recovery timeout is taken over.
func (s *Store) lockWrite() error {
	s.writeMu.Lock()

	owner := uint32(os.Getpid())
	lock := word32(s.meta, writeLockOffset)
	since := word64(s.meta, lockTimeOffset)
	pauser := util.NewPauser(20*time.Microsecond, 2*time.Millisecond)
	start := time.Now()
	deadline := start.Add(s.recoveryTimeout + s.timeout)

	for {
		if atomic.CompareAndSwapUint32(lock, 0, owner) {
			atomic.StoreInt64(since, time.Now().UnixMilli())
			break
		}

		held := atomic.LoadUint32(lock)
		now := time.Now()
		stale := now.Sub(start) > s.recoveryTimeout &&
			now.UnixMilli()-atomic.LoadInt64(since) > s.recoveryTimeout.Milliseconds()
		if held != 0 && stale {
			if atomic.CompareAndSwapUint32(lock, held, owner) {
				atomic.StoreInt64(since, now.UnixMilli())
				atomic.AddInt64(word64(s.meta, recoveryCountOffset), 1)
				metrics.StoreRecoveries.Inc()
				util.Warn("Recovered write lock on %s held by pid %d for over %v", s.path, held, s.recoveryTimeout)
				break
			}
			continue
		}

		if now.After(deadline) {
			s.writeMu.Unlock()
			return fmt.Errorf("%w: %s held by pid %d", ErrWriteLockTimeout, s.path, held)
		}
		pauser.Pause()
	}

	s.reconcile()
	return nil
}

func (s *Store) unlockWrite() {
	atomic.StoreUint32(word32(s.meta, writeLockOffset), 0)
	s.writeMu.Unlock()
}

// reconcile brings the write position and last sequence up to date with
// records a crashed writer finished but never published, and discards a
// record it left half written. Caller holds the write lock.
func (s *Store) reconcile() {
	pos := atomic.LoadInt64(word64(s.meta, writePositionOffset))
	seq := atomic.LoadInt64(word64(s.meta, lastSequenceOffset))
	moved := false

	for {
		hb, err := s.file.Bytes(pos, recordHeaderSize)
		if err != nil {
			break
		}
		h := word32(hb, 0)
		w := atomic.LoadUint32(h)
		if w == 0 || w == recordEOFMarker {
			break
		}

		n := int(w & recordLengthMask)
		if w&recordNotComplete != 0 {
			if b, err := s.file.Bytes(pos, recordHeaderSize+n); err == nil {
				clear(b[recordHeaderSize:])
			}
			atomic.StoreUint32(h, 0)
			util.Warn("Discarded incomplete record at %d in %s", pos, s.path)
			break
		}

		seq++
		s.indexRecord(seq, pos)
		pos += recordSize(n)
		moved = true
	}

	if moved {
		atomic.StoreInt64(word64(s.meta, lastSequenceOffset), seq)
		atomic.StoreInt64(word64(s.meta, writePositionOffset), pos)
		util.Info("Reconciled %s to sequence %d at %d", s.path, seq, pos)
	}
}

func (s *Store) Sync() error {
	return s.file.Sync()
}

func (s *Store) close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.file.Close()
	})
	return err
}
