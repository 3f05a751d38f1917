package queue

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/downfa11-org/cursus-queue/pkg/disk"
	"github.com/downfa11-org/cursus-queue/pkg/metrics"
	"github.com/downfa11-org/cursus-queue/pkg/offset"
	"github.com/downfa11-org/cursus-queue/pkg/types"
	"github.com/downfa11-org/cursus-queue/util"
)

// Excerpt is one record handed out by a Tailer.
type Excerpt struct {
	Index   int64
	Payload []byte
}

// Tailer reads records in index order, forwards or backwards, across cycles.
// A new tailer starts before the first record.
type Tailer struct {
	q     *Queue
	owner string
	name  string

	mu         sync.Mutex
	store      *disk.Store
	cycle      int
	seq        int64
	pos        int64 // byte position of seq, -1 when unknown
	positioned bool
	direction  types.Direction
	closed     bool

	lastUsed atomic.Int64
}

func newTailer(q *Queue, owner, name string) *Tailer {
	t := &Tailer{q: q, owner: owner, name: name, pos: -1, direction: types.DirectionForward}
	t.touch()
	return t
}

// AcquireTailer returns owner's tailer, creating it on first use.
func (q *Queue) AcquireTailer(owner string) (*Tailer, error) {
	if err := q.enter(); err != nil {
		return nil, err
	}
	defer q.leave()

	if owner == "" {
		return q.createTailer(""), nil
	}
	return q.cursors.tailer(owner, func() *Tailer { return newTailer(q, owner, "") }), nil
}

// CreateTailer returns a tailer not bound to any owner. Callers close it.
func (q *Queue) CreateTailer() (*Tailer, error) {
	if err := q.enter(); err != nil {
		return nil, err
	}
	defer q.leave()
	return q.createTailer(""), nil
}

// Checkpoints returns the committed index of every named tailer.
func (q *Queue) Checkpoints() (map[string]int64, error) {
	if err := q.enter(); err != nil {
		return nil, err
	}
	defer q.leave()

	if q.offsets == nil {
		return nil, ErrNoCheckpointStore
	}
	names, err := q.offsets.Names()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(names))
	for _, name := range names {
		index, err := q.offsets.GetOffset(name)
		if err != nil {
			return nil, err
		}
		out[name] = index
	}
	return out, nil
}

// DeleteCheckpoint forgets name's commit; its next named tailer starts over.
func (q *Queue) DeleteCheckpoint(name string) error {
	if err := q.enter(); err != nil {
		return err
	}
	defer q.leave()

	if q.cfg.ReadOnly {
		return ErrReadOnly
	}
	if q.offsets == nil {
		return ErrNoCheckpointStore
	}
	return q.offsets.DeleteOffset(name)
}

// CreateNamedTailer returns a tailer positioned at name's last commit, or at
// the start when name never committed.
func (q *Queue) CreateNamedTailer(name string) (*Tailer, error) {
	if err := q.enter(); err != nil {
		return nil, err
	}
	defer q.leave()

	if q.offsets == nil {
		return nil, ErrNoCheckpointStore
	}
	t := q.createTailer(name)

	index, err := q.offsets.GetOffset(name)
	if errors.Is(err, offset.ErrNoOffset) {
		return t, nil
	}
	if err != nil {
		t.Close()
		return nil, err
	}

	t.mu.Lock()
	ok, err := t.moveToIndex(index)
	t.mu.Unlock()
	if err != nil {
		t.Close()
		return nil, err
	}
	if !ok {
		util.Warn("Tailer %q checkpoint %#x is no longer in the queue, starting over", name, index)
	}
	return t, nil
}

func (q *Queue) createTailer(name string) *Tailer {
	t := newTailer(q, "", name)
	q.cursors.track(t)
	return t
}

func (t *Tailer) touch() { t.lastUsed.Store(time.Now().UnixNano()) }

// lock enters the queue and the tailer. The returned func undoes both.
func (t *Tailer) lock() (func(), error) {
	if err := t.q.enter(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.q.leave()
		return nil, ErrCursorClosed
	}
	t.touch()
	return func() {
		t.mu.Unlock()
		t.q.leave()
	}, nil
}

func (t *Tailer) Name() string { return t.name }

// Index is the index of the record the next Read will examine, or 0 before
// the tailer is positioned.
func (t *Tailer) Index() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.index()
}

func (t *Tailer) index() int64 {
	if !t.positioned {
		return 0
	}
	return t.q.rc.ToIndex(t.cycle, t.seq)
}

// Cycle is the cycle the tailer is positioned in, or rollcycle.NoCycle.
func (t *Tailer) Cycle() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.positioned {
		return noCycle
	}
	return t.cycle
}

func (t *Tailer) Direction() types.Direction {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.direction
}

// SetDirection changes the reading direction; the position is kept.
func (t *Tailer) SetDirection(d types.Direction) error {
	if d != types.DirectionForward && d != types.DirectionBackward {
		return fmt.Errorf("%w: %v", disk.ErrInvalidDirection, d)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.direction = d
	return nil
}

// ToStart positions the tailer before the first record of the oldest cycle.
func (t *Tailer) ToStart() error {
	unlock, err := t.lock()
	if err != nil {
		return err
	}
	defer unlock()
	return t.toStart()
}

// ToEnd positions the tailer after the newest record, or on it when reading
// backwards.
func (t *Tailer) ToEnd() error {
	unlock, err := t.lock()
	if err != nil {
		return err
	}
	defer unlock()
	return t.toEnd()
}

// MoveToIndex positions the tailer at index. It reports false, leaving the
// position unchanged, when index is not in the queue.
func (t *Tailer) MoveToIndex(index int64) (bool, error) {
	unlock, err := t.lock()
	if err != nil {
		return false, err
	}
	defer unlock()
	return t.moveToIndex(index)
}

// Read returns the next record in the tailer's direction. ok is false when
// no complete record is available yet.
func (t *Tailer) Read() (ex Excerpt, ok bool, err error) {
	unlock, err := t.lock()
	if err != nil {
		return Excerpt{}, false, err
	}
	defer unlock()

	if t.direction == types.DirectionBackward {
		ex, ok, err = t.readBackward()
	} else {
		ex, ok, err = t.readForward()
	}
	if ok {
		metrics.ExcerptsRead.Inc()
	}
	return ex, ok, err
}

// Commit persists the position of a named tailer.
func (t *Tailer) Commit() error {
	unlock, err := t.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if t.name == "" {
		return ErrUnnamedTailer
	}
	if t.q.offsets == nil {
		return ErrNoCheckpointStore
	}
	if !t.positioned {
		return nil
	}
	return t.q.offsets.CommitOffset(t.name, t.index())
}

func (t *Tailer) Close() error {
	t.shutdown()
	t.q.cursors.forget(t.owner, t)
	return nil
}

func (t *Tailer) shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true
	t.releaseStore()
}

func (t *Tailer) releaseIdle(cutoff time.Time) bool {
	if !t.mu.TryLock() {
		return false
	}
	defer t.mu.Unlock()

	if t.closed || t.store == nil || time.Unix(0, t.lastUsed.Load()).After(cutoff) {
		return false
	}
	t.releaseStore()
	return true
}

func (t *Tailer) releaseStore() {
	if t.store != nil {
		t.q.pool.Release(t.store)
		t.store = nil
	}
}

func (t *Tailer) toStart() error {
	first, _, err := t.q.bounds()
	if err != nil {
		return err
	}
	if first == noFirstCycle {
		t.unposition()
		return nil
	}
	return t.moveTo(first, 0)
}

func (t *Tailer) toEnd() error {
	_, last, err := t.q.bounds()
	if err != nil {
		return err
	}
	if last == noLastCycle {
		t.unposition()
		return nil
	}
	if err := t.moveTo(last, 0); err != nil {
		return err
	}
	t.seq = t.store.Count()
	if t.direction == types.DirectionBackward {
		t.seq--
	}
	return nil
}

func (t *Tailer) unposition() {
	t.releaseStore()
	t.positioned = false
	t.pos = -1
}

func (t *Tailer) moveTo(cycle int, seq int64) error {
	if t.store == nil || t.cycle != cycle {
		s, err := t.q.acquireStore(cycle, false)
		if err != nil {
			return err
		}
		t.releaseStore()
		t.store = s
	}
	t.cycle, t.seq, t.pos, t.positioned = cycle, seq, -1, true
	return nil
}

func (t *Tailer) moveToIndex(index int64) (bool, error) {
	rc := t.q.rc
	if rc.ToSequenceNumber(index) == rc.SequenceNotSet() {
		index++
	}
	cycle, seq := rc.ToCycle(index), rc.ToSequenceNumber(index)

	s, err := t.q.acquireStore(cycle, false)
	if errors.Is(err, disk.ErrCycleNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if seq > s.Count() {
		t.q.pool.Release(s)
		return false, nil
	}

	t.releaseStore()
	t.store = s
	t.cycle, t.seq, t.pos, t.positioned = cycle, seq, -1, true
	return true, nil
}

// ensureStore reacquires the store after an idle release. A cycle deleted
// underneath the tailer moves it to the neighbouring cycle in direction;
// moved is false when there is none.
func (t *Tailer) ensureStore(direction types.Direction) (moved bool, err error) {
	if t.store != nil {
		return true, nil
	}
	s, err := t.q.acquireStore(t.cycle, false)
	if err == nil {
		t.store = s
		return true, nil
	}
	if !errors.Is(err, disk.ErrCycleNotFound) {
		return false, err
	}

	next, err := t.q.neighbour(t.cycle, direction)
	if err != nil || next == noCycle {
		return false, err
	}
	util.Debug("Cycle %d disappeared, tailer moves to cycle %d", t.cycle, next)
	if err := t.moveTo(next, 0); err != nil {
		return false, err
	}
	if direction == types.DirectionBackward {
		t.seq = t.store.Count() - 1
	}
	return true, nil
}

func (t *Tailer) readForward() (Excerpt, bool, error) {
	for {
		if !t.positioned {
			if err := t.toStart(); err != nil || !t.positioned {
				return Excerpt{}, false, err
			}
		}
		if ok, err := t.ensureStore(types.DirectionForward); !ok {
			return Excerpt{}, false, err
		}
		if t.seq < 0 {
			t.seq, t.pos = 0, -1
		}
		if t.pos < 0 {
			pos, err := t.store.PositionOf(t.seq)
			if err != nil {
				return Excerpt{}, false, err
			}
			t.pos = pos
		}

		rec, err := t.store.ReadAt(t.pos)
		if err != nil {
			return Excerpt{}, false, err
		}
		switch rec.State {
		case disk.RecordReady:
			ex := Excerpt{Index: t.q.rc.ToIndex(t.cycle, t.seq), Payload: rec.Payload}
			t.seq++
			t.pos = rec.Next
			return ex, true, nil
		case disk.RecordInProgress:
			return Excerpt{}, false, nil
		}

		moved, err := t.nextCycle(rec.State == disk.RecordEOF)
		if err != nil || !moved {
			return Excerpt{}, false, err
		}
	}
}

// nextCycle moves to the following cycle on disk. An unsealed cycle is only
// left once the clock has moved past it.
func (t *Tailer) nextCycle(sealed bool) (bool, error) {
	next, err := t.q.neighbour(t.cycle, types.DirectionForward)
	if err != nil || next == noCycle {
		return false, err
	}
	if !sealed && t.cycle >= t.q.Cycle() {
		return false, nil
	}
	if err := t.moveTo(next, 0); err != nil {
		if errors.Is(err, disk.ErrCycleNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (t *Tailer) readBackward() (Excerpt, bool, error) {
	for {
		if !t.positioned {
			if err := t.toEnd(); err != nil || !t.positioned {
				return Excerpt{}, false, err
			}
		}
		if ok, err := t.ensureStore(types.DirectionBackward); !ok {
			return Excerpt{}, false, err
		}
		if last := t.store.LastSequenceNumber(); t.seq > last {
			t.seq = last
		}

		if t.seq < 0 {
			prev, err := t.q.previousCycle(t.cycle)
			if err != nil || prev == noCycle {
				return Excerpt{}, false, err
			}
			if err := t.moveTo(prev, 0); err != nil {
				return Excerpt{}, false, err
			}
			t.seq = t.store.Count() - 1
			continue
		}

		pos, err := t.store.PositionOf(t.seq)
		if err != nil {
			return Excerpt{}, false, err
		}
		rec, err := t.store.ReadAt(pos)
		if err != nil || rec.State != disk.RecordReady {
			return Excerpt{}, false, err
		}
		ex := Excerpt{Index: t.q.rc.ToIndex(t.cycle, t.seq), Payload: rec.Payload}
		t.seq--
		t.pos = -1
		return ex, true, nil
	}
}
