package queue

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/downfa11-org/cursus-queue/pkg/disk"
	"github.com/downfa11-org/cursus-queue/pkg/metrics"
	"github.com/downfa11-org/cursus-queue/util"
)

// Appender writes records to the current cycle and rolls with the clock.
// Indices it returns are strictly increasing even when the clock moves back.
type Appender struct {
	q     *Queue
	owner string

	mu      sync.Mutex
	store   *disk.Store
	cycle   int
	last    int64
	written bool
	closed  bool

	lastUsed atomic.Int64
}

// AcquireAppender returns owner's appender, creating it on first use. An
// empty owner yields a fresh appender every call.
func (q *Queue) AcquireAppender(owner string) (*Appender, error) {
	if err := q.enter(); err != nil {
		return nil, err
	}
	defer q.leave()

	if q.cfg.ReadOnly {
		return nil, ErrReadOnly
	}
	create := func() *Appender {
		a := &Appender{q: q, owner: owner, cycle: noLastCycle}
		a.touch()
		return a
	}
	if owner == "" {
		a := create()
		q.cursors.track(a)
		return a, nil
	}
	return q.cursors.appender(owner, create), nil
}

// ReleaseOwner closes every cursor registered under owner.
func (q *Queue) ReleaseOwner(owner string) {
	for _, c := range q.cursors.release(owner) {
		c.shutdown()
	}
}

func (a *Appender) touch() { a.lastUsed.Store(time.Now().UnixNano()) }

// WriteBytes appends payload and returns its index.
func (a *Appender) WriteBytes(payload []byte) (int64, error) {
	if err := a.q.enter(); err != nil {
		return -1, err
	}
	defer a.q.leave()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return -1, ErrCursorClosed
	}
	a.touch()
	start := time.Now()

	seq, err := a.appendTo(a.targetCycle(), payload)
	if errors.Is(err, disk.ErrStoreEOF) {
		// Another appender sealed this cycle and moved on.
		next := a.cycle + 1
		if _, last, berr := a.q.bounds(); berr == nil && last > next {
			next = last
		}
		seq, err = a.appendTo(next, payload)
	}
	if err != nil {
		return -1, err
	}

	index := a.q.rc.ToIndex(a.cycle, seq)
	a.last, a.written = index, true
	metrics.PushAppend(time.Since(start).Seconds())
	return index, nil
}

// targetCycle never goes back past the cycle already written to, nor (on the
// first write) past the newest cycle on disk.
func (a *Appender) targetCycle() int {
	cycle := a.q.Cycle()
	if a.cycle == noLastCycle {
		if _, last, err := a.q.bounds(); err == nil && last != noLastCycle && last > cycle {
			util.Warn("Cycle %d on disk is ahead of the clock (cycle %d)", last, cycle)
			return last
		}
		return cycle
	}
	if cycle < a.cycle {
		return a.cycle
	}
	return cycle
}

func (a *Appender) appendTo(cycle int, payload []byte) (int64, error) {
	if a.store == nil || a.cycle != cycle {
		if err := a.rollTo(cycle); err != nil {
			return -1, err
		}
	}
	return a.store.Append(payload)
}

func (a *Appender) rollTo(cycle int) error {
	s, err := a.q.acquireStore(cycle, true)
	if err != nil {
		return err
	}
	prev, prevCycle := a.store, a.cycle
	a.store, a.cycle = s, cycle

	if prevCycle != noLastCycle && prevCycle < cycle {
		a.seal(prev, prevCycle)
		metrics.CycleRolls.Inc()
		util.Debug("Rolled appender from cycle %d to %d", prevCycle, cycle)
	} else if prev != nil {
		a.q.pool.Release(prev)
	}
	a.q.OnRoll(cycle)
	return nil
}

// seal writes an EOF marker into the previous cycle and releases it.
func (a *Appender) seal(prev *disk.Store, cycle int) {
	if prev == nil {
		s, err := a.q.acquireStore(cycle, false)
		if err != nil {
			util.Debug("Could not reopen cycle %d to seal it: %v", cycle, err)
			return
		}
		prev = s
	}
	defer a.q.pool.Release(prev)

	if err := prev.WriteEOF(); err != nil {
		util.Warn("Failed to seal cycle %d: %v", cycle, err)
	}
}

// LastIndexAppended is the index of the newest record this appender wrote.
func (a *Appender) LastIndexAppended() (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.written {
		return -1, ErrNothingAppended
	}
	return a.last, nil
}

// Cycle is the cycle the appender last wrote to, or rollcycle.NoCycle.
func (a *Appender) Cycle() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cycle == noLastCycle {
		return noCycle
	}
	return a.cycle
}

// Sync flushes the current cycle file.
func (a *Appender) Sync() error {
	if err := a.q.enter(); err != nil {
		return err
	}
	defer a.q.leave()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.store == nil {
		return nil
	}
	return a.store.Sync()
}

func (a *Appender) Close() error {
	a.shutdown()
	a.q.cursors.forget(a.owner, a)
	return nil
}

func (a *Appender) shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	a.closed = true
	if a.store != nil {
		a.q.pool.Release(a.store)
		a.store = nil
	}
}

func (a *Appender) releaseIdle(cutoff time.Time) bool {
	if !a.mu.TryLock() {
		return false
	}
	defer a.mu.Unlock()

	if a.closed || a.store == nil || time.Unix(0, a.lastUsed.Load()).After(cutoff) {
		return false
	}
	a.q.pool.Release(a.store)
	a.store = nil
	return true
}
