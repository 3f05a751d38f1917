package queue

import (
	"errors"
	"runtime"

	"github.com/downfa11-org/cursus-queue/pkg/disk"
	"github.com/downfa11-org/cursus-queue/pkg/metrics"
	"github.com/downfa11-org/cursus-queue/util"
)

// FirstCycle is the oldest cycle on disk, or ErrEmptyQueue.
func (q *Queue) FirstCycle() (int, error) {
	if err := q.enter(); err != nil {
		return noFirstCycle, err
	}
	defer q.leave()

	first, _, err := q.bounds()
	if err == nil && first == noFirstCycle {
		err = ErrEmptyQueue
	}
	return first, err
}

// LastCycle is the newest cycle on disk, or ErrEmptyQueue.
func (q *Queue) LastCycle() (int, error) {
	if err := q.enter(); err != nil {
		return noLastCycle, err
	}
	defer q.leave()

	_, last, err := q.bounds()
	if err == nil && last == noLastCycle {
		err = ErrEmptyQueue
	}
	return last, err
}

// OnRoll widens the cached bounds to include cycle without listing the directory.
func (q *Queue) OnRoll(cycle int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if cycle < q.firstCycle {
		q.firstCycle = cycle
	}
	if cycle > q.lastCycle {
		q.lastCycle = cycle
	}
}

// bounds rescans the directory unless it was already scanned this
// millisecond, in which case at most FirstLastRetryMax extra scans are made
// before the cached values are returned.
func (q *Queue) bounds() (int, int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.wallClock()
	if now == q.scannedAt {
		if q.scanRetries >= q.cfg.FirstLastRetryMax {
			return q.firstCycle, q.lastCycle, nil
		}
		q.scanRetries++
		runtime.Gosched()
	} else {
		q.scanRetries = 0
	}

	if err := q.rescan(); err != nil {
		return q.firstCycle, q.lastCycle, err
	}
	q.scannedAt = now
	return q.firstCycle, q.lastCycle, nil
}

// rescan runs with q.mu held.
func (q *Queue) rescan() error {
	files, err := q.pool.ListCycles()
	metrics.DirectoryScans.Inc()
	if err != nil {
		return err
	}

	if len(files) > 0 {
		q.firstCycle = files[0].Cycle
		q.lastCycle = files[len(files)-1].Cycle
		return nil
	}

	if !q.cfg.ReduceTailerGarbage || q.cfg.ReadOnly {
		q.firstCycle, q.lastCycle = noFirstCycle, noLastCycle
		return nil
	}

	cycle := q.Cycle()
	s, err := q.acquireStore(cycle, true)
	if err != nil {
		return err
	}
	q.pool.Release(s)
	util.Debug("Created cycle %d for an empty queue", cycle)
	q.firstCycle, q.lastCycle = cycle, cycle
	return nil
}

// FirstIndex is the index of the first record slot of the oldest cycle.
func (q *Queue) FirstIndex() (int64, error) {
	first, err := q.FirstCycle()
	if err != nil {
		return 0, err
	}
	return q.rc.ToIndex(first, 0), nil
}

// LastIndex is the index of the newest record, searching back over empty cycles.
func (q *Queue) LastIndex() (int64, error) {
	if err := q.enter(); err != nil {
		return 0, err
	}
	defer q.leave()

	_, cycle, err := q.bounds()
	if err != nil {
		return 0, err
	}
	if cycle == noLastCycle {
		return 0, ErrEmptyQueue
	}

	for cycle != noCycle {
		n, err := q.excerptsInCycle(cycle)
		if err != nil && !errors.Is(err, disk.ErrCycleNotFound) {
			return 0, err
		}
		if n > 0 {
			return q.rc.ToIndex(cycle, n-1), nil
		}
		if cycle, err = q.previousCycle(cycle); err != nil {
			return 0, err
		}
	}
	return 0, ErrEmptyQueue
}

// endIndex is the index the next record of the newest cycle would get.
func (q *Queue) endIndex() (int64, error) {
	_, last, err := q.bounds()
	if err != nil {
		return 0, err
	}
	if last == noLastCycle {
		return 0, ErrEmptyQueue
	}
	n, err := q.excerptsInCycle(last)
	if err != nil {
		return 0, err
	}
	return q.rc.ToIndex(last, n), nil
}
