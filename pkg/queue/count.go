package queue

import (
	"errors"
	"fmt"
	"sort"

	"github.com/downfa11-org/cursus-queue/pkg/disk"
	"github.com/downfa11-org/cursus-queue/pkg/rollcycle"
	"github.com/downfa11-org/cursus-queue/pkg/types"
)

const noCycle = rollcycle.NoCycle

// ExcerptsInCycle is the number of records in cycle's file.
func (q *Queue) ExcerptsInCycle(cycle int) (int64, error) {
	if err := q.enter(); err != nil {
		return 0, err
	}
	defer q.leave()
	return q.excerptsInCycle(cycle)
}

func (q *Queue) excerptsInCycle(cycle int) (int64, error) {
	s, err := q.acquireStore(cycle, false)
	if err != nil {
		return 0, err
	}
	defer q.pool.Release(s)
	return s.Count(), nil
}

// CountExcerpts counts the records whose index lies in [min(from, to), max(from, to)).
// An index whose sequence is SequenceNotSet stands for the start of the
// following cycle.
func (q *Queue) CountExcerpts(from, to int64) (int64, error) {
	if err := q.enter(); err != nil {
		return 0, err
	}
	defer q.leave()

	if from > to {
		from, to = to, from
	}
	notSet := q.rc.SequenceNotSet()
	if q.rc.ToSequenceNumber(from) == notSet {
		from++
	}
	if q.rc.ToSequenceNumber(to) == notSet {
		to++
	}
	if from >= to {
		return 0, nil
	}

	lowerCycle, lowerSeq := q.rc.ToCycle(from), q.rc.ToSequenceNumber(from)
	upperCycle, upperSeq := q.rc.ToCycle(to), q.rc.ToSequenceNumber(to)
	if lowerCycle == upperCycle {
		return upperSeq - lowerSeq, nil
	}

	lowerCount, err := q.countForRange(lowerCycle)
	if err != nil {
		return 0, err
	}
	result := lowerCount - lowerSeq + upperSeq
	if upperCycle == lowerCycle+1 {
		return result, nil
	}

	cycles, err := q.pool.CyclesBetween(lowerCycle, upperCycle)
	if err != nil {
		if errors.Is(err, disk.ErrCycleFileMissing) {
			return 0, fmt.Errorf("%w: %v", ErrInconsistentCycles, err)
		}
		return 0, err
	}
	if cycles[0] != lowerCycle || cycles[len(cycles)-1] != upperCycle {
		return 0, fmt.Errorf("%w: %d..%d listed as %v", ErrInconsistentCycles, lowerCycle, upperCycle, cycles)
	}

	for _, c := range cycles[1 : len(cycles)-1] {
		n, err := q.countForRange(c)
		if err != nil {
			return 0, err
		}
		result += n
	}
	return result, nil
}

func (q *Queue) countForRange(cycle int) (int64, error) {
	n, err := q.excerptsInCycle(cycle)
	if errors.Is(err, disk.ErrCycleNotFound) {
		return 0, fmt.Errorf("%w: cycle %d vanished", ErrInconsistentCycles, cycle)
	}
	return n, err
}

// EntryCount is the number of records currently in the queue.
func (q *Queue) EntryCount() (int64, error) {
	first, err := q.FirstIndex()
	if errors.Is(err, ErrEmptyQueue) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	if err := q.enter(); err != nil {
		return 0, err
	}
	end, err := q.endIndex()
	q.leave()
	if errors.Is(err, ErrEmptyQueue) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return q.CountExcerpts(first, end)
}

// neighbour returns the closest cycle on disk strictly past cycle in
// direction, even when cycle's own file is gone.
func (q *Queue) neighbour(cycle int, direction types.Direction) (int, error) {
	next, err := q.pool.NextCycle(cycle, direction)
	if !errors.Is(err, disk.ErrCycleFileMissing) {
		return next, err
	}

	files, err := q.pool.ListCycles()
	if err != nil {
		return noCycle, err
	}
	idx := sort.Search(len(files), func(i int) bool { return files[i].Cycle > cycle })
	if direction == types.DirectionForward {
		if idx < len(files) {
			return files[idx].Cycle, nil
		}
		return noCycle, nil
	}
	for i := idx - 1; i >= 0; i-- {
		if files[i].Cycle < cycle {
			return files[i].Cycle, nil
		}
	}
	return noCycle, nil
}

func (q *Queue) previousCycle(cycle int) (int, error) {
	return q.neighbour(cycle, types.DirectionBackward)
}
