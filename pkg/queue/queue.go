package queue

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"github.com/downfa11-org/cursus-queue/pkg/config"
	"github.com/downfa11-org/cursus-queue/pkg/disk"
	"github.com/downfa11-org/cursus-queue/pkg/offset"
	"github.com/downfa11-org/cursus-queue/pkg/resource"
	"github.com/downfa11-org/cursus-queue/pkg/rollcycle"
	"github.com/downfa11-org/cursus-queue/pkg/types"
	"github.com/downfa11-org/cursus-queue/util"
)

const (
	noFirstCycle = math.MaxInt32
	noLastCycle  = math.MinInt32
)

type closeListener struct {
	name string
	fn   func()
}

// Queue is a directory of cycle files addressed by 64-bit indices.
type Queue struct {
	cfg       config.Config
	rc        rollcycle.RollCycle
	epoch     int64
	clock     util.TimeProvider
	wallClock func() int64
	resources *resource.Cache
	pool      *disk.StorePool
	offsets   *offset.OffsetManager
	cursors   *registry

	// guard is held shared by every operation touching mapped memory and
	// exclusively by Close while it unmaps.
	guard  sync.RWMutex
	closed atomic.Bool

	mu          sync.Mutex // bounds
	firstCycle  int
	lastCycle   int
	scannedAt   int64
	scanRetries int

	listenersMu sync.Mutex
	listeners   []closeListener
}

// Open opens the queue described by cfg, creating its directory unless the
// queue is read-only.
func Open(cfg *config.Config, opts ...Option) (*Queue, error) {
	if cfg == nil {
		return nil, fmt.Errorf("queue: nil config")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := *cfg
	c.Normalize()

	rc, epoch := adoptPersistedCycle(c.QueueDir, c.Cycle(), c.EpochMS)

	if !c.ReadOnly {
		if err := os.MkdirAll(c.QueueDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create queue directory %s: %w", c.QueueDir, err)
		}
	}

	resources, err := resource.NewCache(c.QueueDir, rc, c.ResourceCacheSize)
	if err != nil {
		return nil, err
	}

	poolOpts := []disk.PoolOption{disk.WithStoreFileListener(o.listener)}
	if o.headerFactory != nil {
		poolOpts = append(poolOpts, disk.WithHeaderFactory(o.headerFactory))
	}

	q := &Queue{
		cfg:        c,
		rc:         rc,
		epoch:      epoch,
		clock:      o.clock,
		wallClock:  o.wallClock,
		resources:  resources,
		firstCycle: noFirstCycle,
		lastCycle:  noLastCycle,
		scannedAt:  math.MinInt64,
	}

	if c.CheckpointDB != "" {
		om, err := offset.NewOffsetManager(c.CheckpointDB, c.ReadOnly)
		if err != nil {
			return nil, err
		}
		q.offsets = om
	}

	q.pool = disk.NewStorePool(&q.cfg, resources, poolOpts...)
	q.cursors = newRegistry(c.CursorIdleTimeout(), c.CursorSweepInterval())

	util.Info("Opened queue %s (roll cycle %s, read-only %t)", c.QueueDir, rc, c.ReadOnly)
	return q, nil
}

// adoptPersistedCycle prefers the roll cycle recorded in existing files over
// the configured one.
func adoptPersistedCycle(dir string, rc rollcycle.RollCycle, epoch int64) (rollcycle.RollCycle, int64) {
	h, err := disk.RetrieveStoreHeader(dir)
	if err != nil {
		if !errors.Is(err, disk.ErrCycleNotFound) {
			util.Warn("Could not read roll cycle from %s: %v", dir, err)
		}
		return rc, epoch
	}

	persisted := h.RollCycle()
	if persisted.Equal(rc) && h.Roll.Epoch == epoch {
		return rc, epoch
	}
	util.Warn("Queue %s was created with roll cycle %s (epoch %d), overriding configured %s (epoch %d)",
		dir, persisted, h.Roll.Epoch, rc, epoch)
	return persisted, h.Roll.Epoch
}

func (q *Queue) enter() error {
	q.guard.RLock()
	if q.closed.Load() {
		q.guard.RUnlock()
		return ErrQueueClosed
	}
	return nil
}

func (q *Queue) leave() { q.guard.RUnlock() }

func (q *Queue) Dir() string                    { return q.cfg.QueueDir }
func (q *Queue) RollCycle() rollcycle.RollCycle { return q.rc }
func (q *Queue) Epoch() int64                   { return q.epoch }
func (q *Queue) ReadOnly() bool                 { return q.cfg.ReadOnly }
func (q *Queue) IsClosed() bool                 { return q.closed.Load() }

// Cycle is the cycle the queue's clock currently falls into.
func (q *Queue) Cycle() int {
	return q.rc.Current(q.clock.CurrentTimeMillis(), q.epoch)
}

// AcquireStore returns a referenced store for cycle. Callers pair it with ReleaseStore.
func (q *Queue) AcquireStore(cycle int, createIfAbsent bool) (*disk.Store, error) {
	if err := q.enter(); err != nil {
		return nil, err
	}
	defer q.leave()
	return q.acquireStore(cycle, createIfAbsent)
}

func (q *Queue) acquireStore(cycle int, createIfAbsent bool) (*disk.Store, error) {
	s, err := q.pool.Acquire(cycle, q.epoch, createIfAbsent)
	if errors.Is(err, disk.ErrPoolClosed) {
		return nil, ErrQueueClosed
	}
	return s, err
}

func (q *Queue) ReleaseStore(s *disk.Store) {
	q.pool.Release(s)
}

// NextCycle returns the neighbouring cycle on disk, or rollcycle.NoCycle.
func (q *Queue) NextCycle(cycle int, direction types.Direction) (int, error) {
	if err := q.enter(); err != nil {
		return rollcycle.NoCycle, err
	}
	defer q.leave()
	return q.pool.NextCycle(cycle, direction)
}

func (q *Queue) CyclesBetween(lower, upper int) ([]int, error) {
	if err := q.enter(); err != nil {
		return nil, err
	}
	defer q.leave()
	return q.pool.CyclesBetween(lower, upper)
}

// ListCycles returns every cycle file in the directory, ascending.
func (q *Queue) ListCycles() ([]types.CycleFile, error) {
	if err := q.enter(); err != nil {
		return nil, err
	}
	defer q.leave()
	return q.pool.ListCycles()
}

// EnforceRetention soft-deletes all but the newest keep cycles.
func (q *Queue) EnforceRetention(keep int) (int, error) {
	if err := q.enter(); err != nil {
		return 0, err
	}
	defer q.leave()
	if q.cfg.ReadOnly {
		return 0, ErrReadOnly
	}
	return q.pool.EnforceRetention(keep)
}

// AddCloseListener registers fn to run once when the queue closes. A second
// registration under the same name replaces the function in place.
func (q *Queue) AddCloseListener(name string, fn func()) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	q.listenersMu.Lock()
	defer q.listenersMu.Unlock()

	for i := range q.listeners {
		if q.listeners[i].name == name {
			q.listeners[i].fn = fn
			return nil
		}
	}
	q.listeners = append(q.listeners, closeListener{name: name, fn: fn})
	return nil
}

func (q *Queue) RemoveCloseListener(name string) {
	q.listenersMu.Lock()
	defer q.listenersMu.Unlock()

	for i := range q.listeners {
		if q.listeners[i].name == name {
			q.listeners = append(q.listeners[:i], q.listeners[i+1:]...)
			return
		}
	}
}

// Close runs the close listeners in registration order, closes every cursor
// and unmaps all stores. Only the first call has any effect.
func (q *Queue) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}

	q.listenersMu.Lock()
	listeners := q.listeners
	q.listeners = nil
	q.listenersMu.Unlock()

	for _, l := range listeners {
		l.fn()
	}

	q.guard.Lock()
	defer q.guard.Unlock()

	q.cursors.close()
	q.pool.Close()

	var err error
	if q.offsets != nil {
		err = q.offsets.Close()
	}
	util.Info("Closed queue %s", q.cfg.QueueDir)
	return err
}
