package queue

import (
	"sync"
	"time"

	"github.com/downfa11-org/cursus-queue/pkg/metrics"
	"github.com/downfa11-org/cursus-queue/util"
	"github.com/google/uuid"
)

// NewOwner mints a key for AcquireAppender and AcquireTailer.
func NewOwner() string {
	return uuid.NewString()
}

// cursor is implemented by Appender and Tailer.
type cursor interface {
	// releaseIdle drops the cursor's store reference when it has been idle
	// since before cutoff and reports whether it did.
	releaseIdle(cutoff time.Time) bool
	shutdown()
}

type registry struct {
	mu        sync.Mutex
	appenders map[string]*Appender
	tailers   map[string]*Tailer
	unowned   map[cursor]struct{}
	idle      time.Duration

	done chan struct{}
	wg   sync.WaitGroup
}

func newRegistry(idle, interval time.Duration) *registry {
	r := &registry{
		appenders: make(map[string]*Appender),
		tailers:   make(map[string]*Tailer),
		unowned:   make(map[cursor]struct{}),
		idle:      idle,
		done:      make(chan struct{}),
	}
	if idle > 0 && interval > 0 {
		r.wg.Add(1)
		go r.sweepLoop(interval)
	}
	return r
}

func (r *registry) sweepLoop(interval time.Duration) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			if n := r.sweep(now); n > 0 {
				util.Debug("Released stores of %d idle cursors", n)
			}
		case <-r.done:
			return
		}
	}
}

func (r *registry) sweep(now time.Time) int {
	cutoff := now.Add(-r.idle)
	released := 0
	for _, c := range r.snapshot() {
		if c.releaseIdle(cutoff) {
			released++
		}
	}
	metrics.CursorsSwept.Add(float64(released))
	return released
}

func (r *registry) snapshot() []cursor {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]cursor, 0, len(r.appenders)+len(r.tailers)+len(r.unowned))
	for _, a := range r.appenders {
		all = append(all, a)
	}
	for _, t := range r.tailers {
		all = append(all, t)
	}
	for c := range r.unowned {
		all = append(all, c)
	}
	return all
}

func (r *registry) appender(owner string, create func() *Appender) *Appender {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.appenders[owner]; ok {
		return a
	}
	a := create()
	r.appenders[owner] = a
	return a
}

func (r *registry) tailer(owner string, create func() *Tailer) *Tailer {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.tailers[owner]; ok {
		return t
	}
	t := create()
	r.tailers[owner] = t
	return t
}

func (r *registry) track(c cursor) {
	r.mu.Lock()
	r.unowned[c] = struct{}{}
	r.mu.Unlock()
}

// forget drops c from the registry without closing it.
func (r *registry) forget(owner string, c cursor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.unowned, c)
	if owner == "" {
		return
	}
	if a, ok := r.appenders[owner]; ok && cursor(a) == c {
		delete(r.appenders, owner)
	}
	if t, ok := r.tailers[owner]; ok && cursor(t) == c {
		delete(r.tailers, owner)
	}
}

// release removes and returns owner's cursors.
func (r *registry) release(owner string) []cursor {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []cursor
	if a, ok := r.appenders[owner]; ok {
		out = append(out, a)
		delete(r.appenders, owner)
	}
	if t, ok := r.tailers[owner]; ok {
		out = append(out, t)
		delete(r.tailers, owner)
	}
	return out
}

// close stops the sweeper and shuts every cursor down. Runs under the
// queue's exclusive guard.
func (r *registry) close() {
	close(r.done)
	r.wg.Wait()

	for _, c := range r.snapshot() {
		c.shutdown()
	}

	r.mu.Lock()
	r.appenders = make(map[string]*Appender)
	r.tailers = make(map[string]*Tailer)
	r.unowned = make(map[cursor]struct{})
	r.mu.Unlock()
}
