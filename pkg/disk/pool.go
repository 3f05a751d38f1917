package disk

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/downfa11-org/cursus-queue/pkg/config"
	"github.com/downfa11-org/cursus-queue/pkg/metrics"
	"github.com/downfa11-org/cursus-queue/pkg/resource"
	"github.com/downfa11-org/cursus-queue/pkg/types"
	"github.com/downfa11-org/cursus-queue/util"
)

// StorePool hands out reference-counted stores, one per cycle, and unmaps a
// store when its last reference is released.
type StorePool struct {
	mu        sync.Mutex
	stores    map[int]*Store
	opening   map[int]*pendingStore
	cfg       *config.Config
	resources *resource.Cache
	opts      storeOptions
	factory   func(cycle int, epochMs int64) *StoreHeader
	listener  types.StoreFileListener
	closed    bool

	done     chan struct{}
	shutdown sync.WaitGroup
}

// pendingStore is a cycle being mapped outside the pool lock. done closes
// once the attempt finished, err holds its failure.
type pendingStore struct {
	done chan struct{}
	err  error
}

type PoolOption func(*StorePool)

// WithHeaderFactory replaces how headers of newly created files are built.
func WithHeaderFactory(f func(cycle int, epochMs int64) *StoreHeader) PoolOption {
	return func(p *StorePool) { p.factory = f }
}

func WithStoreFileListener(l types.StoreFileListener) PoolOption {
	return func(p *StorePool) {
		if l != nil {
			p.listener = l
		}
	}
}

func NewStorePool(cfg *config.Config, resources *resource.Cache, opts ...PoolOption) *StorePool {
	rc := resources.RollCycle()
	p := &StorePool{
		stores:    make(map[int]*Store),
		opening:   make(map[int]*pendingStore),
		cfg:       cfg,
		resources: resources,
		opts: storeOptions{
			chunkSize:       cfg.BlockSize,
			overlapSize:     OverlapSize(cfg.BlockSize),
			readOnly:        cfg.ReadOnly,
			timeout:         cfg.Timeout(),
			recoveryTimeout: cfg.RecoveryTimeout(),
		},
		factory: func(cycle int, epochMs int64) *StoreHeader {
			return NewStoreHeader(rc, epochMs, cfg.RecoveryTimeout(), cfg.DeltaCheckpointInterval, cfg.SourceID)
		},
		listener: types.NopStoreFileListener{},
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	if cfg.RetentionCycles > 0 && !cfg.ReadOnly {
		p.shutdown.Add(1)
		go p.retentionLoop()
	}
	return p
}

func (p *StorePool) Resources() *resource.Cache { return p.resources }

// Acquire returns the store for cycle with its reference count incremented.
// Without createIfAbsent a missing file yields ErrCycleNotFound; a header
// nobody finishes in time yields ErrStoreNotReady. Concurrent acquirers of the
// same unmapped cycle share one open; other cycles are never blocked by it.
func (p *StorePool) Acquire(cycle int, epochMs int64, createIfAbsent bool) (*Store, error) {
	p.mu.Lock()
	for {
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		if s, ok := p.stores[cycle]; ok {
			s.refCount.Add(1)
			p.mu.Unlock()
			metrics.StoresAcquired.Inc()
			return s, nil
		}
		w, ok := p.opening[cycle]
		if !ok {
			break
		}
		p.mu.Unlock()
		<-w.done
		// a missing file is rechecked with this caller's create flag
		if w.err != nil && !errors.Is(w.err, ErrCycleNotFound) {
			return nil, w.err
		}
		p.mu.Lock()
	}

	w := &pendingStore{done: make(chan struct{})}
	p.opening[cycle] = w
	p.mu.Unlock()

	res := p.resources.ResourceFor(cycle)
	s, err := p.open(res, cycle, epochMs, createIfAbsent)

	p.mu.Lock()
	delete(p.opening, cycle)
	if err == nil && p.closed {
		_ = s.close()
		s, err = nil, ErrPoolClosed
	}
	w.err = err
	if err == nil {
		s.refCount.Store(1)
		p.stores[cycle] = s
		metrics.StoreMapped()
		p.listener.OnAcquired(cycle, res.Path)
	}
	p.mu.Unlock()
	close(w.done)

	if err != nil {
		return nil, err
	}
	metrics.StoresAcquired.Inc()
	util.Debug("Mapped cycle %d from %s", cycle, res.Path)
	return s, nil
}

// open maps the file behind res. It runs without the pool lock held.
func (p *StorePool) open(res resource.Resource, cycle int, epochMs int64, createIfAbsent bool) (*Store, error) {
	create := createIfAbsent && !p.opts.readOnly

	if _, err := os.Stat(res.ParentPath); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if !create {
			return nil, fmt.Errorf("%w: %s", ErrCycleNotFound, res.Path)
		}
		if err := os.MkdirAll(res.ParentPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create queue directory %s: %w", res.ParentPath, err)
		}
	}
	if _, err := os.Stat(res.Path); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if !create {
			return nil, fmt.Errorf("%w: %s", ErrCycleNotFound, res.Path)
		}
		if !p.cfg.DisableDiskSpaceCheck {
			checkDiskSpace(res.ParentPath)
		}
	}

	return openStore(res.Path, cycle, p.opts, func(c int) *StoreHeader {
		return p.factory(c, epochMs)
	})
}

// Release drops one reference; the last one unmaps the store.
func (p *StorePool) Release(s *Store) {
	if s == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	metrics.StoresReleased.Inc()
	n := s.refCount.Add(-1)
	if n > 0 || p.closed {
		return
	}
	if n < 0 {
		util.Warn("Store for cycle %d released more often than acquired", s.cycle)
		s.refCount.Store(0)
		return
	}
	if p.stores[s.cycle] == s {
		delete(p.stores, s.cycle)
	}
	p.unmap(s)
}

func (p *StorePool) unmap(s *Store) {
	if err := s.close(); err != nil {
		util.Error("failed to unmap %s: %v", s.path, err)
	}
	metrics.StoreUnmapped()
	p.listener.OnReleased(s.cycle, s.path)
}

// Referenced reports whether cycle is currently mapped, or being mapped, by
// this pool.
func (p *StorePool) Referenced(cycle int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.stores[cycle]
	_, pending := p.opening[cycle]
	return ok || pending
}

// Len is the number of mapped stores.
func (p *StorePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stores)
}

// Close unmaps every store regardless of outstanding references and stops
// the retention loop.
func (p *StorePool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for cycle, s := range p.stores {
		util.Debug("Closing store for cycle %d", cycle)
		p.unmap(s)
		delete(p.stores, cycle)
	}
	p.mu.Unlock()

	close(p.done)
	p.shutdown.Wait()
}
