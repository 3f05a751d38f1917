package disk

import (
	"os"
	"time"

	"github.com/downfa11-org/cursus-queue/pkg/metrics"
	"github.com/downfa11-org/cursus-queue/util"
)

const deletedSuffix = ".deleted"

// EnforceRetention keeps the newest keep cycle files and soft-deletes the
// rest by renaming them. Cycles mapped by this pool are deferred.
func (p *StorePool) EnforceRetention(keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	if p.opts.readOnly {
		return 0, ErrReadOnly
	}

	files, err := p.ListCycles()
	if err != nil {
		return 0, err
	}
	if len(files) <= keep {
		return 0, nil
	}

	deleted := 0
	for _, f := range files[:len(files)-keep] {
		p.mu.Lock()
		if s, busy := p.stores[f.Cycle]; busy {
			p.mu.Unlock()
			util.Debug("Retention: deferred cycle %d (refs: %d)", f.Cycle, s.RefCount())
			continue
		}
		if _, opening := p.opening[f.Cycle]; opening {
			p.mu.Unlock()
			continue
		}
		err := markAsDeleted(f.Path)
		p.mu.Unlock()

		if err != nil {
			util.Error("Retention: failed to mark %s as deleted: %v", f.Path, err)
			continue
		}
		deleted++
		metrics.RetentionDeletes.Inc()
		util.Debug("Retention: marked as deleted %s", f.Path)
	}
	return deleted, nil
}

func markAsDeleted(path string) error {
	return os.Rename(path, path+deletedSuffix)
}

func (p *StorePool) retentionLoop() {
	defer p.shutdown.Done()

	ticker := time.NewTicker(p.cfg.RetentionCheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := p.EnforceRetention(p.cfg.RetentionCycles); err != nil {
				util.Error("Retention: %v", err)
			}
		case <-p.done:
			return
		}
	}
}
