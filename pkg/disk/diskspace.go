package disk

import (
	"github.com/downfa11-org/cursus-queue/pkg/metrics"
	"github.com/downfa11-org/cursus-queue/util"
)

const (
	minFreeBytes   = 100 << 20
	minFreePercent = 5
)

// checkDiskSpace warns when the volume holding dir is nearly full. It never
// fails the caller.
func checkDiskSpace(dir string) {
	free, total, err := freeSpace(dir)
	if err != nil {
		util.Debug("disk space check skipped for %s: %v", dir, err)
		return
	}
	if free < minFreeBytes || (total > 0 && free*100 < total*minFreePercent) {
		metrics.DiskSpaceWarnings.Inc()
		util.Warn("Low disk space for %s: %d MiB free of %d MiB", dir, free>>20, total>>20)
	}
}
