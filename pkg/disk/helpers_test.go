package disk_test

import (
	"testing"

	"github.com/downfa11-org/cursus-queue/pkg/config"
	"github.com/downfa11-org/cursus-queue/pkg/disk"
	"github.com/downfa11-org/cursus-queue/pkg/resource"
	"github.com/stretchr/testify/require"
)

const testCycle = 19800

func testConfig(dir string, mutate ...func(*config.Config)) *config.Config {
	cfg := &config.Config{
		QueueDir:              dir,
		RollCycle:             "TEST_DAILY",
		BlockSize:             64 << 10,
		TimeoutMS:             2000,
		DisableDiskSpaceCheck: true,
	}
	for _, m := range mutate {
		m(cfg)
	}
	cfg.Normalize()
	return cfg
}

func newTestPool(t *testing.T, cfg *config.Config, opts ...disk.PoolOption) *disk.StorePool {
	t.Helper()
	res, err := resource.NewCache(cfg.QueueDir, cfg.Cycle(), 16)
	require.NoError(t, err)
	pool := disk.NewStorePool(cfg, res, opts...)
	t.Cleanup(pool.Close)
	return pool
}

func acquire(t *testing.T, pool *disk.StorePool, cycle int) *disk.Store {
	t.Helper()
	s, err := pool.Acquire(cycle, 0, true)
	require.NoError(t, err)
	return s
}
