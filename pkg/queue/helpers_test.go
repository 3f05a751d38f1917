package queue_test

import (
	"testing"
	"time"

	"github.com/downfa11-org/cursus-queue/pkg/config"
	"github.com/downfa11-org/cursus-queue/pkg/queue"
	"github.com/downfa11-org/cursus-queue/util"
	"github.com/stretchr/testify/require"
)

const dayMs = int64(24 * time.Hour / time.Millisecond)

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

func openQueue(t *testing.T, cfg *config.Config, opts ...queue.Option) *queue.Queue {
	t.Helper()
	q, err := queue.Open(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func clockAt(cycle int) *util.SetTimeProvider {
	return util.NewSetTimeProvider(int64(cycle) * dayMs)
}

// createCycles creates empty cycle files.
func createCycles(t *testing.T, q *queue.Queue, cycles ...int) {
	t.Helper()
	for _, c := range cycles {
		s, err := q.AcquireStore(c, true)
		require.NoError(t, err)
		q.ReleaseStore(s)
	}
}

// fill writes counts[i] records into cycles[i] through one appender driven by clock.
func fill(t *testing.T, q *queue.Queue, clock *util.SetTimeProvider, cycles []int, counts []int) []int64 {
	t.Helper()
	a, err := q.AcquireAppender(queue.NewOwner())
	require.NoError(t, err)
	defer a.Close()

	var indices []int64
	for i, c := range cycles {
		clock.Set(int64(c) * dayMs)
		for n := 0; n < counts[i]; n++ {
			idx, err := a.WriteBytes([]byte{byte(c), byte(n)})
			require.NoError(t, err)
			indices = append(indices, idx)
		}
	}
	return indices
}
