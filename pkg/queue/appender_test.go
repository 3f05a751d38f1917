package queue_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/downfa11-org/cursus-queue/pkg/config"
	"github.com/downfa11-org/cursus-queue/pkg/queue"
	"github.com/downfa11-org/cursus-queue/pkg/rollcycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppender_IndicesIncreaseAcrossRolls(t *testing.T) {
	clock := clockAt(100)
	q := openQueue(t, testConfig(t.TempDir()), queue.WithTimeProvider(clock))

	a, err := q.AcquireAppender(queue.NewOwner())
	require.NoError(t, err)

	var indices []int64
	write := func(n int) {
		for i := 0; i < n; i++ {
			idx, err := a.WriteBytes([]byte(fmt.Sprintf("msg-%d", len(indices))))
			require.NoError(t, err)
			indices = append(indices, idx)
		}
	}

	write(3)
	assert.Equal(t, 100, a.Cycle())

	clock.Set(101 * dayMs)
	write(2)
	assert.Equal(t, 101, a.Cycle())

	clock.Set(100 * dayMs) // clock moved back
	write(2)
	assert.Equal(t, 101, a.Cycle())

	for i := 1; i < len(indices); i++ {
		assert.Greater(t, indices[i], indices[i-1])
	}

	rc := q.RollCycle()
	assert.Equal(t, rc.ToIndex(100, 0), indices[0])
	assert.Equal(t, rc.ToIndex(101, 0), indices[3])
	assert.Equal(t, rc.ToIndex(101, 3), indices[6])

	last, err := a.LastIndexAppended()
	require.NoError(t, err)
	assert.Equal(t, indices[6], last)

	s, err := q.AcquireStore(100, false)
	require.NoError(t, err)
	assert.True(t, s.Sealed())
	q.ReleaseStore(s)

	lastCycle, err := q.LastCycle()
	require.NoError(t, err)
	assert.Equal(t, 101, lastCycle)
	require.NoError(t, a.Sync())
}

func TestAppender_FollowsSealedCycle(t *testing.T) {
	dir := t.TempDir()
	clockA := clockAt(50)
	clockB := clockAt(50)

	qa := openQueue(t, testConfig(dir), queue.WithTimeProvider(clockA))
	qb := openQueue(t, testConfig(dir), queue.WithTimeProvider(clockB))

	a, err := qa.AcquireAppender("a")
	require.NoError(t, err)
	b, err := qb.AcquireAppender("b")
	require.NoError(t, err)

	_, err = a.WriteBytes([]byte("a0"))
	require.NoError(t, err)
	_, err = b.WriteBytes([]byte("b0"))
	require.NoError(t, err)

	// a rolls first and seals cycle 50 while b's clock still says 50.
	clockA.Set(51 * dayMs)
	_, err = a.WriteBytes([]byte("a1"))
	require.NoError(t, err)

	idx, err := b.WriteBytes([]byte("b1"))
	require.NoError(t, err)
	assert.Equal(t, 51, qb.RollCycle().ToCycle(idx))
	assert.Equal(t, int64(1), qb.RollCycle().ToSequenceNumber(idx))
}

func TestAppender_Registry(t *testing.T) {
	q := openQueue(t, testConfig(t.TempDir()), queue.WithTimeProvider(clockAt(9)))

	owner := queue.NewOwner()
	assert.NotEqual(t, owner, queue.NewOwner())

	a1, err := q.AcquireAppender(owner)
	require.NoError(t, err)
	a2, err := q.AcquireAppender(owner)
	require.NoError(t, err)
	assert.Same(t, a1, a2)

	other, err := q.AcquireAppender(queue.NewOwner())
	require.NoError(t, err)
	assert.NotSame(t, a1, other)

	_, err = a1.LastIndexAppended()
	assert.ErrorIs(t, err, queue.ErrNothingAppended)
	assert.Equal(t, rollcycle.NoCycle, a1.Cycle())

	q.ReleaseOwner(owner)
	_, err = a1.WriteBytes([]byte("late"))
	assert.ErrorIs(t, err, queue.ErrCursorClosed)

	a3, err := q.AcquireAppender(owner)
	require.NoError(t, err)
	assert.NotSame(t, a1, a3)
	_, err = a3.WriteBytes([]byte("fresh"))
	require.NoError(t, err)
}

func TestAppender_RecordTooLarge(t *testing.T) {
	q := openQueue(t, testConfig(t.TempDir()), queue.WithTimeProvider(clockAt(9)))
	a, err := q.AcquireAppender("")
	require.NoError(t, err)
	defer a.Close()

	_, err = a.WriteBytes(make([]byte, 1<<20))
	assert.Error(t, err)

	idx, err := a.WriteBytes(nil)
	require.NoError(t, err)
	assert.Equal(t, q.RollCycle().ToIndex(9, 0), idx)
}

func TestAppender_NamedTailerCheckpoint(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(t.TempDir(), "tailers.db")
	clock := clockAt(12)
	withDB := func(c *config.Config) { c.CheckpointDB = db }

	q, err := queue.Open(testConfig(dir, withDB), queue.WithTimeProvider(clock))
	require.NoError(t, err)
	fill(t, q, clock, []int{12}, []int{5})

	tailer, err := q.CreateNamedTailer("audit")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, ok, err := tailer.Read()
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, tailer.Commit())
	require.NoError(t, q.Close())

	reopened := openQueue(t, testConfig(dir, withDB), queue.WithTimeProvider(clock))
	resumed, err := reopened.CreateNamedTailer("audit")
	require.NoError(t, err)
	assert.Equal(t, "audit", resumed.Name())

	ex, ok, err := resumed.Read()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, reopened.RollCycle().ToIndex(12, 2), ex.Index)

	committed, err := reopened.Checkpoints()
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"audit": reopened.RollCycle().ToIndex(12, 2)}, committed)

	require.NoError(t, reopened.DeleteCheckpoint("audit"))
	committed, err = reopened.Checkpoints()
	require.NoError(t, err)
	assert.Empty(t, committed)

	restarted, err := reopened.CreateNamedTailer("audit")
	require.NoError(t, err)
	ex, ok, err = restarted.Read()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, reopened.RollCycle().ToIndex(12, 0), ex.Index)

	plain := openQueue(t, testConfig(t.TempDir()))
	_, err = plain.CreateNamedTailer("audit")
	assert.ErrorIs(t, err, queue.ErrNoCheckpointStore)
	_, err = plain.Checkpoints()
	assert.ErrorIs(t, err, queue.ErrNoCheckpointStore)
	assert.ErrorIs(t, plain.DeleteCheckpoint("audit"), queue.ErrNoCheckpointStore)

	anon, err := plain.CreateTailer()
	require.NoError(t, err)
	assert.ErrorIs(t, anon.Commit(), queue.ErrUnnamedTailer)
}
