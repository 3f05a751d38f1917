package queue_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/downfa11-org/cursus-queue/pkg/config"
	"github.com/downfa11-org/cursus-queue/pkg/disk"
	"github.com/downfa11-org/cursus-queue/pkg/queue"
	"github.com/downfa11-org/cursus-queue/pkg/resource"
	"github.com/downfa11-org/cursus-queue/pkg/rollcycle"
	"github.com/downfa11-org/cursus-queue/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_Bounds(t *testing.T) {
	q := openQueue(t, testConfig(t.TempDir()))
	createCycles(t, q, 10, 12, 15)

	first, err := q.FirstCycle()
	require.NoError(t, err)
	last, err := q.LastCycle()
	require.NoError(t, err)
	assert.Equal(t, 10, first)
	assert.Equal(t, 15, last)

	tests := []struct {
		cycle     int
		direction types.Direction
		want      int
	}{
		{10, types.DirectionForward, 12},
		{12, types.DirectionForward, 15},
		{15, types.DirectionForward, rollcycle.NoCycle},
		{15, types.DirectionBackward, 12},
		{10, types.DirectionBackward, rollcycle.NoCycle},
	}
	for _, tt := range tests {
		got, err := q.NextCycle(tt.cycle, tt.direction)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "NextCycle(%d, %v)", tt.cycle, tt.direction)
	}

	_, err = q.NextCycle(11, types.DirectionForward)
	assert.ErrorIs(t, err, disk.ErrCycleFileMissing)
	_, err = q.NextCycle(10, types.DirectionNone)
	assert.ErrorIs(t, err, disk.ErrInvalidDirection)

	cycles, err := q.CyclesBetween(15, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 12, 15}, cycles)
}

func TestQueue_EmptyBounds(t *testing.T) {
	q := openQueue(t, testConfig(t.TempDir()))

	_, err := q.FirstCycle()
	assert.ErrorIs(t, err, queue.ErrEmptyQueue)
	_, err = q.LastIndex()
	assert.ErrorIs(t, err, queue.ErrEmptyQueue)

	n, err := q.EntryCount()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueue_ReduceTailerGarbage(t *testing.T) {
	dir := t.TempDir()
	clock := clockAt(321)
	q := openQueue(t, testConfig(dir, func(c *config.Config) { c.ReduceTailerGarbage = true }),
		queue.WithTimeProvider(clock))

	first, err := q.FirstCycle()
	require.NoError(t, err)
	assert.Equal(t, 321, first)

	files, err := q.ListCycles()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, 321, files[0].Cycle)
}

func TestQueue_CountExcerpts(t *testing.T) {
	clock := clockAt(10)
	q := openQueue(t, testConfig(t.TempDir()), queue.WithTimeProvider(clock))
	fill(t, q, clock, []int{10, 11, 13, 15}, []int{5, 2, 3, 4})

	rc := q.RollCycle()
	idx := rc.ToIndex

	tests := []struct {
		name     string
		from, to int64
		want     int64
		wantErr  error
	}{
		{"SameCycle", idx(10, 0), idx(10, 5), 5, nil},
		{"Reversed", idx(10, 5), idx(10, 0), 5, nil},
		{"Equal", idx(13, 1), idx(13, 1), 0, nil},
		{"Adjacent", idx(10, 2), idx(11, 1), 4, nil},
		{"Spanning", idx(10, 0), idx(15, 0), 10, nil},
		{"SpanningPartial", idx(10, 1), idx(15, 2), 11, nil},
		{"SentinelUpper", idx(10, 0), idx(13, -1), 7, nil},
		{"SentinelLower", idx(11, -1), idx(13, 1), 3, nil},
		{"SentinelMeetsStart", idx(13, -1), idx(13, 0), 0, nil},
		{"BothSentinelSameCycle", idx(13, -1), idx(13, -1), 0, nil},
		{"BothSentinelSpanning", idx(11, -1), idx(15, -1), 5, nil},
		{"SentinelUpperAdjacent", idx(10, 2), idx(11, -1), 3, nil},
		{"MissingUpper", idx(10, 0), idx(14, 0), 0, queue.ErrInconsistentCycles},
		{"MissingLower", idx(9, 0), idx(10, 1), 0, queue.ErrInconsistentCycles},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := q.CountExcerpts(tt.from, tt.to)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	total, err := q.EntryCount()
	require.NoError(t, err)
	assert.Equal(t, int64(14), total)

	last, err := q.LastIndex()
	require.NoError(t, err)
	assert.Equal(t, idx(15, 3), last)

	first, err := q.FirstIndex()
	require.NoError(t, err)
	assert.Equal(t, idx(10, 0), first)

	n, err := q.ExcerptsInCycle(13)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestQueue_LastIndexSkipsEmptyCycles(t *testing.T) {
	clock := clockAt(40)
	q := openQueue(t, testConfig(t.TempDir()), queue.WithTimeProvider(clock))
	fill(t, q, clock, []int{40}, []int{2})
	createCycles(t, q, 41, 42)

	last, err := q.LastIndex()
	require.NoError(t, err)
	assert.Equal(t, q.RollCycle().ToIndex(40, 1), last)
}

func TestQueue_HeaderTimeout(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir, func(c *config.Config) { c.TimeoutMS = 100 })
	q := openQueue(t, cfg)

	res, err := resource.NewCache(dir, q.RollCycle(), 4)
	require.NoError(t, err)
	data := make([]byte, 64<<10)
	data[0] = 1 // header build in progress, never finished
	require.NoError(t, os.WriteFile(res.ResourceFor(77).Path, data, 0644))

	_, err = q.AcquireStore(77, false)
	assert.ErrorIs(t, err, disk.ErrStoreNotReady)
	assert.NotErrorIs(t, err, disk.ErrCycleNotFound)

	_, err = q.AcquireStore(78, false)
	assert.ErrorIs(t, err, disk.ErrCycleNotFound)
}

func TestQueue_Closed(t *testing.T) {
	clock := clockAt(5)
	q, err := queue.Open(testConfig(t.TempDir()), queue.WithTimeProvider(clock))
	require.NoError(t, err)

	a, err := q.AcquireAppender("writer")
	require.NoError(t, err)
	_, err = a.WriteBytes([]byte("x"))
	require.NoError(t, err)
	tailer, err := q.CreateTailer()
	require.NoError(t, err)

	var order []string
	require.NoError(t, q.AddCloseListener("first", func() { order = append(order, "first") }))
	require.NoError(t, q.AddCloseListener("second", func() { order = append(order, "second") }))
	require.NoError(t, q.AddCloseListener("third", func() { order = append(order, "third") }))
	q.RemoveCloseListener("second")

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	assert.Equal(t, []string{"first", "third"}, order)
	assert.True(t, q.IsClosed())

	_, err = q.FirstCycle()
	assert.ErrorIs(t, err, queue.ErrQueueClosed)
	_, err = q.LastCycle()
	assert.ErrorIs(t, err, queue.ErrQueueClosed)
	_, err = q.AcquireStore(5, true)
	assert.ErrorIs(t, err, queue.ErrQueueClosed)
	_, err = q.NextCycle(5, types.DirectionForward)
	assert.ErrorIs(t, err, queue.ErrQueueClosed)
	_, err = q.CyclesBetween(5, 5)
	assert.ErrorIs(t, err, queue.ErrQueueClosed)
	_, err = q.CountExcerpts(0, 1)
	assert.ErrorIs(t, err, queue.ErrQueueClosed)
	_, err = q.AcquireAppender("writer")
	assert.ErrorIs(t, err, queue.ErrQueueClosed)
	_, err = a.WriteBytes([]byte("y"))
	assert.ErrorIs(t, err, queue.ErrQueueClosed)
	_, _, err = tailer.Read()
	assert.ErrorIs(t, err, queue.ErrQueueClosed)
	assert.ErrorIs(t, q.AddCloseListener("late", func() {}), queue.ErrQueueClosed)
}

func TestQueue_ReadOnly(t *testing.T) {
	dir := t.TempDir()
	clock := clockAt(7)
	w := openQueue(t, testConfig(dir), queue.WithTimeProvider(clock))
	fill(t, w, clock, []int{7}, []int{3})

	r := openQueue(t, testConfig(dir, func(c *config.Config) { c.ReadOnly = true }), queue.WithTimeProvider(clock))
	assert.True(t, r.ReadOnly())

	_, err := r.AcquireAppender(queue.NewOwner())
	assert.ErrorIs(t, err, queue.ErrReadOnly)
	_, err = r.EnforceRetention(1)
	assert.ErrorIs(t, err, queue.ErrReadOnly)

	n, err := r.ExcerptsInCycle(7)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = r.AcquireStore(8, true)
	assert.ErrorIs(t, err, disk.ErrCycleNotFound)
}

func TestQueue_ReadOnlyMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "absent")
	q := openQueue(t, testConfig(dir, func(c *config.Config) { c.ReadOnly = true }))

	_, err := q.FirstCycle()
	assert.ErrorIs(t, err, queue.ErrEmptyQueue)
	assert.NoDirExists(t, dir)
}

func TestQueue_AdoptsPersistedRollCycle(t *testing.T) {
	dir := t.TempDir()
	clock := clockAt(3)
	q, err := queue.Open(testConfig(dir), queue.WithTimeProvider(clock))
	require.NoError(t, err)
	fill(t, q, clock, []int{3}, []int{1})
	require.NoError(t, q.Close())

	reopened := openQueue(t, testConfig(dir, func(c *config.Config) { c.RollCycle = "TEST_HOURLY" }))
	assert.Equal(t, rollcycle.TestDaily.Name(), reopened.RollCycle().Name())

	n, err := reopened.ExcerptsInCycle(3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

type recordingListener struct {
	acquired, released []int
}

func (l *recordingListener) OnAcquired(cycle int, _ string) { l.acquired = append(l.acquired, cycle) }
func (l *recordingListener) OnReleased(cycle int, _ string) { l.released = append(l.released, cycle) }

func TestQueue_StoreFileListener(t *testing.T) {
	l := &recordingListener{}
	q := openQueue(t, testConfig(t.TempDir()), queue.WithStoreFileListener(l))

	createCycles(t, q, 1, 2)
	assert.Equal(t, []int{1, 2}, l.acquired)
	assert.Equal(t, []int{1, 2}, l.released)
}

func TestQueue_Retention(t *testing.T) {
	clock := clockAt(1)
	q := openQueue(t, testConfig(t.TempDir()), queue.WithTimeProvider(clock))
	createCycles(t, q, 1, 2, 3, 4)

	deleted, err := q.EnforceRetention(2)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	files, err := q.ListCycles()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, 3, files[0].Cycle)
}
