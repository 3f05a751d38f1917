package rollcycle_test

import (
	"testing"
	"time"

	"github.com/downfa11-org/cursus-queue/pkg/rollcycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexRoundTrip(t *testing.T) {
	for _, rc := range []rollcycle.RollCycle{rollcycle.TestDaily, rollcycle.Daily, rollcycle.LargeDaily, rollcycle.Minutely} {
		t.Run(rc.Name(), func(t *testing.T) {
			cases := []struct {
				cycle int
				seq   int64
			}{
				{0, 0},
				{1, 1},
				{19000, 12345},
				{20000, rc.MaxSequence()},
				{1 << 14, 0},
			}
			for _, c := range cases {
				idx := rc.ToIndex(c.cycle, c.seq)
				assert.Equal(t, c.cycle, rc.ToCycle(idx), "cycle for %x", idx)
				assert.Equal(t, c.seq, rc.ToSequenceNumber(idx), "seq for %x", idx)
				assert.Equal(t, idx, rc.ToIndex(rc.ToCycle(idx), rc.ToSequenceNumber(idx)))
			}
		})
	}
}

func TestIndexOrderingAcrossCycles(t *testing.T) {
	rc := rollcycle.Daily
	assert.Less(t, rc.ToIndex(5, rc.MaxSequence()), rc.ToIndex(6, 0))
	assert.Less(t, rc.ToIndex(5, 10), rc.ToIndex(5, 11))
}

func TestSequenceSentinel(t *testing.T) {
	rc := rollcycle.TestDaily
	sentinel := rc.ToIndex(7, -1)

	assert.Equal(t, rc.ToIndex(7, 0)-1, sentinel)
	assert.Equal(t, rc.SequenceNotSet(), rc.ToSequenceNumber(sentinel))
	assert.Equal(t, 6, rc.ToCycle(sentinel))
	assert.Greater(t, sentinel, rc.ToIndex(6, rc.MaxSequence()))
	assert.Equal(t, int64(1)<<32-1, rc.SequenceNotSet())
}

func TestSequenceBits(t *testing.T) {
	assert.Equal(t, 32, rollcycle.TestDaily.SequenceBits())
	assert.Equal(t, 32, rollcycle.Daily.SequenceBits())
	assert.Equal(t, 36, rollcycle.LargeDaily.SequenceBits())
}

func TestCurrent(t *testing.T) {
	day := time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)
	rc := rollcycle.Daily

	cycle := rc.Current(day.UnixMilli(), 0)
	assert.Equal(t, int(day.Unix()/86400), cycle)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), rc.StartMillis(cycle, 0))

	epoch := int64(14 * time.Hour / time.Millisecond)
	assert.Equal(t, cycle-1, rc.Current(day.UnixMilli(), epoch))

	assert.Equal(t, -1, rc.Current(-1, 0))
	assert.Equal(t, 0, rollcycle.TestSecondly.Current(999, 0))
	assert.Equal(t, 1, rollcycle.TestSecondly.Current(1000, 0))
}

func TestByName(t *testing.T) {
	rc, ok := rollcycle.ByName("test_daily")
	require.True(t, ok)
	assert.True(t, rc.Equal(rollcycle.TestDaily))

	_, ok = rollcycle.ByName("fortnightly")
	assert.False(t, ok)

	m := rollcycle.Match("20060102", 86400000, 8<<10, 64)
	assert.Equal(t, "DAILY", m.Name())

	custom := rollcycle.Match("2006", 86400000*365, 16, 1)
	assert.Equal(t, "CUSTOM", custom.Name())
}

func TestNewPanicsOnInvalidWidths(t *testing.T) {
	assert.Panics(t, func() { rollcycle.New("BAD", "2006", 1000, 6, 1) })
	assert.Panics(t, func() { rollcycle.New("BAD", "2006", 0, 8, 1) })
	assert.Panics(t, func() { rollcycle.New("BAD", "2006", 1000, 1<<20, 1<<10) })
}
