package disk

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/downfa11-org/cursus-queue/pkg/config"
	"github.com/downfa11-org/cursus-queue/pkg/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openInternalStore(t *testing.T, recoveryMS int) (*StorePool, *Store) {
	t.Helper()
	cfg := &config.Config{
		QueueDir:              t.TempDir(),
		RollCycle:             "TEST_DAILY",
		BlockSize:             64 << 10,
		TimeoutMS:             500,
		RecoveryTimeoutMS:     recoveryMS,
		DisableDiskSpaceCheck: true,
	}
	cfg.Normalize()
	res, err := resource.NewCache(cfg.QueueDir, cfg.Cycle(), 4)
	require.NoError(t, err)
	pool := NewStorePool(cfg, res)
	t.Cleanup(pool.Close)

	s, err := pool.Acquire(1, 0, true)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Release(s) })
	return pool, s
}

func TestStore_RecoversAbandonedWriteLock(t *testing.T) {
	_, s := openInternalStore(t, 50)

	// a writer that died mid-record: lock held, header marked in progress
	pos := s.WritePosition()
	b, err := s.file.Bytes(pos, recordHeaderSize+16)
	require.NoError(t, err)
	copy(b[recordHeaderSize:], "half-written-rec")
	atomic.StoreUint32(word32(b, 0), recordNotComplete|16)
	atomic.StoreUint32(word32(s.meta, writeLockOffset), 999999)
	atomic.StoreInt64(word64(s.meta, lockTimeOffset), time.Now().UnixMilli())

	start := time.Now()
	seq, err := s.Append([]byte("ok"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, int64(0), seq)
	assert.Equal(t, int64(1), s.RecoveryCount())

	rec, err := s.ReadAt(pos)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), rec.Payload)

	next, err := s.ReadAt(rec.Next)
	require.NoError(t, err)
	assert.Equal(t, RecordEmpty, next.State)
	assert.Equal(t, uint32(0), atomic.LoadUint32(word32(s.meta, writeLockOffset)))
}

func TestStore_ReconcilesUnpublishedRecord(t *testing.T) {
	_, s := openInternalStore(t, 20000)

	_, err := s.Append([]byte("first"))
	require.NoError(t, err)

	// finished record whose writer never advanced the published position
	pos := s.WritePosition()
	b, err := s.file.Bytes(pos, recordHeaderSize+6)
	require.NoError(t, err)
	copy(b[recordHeaderSize:], "orphan")
	atomic.StoreUint32(word32(b, 0), recordComplete|6)
	assert.Equal(t, int64(0), s.LastSequenceNumber())

	seq, err := s.Append([]byte("third"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)
	assert.Equal(t, int64(0), s.RecoveryCount())

	orphanPos, err := s.PositionOf(1)
	require.NoError(t, err)
	rec, err := s.ReadAt(orphanPos)
	require.NoError(t, err)
	assert.Equal(t, []byte("orphan"), rec.Payload)
}

func TestStore_WriteLockTimeout(t *testing.T) {
	_, s := openInternalStore(t, 50)
	s.timeout = 20 * time.Millisecond

	// lock refreshed continuously by a live holder is never stolen
	done := make(chan struct{})
	defer close(done)
	atomic.StoreUint32(word32(s.meta, writeLockOffset), 999999)
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				atomic.StoreInt64(word64(s.meta, lockTimeOffset), time.Now().UnixMilli())
			}
		}
	}()

	_, err := s.Append([]byte("blocked"))
	assert.ErrorIs(t, err, ErrWriteLockTimeout)
	assert.Equal(t, int64(0), s.RecoveryCount())
}
