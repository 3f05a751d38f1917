package util

import (
	"sync/atomic"
	"time"
)

// TimeProvider is the wall clock cycles are computed from.
type TimeProvider interface {
	CurrentTimeMillis() int64
}

// SystemTimeProvider reads the host clock.
type SystemTimeProvider struct{}

func (SystemTimeProvider) CurrentTimeMillis() int64 {
	return time.Now().UnixMilli()
}

// SetTimeProvider is a manually driven clock for tests and replays.
type SetTimeProvider struct {
	ms atomic.Int64
}

func NewSetTimeProvider(ms int64) *SetTimeProvider {
	p := &SetTimeProvider{}
	p.ms.Store(ms)
	return p
}

func (p *SetTimeProvider) CurrentTimeMillis() int64 {
	return p.ms.Load()
}

func (p *SetTimeProvider) Set(ms int64) {
	p.ms.Store(ms)
}

func (p *SetTimeProvider) SetTime(t time.Time) {
	p.ms.Store(t.UnixMilli())
}

func (p *SetTimeProvider) Advance(d time.Duration) int64 {
	return p.ms.Add(d.Milliseconds())
}
