package util

import (
	"runtime"
	"time"
)

// Pauser backs off between polls of shared state: a few yields first, then
// sleeps doubling from min up to max.
type Pauser struct {
	min, max time.Duration
	yields   int
	count    int
	next     time.Duration
}

const pauserYields = 16

func NewPauser(min, max time.Duration) *Pauser {
	if min <= 0 {
		min = 50 * time.Microsecond
	}
	if max < min {
		max = min
	}
	return &Pauser{min: min, max: max, yields: pauserYields, next: min}
}

func (p *Pauser) Pause() {
	if p.count < p.yields {
		p.count++
		runtime.Gosched()
		return
	}
	time.Sleep(p.next)
	if p.next *= 2; p.next > p.max {
		p.next = p.max
	}
}

func (p *Pauser) Reset() {
	p.count = 0
	p.next = p.min
}

// Await polls cond until it reports true or timeout elapses.
func (p *Pauser) Await(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	defer p.Reset()
	for {
		if cond() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		p.Pause()
	}
}
