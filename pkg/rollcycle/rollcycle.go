package rollcycle

import (
	"fmt"
	"math/bits"
	"strings"
)

// NoCycle is returned by directory walks when no neighbouring cycle exists.
const NoCycle = -1

// RollCycle fixes how wall-clock time is cut into cycles and how a cycle and
// a sequence number pack into one 64-bit index.
type RollCycle struct {
	name         string
	format       string
	lengthMs     int64
	indexCount   int
	indexSpacing int
	cycleShift   uint
	sequenceMask int64
}

// New builds a roll cycle. format is a Go time layout used for file names.
// indexCount and indexSpacing must be powers of two; invalid bit widths panic.
func New(name, format string, lengthMs int64, indexCount, indexSpacing int) RollCycle {
	if lengthMs <= 0 {
		panic(fmt.Sprintf("rollcycle %s: length must be positive, got %d", name, lengthMs))
	}
	if !powerOfTwo(indexCount) || !powerOfTwo(indexSpacing) {
		panic(fmt.Sprintf("rollcycle %s: indexCount %d and indexSpacing %d must be powers of two", name, indexCount, indexSpacing))
	}
	shift := uint(2*bits.TrailingZeros(uint(indexCount)) + bits.TrailingZeros(uint(indexSpacing)))
	if shift < 32 {
		shift = 32
	}
	if shift > 48 {
		panic(fmt.Sprintf("rollcycle %s: %d sequence bits leaves too few for cycles", name, shift))
	}
	return RollCycle{
		name:         name,
		format:       format,
		lengthMs:     lengthMs,
		indexCount:   indexCount,
		indexSpacing: indexSpacing,
		cycleShift:   shift,
		sequenceMask: int64(1)<<shift - 1,
	}
}

func powerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

func (rc RollCycle) Name() string      { return rc.name }
func (rc RollCycle) Format() string    { return rc.format }
func (rc RollCycle) LengthMs() int64   { return rc.lengthMs }
func (rc RollCycle) IndexCount() int   { return rc.indexCount }
func (rc RollCycle) IndexSpacing() int { return rc.indexSpacing }
func (rc RollCycle) SequenceBits() int { return int(rc.cycleShift) }

// Current returns floor((timeMs - epochMs) / length).
func (rc RollCycle) Current(timeMs, epochMs int64) int {
	return int(floorDiv(timeMs-epochMs, rc.lengthMs))
}

// StartMillis is the first millisecond belonging to cycle.
func (rc RollCycle) StartMillis(cycle int, epochMs int64) int64 {
	return int64(cycle)*rc.lengthMs + epochMs
}

// ToIndex packs cycle and sequence. A sequence of -1 yields the index just
// before the cycle's first record.
func (rc RollCycle) ToIndex(cycle int, sequence int64) int64 {
	return int64(cycle)<<rc.cycleShift + sequence
}

func (rc RollCycle) ToCycle(index int64) int {
	return int(index >> rc.cycleShift)
}

func (rc RollCycle) ToSequenceNumber(index int64) int64 {
	return index & rc.sequenceMask
}

// SequenceNotSet is the decoded sequence of a "no record yet" index. No real
// record is ever assigned it.
func (rc RollCycle) SequenceNotSet() int64 {
	return rc.ToSequenceNumber(-1)
}

// MaxSequence is the largest sequence a record can carry within one cycle.
func (rc RollCycle) MaxSequence() int64 {
	return rc.sequenceMask - 1
}

func (rc RollCycle) Equal(other RollCycle) bool {
	return rc.lengthMs == other.lengthMs &&
		rc.format == other.format &&
		rc.indexCount == other.indexCount &&
		rc.indexSpacing == other.indexSpacing
}

func (rc RollCycle) String() string {
	return fmt.Sprintf("%s(%s,%dms)", rc.name, rc.format, rc.lengthMs)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

const (
	secondMs = int64(1000)
	minuteMs = 60 * secondMs
	hourMs   = 60 * minuteMs
	dayMs    = 24 * hourMs
)

var (
	TestSecondly = New("TEST_SECONDLY", "20060102-150405", secondMs, 1<<15, 4)
	Minutely     = New("MINUTELY", "20060102-1504", minuteMs, 2<<10, 16)
	TestHourly   = New("TEST_HOURLY", "20060102-15", hourMs, 16, 4)
	Hourly       = New("HOURLY", "20060102-15", hourMs, 4<<10, 16)
	TestDaily    = New("TEST_DAILY", "20060102", dayMs, 8, 1)
	SmallDaily   = New("SMALL_DAILY", "20060102", dayMs, 8<<10, 8)
	Daily        = New("DAILY", "20060102", dayMs, 8<<10, 64)
	LargeDaily   = New("LARGE_DAILY", "20060102", dayMs, 32<<10, 64)
)

var predefined = []RollCycle{TestSecondly, Minutely, TestHourly, Hourly, TestDaily, SmallDaily, Daily, LargeDaily}

// ByName looks up a predefined roll cycle, ignoring case.
func ByName(name string) (RollCycle, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for _, rc := range predefined {
		if rc.name == name {
			return rc, true
		}
	}
	return RollCycle{}, false
}

// Match finds the predefined cycle equal to the persisted parameters, or
// builds an ad-hoc one when none matches.
func Match(format string, lengthMs int64, indexCount, indexSpacing int) RollCycle {
	for _, rc := range predefined {
		if rc.format == format && rc.lengthMs == lengthMs && rc.indexCount == indexCount && rc.indexSpacing == indexSpacing {
			return rc
		}
	}
	return New("CUSTOM", format, lengthMs, indexCount, indexSpacing)
}
