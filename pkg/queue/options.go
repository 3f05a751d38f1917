package queue

import (
	"time"

	"github.com/downfa11-org/cursus-queue/pkg/disk"
	"github.com/downfa11-org/cursus-queue/pkg/types"
	"github.com/downfa11-org/cursus-queue/util"
)

type options struct {
	clock         util.TimeProvider
	listener      types.StoreFileListener
	headerFactory func(cycle int, epochMs int64) *disk.StoreHeader
	wallClock     func() int64
}

type Option func(*options)

// WithTimeProvider sets the clock that decides the current cycle.
func WithTimeProvider(p util.TimeProvider) Option {
	return func(o *options) { o.clock = p }
}

func WithStoreFileListener(l types.StoreFileListener) Option {
	return func(o *options) { o.listener = l }
}

// WithHeaderFactory overrides the header written into new cycle files.
func WithHeaderFactory(f func(cycle int, epochMs int64) *disk.StoreHeader) Option {
	return func(o *options) { o.headerFactory = f }
}

// withRescanClock replaces the millisecond clock used to debounce directory rescans.
func withRescanClock(fn func() int64) Option {
	return func(o *options) { o.wallClock = fn }
}

func defaultOptions() options {
	return options{
		clock:    util.SystemTimeProvider{},
		listener: types.NopStoreFileListener{},
		wallClock: func() int64 {
			return time.Now().UnixMilli()
		},
	}
}
