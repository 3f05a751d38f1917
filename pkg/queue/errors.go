package queue

import "errors"

var (
	ErrQueueClosed        = errors.New("queue is closed")
	ErrReadOnly           = errors.New("queue is read-only")
	ErrInconsistentCycles = errors.New("cycle files changed while counting")
	ErrEmptyQueue         = errors.New("queue has no cycles")
	ErrCursorClosed       = errors.New("cursor is closed")
	ErrNothingAppended    = errors.New("appender has not written yet")
	ErrNoCheckpointStore  = errors.New("no checkpoint database configured")
	ErrUnnamedTailer      = errors.New("tailer has no name")
)
