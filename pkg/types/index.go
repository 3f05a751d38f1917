package types

import "time"

const (
	IndexEntrySize = 8 // record position
)

// CycleFile describes one cycle file found in a queue directory.
type CycleFile struct {
	Cycle   int
	Path    string
	Size    int64
	ModTime time.Time
}
