package disk

import "errors"

var (
	// ErrCycleNotFound means the cycle has no file and none was requested.
	ErrCycleNotFound = errors.New("cycle file not found")
	// ErrStoreNotReady means another writer never finished the file header in time.
	ErrStoreNotReady = errors.New("timed out waiting for store header")
	// ErrCorruptStore means the file does not start with a valid header.
	ErrCorruptStore = errors.New("first message should be the header")
	// ErrCycleFileMissing means a cycle expected to be on disk is absent.
	ErrCycleFileMissing = errors.New("cycle file missing from queue directory")
	ErrInvalidDirection = errors.New("direction must be forward or backward")

	ErrPoolClosed         = errors.New("store pool closed")
	ErrStoreClosed        = errors.New("store closed")
	ErrReadOnly           = errors.New("store opened read-only")
	ErrRecordTooLarge     = errors.New("record larger than mapping overlap")
	ErrRegionUnavailable  = errors.New("region beyond end of file")
	ErrStoreEOF           = errors.New("store sealed by end-of-file marker")
	ErrCycleFull          = errors.New("cycle sequence space exhausted")
	ErrSequenceOutOfRange = errors.New("sequence not present in store")
	ErrWriteLockTimeout   = errors.New("timed out waiting for write lock")
	ErrMappingUnsupported = errors.New("memory mapping unsupported on this platform")
)
