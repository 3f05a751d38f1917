package offset

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

var bucketOffsets = []byte("tailers")

// ErrNoOffset is returned for a tailer name that never committed.
var ErrNoOffset = errors.New("no offset found")

// OffsetManager persists the last committed index of named tailers in a
// single bbolt file.
type OffsetManager struct {
	db       *bbolt.DB
	readOnly bool
}

// NewOffsetManager opens (or creates) the checkpoint database at path.
func NewOffsetManager(path string, readOnly bool) (*OffsetManager, error) {
	db, err := bbolt.Open(path, 0o640, &bbolt.Options{Timeout: time.Second, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("offset: open %s: %w", path, err)
	}

	if !readOnly {
		if err := db.Update(func(tx *bbolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketOffsets)
			return err
		}); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("offset: init bucket: %w", err)
		}
	}
	return &OffsetManager{db: db, readOnly: readOnly}, nil
}

func (om *OffsetManager) GetOffset(name string) (int64, error) {
	var index int64
	err := om.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketOffsets)
		if b == nil {
			return ErrNoOffset
		}
		val := b.Get([]byte(name))
		if len(val) != 8 {
			return ErrNoOffset
		}
		index = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	if err != nil {
		return -1, fmt.Errorf("offset %q: %w", name, err)
	}
	return index, nil
}

func (om *OffsetManager) CommitOffset(name string, index int64) error {
	if om.readOnly {
		return fmt.Errorf("offset: commit %q on read-only checkpoint store", name)
	}
	var val [8]byte
	binary.BigEndian.PutUint64(val[:], uint64(index))
	return om.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOffsets).Put([]byte(name), val[:])
	})
}

func (om *OffsetManager) DeleteOffset(name string) error {
	if om.readOnly {
		return fmt.Errorf("offset: delete %q on read-only checkpoint store", name)
	}
	return om.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOffsets).Delete([]byte(name))
	})
}

// Names lists every committed tailer name, sorted.
func (om *OffsetManager) Names() ([]string, error) {
	var names []string
	err := om.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketOffsets)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	sort.Strings(names)
	return names, err
}

func (om *OffsetManager) Close() error {
	return om.db.Close()
}
