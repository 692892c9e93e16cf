// Package cache persists rows by id so a cached subtree runs once and later
// passes replay from storage. The Store is a plain ordered key-value surface;
// Client layers the row codec and id keying on top.
package cache

import "errors"

var (
	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("cache: store is closed")

	// ErrKeyNotFound is returned by Get when the key has never been set.
	ErrKeyNotFound = errors.New("cache: key not found")
)

// Store is an ordered key-value store. Keys are iterated in ascending byte
// order by Scan.
type Store interface {
	// Set stores val under key, overwriting any previous value.
	Set(key, val []byte) error

	// Get returns the value for key, or ErrKeyNotFound.
	Get(key []byte) ([]byte, error)

	// Scan returns up to limit values starting at the smallest key >= from,
	// in key order, plus the key to continue from. A nil next means the scan
	// reached the end.
	Scan(from []byte, limit int) (vals [][]byte, next []byte, err error)

	// SizeOnDisk reports the bytes the store occupies, 0 for in-memory stores.
	SizeOnDisk() (int64, error)

	// Close releases the store. Later calls fail with ErrStoreClosed.
	Close() error
}
