package common

import "fmt"

// StoreErrType ...
type StoreErrType uint32

const (
	// KeyNotFound ...
	KeyNotFound StoreErrType = iota
	// TooOld signals that an item has been evicted from a bounded cache
	// window and can no longer be served from memory.
	TooOld
	// SkippedIndex ...
	SkippedIndex
	// KeyAlreadyExists ...
	KeyAlreadyExists
	// NoSnapshot signals that no full snapshot precedes the requested
	// height, neither in memory nor on disk.
	NoSnapshot
	// Corrupted signals that a value which was previously written is now
	// missing or undecodable. This is the fatal error class; callers are
	// expected to stop rather than continue with divergent state.
	Corrupted
)

// StoreErr ...
type StoreErr struct {
	dataType string
	errType  StoreErrType
	key      string
}

// NewStoreErr ...
func NewStoreErr(dataType string, errType StoreErrType, key string) StoreErr {
	return StoreErr{
		dataType: dataType,
		errType:  errType,
		key:      key,
	}
}

// Error ...
func (e StoreErr) Error() string {
	m := ""
	switch e.errType {
	case KeyNotFound:
		m = "Not Found"
	case TooOld:
		m = "Too Old"
	case SkippedIndex:
		m = "Skipped Index"
	case KeyAlreadyExists:
		m = "Key Already Exists"
	case NoSnapshot:
		m = "No Snapshot"
	case Corrupted:
		m = "Corrupted"
	}

	return fmt.Sprintf("%s, %s, %s", e.dataType, e.key, m)
}

// IsStore checks that an error is of type StoreErr and that its code matches
// the provided StoreErr code.
func IsStore(err error, t StoreErrType) bool {
	storeErr, ok := err.(StoreErr)
	return ok && storeErr.errType == t
}
