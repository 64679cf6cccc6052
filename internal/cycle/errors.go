package cycle

import "errors"

// Sentinel errors shared by the bridge and its store implementations.
// Callers check them with errors.Is.
var (
	// ErrNotFound covers a missing cycle, item or execution link. A
	// cross-tenant lookup reports this too, never a distinct error, so
	// existence of other tenants' data is not leaked.
	ErrNotFound = errors.New("cycle: not found")

	// ErrConflict is a concurrent-modification conflict detected by the
	// store. The bridge retries the read-compute-write once.
	ErrConflict = errors.New("cycle: write conflict")

	// ErrValidation rejects a malformed completion event before any
	// persistence or notification happens.
	ErrValidation = errors.New("cycle: invalid event")
)
