package subscriber

import "errors"

var (
	// ErrNotFound is returned when no record matches the lookup key.
	ErrNotFound = errors.New("subscriber not found")

	// ErrStore indicates the persistence layer failed the operation.
	ErrStore = errors.New("subscriber store unavailable")
)
