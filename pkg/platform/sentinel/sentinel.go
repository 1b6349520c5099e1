package sentinel

import "errors"

// Sentinel errors for storage facts. Stores return these wrapped so callers
// can branch with errors.Is without knowing the backend.
//
// ErrNotFound means the row does not exist. ErrInvalidState means the row
// exists but cannot make the requested transition, for example leaving the
// terminal unrecordable group state.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
)
