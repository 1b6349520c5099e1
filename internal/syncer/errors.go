package syncer

import (
	"errors"

	"creddd/internal/membership"
)

// ErrorKind tags a failure for logging, metrics and loop control.
type ErrorKind string

const (
	// KindTransient covers transport and store failures; the loop retries.
	KindTransient ErrorKind = "transient"
	// KindNotReady means the membership source has not caught up yet.
	KindNotReady ErrorKind = "not_ready"
	// KindSanityFailed means the sampled members did not verify on chain.
	KindSanityFailed ErrorKind = "sanity_failed"
	// KindFatalInvalidState means the source's data is inconsistent and the
	// group can no longer be recorded.
	KindFatalInvalidState ErrorKind = "fatal_invalid_state"
)

var (
	ErrNotReady          = errors.New("membership source not ready")
	ErrSanityCheckFailed = errors.New("sanity check failed")
)

// Classify maps an error onto its kind. Only membership.ErrInvalidBalance is
// fatal.
func Classify(err error) ErrorKind {
	switch {
	case errors.Is(err, membership.ErrInvalidBalance):
		return KindFatalInvalidState
	case errors.Is(err, ErrNotReady):
		return KindNotReady
	case errors.Is(err, ErrSanityCheckFailed):
		return KindSanityFailed
	default:
		return KindTransient
	}
}

// IsFatal reports whether err ends the engine.
func IsFatal(err error) bool {
	return err != nil && Classify(err) == KindFatalInvalidState
}
