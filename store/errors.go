package store

import (
	"errors"
	"fmt"
	"strings"
)

// Logical errors are terminal per-request; stores never retry them.
// Anything else bubbling out of a store method is a storage error and may
// be retried by surrounding infrastructure.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrForbidden    = errors.New("forbidden")
)

// VersionConflict describes one key whose expected version did not match
// storage at write time.
type VersionConflict struct {
	Key             string `json:"key"`
	ExpectedVersion string `json:"expected_version"`
	ActualVersion   string `json:"actual_version"`
}

// VersionConflictError rejects an entire write batch. It carries every
// mismatched key with full version vectors so callers can merge; no key in
// the batch was applied.
type VersionConflictError struct {
	Conflicts []VersionConflict
}

func (e *VersionConflictError) Error() string {
	keys := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		keys = append(keys, fmt.Sprintf("%s (expected %s, actual %s)", c.Key, c.ExpectedVersion, c.ActualVersion))
	}
	return "version conflict: " + strings.Join(keys, ", ")
}

// AsVersionConflict unwraps err into a *VersionConflictError if it is one.
func AsVersionConflict(err error) (*VersionConflictError, bool) {
	var vc *VersionConflictError
	if errors.As(err, &vc) {
		return vc, true
	}
	return nil, false
}

// isDuplicateKey matches the unique-violation messages of postgres and
// sqlite, the two drivers this service runs on.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
