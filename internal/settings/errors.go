package settings

import (
	"errors"
	"fmt"
)

// Errors reported by the few Manager calls that return one.
var (
	// ErrNotFound indicates no setting is registered under the key.
	ErrNotFound = errors.New("setting not found")

	// ErrTypeMismatch indicates the setting holds a different type.
	ErrTypeMismatch = errors.New("setting type mismatch")
)

// LookupError describes a failed lookup of a registered setting.
type LookupError struct {
	Key  string
	Want string
	Err  error
}

func (e *LookupError) Error() string {
	if e.Want != "" {
		return fmt.Sprintf("setting %q (%s): %v", e.Key, e.Want, e.Err)
	}
	return fmt.Sprintf("setting %q: %v", e.Key, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}
