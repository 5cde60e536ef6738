package settings

import (
	"fmt"

	"github.com/dshills/storedsettings/internal/logging"
)

// Enum describes a closed set of cases C, each stored as a raw value R.
// It lets a setting hold R while callers work with C.
type Enum[C comparable, R comparable] struct {
	// Cases lists every case in display order.
	Cases []C

	// Raw maps a case to its stored value. Required.
	Raw func(C) R

	// Label names a case. Defaults to the printed raw value.
	Label func(C) string

	// Image decorates a case. Optional.
	Image func(C) Image

	// IsDefault marks the default case. The first marked case wins; with
	// none marked the first case is the default.
	IsDefault func(C) bool
}

// Case returns the case whose raw value is raw.
func (e Enum[C, R]) Case(raw R) (C, bool) {
	if e.Raw != nil {
		for _, c := range e.Cases {
			if e.Raw(c) == raw {
				return c, true
			}
		}
	}
	var zero C
	return zero, false
}

// Options derives one option per case.
func (e Enum[C, R]) Options() []Option[R] {
	if e.Raw == nil {
		return nil
	}
	opts := make([]Option[R], len(e.Cases))
	for i, c := range e.Cases {
		raw := e.Raw(c)
		o := Option[R]{Value: raw, Label: fmt.Sprint(raw)}
		if e.Label != nil {
			o.Label = e.Label(c)
		}
		if e.Image != nil {
			o.Image = e.Image(c)
		}
		if e.IsDefault != nil {
			o.IsDefault = e.IsDefault(c)
		}
		opts[i] = o
	}
	return opts
}

// NewFromEnum creates a setting storing the raw values of e's cases. It
// returns false when e has no cases or no Raw mapping.
func NewFromEnum[C comparable, R comparable](key string, e Enum[C, R], opts ...SettingOption) (*Setting[R], bool) {
	if len(e.Cases) == 0 || e.Raw == nil {
		logging.Logger().Debug("enum has no cases", "key", key)
		return nil, false
	}
	return NewWithOptions(key, e.Options(), opts...)
}

// Represented returns the current value of s as a case of e.
func Represented[C comparable, R comparable](s *Setting[R], e Enum[C, R]) (C, bool) {
	return e.Case(s.Value())
}
