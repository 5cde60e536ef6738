package settings

import (
	"reflect"
	"time"
)

// ControlKind suggests which control a user interface should present.
type ControlKind uint8

const (
	// ControlCustom has no standard control; the UI supplies one.
	ControlCustom ControlKind = iota

	// ControlToggle is an on/off switch.
	ControlToggle

	// ControlPicker chooses among options.
	ControlPicker

	// ControlSlider picks a number in a range.
	ControlSlider

	// ControlStepper moves a number in fixed steps.
	ControlStepper

	// ControlTextField edits free text or a number.
	ControlTextField

	// ControlDatePicker chooses a point in time.
	ControlDatePicker
)

// String returns the control name.
func (k ControlKind) String() string {
	switch k {
	case ControlToggle:
		return "toggle"
	case ControlPicker:
		return "picker"
	case ControlSlider:
		return "slider"
	case ControlStepper:
		return "stepper"
	case ControlTextField:
		return "text-field"
	case ControlDatePicker:
		return "date-picker"
	default:
		return "custom"
	}
}

// Kind chooses a control from the configuration first, then the value
// type.
func (s *Setting[T]) Kind() ControlKind {
	switch {
	case s.config.HasOptions():
		return ControlPicker
	case s.config.HasBounds() && s.config.Step != nil:
		return ControlStepper
	case s.config.HasBounds():
		return ControlSlider
	}

	t := reflect.TypeFor[T]()
	if t == reflect.TypeFor[time.Time]() {
		return ControlDatePicker
	}
	switch t.Kind() {
	case reflect.Bool:
		return ControlToggle
	case reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return ControlTextField
	}
	return ControlCustom
}
