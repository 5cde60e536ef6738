// Package codec converts typed setting values to and from the representation
// handed to key-value backends.
//
// Scalar kinds (booleans, integers, floating point, strings, byte blobs and
// timestamps) pass through as normalised native values. Every other type is
// encoded as a binary property list and stored as an opaque []byte. The
// choice is made from the requested static type, never by inspecting the
// backend.
package codec

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"howett.net/plist"
)

var (
	bytesType = reflect.TypeFor[[]byte]()
	timeType  = reflect.TypeFor[time.Time]()
)

// ErrUnsupported is returned when a value cannot be encoded at all.
var ErrUnsupported = errors.New("unsupported value type")

// DecodeError describes a structured value that could not be decoded.
type DecodeError struct {
	Type string
	Err  error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s: %v", e.Type, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsNative reports whether values of type T are stored natively.
func IsNative[T any]() bool {
	return isNativeType(reflect.TypeFor[T]())
}

func isNativeType(t reflect.Type) bool {
	if t == nil {
		return false
	}
	if t == timeType {
		return true
	}
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.String:
		return true
	case reflect.Slice:
		return t.Elem().Kind() == reflect.Uint8
	}
	return false
}

// Encode converts v into its storage representation.
func Encode[T any](v T) (any, error) {
	if !IsNative[T]() {
		data, err := plist.Marshal(v, plist.BinaryFormat)
		if err != nil {
			return nil, fmt.Errorf("encoding %T: %w", v, err)
		}
		return data, nil
	}
	kind, normalized := Classify(v)
	if kind == KindInvalid {
		return nil, fmt.Errorf("%w: %T", ErrUnsupported, v)
	}
	return normalized, nil
}

// Decode converts a raw stored value back into T. The boolean is false when
// raw is absent, of the wrong shape, or fails to decode.
func Decode[T any](raw any) (T, bool) {
	v, err := DecodeErr[T](raw)
	return v, err == nil
}

// DecodeErr is Decode with the failure reason. A nil raw value yields
// ErrAbsent.
func DecodeErr[T any](raw any) (T, error) {
	var zero T
	if raw == nil {
		return zero, ErrAbsent
	}
	if v, ok := raw.(T); ok {
		return v, nil
	}

	t := reflect.TypeFor[T]()
	if isNativeType(t) {
		out, ok := convert(reflect.ValueOf(raw), t)
		if !ok {
			return zero, &TypeError{Expected: t.String(), Actual: fmt.Sprintf("%T", raw)}
		}
		return out.Interface().(T), nil
	}

	data, ok := raw.([]byte)
	if !ok {
		return zero, &TypeError{Expected: "encoded " + t.String(), Actual: fmt.Sprintf("%T", raw)}
	}
	var out T
	if _, err := plist.Unmarshal(data, &out); err != nil {
		return zero, &DecodeError{Type: t.String(), Err: err}
	}
	return out, nil
}

// ErrAbsent reports a missing value.
var ErrAbsent = errors.New("value absent")

// TypeError is returned when a stored value has the wrong shape.
type TypeError struct {
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *TypeError) Error() string {
	return fmt.Sprintf("expected %s, got %s", e.Expected, e.Actual)
}

// convert coerces a native raw value to the native target type t.
func convert(src reflect.Value, t reflect.Type) (reflect.Value, bool) {
	out := reflect.New(t).Elem()

	if t == timeType {
		ts, ok := src.Interface().(time.Time)
		if !ok {
			return out, false
		}
		out.Set(reflect.ValueOf(ts))
		return out, true
	}

	switch t.Kind() {
	case reflect.Bool:
		if src.Kind() != reflect.Bool {
			return out, false
		}
		out.SetBool(src.Bool())

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, ok := asInt64(src)
		if !ok || out.OverflowInt(i) {
			return out, false
		}
		out.SetInt(i)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		i, ok := asInt64(src)
		if ok {
			if i < 0 || out.OverflowUint(uint64(i)) {
				return out, false
			}
			out.SetUint(uint64(i))
			break
		}
		if !isUint(src.Kind()) || out.OverflowUint(src.Uint()) {
			return out, false
		}
		out.SetUint(src.Uint())

	case reflect.Float32, reflect.Float64:
		switch {
		case src.Kind() == reflect.Float32 || src.Kind() == reflect.Float64:
			out.SetFloat(src.Float())
		case isInt(src.Kind()):
			out.SetFloat(float64(src.Int()))
		case isUint(src.Kind()):
			out.SetFloat(float64(src.Uint()))
		default:
			return out, false
		}

	case reflect.String:
		if src.Kind() != reflect.String {
			return out, false
		}
		out.SetString(src.String())

	case reflect.Slice:
		if src.Kind() != reflect.Slice || src.Type().Elem().Kind() != reflect.Uint8 {
			return out, false
		}
		b := make([]byte, src.Len())
		copy(b, src.Bytes())
		out.SetBytes(b)

	default:
		return out, false
	}
	return out, true
}

func asInt64(v reflect.Value) (int64, bool) {
	switch {
	case isInt(v.Kind()):
		return v.Int(), true
	case isUint(v.Kind()):
		u := v.Uint()
		if u > 1<<63-1 {
			return 0, false
		}
		return int64(u), true
	}
	return 0, false
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uint64
}
