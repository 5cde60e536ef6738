package codec

import (
	"fmt"
	"reflect"
	"time"

	"howett.net/plist"
)

// Kind identifies the normalised native storage kind of a value.
type Kind uint8

const (
	// KindInvalid marks a value with no native representation.
	KindInvalid Kind = iota
	// KindBool is stored as bool.
	KindBool
	// KindInt is stored as int64.
	KindInt
	// KindFloat is stored as float64.
	KindFloat
	// KindString is stored as string.
	KindString
	// KindBytes is stored as []byte. Encoded structured values use this kind.
	KindBytes
	// KindTime is stored as time.Time.
	KindTime
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindTime:
		return "time"
	default:
		return "invalid"
	}
}

// Classify returns the storage kind of v and its normalised form
// (int64, float64, string, bool, []byte or time.Time). Named types are
// reduced to their underlying kind.
func Classify(v any) (Kind, any) {
	switch x := v.(type) {
	case nil:
		return KindInvalid, nil
	case bool:
		return KindBool, x
	case int64:
		return KindInt, x
	case float64:
		return KindFloat, x
	case string:
		return KindString, x
	case []byte:
		return KindBytes, x
	case time.Time:
		return KindTime, x
	}

	rv := reflect.ValueOf(v)
	switch {
	case rv.Kind() == reflect.Bool:
		return KindBool, rv.Bool()
	case isInt(rv.Kind()):
		return KindInt, rv.Int()
	case isUint(rv.Kind()):
		i, ok := asInt64(rv)
		if !ok {
			return KindInvalid, nil
		}
		return KindInt, i
	case rv.Kind() == reflect.Float32 || rv.Kind() == reflect.Float64:
		return KindFloat, rv.Float()
	case rv.Kind() == reflect.String:
		return KindString, rv.String()
	case rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8:
		b := make([]byte, rv.Len())
		copy(b, rv.Bytes())
		return KindBytes, b
	}
	return KindInvalid, nil
}

// MarshalAny encodes an untyped native value as a self-describing binary
// property list, for backends that only move opaque bytes.
func MarshalAny(v any) ([]byte, error) {
	kind, normalized := Classify(v)
	if kind == KindInvalid {
		return nil, fmt.Errorf("%w: %T", ErrUnsupported, v)
	}
	return plist.Marshal(normalized, plist.BinaryFormat)
}

// UnmarshalAny reverses MarshalAny.
func UnmarshalAny(data []byte) (any, error) {
	var v any
	if _, err := plist.Unmarshal(data, &v); err != nil {
		return nil, &DecodeError{Type: "any", Err: err}
	}
	kind, normalized := Classify(v)
	if kind == KindInvalid {
		return nil, &DecodeError{Type: "any", Err: fmt.Errorf("%w: %T", ErrUnsupported, v)}
	}
	return normalized, nil
}
