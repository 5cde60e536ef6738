package codec

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

type appearance string

type color struct {
	Red   float64 `plist:"red"`
	Green float64 `plist:"green"`
	Blue  float64 `plist:"blue"`
	Alpha float64 `plist:"alpha"`
}

func TestIsNative(t *testing.T) {
	tests := []struct {
		name string
		got  bool
		want bool
	}{
		{"bool", IsNative[bool](), true},
		{"int", IsNative[int](), true},
		{"uint16", IsNative[uint16](), true},
		{"float64", IsNative[float64](), true},
		{"string", IsNative[string](), true},
		{"named string", IsNative[appearance](), true},
		{"bytes", IsNative[[]byte](), true},
		{"time", IsNative[time.Time](), true},
		{"struct", IsNative[color](), false},
		{"string slice", IsNative[[]string](), false},
		{"map", IsNative[map[string]int](), false},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("IsNative[%s]() = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestEncode_NativeNormalises(t *testing.T) {
	raw, err := Encode(int32(42))
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if raw != int64(42) {
		t.Errorf("Encode(int32) = %#v, want int64(42)", raw)
	}

	raw, err = Encode(appearance("dark"))
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if raw != "dark" {
		t.Errorf("Encode(appearance) = %#v, want \"dark\"", raw)
	}
}

func TestRoundTrip_Scalars(t *testing.T) {
	now := time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC)

	checkRoundTrip(t, true)
	checkRoundTrip(t, 7)
	checkRoundTrip(t, int64(-9))
	checkRoundTrip(t, uint8(200))
	checkRoundTrip(t, 2.5)
	checkRoundTrip(t, "hello")
	checkRoundTrip(t, appearance("light"))
	checkRoundTrip(t, now)

	raw, err := Encode([]byte{1, 2, 3})
	if err != nil {
		t.Fatalf("Encode bytes: %v", err)
	}
	got, ok := Decode[[]byte](raw)
	if !ok || !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("bytes round trip = %v, %v", got, ok)
	}
}

func checkRoundTrip[T comparable](t *testing.T, v T) {
	t.Helper()
	raw, err := Encode(v)
	if err != nil {
		t.Fatalf("Encode(%v) error: %v", v, err)
	}
	got, ok := Decode[T](raw)
	if !ok {
		t.Fatalf("Decode(%v) failed", raw)
	}
	if got != v {
		t.Errorf("round trip = %v, want %v", got, v)
	}
}

func TestRoundTrip_Structured(t *testing.T) {
	c := color{Red: 0.1, Green: 0.2, Blue: 0.3, Alpha: 1}

	raw, err := Encode(c)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if _, ok := raw.([]byte); !ok {
		t.Fatalf("structured value encoded as %T, want []byte", raw)
	}

	got, ok := Decode[color](raw)
	if !ok {
		t.Fatal("Decode failed")
	}
	if got != c {
		t.Errorf("Decode = %+v, want %+v", got, c)
	}
}

func TestDecode_Absent(t *testing.T) {
	if _, ok := Decode[int](nil); ok {
		t.Error("Decode(nil) should fail")
	}
	if _, err := DecodeErr[int](nil); !errors.Is(err, ErrAbsent) {
		t.Errorf("DecodeErr(nil) = %v, want ErrAbsent", err)
	}
}

func TestDecode_TypeMismatch(t *testing.T) {
	if _, ok := Decode[bool]("true"); ok {
		t.Error("Decode[bool](string) should fail")
	}
	if _, ok := Decode[int](1.5); ok {
		t.Error("Decode[int](float) should fail")
	}
	if _, ok := Decode[string](int64(1)); ok {
		t.Error("Decode[string](int) should fail")
	}

	var typeErr *TypeError
	if _, err := DecodeErr[bool](int64(1)); !errors.As(err, &typeErr) {
		t.Errorf("DecodeErr error = %v, want *TypeError", err)
	}
}

func TestDecode_Overflow(t *testing.T) {
	if _, ok := Decode[int8](int64(300)); ok {
		t.Error("Decode[int8](300) should fail")
	}
	if _, ok := Decode[uint](int64(-1)); ok {
		t.Error("Decode[uint](-1) should fail")
	}
}

func TestDecode_IntegerAsFloat(t *testing.T) {
	got, ok := Decode[float64](int64(3))
	if !ok || got != 3 {
		t.Errorf("Decode[float64](int64(3)) = %v, %v", got, ok)
	}
}

func TestDecode_CorruptStructured(t *testing.T) {
	_, err := DecodeErr[color]([]byte("bplist00\x01\x02garbage"))
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("error = %v, want *DecodeError", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		in   any
		kind Kind
		out  any
	}{
		{true, KindBool, true},
		{42, KindInt, int64(42)},
		{uint32(7), KindInt, int64(7)},
		{float32(0.5), KindFloat, float64(0.5)},
		{appearance("x"), KindString, "x"},
		{struct{}{}, KindInvalid, nil},
		{nil, KindInvalid, nil},
	}

	for _, tt := range tests {
		kind, out := Classify(tt.in)
		if kind != tt.kind || out != tt.out {
			t.Errorf("Classify(%#v) = %v, %#v; want %v, %#v", tt.in, kind, out, tt.kind, tt.out)
		}
	}
}

func TestMarshalAny(t *testing.T) {
	for _, v := range []any{true, int64(12), 1.25, "text"} {
		data, err := MarshalAny(v)
		if err != nil {
			t.Fatalf("MarshalAny(%v) error: %v", v, err)
		}
		got, err := UnmarshalAny(data)
		if err != nil {
			t.Fatalf("UnmarshalAny error: %v", err)
		}
		if got != v {
			t.Errorf("UnmarshalAny = %#v, want %#v", got, v)
		}
	}

	if _, err := MarshalAny(struct{}{}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("MarshalAny(struct) error = %v, want ErrUnsupported", err)
	}
}
