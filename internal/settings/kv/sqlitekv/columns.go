package sqlitekv

import (
	"fmt"
	"time"

	"github.com/dshills/storedsettings/internal/settings/codec"
)

// toColumn maps a normalised scalar to the value bound into the value
// column.
func toColumn(kind codec.Kind, v any) any {
	switch kind {
	case codec.KindBool:
		if v.(bool) {
			return int64(1)
		}
		return int64(0)
	case codec.KindTime:
		return v.(time.Time).UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

// fromColumn restores the normalised scalar for a stored row.
func fromColumn(kind string, raw any) (any, error) {
	switch kind {
	case codec.KindBool.String():
		n, ok := raw.(int64)
		if !ok {
			return nil, fmt.Errorf("bool column holds %T", raw)
		}
		return n != 0, nil
	case codec.KindInt.String():
		n, ok := raw.(int64)
		if !ok {
			return nil, fmt.Errorf("int column holds %T", raw)
		}
		return n, nil
	case codec.KindFloat.String():
		switch f := raw.(type) {
		case float64:
			return f, nil
		case int64:
			return float64(f), nil
		}
		return nil, fmt.Errorf("float column holds %T", raw)
	case codec.KindString.String():
		switch s := raw.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
		return nil, fmt.Errorf("string column holds %T", raw)
	case codec.KindBytes.String():
		switch b := raw.(type) {
		case []byte:
			return b, nil
		case nil:
			return []byte{}, nil
		}
		return nil, fmt.Errorf("bytes column holds %T", raw)
	case codec.KindTime.String():
		var text string
		switch s := raw.(type) {
		case string:
			text = s
		case []byte:
			text = string(s)
		default:
			return nil, fmt.Errorf("time column holds %T", raw)
		}
		t, err := time.Parse(time.RFC3339Nano, text)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
}
