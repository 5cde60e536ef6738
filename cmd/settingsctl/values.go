package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseValue converts s to the type of current, the setting's value.
func parseValue(current any, s string) (any, error) {
	switch current.(type) {
	case bool:
		switch strings.ToLower(s) {
		case "true", "yes", "on", "1":
			return true, nil
		case "false", "no", "off", "0":
			return false, nil
		}
		return nil, fmt.Errorf("%q is not a bool", s)
	case int:
		i, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", s)
		}
		return i, nil
	case float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", s)
		}
		return f, nil
	case string:
		return s, nil
	case time.Time:
		for _, layout := range []string{time.RFC3339Nano, time.DateTime, time.DateOnly} {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		if s == "now" {
			return time.Now().UTC().Truncate(time.Second), nil
		}
		return nil, fmt.Errorf("%q is not a date (use RFC 3339, %q or now)", s, time.DateOnly)
	}
	return nil, fmt.Errorf("cannot set %T values from the command line", current)
}

// formatValue renders v for display.
func formatValue(v any) string {
	switch v := v.(type) {
	case time.Time:
		if v.IsZero() {
			return "-"
		}
		return v.Format(time.RFC3339)
	case string:
		return strconv.Quote(v)
	default:
		return fmt.Sprint(v)
	}
}
