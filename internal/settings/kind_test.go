package settings

import (
	"testing"
	"time"
)

func TestSetting_Kind(t *testing.T) {
	choices, _ := NewWithChoices("theme", []string{"light", "dark"}, 0)

	tests := []struct {
		name    string
		setting Settable
		want    ControlKind
	}{
		{"bool", New("darkMode", false), ControlToggle},
		{"string", New("name", ""), ControlTextField},
		{"int", New("count", 0), ControlTextField},
		{"float", New("ratio", 0.5), ControlTextField},
		{"time", New("since", time.Time{}), ControlDatePicker},
		{"options", choices, ControlPicker},
		{"bounded", NewBounded("opacity", 0.5, 0, 1), ControlSlider},
		{"stepped", NewStepped("fontSize", 14, 8, 32, 1), ControlStepper},
		{"struct", New("window", window{}), ControlCustom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.setting.Kind(); got != tt.want {
				t.Errorf("Kind() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestControlKind_String(t *testing.T) {
	if ControlDatePicker.String() != "date-picker" {
		t.Errorf("String() = %q", ControlDatePicker.String())
	}
	if ControlKind(200).String() != "custom" {
		t.Errorf("unknown kind = %q", ControlKind(200).String())
	}
}
