package loader

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"
)

// DefaultEnvPrefix prefixes environment variables that override defaults.
const DefaultEnvPrefix = "STOREDSETTINGS_DEFAULT_"

// EnvName converts a setting key to its environment variable suffix:
// darkMode becomes DARK_MODE and editor.tabWidth becomes EDITOR_TAB_WIDTH.
func EnvName(key string) string {
	var b strings.Builder
	runes := []rune(key)
	for i, r := range runes {
		switch {
		case r == '.' || r == '-' || r == ' ':
			b.WriteByte('_')
			continue
		case unicode.IsUpper(r) && i > 0:
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// ApplyEnv overrides setting defaults from environment variables named
// prefix + EnvName(key). Values are parsed according to the setting type.
// An override replaces default_index for option settings.
func (d *Definitions) ApplyEnv(prefix string) error {
	for gi := range d.Groups {
		g := &d.Groups[gi]
		for si := range g.Settings {
			sd := &g.Settings[si]
			name := prefix + EnvName(sd.Key)
			raw, ok := os.LookupEnv(name)
			if !ok {
				continue
			}
			v, err := parseEnvValue(sd.Type, raw)
			if err != nil {
				return &DefinitionError{Group: g.Key, Setting: sd.Key, Field: name, Err: fmt.Errorf("%w: %v", ErrInvalidValue, err)}
			}
			sd.Default = v
			sd.DefaultIndex = nil
		}
	}
	return nil
}

func parseEnvValue(typ, s string) (any, error) {
	switch typ {
	case TypeBool:
		switch strings.ToLower(s) {
		case "true", "yes", "on", "1":
			return true, nil
		case "false", "no", "off", "0":
			return false, nil
		}
		return nil, fmt.Errorf("%q is not a bool", s)
	case TypeInt:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, err
		}
		return i, nil
	case TypeFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		return f, nil
	case TypeString, TypeDate:
		return s, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownType, typ)
}
