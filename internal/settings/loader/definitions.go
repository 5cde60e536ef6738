package loader

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/storedsettings/internal/settings"
	"github.com/dshills/storedsettings/internal/settings/codec"
	"github.com/dshills/storedsettings/internal/settings/store"
)

// Setting value types accepted in definitions.
const (
	TypeBool   = "bool"
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeString = "string"
	TypeDate   = "date"
)

// Definitions is the decoded content of a definitions file.
type Definitions struct {
	Include []string   `toml:"include" yaml:"include"`
	Groups  []GroupDef `toml:"groups" yaml:"groups"`
}

// GroupDef describes one group.
type GroupDef struct {
	Key      string       `toml:"key" yaml:"key"`
	Label    string       `toml:"label" yaml:"label"`
	Store    string       `toml:"store" yaml:"store"`
	Settings []SettingDef `toml:"settings" yaml:"settings"`
}

// SettingDef describes one setting. Options and bounds are alternatives.
// An option is either a bare value or a table with value, label, image,
// system_image and default fields.
type SettingDef struct {
	Key          string `toml:"key" yaml:"key"`
	Label        string `toml:"label" yaml:"label"`
	Type         string `toml:"type" yaml:"type"`
	Store        string `toml:"store" yaml:"store"`
	Default      any    `toml:"default" yaml:"default"`
	Options      []any  `toml:"options" yaml:"options"`
	DefaultIndex *int   `toml:"default_index" yaml:"default_index"`
	Min          any    `toml:"min" yaml:"min"`
	Max          any    `toml:"max" yaml:"max"`
	Step         any    `toml:"step" yaml:"step"`
}

// DefinitionError reports a definition that cannot be built.
type DefinitionError struct {
	Group   string
	Setting string
	Field   string
	Err     error
}

func (e *DefinitionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "group %q", e.Group)
	if e.Setting != "" {
		fmt.Fprintf(&b, ", setting %q", e.Setting)
	}
	if e.Field != "" {
		b.WriteString(", field " + e.Field)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

// Definition problems wrapped by DefinitionError.
var (
	ErrMissingKey   = errors.New("missing key")
	ErrUnknownType  = errors.New("unknown type")
	ErrInvalidValue = errors.New("invalid value")
	ErrConflict     = errors.New("options and bounds are exclusive")
	ErrUnknownStore = errors.New("unknown store")
)

// StoreResolver maps a store name from a definitions file to a Store. An
// empty name must resolve to the zero Store.
type StoreResolver func(name string) (store.Store, error)

// ParseStore resolves "standard", "cloud" and "partition:<name>".
func ParseStore(name string) (store.Store, error) {
	switch {
	case name == "":
		return store.Store{}, nil
	case name == "standard":
		return store.Standard(), nil
	case name == "cloud":
		return store.Cloud(), nil
	case strings.HasPrefix(name, "partition:") && len(name) > len("partition:"):
		return store.Partition(strings.TrimPrefix(name, "partition:")), nil
	}
	return store.Store{}, fmt.Errorf("%w %q", ErrUnknownStore, name)
}

// Build creates the groups described by d. Store names go through resolve,
// or ParseStore when resolve is nil. Groups without a store use the
// standard store.
func (d *Definitions) Build(resolve StoreResolver) ([]settings.Group, error) {
	if resolve == nil {
		resolve = ParseStore
	}

	groups := make([]settings.Group, 0, len(d.Groups))
	for _, gd := range d.Groups {
		if gd.Key == "" {
			return nil, &DefinitionError{Field: "key", Err: ErrMissingKey}
		}
		gst, err := resolve(gd.Store)
		if err != nil {
			return nil, &DefinitionError{Group: gd.Key, Field: "store", Err: err}
		}

		members := make([]settings.Settable, 0, len(gd.Settings))
		for _, sd := range gd.Settings {
			s, err := buildSetting(sd, resolve)
			if err != nil {
				var derr *DefinitionError
				if errors.As(err, &derr) {
					derr.Group = gd.Key
					return nil, derr
				}
				return nil, &DefinitionError{Group: gd.Key, Setting: sd.Key, Err: err}
			}
			members = append(members, s)
		}

		opts := []settings.GroupOption{settings.GroupKey(gd.Key)}
		if gd.Label != "" {
			opts = append(opts, settings.GroupLabel(gd.Label))
		}
		if !gst.IsZero() {
			opts = append(opts, settings.GroupStore(gst))
		}
		groups = append(groups, settings.NewGroup(members, opts...))
	}
	return groups, nil
}

func buildSetting(sd SettingDef, resolve StoreResolver) (settings.Settable, error) {
	if sd.Key == "" {
		return nil, &DefinitionError{Field: "key", Err: ErrMissingKey}
	}
	st, err := resolve(sd.Store)
	if err != nil {
		return nil, &DefinitionError{Setting: sd.Key, Field: "store", Err: err}
	}

	var opts []settings.SettingOption
	if sd.Label != "" {
		opts = append(opts, settings.WithLabel(sd.Label))
	}
	if !st.IsZero() {
		opts = append(opts, settings.WithStore(st))
	}

	switch sd.Type {
	case TypeBool:
		s, err := build(sd, codec.DecodeErr[bool], opts)
		return settable(s, err)
	case TypeInt:
		s, err := buildNumber(sd, codec.DecodeErr[int], opts)
		return settable(s, err)
	case TypeFloat:
		s, err := buildNumber(sd, codec.DecodeErr[float64], opts)
		return settable(s, err)
	case TypeString:
		s, err := build(sd, codec.DecodeErr[string], opts)
		return settable(s, err)
	case TypeDate:
		s, err := build(sd, decodeDate, opts)
		return settable(s, err)
	}
	return nil, &DefinitionError{Setting: sd.Key, Field: "type", Err: fmt.Errorf("%w %q", ErrUnknownType, sd.Type)}
}

// settable keeps a nil setting from becoming a non-nil interface.
func settable[T comparable](s *settings.Setting[T], err error) (settings.Settable, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

func invalid(sd SettingDef, field string, err error) error {
	return &DefinitionError{Setting: sd.Key, Field: field, Err: fmt.Errorf("%w: %v", ErrInvalidValue, err)}
}

func build[T comparable](sd SettingDef, conv func(any) (T, error), opts []settings.SettingOption) (*settings.Setting[T], error) {
	if len(sd.Options) > 0 {
		return buildOptions(sd, conv, opts)
	}
	if sd.DefaultIndex != nil {
		return nil, invalid(sd, "default_index", errors.New("requires options"))
	}

	var def T
	if sd.Default != nil {
		v, err := conv(sd.Default)
		if err != nil {
			return nil, invalid(sd, "default", err)
		}
		def = v
	}
	return settings.New(sd.Key, def, opts...), nil
}

func buildNumber[T settings.Number](sd SettingDef, conv func(any) (T, error), opts []settings.SettingOption) (*settings.Setting[T], error) {
	if sd.Min == nil && sd.Max == nil {
		if sd.Step != nil {
			return nil, invalid(sd, "step", errors.New("requires min and max"))
		}
		return build(sd, conv, opts)
	}
	if len(sd.Options) > 0 {
		return nil, &DefinitionError{Setting: sd.Key, Err: ErrConflict}
	}
	if sd.Min == nil || sd.Max == nil {
		return nil, invalid(sd, "min", errors.New("min and max go together"))
	}

	lower, err := conv(sd.Min)
	if err != nil {
		return nil, invalid(sd, "min", err)
	}
	upper, err := conv(sd.Max)
	if err != nil {
		return nil, invalid(sd, "max", err)
	}
	if lower > upper {
		return nil, invalid(sd, "max", fmt.Errorf("%v is below min %v", upper, lower))
	}

	def := lower
	if sd.Default != nil {
		if def, err = conv(sd.Default); err != nil {
			return nil, invalid(sd, "default", err)
		}
		if def < lower || def > upper {
			return nil, invalid(sd, "default", fmt.Errorf("%v outside [%v, %v]", def, lower, upper))
		}
	}

	if sd.Step == nil {
		return settings.NewBounded(sd.Key, def, lower, upper, opts...), nil
	}
	step, err := conv(sd.Step)
	if err != nil {
		return nil, invalid(sd, "step", err)
	}
	if step <= 0 {
		return nil, invalid(sd, "step", fmt.Errorf("%v is not positive", step))
	}
	return settings.NewStepped(sd.Key, def, lower, upper, step, opts...), nil
}

func buildOptions[T comparable](sd SettingDef, conv func(any) (T, error), opts []settings.SettingOption) (*settings.Setting[T], error) {
	options := make([]settings.Option[T], 0, len(sd.Options))
	for i, raw := range sd.Options {
		o, err := parseOption(raw, conv)
		if err != nil {
			return nil, invalid(sd, fmt.Sprintf("options[%d]", i), err)
		}
		options = append(options, o)
	}

	switch {
	case sd.DefaultIndex != nil:
		idx := *sd.DefaultIndex
		if idx < 0 || idx >= len(options) {
			return nil, invalid(sd, "default_index", fmt.Errorf("%d out of range", idx))
		}
		for i := range options {
			options[i].IsDefault = i == idx
		}
	case sd.Default != nil:
		def, err := conv(sd.Default)
		if err != nil {
			return nil, invalid(sd, "default", err)
		}
		found := false
		for i := range options {
			options[i].IsDefault = options[i].Value == def
			found = found || options[i].IsDefault
		}
		if !found {
			return nil, invalid(sd, "default", fmt.Errorf("%v is not an option", def))
		}
	}

	s, ok := settings.NewWithOptions(sd.Key, options, opts...)
	if !ok {
		return nil, invalid(sd, "options", errors.New("empty"))
	}
	return s, nil
}

func parseOption[T comparable](raw any, conv func(any) (T, error)) (settings.Option[T], error) {
	table, ok := raw.(map[string]any)
	if !ok {
		v, err := conv(raw)
		if err != nil {
			return settings.Option[T]{}, err
		}
		return settings.OptionFor(v), nil
	}

	rv, ok := table["value"]
	if !ok {
		return settings.Option[T]{}, errors.New("option table needs a value")
	}
	v, err := conv(rv)
	if err != nil {
		return settings.Option[T]{}, err
	}
	o := settings.OptionFor(v)
	for k, field := range table {
		switch k {
		case "value":
		case "label":
			o.Label = fmt.Sprint(field)
		case "image":
			o.Image = settings.CustomImage(fmt.Sprint(field))
		case "system_image":
			o.Image = settings.SystemImage(fmt.Sprint(field))
		case "default":
			b, ok := field.(bool)
			if !ok {
				return settings.Option[T]{}, fmt.Errorf("option default must be a bool, got %T", field)
			}
			o.IsDefault = b
		default:
			return settings.Option[T]{}, fmt.Errorf("unknown option field %q", k)
		}
	}
	return o, nil
}

func decodeDate(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case toml.LocalDateTime:
		return v.AsTime(time.UTC), nil
	case toml.LocalDate:
		return v.AsTime(time.UTC), nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.DateTime, time.DateOnly} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse %q as a date", v)
	}
	return time.Time{}, fmt.Errorf("cannot use %T as a date", raw)
}
