package settings

import (
	"cmp"
	"fmt"
)

// Number is the set of types a bounded or stepped setting can hold.
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// ImageKind says where an image comes from.
type ImageKind uint8

const (
	// ImageNone means no image.
	ImageNone ImageKind = iota

	// ImageSystem names a platform symbol.
	ImageSystem

	// ImageCustom names an application asset.
	ImageCustom
)

// Image refers to an icon shown next to an option.
type Image struct {
	Kind ImageKind
	Name string
}

// SystemImage refers to a platform symbol.
func SystemImage(name string) Image {
	return Image{Kind: ImageSystem, Name: name}
}

// CustomImage refers to an application asset.
func CustomImage(name string) Image {
	return Image{Kind: ImageCustom, Name: name}
}

// IsZero reports whether the image is unset.
func (i Image) IsZero() bool {
	return i.Kind == ImageNone
}

// Option is one selectable choice of a finite-valued setting.
type Option[T comparable] struct {
	Value     T
	Label     string
	Image     Image
	IsDefault bool
}

// OptionFor returns an option for v labelled with its printed form.
func OptionFor[T comparable](v T) Option[T] {
	return Option[T]{Value: v, Label: fmt.Sprint(v)}
}

// WithLabel returns a copy with the label replaced.
func (o Option[T]) WithLabel(label string) Option[T] {
	o.Label = label
	return o
}

// WithImage returns a copy with the image replaced.
func (o Option[T]) WithImage(img Image) Option[T] {
	o.Image = img
	return o
}

// WithSystemImage returns a copy showing the named platform symbol.
func (o Option[T]) WithSystemImage(name string) Option[T] {
	return o.WithImage(SystemImage(name))
}

// AsDefault returns a copy marked as the default choice.
func (o Option[T]) AsDefault() Option[T] {
	o.IsDefault = true
	return o
}

// ValueBounds is an inclusive range.
type ValueBounds[T comparable] struct {
	Lower T
	Upper T
}

// Within reports whether v lies inside b.
func Within[T cmp.Ordered](b ValueBounds[T], v T) bool {
	return v >= b.Lower && v <= b.Upper
}

// Clamp limits v to b.
func Clamp[T cmp.Ordered](b ValueBounds[T], v T) T {
	return min(max(v, b.Lower), b.Upper)
}

// Configuration describes the values a setting may take: a finite list of
// options, or a range with an optional step. The two are alternatives in
// practice; when both are present consumers pick one presentation.
type Configuration[T comparable] struct {
	Options []Option[T]
	Bounds  *ValueBounds[T]
	Step    *T
}

// HasOptions reports whether the configuration lists options.
func (c *Configuration[T]) HasOptions() bool {
	return c != nil && len(c.Options) > 0
}

// HasBounds reports whether the configuration has a range.
func (c *Configuration[T]) HasBounds() bool {
	return c != nil && c.Bounds != nil
}

// DefaultOption returns the first option marked default, else the first
// option.
func (c *Configuration[T]) DefaultOption() (Option[T], bool) {
	if !c.HasOptions() {
		return Option[T]{}, false
	}
	return defaultOption(c.Options), true
}

func defaultOption[T comparable](opts []Option[T]) Option[T] {
	for _, o := range opts {
		if o.IsDefault {
			return o
		}
	}
	return opts[0]
}

// OptionFor returns the option whose value is v.
func (c *Configuration[T]) OptionFor(v T) (Option[T], bool) {
	if c == nil {
		return Option[T]{}, false
	}
	for _, o := range c.Options {
		if o.Value == v {
			return o, true
		}
	}
	return Option[T]{}, false
}
