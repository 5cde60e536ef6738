// Package loader reads declarative settings definitions from TOML or YAML
// files and builds the groups they describe.
//
// A definitions file lists groups, each with a key, an optional label and
// store, and its settings:
//
//	[[groups]]
//	key = "general"
//	store = "standard"
//
//	  [[groups.settings]]
//	  key = "darkMode"
//	  type = "bool"
//	  default = false
//
// Files may pull in others with a top-level include list. Groups from the
// including file come first, so its settings win key lookups.
package loader

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// MaxIncludeDepth bounds nested includes.
const MaxIncludeDepth = 8

// FileSystem is the file access the loader needs. fstest.MapFS satisfies it.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
}

// OSFS reads from the operating system.
type OSFS struct{}

// ReadFile reads the file at path.
func (OSFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Format identifies a definitions syntax.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown definitions format for %s", path)
	}
}

// Loader reads definitions files through a FileSystem.
type Loader struct {
	fs FileSystem
}

// New creates a loader over fsys. A nil fsys reads from the OS.
func New(fsys FileSystem) *Loader {
	if fsys == nil {
		fsys = OSFS{}
	}
	return &Loader{fs: fsys}
}

// LoadFile reads the definitions at path from the OS file system.
func LoadFile(path string) (*Definitions, error) {
	return New(nil).LoadFile(path)
}

// LoadFile reads the definitions at path and every file it includes.
// Relative includes resolve against the including file's directory.
func (l *Loader) LoadFile(path string) (*Definitions, error) {
	return l.load(path, MaxIncludeDepth, map[string]bool{})
}

func (l *Loader) load(path string, depth int, visiting map[string]bool) (*Definitions, error) {
	if depth <= 0 {
		return nil, fmt.Errorf("include depth exceeded at %s", path)
	}
	clean := filepath.Clean(path)
	if visiting[clean] {
		return nil, fmt.Errorf("include cycle at %s", path)
	}
	visiting[clean] = true
	defer delete(visiting, clean)

	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := l.fs.ReadFile(fsPath(l.fs, clean))
	if err != nil {
		return nil, fmt.Errorf("reading definitions %s: %w", path, err)
	}

	defs, err := parse(format, path, data)
	if err != nil {
		return nil, err
	}

	includes := defs.Include
	defs.Include = nil
	base := filepath.Dir(clean)
	for _, inc := range includes {
		incPath := inc
		if !filepath.IsAbs(inc) {
			incPath = filepath.Join(base, inc)
		}
		included, err := l.load(incPath, depth-1, visiting)
		if err != nil {
			return nil, fmt.Errorf("loading include %s: %w", inc, err)
		}
		defs.Groups = append(defs.Groups, included.Groups...)
	}
	return defs, nil
}

// fsPath adapts a path for io/fs implementations, which reject rooted and
// dot-prefixed names.
func fsPath(fsys FileSystem, path string) string {
	if _, ok := fsys.(fs.FS); !ok {
		return path
	}
	return strings.TrimPrefix(filepath.ToSlash(path), "/")
}
