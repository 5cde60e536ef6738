// Package logging holds the diagnostic logger shared by the settings packages.
//
// The settings library never surfaces recoverable failures to callers; it
// resolves them to absence at the lowest layer. Each of those swallow points
// reports through this logger so misconfiguration can still be traced.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/log"
)

var (
	mu     sync.RWMutex
	logger = newDefault(os.Stderr)
)

func newDefault(w io.Writer) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		Prefix:          "settings",
		Level:           log.WarnLevel,
		ReportTimestamp: true,
	})
}

// Logger returns the current package logger.
func Logger() *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// SetLogger replaces the package logger. A nil logger is ignored.
func SetLogger(l *log.Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	logger = l
	mu.Unlock()
}

// SetLevel parses level ("debug", "info", "warn", "error") and applies it.
func SetLevel(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	Logger().SetLevel(lvl)
	return nil
}

// Discard silences all diagnostic output. Intended for tests.
func Discard() {
	SetLogger(log.New(io.Discard))
}

// Component returns a child logger tagged with the component name.
func Component(name string) *log.Logger {
	return Logger().With("component", name)
}
