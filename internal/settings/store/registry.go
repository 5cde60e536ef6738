package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/dshills/storedsettings/internal/logging"
	"github.com/dshills/storedsettings/internal/settings/kv"
	"github.com/dshills/storedsettings/internal/settings/kv/sqlitekv"
)

// ErrUnresolved is returned when writing through the zero Store.
var ErrUnresolved = errors.New("store not resolved")

const (
	// AppDirName is the directory created under the platform data dir.
	AppDirName = "storedsettings"

	// DefaultFileName is the database file holding the standard store.
	DefaultFileName = "settings.db"
)

// Opener creates the standard backend on first use.
type Opener func() (kv.KeyValueStore, error)

var (
	regMu sync.Mutex

	standard kv.KeyValueStore
	opener   Opener = openDefault

	cloud       kv.KeyValueStore
	cloudWarned bool

	// dataDirOverride is set by tests.
	dataDirOverride string
)

// SetStandardBackend installs b as the standard store. Passing nil restores
// lazy opening through the configured Opener.
func SetStandardBackend(b kv.KeyValueStore) {
	regMu.Lock()
	defer regMu.Unlock()
	standard = b
}

// SetStandardOpener replaces the function used to open the standard
// backend lazily. It has no effect once a backend is open.
func SetStandardOpener(fn Opener) {
	regMu.Lock()
	defer regMu.Unlock()
	if fn == nil {
		fn = openDefault
	}
	opener = fn
}

// SetCloudBackend installs b as the cloud store.
func SetCloudBackend(b kv.KeyValueStore) {
	regMu.Lock()
	defer regMu.Unlock()
	cloud = b
	cloudWarned = false
}

// ResetBackends forgets the configured backends, closing those that can be
// closed. Intended for tests and orderly shutdown.
func ResetBackends() error {
	regMu.Lock()
	std, cl := standard, cloud
	standard, cloud = nil, nil
	opener = openDefault
	cloudWarned = false
	regMu.Unlock()

	var errs []error
	for _, b := range []kv.KeyValueStore{std, cl} {
		if c, ok := b.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func standardBackend() kv.KeyValueStore {
	regMu.Lock()
	defer regMu.Unlock()

	if standard != nil {
		return standard
	}

	b, err := opener()
	if err != nil {
		logging.Logger().Warn("standard store unavailable, keeping settings in memory", "error", err)
		b = kv.NewMemory()
	}
	standard = b
	return standard
}

func cloudBackend() kv.KeyValueStore {
	regMu.Lock()
	defer regMu.Unlock()

	if cloud == nil {
		cloud = kv.NewMemory()
		if !cloudWarned {
			logging.Logger().Warn("no cloud store configured, cloud settings are process-local")
			cloudWarned = true
		}
	}
	return cloud
}

func openDefault() (kv.KeyValueStore, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return sqlitekv.Open(path)
}

// DataDir returns the platform directory settings are persisted under.
func DataDir() (string, error) {
	if dataDirOverride != "" {
		return dataDirOverride, nil
	}

	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, "Library", "Application Support")
	default:
		base = os.Getenv("XDG_DATA_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			base = filepath.Join(home, ".local", "share")
		}
	}

	return filepath.Join(base, AppDirName), nil
}

// DefaultPath returns the database file of the standard store.
func DefaultPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultFileName), nil
}
