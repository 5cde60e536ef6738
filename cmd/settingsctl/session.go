package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dshills/storedsettings/internal/logging"
	"github.com/dshills/storedsettings/internal/settings"
	"github.com/dshills/storedsettings/internal/settings/kv"
	"github.com/dshills/storedsettings/internal/settings/kv/filekv"
	"github.com/dshills/storedsettings/internal/settings/kv/rediskv"
	"github.com/dshills/storedsettings/internal/settings/kv/sqlitekv"
	"github.com/dshills/storedsettings/internal/settings/loader"
	"github.com/dshills/storedsettings/internal/settings/store"
)

// session is one command's view of the configured stores and settings.
type session struct {
	manager *settings.Manager
	cloud   *rediskv.Store
}

// openSession installs the backends named by the flags, builds the groups
// from the definitions file and configures a manager with them.
func openSession(ctx context.Context, o *options) (*session, error) {
	if o.defs == "" {
		return nil, errNoDefinitions
	}

	defs, err := loader.LoadFile(o.defs)
	if err != nil {
		return nil, err
	}
	if o.envPrefix != "" {
		if err := defs.ApplyEnv(o.envPrefix); err != nil {
			return nil, err
		}
	}

	s := &session{}
	if err := s.installBackends(ctx, o); err != nil {
		s.close()
		return nil, err
	}

	groups, err := defs.Build(nil)
	if err != nil {
		s.close()
		return nil, err
	}
	if o.partition != "" {
		for i, g := range groups {
			if g.Store() == store.Standard() {
				groups[i] = g.WithStore(store.Partition(o.partition))
			}
		}
	}

	s.manager = settings.NewManager()
	s.manager.Configure(groups...)
	return s, nil
}

func (s *session) installBackends(ctx context.Context, o *options) error {
	var standard kv.KeyValueStore
	switch {
	case o.file != "":
		f, err := filekv.Open(o.file)
		if err != nil {
			return fmt.Errorf("opening settings file: %w", err)
		}
		standard = f
	case o.db != "":
		db, err := sqlitekv.Open(o.db)
		if err != nil {
			return fmt.Errorf("opening settings database: %w", err)
		}
		standard = db
	}
	if standard != nil {
		store.SetStandardBackend(standard)
	}

	if o.redis != "" || os.Getenv(rediskv.EnvURL) != "" {
		r, err := rediskv.Open(ctx, rediskv.Options{URL: o.redis, Logger: logging.Component("redis")})
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		s.cloud = r
		store.SetCloudBackend(r)
	}
	return nil
}

// flush waits for background writes to reach remote stores.
func (s *session) flush(ctx context.Context) error {
	if s.cloud == nil {
		return nil
	}
	return s.cloud.Flush(ctx)
}

// close drops the manager's subscriptions and closes every backend.
func (s *session) close() error {
	if s.manager != nil {
		s.manager.Close()
	}
	return store.ResetBackends()
}
