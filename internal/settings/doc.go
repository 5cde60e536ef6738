// Package settings provides typed, observable, persisted application
// settings.
//
// A Setting holds one typed value under a key. It reads its initial value
// from a store, follows changes made to that store from outside (another
// process, another device) and writes local changes back. Settings are
// collected into Groups that share a default store, and a Manager installs
// groups, resolves their stores and offers typed lookup by key.
//
// # Architecture
//
//	┌──────────────┐  Configure   ┌───────────┐
//	│   Manager    │─────────────▶│  Group    │──▶ Setting[T] ...
//	└──────┬───────┘              └───────────┘        │
//	       │ one subscription per                       │ Get/Set/Watch
//	       │ external-change channel                    ▼
//	       └──────────────────────────────────▶ store.Store ─▶ kv backend
//
// # Sub-packages
//
//   - codec: native scalar pass-through and plist encoding of other types
//   - kv: backend contract and the in-memory backend
//   - kv/sqlitekv, kv/rediskv, kv/filekv: persistent backends
//   - store: the Store variants (standard, partition, cloud, custom)
//   - notify: change observers
//   - dispatch: execution contexts for store callbacks
//   - loader: group definitions from TOML or YAML files
//
// # Basic Usage
//
//	darkMode := settings.New("darkMode", false)
//	theme, _ := settings.NewWithChoices("theme", []string{"light", "dark", "system"}, 2)
//
//	general := settings.NewGroup(
//	    []settings.Settable{darkMode, theme},
//	    settings.GroupKey("general"),
//	    settings.GroupLabel("General"),
//	)
//
//	m := settings.Shared()
//	m.Configure(general)
//
//	m.Bool("darkMode")                    // false until someone changes it
//	settings.Set(m, "darkMode", true)     // persisted to the standard store
//
// # Echo Suppression
//
// Every Setting owns a writer token. Its writes are tagged with the token and
// change events carrying it are ignored, so a setting never re-applies its
// own write when the store echoes it back.
//
// # Failure Policy
//
// The typed Setting and Manager surface does not return errors; only
// Manager.SetAnyValue explains why a dynamic write was rejected. Invalid
// construction yields nil, type mismatches and undecodable values read as
// absent, and a setting without a store works in memory only. Each of those
// cases is logged at debug level. Stored is the one exception: it panics
// when the key is not registered with the requested type.
package settings
