package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dshills/storedsettings/internal/logging"
	"github.com/dshills/storedsettings/internal/settings"
)

func TestMain(m *testing.M) {
	logging.Discard()
	os.Unsetenv(EnvDefs)
	m.Run()
}

const testDefs = `
[[groups]]
key = "general"
label = "General"

  [[groups.settings]]
  key = "darkMode"
  type = "bool"
  default = false

  [[groups.settings]]
  key = "theme"
  type = "string"
  options = ["light", "dark", "system"]
  default_index = 2

  [[groups.settings]]
  key = "fontSize"
  type = "int"
  default = 14
  min = 8
  max = 32
`

type env struct {
	defs  string
	store string
}

func newEnv(t *testing.T) env {
	t.Helper()
	dir := t.TempDir()
	defs := filepath.Join(dir, "defs.toml")
	if err := os.WriteFile(defs, []byte(testDefs), 0o644); err != nil {
		t.Fatal(err)
	}
	return env{defs: defs, store: filepath.Join(dir, "prefs.toml")}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&options{})
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestList(t *testing.T) {
	e := newEnv(t)

	out, err := execute(t, "--defs", e.defs, "--file", e.store, "list")
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	for _, want := range []string{"[general] General", "darkMode", "false", `"system"`, "picker", "slider", "standard"} {
		if !strings.Contains(out, want) {
			t.Errorf("list output missing %q:\n%s", want, out)
		}
	}
}

func TestSetThenGet(t *testing.T) {
	e := newEnv(t)

	out, err := execute(t, "--defs", e.defs, "--file", e.store, "set", "darkMode", "on")
	if err != nil {
		t.Fatalf("set error = %v", err)
	}
	if strings.TrimSpace(out) != "darkMode = true" {
		t.Errorf("set output = %q", out)
	}

	out, err = execute(t, "--defs", e.defs, "--file", e.store, "get", "darkMode")
	if err != nil {
		t.Fatalf("get error = %v", err)
	}
	if strings.TrimSpace(out) != "true" {
		t.Errorf("get output = %q, want true", out)
	}

	data, err := os.ReadFile(e.store)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "darkMode = true") {
		t.Errorf("store file:\n%s", data)
	}
}

func TestSetThenGet_SQLite(t *testing.T) {
	e := newEnv(t)
	db := filepath.Join(t.TempDir(), "settings.db")

	if _, err := execute(t, "--defs", e.defs, "--db", db, "set", "fontSize", "20"); err != nil {
		t.Fatalf("set error = %v", err)
	}
	out, err := execute(t, "--defs", e.defs, "--db", db, "get", "fontSize")
	if err != nil {
		t.Fatalf("get error = %v", err)
	}
	if strings.TrimSpace(out) != "20" {
		t.Errorf("get output = %q, want 20", out)
	}
}

func TestPartition(t *testing.T) {
	e := newEnv(t)

	if _, err := execute(t, "--defs", e.defs, "--file", e.store, "--partition", "work", "set", "theme", "dark"); err != nil {
		t.Fatalf("set error = %v", err)
	}

	out, _ := execute(t, "--defs", e.defs, "--file", e.store, "get", "theme")
	if strings.TrimSpace(out) != `"system"` {
		t.Errorf("unpartitioned theme = %q, want the default", out)
	}
	out, _ = execute(t, "--defs", e.defs, "--file", e.store, "--partition", "work", "get", "theme")
	if strings.TrimSpace(out) != `"dark"` {
		t.Errorf("partitioned theme = %q, want dark", out)
	}
}

func TestEnvOverride(t *testing.T) {
	e := newEnv(t)
	t.Setenv("CTL_TEST_FONT_SIZE", "16")

	out, err := execute(t, "--defs", e.defs, "--file", e.store, "--env-prefix", "CTL_TEST_", "get", "fontSize")
	if err != nil {
		t.Fatalf("get error = %v", err)
	}
	if strings.TrimSpace(out) != "16" {
		t.Errorf("get output = %q, want 16", out)
	}
}

func TestEnvFile(t *testing.T) {
	e := newEnv(t)
	dotenv := filepath.Join(t.TempDir(), ".env")
	content := "STOREDSETTINGS_DEFS=" + e.defs + "\nCTLFILE_FONT_SIZE=22\n"
	if err := os.WriteFile(dotenv, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv(EnvDefs)
		os.Unsetenv("CTLFILE_FONT_SIZE")
	})

	out, err := execute(t, "--env-file", dotenv, "--file", e.store, "--env-prefix", "CTLFILE_", "get", "fontSize")
	if err != nil {
		t.Fatalf("get error = %v", err)
	}
	if strings.TrimSpace(out) != "22" {
		t.Errorf("get output = %q, want 22", out)
	}

	if _, err := execute(t, "--env-file", filepath.Join(t.TempDir(), "missing.env"), "list"); err == nil {
		t.Error("missing env file accepted")
	}
}

func TestCommandErrors(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name string
		args []string
		want error
	}{
		{"no defs", []string{"list"}, errNoDefinitions},
		{"unknown key", []string{"--defs", e.defs, "--file", e.store, "get", "missing"}, settings.ErrNotFound},
		{"unknown watch key", []string{"--defs", e.defs, "--file", e.store, "watch", "missing"}, settings.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := execute(t, tt.args...); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := execute(t, "--defs", e.defs, "--file", e.store, "set", "fontSize", "big"); err == nil {
		t.Error("non-numeric value accepted")
	}
	if _, err := execute(t, "--defs", e.defs, "--file", e.store, "--log-level", "loud", "list"); err == nil {
		t.Error("invalid log level accepted")
	}
	if _, err := execute(t, "--defs", e.defs, "--file", e.store, "--db", "x.db", "list"); err == nil {
		t.Error("--db and --file accepted together")
	}
}

func TestWatch(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	root := newRootCmd(&options{})
	root.SetOut(&out)
	root.SetArgs([]string{"--defs", e.defs, "--file", e.store, "watch", "darkMode"})

	if err := root.ExecuteContext(ctx); err != nil {
		t.Fatalf("watch error = %v", err)
	}
	if !strings.Contains(out.String(), "watching for changes") {
		t.Errorf("watch output = %q", out.String())
	}
}

func TestExportImport(t *testing.T) {
	e := newEnv(t)

	if _, err := execute(t, "--defs", e.defs, "--file", e.store, "set", "fontSize", "18"); err != nil {
		t.Fatalf("set error = %v", err)
	}
	out, err := execute(t, "--defs", e.defs, "--file", e.store, "export")
	if err != nil {
		t.Fatalf("export error = %v", err)
	}
	if got := gjson.Get(out, "fontSize").Int(); got != 18 {
		t.Errorf("exported fontSize = %d, want 18", got)
	}
	if got := gjson.Get(out, "theme").String(); got != "system" {
		t.Errorf("exported theme = %q, want system", got)
	}
	if !gjson.Get(out, "darkMode").Exists() {
		t.Errorf("export missing darkMode:\n%s", out)
	}

	other := newEnv(t)
	snap := filepath.Join(t.TempDir(), "snap.json")
	if err := os.WriteFile(snap, []byte(out), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err = execute(t, "--defs", other.defs, "--file", other.store, "import", snap)
	if err != nil {
		t.Fatalf("import error = %v", err)
	}
	if strings.TrimSpace(out) != "imported 3 settings" {
		t.Errorf("import output = %q", out)
	}
	out, _ = execute(t, "--defs", other.defs, "--file", other.store, "get", "fontSize")
	if strings.TrimSpace(out) != "18" {
		t.Errorf("imported fontSize = %q, want 18", out)
	}
}

func TestImportRejectsBadSnapshots(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name string
		data string
		want error
	}{
		{"not json", `{"fontSize":`, errInvalidSnapshot},
		{"array", `[1, 2]`, errInvalidSnapshot},
		{"unknown key", `{"fontSize": 12, "missing": true}`, settings.ErrNotFound},
		{"wrong type", `{"fontSize": "big"}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := filepath.Join(t.TempDir(), "snap.json")
			if err := os.WriteFile(snap, []byte(tt.data), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := execute(t, "--defs", e.defs, "--file", e.store, "import", snap)
			if err == nil {
				t.Fatal("import accepted a bad snapshot")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}

	out, _ := execute(t, "--defs", e.defs, "--file", e.store, "get", "fontSize")
	if strings.TrimSpace(out) != "14" {
		t.Errorf("fontSize = %q after rejected imports, want 14", out)
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.HasPrefix(out, "settingsctl dev") {
		t.Errorf("version output = %q", out)
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		current any
		in      string
		want    any
		ok      bool
	}{
		{false, "yes", true, true},
		{true, "0", false, true},
		{true, "maybe", nil, false},
		{0, "42", 42, true},
		{0, "4.2", nil, false},
		{0.0, "4.2", 4.2, true},
		{"", "hello world", "hello world", true},
		{time.Time{}, "2024-05-01", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), true},
		{time.Time{}, "tomorrow", nil, false},
		{[]byte(nil), "x", nil, false},
	}
	for _, tt := range tests {
		got, err := parseValue(tt.current, tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("parseValue(%T, %q) error = %v", tt.current, tt.in, err)
			continue
		}
		if tt.ok {
			if want, isTime := tt.want.(time.Time); isTime {
				if !got.(time.Time).Equal(want) {
					t.Errorf("parseValue(%q) = %v, want %v", tt.in, got, want)
				}
			} else if got != tt.want {
				t.Errorf("parseValue(%T, %q) = %v, want %v", tt.current, tt.in, got, tt.want)
			}
		}
	}
}

func TestFormatValue(t *testing.T) {
	if got := formatValue("a"); got != `"a"` {
		t.Errorf("string = %s", got)
	}
	if got := formatValue(time.Time{}); got != "-" {
		t.Errorf("zero time = %s", got)
	}
	if got := formatValue(3); got != "3" {
		t.Errorf("int = %s", got)
	}
}
