package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"github.com/dshills/storedsettings/internal/settings"
)

var errInvalidSnapshot = errors.New("snapshot is not a JSON object")

// jsonPathEscaper escapes the characters sjson treats as path syntax.
var jsonPathEscaper = strings.NewReplacer(`\`, `\\`, ".", `\.`, "*", `\*`, "?", `\?`)

func newExportCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write every value as a JSON object keyed by setting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer s.close()

			doc, err := snapshot(s.manager)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(pretty.Pretty(doc))
			return err
		},
	}
}

// snapshot encodes the value of every distinct key. Dates are written in
// RFC 3339.
func snapshot(m *settings.Manager) ([]byte, error) {
	doc := []byte("{}")
	for _, key := range m.Keys() {
		st, _ := m.Setting(key)
		v := st.AnyValue()
		if t, ok := v.(time.Time); ok {
			v = t.Format(time.RFC3339Nano)
		}

		var err error
		doc, err = sjson.SetBytes(doc, jsonPathEscaper.Replace(key), v)
		if err != nil {
			return nil, fmt.Errorf("exporting %q: %w", key, err)
		}
	}
	return doc, nil
}

func newImportCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file|->",
		Short: "Apply values from a JSON snapshot written by export",
		Long: `import reads a JSON object mapping setting keys to values and writes
each one. Every key must name a configured setting and every value must
convert to that setting's type; nothing is written otherwise.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readSnapshot(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			s, err := openSession(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer s.close()

			values, err := decodeSnapshot(s.manager, data)
			if err != nil {
				return err
			}
			for _, entry := range values {
				if err := s.manager.SetAnyValue(entry.key, entry.value); err != nil {
					return err
				}
			}
			if err := s.flush(cmd.Context()); err != nil {
				return fmt.Errorf("pushing imported values: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d settings\n", len(values))
			return nil
		},
	}
}

func readSnapshot(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}

type keyValue struct {
	key   string
	value any
}

// decodeSnapshot converts every member of data to the type of the setting
// it names, in document order.
func decodeSnapshot(m *settings.Manager, data []byte) ([]keyValue, error) {
	if !gjson.ValidBytes(data) {
		return nil, errInvalidSnapshot
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, errInvalidSnapshot
	}

	var (
		values []keyValue
		err    error
	)
	root.ForEach(func(k, v gjson.Result) bool {
		key := k.String()
		st, ok := m.Setting(key)
		if !ok {
			err = &settings.LookupError{Key: key, Err: settings.ErrNotFound}
			return false
		}

		text := v.Raw
		if v.Type == gjson.String {
			text = v.String()
		}
		var parsed any
		parsed, err = parseValue(st.AnyValue(), text)
		if err != nil {
			err = fmt.Errorf("importing %q: %w", key, err)
			return false
		}
		values = append(values, keyValue{key: key, value: parsed})
		return true
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}
