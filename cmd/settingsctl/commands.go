package main

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/dshills/storedsettings/internal/settings"
	"github.com/dshills/storedsettings/internal/settings/notify"
)

func newListCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every setting with its current value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer s.close()

			printGroups(cmd.OutOrStdout(), s.manager.Groups())
			return nil
		},
	}
}

// printGroups writes one aligned block per group. Headers carry no tabs so
// their styling does not widen the columns.
func printGroups(out io.Writer, groups []settings.Group) {
	header := lipgloss.NewRenderer(out).NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("39"))

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	for i, g := range groups {
		if i > 0 {
			fmt.Fprintln(tw)
		}
		fmt.Fprintln(tw, header.Render(fmt.Sprintf("[%s] %s", g.Key(), g.DisplayLabel())))
		for _, st := range g.Settings() {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", st.Key(), formatValue(st.AnyValue()), st.Kind(), st.Store())
		}
	}
}

func newGetCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value of a setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer s.close()

			st, ok := s.manager.Setting(args[0])
			if !ok {
				return &settings.LookupError{Key: args[0], Err: settings.ErrNotFound}
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatValue(st.AnyValue()))
			return nil
		},
	}
}

func newSetCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change the value of a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer s.close()

			key := args[0]
			st, ok := s.manager.Setting(key)
			if !ok {
				return &settings.LookupError{Key: key, Err: settings.ErrNotFound}
			}
			v, err := parseValue(st.AnyValue(), args[1])
			if err != nil {
				return fmt.Errorf("setting %q: %w", key, err)
			}
			if err := s.manager.SetAnyValue(key, v); err != nil {
				return err
			}
			if err := s.flush(cmd.Context()); err != nil {
				return fmt.Errorf("pushing %q: %w", key, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, formatValue(st.AnyValue()))
			return nil
		},
	}
}

func newWatchCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [key...]",
		Short: "Print changes as they happen until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer s.close()

			for _, key := range args {
				if _, ok := s.manager.Setting(key); !ok {
					return &settings.LookupError{Key: key, Err: settings.ErrNotFound}
				}
			}

			out := cmd.OutOrStdout()
			changes := make(chan notify.Change, 64)
			sub := s.manager.Observe(func(c notify.Change) {
				if len(args) > 0 && !slices.Contains(args, c.Key) {
					return
				}
				select {
				case changes <- c:
				case <-cmd.Context().Done():
				}
			})
			defer sub.Unsubscribe()

			fmt.Fprintln(out, "watching for changes, press Ctrl+C to stop")
			for {
				select {
				case c := <-changes:
					fmt.Fprintf(out, "%s: %s -> %s (%s)\n", c.Key, formatValue(c.OldValue), formatValue(c.NewValue), c.Source)
				case <-cmd.Context().Done():
					return nil
				}
			}
		},
	}
}
