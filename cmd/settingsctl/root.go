package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dshills/storedsettings/internal/logging"
	"github.com/dshills/storedsettings/internal/settings/loader"
)

// EnvDefs names the definitions file when --defs is not given.
const EnvDefs = "STOREDSETTINGS_DEFS"

var errNoDefinitions = errors.New("no definitions file: pass --defs or set " + EnvDefs)

// options holds the persistent flags shared by every subcommand.
type options struct {
	defs      string
	db        string
	redis     string
	file      string
	partition string
	logLevel  string
	envPrefix string
	envFile   string
}

func newRootCmd(o *options) *cobra.Command {
	root := &cobra.Command{
		Use:   "settingsctl",
		Short: "Inspect and change stored settings",
		Long: `settingsctl reads a settings definitions file (TOML or YAML), connects
to the configured stores and lets you list, read, write and watch values.

Stores:
  standard    SQLite database (--db, default in the user data directory)
              or a TOML file (--file)
  cloud       Redis (--redis or STOREDSETTINGS_REDIS_URL)

Examples:
  settingsctl --defs settings.toml list
  settingsctl --defs settings.toml set darkMode true
  settingsctl --defs settings.toml --file prefs.toml watch
  settingsctl --defs settings.toml export > backup.json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logging.SetLevel(o.logLevel); err != nil {
				return fmt.Errorf("invalid --log-level: %w", err)
			}
			// Variables already in the environment win over the file.
			if o.envFile != "" {
				if err := godotenv.Load(o.envFile); err != nil {
					return fmt.Errorf("loading %s: %w", o.envFile, err)
				}
			}
			if o.defs == "" {
				o.defs = os.Getenv(EnvDefs)
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&o.defs, "defs", "", "settings definitions file (.toml, .yaml)")
	flags.StringVar(&o.db, "db", "", "SQLite database for the standard store")
	flags.StringVar(&o.redis, "redis", "", "Redis URL for the cloud store")
	flags.StringVar(&o.file, "file", "", "TOML file for the standard store instead of SQLite")
	flags.StringVar(&o.partition, "partition", "", "place groups on the standard store into this partition")
	flags.StringVar(&o.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flags.StringVar(&o.envPrefix, "env-prefix", loader.DefaultEnvPrefix, "prefix of environment variables overriding defaults")
	flags.StringVar(&o.envFile, "env-file", "", "dotenv file read into the environment before anything else")
	root.MarkFlagsMutuallyExclusive("db", "file")

	root.AddCommand(
		newListCmd(o),
		newGetCmd(o),
		newSetCmd(o),
		newWatchCmd(o),
		newExportCmd(o),
		newImportCmd(o),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "settingsctl %s\n", version)
			fmt.Fprintf(out, "Commit: %s\n", commit)
			fmt.Fprintf(out, "Built: %s\n", date)
		},
	}
}
