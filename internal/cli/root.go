package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roach88/treesync/internal/remote"
)

// RootOptions holds global flags for all commands, resolved from flags,
// TREESYNC_* environment variables and the config file, in that order of
// precedence.
type RootOptions struct {
	Verbose   bool
	Format    string // "json" | "text"
	Config    string // explicit config file
	DB        string // tree database path
	KeyFormat string // "uuid" | "ulid"

	v      *viper.Viper
	logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// configKeys maps viper keys to the persistent flags bound to them.
var configKeys = map[string]string{
	"db":         "db",
	"key_format": "key-format",
	"verbose":    "verbose",
	"format":     "format",
}

// NewRootCommand creates the root command for the treesync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "treesync",
		Short: "treesync - keep local records in sync with a key/value tree",
		Long: `Read and write a durable hierarchical key/value tree and run sync
conformance scenarios against it.

Configuration is read from $XDG_CONFIG_HOME/treesync/config.yaml and
TREESYNC_* environment variables (TREESYNC_DB, TREESYNC_KEY_FORMAT, ...).`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.loadConfig(cmd.Root()); err != nil {
				return err
			}
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if _, ok := remote.KeyGeneratorFor(opts.KeyFormat); !ok {
				return fmt.Errorf("invalid key format %q: must be uuid or ulid", opts.KeyFormat)
			}
			opts.logger = newLogger(cmd.ErrOrStderr(), opts.Verbose)
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "config file (default: $XDG_CONFIG_HOME/treesync/config.yaml)")
	cmd.PersistentFlags().String("db", "", "tree database (default: $XDG_DATA_HOME/treesync/tree.db)")
	cmd.PersistentFlags().String("key-format", "uuid", "generated key format (uuid|ulid)")

	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewSetCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewPushCommand(opts))
	cmd.AddCommand(NewKindsCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// loadConfig resolves every config key through viper and copies the result
// into opts.
func (o *RootOptions) loadConfig(root *cobra.Command) error {
	v := o.v
	if v == nil {
		v = viper.New()
		o.v = v
	}

	if o.Config != "" {
		v.SetConfigFile(o.Config)
	} else {
		v.AddConfigPath(configDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("TREESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault("db", defaultDBPath())
	v.SetDefault("key_format", "uuid")
	v.SetDefault("format", "text")

	for key, name := range configKeys {
		if err := v.BindPFlag(key, root.PersistentFlags().Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if o.Config != "" || !errors.As(err, &notFound) {
			return WrapExitError(ExitCommandError, "failed to read config", err)
		}
	}

	o.DB = v.GetString("db")
	o.KeyFormat = v.GetString("key_format")
	o.Verbose = v.GetBool("verbose")
	o.Format = v.GetString("format")
	return nil
}

// Logger returns the command logger. Commands built without the root
// command log nowhere.
func (o *RootOptions) Logger() *slog.Logger {
	if o.logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o.logger
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "treesync")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "treesync")
	}
	return ".treesync"
}

func defaultDBPath() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "treesync", "tree.db")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "treesync", "tree.db")
	}
	return filepath.Join(".treesync", "tree.db")
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
