// Package cli implements the mensa command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Sternrassler/mensa-client/internal/config"
	"github.com/Sternrassler/mensa-client/pkg/logging"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// app carries the state shared by all commands of one invocation.
type app struct {
	v          *viper.Viper
	cfgFile    string
	clearCache bool

	cfg    config.Config
	logger zerolog.Logger
	deps   *deps
}

// NewRootCmd builds the command tree with a fresh configuration.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "mensa",
		Short: "Cached access to paginated JSON APIs and OpenMensa",
		Long: `mensa fetches JSON resources through a persistent fetch-through cache.

Fresh entries are served locally; stale entries are revalidated with
If-None-Match and only downloaded again when the upstream has changed.
Paginated resources are walked page by page through the same cache.`,
		SilenceErrors:      true,
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/mensa/config.yaml)")
	flags.BoolVar(&a.clearCache, "clear-cache", false, "clear the cache before running the command")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("cache-backend", config.BackendDisk, "cache backend (disk, redis, memory)")
	flags.String("cache-dir", "", "cache directory for the disk backend")

	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("cache.backend", flags.Lookup("cache-backend"))
	_ = a.v.BindPFlag("cache.dir", flags.Lookup("cache-dir"))

	rootCmd.AddCommand(
		newVersionCmd(),
		newFetchCmd(a),
		newPagesCmd(a),
		newCanteensCmd(a),
		newMealsCmd(a),
		newCacheCmd(a),
		newConfigCmd(a),
		newServeCmd(a),
	)

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// No configuration needed
		PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
		PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mensa %s\n", Version)
		},
	}
}

// setup loads the configuration and configures logging.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logCfg := cfg.Log
	logCfg.Output = cmd.ErrOrStderr()
	a.logger = logging.Setup(logCfg)

	if a.clearCache {
		d, err := a.dependencies(cmd.Context())
		if err != nil {
			return err
		}
		if err := d.client.ClearCache(cmd.Context()); err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
	}
	return nil
}

func (a *app) teardown(cmd *cobra.Command, args []string) error {
	if a.deps == nil {
		return nil
	}
	err := a.deps.Close()
	a.deps = nil
	return err
}

// dependencies builds the store, client and services on first use.
func (a *app) dependencies(ctx context.Context) (*deps, error) {
	if a.deps != nil {
		return a.deps, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d, err := newDeps(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	a.deps = d
	return d, nil
}

// errUsage marks invalid flag combinations.
var errUsage = errors.New("invalid usage")

func usageError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
