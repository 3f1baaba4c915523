// Package cli implements the tickbatch command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/me/tickbatch/internal/config"
	"github.com/me/tickbatch/internal/logging"
	"github.com/me/tickbatch/internal/store"
)

var (
	flagConfig    string
	flagDB        string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	runnerCfg config.RunnerConfig
	serverCfg config.ServerConfig

	logger *slog.Logger
)

// NewRootCmd creates the root cobra command for the tickbatch CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tickbatch",
		Short: "tickbatch runs tick-driven test suites in batches",
		Long: `tickbatch loads a suite of tick-driven test cases, groups them into
batches, provisions each case's environment and steps them until every
batch has concluded. Results are kept in a local SQLite history.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flagDebug {
				flagLogLevel = "debug"
			}
			runnerCfg = config.RunnerConfig{DBPath: flagDB, LogLevel: flagLogLevel, LogFormat: flagLogFormat}
			serverCfg = config.ServerConfig{DBPath: flagDB, LogLevel: flagLogLevel, LogFormat: flagLogFormat}
			if err := config.LoadConfigFile(flagConfig, &runnerCfg, &serverCfg); err != nil {
				return err
			}
			runnerCfg.ApplyDefaults()
			serverCfg.ApplyDefaults()

			level, format := runnerCfg.LogLevel, runnerCfg.LogFormat
			if cmd.Name() == "serve" {
				level, format = serverCfg.LogLevel, serverCfg.LogFormat
			}
			logger = logging.NewLoggerWithWriter(logging.ParseLevel(level), format, cmd.ErrOrStderr())
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", config.DefaultFile, "Config file (missing file is ignored)")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "Result database path (default "+config.DefaultDBPath+")")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newServeCmd(),
		newRunsCmd(),
		newCasesCmd(),
	)

	return root
}

// openStore opens and migrates the result database.
func openStore(ctx context.Context, path string) (*store.SQLiteStore, error) {
	st, err := store.NewSQLiteStore(path, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return st, nil
}
