// Package cmd holds the iosweep command tree.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/iosweep/iosweep/internal/config"
	"github.com/iosweep/iosweep/internal/logging"
	"github.com/iosweep/iosweep/internal/storage"
	"github.com/iosweep/iosweep/internal/sweep"
)

// Exit codes
const (
	exitError       = 1
	exitConfigError = 2
)

// app is the state shared by all commands of one invocation.
type app struct {
	configPath string
	logLevel   string
	cfg        *config.Config
	logger     *slog.Logger
}

// Execute runs the root command
func Execute() error {
	return NewRootCommand().ExecuteContext(context.Background())
}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	var cfgErr *sweep.ConfigError
	if errors.As(err, &cfgErr) {
		return exitConfigError
	}
	return exitError
}

// NewRootCommand builds the command tree
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "iosweep",
		Short: "Parameter sweeps of IOR and mdtest under MPI",
		Long: `iosweep drives benchmark campaigns against a parallel filesystem.

It launches IOR (throughput) or mdtest (metadata) under mpirun for every
combination of node count, processes per node and transfer size, keeps the
raw output of every run and collects the reported metrics into one table.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ./iosweep.yaml, then ~/.config/iosweep/iosweep.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	root.AddCommand(
		newRunCommand(a),
		newPlanCommand(a),
		newSweepsCommand(a),
		newServeCommand(a),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logging.Setup(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
	return nil
}

// openStore opens and migrates the sweep database.
func (a *app) openStore(ctx context.Context) (*storage.DB, error) {
	if a.cfg.Database.Path == "" {
		return nil, fmt.Errorf("no sweep database configured (database.path)")
	}
	db, err := storage.New(a.cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}
