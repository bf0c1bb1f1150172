package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/TrainTrack/internal/audit"
	"github.com/BTreeMap/TrainTrack/internal/config"
	"github.com/BTreeMap/TrainTrack/internal/lifecycle"
	"github.com/BTreeMap/TrainTrack/internal/store"
	"github.com/BTreeMap/TrainTrack/internal/sweeper"
)

type contextKey struct{}

// app holds the wired components shared by every subcommand.
type app struct {
	cfg     *config.Config
	store   *store.SQLStore
	manager *lifecycle.Manager
	sweeper *sweeper.Sweeper
	auditor *audit.Auditor
}

func (a *app) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// rootFlags are the global overrides applied on top of loaded config.
type rootFlags struct {
	configDir string
	stateDir  string
	dbDSN     string
	logLevel  string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	root := &cobra.Command{
		Use:   "traintrack",
		Short: "Training plan lifecycle and consistency service",
		Long: `TrainTrack keeps every user on at most one active training plan,
derives session status from exercise progress, closes out sessions that
were never trained before the daily cutoff and reconciles plans with their
legacy records.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(flags)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), contextKey{}, a))
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configDir, "config-dir", "", "directory containing traintrack.yaml")
	pf.StringVar(&flags.stateDir, "state-dir", "", "state directory (overrides $TRAINTRACK_STATE_DIR)")
	pf.StringVar(&flags.dbDSN, "db-dsn", "", "database DSN, Postgres URL or SQLite path (overrides $TRAINTRACK_DATABASE_DSN)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newServeCmd(),
		newSweepCmd(),
		newAuditCmd(),
		newActivateCmd(),
		newCancelCmd(),
		newCurrentCmd(),
	)
	return root
}

// buildApp loads config, applies flag overrides and wires the components.
func buildApp(flags rootFlags) (*app, error) {
	cfg, err := config.Load(flags.configDir)
	if err != nil {
		return nil, err
	}
	if flags.stateDir != "" && flags.stateDir != cfg.StateDir {
		// a SQLite file defaulted from the old state dir follows the override
		if cfg.Database.DSN == defaultDSN(cfg.StateDir) {
			cfg.Database.DSN = defaultDSN(flags.stateDir)
		}
		cfg.StateDir = flags.stateDir
	}
	if flags.dbDSN != "" {
		cfg.Database.DSN = flags.dbDSN
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	initializeLogger(cfg.SlogLevel())
	slog.Debug("Final configuration", "state_dir", cfg.StateDir,
		"dsn_type", store.DetectDSNType(cfg.Database.DSN), "timezone", cfg.Sweeper.Timezone,
		"cutoff", cfg.Sweeper.Cutoff, "fire_at", cfg.Sweeper.FireAt)

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", cfg.Sweeper.Timezone, err)
	}

	st, err := store.Open(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	manager := lifecycle.NewManager(st)
	sw, err := sweeper.New(manager, sweeper.Config{
		Cutoff:           cfg.Sweeper.Cutoff,
		FireAt:           cfg.Sweeper.FireAt,
		Location:         loc,
		AbandonThreshold: cfg.Sweeper.AbandonThreshold,
	})
	if err != nil {
		st.Close()
		return nil, err
	}
	return &app{
		cfg:     cfg,
		store:   st,
		manager: manager,
		sweeper: sw,
		auditor: audit.NewAuditor(st, audit.WithTolerance(cfg.Audit.Tolerance)),
	}, nil
}

func defaultDSN(stateDir string) string {
	return filepath.Join(stateDir, config.DefaultDBFileName)
}

// withApp adapts fn to a RunE that receives the wired app and closes it afterwards.
func withApp(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, ok := cmd.Context().Value(contextKey{}).(*app)
		if !ok {
			return fmt.Errorf("%s: application not initialized", cmd.Name())
		}
		defer func() {
			if err := a.Close(); err != nil {
				slog.Warn("failed to close store", "error", err)
			}
		}()
		return fn(cmd, a, args)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
