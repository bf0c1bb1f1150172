package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/TrainTrack/internal/lockfile"
	"github.com/BTreeMap/TrainTrack/internal/recovery"
	"github.com/BTreeMap/TrainTrack/internal/scheduler"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon with the daily sweeper and periodic audits",
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			lock, err := lockfile.AcquireLock(a.cfg.StateDir, lockfile.RoleDaemon)
			if err != nil {
				return err
			}
			defer func() {
				if err := lock.Release(); err != nil {
					slog.Warn("serve: failed to release lock", "error", err)
				}
			}()

			loc, err := a.cfg.Location()
			if err != nil {
				return err
			}
			sched := scheduler.NewScheduler(loc)
			defer sched.Stop()

			if a.cfg.Sweeper.Enabled {
				if err := a.sweeper.Start(sched); err != nil {
					return fmt.Errorf("schedule sweeper: %w", err)
				}
				slog.Info("serve: sweeper scheduled", "fireAt", a.cfg.Sweeper.FireAt, "timezone", loc.String())
			}
			if a.cfg.Audit.Schedule != "" {
				if err := sched.AddJob(a.cfg.Audit.Schedule, func() { runScheduledAudit(a) }); err != nil {
					return fmt.Errorf("schedule audit: %w", err)
				}
				slog.Info("serve: audit scheduled", "schedule", a.cfg.Audit.Schedule, "autoRepair", a.cfg.Audit.AutoRepair)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := newRecovery(a).RecoverAll(ctx); err != nil {
				slog.Warn("serve: startup recovery incomplete", "error", err)
			}
			slog.Info("serve: running", "stateDir", a.cfg.StateDir)
			<-ctx.Done()
			slog.Info("serve: shutting down")
			return nil
		}),
	}
}

// newRecovery registers the startup catch-up work. A sweep that was due while
// the daemon was down runs once; the sweep is idempotent so an on-time run is harmless.
func newRecovery(a *app) *recovery.Manager {
	rm := recovery.NewManager()
	if a.cfg.Sweeper.Enabled && a.cfg.Sweeper.RunOnStart {
		rm.Register(recovery.Func{ComponentName: "sweeper", Fn: func(ctx context.Context) error {
			res := a.sweeper.RunNow(ctx)
			if res.Error != "" {
				return errors.New(res.Error)
			}
			return nil
		}})
	}
	rm.Register(recovery.Func{ComponentName: "training_state", Fn: func(ctx context.Context) error {
		_, err := a.manager.RecoverTrainingState(ctx)
		return err
	}})
	return rm
}

// runScheduledAudit detects inconsistencies across all users and repairs
// them when auto repair is configured.
func runScheduledAudit(a *app) {
	ctx := context.Background()
	report, err := a.auditor.Detect(ctx, "")
	if err != nil {
		slog.Error("serve: scheduled audit failed", "error", err)
		return
	}
	slog.Info("serve: audit finished", "total", report.Total, "inconsistent", report.Inconsistent)
	if !a.cfg.Audit.AutoRepair || report.Inconsistent == 0 {
		return
	}
	res, err := a.auditor.Repair(ctx, report.Inconsistencies, a.cfg.Audit.DryRun)
	if err != nil {
		slog.Error("serve: scheduled repair failed", "error", err)
		return
	}
	slog.Info("serve: repair finished", "repaired", res.Repaired, "errors", res.Errors,
		"skipped", res.Skipped, "dryRun", res.DryRun)
}
