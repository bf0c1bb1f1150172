package main

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/TrainTrack/internal/lockfile"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run the missed-session sweep once and print the result",
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			lock, err := lockfile.AcquireLock(a.cfg.StateDir, lockfile.RoleSweep)
			if err != nil {
				return err
			}
			defer func() {
				if err := lock.Release(); err != nil {
					slog.Warn("sweep: failed to release lock", "error", err)
				}
			}()

			res := a.sweeper.RunNow(cmd.Context())
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if res.Error != "" {
				return errors.New(res.Error)
			}
			return nil
		}),
	}
}
