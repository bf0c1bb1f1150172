package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/TrainTrack/internal/audit"
	"github.com/BTreeMap/TrainTrack/internal/lockfile"
)

type auditOutput struct {
	Report *audit.Report       `json:"report"`
	Repair *audit.RepairResult `json:"repair,omitempty"`
}

func newAuditCmd() *cobra.Command {
	var (
		userID string
		repair bool
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Detect, and optionally repair, plans that disagree with their legacy records",
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			ctx := cmd.Context()

			report, err := a.auditor.Detect(ctx, userID)
			if err != nil {
				return err
			}
			out := auditOutput{Report: report}
			if repair {
				lock, err := lockfile.AcquireLock(a.cfg.StateDir, lockfile.RoleAudit)
				if err != nil {
					return err
				}
				defer func() {
					if err := lock.Release(); err != nil {
						slog.Warn("audit: failed to release lock", "error", err)
					}
				}()

				res, err := a.auditor.Repair(ctx, report.Inconsistencies, dryRun)
				if err != nil {
					return err
				}
				out.Repair = &res
			}
			return printJSON(cmd.OutOrStdout(), out)
		}),
	}
	cmd.Flags().StringVar(&userID, "user", "", "restrict the audit to one user")
	cmd.Flags().BoolVar(&repair, "repair", false, "repair detected inconsistencies")
	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "report what repair would do without writing")
	return cmd
}
