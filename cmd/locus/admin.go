package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cocosip/locus/pkg/recovery"
	"github.com/cocosip/locus/pkg/types"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the structural integrity of every tenant database",
	Long: `Check every tenant's metadata and quota databases for structural
damage. Exits with the corruption code when any database is damaged,
so supervisors can trigger a rebuild.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.recovery.CheckAll(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("✓ All tenant databases verified")
		return nil
	},
}

var rebuildTenantID string

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild tenant databases from the physical files",
	Long: `Rebuild metadata and quota databases by scanning the blobs on the
volumes. Damaged databases are snapshotted aside, never deleted.
Recovered files re-enter the queue as Pending.

With --tenant, one tenant is rebuilt unconditionally. Without it,
every tenant is checked and only the damaged ones are rebuilt.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()
		ctx := cmd.Context()

		if rebuildTenantID != "" {
			report, err := a.recovery.RebuildTenant(ctx, rebuildTenantID)
			if err != nil {
				return err
			}
			printRebuildReport(report)
			return nil
		}

		reports, err := a.recovery.RebuildAll(ctx)
		if err != nil {
			return err
		}
		if len(reports) == 0 {
			fmt.Println("✓ No damaged tenants found")
			return nil
		}
		for _, report := range reports {
			printRebuildReport(report)
		}
		return nil
	},
}

func printRebuildReport(r *recovery.Report) {
	fmt.Printf("✓ Tenant %s: %d records rebuilt, %d quota rows\n",
		r.TenantID, r.RecordsRebuilt, r.QuotaRowsRebuilt)
	for _, backup := range r.BackupPaths {
		fmt.Printf("  snapshot: %s\n", backup)
	}
	for _, e := range r.Errors {
		fmt.Printf("  error: %s\n", e)
	}
}

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run one maintenance pass and exit",
	Long: `Run a single maintenance tick: reclaim timed-out claims, evict aged
permanent failures, sweep junk files, optionally sweep orphans, and
compact the databases. Useful from cron when the background loop is
disabled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		runner := newMaintenanceRunner(a)
		report := runner.RunOnce(cmd.Context())

		for _, stage := range report.Stages {
			fmt.Printf("  %-13s %5d processed  %s\n", stage.Stage, stage.Processed, stage.Duration.Round(time.Millisecond))
			for _, e := range stage.Errors {
				fmt.Printf("    error: %s\n", e)
			}
		}
		if errs := report.Errors(); len(errs) > 0 {
			return fmt.Errorf("maintenance finished with %d errors", len(errs))
		}
		fmt.Printf("✓ Maintenance pass completed, %d items processed\n", report.Processed())
		return nil
	},
}

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenants",
}

var tenantCreateCmd = &cobra.Command{
	Use:   "create ID",
	Short: "Create a tenant with Enabled status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		rec, err := a.registry.Create(cmd.Context(), args[0])
		if errors.Is(err, types.ErrTenantExists) {
			fmt.Printf("Tenant %s already exists\n", args[0])
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("✓ Tenant %s created\n", rec.TenantID)
		return nil
	},
}

var tenantEnableCmd = &cobra.Command{
	Use:   "enable ID",
	Short: "Set a tenant's status to Enabled",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTenantStatus(cmd, args[0], "enable")
	},
}

var tenantDisableCmd = &cobra.Command{
	Use:   "disable ID",
	Short: "Set a tenant's status to Disabled",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTenantStatus(cmd, args[0], "disable")
	},
}

var tenantSuspendCmd = &cobra.Command{
	Use:   "suspend ID",
	Short: "Set a tenant's status to Suspended",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTenantStatus(cmd, args[0], "suspend")
	},
}

func setTenantStatus(cmd *cobra.Command, id, action string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()
	ctx := cmd.Context()

	var done string
	switch action {
	case "enable":
		err = a.registry.Enable(ctx, id)
		done = "enabled"
	case "disable":
		err = a.registry.Disable(ctx, id)
		done = "disabled"
	case "suspend":
		err = a.registry.Suspend(ctx, id)
		done = "suspended"
	}
	if err != nil {
		return err
	}
	fmt.Printf("✓ Tenant %s %s\n", id, done)
	return nil
}

var tenantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tenants with status and file counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()
		ctx := cmd.Context()

		recs, err := a.registry.List(ctx)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No tenants")
			return nil
		}

		fmt.Printf("%-32s %-10s %8s %8s\n", "TENANT", "STATUS", "FILES", "QUOTA")
		for _, rec := range recs {
			counts, err := a.pool.StatusCounts(ctx, rec.TenantID)
			if err != nil {
				return err
			}
			var total int64
			for _, n := range counts {
				total += n
			}
			quotaCol := "-"
			if tq, _, err := a.quotas.Snapshot(rec.TenantID); err == nil && tq.Limit > 0 {
				quotaCol = fmt.Sprintf("%d/%d", tq.CurrentCount, tq.Limit)
			}
			fmt.Printf("%-32s %-10s %8d %8s\n", rec.TenantID, strings.ToLower(string(rec.Status)), total, quotaCol)
		}
		return nil
	},
}

func init() {
	rebuildCmd.Flags().StringVar(&rebuildTenantID, "tenant", "", "Rebuild only this tenant, even if it verifies clean")

	tenantCmd.AddCommand(tenantCreateCmd)
	tenantCmd.AddCommand(tenantEnableCmd)
	tenantCmd.AddCommand(tenantDisableCmd)
	tenantCmd.AddCommand(tenantSuspendCmd)
	tenantCmd.AddCommand(tenantListCmd)
}
