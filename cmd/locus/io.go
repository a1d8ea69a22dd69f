package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cocosip/locus/pkg/pool"
)

// One-shot data commands for smoke-testing a pool directory. They
// operate on the same stores the server does, so run them against a
// stopped server or a scratch config.

var (
	ioTenantID  string
	ioDirectory string
)

var writeCmd = &cobra.Command{
	Use:   "write [FILE]",
	Short: "Store one blob and print its file key",
	Long: `Store a single blob from FILE (or stdin when omitted) and print the
assigned file key. The blob enters the tenant's queue as Pending.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		var src io.Reader = os.Stdin
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			src = f
		}

		key, err := a.pool.WriteTo(cmd.Context(), ioTenantID, src, pool.WriteOptions{
			DirectoryPath: ioDirectory,
		})
		if err != nil {
			return err
		}
		fmt.Println(key)
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read KEY",
	Short: "Stream one stored blob to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		r, err := a.pool.Read(cmd.Context(), ioTenantID, args[0])
		if err != nil {
			return err
		}
		defer r.Close()

		_, err = io.Copy(os.Stdout, r)
		return err
	},
}

var (
	quotaLimit int64
	quotaDir   string
)

var tenantQuotaCmd = &cobra.Command{
	Use:   "quota ID",
	Short: "Set a tenant or directory file-count limit (0 = unlimited)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()
		ctx := cmd.Context()

		if quotaDir != "" {
			if err := a.quotas.SetDirectoryLimit(ctx, args[0], quotaDir, quotaLimit); err != nil {
				return err
			}
			fmt.Printf("✓ Directory quota for %s%s set to %d\n", args[0], quotaDir, quotaLimit)
			return nil
		}
		if err := a.quotas.SetTenantLimit(ctx, args[0], quotaLimit); err != nil {
			return err
		}
		fmt.Printf("✓ Tenant quota for %s set to %d\n", args[0], quotaLimit)
		return nil
	},
}

func init() {
	writeCmd.Flags().StringVar(&ioTenantID, "tenant", "", "Tenant to store the blob under")
	writeCmd.Flags().StringVar(&ioDirectory, "directory", "", "Logical directory for quota accounting (default \"/\")")
	writeCmd.MarkFlagRequired("tenant")

	readCmd.Flags().StringVar(&ioTenantID, "tenant", "", "Tenant that owns the file key")
	readCmd.MarkFlagRequired("tenant")

	tenantQuotaCmd.Flags().Int64Var(&quotaLimit, "limit", 0, "Maximum number of files, 0 for unlimited")
	tenantQuotaCmd.Flags().StringVar(&quotaDir, "dir", "", "Scope the limit to one logical directory")
	tenantQuotaCmd.MarkFlagRequired("limit")

	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(readCmd)
	tenantCmd.AddCommand(tenantQuotaCmd)
}
