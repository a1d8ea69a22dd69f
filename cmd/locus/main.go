package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cocosip/locus/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Exit codes let supervisors distinguish a bad config from damage
// that needs operator attention.
const (
	exitConfigError = 1
	exitCorruption  = 2
	exitMountError  = 3
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error chain to the process exit code
func exitCode(err error) int {
	switch {
	case errors.Is(err, types.ErrCorruption):
		return exitCorruption
	case errors.Is(err, types.ErrNoHealthyVolume) || types.IsIOFault(err):
		return exitMountError
	default:
		return exitConfigError
	}
}

var rootCmd = &cobra.Command{
	Use:   "locus",
	Short: "Locus - Multi-tenant file storage pool with queue semantics",
	Long: `Locus is a multi-tenant storage pool that treats stored files as a
durable work queue. Producers write opaque blobs; workers claim them
exactly once, then complete or fail them. Failed work retries with
exponential backoff until its retry budget runs out.

Metadata lives in per-tenant embedded databases next to the blobs, so
a pool is a directory tree plus one binary.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Locus version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(maintainCmd)
	rootCmd.AddCommand(tenantCmd)
}
