package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass against the remote store",
	Long: `Reconcile the local store with the remote store.

This runs the two-phase protocol once:
  1. Push: every local note is upserted remotely in one batch
  2. Pull: active remote notes are merged locally, newest timestamp wins

There is no retry; run again after fixing connectivity.`,
	Run: func(cmd *cobra.Command, args []string) {
		userID := requireUser()
		ctx := context.Background()

		localStore := openLocal(nil)
		defer localStore.Close()

		remoteStore := openRemote(ctx)
		defer remoteStore.Close()

		coord := newCoordinator(localStore, remoteStore, nil)

		fmt.Printf("Syncing notes for %s...\n", userID)
		stats, err := coord.Sync(ctx, userID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error during sync: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Sync complete in %v\n", stats.Duration.Round(time.Millisecond))
		fmt.Printf("   Pushed: %d\n", stats.Pushed)
		fmt.Printf("   Pulled: %d\n", stats.Pulled)
		fmt.Printf("   Skipped: %d\n", stats.Skipped)
		if stats.Conflicts > 0 {
			fmt.Printf("   Conflicts (kept local): %d\n", stats.Conflicts)
		}

		lastSync, err := localStore.LastSync(ctx, userID)
		if err == nil && lastSync > 0 {
			fmt.Printf("   Last sync: %s\n", time.UnixMilli(lastSync).Format("2006-01-02 15:04:05"))
		}
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
