package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperengineering/tally/internal/engine"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Inspect and drive the change log",
	Long:  "Show change log counts and push, retry or purge entries without running the device runtime.",
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending, synced and failed change log counts",
	Args:  cobra.NoArgs,
	RunE:  runSyncStatus,
}

var syncPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push one batch of pending entries to the remote",
	Args:  cobra.NoArgs,
	RunE:  runSyncPush,
}

var syncRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Return failed entries to pending",
	Args:  cobra.NoArgs,
	RunE:  runSyncRetry,
}

var syncCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge synced entries older than the retention period",
	Args:  cobra.NoArgs,
	RunE:  runSyncCleanup,
}

func init() {
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncPushCmd)
	syncCmd.AddCommand(syncRetryCmd)
	syncCmd.AddCommand(syncCleanupCmd)
}

// withDevice loads configuration, opens the device and runs fn.
func withDevice(fn func(ctx context.Context, dev *device) error) error {
	cfg, logCloser, err := loadConfig()
	if err != nil {
		return err
	}
	defer logCloser.Close()

	dev, err := openDevice(cfg)
	if err != nil {
		return err
	}
	defer dev.Close()

	return fn(context.Background(), dev)
}

func runSyncStatus(cmd *cobra.Command, args []string) error {
	return withDevice(func(ctx context.Context, dev *device) error {
		stats, err := dev.engine.GetStats(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, stats)
		}

		last := "never"
		if stats.LastSyncAt != nil {
			last = stats.LastSyncAt.Local().Format("2006-01-02 15:04:05 MST")
		}
		tw := newTabWriter(out)
		fmt.Fprintf(tw, "Pending:\t%d\n", stats.Pending)
		fmt.Fprintf(tw, "Synced:\t%d\n", stats.Synced)
		fmt.Fprintf(tw, "Failed:\t%d\n", stats.Failed)
		fmt.Fprintf(tw, "Last sync:\t%s\n", last)
		return tw.Flush()
	})
}

func runSyncPush(cmd *cobra.Command, args []string) error {
	return withDevice(func(ctx context.Context, dev *device) error {
		if err := dev.cfg.RequireDevice(); err != nil {
			return err
		}
		result, err := dev.engine.PushPending(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, result)
		}
		fmt.Fprintf(out, "Pushed %d entries, %d failed\n", result.Synced, result.Failed)
		if result.Transient > 0 {
			fmt.Fprintf(out, "%d failures look transient; run 'tally sync retry' once the cloud is reachable\n", result.Transient)
		}
		return nil
	})
}

func runSyncRetry(cmd *cobra.Command, args []string) error {
	return withDevice(func(ctx context.Context, dev *device) error {
		n, err := dev.engine.RetryFailed(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, map[string]int64{"reset": n})
		}
		fmt.Fprintf(out, "Reset %d failed entries to pending\n", n)
		return nil
	})
}

func runSyncCleanup(cmd *cobra.Command, args []string) error {
	return withDevice(func(ctx context.Context, dev *device) error {
		n, err := dev.engine.Cleanup(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, map[string]int64{"purged": n})
		}
		retention := time.Duration(dev.cfg.Sync.Retention)
		if retention <= 0 {
			retention = engine.DefaultRetention
		}
		fmt.Fprintf(out, "Purged %d synced entries older than %s\n", n, retention)
		return nil
	})
}
