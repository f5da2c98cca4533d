package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var configSyncCmd = &cobra.Command{
	Use:   "config-sync",
	Short: "Refresh the tenant's configuration cache",
	Args:  cobra.NoArgs,
	RunE:  runConfigSync,
}

func runConfigSync(cmd *cobra.Command, args []string) error {
	return withDevice(func(ctx context.Context, dev *device) error {
		if err := dev.cfg.RequireDevice(); err != nil {
			return err
		}
		svc, cache, err := dev.openConfigSync()
		if err != nil {
			return err
		}
		defer cache.Close()

		result, err := svc.SyncConfigs(ctx, dev.cfg.Tenant.ID)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, result)
		}
		fmt.Fprintf(out, "Updated: %s\n", strings.Join(result.Succeeded, ", "))
		if len(result.Failed) > 0 {
			fmt.Fprintf(out, "Failed:  %s\n", strings.Join(result.Failed, ", "))
		}
		return nil
	})
}
