package main

import (
	"context"
	"fmt"

	"github.com/hyperengineering/tally/internal/hydrate"
	"github.com/spf13/cobra"
)

var hydrateForce bool

var hydrateCmd = &cobra.Command{
	Use:   "hydrate",
	Short: "Download the tenant's tables into the local store",
	Args:  cobra.NoArgs,
	RunE:  runHydrate,
}

func init() {
	hydrateCmd.Flags().BoolVar(&hydrateForce, "force", false,
		"Hydrate even if the tenant is already marked hydrated")
}

func runHydrate(cmd *cobra.Command, args []string) error {
	return withDevice(func(ctx context.Context, dev *device) error {
		if err := dev.cfg.RequireDevice(); err != nil {
			return err
		}
		tenant := dev.cfg.Tenant.ID
		out := cmd.OutOrStdout()

		if !hydrateForce {
			done, err := dev.hydrate.IsHydrated(ctx, tenant)
			if err != nil {
				return err
			}
			if done {
				fmt.Fprintf(out, "Tenant %s is already hydrated\n", tenant)
				return nil
			}
		}

		var progress func(hydrate.TableProgress)
		if !jsonOutput {
			progress = func(p hydrate.TableProgress) {
				if p.State == hydrate.StateRunning {
					return
				}
				fmt.Fprintf(out, "%-16s %-8s %d rows\n", p.Table, p.State, p.Rows)
			}
		}

		report, err := dev.hydrate.HydrateTenant(ctx, tenant, progress)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(out, report)
		}
		if !report.Complete {
			return fmt.Errorf("hydration of tenant %s incomplete", tenant)
		}
		fmt.Fprintf(out, "Tenant %s hydrated\n", tenant)
		return nil
	})
}
