package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperengineering/tally/internal/snapshot"
	"github.com/spf13/cobra"
)

var (
	backupLink    bool
	backupLinkTTL time.Duration
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the local database and upload it",
	Args:  cobra.NoArgs,
	RunE:  runBackup,
}

func init() {
	backupCmd.Flags().BoolVar(&backupLink, "link", false,
		"Print a temporary download link to the uploaded backup")
	backupCmd.Flags().DurationVar(&backupLinkTTL, "link-ttl", snapshot.DefaultLinkTTL,
		"Lifetime of the download link")
}

type backupOutput struct {
	Path       string     `json:"path"`
	Key        string     `json:"key"`
	URL        string     `json:"url,omitempty"`
	URLExpires *time.Time `json:"url_expires_at,omitempty"`
}

func runBackup(cmd *cobra.Command, args []string) error {
	return withDevice(func(ctx context.Context, dev *device) error {
		uploader, err := snapshot.NewUploader(dev.cfg.Backup)
		if err != nil {
			return err
		}
		b := snapshot.NewBackup(dev.store, uploader, dev.cfg.Tenant.ID, dev.backupDir())

		key, err := b.Run(ctx)
		if err != nil {
			return err
		}
		result := backupOutput{Path: b.Path(), Key: key}

		if backupLink {
			link, expires, err := b.DownloadURL(ctx, key, backupLinkTTL)
			if errors.Is(err, snapshot.ErrNotConfigured) {
				return fmt.Errorf("--link requires TALLY_BACKUP_BUCKET: %w", err)
			}
			if err != nil {
				return err
			}
			result.URL = link
			result.URLExpires = &expires
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, result)
		}
		fmt.Fprintf(out, "Snapshot: %s\n", result.Path)
		if dev.cfg.Backup.Bucket != "" {
			fmt.Fprintf(out, "Uploaded: %s/%s\n", dev.cfg.Backup.Bucket, key)
		}
		if result.URL != "" {
			fmt.Fprintf(out, "Download: %s\n", result.URL)
			fmt.Fprintf(out, "Expires:  %s\n", result.URLExpires.Format(time.RFC3339))
		}
		return nil
	})
}
