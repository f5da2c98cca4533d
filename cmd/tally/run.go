package main

import (
	"context"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hyperengineering/tally/internal/connectivity"
	"github.com/hyperengineering/tally/internal/snapshot"
	"github.com/hyperengineering/tally/internal/worker"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the device sync runtime until interrupted",
	RunE:  runDevice,
}

func runDevice(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration and logger
	cfg, logCloser, err := loadConfig()
	if err != nil {
		return err
	}
	defer logCloser.Close()
	if err := cfg.RequireDevice(); err != nil {
		return err
	}
	tenant := cfg.Tenant.ID

	// 3. Local store, remote client, engine and hydration
	dev, err := openDevice(cfg)
	if err != nil {
		return err
	}

	// 4. Configuration cache
	configs, cache, err := dev.openConfigSync()
	if err != nil {
		dev.Close()
		return err
	}

	// 5. Backups
	uploader, err := snapshot.NewUploader(cfg.Backup)
	if err != nil {
		cache.Close()
		dev.Close()
		return err
	}
	backup := snapshot.NewBackup(dev.store, uploader, tenant, dev.backupDir())

	// 6. Connectivity and scheduling
	monitor := connectivity.NewMonitor()
	orchestrator := worker.NewOrchestrator(dev.engine, monitor, backup, worker.Config{
		Tenant:          tenant,
		PushInterval:    time.Duration(cfg.Worker.PushInterval),
		CleanupInterval: time.Duration(cfg.Worker.CleanupInterval),
		BackupInterval:  time.Duration(cfg.Worker.BackupInterval),
		SummaryHour:     cfg.Worker.SummaryHour,
	})
	session := worker.NewSessionWorker(tenant, monitor, dev.hydrate, configs,
		time.Duration(cfg.Worker.ConfigCheckInterval))

	// 7. Worker lifecycle
	var wg sync.WaitGroup
	startWorker(ctx, &wg, "connectivity-probe", func(ctx context.Context) {
		monitor.Probe(ctx, dev.client, time.Duration(cfg.Worker.ProbeInterval))
	})
	startWorker(ctx, &wg, "session", session.Run)
	startWorker(ctx, &wg, "orchestrator", orchestrator.Run)
	slog.Info("device runtime started", "tenant_id", tenant, "remote_url", cfg.Remote.URL)

	// 8. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 9. Wait for workers, then close storage
	wg.Wait()
	if err := cache.Close(); err != nil {
		slog.Error("config cache close error", "error", err)
	}
	if err := dev.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
