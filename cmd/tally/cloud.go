package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hyperengineering/tally/internal/api"
	"github.com/hyperengineering/tally/internal/cloud"
	"github.com/spf13/cobra"
)

var (
	tokenTenant string
	tokenDevice string
	tokenTTL    time.Duration
)

var cloudCmd = &cobra.Command{
	Use:   "cloud",
	Short: "Run and administer the reference cloud backend",
}

var cloudServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the cloud HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runCloudServe,
}

var cloudTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a device token for a tenant",
	Args:  cobra.NoArgs,
	RunE:  runCloudToken,
}

func init() {
	cloudTokenCmd.Flags().StringVar(&tokenTenant, "tenant", "", "Tenant the token is scoped to (required)")
	cloudTokenCmd.Flags().StringVar(&tokenDevice, "device", "", "Device id recorded in the token")
	cloudTokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default cloud.token_ttl, 0s for no expiry)")
	_ = cloudTokenCmd.MarkFlagRequired("tenant")

	cloudCmd.AddCommand(cloudServeCmd)
	cloudCmd.AddCommand(cloudTokenCmd)
}

func runCloudServe(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, logCloser, err := loadConfig()
	if err != nil {
		return err
	}
	defer logCloser.Close()
	if err := cfg.RequireCloud(); err != nil {
		return err
	}

	// 3. Initialize store (migrations, WAL mode)
	db, err := cloud.Open(cfg.Cloud.DBPath)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Cloud.DBPath)

	// 4. Initialize HTTP router
	handler := api.NewHandler(db, []byte(cfg.Cloud.JWTSecret), Version)
	router := api.NewRouter(handler)
	slog.Info("router initialized")

	// 5. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Cloud.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Cloud.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Cloud.WriteTimeout),
	}

	// 6. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 7. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Cloud.ShutdownTimeout))
	defer shutdownCancel()

	// 8. Stop HTTP server (drains in-flight requests), then close store
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func runCloudToken(cmd *cobra.Command, args []string) error {
	cfg, logCloser, err := loadConfig()
	if err != nil {
		return err
	}
	defer logCloser.Close()
	if err := cfg.RequireCloud(); err != nil {
		return err
	}

	ttl := time.Duration(cfg.Cloud.TokenTTL)
	if cmd.Flags().Changed("ttl") {
		ttl = tokenTTL
	}

	token, err := cloud.IssueToken([]byte(cfg.Cloud.JWTSecret), tokenTenant, tokenDevice, ttl)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		resp := map[string]any{"token": token, "tenant_id": tokenTenant}
		if ttl > 0 {
			resp["expires_at"] = time.Now().Add(ttl).UTC().Format(time.RFC3339)
		}
		return printJSON(out, resp)
	}
	fmt.Fprintln(out, token)
	return nil
}
