package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/asset-guard/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the Asset Guard HTTP API.
The ledger, PostgreSQL audit log and risk classifier are enabled when their
environment variables are set; the whitelist and face endpoints always run.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().Bool("full-scan", false, "Run the historical scan in prechecks when the quick check misses")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, needs{database: true, faces: true, risk: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if port := mustGetInt(cmd, "port"); port > 0 {
		a.cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		a.cfg.Web.Host = host
	}

	if a.cfg.Chain.RPCURL != "" {
		if err := a.openLedger(ctx); err != nil {
			return err
		}
	} else {
		a.logger.Warn("CHAIN_RPC_URL not set, duplicate checks are disabled")
	}

	services := web.Services{
		Whitelist:  a.whitelist,
		Collection: a.collection,
		Verifier:   a.verifier,
		Liveness:   a.liveness,
		Classifier: a.classifier,
		Gate:       a.gate(mustGetBool(cmd, "full-scan")),
	}
	if a.scanner != nil {
		services.Scanner = a.scanner
	}
	if a.decisions != nil {
		services.Decisions = a.decisions
	}

	server := web.NewServer(a.cfg, services, a.logger.Named("web"))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("error during shutdown", zap.Error(err))
		}
	}()

	fmt.Printf("Starting Asset Guard API on http://%s:%d\n", a.cfg.Web.Host, a.cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
