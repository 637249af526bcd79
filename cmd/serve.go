package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/face-gate/internal/config"
	"github.com/kozaktomas/face-gate/internal/gate"
	"github.com/kozaktomas/face-gate/internal/imagestore"
	"github.com/kozaktomas/face-gate/internal/pipeline"
	"github.com/kozaktomas/face-gate/internal/web"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the Face Gate HTTP API.

Endpoints:
  POST /api/v1/users/{user_id}/assess_image_quality  enroll a photo under user_id
  POST /api/v1/users/identify                         identify the face in a photo
  GET  /api/v1/index/stats                            index statistics

The gate controller at GATE_ADDR is signalled after every successful
identification. Leave GATE_ADDR empty to run without a gate.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

// resolveServeHostPort applies the --host and --port overrides to cfg.
func resolveServeHostPort(cmd *cobra.Command, cfg *config.Config) {
	if port := mustGetInt(cmd, "port"); port != 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}
}

func newNotifier(cfg *config.Config, logger *slog.Logger) gate.Notifier {
	if cfg.Gate.Addr == "" {
		fmt.Println("Gate notifications disabled (GATE_ADDR not set)")
		return gate.NopNotifier{}
	}
	fmt.Printf("Gate notifications enabled (%s)\n", cfg.Gate.Addr)
	return gate.NewTCPNotifier(cfg.Gate.Addr, cfg.Gate.Timeout, logger)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	resolveServeHostPort(cmd, cfg)
	logger := slog.Default()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sinks, err := openMirrors(ctx, cfg)
	if err != nil {
		return err
	}
	defer sinks.Close()

	store, pusher, err := openStore(cfg, logger, sinks.list())
	if err != nil {
		return err
	}
	defer pusher.Wait()
	stats := store.Stats()
	fmt.Printf("Index loaded from %s: %d embeddings, %d identities (%s, dim %d)\n",
		cfg.Store.Dir, stats.Count, stats.Identities, stats.IndexKind, stats.Dimension)

	p := pipeline.New(store, newOracle(cfg), imagestore.New(cfg.Images.Dir), newNotifier(cfg, logger), logger)

	server := web.NewServer(cfg, web.Deps{
		Pipeline: p,
		Store:    store,
		Mirrors:  sinks.named(),
		Logger:   logger,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Face Gate API on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	// Let in-flight gate signals finish before the process exits.
	p.Wait()
	return nil
}
