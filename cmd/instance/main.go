/*
main.go - API instance entry point

PURPOSE:
  Starts one library-reservation API instance: loads the per-environment
  config, wires an InstanceContext, starts the batcher/SLA/queue-depth
  background goroutines, serves the §6 HTTP surface, and on SIGINT/
  SIGTERM stops accepting new requests, drains in-flight work, closes the
  pool, and exits - the §4.8 per-instance shutdown sequence.

  Flag parsing and signal-driven graceful http.Server.Shutdown are
  grounded on the teacher's cmd/server/main.go.
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lattice-labs/libresa/api"
	"github.com/lattice-labs/libresa/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var port int
	var environment string
	var configDir string
	var shutdownGrace time.Duration

	cmd := &cobra.Command{
		Use:   "instance",
		Short: "Run one library reservation API instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			if environment != "" {
				os.Setenv("ENVIRONMENT", environment)
			}
			if port != 0 {
				os.Setenv("PORT", fmt.Sprintf("%d", port))
			}
			return run(configDir, shutdownGrace)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config file and PORT env var)")
	cmd.Flags().StringVar(&environment, "environment", "", "environment name (dev|staging|prod)")
	cmd.Flags().StringVar(&configDir, "config-dir", ".", "directory containing config_<environment>.json")
	cmd.Flags().DurationVar(&shutdownGrace, "shutdown-grace", 10*time.Second, "bounded wait for the queue to drain and the server to stop accepting connections before exiting")

	return cmd
}

func run(configDir string, shutdownGrace time.Duration) error {
	loader, cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("fatal: %w", err)
	}

	ic, err := api.NewInstanceContext(cfg, cfg.Port)
	if err != nil {
		return fmt.Errorf("fatal: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ic.Start(ctx)
	defer ic.Stop(shutdownGrace)

	stopWatch, err := loader.Watch()
	if err == nil {
		loader.OnChange(func(c config.Config) {
			log.Printf("[instance] config reloaded, log_level now %q", c.LogLevel)
		})
		defer stopWatch()
	}

	handler := api.NewHandler(ic)
	router := api.NewRouter(handler)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("[instance] listening on port %d (db=library_system_%d.db)", cfg.Port, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return fmt.Errorf("fatal: server error: %w", err)
	case sig := <-sigCh:
		log.Printf("[instance] received %s, shutting down", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[instance] graceful shutdown error: %v", err)
	}
	return nil
}
