/*
main.go - Reverse proxy entry point

PURPOSE:
  Starts the round-robin reverse proxy in front of a configured backend
  set (§4.7): health probing, request forwarding with failover, the
  supplemented /proxy/stats endpoint, and periodic stats logging.
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

	"github.com/lattice-labs/libresa/proxy"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var port int
	var backends []string
	var healthInterval time.Duration
	var healthTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Run the library reservation reverse proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(backends) == 0 {
				backends = []string{"http://localhost:8080", "http://localhost:8081"}
			}
			return run(port, backends, healthInterval, healthTimeout)
		},
	}

	cmd.Flags().IntVar(&port, "port", 8000, "proxy listen port")
	cmd.Flags().StringArrayVar(&backends, "backend", nil, "backend base URL (repeatable); defaults to localhost:8080,8081")
	cmd.Flags().DurationVar(&healthInterval, "health-interval", 5*time.Second, "interval between health probes")
	cmd.Flags().DurationVar(&healthTimeout, "health-timeout", 2*time.Second, "per-probe timeout")
	// --environment is accepted (and ignored) so the orchestrator can pass
	// it uniformly to every child it spawns.
	cmd.Flags().String("environment", "", "")

	return cmd
}

func run(port int, backends []string, healthInterval, healthTimeout time.Duration) error {
	lb := proxy.NewLoadBalancer(backends)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hc := proxy.NewHealthChecker(lb, healthInterval, healthTimeout)
	hc.Start(ctx)
	defer hc.Stop()

	go proxy.RunStatsLogger(ctx, lb, time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("/proxy/stats", proxy.StatsHandler(lb))
	mux.Handle("/", proxy.NewHandler(lb))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("[proxy] listening on port %d, backends=%v", port, backends)
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
		log.Printf("[proxy] received %s, shutting down", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[proxy] graceful shutdown error: %v", err)
	}
	return nil
}
