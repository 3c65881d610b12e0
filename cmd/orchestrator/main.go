/*
main.go - Orchestrator entry point

PURPOSE:
  Starts the configured number of API instances plus the proxy in front
  of them (§4.8), samples their resource usage, and on SIGINT/SIGTERM
  shuts everything down in reverse order.
*/
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lattice-labs/libresa/orchestrator"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var basePort int
	var numInstances int
	var proxyPort int
	var environment string
	var binDir string
	var shutdownGrace time.Duration

	cmd := &cobra.Command{
		Use:   "orchestrator",
		Short: "Start and supervise N library reservation API instances plus the proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			ports := make([]int, numInstances)
			for i := range ports {
				ports[i] = basePort + i
			}
			if binDir == "" {
				exe, err := os.Executable()
				if err != nil {
					return fmt.Errorf("fatal: resolve executable directory: %w", err)
				}
				binDir = filepath.Dir(exe)
			}
			return run(orchestrator.Config{
				InstancePorts: ports,
				ProxyPort:     proxyPort,
				BinDir:        binDir,
				Environment:   environment,
				ShutdownGrace: shutdownGrace,
			})
		},
	}

	cmd.Flags().IntVar(&basePort, "base-port", 8080, "first instance port; subsequent instances increment from here")
	cmd.Flags().IntVar(&numInstances, "instances", 2, "number of API instances to start")
	cmd.Flags().IntVar(&proxyPort, "proxy-port", 8000, "proxy listen port")
	cmd.Flags().StringVar(&environment, "environment", "", "environment passed to every child process")
	cmd.Flags().StringVar(&binDir, "bin-dir", "", "directory containing the instance/proxy binaries (default: this executable's directory)")
	cmd.Flags().DurationVar(&shutdownGrace, "shutdown-grace", 10*time.Second, "time to wait for a child to exit before force-killing it")

	return cmd
}

func run(cfg orchestrator.Config) error {
	o := orchestrator.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := o.Start(ctx); err != nil {
		return fmt.Errorf("fatal: %w", err)
	}

	go o.RunResourceSampler(ctx, 30*time.Second)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("[orchestrator] received %s, shutting down children", sig)

	o.Shutdown()
	return nil
}
