/*
instance.go - Per-instance dependency composition

PURPOSE:
  Owns every piece of mutable state one API instance needs - cache, pool,
  queue, store, SLA monitor, and the batcher that drains the queue - behind
  a single InstanceContext instead of process-global singletons, so several
  instances can coexist in one process during tests (§9 Design Notes).
*/
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lattice-labs/libresa/cache"
	"github.com/lattice-labs/libresa/config"
	"github.com/lattice-labs/libresa/dbpool"
	"github.com/lattice-labs/libresa/queue"
	"github.com/lattice-labs/libresa/sla"
	"github.com/lattice-labs/libresa/store/sqlite"
	"github.com/lattice-labs/libresa/worker"
)

// InstanceContext bundles the dependencies one API instance needs to serve
// requests and run its background batcher.
type InstanceContext struct {
	Port     int
	Cfg      config.Config
	Store    *sqlite.Store
	Cache    *cache.LRU
	Pool     *dbpool.Pool
	Queue    *queue.Queue
	Monitor  *sla.Monitor
	Batcher  *worker.Batcher
	Registry *prometheus.Registry
}

// NewInstanceContext opens the port-scoped database file, wires the cache,
// pool, queue, monitor, and batcher, and returns the assembled context.
// Callers are responsible for calling Start/Stop around the server's
// lifetime.
func NewInstanceContext(cfg config.Config, port int) (*InstanceContext, error) {
	dbPath := fmt.Sprintf("library_system_%d.db", port)
	pool, err := dbpool.Open(dbPath, cfg.MinConnections, cfg.MaxConnections)
	if err != nil {
		return nil, fmt.Errorf("instance: open pool: %w", err)
	}

	store, err := sqlite.New(pool)
	if err != nil {
		pool.CloseAll()
		return nil, fmt.Errorf("instance: open store: %w", err)
	}

	registry := prometheus.NewRegistry()

	ic := &InstanceContext{
		Port:  port,
		Cfg:   cfg,
		Store: store,
		Cache: cache.New(cfg.CacheSize),
		Pool:  pool,
		Queue: queue.New(cfg.MaxQueueSize),
		Monitor: sla.NewMonitor(sla.Config{
			LatencyWindow:     1024,
			HeartbeatInterval: 5 * time.Second,
			SampleInterval:    time.Second,
			ReportInterval:    cfg.SLAReportInterval,
			ReportPath:        "sla_report.txt",
			Registerer:        registry,
		}),
		Registry: registry,
	}

	ic.Batcher = worker.New(worker.Config{
		BatchInterval:   cfg.BatchInterval,
		BatchSize:       100,
		WorkerThreads:   cfg.WorkerThreads,
		MaxRetries:      cfg.MaxRetries,
		ProcessingDelay: cfg.ProcessingDelay,
	}, ic.Queue, ic.Store, ic.Cache, ic.Monitor)

	return ic, nil
}

// Start launches the background goroutines (batcher, SLA heartbeat and
// report ticker, queue-depth sampler).
func (ic *InstanceContext) Start(ctx context.Context) {
	ic.Batcher.Start()
	ic.Monitor.Start()
	go ic.Monitor.Uptime.RunHeartbeat(ctx, 5*time.Second)
	go ic.Monitor.QueueDepth.Run(ctx, time.Second, ic.Queue.Depth)
}

// Stop halts the batcher and monitor, then closes the pool and store. It
// implements the §4.8 per-instance shutdown sequence: stop accepting new
// requests is the caller's responsibility (http.Server.Shutdown); this
// drains the queue within the given grace period, closes the pool, and
// exits cleanly.
func (ic *InstanceContext) Stop(grace time.Duration) {
	ic.Batcher.Stop(grace)
	ic.Monitor.Stop()
	ic.Pool.CloseAll()
	ic.Store.Close()
}
