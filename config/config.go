/*
config.go - Per-environment configuration loading and hot-reload

PURPOSE:
  Loads config_<environment>.json (§6), selected by the ENVIRONMENT
  variable (dev|staging|prod, default dev), with PORT overriding the
  listen port for a single-instance run. A failed load is fatal at
  startup (§7 "Config load failure").

  The file is watched for changes: fsnotify watches the resolved file and
  hands the re-read Config (including log_level) to registered OnChange
  callbacks without a process restart, grounded on the viper.WatchConfig +
  fsnotify pattern used across the retrieved pack's CLI tooling
  (cobra+viper command trees). Logging itself is not filtered by log_level.
*/
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config mirrors the JSON shape in §6, plus max_queue_size, max_retries and
// port.
type Config struct {
	Environment      string        `mapstructure:"environment" json:"environment"`
	WorkerThreads    int           `mapstructure:"worker_threads" json:"worker_threads"`
	ProcessingDelay  time.Duration `mapstructure:"processing_delay" json:"processing_delay"`
	LogLevel         string        `mapstructure:"log_level" json:"log_level"`
	CacheSize        int           `mapstructure:"cache_size" json:"cache_size"`
	MinConnections   int           `mapstructure:"min_connections" json:"min_connections"`
	MaxConnections   int           `mapstructure:"max_connections" json:"max_connections"`
	BatchInterval    time.Duration `mapstructure:"batch_interval" json:"batch_interval"`
	SLAReportInterval time.Duration `mapstructure:"sla_report_interval" json:"sla_report_interval"`
	MaxQueueSize     int           `mapstructure:"max_queue_size" json:"max_queue_size"`
	MaxRetries       int           `mapstructure:"max_retries" json:"max_retries"`
	Port             int           `mapstructure:"port" json:"port"`
}

// defaults applied before the environment file is read, so a partial
// config file still produces a usable instance.
func defaults() Config {
	return Config{
		Environment:       "dev",
		WorkerThreads:     4,
		ProcessingDelay:   0,
		LogLevel:          "info",
		CacheSize:         100,
		MinConnections:    2,
		MaxConnections:    10,
		BatchInterval:     2 * time.Second,
		SLAReportInterval: 5 * time.Minute,
		MaxQueueSize:      1000,
		MaxRetries:        3,
		Port:              8080,
	}
}

// Loader owns the viper instance backing one loaded config plus the
// fsnotify watch used for hot-reload.
type Loader struct {
	v        *viper.Viper
	path     string
	onChange []func(Config)
}

// Load resolves config_<environment>.json from dir (ENVIRONMENT env var,
// default "dev"), applies PORT if set, and returns the parsed Config.
// A missing or malformed file is returned as an error - callers must
// treat this as fatal per §7.
func Load(dir string) (*Loader, Config, error) {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}

	v := viper.New()
	for key, val := range structToMap(defaults()) {
		v.SetDefault(key, val)
	}
	v.Set("environment", env)

	path := filepath.Join(dir, fmt.Sprintf("config_%s.json", env))
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		return nil, Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}

	if portOverride := os.Getenv("PORT"); portOverride != "" {
		port, err := strconv.Atoi(portOverride)
		if err != nil {
			return nil, Config{}, fmt.Errorf("config: PORT=%q is not a valid integer: %w", portOverride, err)
		}
		v.Set("port", port)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, Config{}, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	if err := validate(cfg); err != nil {
		return nil, Config{}, fmt.Errorf("config: %s: %w", path, err)
	}

	return &Loader{v: v, path: path}, cfg, nil
}

func validate(cfg Config) error {
	if cfg.MinConnections < 1 || cfg.MaxConnections < cfg.MinConnections {
		return fmt.Errorf("min_connections/max_connections must satisfy 1 <= min <= max")
	}
	if cfg.WorkerThreads < 1 {
		return fmt.Errorf("worker_threads must be >= 1")
	}
	if cfg.CacheSize < 1 {
		return fmt.Errorf("cache_size must be >= 1")
	}
	return nil
}

// OnChange registers a callback invoked with the freshly reloaded Config
// whenever the backing file changes on disk. Multiple callbacks may be
// registered; each is called in registration order.
func (l *Loader) OnChange(fn func(Config)) {
	l.onChange = append(l.onChange, fn)
}

// Watch starts an fsnotify watch on the config file and fires registered
// OnChange callbacks on write events. Intended to run for the lifetime of
// the instance; call the returned stop function on shutdown.
func (l *Loader) Watch() (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watch %s: %w", l.path, err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != l.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := l.v.ReadInConfig(); err != nil {
					continue
				}
				var cfg Config
				if err := l.v.Unmarshal(&cfg); err != nil {
					continue
				}
				for _, fn := range l.onChange {
					fn(cfg)
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}

// structToMap flattens Config's mapstructure tags into a map suitable for
// viper.SetDefault, since viper has no typed struct-default API.
func structToMap(c Config) map[string]any {
	return map[string]any{
		"environment":        c.Environment,
		"worker_threads":      c.WorkerThreads,
		"processing_delay":    c.ProcessingDelay,
		"log_level":           c.LogLevel,
		"cache_size":          c.CacheSize,
		"min_connections":     c.MinConnections,
		"max_connections":     c.MaxConnections,
		"batch_interval":      c.BatchInterval,
		"sla_report_interval": c.SLAReportInterval,
		"max_queue_size":      c.MaxQueueSize,
		"max_retries":         c.MaxRetries,
		"port":                c.Port,
	}
}
