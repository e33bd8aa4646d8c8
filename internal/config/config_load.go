package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fsnotify/fsnotify"
	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               18650,
			RateLimitPerMinute: 600,
			MaxBodyBytes:       1 << 20,
		},
		Database: DatabaseConfig{
			SQLitePath: "pagegate.db",
		},
		Dispatch: DispatchConfig{
			RequestsPerSecond: 10,
			TimeoutSeconds:    30,
		},
		Caches: CachesConfig{
			SweepSchedule: "*/5 * * * *",
			PrewarmBatch:  10,
		},
		Queue: QueueConfig{
			Partitions: 8,
			Buffer:     256,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "pagegate",
			SampleRatio: 1,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error: env plus defaults is a complete configuration.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env wins over file
// values; secrets exist only here.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("PAGEGATE_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("PAGEGATE_SQLITE_PATH", &c.Database.SQLitePath)
	envStr("PAGEGATE_VERIFY_TOKEN", &c.Platform.VerifyToken)
	envStr("PAGEGATE_APP_SECRET", &c.Platform.AppSecret)
	envStr("PAGEGATE_GATEWAY_TOKEN", &c.Server.Token)
	envStr("PAGEGATE_DISPATCH_TOKEN", &c.Dispatch.Token)
	envStr("PAGEGATE_RESPONDER_URL", &c.Dispatch.ResponderURL)
	envStr("PAGEGATE_OTLP_ENDPOINT", &c.Telemetry.Endpoint)

	if v := os.Getenv("PAGEGATE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

// Watch re-loads the config whenever the file changes and hands the result
// to onChange. Editors replace files rather than writing in place, so the
// watcher tracks the directory and filters on name.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				slog.Warn("config.reload_failed", "error", err)
				continue
			}
			slog.Info("config.reloaded", "path", path)
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config.watch_error", "error", err)
		}
	}
}
