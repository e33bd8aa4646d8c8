// Package config defines the PageGate configuration: a JSON5 file overlaid
// with PAGEGATE_* environment variables. Secrets (DSN, tokens, app secret)
// come from the environment only and are never written back to disk.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Platform  PlatformConfig  `json:"platform"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Caches    CachesConfig    `json:"caches,omitempty"`
	Queue     QueueConfig     `json:"queue,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`

	// Token guards the /ws observer endpoint. Env only: PAGEGATE_GATEWAY_TOKEN.
	Token string `json:"-"`

	// RateLimitPerMinute bounds webhook posts per source key. Zero disables.
	RateLimitPerMinute int `json:"rate_limit_per_minute,omitempty"`

	MaxBodyBytes int64 `json:"max_body_bytes,omitempty"`
}

// PlatformConfig holds the messaging-platform credentials and filters.
type PlatformConfig struct {
	// VerifyToken answers the subscription handshake. Env only:
	// PAGEGATE_VERIFY_TOKEN.
	VerifyToken string `json:"-"`

	// AppSecret verifies X-Hub-Signature-256 on event posts. Empty
	// disables verification (dev mode). Env only: PAGEGATE_APP_SECRET.
	AppSecret string `json:"-"`

	// CannedReplies are substrings marking the page's own canned comment
	// replies, filtered before any downstream work.
	CannedReplies []string `json:"canned_replies,omitempty"`
}

// DatabaseConfig selects the storage backend: Postgres when a DSN is set
// (managed mode), embedded SQLite otherwise (standalone mode).
type DatabaseConfig struct {
	// PostgresDSN is env only: PAGEGATE_POSTGRES_DSN.
	PostgresDSN string `json:"-"`
	SQLitePath  string `json:"sqlite_path,omitempty"`
}

// DispatchConfig configures the responder service forwarder.
type DispatchConfig struct {
	ResponderURL string `json:"responder_url"`

	// Token is env only: PAGEGATE_DISPATCH_TOKEN.
	Token string `json:"-"`

	RequestsPerSecond float64 `json:"requests_per_second,omitempty"`
	TimeoutSeconds    int     `json:"timeout_seconds,omitempty"`
}

// CachesConfig tunes TTLs and the sweep schedule. All durations in seconds.
type CachesConfig struct {
	TenantTTLSeconds    int    `json:"tenant_ttl_seconds,omitempty"`
	FlagTTLSeconds      int    `json:"flag_ttl_seconds,omitempty"`
	DedupTTLSeconds     int    `json:"dedup_ttl_seconds,omitempty"`
	AgentEchoTTLSeconds int    `json:"agent_echo_ttl_seconds,omitempty"`
	SweepSchedule       string `json:"sweep_schedule,omitempty"` // cron expression
	PrewarmBatch        int    `json:"prewarm_batch,omitempty"`
}

// QueueConfig tunes the in-process partitioned queue.
type QueueConfig struct {
	Partitions int `json:"partitions,omitempty"`
	Buffer     int `json:"buffer,omitempty"`
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool    `json:"enabled,omitempty"`
	Endpoint    string  `json:"endpoint,omitempty"` // env: PAGEGATE_OTLP_ENDPOINT
	Protocol    string  `json:"protocol,omitempty"` // "grpc" or "http"
	ServiceName string  `json:"service_name,omitempty"`
	SampleRatio float64 `json:"sample_ratio,omitempty"`
	Insecure    bool    `json:"insecure,omitempty"`
}

// TenantTTL returns the tenant-config cache TTL.
func (c *CachesConfig) TenantTTL() time.Duration {
	return secondsOr(c.TenantTTLSeconds, 5*time.Minute)
}

// FlagTTL returns the feature-flag cache TTL.
func (c *CachesConfig) FlagTTL() time.Duration {
	return secondsOr(c.FlagTTLSeconds, 2*time.Minute)
}

// DedupTTL returns the dedup-ledger retention.
func (c *CachesConfig) DedupTTL() time.Duration {
	return secondsOr(c.DedupTTLSeconds, time.Hour)
}

// AgentEchoTTL returns the agent-echo record lifetime.
func (c *CachesConfig) AgentEchoTTL() time.Duration {
	return secondsOr(c.AgentEchoTTLSeconds, time.Minute)
}

// DispatchTimeout returns the responder request timeout.
func (c *DispatchConfig) DispatchTimeout() time.Duration {
	return secondsOr(c.TimeoutSeconds, 30*time.Second)
}

func secondsOr(s int, fallback time.Duration) time.Duration {
	if s <= 0 {
		return fallback
	}
	return time.Duration(s) * time.Second
}
