// Package config holds the immutable gateway configuration.
//
// A Config is assembled once at startup (defaults, then an optional YAML
// file, then environment overrides) and handed to components by value.
// Nothing in the gateway reads configuration from globals after startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// DrainPolicy selects how a reconciliation pass consumes the pending queue.
type DrainPolicy string

const (
	// DrainAll submits every pending record sequentially in a single pass.
	// Per-record failures are logged and skipped; the pass continues.
	DrainAll DrainPolicy = "all"

	// DrainSingle submits exactly one pending record per pass and relies on
	// subsequent connectivity signals to retry the rest.
	DrainSingle DrainPolicy = "single"
)

// DatabaseConfig selects the durable store backing records, bucket entries
// and the sync journal.
type DatabaseConfig struct {
	// Type is one of "sqlite", "mysql", "postgres".
	Type string `json:"type"`

	// DSN is the driver-specific connection string. For sqlite this is a
	// file path; ":memory:" is accepted for ephemeral stores.
	DSN string `json:"dsn"`
}

// HTTPConfig controls the gateway's own listener and its outbound clients.
type HTTPConfig struct {
	ListenAddr     string        `json:"listenAddr"`
	RequestTimeout time.Duration `json:"requestTimeout"`

	// BucketWriteTimeout bounds the detached cache write that follows a
	// successful same-origin fetch.
	BucketWriteTimeout time.Duration `json:"bucketWriteTimeout"`
}

// ProbeConfig controls the connectivity monitor.
type ProbeConfig struct {
	Interval time.Duration `json:"interval"`
	Timeout  time.Duration `json:"timeout"`
}

// SyncConfig controls the reconciler.
type SyncConfig struct {
	// Tag is the reserved connectivity-signal tag that triggers a pass.
	// Signals carrying any other tag are ignored.
	Tag string `json:"tag"`

	// Drain selects the pass drain policy. See DrainPolicy.
	Drain DrainPolicy `json:"drain"`

	// ResyncInterval is the safety-net interval between unsolicited passes
	// while records are pending. Zero or negative disables the loop.
	ResyncInterval time.Duration `json:"resyncInterval"`

	// JournalRetentionDays is how long completed pass records are kept.
	JournalRetentionDays int `json:"journalRetentionDays"`
}

// Config is the full gateway configuration.
type Config struct {
	// BucketName is the base name of the response bucket. The effective
	// bucket identity is BucketName + "-" + BucketVersion.
	BucketName string `json:"bucketName"`

	// BucketVersion is a manually bumped literal. Changing it and
	// restarting the gateway installs a fresh bucket and evicts every
	// bucket of any other version on activation.
	BucketVersion string `json:"bucketVersion"`

	// BackendScheme and BackendHost identify the remote API. Requests to
	// this host are never cached.
	BackendScheme string `json:"backendScheme"`
	BackendHost   string `json:"backendHost"`

	// OriginScheme and OriginHost identify the application origin whose
	// assets are cached with the network-first strategy.
	OriginScheme string `json:"originScheme"`
	OriginHost   string `json:"originHost"`

	// CDNHosts is the allow-list of third-party hosts served cache-first.
	CDNHosts []string `json:"cdnHosts"`

	// CoreAssets are the origin-relative URLs fetched into the current
	// bucket during install.
	CoreAssets []string `json:"coreAssets"`

	// OfflineFallbackAsset is the cached document served to navigation
	// requests that miss the bucket while offline.
	OfflineFallbackAsset string `json:"offlineFallbackAsset"`

	Sync     SyncConfig     `json:"sync"`
	Database DatabaseConfig `json:"database"`
	HTTP     HTTPConfig     `json:"http"`
	Probe    ProbeConfig    `json:"probe"`
}

// DefaultConfig returns the configuration the gateway ships with.
func DefaultConfig() Config {
	return Config{
		BucketName:    "formulario-servico",
		BucketVersion: "v2",
		BackendScheme: "https",
		BackendHost:   "servico.pcmicastilho.com.br",
		OriginScheme:  "http",
		OriginHost:    "localhost:8080",
		CDNHosts: []string{
			"cdn.jsdelivr.net",
			"cdnjs.cloudflare.com",
			"fonts.googleapis.com",
			"fonts.gstatic.com",
			"stackpath.bootstrapcdn.com",
		},
		CoreAssets: []string{
			"/",
			"/index.html",
			"/manifest.json",
			"/sw.js",
		},
		OfflineFallbackAsset: "/",
		Sync: SyncConfig{
			Tag:                  "background-sync-formularios",
			Drain:                DrainAll,
			ResyncInterval:       5 * time.Minute,
			JournalRetentionDays: 30,
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			DSN:  "formulario-servico.db",
		},
		HTTP: HTTPConfig{
			ListenAddr:         ":8090",
			RequestTimeout:     30 * time.Second,
			BucketWriteTimeout: 10 * time.Second,
		},
		Probe: ProbeConfig{
			Interval: 15 * time.Second,
			Timeout:  5 * time.Second,
		},
	}
}

// ConfigFromEnv reads configuration from environment variables, falling back
// to defaults for any unset variable.
//
// Environment variables:
//   - GATEWAY_BUCKET_NAME, GATEWAY_BUCKET_VERSION
//   - GATEWAY_BACKEND_SCHEME, GATEWAY_BACKEND_HOST
//   - GATEWAY_ORIGIN_SCHEME, GATEWAY_ORIGIN_HOST
//   - GATEWAY_CDN_HOSTS: comma-separated host list
//   - GATEWAY_CORE_ASSETS: comma-separated relative URL list
//   - GATEWAY_OFFLINE_FALLBACK_ASSET
//   - GATEWAY_SYNC_TAG, GATEWAY_SYNC_DRAIN ("all" or "single")
//   - GATEWAY_SYNC_RESYNC_INTERVAL_SECONDS, GATEWAY_SYNC_JOURNAL_RETENTION_DAYS
//   - GATEWAY_DB_TYPE, GATEWAY_DB_DSN
//   - GATEWAY_LISTEN_ADDR, GATEWAY_REQUEST_TIMEOUT_SECONDS,
//     GATEWAY_BUCKET_WRITE_TIMEOUT_SECONDS
//   - GATEWAY_PROBE_INTERVAL_SECONDS, GATEWAY_PROBE_TIMEOUT_SECONDS
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	applyEnv(&cfg)
	return cfg
}

// applyEnv overlays environment variables on cfg in place.
func applyEnv(cfg *Config) {
	if v := os.Getenv("GATEWAY_BUCKET_NAME"); v != "" {
		cfg.BucketName = v
	}
	if v := os.Getenv("GATEWAY_BUCKET_VERSION"); v != "" {
		cfg.BucketVersion = v
	}
	if v := os.Getenv("GATEWAY_BACKEND_SCHEME"); v != "" {
		cfg.BackendScheme = v
	}
	if v := os.Getenv("GATEWAY_BACKEND_HOST"); v != "" {
		cfg.BackendHost = v
	}
	if v := os.Getenv("GATEWAY_ORIGIN_SCHEME"); v != "" {
		cfg.OriginScheme = v
	}
	if v := os.Getenv("GATEWAY_ORIGIN_HOST"); v != "" {
		cfg.OriginHost = v
	}
	if v := os.Getenv("GATEWAY_CDN_HOSTS"); v != "" {
		cfg.CDNHosts = splitList(v)
	}
	if v := os.Getenv("GATEWAY_CORE_ASSETS"); v != "" {
		cfg.CoreAssets = splitList(v)
	}
	if v := os.Getenv("GATEWAY_OFFLINE_FALLBACK_ASSET"); v != "" {
		cfg.OfflineFallbackAsset = v
	}
	if v := os.Getenv("GATEWAY_SYNC_TAG"); v != "" {
		cfg.Sync.Tag = v
	}
	if v := os.Getenv("GATEWAY_SYNC_DRAIN"); v != "" {
		cfg.Sync.Drain = DrainPolicy(strings.ToLower(v))
	}
	if v := os.Getenv("GATEWAY_SYNC_RESYNC_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.ResyncInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("GATEWAY_SYNC_JOURNAL_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sync.JournalRetentionDays = n
		}
	}
	if v := os.Getenv("GATEWAY_DB_TYPE"); v != "" {
		cfg.Database.Type = strings.ToLower(v)
	}
	if v := os.Getenv("GATEWAY_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("GATEWAY_LISTEN_ADDR"); v != "" {
		cfg.HTTP.ListenAddr = v
	}
	if v := os.Getenv("GATEWAY_REQUEST_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTP.RequestTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("GATEWAY_BUCKET_WRITE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTP.BucketWriteTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("GATEWAY_PROBE_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Probe.Interval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("GATEWAY_PROBE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Probe.Timeout = time.Duration(n) * time.Second
		}
	}
}

// splitList splits a comma-separated env value, trimming whitespace and
// dropping empty items.
func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// BucketID returns the effective bucket identity for the configured version.
func (c Config) BucketID() string {
	return c.BucketName + "-" + c.BucketVersion
}

// CDNSet returns the allow-list as a set for O(1) membership checks.
// Hosts are lowercased so lookups are case-insensitive.
func (c Config) CDNSet() mapset.Set[string] {
	set := mapset.NewSetWithSize[string](len(c.CDNHosts))
	for _, h := range c.CDNHosts {
		set.Add(strings.ToLower(h))
	}
	return set
}

// BackendBaseURL returns the backend origin, e.g. "https://api.example.com".
func (c Config) BackendBaseURL() string {
	return c.BackendScheme + "://" + c.BackendHost
}

// OriginBaseURL returns the application origin.
func (c Config) OriginBaseURL() string {
	return c.OriginScheme + "://" + c.OriginHost
}

// Validate checks the configuration for values the gateway cannot run with.
func (c Config) Validate() error {
	if c.BucketName == "" {
		return fmt.Errorf("bucketName must not be empty")
	}
	if c.BucketVersion == "" {
		return fmt.Errorf("bucketVersion must not be empty")
	}
	if c.BackendHost == "" {
		return fmt.Errorf("backendHost must not be empty")
	}
	if c.OriginHost == "" {
		return fmt.Errorf("originHost must not be empty")
	}
	if c.Sync.Tag == "" {
		return fmt.Errorf("sync.tag must not be empty")
	}
	switch c.Sync.Drain {
	case DrainAll, DrainSingle:
	default:
		return fmt.Errorf("sync.drain must be %q or %q, got %q", DrainAll, DrainSingle, c.Sync.Drain)
	}
	switch c.Database.Type {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("database.type must be sqlite, mysql or postgres, got %q", c.Database.Type)
	}
	for _, a := range c.CoreAssets {
		if !strings.HasPrefix(a, "/") {
			return fmt.Errorf("core asset %q must be origin-relative (start with /)", a)
		}
	}
	if c.OfflineFallbackAsset != "" && !strings.HasPrefix(c.OfflineFallbackAsset, "/") {
		return fmt.Errorf("offlineFallbackAsset %q must be origin-relative", c.OfflineFallbackAsset)
	}
	return nil
}
