// Package config assembles the daemon configuration from environment
// variables. Every knob has a default; a zero-config start is always valid.
package config

import (
	"fmt"
	"time"
)

// Defaults for every tunable. Exposed for tests and the CLI help text.
const (
	DefaultListenAddr      = ":8090"
	DefaultDataDir         = "./data"
	DefaultStoreBackend    = "sqlite"
	DefaultLogLevel        = "info"
	DefaultFlushInterval   = 30 * time.Second
	DefaultProviderLatency = 150 * time.Millisecond
	DefaultProviderTimeout = 5 * time.Second
	DefaultSyncTimeout     = 10 * time.Second
	DefaultRateLimit       = 120 // requests per minute per client
)

// Config is the full daemon configuration.
type Config struct {
	ListenAddr string
	DataDir    string
	LogLevel   string

	// StoreBackend selects the submission queue store: memory, sqlite, badger.
	StoreBackend string

	// SyncEndpoint is the submission target URL. Empty selects the spool
	// syncer, which writes payloads under DataDir/outbox.
	SyncEndpoint string
	SyncTimeout  time.Duration

	// FlushInterval is how often the daemon retries queued submissions while
	// it is told it is online. Zero disables the background flusher.
	FlushInterval time.Duration

	// AssumeOnline is the daemon-level default connectivity signal for the
	// background flusher. Per-request signals always take precedence.
	AssumeOnline bool

	ProviderLatency time.Duration
	ProviderTimeout time.Duration
	ProviderSeed    int64

	GPSSuccessRate    float64
	BeaconSuccessRate float64
	QRSuccessRate     float64

	RateLimit int
}

// FromEnv builds the configuration from FIELDCERT_* environment variables.
func FromEnv() Config {
	return Config{
		ListenAddr:   ParseString("FIELDCERT_LISTEN", DefaultListenAddr),
		DataDir:      ParseString("FIELDCERT_DATA_DIR", DefaultDataDir),
		LogLevel:     ParseString("FIELDCERT_LOG_LEVEL", DefaultLogLevel),
		StoreBackend: ParseString("FIELDCERT_STORE_BACKEND", DefaultStoreBackend),

		SyncEndpoint: ParseString("FIELDCERT_SYNC_ENDPOINT", ""),
		SyncTimeout:  ParseDuration("FIELDCERT_SYNC_TIMEOUT", DefaultSyncTimeout),

		FlushInterval: ParseDuration("FIELDCERT_FLUSH_INTERVAL", DefaultFlushInterval),
		AssumeOnline:  ParseBool("FIELDCERT_ASSUME_ONLINE", true),

		ProviderLatency: ParseDuration("FIELDCERT_PROVIDER_LATENCY", DefaultProviderLatency),
		ProviderTimeout: ParseDuration("FIELDCERT_PROVIDER_TIMEOUT", DefaultProviderTimeout),
		ProviderSeed:    ParseInt64("FIELDCERT_PROVIDER_SEED", 0),

		GPSSuccessRate:    ParseFloat("FIELDCERT_GPS_SUCCESS_RATE", 0.7),
		BeaconSuccessRate: ParseFloat("FIELDCERT_BEACON_SUCCESS_RATE", 0.8),
		QRSuccessRate:     ParseFloat("FIELDCERT_QR_SUCCESS_RATE", 0.9),

		RateLimit: ParseInt("FIELDCERT_RATE_LIMIT", DefaultRateLimit),
	}
}

// Validate rejects configurations the daemon cannot start with.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen address must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data dir must not be empty")
	}
	switch c.StoreBackend {
	case "memory", "sqlite", "badger":
	default:
		return fmt.Errorf("config: unknown store backend %q", c.StoreBackend)
	}
	for name, rate := range map[string]float64{
		"gps":    c.GPSSuccessRate,
		"beacon": c.BeaconSuccessRate,
		"qr":     c.QRSuccessRate,
	} {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("config: %s success rate %v outside [0,1]", name, rate)
		}
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("config: rate limit must be positive")
	}
	return nil
}
