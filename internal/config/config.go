// Package config loads the single yaml document that configures every
// component. Durations are written in the file as plain seconds/hours and
// converted here; defaults fill anything the file leaves out.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/riskcore/internal/exits"
	"github.com/sawpanic/riskcore/internal/gates"
	"github.com/sawpanic/riskcore/internal/marketdata"
	"github.com/sawpanic/riskcore/internal/marketdata/breaker"
)

// Config is the root document.
type Config struct {
	InitialCapital float64 `yaml:"initial_capital"`

	Fetcher FetcherConfig `yaml:"fetcher"`
	Limiter LimiterConfig `yaml:"limiter"`
	Breaker BreakerConfig `yaml:"breaker"`
	Cache   CacheConfig   `yaml:"cache"`
	Exits   exits.Config  `yaml:"exits"`
	Gates   GatesConfig   `yaml:"gates"`
	Monitor MonitorConfig `yaml:"monitor"`
	Store   StoreConfig   `yaml:"store"`
	HTTP    HTTPConfig    `yaml:"http"`
}

// FetcherConfig mirrors marketdata.Config with durations in seconds.
type FetcherConfig struct {
	MaxBatchSize       int  `yaml:"max_batch_size"`
	CacheTTLSeconds    int  `yaml:"cache_ttl_seconds"`
	RequestTimeoutSecs int  `yaml:"request_timeout_seconds"`
	AcquireTimeoutSecs int  `yaml:"acquire_timeout_seconds"`
	PerSymbolFallback  bool `yaml:"per_symbol_fallback"`
}

// LimiterConfig sets the token bucket.
type LimiterConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// BreakerConfig mirrors breaker.Config with the cooldown in seconds.
type BreakerConfig struct {
	FailureThreshold uint32 `yaml:"failure_threshold"`
	CooldownSeconds  int    `yaml:"cooldown_seconds"`
}

// CacheConfig selects the quote cache backend.
type CacheConfig struct {
	Backend  string `yaml:"backend"` // "memory" or "redis"
	Capacity int    `yaml:"capacity"`

	Redis marketdata.RedisConfig `yaml:"redis"`
}

// GatesConfig mirrors gates.Config with the window in hours.
type GatesConfig struct {
	MinConfidence      float64 `yaml:"min_confidence"`
	MaxOpenPositions   int     `yaml:"max_open_positions"`
	MaxReentries       int     `yaml:"max_reentries"`
	ReentryWindowHours int     `yaml:"reentry_window_hours"`
	MaxLosingFraction  float64 `yaml:"max_losing_fraction"`
	OverrideConfidence float64 `yaml:"override_confidence"`
	MinScore           float64 `yaml:"min_score"`
}

// MonitorConfig sets the loop cadence, durations in seconds.
type MonitorConfig struct {
	IntervalSeconds    int `yaml:"interval_seconds"`
	CycleBudgetSeconds int `yaml:"cycle_budget_seconds"`
	SnapshotEvery      int `yaml:"snapshot_every"` // cycles between snapshots
}

// StoreConfig selects the snapshot store backend.
type StoreConfig struct {
	Backend     string `yaml:"backend"` // "memory" or "postgres"
	PostgresDSN string `yaml:"postgres_dsn"`
	Keep        int    `yaml:"keep"`
}

// HTTPConfig sets the status server.
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns a fully populated config with production settings.
func Default() Config {
	fd := marketdata.DefaultConfig()
	bd := breaker.DefaultConfig()
	gd := gates.DefaultConfig()

	return Config{
		InitialCapital: 1_000_000,
		Fetcher: FetcherConfig{
			MaxBatchSize:       fd.MaxBatchSize,
			CacheTTLSeconds:    int(fd.CacheTTL / time.Second),
			RequestTimeoutSecs: int(fd.RequestTimeout / time.Second),
			AcquireTimeoutSecs: int(fd.AcquireTimeout / time.Second),
			PerSymbolFallback:  fd.PerSymbolFallback,
		},
		Limiter: LimiterConfig{RPS: 3, Burst: 10},
		Breaker: BreakerConfig{
			FailureThreshold: bd.FailureThreshold,
			CooldownSeconds:  int(bd.Cooldown / time.Second),
		},
		Cache: CacheConfig{Backend: "memory", Capacity: 1024},
		Exits: exits.DefaultConfig(),
		Gates: GatesConfig{
			MinConfidence:      gd.MinConfidence,
			MaxOpenPositions:   gd.MaxOpenPositions,
			MaxReentries:       gd.MaxReentries,
			ReentryWindowHours: int(gd.ReentryWindow / time.Hour),
			MaxLosingFraction:  gd.MaxLosingFraction,
			OverrideConfidence: gd.OverrideConfidence,
			MinScore:           gd.MinScore,
		},
		Monitor: MonitorConfig{
			IntervalSeconds:    30,
			CycleBudgetSeconds: 25,
			SnapshotEvery:      1,
		},
		Store: StoreConfig{Backend: "memory", Keep: 16},
		HTTP:  HTTPConfig{ListenAddr: ":8080"},
	}
}

// Load reads the yaml file at path over the defaults. A missing path returns
// pure defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot run.
func (c Config) Validate() error {
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial_capital must be positive, got %v", c.InitialCapital)
	}
	if c.Limiter.RPS <= 0 || c.Limiter.Burst <= 0 {
		return fmt.Errorf("limiter rps and burst must be positive")
	}
	if c.Breaker.FailureThreshold == 0 {
		return fmt.Errorf("breaker failure_threshold must be at least 1")
	}
	if c.Monitor.IntervalSeconds <= 0 {
		return fmt.Errorf("monitor interval_seconds must be positive")
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache backend %q not supported", c.Cache.Backend)
	}
	switch c.Store.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("store backend %q not supported", c.Store.Backend)
	}
	if c.Store.Backend == "postgres" && c.Store.PostgresDSN == "" {
		return fmt.Errorf("store backend postgres requires postgres_dsn")
	}
	return nil
}

// FetcherSettings converts to the marketdata config.
func (c Config) FetcherSettings() marketdata.Config {
	return marketdata.Config{
		MaxBatchSize:      c.Fetcher.MaxBatchSize,
		CacheTTL:          time.Duration(c.Fetcher.CacheTTLSeconds) * time.Second,
		RequestTimeout:    time.Duration(c.Fetcher.RequestTimeoutSecs) * time.Second,
		AcquireTimeout:    time.Duration(c.Fetcher.AcquireTimeoutSecs) * time.Second,
		PerSymbolFallback: c.Fetcher.PerSymbolFallback,
	}
}

// BreakerSettings converts to the breaker config.
func (c Config) BreakerSettings() breaker.Config {
	return breaker.Config{
		Name:             "quotes",
		FailureThreshold: c.Breaker.FailureThreshold,
		Cooldown:         time.Duration(c.Breaker.CooldownSeconds) * time.Second,
	}
}

// GateSettings converts to the gates config.
func (c Config) GateSettings() gates.Config {
	return gates.Config{
		MinConfidence:      c.Gates.MinConfidence,
		MaxOpenPositions:   c.Gates.MaxOpenPositions,
		MaxReentries:       c.Gates.MaxReentries,
		ReentryWindow:      time.Duration(c.Gates.ReentryWindowHours) * time.Hour,
		MaxLosingFraction:  c.Gates.MaxLosingFraction,
		OverrideConfidence: c.Gates.OverrideConfidence,
		MinScore:           c.Gates.MinScore,
	}
}

// MonitorInterval returns the loop cadence.
func (c Config) MonitorInterval() time.Duration {
	return time.Duration(c.Monitor.IntervalSeconds) * time.Second
}

// CycleBudget returns the per-cycle wall-clock budget.
func (c Config) CycleBudget() time.Duration {
	return time.Duration(c.Monitor.CycleBudgetSeconds) * time.Second
}
