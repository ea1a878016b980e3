package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"candlesync/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for candlesync.
type Config struct {
	Storage    Storage             `yaml:"storage"`
	Archive    Archive             `yaml:"archive"`
	Logging    Logging             `yaml:"logging"`
	Metrics    Metrics             `yaml:"metrics"`
	Collection Collection          `yaml:"collection"`
	Scheduler  Scheduler           `yaml:"scheduler"`
	Retry      Retry               `yaml:"retry"`
	Calendar   Calendar            `yaml:"calendar"`
	FX         FX                  `yaml:"fx"`
	HasData    HasData             `yaml:"has_data"`
	Chains     map[string][]string `yaml:"chains"`
	Adapters   Adapters            `yaml:"adapters"`
}

// Storage selects the SQL backend holding the registry and candles.
type Storage struct {
	Driver  string        `yaml:"driver"` // "sqlite" or "postgres"
	DSN     string        `yaml:"dsn"`
	Timeout time.Duration `yaml:"timeout"`
}

// Archive configures the optional Parquet mirror of written candles.
type Archive struct {
	Dir        string `yaml:"dir"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Prefix   string `yaml:"s3_prefix"`
	S3Region   string `yaml:"s3_region"`
	S3Endpoint string `yaml:"s3_endpoint"`
}

// Logging configures the application logger.
type Logging struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Metrics configures the Prometheus endpoint. Empty Addr disables it.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Collection controls what is fetched for each instrument.
type Collection struct {
	StartDate         string        `yaml:"start_date"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout"`
	OverwriteExisting bool          `yaml:"overwrite_existing"`
}

// Scheduler controls batching, pacing and the daemon schedule.
type Scheduler struct {
	Schedule         string        `yaml:"schedule"` // cron spec; empty runs once
	BatchSize        int           `yaml:"batch_size"`
	InstrumentDelay  time.Duration `yaml:"instrument_delay"`
	BatchCooldown    time.Duration `yaml:"batch_cooldown"`
	MaxCooldown      time.Duration `yaml:"max_cooldown"`
	RateRefreshEvery int           `yaml:"rate_refresh_every"`
	RecheckEvery     int           `yaml:"recheck_every"`
}

// Retry is the backoff policy applied to every adapter call.
type Retry struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	RateLimitDelay time.Duration `yaml:"rate_limit_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	Multiplier     float64       `yaml:"multiplier"`
}

// Calendar holds per-class settlement delays after UTC midnight.
type Calendar struct {
	Settlement map[string]time.Duration `yaml:"settlement"`
}

// FX configures the cross-rate resolver.
type FX struct {
	USDPegged []string `yaml:"usd_pegged"`
}

// HasData configures the availability flag policy per class.
type HasData struct {
	Policies      map[string]string `yaml:"policies"` // class -> "sticky" | "confirm"
	ConfirmMisses int               `yaml:"confirm_misses"`
}

// Adapters holds per-provider settings.
type Adapters struct {
	BinanceSpot    Adapter `yaml:"binance_spot"`
	BinanceFutures Adapter `yaml:"binance_futures"`
	Alpaca         Adapter `yaml:"alpaca"`
	Yahoo          Adapter `yaml:"yahoo"`
	Stooq          Adapter `yaml:"stooq"`
}

// Adapter holds endpoint, credentials and pacing for one provider.
type Adapter struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	APISecret       string        `yaml:"api_secret"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
	Timeout         time.Duration `yaml:"timeout"`
}

// Adapter names usable in chains.
const (
	AdapterBinanceSpot    = "binance_spot"
	AdapterBinanceFutures = "binance_futures"
	AdapterAlpaca         = "alpaca"
	AdapterYahoo          = "yahoo"
	AdapterStooq          = "stooq"
)

// Has_data policy names.
const (
	PolicySticky  = "sticky"
	PolicyConfirm = "confirm"
)

var knownAdapters = map[string]bool{
	AdapterBinanceSpot:    true,
	AdapterBinanceFutures: true,
	AdapterAlpaca:         true,
	AdapterYahoo:          true,
	AdapterStooq:          true,
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration built only from defaults and environment
// variables.
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DB_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.Storage.DSN = v
	}

	if v := os.Getenv("ARCHIVE_DIR"); v != "" {
		cfg.Archive.Dir = v
	}
	if v := os.Getenv("ARCHIVE_S3_BUCKET"); v != "" {
		cfg.Archive.S3Bucket = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}

	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}

	if v := os.Getenv("COLLECTION_START_DATE"); v != "" {
		cfg.Collection.StartDate = v
	}
	if v := os.Getenv("SCHEDULER_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.BatchSize = n
		}
	}

	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		cfg.Adapters.BinanceSpot.APIKey = v
		cfg.Adapters.BinanceFutures.APIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		cfg.Adapters.BinanceSpot.APISecret = v
		cfg.Adapters.BinanceFutures.APISecret = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Adapters.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Adapters.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Adapters.Alpaca.BaseURL = v
	}

	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Adapters.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Adapters.Alpaca.APISecret = v
	}
}

// applyDefaults fills every unset field with its default.
func applyDefaults(cfg *Config) {
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DSN == "" && cfg.Storage.Driver == "sqlite" {
		cfg.Storage.DSN = "data/candlesync.db"
	}
	if cfg.Storage.Timeout == 0 {
		cfg.Storage.Timeout = 30 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 5
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 30
	}

	if cfg.Collection.StartDate == "" {
		cfg.Collection.StartDate = "2025-01-01"
	}
	if cfg.Collection.FetchTimeout == 0 {
		cfg.Collection.FetchTimeout = 30 * time.Second
	}

	s := &cfg.Scheduler
	if s.BatchSize == 0 {
		s.BatchSize = 50
	}
	if s.InstrumentDelay == 0 {
		s.InstrumentDelay = 100 * time.Millisecond
	}
	if s.BatchCooldown == 0 {
		s.BatchCooldown = 5 * time.Second
	}
	if s.MaxCooldown == 0 {
		s.MaxCooldown = 5 * time.Minute
	}
	if s.RateRefreshEvery == 0 {
		s.RateRefreshEvery = 10
	}

	r := &cfg.Retry
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 4
	}
	if r.BaseDelay == 0 {
		r.BaseDelay = time.Second
	}
	if r.RateLimitDelay == 0 {
		r.RateLimitDelay = 5 * time.Second
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = 2 * time.Minute
	}
	if r.Multiplier == 0 {
		r.Multiplier = 2
	}

	if cfg.Calendar.Settlement == nil {
		cfg.Calendar.Settlement = map[string]time.Duration{
			string(domain.ClassCryptoSpot):    15 * time.Minute,
			string(domain.ClassCryptoFutures): 15 * time.Minute,
		}
	}

	if len(cfg.FX.USDPegged) == 0 {
		cfg.FX.USDPegged = []string{"USDT", "USDC", "BUSD", "FDUSD", "DAI"}
	}

	if cfg.HasData.Policies == nil {
		cfg.HasData.Policies = map[string]string{
			string(domain.ClassCommodity): PolicySticky,
		}
	}
	if cfg.HasData.ConfirmMisses == 0 {
		cfg.HasData.ConfirmMisses = 3
	}

	if cfg.Chains == nil {
		cfg.Chains = map[string][]string{}
	}
	defaults := map[domain.Class][]string{
		domain.ClassCryptoSpot:    {AdapterBinanceSpot},
		domain.ClassCryptoFutures: {AdapterBinanceFutures},
		domain.ClassForex:         {AdapterYahoo, AdapterStooq},
		domain.ClassCommodity:     {AdapterYahoo, AdapterStooq},
		domain.ClassStock:         {AdapterAlpaca, AdapterYahoo, AdapterStooq},
		domain.ClassIndex:         {AdapterYahoo, AdapterStooq},
	}
	for class, chain := range defaults {
		if _, ok := cfg.Chains[string(class)]; !ok {
			cfg.Chains[string(class)] = chain
		}
	}

	a := &cfg.Adapters
	adapterDefaults(&a.BinanceSpot, "https://api.binance.com", 1200)
	adapterDefaults(&a.BinanceFutures, "https://fapi.binance.com", 1200)
	adapterDefaults(&a.Alpaca, "", 200)
	adapterDefaults(&a.Yahoo, "https://query1.finance.yahoo.com", 60)
	adapterDefaults(&a.Stooq, "https://stooq.com", 30)
}

func adapterDefaults(a *Adapter, baseURL string, perMin int) {
	if a.BaseURL == "" {
		a.BaseURL = baseURL
	}
	if a.RateLimitPerMin == 0 {
		a.RateLimitPerMin = perMin
	}
	if a.Timeout == 0 {
		a.Timeout = 20 * time.Second
	}
}

// ---------------------------------------------------------------------------
// Validation and derived values
// ---------------------------------------------------------------------------

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if _, err := c.StartDate(); err != nil {
		return err
	}
	if c.Scheduler.BatchSize < 1 {
		return fmt.Errorf("scheduler.batch_size must be >= 1, got %d", c.Scheduler.BatchSize)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver %q: want sqlite or postgres", c.Storage.Driver)
	}
	for class, chain := range c.Chains {
		if !isClass(class) {
			return fmt.Errorf("chains: unknown class %q", class)
		}
		for _, name := range chain {
			if !knownAdapters[name] {
				return fmt.Errorf("chains.%s: unknown adapter %q", class, name)
			}
		}
	}
	for class, policy := range c.HasData.Policies {
		if !isClass(class) {
			return fmt.Errorf("has_data.policies: unknown class %q", class)
		}
		if policy != PolicySticky && policy != PolicyConfirm {
			return fmt.Errorf("has_data.policies.%s: unknown policy %q", class, policy)
		}
	}
	return nil
}

// StartDate parses Collection.StartDate as a UTC day.
func (c *Config) StartDate() (time.Time, error) {
	t, err := time.Parse(domain.DateLayout, strings.TrimSpace(c.Collection.StartDate))
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing collection.start_date %q: %w", c.Collection.StartDate, err)
	}
	return t.UTC(), nil
}

// SettlementDelays returns Calendar.Settlement keyed by class.
func (c *Config) SettlementDelays() map[domain.Class]time.Duration {
	out := make(map[domain.Class]time.Duration, len(c.Calendar.Settlement))
	for k, v := range c.Calendar.Settlement {
		out[domain.Class(k)] = v
	}
	return out
}

// Chain returns the ordered adapter names for class.
func (c *Config) Chain(class domain.Class) []string {
	return c.Chains[string(class)]
}

// Policy returns the has_data policy for class. Classes without an explicit
// policy use "confirm".
func (c *Config) Policy(class domain.Class) string {
	if p, ok := c.HasData.Policies[string(class)]; ok {
		return p
	}
	return PolicyConfirm
}

func isClass(s string) bool {
	for _, c := range domain.Classes {
		if string(c) == s {
			return true
		}
	}
	return false
}
