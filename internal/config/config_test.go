package config

import (
	"os"
	"testing"
	"time"

	"candlesync/internal/domain"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp(t.TempDir(), "candlesync-config-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		t.Fatalf("failed to close temp file: %v", err)
	}
	return tmpFile.Name()
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DB_DRIVER", "DB_DSN", "ARCHIVE_DIR", "ARCHIVE_S3_BUCKET", "LOG_LEVEL", "LOG_FILE",
		"METRICS_ADDR", "COLLECTION_START_DATE", "SCHEDULER_BATCH_SIZE",
		"BINANCE_API_KEY", "BINANCE_API_SECRET", "ALPACA_API_KEY", "ALPACA_API_SECRET",
		"ALPACA_DATA_URL", "APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `
storage:
  driver: "sqlite"
  dsn: "/tmp/candlesync/candles.db"
  timeout: "10s"
archive:
  dir: "/tmp/candlesync/archive"
logging:
  level: "debug"
  format: "text"
collection:
  start_date: "2024-06-01"
  fetch_timeout: "15s"
scheduler:
  schedule: "5 0 * * *"
  batch_size: 25
  instrument_delay: "250ms"
  batch_cooldown: "2s"
retry:
  max_attempts: 4
  rate_limit_delay: "10s"
calendar:
  settlement:
    crypto_spot: "30m"
has_data:
  policies:
    commodity: "sticky"
    index: "sticky"
  confirm_misses: 5
chains:
  forex: ["stooq", "yahoo"]
adapters:
  alpaca:
    api_key: "test-key"
    api_secret: "test-secret"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DSN != "/tmp/candlesync/candles.db" {
		t.Errorf("Storage.DSN = %q, want %q", cfg.Storage.DSN, "/tmp/candlesync/candles.db")
	}
	if cfg.Storage.Timeout != 10*time.Second {
		t.Errorf("Storage.Timeout = %s, want 10s", cfg.Storage.Timeout)
	}

	// -- Logging --
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want debug/text", cfg.Logging)
	}

	// -- Collection --
	start, err := cfg.StartDate()
	if err != nil {
		t.Fatalf("StartDate() error: %v", err)
	}
	if want := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Errorf("StartDate() = %s, want %s", start, want)
	}
	if cfg.Collection.FetchTimeout != 15*time.Second {
		t.Errorf("Collection.FetchTimeout = %s, want 15s", cfg.Collection.FetchTimeout)
	}

	// -- Scheduler --
	if cfg.Scheduler.BatchSize != 25 {
		t.Errorf("Scheduler.BatchSize = %d, want 25", cfg.Scheduler.BatchSize)
	}
	if cfg.Scheduler.InstrumentDelay != 250*time.Millisecond {
		t.Errorf("Scheduler.InstrumentDelay = %s, want 250ms", cfg.Scheduler.InstrumentDelay)
	}
	if cfg.Scheduler.Schedule != "5 0 * * *" {
		t.Errorf("Scheduler.Schedule = %q", cfg.Scheduler.Schedule)
	}

	// -- Retry --
	if cfg.Retry.MaxAttempts != 4 || cfg.Retry.RateLimitDelay != 10*time.Second {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if cfg.Retry.BaseDelay != time.Second {
		t.Errorf("Retry.BaseDelay default = %s, want 1s", cfg.Retry.BaseDelay)
	}

	// -- Calendar / has_data --
	if got := cfg.SettlementDelays()[domain.ClassCryptoSpot]; got != 30*time.Minute {
		t.Errorf("settlement crypto_spot = %s, want 30m", got)
	}
	if cfg.Policy(domain.ClassIndex) != PolicySticky {
		t.Errorf("Policy(index) = %q, want sticky", cfg.Policy(domain.ClassIndex))
	}
	if cfg.Policy(domain.ClassStock) != PolicyConfirm {
		t.Errorf("Policy(stock) = %q, want confirm", cfg.Policy(domain.ClassStock))
	}
	if cfg.HasData.ConfirmMisses != 5 {
		t.Errorf("HasData.ConfirmMisses = %d, want 5", cfg.HasData.ConfirmMisses)
	}

	// -- Chains --
	if got := cfg.Chain(domain.ClassForex); len(got) != 2 || got[0] != AdapterStooq {
		t.Errorf("Chain(forex) = %v, want [stooq yahoo]", got)
	}
	if got := cfg.Chain(domain.ClassStock); len(got) != 3 || got[0] != AdapterAlpaca {
		t.Errorf("Chain(stock) default = %v", got)
	}

	// -- Adapters --
	if cfg.Adapters.Alpaca.APIKey != "test-key" {
		t.Errorf("Adapters.Alpaca.APIKey = %q, want %q", cfg.Adapters.Alpaca.APIKey, "test-key")
	}
	if cfg.Adapters.Yahoo.BaseURL == "" {
		t.Error("Adapters.Yahoo.BaseURL default not applied")
	}
}

func TestDefault(t *testing.T) {
	clearEnv(t)
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Collection.StartDate != "2025-01-01" {
		t.Errorf("StartDate = %q, want 2025-01-01", cfg.Collection.StartDate)
	}
	if cfg.Scheduler.InstrumentDelay != 100*time.Millisecond {
		t.Errorf("InstrumentDelay = %s, want 100ms", cfg.Scheduler.InstrumentDelay)
	}
	if cfg.Policy(domain.ClassCommodity) != PolicySticky {
		t.Errorf("Policy(commodity) = %q, want sticky", cfg.Policy(domain.ClassCommodity))
	}
	if len(cfg.FX.USDPegged) == 0 {
		t.Error("FX.USDPegged default is empty")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `
adapters:
  alpaca:
    api_key: "yaml-key"
    api_secret: "yaml-secret"
storage:
  dsn: "/original/candles.db"
`)

	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("DB_DSN", "/env/candles.db")
	t.Setenv("BINANCE_API_KEY", "bn-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Adapters.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Adapters.Alpaca.APIKey, "env-key")
	}
	// api_secret should remain from YAML since no env override was set.
	if cfg.Adapters.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Adapters.Alpaca.APISecret, "yaml-secret")
	}
	if cfg.Storage.DSN != "/env/candles.db" {
		t.Errorf("Storage.DSN = %q, want %q (env override)", cfg.Storage.DSN, "/env/candles.db")
	}
	if cfg.Adapters.BinanceFutures.APIKey != "bn-key" {
		t.Errorf("BinanceFutures.APIKey = %q, want %q", cfg.Adapters.BinanceFutures.APIKey, "bn-key")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad start date", "collection:\n  start_date: \"01/01/2025\"\n"},
		{"unknown adapter", "chains:\n  forex: [\"investing\"]\n"},
		{"unknown class", "chains:\n  bonds: [\"yahoo\"]\n"},
		{"unknown policy", "has_data:\n  policies:\n    stock: \"never\"\n"},
		{"bad driver", "storage:\n  driver: \"mysql\"\n  dsn: \"x\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			if _, err := Load(writeTempConfig(t, tt.yaml)); err == nil {
				t.Errorf("Load() accepted %s", tt.name)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/candlesync.yaml"); err == nil {
		t.Error("Load() of missing file returned nil error")
	}
}
