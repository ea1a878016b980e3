package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"candlesync/internal/domain"
	"candlesync/internal/store"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CANDLESYNC_CONFIG", filepath.Join(dir, "missing.yaml"))
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_DSN", filepath.Join(dir, "check.db"))
	t.Setenv("ARCHIVE_DIR", "")
	return dir
}

func TestRunUsage(t *testing.T) {
	isolate(t)
	if code := run([]string{"EUR/USD"}); code != 1 {
		t.Errorf("run without -venue = %d, want 1", code)
	}
	if code := run([]string{"-venue", "FOREX"}); code != 1 {
		t.Errorf("run without symbol = %d, want 1", code)
	}
	if code := run([]string{"-bogus"}); code != 2 {
		t.Errorf("run with unknown flag = %d, want 2", code)
	}
}

func TestRunRejectsBadDate(t *testing.T) {
	isolate(t)
	if code := run([]string{"-venue", "FOREX", "EUR/USD", "2025-13-01"}); code != 1 {
		t.Errorf("run with bad date = %d, want 1", code)
	}
}

func TestRunArchived(t *testing.T) {
	dir := isolate(t)
	if code := run([]string{"-venue", "FOREX", "-archived", "EUR/USD"}); code != 1 {
		t.Errorf("run -archived without archive dir = %d, want 1", code)
	}

	archive := filepath.Join(dir, "archive")
	t.Setenv("ARCHIVE_DIR", archive)
	day := time.Date(2025, 6, 12, 0, 0, 0, 0, time.UTC)
	err := store.NewParquetStore(archive, nil).WriteCandles(context.Background(), domain.ClassForex, []domain.Candle{{
		Symbol: "EUR/USD", Interval: domain.IntervalDaily, Date: day,
		Open: 1.15, High: 1.16, Low: 1.14, Close: 1.155, CloseUSD: 1.155, Venue: domain.VenueForex,
	}})
	if err != nil {
		t.Fatalf("WriteCandles: %v", err)
	}
	if code := run([]string{"-venue", "FOREX", "-archived", "EUR/USD", "2025-06-01", "2025-06-13"}); code != 0 {
		t.Errorf("run -archived = %d, want 0", code)
	}
}
