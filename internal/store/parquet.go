package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"candlesync/internal/domain"
	"candlesync/internal/util"
)

// Compile-time interface check.
var _ CandleArchive = (*ParquetStore)(nil)

// Uploader copies an archive file to remote storage.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader) error
}

// ParquetStore mirrors written candles into Parquet files on disk, one file
// per instrument and year, and optionally uploads every rewritten file.
type ParquetStore struct {
	DataDir  string
	Uploader Uploader
	log      *slog.Logger
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string, up Uploader) *ParquetStore {
	return &ParquetStore{
		DataDir:  dataDir,
		Uploader: up,
		log:      slog.Default().With("component", "archive"),
	}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// CandleRecord is the Parquet schema for daily candles.
type CandleRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // UTC midnight, Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
	CloseUSD  float64 `parquet:"close_usd"`
	Source    string  `parquet:"source"`
}

// ---------------------------------------------------------------------------
// CandleArchive implementation
// ---------------------------------------------------------------------------

// WriteCandles merges candles into Parquet files organized by class, symbol
// and year at:
//
//	<DataDir>/<class>/daily/<SYMBOL>/<YYYY>.parquet
//
// Rows already present for a day are kept.
func (s *ParquetStore) WriteCandles(ctx context.Context, class domain.Class, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]CandleRecord)
	for _, c := range candles {
		k := key{symbol: c.Symbol, year: c.Date.Year()}
		groups[k] = append(groups[k], CandleRecord{
			Symbol:    c.Symbol,
			Timestamp: domain.Day(c.Date).UnixMilli(),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
			CloseUSD:  c.CloseUSD,
			Source:    c.Source,
		})
	}

	for k, records := range groups {
		path := s.candlePath(class, k.symbol, k.year)

		// Read existing records to merge; a missing file is not an error.
		existing, _ := readParquetFile[CandleRecord](path)
		merged := mergeCandleRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing candles for %s/%d: %w", k.symbol, k.year, err)
		}
		if err := s.upload(ctx, path); err != nil {
			return err
		}
	}
	return nil
}

// ReadCandles reads archived candles for symbol within [start, end].
func (s *ParquetStore) ReadCandles(class domain.Class, symbol string, start, end time.Time) ([]domain.Candle, error) {
	var candles []domain.Candle
	from, to := domain.Day(start), domain.Day(end)
	for year := from.Year(); year <= to.Year(); year++ {
		records, err := readParquetFile[CandleRecord](s.candlePath(class, symbol, year))
		if err != nil {
			// File doesn't exist for this year, skip.
			continue
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(from) || ts.After(to) {
				continue
			}
			candles = append(candles, domain.Candle{
				Symbol:   r.Symbol,
				Interval: domain.IntervalDaily,
				Date:     ts,
				Open:     r.Open,
				High:     r.High,
				Low:      r.Low,
				Close:    r.Close,
				Volume:   r.Volume,
				CloseUSD: r.CloseUSD,
				Source:   r.Source,
			})
		}
	}
	return candles, nil
}

func (s *ParquetStore) upload(ctx context.Context, path string) error {
	if s.Uploader == nil {
		return nil
	}
	rel, err := filepath.Rel(s.DataDir, path)
	if err != nil {
		return fmt.Errorf("resolving archive key for %s: %w", path, err)
	}
	key := filepath.ToSlash(rel)
	err = util.Retry(ctx, 3, time.Second, func() error {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return s.Uploader.Upload(ctx, key, f)
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	s.log.Debug("archive uploaded", "key", key)
	return nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// candlePath returns the filesystem path for a candle Parquet file.
// Layout: <dataDir>/<class>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) candlePath(class domain.Class, symbol string, year int) string {
	return filepath.Join(s.DataDir, string(class), "daily", fileSymbol(symbol), fmt.Sprintf("%d.parquet", year))
}

// fileSymbol makes a symbol safe for use as a directory name.
func fileSymbol(symbol string) string {
	return strings.NewReplacer("/", "-", "\\", "-", " ", "_", "^", "").Replace(strings.ToUpper(symbol))
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeCandleRecords deduplicates candle records by (symbol, timestamp),
// preferring existing records over incoming ones.
func mergeCandleRecords(existing, incoming []CandleRecord) []CandleRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]CandleRecord, len(existing)+len(incoming))
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]CandleRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
