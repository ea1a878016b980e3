// Package store defines the storage contracts the collection engine depends
// on (instrument registry, candle store, rate lookup) and their SQL and
// Parquet implementations.
package store

import (
	"context"
	"errors"
	"time"

	"candlesync/internal/domain"
)

// ErrStoreUnavailable marks a failure to read from or write to the backing
// store. Writes that fail with it have been rolled back.
var ErrStoreUnavailable = errors.New("store unavailable")

// Filter narrows the instruments returned by ListTrackable. Zero fields
// match everything.
type Filter struct {
	Venue   domain.Venue
	Type    domain.InstrumentType
	Symbols []string
	// IncludeConfirmedFalse also returns active instruments whose has_data
	// flag is false, for periodic re-checks.
	IncludeConfirmedFalse bool
}

// Registry lists tracked instruments and records their availability flag.
type Registry interface {
	// ListTrackable returns active instruments whose has_data flag is unknown
	// or true, ordered by symbol.
	ListTrackable(ctx context.Context, f Filter) ([]domain.Instrument, error)

	// SetHasData sets the availability flag of inst.
	SetHasData(ctx context.Context, inst domain.Instrument, h domain.HasData) error
}

// CandleStore reads and writes daily candles.
type CandleStore interface {
	// LastObservedDate returns the latest stored date for inst, or nil when
	// no candle is stored.
	LastObservedDate(ctx context.Context, inst domain.Instrument, interval string) (*time.Time, error)

	// UpsertCandle inserts c unless a candle already exists for its
	// (instrument, interval, date). It reports whether a row was inserted.
	UpsertCandle(ctx context.Context, c domain.Candle) (bool, error)

	// Commit writes a fetched series and the resulting availability flag for
	// one instrument atomically.
	Commit(ctx context.Context, req CommitRequest) (CommitResult, error)

	// Candles returns stored candles for inst within [from, to].
	Candles(ctx context.Context, inst domain.Instrument, interval string, from, to time.Time) ([]domain.Candle, error)
}

// RateStore resolves the latest stored close of forex crosses.
type RateStore interface {
	// LatestRate returns the most recent close of cross (e.g. "EUR/USD").
	LatestRate(ctx context.Context, cross string) (float64, bool, error)

	// LatestRates returns the most recent close of every stored forex cross.
	LatestRates(ctx context.Context) (map[string]float64, error)
}

// CandleArchive mirrors written candles to secondary storage.
type CandleArchive interface {
	WriteCandles(ctx context.Context, class domain.Class, candles []domain.Candle) error
}

// CommitRequest is the per-instrument write unit.
type CommitRequest struct {
	Instrument domain.Instrument
	Candles    []domain.Candle
	Outcome    Outcome
	Policy     Policy
	// Overwrite replaces existing candles for the same day instead of
	// keeping them.
	Overwrite bool
	Now       time.Time
}

// CommitResult reports what a Commit changed.
type CommitResult struct {
	Inserted []domain.Candle
	Status   Status
	// StatusChanged is true when the instrument row was updated.
	StatusChanged bool
}
