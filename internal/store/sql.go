package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // Postgres driver.
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"candlesync/internal/domain"
)

// Compile-time interface checks.
var _ Registry = (*SQLStore)(nil)
var _ CandleStore = (*SQLStore)(nil)
var _ RateStore = (*SQLStore)(nil)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// SQLStore implements Registry, CandleStore and RateStore on SQLite or
// Postgres. Queries are written with '?' placeholders and rebound for the
// driver.
type SQLStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

// OpenSQLStore opens a database with driver "sqlite" or "postgres".
func OpenSQLStore(driver, dsn string, timeout time.Duration) (*SQLStore, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}
	if driver == "sqlite" {
		// SQLite allows a single writer; serialise through one connection.
		db.SetMaxOpenConns(1)
	}
	return NewSQLStore(db, timeout), nil
}

// NewSQLStore wraps an existing connection.
func NewSQLStore(db *sqlx.DB, timeout time.Duration) *SQLStore {
	return &SQLStore{db: db, timeout: timeout}
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// ---------------------------------------------------------------------------
// Schema
// ---------------------------------------------------------------------------

var schema = []string{
	`CREATE TABLE IF NOT EXISTS instruments (
		symbol          TEXT NOT NULL,
		venue           TEXT NOT NULL,
		instrument_type TEXT NOT NULL DEFAULT '',
		country         TEXT NOT NULL DEFAULT '',
		active          BOOLEAN NOT NULL DEFAULT TRUE,
		has_data        BOOLEAN NULL,
		miss_streak     INTEGER NOT NULL DEFAULT 0,
		updated_at      TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (symbol, venue, instrument_type)
	)`,
	`CREATE TABLE IF NOT EXISTS candles (
		symbol          TEXT NOT NULL,
		venue           TEXT NOT NULL,
		instrument_type TEXT NOT NULL DEFAULT '',
		country         TEXT NOT NULL DEFAULT '',
		timeframe       TEXT NOT NULL,
		trade_date      TEXT NOT NULL,
		open            DOUBLE PRECISION NOT NULL,
		high            DOUBLE PRECISION NOT NULL,
		low             DOUBLE PRECISION NOT NULL,
		close           DOUBLE PRECISION NOT NULL,
		volume          DOUBLE PRECISION NOT NULL DEFAULT 0,
		close_usd       DOUBLE PRECISION NOT NULL,
		source          TEXT NOT NULL,
		created_at      TEXT NOT NULL,
		UNIQUE (symbol, venue, instrument_type, timeframe, trade_date)
	)`,
	`CREATE INDEX IF NOT EXISTS candles_venue_symbol_date ON candles (venue, symbol, trade_date)`,
}

// EnsureSchema creates the tables the engine needs if they do not exist.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return unavailable("creating schema", err)
		}
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Registry implementation
// ---------------------------------------------------------------------------

type instrumentRow struct {
	Symbol     string       `db:"symbol"`
	Venue      string       `db:"venue"`
	Type       string       `db:"instrument_type"`
	Country    string       `db:"country"`
	Active     bool         `db:"active"`
	HasData    sql.NullBool `db:"has_data"`
	MissStreak int          `db:"miss_streak"`
	UpdatedAt  string       `db:"updated_at"`
}

func (r instrumentRow) instrument() domain.Instrument {
	inst := domain.Instrument{
		Symbol:     r.Symbol,
		Venue:      domain.Venue(r.Venue),
		Type:       domain.InstrumentType(r.Type),
		Country:    r.Country,
		Active:     r.Active,
		HasData:    fromNullBool(r.HasData),
		MissStreak: r.MissStreak,
	}
	if t, err := time.Parse(time.RFC3339, r.UpdatedAt); err == nil {
		inst.UpdatedAt = t
	}
	return inst
}

func fromNullBool(b sql.NullBool) domain.HasData {
	switch {
	case !b.Valid:
		return domain.HasDataUnknown
	case b.Bool:
		return domain.HasDataTrue
	default:
		return domain.HasDataFalse
	}
}

func toNullBool(h domain.HasData) sql.NullBool {
	switch h {
	case domain.HasDataTrue:
		return sql.NullBool{Bool: true, Valid: true}
	case domain.HasDataFalse:
		return sql.NullBool{Bool: false, Valid: true}
	}
	return sql.NullBool{}
}

// ListTrackable returns active instruments matching f whose has_data flag is
// unknown or true (or false too, when f.IncludeConfirmedFalse is set).
func (s *SQLStore) ListTrackable(ctx context.Context, f Filter) ([]domain.Instrument, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		where = []string{"active = ?"}
		args  = []any{true}
	)
	if !f.IncludeConfirmedFalse {
		where = append(where, "(has_data IS NULL OR has_data = ?)")
		args = append(args, true)
	}
	if f.Venue != "" {
		where = append(where, "venue = ?")
		args = append(args, string(f.Venue))
	}
	if f.Type != "" {
		where = append(where, "instrument_type = ?")
		args = append(args, string(f.Type))
	}
	if len(f.Symbols) > 0 {
		where = append(where, "symbol IN (?)")
		args = append(args, f.Symbols)
	}

	query := `SELECT symbol, venue, instrument_type, country, active, has_data, miss_streak, updated_at
		FROM instruments WHERE ` + strings.Join(where, " AND ") + ` ORDER BY symbol, venue, instrument_type`
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("building instrument query: %w", err)
	}

	var rows []instrumentRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, unavailable("listing instruments", err)
	}
	out := make([]domain.Instrument, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.instrument())
	}
	return out, nil
}

// SetHasData sets the availability flag of inst.
func (s *SQLStore) SetHasData(ctx context.Context, inst domain.Instrument, h domain.HasData) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE instruments SET has_data = ?, updated_at = ?
		 WHERE symbol = ? AND venue = ? AND instrument_type = ?`),
		toNullBool(h), time.Now().UTC().Format(time.RFC3339),
		inst.Symbol, string(inst.Venue), string(inst.Type))
	if err != nil {
		return unavailable("setting has_data for "+inst.Symbol, err)
	}
	return nil
}

// RegisterInstruments inserts instruments or refreshes their country and
// active flag. Availability flags of existing rows are kept.
func (s *SQLStore) RegisterInstruments(ctx context.Context, insts []domain.Instrument) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return unavailable("begin", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt := tx.Rebind(`INSERT INTO instruments (symbol, venue, instrument_type, country, active, has_data, miss_streak, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT (symbol, venue, instrument_type) DO UPDATE SET
			country = excluded.country,
			active = excluded.active`)
	now := time.Now().UTC().Format(time.RFC3339)
	for _, inst := range insts {
		if _, err := tx.ExecContext(ctx, stmt,
			inst.Symbol, string(inst.Venue), string(inst.Type), inst.Country,
			inst.Active, toNullBool(inst.HasData), now); err != nil {
			return unavailable("registering "+inst.Symbol, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// CandleStore implementation
// ---------------------------------------------------------------------------

// LastObservedDate returns the latest stored trade date for inst.
func (s *SQLStore) LastObservedDate(ctx context.Context, inst domain.Instrument, interval string) (*time.Time, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var last sql.NullString
	err := s.db.GetContext(ctx, &last, s.db.Rebind(
		`SELECT MAX(trade_date) FROM candles
		 WHERE symbol = ? AND venue = ? AND instrument_type = ? AND timeframe = ?`),
		inst.Symbol, string(inst.Venue), string(inst.Type), interval)
	if err != nil {
		return nil, unavailable("last date for "+inst.Symbol, err)
	}
	if !last.Valid || last.String == "" {
		return nil, nil
	}
	t, err := time.Parse(domain.DateLayout, last.String)
	if err != nil {
		return nil, fmt.Errorf("parsing stored date %q for %s: %w", last.String, inst.Symbol, err)
	}
	return &t, nil
}

const insertCandle = `INSERT INTO candles
	(symbol, venue, instrument_type, country, timeframe, trade_date, open, high, low, close, volume, close_usd, source, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (symbol, venue, instrument_type, timeframe, trade_date) `

const keepExisting = `DO NOTHING`

const overwriteExisting = `DO UPDATE SET
	open = excluded.open, high = excluded.high, low = excluded.low, close = excluded.close,
	volume = excluded.volume, close_usd = excluded.close_usd, source = excluded.source`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Rebind(query string) string
}

func writeCandle(ctx context.Context, e execer, c domain.Candle, overwrite bool, now time.Time) (bool, error) {
	q := insertCandle + keepExisting
	if overwrite {
		q = insertCandle + overwriteExisting
	}
	interval := c.Interval
	if interval == "" {
		interval = domain.IntervalDaily
	}
	res, err := e.ExecContext(ctx, e.Rebind(q),
		c.Symbol, string(c.Venue), string(c.Type), c.Country, interval,
		domain.Day(c.Date).Format(domain.DateLayout),
		c.Open, c.High, c.Low, c.Close, c.Volume, c.CloseUSD, c.Source,
		now.UTC().Format(time.RFC3339))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpsertCandle inserts c unless its day is already stored.
func (s *SQLStore) UpsertCandle(ctx context.Context, c domain.Candle) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ok, err := writeCandle(ctx, s.db, c, false, time.Now())
	if err != nil {
		return false, unavailable("inserting "+c.Symbol, err)
	}
	return ok, nil
}

// Commit inserts req.Candles, applies the has_data policy and updates the
// instrument row in a single transaction. The row is only touched when its
// flag or miss streak changes. On any failure the transaction is rolled back
// and an ErrStoreUnavailable error is returned.
func (s *SQLStore) Commit(ctx context.Context, req CommitRequest) (CommitResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	inst := req.Instrument

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return CommitResult{}, unavailable("begin", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var res CommitResult
	for _, c := range req.Candles {
		ok, err := writeCandle(ctx, tx, c, req.Overwrite, now)
		if err != nil {
			return CommitResult{}, unavailable(fmt.Sprintf("writing %s %s", inst.Symbol, c.Date.Format(domain.DateLayout)), err)
		}
		if ok {
			res.Inserted = append(res.Inserted, c)
		}
	}

	prev := Status{HasData: inst.HasData, MissStreak: inst.MissStreak}
	res.Status = NextStatus(prev, req.Outcome, len(res.Inserted), req.Policy)
	if res.Status != prev {
		_, err := tx.ExecContext(ctx, tx.Rebind(
			`UPDATE instruments SET has_data = ?, miss_streak = ?, updated_at = ?
			 WHERE symbol = ? AND venue = ? AND instrument_type = ?`),
			toNullBool(res.Status.HasData), res.Status.MissStreak, now.UTC().Format(time.RFC3339),
			inst.Symbol, string(inst.Venue), string(inst.Type))
		if err != nil {
			return CommitResult{}, unavailable("updating status of "+inst.Symbol, err)
		}
		res.StatusChanged = true
	}

	if err := tx.Commit(); err != nil {
		return CommitResult{}, unavailable("commit "+inst.Symbol, err)
	}
	return res, nil
}

type candleRow struct {
	Symbol    string  `db:"symbol"`
	Venue     string  `db:"venue"`
	Type      string  `db:"instrument_type"`
	Country   string  `db:"country"`
	Timeframe string  `db:"timeframe"`
	TradeDate string  `db:"trade_date"`
	Open      float64 `db:"open"`
	High      float64 `db:"high"`
	Low       float64 `db:"low"`
	Close     float64 `db:"close"`
	Volume    float64 `db:"volume"`
	CloseUSD  float64 `db:"close_usd"`
	Source    string  `db:"source"`
}

// Candles returns stored candles for inst within [from, to], ascending.
func (s *SQLStore) Candles(ctx context.Context, inst domain.Instrument, interval string, from, to time.Time) ([]domain.Candle, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rows []candleRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT symbol, venue, instrument_type, country, timeframe, trade_date,
		        open, high, low, close, volume, close_usd, source
		 FROM candles
		 WHERE symbol = ? AND venue = ? AND instrument_type = ? AND timeframe = ?
		   AND trade_date >= ? AND trade_date <= ?
		 ORDER BY trade_date`),
		inst.Symbol, string(inst.Venue), string(inst.Type), interval,
		domain.Day(from).Format(domain.DateLayout), domain.Day(to).Format(domain.DateLayout))
	if err != nil {
		return nil, unavailable("reading candles for "+inst.Symbol, err)
	}

	out := make([]domain.Candle, 0, len(rows))
	for _, r := range rows {
		d, err := time.Parse(domain.DateLayout, r.TradeDate)
		if err != nil {
			return nil, fmt.Errorf("parsing stored date %q: %w", r.TradeDate, err)
		}
		out = append(out, domain.Candle{
			Symbol:   r.Symbol,
			Interval: r.Timeframe,
			Date:     d,
			Open:     r.Open,
			High:     r.High,
			Low:      r.Low,
			Close:    r.Close,
			Volume:   r.Volume,
			CloseUSD: r.CloseUSD,
			Source:   r.Source,
			Venue:    domain.Venue(r.Venue),
			Type:     domain.InstrumentType(r.Type),
			Country:  r.Country,
		})
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// RateStore implementation
// ---------------------------------------------------------------------------

// LatestRate returns the most recent daily close of the forex cross.
func (s *SQLStore) LatestRate(ctx context.Context, cross string) (float64, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rate float64
	err := s.db.GetContext(ctx, &rate, s.db.Rebind(
		`SELECT close FROM candles
		 WHERE venue = ? AND symbol = ? AND timeframe = ?
		 ORDER BY trade_date DESC LIMIT 1`),
		string(domain.VenueForex), cross, domain.IntervalDaily)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, unavailable("rate "+cross, err)
	}
	return rate, rate > 0, nil
}

// LatestRates returns the most recent daily close of every stored forex
// cross.
func (s *SQLStore) LatestRates(ctx context.Context) (map[string]float64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rows []struct {
		Symbol string  `db:"symbol"`
		Close  float64 `db:"close"`
	}
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT c.symbol, c.close FROM candles c
		 JOIN (
			SELECT symbol, MAX(trade_date) AS last_date FROM candles
			WHERE venue = ? AND timeframe = ?
			GROUP BY symbol
		 ) m ON c.symbol = m.symbol AND c.trade_date = m.last_date
		 WHERE c.venue = ? AND c.timeframe = ?`),
		string(domain.VenueForex), domain.IntervalDaily,
		string(domain.VenueForex), domain.IntervalDaily)
	if err != nil {
		return nil, unavailable("loading rates", err)
	}

	rates := make(map[string]float64, len(rows))
	for _, r := range rows {
		if r.Close > 0 {
			rates[r.Symbol] = r.Close
		}
	}
	return rates, nil
}
