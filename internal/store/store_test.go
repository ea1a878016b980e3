package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"candlesync/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var (
	eurusd  = domain.Instrument{Symbol: "EUR/USD", Venue: domain.VenueForex, Country: "Europe", Active: true}
	usdtry  = domain.Instrument{Symbol: "USD/TRY", Venue: domain.VenueForex, Country: "Turkey", Active: true}
	gold    = domain.Instrument{Symbol: "GOLD", Venue: domain.VenueCommodity, Type: domain.TypeCommodity, Active: true}
	btcSpot = domain.Instrument{Symbol: "BTC/USDT", Venue: domain.VenueBinance, Type: domain.TypeSpot, Active: true}
	btcPerp = domain.Instrument{Symbol: "BTC/USDT", Venue: domain.VenueBinance, Type: domain.TypeFutures, Active: true}
)

func candle(inst domain.Instrument, d time.Time, close float64) domain.Candle {
	return domain.Candle{
		Symbol: inst.Symbol, Interval: domain.IntervalDaily, Date: d,
		Open: close, High: close, Low: close, Close: close, CloseUSD: close,
		Source: "test", Venue: inst.Venue, Type: inst.Type, Country: inst.Country,
	}
}

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQLStore("sqlite", filepath.Join(t.TempDir(), "test.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("OpenSQLStore returned error: %v", err)
	}
	t.Cleanup(func() {
		if cerr := s.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	})
	ctx := context.Background()
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return s
}

func TestSQLStoreSchemaIdempotent(t *testing.T) {
	s := openTestStore(t)
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("second EnsureSchema: %v", err)
	}
}

func TestUpsertCandleIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	c := candle(eurusd, day(2025, 6, 11), 1.14)

	ok, err := s.UpsertCandle(ctx, c)
	if err != nil || !ok {
		t.Fatalf("first UpsertCandle = %v, %v; want true, nil", ok, err)
	}
	c.Close = 9.99
	ok, err = s.UpsertCandle(ctx, c)
	if err != nil || ok {
		t.Fatalf("second UpsertCandle = %v, %v; want false, nil", ok, err)
	}

	got, err := s.Candles(ctx, eurusd, domain.IntervalDaily, day(2025, 1, 1), day(2025, 12, 31))
	if err != nil {
		t.Fatalf("Candles: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d rows, want 1", len(got))
	}
	if got[0].Close != 1.14 {
		t.Errorf("stored close = %f, want original 1.14", got[0].Close)
	}
}

func TestSpotAndFuturesKeptApart(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.UpsertCandle(ctx, candle(btcSpot, day(2025, 6, 11), 100)); err != nil {
		t.Fatal(err)
	}
	ok, err := s.UpsertCandle(ctx, candle(btcPerp, day(2025, 6, 11), 101))
	if err != nil || !ok {
		t.Fatalf("futures insert = %v, %v; want true", ok, err)
	}
}

func TestLastObservedDate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	last, err := s.LastObservedDate(ctx, eurusd, domain.IntervalDaily)
	if err != nil {
		t.Fatalf("LastObservedDate: %v", err)
	}
	if last != nil {
		t.Fatalf("LastObservedDate on empty store = %s, want nil", last)
	}

	for _, d := range []time.Time{day(2025, 6, 9), day(2025, 6, 10)} {
		if _, err := s.UpsertCandle(ctx, candle(eurusd, d, 1.1)); err != nil {
			t.Fatal(err)
		}
	}
	last, err = s.LastObservedDate(ctx, eurusd, domain.IntervalDaily)
	if err != nil {
		t.Fatalf("LastObservedDate: %v", err)
	}
	if last == nil || !last.Equal(day(2025, 6, 10)) {
		t.Errorf("LastObservedDate = %v, want 2025-06-10", last)
	}
}

func TestRegisterAndListTrackable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	inactive := domain.Instrument{Symbol: "OLD", Venue: domain.VenueStock, Country: "USA"}
	dead := domain.Instrument{Symbol: "DEAD", Venue: domain.VenueStock, Country: "USA", Active: true, HasData: domain.HasDataFalse}
	live := domain.Instrument{Symbol: "AAPL", Venue: domain.VenueStock, Country: "USA", Active: true, HasData: domain.HasDataTrue}
	if err := s.RegisterInstruments(ctx, []domain.Instrument{eurusd, gold, inactive, dead, live, btcSpot, btcPerp}); err != nil {
		t.Fatalf("RegisterInstruments: %v", err)
	}

	all, err := s.ListTrackable(ctx, Filter{})
	if err != nil {
		t.Fatalf("ListTrackable: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("ListTrackable returned %d instruments, want 5: %+v", len(all), all)
	}
	for _, inst := range all {
		if inst.Symbol == "OLD" || inst.Symbol == "DEAD" {
			t.Errorf("ListTrackable returned %s", inst.Symbol)
		}
	}

	recheck, err := s.ListTrackable(ctx, Filter{IncludeConfirmedFalse: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(recheck) != 6 {
		t.Errorf("recheck listing returned %d, want 6", len(recheck))
	}

	stocks, err := s.ListTrackable(ctx, Filter{Venue: domain.VenueStock})
	if err != nil {
		t.Fatal(err)
	}
	if len(stocks) != 1 || stocks[0].Symbol != "AAPL" || stocks[0].HasData != domain.HasDataTrue {
		t.Errorf("stock listing = %+v", stocks)
	}

	futs, err := s.ListTrackable(ctx, Filter{Venue: domain.VenueBinance, Type: domain.TypeFutures})
	if err != nil {
		t.Fatal(err)
	}
	if len(futs) != 1 || futs[0].Class() != domain.ClassCryptoFutures {
		t.Errorf("futures listing = %+v", futs)
	}

	bySymbol, err := s.ListTrackable(ctx, Filter{Symbols: []string{"EUR/USD", "GOLD"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(bySymbol) != 2 {
		t.Errorf("symbol listing returned %d, want 2", len(bySymbol))
	}

	// Re-registering keeps the stored flag.
	if err := s.SetHasData(ctx, gold, domain.HasDataTrue); err != nil {
		t.Fatal(err)
	}
	if err := s.RegisterInstruments(ctx, []domain.Instrument{gold}); err != nil {
		t.Fatal(err)
	}
	got, err := s.ListTrackable(ctx, Filter{Symbols: []string{"GOLD"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].HasData != domain.HasDataTrue {
		t.Errorf("GOLD after re-register = %+v, want has_data true", got)
	}
}

func TestCommitInsertsAndFlags(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.RegisterInstruments(ctx, []domain.Instrument{eurusd}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertCandle(ctx, candle(eurusd, day(2025, 6, 10), 1.13)); err != nil {
		t.Fatal(err)
	}

	series := []domain.Candle{
		candle(eurusd, day(2025, 6, 10), 7), // already stored
		candle(eurusd, day(2025, 6, 11), 1.14),
		candle(eurusd, day(2025, 6, 12), 1.15),
		candle(eurusd, day(2025, 6, 13), 1.16),
	}
	res, err := s.Commit(ctx, CommitRequest{
		Instrument: eurusd,
		Candles:    series,
		Outcome:    OutcomeFetched,
		Policy:     Policy{ConfirmMisses: 3},
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(res.Inserted) != 3 {
		t.Errorf("inserted = %d, want 3", len(res.Inserted))
	}
	if res.Status.HasData != domain.HasDataTrue || !res.StatusChanged {
		t.Errorf("status = %+v changed=%v, want true/changed", res.Status, res.StatusChanged)
	}

	got, err := s.ListTrackable(ctx, Filter{Symbols: []string{"EUR/USD"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].HasData != domain.HasDataTrue {
		t.Errorf("EUR/USD after commit = %+v", got)
	}

	// Committing the same series again inserts nothing and leaves the row alone.
	inst := got[0]
	res, err = s.Commit(ctx, CommitRequest{Instrument: inst, Candles: series, Outcome: OutcomeFetched})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Inserted) != 0 || res.StatusChanged {
		t.Errorf("second commit = %+v, want no inserts and no status change", res)
	}
}

func TestCommitNoDataUnknownBecomesFalse(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ghost := domain.Instrument{Symbol: "GHOST", Venue: domain.VenueStock, Country: "USA", Active: true}
	if err := s.RegisterInstruments(ctx, []domain.Instrument{ghost}); err != nil {
		t.Fatal(err)
	}
	res, err := s.Commit(ctx, CommitRequest{Instrument: ghost, Outcome: OutcomeNoData, Policy: Policy{ConfirmMisses: 3}})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if res.Status.HasData != domain.HasDataFalse || res.Status.MissStreak != 1 {
		t.Errorf("status = %+v, want false/1", res.Status)
	}
	left, err := s.ListTrackable(ctx, Filter{Symbols: []string{"GHOST"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("GHOST still trackable after no-data: %+v", left)
	}

	// A re-check that misses again leaves the row alone.
	rechecked, err := s.ListTrackable(ctx, Filter{Symbols: []string{"GHOST"}, IncludeConfirmedFalse: true})
	if err != nil || len(rechecked) != 1 {
		t.Fatalf("ListTrackable with re-check = %+v, %v", rechecked, err)
	}
	res, err = s.Commit(ctx, CommitRequest{Instrument: rechecked[0], Outcome: OutcomeNoData, Policy: Policy{ConfirmMisses: 3}})
	if err != nil {
		t.Fatalf("second Commit: %v", err)
	}
	if res.StatusChanged || res.Status.MissStreak != 1 {
		t.Errorf("second commit changed %v streak %d, want unchanged at 1", res.StatusChanged, res.Status.MissStreak)
	}
}

func TestCommitStickyCommodity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	g := gold
	g.HasData = domain.HasDataTrue
	if err := s.RegisterInstruments(ctx, []domain.Instrument{g}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		res, err := s.Commit(ctx, CommitRequest{Instrument: g, Outcome: OutcomeNoData, Policy: Policy{Sticky: true}})
		if err != nil {
			t.Fatal(err)
		}
		g.HasData, g.MissStreak = res.Status.HasData, res.Status.MissStreak
	}
	if g.HasData != domain.HasDataTrue {
		t.Errorf("sticky commodity flag = %s after 5 misses, want true", g.HasData)
	}
}

func TestLatestRates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, c := range []domain.Candle{
		candle(eurusd, day(2025, 6, 12), 1.15),
		candle(eurusd, day(2025, 6, 13), 1.16),
		candle(usdtry, day(2025, 6, 13), 39.2),
		candle(gold, day(2025, 6, 13), 3400), // not forex
	} {
		if _, err := s.UpsertCandle(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	rates, err := s.LatestRates(ctx)
	if err != nil {
		t.Fatalf("LatestRates: %v", err)
	}
	if len(rates) != 2 {
		t.Errorf("LatestRates returned %d crosses, want 2: %v", len(rates), rates)
	}
	if rates["EUR/USD"] != 1.16 {
		t.Errorf("EUR/USD = %f, want 1.16", rates["EUR/USD"])
	}

	r, ok, err := s.LatestRate(ctx, "USD/TRY")
	if err != nil || !ok || r != 39.2 {
		t.Errorf("LatestRate(USD/TRY) = %f, %v, %v", r, ok, err)
	}
	_, ok, err = s.LatestRate(ctx, "GBP/USD")
	if err != nil || ok {
		t.Errorf("LatestRate(GBP/USD) = %v, %v; want false, nil", ok, err)
	}
}

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLStore(sqlx.NewDb(db, "sqlmock"), 0), mock
}

func TestCommitRollsBackOnWriteFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO candles").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO candles").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err := s.Commit(context.Background(), CommitRequest{
		Instrument: eurusd,
		Candles:    []domain.Candle{candle(eurusd, day(2025, 6, 11), 1.1), candle(eurusd, day(2025, 6, 12), 1.2)},
		Outcome:    OutcomeFetched,
	})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCommitRollsBackOnStatusFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO candles").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE instruments").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := s.Commit(context.Background(), CommitRequest{
		Instrument: eurusd,
		Candles:    []domain.Candle{candle(eurusd, day(2025, 6, 11), 1.1)},
		Outcome:    OutcomeFetched,
	})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCommitOverwrite(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DO UPDATE SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inst := eurusd
	inst.HasData = domain.HasDataTrue
	res, err := s.Commit(context.Background(), CommitRequest{
		Instrument: inst,
		Candles:    []domain.Candle{candle(eurusd, day(2025, 6, 11), 1.1)},
		Outcome:    OutcomeFetched,
		Overwrite:  true,
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(res.Inserted) != 1 || res.StatusChanged {
		t.Errorf("result = %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListTrackableStoreFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM instruments").WillReturnError(errors.New("connection refused"))

	if _, err := s.ListTrackable(context.Background(), Filter{}); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable", err)
	}
}
