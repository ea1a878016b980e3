package source

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"candlesync/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var eurusd = domain.Instrument{Symbol: "EUR/USD", Venue: domain.VenueForex, Country: "Europe"}

func TestNormalize(t *testing.T) {
	w := domain.DateRange{Start: day(2025, 6, 11), End: day(2025, 6, 13)}
	rows := []Row{
		{Time: day(2025, 6, 13).Add(21 * time.Hour), Open: 1.15, High: 1.16, Low: 1.14, Close: 1.155},
		{Time: day(2025, 6, 10), Open: 1.1, High: 1.1, Low: 1.1, Close: 1.1}, // before window
		{Time: day(2025, 6, 11), Open: 1.13, High: 1.14, Low: 1.12, Close: 1.135, Volume: math.NaN()},
		{Time: day(2025, 6, 12), Open: math.NaN(), High: 1.15, Low: 1.13, Close: 1.14}, // NaN open
		{Time: day(2025, 6, 12), Open: 1.14, High: 1.15, Low: 1.13, Close: 1.145, Volume: 10},
		{Time: day(2025, 6, 12).Add(time.Hour), Open: 9, High: 9, Low: 9, Close: 9}, // duplicate day
		{Time: day(2025, 6, 14), Open: 1.2, High: 1.2, Low: 1.2, Close: 1.2},     // after window
	}

	candles, err := Normalize("yahoo", eurusd, w, rows)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if len(candles) != 3 {
		t.Fatalf("got %d candles, want 3", len(candles))
	}
	wantDates := []time.Time{day(2025, 6, 11), day(2025, 6, 12), day(2025, 6, 13)}
	for i, c := range candles {
		if !c.Date.Equal(wantDates[i]) {
			t.Errorf("candle %d date = %s, want %s", i, c.Date, wantDates[i])
		}
		if c.Interval != domain.IntervalDaily || c.Source != "yahoo" || c.Symbol != "EUR/USD" {
			t.Errorf("candle %d metadata = %+v", i, c)
		}
	}
	if candles[0].Volume != 0 {
		t.Errorf("NaN volume normalized to %f, want 0", candles[0].Volume)
	}
	if candles[1].Close != 1.145 {
		t.Errorf("06-12 close = %f, want first valid row 1.145", candles[1].Close)
	}
}

func TestNormalizeEmpty(t *testing.T) {
	w := domain.DateRange{Start: day(2025, 6, 11), End: day(2025, 6, 13)}
	_, err := Normalize("stooq", eurusd, w, []Row{{Time: day(2025, 6, 11), Close: 0}})
	if KindOf(err) != KindEmpty {
		t.Errorf("KindOf = %s, want empty", KindOf(err))
	}
}

func TestFailureClassification(t *testing.T) {
	f := Fail(KindRateLimited, "yahoo", "EUR/USD", "slow down")
	wrapped := fmt.Errorf("fetch: %w", f)

	if KindOf(wrapped) != KindRateLimited {
		t.Errorf("KindOf(wrapped) = %s", KindOf(wrapped))
	}
	if !IsRetryable(wrapped) || !IsRateLimited(wrapped) {
		t.Error("rate-limited failure should be retryable and rate-limited")
	}
	if IsRetryable(Fail(KindNotFound, "yahoo", "X", "gone")) {
		t.Error("not-found failure should not be retryable")
	}
	if KindOf(errors.New("boom")) != KindTransient {
		t.Error("plain error should classify as transient")
	}
	c := Classify("yahoo", "X", context.DeadlineExceeded)
	if c.Kind != KindTransient || !errors.Is(c, context.DeadlineExceeded) {
		t.Errorf("Classify(deadline) = %v", c)
	}
	if Classify("yahoo", "X", f) != f {
		t.Error("Classify should pass failures through")
	}
}

func TestGetStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusNotFound, KindNotFound},
		{http.StatusBadGateway, KindTransient},
		{http.StatusUnauthorized, KindMalformed},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
			fmt.Fprint(w, "nope")
		}))
		_, err := Get(context.Background(), srv.Client(), "test", "SYM", srv.URL)
		srv.Close()
		if KindOf(err) != tt.want {
			t.Errorf("status %d: kind = %s, want %s", tt.status, KindOf(err), tt.want)
		}
	}
}

func TestGetOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing User-Agent")
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	body, err := Get(context.Background(), srv.Client(), "test", "SYM", srv.URL)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if string(body) != "ok" {
		t.Errorf("body = %q, want ok", body)
	}
}

func TestGetTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := Get(context.Background(), NewHTTPClient(time.Second), "test", "SYM", url)
	if KindOf(err) != KindTransient {
		t.Errorf("kind = %s, want transient", KindOf(err))
	}
}
