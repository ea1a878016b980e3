// Package alpaca implements the exchange-native adapter for US equities
// backed by the Alpaca market-data API.
package alpaca

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"candlesync/internal/domain"
	"candlesync/internal/source"
	"candlesync/internal/util"
)

// Name is the adapter identifier.
const Name = "alpaca"

var _ source.Adapter = (*Adapter)(nil)

type barsFunc func(symbol string, start, end time.Time) ([]marketdata.Bar, error)

// Adapter fetches daily bars for US-listed stocks and indices.
type Adapter struct {
	bars    barsFunc
	limiter *util.RateLimiter
	log     *slog.Logger
}

// New creates an Alpaca adapter. feed selects the data feed ("iex", "sip");
// empty uses the account default. timeout bounds every HTTP request.
func New(apiKey, apiSecret, dataURL, feed string, timeout time.Duration, perMinute int) *Adapter {
	opts := marketdata.ClientOpts{
		APIKey:     apiKey,
		APISecret:  apiSecret,
		HTTPClient: source.NewHTTPClient(timeout),
		// Zero means ten SDK-side retries on 429; backoff belongs to the caller.
		RetryLimit: -1,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	client := marketdata.NewClient(opts)

	fn := func(symbol string, start, end time.Time) ([]marketdata.Bar, error) {
		return client.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     start,
			End:       end,
			Feed:      feed,
		})
	}
	return newAdapter(fn, perMinute)
}

func newAdapter(fn barsFunc, perMinute int) *Adapter {
	return &Adapter{
		bars:    fn,
		limiter: util.NewRateLimiter(perMinute),
		log:     slog.Default().With("adapter", Name),
	}
}

// Name returns the adapter identifier.
func (a *Adapter) Name() string { return Name }

// Fetch returns daily bars for inst over w. Instruments not listed in the
// US are reported as not found without calling the API.
func (a *Adapter) Fetch(ctx context.Context, inst domain.Instrument, w domain.DateRange) ([]domain.Candle, error) {
	if !usListed(inst) {
		return nil, source.Fail(source.KindNotFound, Name, inst.Symbol, "not a US listing (country %q)", inst.Country)
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := domain.Day(w.Start)
	end := domain.Day(w.End).AddDate(0, 0, 1).Add(-time.Second)
	bars, err := a.call(ctx, strings.ToUpper(inst.Base()), start, end)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, classify(inst.Symbol, err)
	}

	rows := make([]source.Row, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, source.Row{
			Time:   b.Timestamp,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: float64(b.Volume),
		})
	}
	a.log.Debug("bars fetched", "symbol", inst.Symbol, "rows", len(rows), "expected", w.Days())
	return source.Normalize(Name, inst, w, rows)
}

type barsResult struct {
	bars []marketdata.Bar
	err  error
}

// call runs the context-free SDK request so that ctx still bounds the wait.
func (a *Adapter) call(ctx context.Context, symbol string, start, end time.Time) ([]marketdata.Bar, error) {
	done := make(chan barsResult, 1)
	go func() {
		bars, err := a.bars(symbol, start, end)
		done <- barsResult{bars, err}
	}()
	select {
	case r := <-done:
		return r.bars, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func usListed(inst domain.Instrument) bool {
	if inst.Class() != domain.ClassStock {
		return false
	}
	cur, ok := domain.CountryCurrency(inst.Country)
	return ok && cur == "USD"
}

// classify maps Alpaca SDK errors onto the failure taxonomy by status text.
func classify(symbol string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "too many requests"), strings.Contains(msg, "rate limit"):
		return source.Wrap(source.KindRateLimited, Name, symbol, err)
	case strings.Contains(msg, "404"), strings.Contains(msg, "not found"),
		strings.Contains(msg, "invalid symbol"), strings.Contains(msg, "422"):
		return source.Wrap(source.KindNotFound, Name, symbol, err)
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"), strings.Contains(msg, "forbidden"):
		return source.Wrap(source.KindMalformed, Name, symbol, fmt.Errorf("credentials rejected: %w", err))
	}
	return source.Wrap(source.KindTransient, Name, symbol, err)
}
