// Package binance implements the exchange-native adapters for Binance spot
// and USD-M futures daily klines.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"candlesync/internal/domain"
	"candlesync/internal/source"
	"candlesync/internal/util"
)

// Adapter names.
const (
	NameSpot    = "binance_spot"
	NameFutures = "binance_futures"
)

// pageLimit is the maximum number of klines Binance returns per request.
const pageLimit = 1000

const dayMillis = int64(24 * time.Hour / time.Millisecond)

var _ source.Adapter = (*Adapter)(nil)

// kline is the subset of a Binance kline the adapter uses.
type kline struct {
	OpenTime                       int64
	Open, High, Low, Close, Volume string
}

type klineFunc func(ctx context.Context, symbol string, start, end int64, limit int) ([]kline, error)

// Adapter fetches 1d klines from one Binance market.
type Adapter struct {
	name    string
	klines  klineFunc
	limiter *util.RateLimiter
	log     *slog.Logger
}

// NewSpot creates an adapter for Binance spot. An empty baseURL uses the
// library default.
func NewSpot(apiKey, apiSecret, baseURL string, timeout time.Duration, perMinute int) *Adapter {
	client := gobinance.NewClient(apiKey, apiSecret)
	if baseURL != "" {
		client.BaseURL = strings.TrimRight(baseURL, "/")
	}
	client.HTTPClient = source.NewHTTPClient(timeout)

	fn := func(ctx context.Context, symbol string, start, end int64, limit int) ([]kline, error) {
		res, err := client.NewKlinesService().
			Symbol(symbol).
			Interval("1d").
			StartTime(start).
			EndTime(end).
			Limit(limit).
			Do(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]kline, 0, len(res))
		for _, k := range res {
			out = append(out, kline{k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume})
		}
		return out, nil
	}
	return newAdapter(NameSpot, fn, perMinute)
}

// NewFutures creates an adapter for Binance USD-M futures. An empty baseURL
// uses the library default.
func NewFutures(apiKey, apiSecret, baseURL string, timeout time.Duration, perMinute int) *Adapter {
	client := futures.NewClient(apiKey, apiSecret)
	if baseURL != "" {
		client.BaseURL = strings.TrimRight(baseURL, "/")
	}
	client.HTTPClient = source.NewHTTPClient(timeout)

	fn := func(ctx context.Context, symbol string, start, end int64, limit int) ([]kline, error) {
		res, err := client.NewKlinesService().
			Symbol(symbol).
			Interval("1d").
			StartTime(start).
			EndTime(end).
			Limit(limit).
			Do(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]kline, 0, len(res))
		for _, k := range res {
			out = append(out, kline{k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume})
		}
		return out, nil
	}
	return newAdapter(NameFutures, fn, perMinute)
}

func newAdapter(name string, fn klineFunc, perMinute int) *Adapter {
	return &Adapter{
		name:    name,
		klines:  fn,
		limiter: util.NewRateLimiter(perMinute),
		log:     slog.Default().With("adapter", name),
	}
}

// Name returns the adapter identifier.
func (a *Adapter) Name() string { return a.name }

// Fetch pages through 1d klines covering w and normalizes them.
func (a *Adapter) Fetch(ctx context.Context, inst domain.Instrument, w domain.DateRange) ([]domain.Candle, error) {
	symbol := MarketSymbol(inst.Symbol)
	if symbol == "" {
		return nil, source.Fail(source.KindNotFound, a.name, inst.Symbol, "empty market symbol")
	}

	start := domain.Day(w.Start).UnixMilli()
	end := domain.Day(w.End).UnixMilli() + dayMillis - 1

	var rows []source.Row
	for start <= end {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		page, err := a.klines(ctx, symbol, start, end, pageLimit)
		if err != nil {
			return nil, classify(a.name, inst.Symbol, err)
		}
		for _, k := range page {
			rows = append(rows, source.Row{
				Time:   time.UnixMilli(k.OpenTime).UTC(),
				Open:   parseDecimal(k.Open),
				High:   parseDecimal(k.High),
				Low:    parseDecimal(k.Low),
				Close:  parseDecimal(k.Close),
				Volume: parseDecimal(k.Volume),
			})
		}
		if len(page) < pageLimit {
			break
		}
		start = page[len(page)-1].OpenTime + dayMillis
	}

	a.log.Debug("klines fetched", "symbol", inst.Symbol, "rows", len(rows), "expected", w.Days())
	return source.Normalize(a.name, inst, w, rows)
}

// MarketSymbol converts a canonical pair such as "BTC/USDT" to "BTCUSDT".
func MarketSymbol(symbol string) string {
	return strings.ToUpper(strings.NewReplacer("/", "", "-", "", " ", "").Replace(symbol))
}

// classify maps go-binance errors onto the failure taxonomy.
func classify(adapter, symbol string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == -1003 || apiErr.Code == -1015:
			return source.Wrap(source.KindRateLimited, adapter, symbol, err)
		case apiErr.Code == -1121 || apiErr.Code == -1122:
			return source.Wrap(source.KindNotFound, adapter, symbol, err)
		case apiErr.Code <= -1100 && apiErr.Code > -1200:
			// Request parameter errors cannot succeed on retry.
			return source.Wrap(source.KindNotFound, adapter, symbol, err)
		}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return source.Wrap(source.KindMalformed, adapter, symbol, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "418"), strings.Contains(msg, "too many"):
		return source.Wrap(source.KindRateLimited, adapter, symbol, err)
	case strings.Contains(msg, "invalid symbol"):
		return source.Wrap(source.KindNotFound, adapter, symbol, err)
	}
	return source.Wrap(source.KindTransient, adapter, symbol, fmt.Errorf("klines: %w", err))
}

func parseDecimal(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return math.NaN()
	}
	f, _ := d.Float64()
	return f
}
