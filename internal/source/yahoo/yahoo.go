// Package yahoo implements the primary quote adapter backed by the Yahoo
// Finance chart API.
package yahoo

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"candlesync/internal/domain"
	"candlesync/internal/source"
	"candlesync/internal/util"
)

// Name is the adapter identifier.
const Name = "yahoo"

var _ source.Adapter = (*Adapter)(nil)

// Adapter fetches daily candles from {baseURL}/v8/finance/chart/{ticker}.
type Adapter struct {
	baseURL string
	client  *http.Client
	limiter *util.RateLimiter
	log     *slog.Logger
}

// New creates a Yahoo adapter. perMinute paces outgoing requests.
func New(baseURL string, timeout time.Duration, perMinute int) *Adapter {
	return &Adapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  source.NewHTTPClient(timeout),
		limiter: util.NewRateLimiter(perMinute),
		log:     slog.Default().With("adapter", Name),
	}
}

// Name returns the adapter identifier.
func (a *Adapter) Name() string { return Name }

// Fetch downloads the chart for inst over w and normalizes it.
func (a *Adapter) Fetch(ctx context.Context, inst domain.Instrument, w domain.DateRange) ([]domain.Candle, error) {
	ticker, ok := Ticker(inst)
	if !ok {
		return nil, source.Fail(source.KindNotFound, Name, inst.Symbol, "no ticker mapping")
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("period1", fmt.Sprintf("%d", domain.Day(w.Start).Unix()))
	q.Set("period2", fmt.Sprintf("%d", domain.Day(w.End).AddDate(0, 0, 1).Unix()))
	q.Set("interval", "1d")
	q.Set("events", "history")
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", a.baseURL, url.PathEscape(ticker), q.Encode())

	body, err := source.Get(ctx, a.client, Name, inst.Symbol, u)
	if err != nil {
		// Error statuses usually carry a chart.error payload with a better reason.
		if source.KindOf(err) != source.KindRateLimited && gjson.ValidBytes(body) {
			if ferr := chartError(inst.Symbol, body); ferr != nil {
				return nil, ferr
			}
		}
		return nil, err
	}

	rows, err := parseChart(inst.Symbol, body)
	if err != nil {
		return nil, err
	}
	a.log.Debug("chart fetched", "symbol", inst.Symbol, "ticker", ticker, "rows", len(rows), "expected", w.Days())
	return source.Normalize(Name, inst, w, rows)
}

// chartError extracts chart.error from a response body, if any.
func chartError(symbol string, body []byte) error {
	e := gjson.GetBytes(body, "chart.error")
	if !e.Exists() || e.Type == gjson.Null {
		return nil
	}
	code := e.Get("code").String()
	desc := e.Get("description").String()
	switch strings.ToLower(code) {
	case "not found", "bad request":
		return source.Fail(source.KindNotFound, Name, symbol, "%s: %s", code, desc)
	case "too many requests":
		return source.Fail(source.KindRateLimited, Name, symbol, "%s: %s", code, desc)
	}
	return source.Fail(source.KindMalformed, Name, symbol, "%s: %s", code, desc)
}

// parseChart decodes a chart response into raw rows. Timestamps are shifted
// by the exchange GMT offset so each row lands on its local trading day.
func parseChart(symbol string, body []byte) ([]source.Row, error) {
	if !gjson.ValidBytes(body) {
		return nil, source.Fail(source.KindMalformed, Name, symbol, "invalid JSON")
	}
	if err := chartError(symbol, body); err != nil {
		return nil, err
	}

	res := gjson.GetBytes(body, "chart.result.0")
	if !res.Exists() {
		return nil, source.Fail(source.KindNotFound, Name, symbol, "empty chart result")
	}
	ts := res.Get("timestamp")
	if !ts.Exists() {
		return nil, source.Fail(source.KindEmpty, Name, symbol, "no timestamps in range")
	}
	quote := res.Get("indicators.quote.0")
	if !quote.Exists() {
		return nil, source.Fail(source.KindMalformed, Name, symbol, "missing indicators.quote")
	}

	offset := res.Get("meta.gmtoffset").Int()
	stamps := ts.Array()
	opens := quote.Get("open").Array()
	highs := quote.Get("high").Array()
	lows := quote.Get("low").Array()
	closes := quote.Get("close").Array()
	volumes := quote.Get("volume").Array()
	if len(closes) != len(stamps) {
		return nil, source.Fail(source.KindMalformed, Name, symbol,
			"%d timestamps but %d closes", len(stamps), len(closes))
	}

	rows := make([]source.Row, 0, len(stamps))
	for i, s := range stamps {
		rows = append(rows, source.Row{
			Time:   time.Unix(s.Int()+offset, 0).UTC(),
			Open:   num(opens, i),
			High:   num(highs, i),
			Low:    num(lows, i),
			Close:  num(closes, i),
			Volume: num(volumes, i),
		})
	}
	return rows, nil
}

func num(arr []gjson.Result, i int) float64 {
	if i >= len(arr) || arr[i].Type == gjson.Null {
		return math.NaN()
	}
	return arr[i].Float()
}
