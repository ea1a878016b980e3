// Package stooq implements the secondary quote adapter backed by Stooq's
// daily CSV download endpoint.
package stooq

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"candlesync/internal/domain"
	"candlesync/internal/source"
	"candlesync/internal/util"
)

// Name is the adapter identifier.
const Name = "stooq"

const dateLayout = "20060102"

var _ source.Adapter = (*Adapter)(nil)

// Adapter fetches daily candles from {baseURL}/q/d/l/.
type Adapter struct {
	baseURL string
	client  *http.Client
	limiter *util.RateLimiter
	log     *slog.Logger
}

// New creates a Stooq adapter. perMinute paces outgoing requests.
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

// Fetch downloads the CSV history for inst over w and normalizes it.
func (a *Adapter) Fetch(ctx context.Context, inst domain.Instrument, w domain.DateRange) ([]domain.Candle, error) {
	sym, ok := Symbol(inst)
	if !ok {
		return nil, source.Fail(source.KindNotFound, Name, inst.Symbol, "no symbol mapping")
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("s", sym)
	q.Set("d1", w.Start.Format(dateLayout))
	q.Set("d2", w.End.Format(dateLayout))
	q.Set("i", "d")
	body, err := source.Get(ctx, a.client, Name, inst.Symbol, a.baseURL+"/q/d/l/?"+q.Encode())
	if err != nil {
		return nil, err
	}

	rows, err := parseCSV(inst.Symbol, body)
	if err != nil {
		return nil, err
	}
	a.log.Debug("csv fetched", "symbol", inst.Symbol, "stooq", sym, "rows", len(rows), "expected", w.Days())
	return source.Normalize(Name, inst, w, rows)
}

// parseCSV decodes a Stooq CSV body. Stooq answers unknown symbols and quota
// exhaustion with a plain-text body and status 200.
func parseCSV(symbol string, body []byte) ([]source.Row, error) {
	text := strings.TrimSpace(string(body))
	switch {
	case text == "":
		return nil, source.Fail(source.KindEmpty, Name, symbol, "empty body")
	case strings.Contains(text, "Exceeded the daily hits limit"), strings.Contains(text, "ERR#0015"):
		return nil, source.Fail(source.KindRateLimited, Name, symbol, "%s", firstLine(text))
	case strings.EqualFold(text, "No data"):
		return nil, source.Fail(source.KindNotFound, Name, symbol, "no data")
	}

	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, source.Wrap(source.KindMalformed, Name, symbol, fmt.Errorf("reading header: %w", err))
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, need := range []string{"date", "open", "high", "low", "close"} {
		if _, ok := col[need]; !ok {
			return nil, source.Fail(source.KindMalformed, Name, symbol, "missing column %q in header %v", need, header)
		}
	}

	var rows []source.Row
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, source.Wrap(source.KindMalformed, Name, symbol, err)
		}
		d, err := time.Parse(domain.DateLayout, field(rec, col["date"]))
		if err != nil {
			continue
		}
		row := source.Row{
			Time:   d,
			Open:   parseFloat(field(rec, col["open"])),
			High:   parseFloat(field(rec, col["high"])),
			Low:    parseFloat(field(rec, col["low"])),
			Close:  parseFloat(field(rec, col["close"])),
			Volume: math.NaN(),
		}
		if i, ok := col["volume"]; ok {
			row.Volume = parseFloat(field(rec, i))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
