package source

import (
	"math"
	"sort"
	"time"

	"candlesync/internal/domain"
)

// Row is a raw daily observation as decoded from a provider response.
type Row struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Normalize converts raw rows into canonical candles for inst. Rows are
// aligned to their UTC day; rows with a missing or non-finite price, a
// non-positive close, or a date outside w are dropped; the first row of a
// day wins. Missing volume becomes 0. An empty result is a KindEmpty
// failure.
func Normalize(adapter string, inst domain.Instrument, w domain.DateRange, rows []Row) ([]domain.Candle, error) {
	seen := make(map[time.Time]struct{}, len(rows))
	candles := make([]domain.Candle, 0, len(rows))
	for _, r := range rows {
		if !finite(r.Open) || !finite(r.High) || !finite(r.Low) || !finite(r.Close) || r.Close <= 0 {
			continue
		}
		day := domain.Day(r.Time)
		if !w.Contains(day) {
			continue
		}
		if _, dup := seen[day]; dup {
			continue
		}
		seen[day] = struct{}{}

		vol := r.Volume
		if !finite(vol) || vol < 0 {
			vol = 0
		}
		candles = append(candles, domain.Candle{
			Symbol:   inst.Symbol,
			Interval: domain.IntervalDaily,
			Date:     day,
			Open:     r.Open,
			High:     r.High,
			Low:      r.Low,
			Close:    r.Close,
			Volume:   vol,
			Source:   adapter,
			Venue:    inst.Venue,
			Type:     inst.Type,
			Country:  inst.Country,
		})
	}
	if len(candles) == 0 {
		return nil, Fail(KindEmpty, adapter, inst.Symbol, "no usable rows in %s", w)
	}
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Date.Before(candles[j].Date)
	})
	return candles, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
