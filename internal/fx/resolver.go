// Package fx converts local-currency closes into USD using the latest stored
// forex crosses.
package fx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"candlesync/internal/domain"
	"candlesync/internal/store"
)

// ErrRateUnavailable is returned when no cross rate exists for a currency,
// neither in the cache nor in the rate store.
var ErrRateUnavailable = errors.New("rate unavailable")

// usdPlaces is the rounding precision of converted values.
const usdPlaces = 10

// Resolver maps closes to USD. Reads go through an immutable snapshot of the
// rate table which only Refresh replaces.
type Resolver struct {
	rates  store.RateStore
	pegged map[string]bool
	snap   atomic.Pointer[map[string]float64]
	log    *slog.Logger
}

// NewResolver creates a resolver backed by rates. Currencies in pegged are
// treated as USD.
func NewResolver(rates store.RateStore, pegged []string) *Resolver {
	r := &Resolver{
		rates:  rates,
		pegged: make(map[string]bool, len(pegged)+1),
		log:    slog.Default().With("component", "fx"),
	}
	r.pegged["USD"] = true
	for _, c := range pegged {
		r.pegged[strings.ToUpper(c)] = true
	}
	empty := map[string]float64{}
	r.snap.Store(&empty)
	return r
}

// Refresh bulk-loads the latest close of every stored cross and swaps the
// snapshot. On failure the previous snapshot stays in place.
func (r *Resolver) Refresh(ctx context.Context) error {
	rates, err := r.rates.LatestRates(ctx)
	if err != nil {
		r.log.Warn("rate refresh failed, keeping previous cache", "cached", r.Size(), "error", err)
		return fmt.Errorf("refreshing rates: %w", err)
	}
	r.snap.Store(&rates)
	r.log.Debug("rates refreshed", "crosses", len(rates))
	return nil
}

// Size returns the number of cached crosses.
func (r *Resolver) Size() int {
	return len(*r.snap.Load())
}

// Snapshot returns a copy of the cached crosses.
func (r *Resolver) Snapshot() map[string]float64 {
	cur := *r.snap.Load()
	out := make(map[string]float64, len(cur))
	for k, v := range cur {
		out[k] = v
	}
	return out
}

// Convert returns the USD value of close for inst.
//
// Forex pairs quoted against USD are already in USD. A USD/X pair is
// inverted, giving the USD value of one unit of X. Everything else is
// multiplied by the USD value of its quote currency.
func (r *Resolver) Convert(ctx context.Context, inst domain.Instrument, close float64) (float64, error) {
	if close <= 0 {
		return 0, fmt.Errorf("converting %s: non-positive close %v", inst.Symbol, close)
	}
	if inst.Class() == domain.ClassForex {
		base, quote, ok := strings.Cut(strings.ToUpper(inst.Symbol), "/")
		if ok && r.pegged[quote] {
			return round(decimal.NewFromFloat(close)), nil
		}
		if ok && r.pegged[base] {
			return round(decimal.NewFromInt(1).Div(decimal.NewFromFloat(close))), nil
		}
	}

	quote := inst.QuoteCurrency()
	rate, err := r.Rate(ctx, quote)
	if err != nil {
		return 0, fmt.Errorf("converting %s: %w", inst.Symbol, err)
	}
	return round(decimal.NewFromFloat(close).Mul(rate)), nil
}

// Rate returns the USD value of one unit of currency. It looks up
// "{CUR}/USD" then the inverse of "USD/{CUR}" in the cache, and falls back
// to a single read of the rate store for either ordering.
func (r *Resolver) Rate(ctx context.Context, currency string) (decimal.Decimal, error) {
	cur := strings.ToUpper(currency)
	if r.pegged[cur] {
		return decimal.NewFromInt(1), nil
	}
	direct, inverse := cur+"/USD", "USD/"+cur

	snap := *r.snap.Load()
	if v, ok := snap[direct]; ok && v > 0 {
		return decimal.NewFromFloat(v), nil
	}
	if v, ok := snap[inverse]; ok && v > 0 {
		return decimal.NewFromInt(1).Div(decimal.NewFromFloat(v)), nil
	}

	v, ok, err := r.rates.LatestRate(ctx, direct)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %w", ErrRateUnavailable, cur, err)
	}
	if ok {
		return decimal.NewFromFloat(v), nil
	}
	v, ok, err = r.rates.LatestRate(ctx, inverse)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %w", ErrRateUnavailable, cur, err)
	}
	if ok {
		return decimal.NewFromInt(1).Div(decimal.NewFromFloat(v)), nil
	}
	return decimal.Zero, fmt.Errorf("%w: %s", ErrRateUnavailable, cur)
}

func round(d decimal.Decimal) float64 {
	f, _ := d.Round(usdPlaces).Float64()
	return f
}
