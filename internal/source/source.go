// Package source defines the provider adapter contract used to fetch daily
// candles, the failure taxonomy adapters report, and the normalization every
// adapter applies before returning a series.
package source

import (
	"context"
	"errors"
	"fmt"

	"candlesync/internal/domain"
)

// Adapter fetches daily candles for one instrument over an inclusive window.
// Implementations never write to storage. A successful result is non-empty,
// ascending by date, de-duplicated and inside the window; every other outcome
// is reported as a *Failure.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, inst domain.Instrument, w domain.DateRange) ([]domain.Candle, error)
}

// AdapterFunc adapts a function to the Adapter interface.
type AdapterFunc struct {
	AdapterName string
	Fn          func(ctx context.Context, inst domain.Instrument, w domain.DateRange) ([]domain.Candle, error)
}

// Name returns the adapter name.
func (a AdapterFunc) Name() string { return a.AdapterName }

// Fetch calls Fn.
func (a AdapterFunc) Fetch(ctx context.Context, inst domain.Instrument, w domain.DateRange) ([]domain.Candle, error) {
	return a.Fn(ctx, inst, w)
}

// Kind classifies why a fetch failed.
type Kind int

const (
	KindTransient Kind = iota
	KindNotFound
	KindRateLimited
	KindEmpty
	KindMalformed
)

// String returns the lower-case kind name used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindEmpty:
		return "empty"
	case KindMalformed:
		return "malformed"
	default:
		return "transient"
	}
}

// Failure is the error type every adapter returns.
type Failure struct {
	Kind    Kind
	Adapter string
	Symbol  string
	Message string
	Err     error
}

func (f *Failure) Error() string {
	msg := f.Message
	if msg == "" && f.Err != nil {
		msg = f.Err.Error()
	}
	return fmt.Sprintf("%s %s: %s: %s", f.Adapter, f.Symbol, f.Kind, msg)
}

func (f *Failure) Unwrap() error { return f.Err }

// Retryable reports whether another attempt on the same adapter may succeed.
func (f *Failure) Retryable() bool {
	return f.Kind == KindRateLimited || f.Kind == KindTransient
}

// Fail builds a Failure with a formatted message.
func Fail(kind Kind, adapter, symbol, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Adapter: adapter, Symbol: symbol, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a Failure around err.
func Wrap(kind Kind, adapter, symbol string, err error) *Failure {
	return &Failure{Kind: kind, Adapter: adapter, Symbol: symbol, Err: err}
}

// KindOf classifies err. Errors that are not a *Failure are transient.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindTransient
}

// Classify converts an arbitrary error returned while talking to a provider
// into a *Failure. Existing failures pass through unchanged; network errors
// and timeouts are transient.
func Classify(adapter, symbol string, err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return Wrap(KindTransient, adapter, symbol, err)
}

// IsRetryable reports whether err may succeed on another attempt.
func IsRetryable(err error) bool {
	k := KindOf(err)
	return k == KindRateLimited || k == KindTransient
}

// IsRateLimited reports whether err is a rate-limit rejection.
func IsRateLimited(err error) bool {
	return KindOf(err) == KindRateLimited
}
