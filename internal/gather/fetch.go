package gather

import (
	"context"
	"log/slog"
	"time"

	"candlesync/internal/domain"
	"candlesync/internal/metrics"
	"candlesync/internal/source"
	"candlesync/internal/store"
	"candlesync/internal/util"
)

// FetchResult is the outcome of walking one instrument's adapter chain.
type FetchResult struct {
	Candles []domain.Candle
	// Source names the adapter that produced Candles.
	Source  string
	Outcome store.Outcome
	// Attempts counts adapter calls across the whole chain.
	Attempts int
	// Failures holds the final failure of every adapter that gave up.
	Failures []error
}

// Orchestrator tries the adapters of an instrument's class in order until
// one returns a non-empty series.
type Orchestrator struct {
	adapters map[string]source.Adapter
	chains   map[domain.Class][]source.Adapter
	policy   util.RetryPolicy
	timeout  time.Duration
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// NewOrchestrator resolves chains (class -> adapter names) against adapters.
// Names without a registered adapter are skipped with a warning. policy is
// applied to every adapter call; its Retryable and RateLimited predicates
// default to the source failure taxonomy. timeout bounds a single call.
func NewOrchestrator(adapters []source.Adapter, chains map[domain.Class][]string, policy util.RetryPolicy, timeout time.Duration, m *metrics.Metrics) *Orchestrator {
	o := &Orchestrator{
		adapters: make(map[string]source.Adapter, len(adapters)),
		chains:   make(map[domain.Class][]source.Adapter, len(chains)),
		policy:   policy,
		timeout:  timeout,
		metrics:  m,
		log:      slog.Default().With("component", "fetch"),
	}
	if o.policy.Retryable == nil {
		o.policy.Retryable = source.IsRetryable
	}
	if o.policy.RateLimited == nil {
		o.policy.RateLimited = source.IsRateLimited
	}
	for _, a := range adapters {
		o.adapters[a.Name()] = a
	}
	for class, names := range chains {
		for _, name := range names {
			a, ok := o.adapters[name]
			if !ok {
				o.log.Warn("adapter not configured, removed from chain", "class", class, "adapter", name)
				continue
			}
			o.chains[class] = append(o.chains[class], a)
		}
	}
	return o
}

// Chain returns the adapter names tried for class, in order.
func (o *Orchestrator) Chain(class domain.Class) []string {
	names := make([]string, 0, len(o.chains[class]))
	for _, a := range o.chains[class] {
		names = append(names, a.Name())
	}
	return names
}

// Fetch walks the chain for inst over w. Retryable failures are retried on
// the same adapter under the retry policy; any other failure moves on to the
// next adapter. When every adapter gives up the outcome is NoData. The only
// error returned is the context's.
func (o *Orchestrator) Fetch(ctx context.Context, inst domain.Instrument, w DateRange) (FetchResult, error) {
	var res FetchResult
	chain := o.chains[inst.Class()]
	log := o.log.With("symbol", inst.Symbol, "class", inst.Class())

	for _, a := range chain {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		name := a.Name()
		p := o.policy
		p.OnRetry = func(attempt int, d time.Duration, err error) {
			o.metrics.ObserveBackoff(name, d)
			if source.IsRateLimited(err) {
				log.Debug("rate limited, backing off", "adapter", name, "attempt", attempt, "delay", d)
				return
			}
			log.Debug("retrying", "adapter", name, "attempt", attempt, "delay", d, "err", err)
		}

		var candles []domain.Candle
		attempts, err := p.Do(ctx, func(ctx context.Context) error {
			c, err := o.call(ctx, a, inst, w)
			if err != nil {
				o.metrics.ObserveAttempt(name, source.KindOf(err).String())
				return err
			}
			o.metrics.ObserveAttempt(name, "ok")
			candles = c
			return nil
		})
		res.Attempts += attempts

		if err == nil {
			res.Candles = candles
			res.Source = name
			res.Outcome = store.OutcomeFetched
			return res, nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return res, cerr
		}
		res.Failures = append(res.Failures, err)

		switch source.KindOf(err) {
		case source.KindNotFound, source.KindEmpty:
			log.Debug("no data from adapter", "adapter", name, "err", err)
		case source.KindMalformed:
			log.Warn("malformed response, trying next adapter", "adapter", name, "err", err)
		default:
			log.Warn("adapter gave up", "adapter", name, "attempts", attempts, "err", err)
		}
	}

	res.Outcome = store.OutcomeNoData
	return res, nil
}

// call runs a single bounded adapter request and drops anything outside w.
func (o *Orchestrator) call(ctx context.Context, a source.Adapter, inst domain.Instrument, w DateRange) ([]domain.Candle, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	candles, err := a.Fetch(ctx, inst, w)
	if err != nil {
		return nil, source.Classify(a.Name(), inst.Symbol, err)
	}

	kept := candles[:0:0]
	for _, c := range candles {
		if w.Contains(c.Date) {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return nil, source.Fail(source.KindEmpty, a.Name(), inst.Symbol, "no candles in %s", w)
	}
	return kept, nil
}
