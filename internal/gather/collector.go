package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"candlesync/internal/domain"
	"candlesync/internal/fx"
	"candlesync/internal/metrics"
	"candlesync/internal/source"
	"candlesync/internal/store"
	"candlesync/internal/util"
)

// Fetcher returns the candles of inst within w.
type Fetcher interface {
	Fetch(ctx context.Context, inst domain.Instrument, w DateRange) (FetchResult, error)
}

// Converter maps a close in the instrument's quote currency to USD.
type Converter interface {
	Convert(ctx context.Context, inst domain.Instrument, close float64) (float64, error)
}

// CollectorConfig holds the collaborators and settings of a Collector.
type CollectorConfig struct {
	Calendar  *util.TradingCalendar
	StartDate time.Time
	Fetcher   Fetcher
	FX        Converter
	Candles   store.CandleStore
	// Archive is optional.
	Archive  store.CandleArchive
	Policies map[domain.Class]store.Policy
	// Overwrite replaces stored days instead of keeping them.
	Overwrite bool
	// WriteTimeout bounds the commit of one instrument.
	WriteTimeout time.Duration
	Metrics      *metrics.Metrics
}

// Collector runs the gap, fetch, convert and commit steps for one instrument.
type Collector struct {
	cfg CollectorConfig
	log *slog.Logger
}

// NewCollector creates a Collector.
func NewCollector(cfg CollectorConfig) *Collector {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	return &Collector{cfg: cfg, log: slog.Default().With("component", "collector")}
}

// InstrumentResult summarizes what happened to one instrument.
type InstrumentResult struct {
	Instrument domain.Instrument
	Window     DateRange
	Outcome    store.Outcome
	Source     string
	Fetched    int
	Inserted   int
	// RateSkipped counts observations dropped because no USD rate existed.
	RateSkipped int
	Status      store.Status
	// StatusChanged is true when the has_data flag or miss streak was written.
	StatusChanged bool
	// Throttled is true when every adapter gave up on a retryable failure.
	Throttled bool
}

// Collect processes inst. Errors are limited to store failures and context
// cancellation; provider failures end in a NoData outcome.
func (c *Collector) Collect(ctx context.Context, inst domain.Instrument) (InstrumentResult, error) {
	res := InstrumentResult{Instrument: inst}
	class := inst.Class()
	log := c.log.With("symbol", inst.Symbol, "venue", inst.Venue, "type", inst.Type)

	last, err := c.cfg.Candles.LastObservedDate(ctx, inst, domain.IntervalDaily)
	if err != nil {
		return res, fmt.Errorf("reading last date of %s: %w", inst.Symbol, err)
	}
	cutoff := c.cfg.Calendar.CutoffDate(class, c.cfg.Calendar.Now())

	w, ok := ComputeWindow(last, cutoff, c.cfg.StartDate)
	if !ok {
		res.Outcome = store.OutcomeAlreadyCurrent
		log.Debug("already current", "cutoff", cutoff.Format(domain.DateLayout))
		return res, c.commit(ctx, &res, nil)
	}
	res.Window = w

	fr, err := c.cfg.Fetcher.Fetch(ctx, inst, w)
	if err != nil {
		return res, err
	}
	res.Outcome = fr.Outcome
	res.Source = fr.Source
	res.Fetched = len(fr.Candles)

	if fr.Outcome == store.OutcomeNoData {
		res.Throttled = allRetryable(fr.Failures)
		log.Info("no data from any adapter", "window", w.String(), "adapters", len(fr.Failures))
		return res, c.commit(ctx, &res, nil)
	}

	candles := make([]domain.Candle, 0, len(fr.Candles))
	for _, cd := range fr.Candles {
		usd, err := c.cfg.FX.Convert(ctx, inst, cd.Close)
		if err != nil {
			res.RateSkipped++
			if errors.Is(err, fx.ErrRateUnavailable) {
				log.Warn("no USD rate, skipping day", "date", cd.Date.Format(domain.DateLayout), "currency", inst.QuoteCurrency())
			} else {
				log.Warn("conversion failed, skipping day", "date", cd.Date.Format(domain.DateLayout), "err", err)
			}
			continue
		}
		cd.CloseUSD = usd
		candles = append(candles, cd)
	}

	if res.RateSkipped > 0 {
		c.cfg.Metrics.AddRateSkipped(inst.QuoteCurrency(), res.RateSkipped)
		if len(candles) == 0 {
			log.Warn("no observation could be priced in USD; has_data stays as is",
				"currency", inst.QuoteCurrency(), "skipped", res.RateSkipped)
		}
	}

	if expected := w.Days(); res.Fetched < expected {
		log.Debug("received fewer days than calendar span", "expected", expected, "received", res.Fetched, "window", w.String())
	}

	if err := c.commit(ctx, &res, candles); err != nil {
		return res, err
	}
	log.Info("collected",
		"source", res.Source,
		"window", w.String(),
		"fetched", res.Fetched,
		"inserted", res.Inserted,
		"skipped", res.RateSkipped,
	)
	return res, nil
}

// commit writes candles and the flag transition. It runs detached from ctx
// cancellation so a stop signal never leaves a half-written instrument.
func (c *Collector) commit(ctx context.Context, res *InstrumentResult, candles []domain.Candle) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.WriteTimeout)
	defer cancel()

	inst := res.Instrument
	class := inst.Class()
	cr, err := c.cfg.Candles.Commit(wctx, store.CommitRequest{
		Instrument: inst,
		Candles:    candles,
		Outcome:    res.Outcome,
		Policy:     c.cfg.Policies[class],
		Overwrite:  c.cfg.Overwrite,
		Now:        c.cfg.Calendar.Now(),
	})
	if err != nil {
		return fmt.Errorf("committing %s: %w", inst.Symbol, err)
	}
	res.Inserted = len(cr.Inserted)
	res.Status = cr.Status
	res.StatusChanged = cr.StatusChanged

	c.cfg.Metrics.ObserveOutcome(string(class), res.Outcome.String())
	c.cfg.Metrics.AddInserted(string(class), res.Inserted)

	if cr.StatusChanged && cr.Status.HasData != inst.HasData {
		c.log.Info("has_data changed", "symbol", inst.Symbol, "from", inst.HasData, "to", cr.Status.HasData)
	}

	if c.cfg.Archive != nil && len(cr.Inserted) > 0 {
		if err := c.cfg.Archive.WriteCandles(wctx, class, cr.Inserted); err != nil {
			c.log.Warn("archive write failed", "symbol", inst.Symbol, "err", err)
		}
	}
	return nil
}

func allRetryable(failures []error) bool {
	if len(failures) == 0 {
		return false
	}
	for _, err := range failures {
		if !source.IsRetryable(err) {
			return false
		}
	}
	return true
}
