package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"candlesync/internal/domain"
	"candlesync/internal/metrics"
	"candlesync/internal/store"
	"candlesync/internal/util"
)

var _ Gatherer = (*Scheduler)(nil)

// RateCache is the part of the cross-rate resolver the scheduler owns.
type RateCache interface {
	Refresh(ctx context.Context) error
	Size() int
}

// Pinger checks that the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SchedulerConfig controls batching, pacing and the daemon schedule.
type SchedulerConfig struct {
	// Schedule is a cron spec in UTC. Empty makes Run a single pass.
	Schedule        string
	BatchSize       int
	InstrumentDelay time.Duration
	// BatchCooldown is the pause between batches. It doubles up to
	// MaxCooldown after a batch in which every instrument was throttled or
	// errored, and resets after a healthy batch.
	BatchCooldown    time.Duration
	MaxCooldown      time.Duration
	RateRefreshEvery int
	// RecheckEvery makes every n-th scheduled run include instruments whose
	// has_data flag is false. Zero disables re-checks.
	RecheckEvery int
	Filter       store.Filter
}

// RunSummary is the per-run report.
type RunSummary struct {
	RunID     string
	Started   time.Time
	Elapsed   time.Duration
	Batches   int
	Processed int
	// Updated counts instruments that gained at least one candle.
	Updated int
	// Skipped counts instruments already current at the cutoff.
	Skipped  int
	NoData   int
	Errored  int
	Inserted int
	// Stopped is true when the run ended early on cancellation.
	Stopped bool
}

// Scheduler lists trackable instruments and feeds them to a Collector in
// sequential batches.
type Scheduler struct {
	registry  store.Registry
	pinger    Pinger
	collector *Collector
	rates     RateCache
	cfg       SchedulerConfig
	sleep     func(ctx context.Context, d time.Duration) error
	metrics   *metrics.Metrics
	log       *slog.Logger
	runs      int
}

// NewScheduler creates a Scheduler. pinger and rates may be nil.
func NewScheduler(registry store.Registry, pinger Pinger, collector *Collector, rates RateCache, cfg SchedulerConfig, m *metrics.Metrics) *Scheduler {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 50
	}
	if cfg.MaxCooldown < cfg.BatchCooldown {
		cfg.MaxCooldown = cfg.BatchCooldown
	}
	return &Scheduler{
		registry:  registry,
		pinger:    pinger,
		collector: collector,
		rates:     rates,
		cfg:       cfg,
		sleep:     util.SleepContext,
		metrics:   m,
		log:       slog.Default().With("gatherer", "candlesync"),
	}
}

// Name returns the gatherer identifier.
func (s *Scheduler) Name() string { return "candlesync" }

// SetFilter narrows the instruments of every scheduled run.
func (s *Scheduler) SetFilter(f store.Filter) { s.cfg.Filter = f }

// Run collects on the configured schedule until ctx is cancelled. Without a
// schedule it makes one pass and returns.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.cfg.Schedule == "" {
		_, err := s.RunOnce(ctx, s.cfg.Filter)
		return err
	}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(s.cfg.Schedule, func() { s.scheduled(ctx) }); err != nil {
		return fmt.Errorf("parsing schedule %q: %w", s.cfg.Schedule, err)
	}
	s.log.Info("scheduler started", "schedule", s.cfg.Schedule)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) scheduled(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.runs++
	f := s.cfg.Filter
	if s.cfg.RecheckEvery > 0 && s.runs%s.cfg.RecheckEvery == 0 {
		f.IncludeConfirmedFalse = true
	}
	if _, err := s.RunOnce(ctx, f); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("run failed", "err", err)
	}
}

// RunOnce performs a single pass over the instruments matching f. It fails
// only when the store or registry is unreachable at start; per-instrument
// failures are counted in the summary. Cancellation stops the pass before
// the next instrument and is reported through Stopped, not as an error.
func (s *Scheduler) RunOnce(ctx context.Context, f store.Filter) (RunSummary, error) {
	sum := RunSummary{RunID: uuid.NewString(), Started: time.Now()}
	log := s.log.With("run", sum.RunID)

	if s.pinger != nil {
		if err := s.pinger.Ping(ctx); err != nil {
			s.metrics.ObserveRun(0, "failed")
			return sum, fmt.Errorf("store unreachable: %w", err)
		}
	}
	instruments, err := s.registry.ListTrackable(ctx, f)
	if err != nil {
		s.metrics.ObserveRun(0, "failed")
		return sum, fmt.Errorf("listing instruments: %w", err)
	}

	s.refreshRates(ctx, log)

	totalBatches := (len(instruments) + s.cfg.BatchSize - 1) / s.cfg.BatchSize
	log.Info("run started", "instruments", len(instruments), "batches", totalBatches, "recheck", f.IncludeConfirmedFalse)

	cooldown := s.cfg.BatchCooldown
	for b := 0; b < totalBatches; b++ {
		if ctx.Err() != nil {
			sum.Stopped = true
			break
		}
		if b > 0 {
			if s.cfg.RateRefreshEvery > 0 && b%s.cfg.RateRefreshEvery == 0 {
				s.refreshRates(ctx, log)
			}
			if err := s.sleep(ctx, cooldown); err != nil {
				sum.Stopped = true
				break
			}
		}

		lo := b * s.cfg.BatchSize
		hi := min(lo+s.cfg.BatchSize, len(instruments))
		degraded, stopped := s.runBatch(ctx, instruments[lo:hi], &sum, log)
		sum.Batches++

		log.Info("batch done",
			"batch", fmt.Sprintf("%d/%d", b+1, totalBatches),
			"processed", sum.Processed,
			"updated", sum.Updated,
			"errored", sum.Errored,
			"elapsed", time.Since(sum.Started).Round(time.Second),
		)
		if stopped {
			sum.Stopped = true
			break
		}
		if degraded {
			cooldown = min(cooldown*2, s.cfg.MaxCooldown)
			log.Warn("batch degraded, extending cooldown", "cooldown", cooldown)
		} else {
			cooldown = s.cfg.BatchCooldown
		}
	}

	sum.Elapsed = time.Since(sum.Started)
	status := "completed"
	if sum.Stopped {
		status = "stopped"
	}
	s.metrics.ObserveRun(sum.Elapsed, status)
	log.Info("run "+status,
		"processed", sum.Processed,
		"updated", sum.Updated,
		"skipped", sum.Skipped,
		"no_data", sum.NoData,
		"errored", sum.Errored,
		"inserted", sum.Inserted,
		"elapsed", sum.Elapsed.Round(time.Millisecond),
	)
	return sum, nil
}

// runBatch processes one batch sequentially. degraded is true when every
// instrument was throttled or errored.
func (s *Scheduler) runBatch(ctx context.Context, batch []domain.Instrument, sum *RunSummary, log *slog.Logger) (degraded, stopped bool) {
	failed := 0
	for i, inst := range batch {
		if ctx.Err() != nil {
			return false, true
		}
		if i > 0 && s.cfg.InstrumentDelay > 0 {
			if err := s.sleep(ctx, s.cfg.InstrumentDelay); err != nil {
				return false, true
			}
		}

		res, err := s.collector.Collect(ctx, inst)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return false, true
			}
			sum.Processed++
			sum.Errored++
			failed++
			log.Error("instrument failed", "symbol", inst.Symbol, "venue", inst.Venue, "err", err)
			continue
		}

		sum.Processed++
		sum.Inserted += res.Inserted
		switch {
		case res.Inserted > 0:
			sum.Updated++
		case res.Outcome == store.OutcomeAlreadyCurrent:
			sum.Skipped++
		case res.Outcome == store.OutcomeNoData:
			sum.NoData++
		}
		if res.Throttled {
			failed++
		}
	}
	return len(batch) > 0 && failed == len(batch), false
}

func (s *Scheduler) refreshRates(ctx context.Context, log *slog.Logger) {
	if s.rates == nil {
		return
	}
	if err := s.rates.Refresh(ctx); err != nil {
		log.Warn("rate refresh failed", "cached", s.rates.Size(), "err", err)
	}
	s.metrics.SetRateCacheSize(s.rates.Size())
}
