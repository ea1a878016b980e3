// Package app assembles the collection engine from a loaded configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"candlesync/internal/config"
	"candlesync/internal/domain"
	"candlesync/internal/fx"
	"candlesync/internal/gather"
	"candlesync/internal/metrics"
	"candlesync/internal/source"
	"candlesync/internal/source/alpaca"
	"candlesync/internal/source/binance"
	"candlesync/internal/source/stooq"
	"candlesync/internal/source/yahoo"
	"candlesync/internal/store"
	"candlesync/internal/util"
)

// App holds the wired engine.
type App struct {
	Config       *config.Config
	Store        *store.SQLStore
	Resolver     *fx.Resolver
	Orchestrator *gather.Orchestrator
	Collector    *gather.Collector
	Scheduler    *gather.Scheduler
	Metrics      *metrics.Metrics
}

// New opens the store, ensures its schema and wires every component. m may
// be nil.
func New(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*App, error) {
	start, err := cfg.StartDate()
	if err != nil {
		return nil, err
	}

	st, err := store.OpenSQLStore(cfg.Storage.Driver, cfg.Storage.DSN, cfg.Storage.Timeout)
	if err != nil {
		return nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		st.Close()
		return nil, err
	}

	archive, err := Archive(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	resolver := fx.NewResolver(st, cfg.FX.USDPegged)
	orch := gather.NewOrchestrator(Adapters(cfg), Chains(cfg), RetryPolicy(cfg), cfg.Collection.FetchTimeout, m)
	collector := gather.NewCollector(gather.CollectorConfig{
		Calendar:     util.NewTradingCalendar(cfg.SettlementDelays()),
		StartDate:    start,
		Fetcher:      orch,
		FX:           resolver,
		Candles:      st,
		Archive:      archive,
		Policies:     Policies(cfg),
		Overwrite:    cfg.Collection.OverwriteExisting,
		WriteTimeout: cfg.Storage.Timeout,
		Metrics:      m,
	})
	sched := gather.NewScheduler(st, st, collector, resolver, gather.SchedulerConfig{
		Schedule:         cfg.Scheduler.Schedule,
		BatchSize:        cfg.Scheduler.BatchSize,
		InstrumentDelay:  cfg.Scheduler.InstrumentDelay,
		BatchCooldown:    cfg.Scheduler.BatchCooldown,
		MaxCooldown:      cfg.Scheduler.MaxCooldown,
		RateRefreshEvery: cfg.Scheduler.RateRefreshEvery,
		RecheckEvery:     cfg.Scheduler.RecheckEvery,
	}, m)

	return &App{
		Config:       cfg,
		Store:        st,
		Resolver:     resolver,
		Orchestrator: orch,
		Collector:    collector,
		Scheduler:    sched,
		Metrics:      m,
	}, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}

// Adapters builds every configured provider adapter. Alpaca needs
// credentials and is left out without them.
func Adapters(cfg *config.Config) []source.Adapter {
	a := cfg.Adapters
	out := []source.Adapter{
		binance.NewSpot(a.BinanceSpot.APIKey, a.BinanceSpot.APISecret, a.BinanceSpot.BaseURL, a.BinanceSpot.Timeout, a.BinanceSpot.RateLimitPerMin),
		binance.NewFutures(a.BinanceFutures.APIKey, a.BinanceFutures.APISecret, a.BinanceFutures.BaseURL, a.BinanceFutures.Timeout, a.BinanceFutures.RateLimitPerMin),
		yahoo.New(a.Yahoo.BaseURL, a.Yahoo.Timeout, a.Yahoo.RateLimitPerMin),
		stooq.New(a.Stooq.BaseURL, a.Stooq.Timeout, a.Stooq.RateLimitPerMin),
	}
	if a.Alpaca.APIKey != "" && a.Alpaca.APISecret != "" {
		out = append(out, alpaca.New(a.Alpaca.APIKey, a.Alpaca.APISecret, a.Alpaca.BaseURL, "", a.Alpaca.Timeout, a.Alpaca.RateLimitPerMin))
	} else {
		slog.Warn("alpaca credentials not set, adapter disabled")
	}
	return out
}

// Chains returns the configured adapter chain of every class.
func Chains(cfg *config.Config) map[domain.Class][]string {
	out := make(map[domain.Class][]string, len(domain.Classes))
	for _, c := range domain.Classes {
		out[c] = cfg.Chain(c)
	}
	return out
}

// Policies returns the has_data policy of every class.
func Policies(cfg *config.Config) map[domain.Class]store.Policy {
	out := make(map[domain.Class]store.Policy, len(domain.Classes))
	for _, c := range domain.Classes {
		out[c] = store.Policy{
			Sticky:        cfg.Policy(c) == config.PolicySticky,
			ConfirmMisses: cfg.HasData.ConfirmMisses,
		}
	}
	return out
}

// RetryPolicy converts the retry section into a policy.
func RetryPolicy(cfg *config.Config) util.RetryPolicy {
	r := cfg.Retry
	return util.RetryPolicy{
		MaxAttempts:    r.MaxAttempts,
		BaseDelay:      r.BaseDelay,
		RateLimitDelay: r.RateLimitDelay,
		MaxDelay:       r.MaxDelay,
		Multiplier:     r.Multiplier,
	}
}

// Archive returns the Parquet mirror, uploading to S3 when a bucket is set.
// It returns nil when no archive directory is configured.
func Archive(ctx context.Context, cfg *config.Config) (store.CandleArchive, error) {
	a := cfg.Archive
	if a.Dir == "" {
		return nil, nil
	}
	var up store.Uploader
	if a.S3Bucket != "" {
		s3up, err := store.NewS3Uploader(ctx, a.S3Region, a.S3Endpoint, a.S3Bucket, a.S3Prefix)
		if err != nil {
			return nil, fmt.Errorf("creating S3 uploader: %w", err)
		}
		up = s3up
	}
	return store.NewParquetStore(a.Dir, up), nil
}
