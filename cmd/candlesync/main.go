// Command candlesync keeps daily candles of every tracked instrument up to
// date. It runs once, or as a daemon on the configured cron schedule.
//
// Usage:
//
//	candlesync [-once] [-venue FOREX] [-type SPOT] [-symbols EUR/USD,GOLD] [-recheck] [-seed config/instruments.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"candlesync/internal/app"
	"candlesync/internal/config"
	"candlesync/internal/domain"
	"candlesync/internal/metrics"
	"candlesync/internal/store"
	"candlesync/internal/util"
)

func main() {
	once := flag.Bool("once", false, "run a single pass and exit, ignoring the schedule")
	venue := flag.String("venue", "", "only collect instruments on this venue (BINANCE, FOREX, COMMODITY, STOCK, INDEX)")
	typ := flag.String("type", "", "only collect instruments of this type (SPOT, FUTURES, ...)")
	symbols := flag.String("symbols", "", "comma-separated symbols to collect")
	recheck := flag.Bool("recheck", false, "include instruments whose has_data flag is false")
	seed := flag.String("seed", "", "register instruments from this YAML file before collecting")
	flag.Parse()

	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("loading .env: %v", err)
	}

	cfgPath := "config/candlesync.yaml"
	if p := os.Getenv("CANDLESYNC_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var w io.Writer = os.Stdout
	if cfg.Logging.File != "" {
		lf := util.RotatingWriter(util.LogFile{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   true,
		})
		defer lf.Close()
		w = io.MultiWriter(os.Stdout, lf)
	}
	util.SetDefault(util.NewLoggerTo(w, cfg.Logging.Level, cfg.Logging.Format))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var m *metrics.Metrics
	if cfg.Metrics.Addr != "" {
		m = metrics.New()
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(m), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "err", err)
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			_ = srv.Shutdown(sctx)
		}()
		slog.Info("metrics listening", "addr", cfg.Metrics.Addr)
	}

	a, err := app.New(ctx, cfg, m)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer a.Close()

	if *seed != "" {
		insts, err := app.LoadInstruments(*seed)
		if err != nil {
			log.Fatalf("failed to read instruments: %v", err)
		}
		if err := a.Store.RegisterInstruments(ctx, insts); err != nil {
			log.Fatalf("failed to register instruments: %v", err)
		}
		slog.Info("instruments registered", "file", *seed, "count", len(insts))
	}

	filter := store.Filter{
		Venue:                 domain.Venue(strings.ToUpper(*venue)),
		Type:                  domain.InstrumentType(strings.ToUpper(*typ)),
		IncludeConfirmedFalse: *recheck,
	}
	if *symbols != "" {
		for _, s := range strings.Split(*symbols, ",") {
			if s = strings.TrimSpace(s); s != "" {
				filter.Symbols = append(filter.Symbols, strings.ToUpper(s))
			}
		}
	}

	if *once || cfg.Scheduler.Schedule == "" {
		slog.Info("starting candlesync run", "config", cfgPath, "venue", filter.Venue, "type", filter.Type)
		sum, err := a.Scheduler.RunOnce(ctx, filter)
		if err != nil {
			log.Fatalf("run failed: %v", err)
		}
		if sum.Errored > 0 {
			slog.Warn("run finished with errors", "errored", sum.Errored, "processed", sum.Processed)
		}
		return
	}

	slog.Info("starting candlesync daemon", "config", cfgPath, "schedule", cfg.Scheduler.Schedule)
	a.Scheduler.SetFilter(filter)
	if err := a.Scheduler.Run(ctx); err != nil {
		log.Fatalf("daemon error: %v", err)
	}
}

func metricsMux(m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
