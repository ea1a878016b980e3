// One-shot tool: walk the adapter chain for a single instrument and print
// what each provider returns, without writing anything.
//
// Usage:
//
//	go run cmd/check-symbol/main.go -venue FOREX EUR/USD [2025-06-01] [2025-06-13]
//	go run cmd/check-symbol/main.go -venue FOREX -archived EUR/USD
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"candlesync/internal/app"
	"candlesync/internal/config"
	"candlesync/internal/domain"
	"candlesync/internal/fx"
	"candlesync/internal/gather"
	"candlesync/internal/source"
	"candlesync/internal/store"
	"candlesync/internal/util"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("check-symbol", flag.ContinueOnError)
	venue := fs.String("venue", "", "instrument venue (BINANCE, FOREX, COMMODITY, STOCK, INDEX)")
	typ := fs.String("type", "", "instrument type (default derived from venue)")
	country := fs.String("country", "", "listing country for stocks and indices")
	each := fs.Bool("each", false, "query every adapter of the chain instead of stopping at the first hit")
	archived := fs.Bool("archived", false, "print the rows held in the Parquet archive instead of querying adapters")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if fs.NArg() < 1 || *venue == "" {
		fmt.Fprintln(os.Stderr, "usage: check-symbol -venue VENUE [-type TYPE] [-country C] [-each|-archived] SYMBOL [FROM] [TO]")
		return 1
	}
	_ = godotenv.Load()

	cfgPath := "config/candlesync.yaml"
	if p := os.Getenv("CANDLESYNC_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Default()
	}
	util.SetDefault(util.NewLoggerTo(os.Stderr, "warn", "text"))

	inst := domain.Instrument{
		Symbol:  strings.ToUpper(fs.Arg(0)),
		Venue:   domain.Venue(strings.ToUpper(*venue)),
		Type:    domain.InstrumentType(strings.ToUpper(*typ)),
		Country: *country,
		Active:  true,
	}
	if inst.Type == "" && inst.Venue == domain.VenueBinance {
		inst.Type = domain.TypeSpot
	}

	cal := util.NewTradingCalendar(cfg.SettlementDelays())
	w := gather.DateRange{
		Start: cal.CutoffDate(inst.Class(), cal.Now()).AddDate(0, 0, -9),
		End:   cal.CutoffDate(inst.Class(), cal.Now()),
	}
	for i, dst := range []*time.Time{&w.Start, &w.End} {
		if fs.NArg() <= i+1 {
			break
		}
		d, err := time.Parse(domain.DateLayout, fs.Arg(i+1))
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad date %q: %v\n", fs.Arg(i+1), err)
			return 1
		}
		*dst = d
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var resolver *fx.Resolver
	if st, err := store.OpenSQLStore(cfg.Storage.Driver, cfg.Storage.DSN, cfg.Storage.Timeout); err == nil {
		defer st.Close()
		resolver = fx.NewResolver(st, cfg.FX.USDPegged)
		if err := resolver.Refresh(ctx); err != nil {
			resolver = nil
		}
	}

	fmt.Printf("=== %s %s/%s (%s) %s ===\n\n", inst.Symbol, inst.Venue, inst.Type, inst.Class(), w)

	if *archived {
		if cfg.Archive.Dir == "" {
			fmt.Println("no archive directory configured")
			return 1
		}
		candles, err := store.NewParquetStore(cfg.Archive.Dir, nil).ReadCandles(inst.Class(), inst.Symbol, w.Start, w.End)
		if err != nil {
			fmt.Printf("reading archive: %v\n", err)
			return 1
		}
		fmt.Printf("--- archive %s: %d candles ---\n", cfg.Archive.Dir, len(candles))
		printCandles(ctx, resolver, inst, candles)
		return 0
	}

	adapters := app.Adapters(cfg)
	orch := gather.NewOrchestrator(adapters, app.Chains(cfg), app.RetryPolicy(cfg), cfg.Collection.FetchTimeout, nil)
	chain := orch.Chain(inst.Class())
	if len(chain) == 0 {
		fmt.Println("no adapters configured for this class")
		return 1
	}

	if !*each {
		res, err := orch.Fetch(ctx, inst, w)
		if err != nil {
			fmt.Printf("cancelled: %v\n", err)
			return 1
		}
		for _, f := range res.Failures {
			fmt.Printf("  %-16s %s\n", source.KindOf(f), f)
		}
		if res.Outcome == store.OutcomeNoData {
			fmt.Printf("\nno data from chain %v (%d attempts)\n", chain, res.Attempts)
			return 0
		}
		fmt.Printf("\n--- %s: %d candles (%d attempts) ---\n", res.Source, len(res.Candles), res.Attempts)
		printCandles(ctx, resolver, inst, res.Candles)
		return 0
	}

	byName := make(map[string]source.Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	for _, name := range chain {
		candles, err := byName[name].Fetch(ctx, inst, w)
		if err != nil {
			fmt.Printf("--- %s: %s ---\n  %v\n\n", name, source.KindOf(err), err)
			continue
		}
		fmt.Printf("--- %s: %d candles ---\n", name, len(candles))
		printCandles(ctx, resolver, inst, candles)
		fmt.Println()
	}
	return 0
}

func printCandles(ctx context.Context, r *fx.Resolver, inst domain.Instrument, candles []domain.Candle) {
	fmt.Printf("  %-10s %12s %12s %12s %12s %16s %14s\n", "date", "open", "high", "low", "close", "volume", "close_usd")
	for _, c := range candles {
		usd := "-"
		if r != nil {
			if v, err := r.Convert(ctx, inst, c.Close); err == nil {
				usd = fmt.Sprintf("%.6f", v)
			} else {
				slog.Debug("conversion failed", "err", err)
			}
		}
		fmt.Printf("  %-10s %12.6f %12.6f %12.6f %12.6f %16.2f %14s\n",
			c.Date.Format(domain.DateLayout), c.Open, c.High, c.Low, c.Close, c.Volume, usd)
	}
}
