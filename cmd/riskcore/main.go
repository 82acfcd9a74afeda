package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/sawpanic/riskcore/internal/config"
	"github.com/sawpanic/riskcore/internal/exits"
	"github.com/sawpanic/riskcore/internal/gates"
	"github.com/sawpanic/riskcore/internal/httpapi"
	"github.com/sawpanic/riskcore/internal/ledger"
	"github.com/sawpanic/riskcore/internal/market"
	"github.com/sawpanic/riskcore/internal/marketdata"
	"github.com/sawpanic/riskcore/internal/marketdata/breaker"
	"github.com/sawpanic/riskcore/internal/marketdata/ratelimit"
	"github.com/sawpanic/riskcore/internal/monitor"
	"github.com/sawpanic/riskcore/internal/persistence"
)

const (
	appName = "riskcore"
	version = "v0.3.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Position and risk core for the trading engine",
		Version: version,
	}

	var (
		configPath string
		simulate   bool
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the monitoring loop and status server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath, simulate)
		},
	}
	runCmd.Flags().StringVar(&configPath, "config", "", "path to the yaml config (defaults apply when empty)")
	runCmd.Flags().BoolVar(&simulate, "simulate", false, "use a random-walk quote source instead of a broker")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(*cobra.Command, []string) {
			fmt.Printf("%s %s\n", appName, version)
		},
	}

	rootCmd.AddCommand(runCmd, versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, simulate bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if !simulate {
		return fmt.Errorf("no broker adapter wired; pass --simulate for a dry run")
	}
	raw := simulatedSource()

	var cache marketdata.QuoteCache
	switch cfg.Cache.Backend {
	case "redis":
		cache = marketdata.NewRedisCache(cfg.Cache.Redis)
	default:
		cache = marketdata.NewMemoryCache(cfg.Cache.Capacity)
	}

	limiter := ratelimit.New(cfg.Limiter.RPS, cfg.Limiter.Burst)
	brk := breaker.New(cfg.BreakerSettings())
	fetcher := marketdata.NewFetcher(cfg.FetcherSettings(), raw, cache, limiter, brk)

	var store persistence.SnapshotStore
	switch cfg.Store.Backend {
	case "postgres":
		pg, err := persistence.NewPostgresStore(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		store = pg
	default:
		store = persistence.NewMemoryStore(cfg.Store.Keep)
	}

	book := ledger.New(decimal.NewFromFloat(cfg.InitialCapital))
	if snap, ok, err := store.Load(ctx); err != nil {
		return fmt.Errorf("load last snapshot: %w", err)
	} else if ok {
		if err := book.Restore(snap); err != nil {
			return fmt.Errorf("restore last snapshot: %w", err)
		}
		log.Info().
			Time("taken_at", snap.TakenAt).
			Int("open", snap.OpenCount()).
			Msg("ledger restored from snapshot")
	}

	engine := exits.NewEngine(cfg.Exits)
	loop := monitor.New(monitor.Config{
		Interval:      cfg.MonitorInterval(),
		CycleBudget:   cfg.CycleBudget(),
		SnapshotEvery: cfg.Monitor.SnapshotEvery,
	}, fetcher, book, engine, store, nil)

	server := httpapi.NewServer(cfg.HTTP.ListenAddr, book, brk, limiter)
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("status server failed")
		}
	}()

	// The simulated feed proposes entries through the gate so a dry run
	// exercises the whole open/mark/exit pipeline.
	go simulatedEntries(ctx, cfg, book, fetcher)

	err = loop.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		log.Warn().Err(serr).Msg("status server shutdown")
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// simulatedEntries proposes one random entry per monitor interval, runs it
// through the quality gate, and opens approved positions.
func simulatedEntries(ctx context.Context, cfg config.Config, book *ledger.Ledger, quotes *marketdata.Fetcher) {
	universe := []string{"AAPL", "MSFT", "NVDA", "AMZN", "GOOG", "META", "TSLA", "AMD"}
	gate := gates.NewGate(cfg.GateSettings())
	hist := gates.NewEntryHistory()
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + 1))

	ticker := time.NewTicker(cfg.MonitorInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now()
		sig := gates.Signal{
			Symbol:     universe[rng.Intn(len(universe))],
			Confidence: 40 + rng.Float64()*60,
			Direction:  gates.DirectionLong,
			Kind:       gates.StrategyMomentum,
		}
		cond := market.Conditions{
			VolatilityRegime: market.RegimeNormal,
			TrendStrength:    rng.Float64()*2 - 1,
			HourOfDay:        now.Hour(),
		}

		res := gate.Approve(sig, cond, book.Snapshot(), hist, now)
		if !res.Approved {
			log.Debug().Str("symbol", sig.Symbol).Str("reason", res.Reason).Msg("entry rejected")
			continue
		}

		q, ok := quotes.GetQuotes(ctx, []string{sig.Symbol})[sig.Symbol]
		if !ok || q.Unavailable {
			continue
		}
		if _, err := book.Open(ledger.OpenRequest{
			Symbol:      sig.Symbol,
			Quantity:    100,
			Price:       q.Price,
			StrategyTag: sig.Kind.String(),
		}); err != nil {
			log.Warn().Err(err).Str("symbol", sig.Symbol).Msg("entry not booked")
			continue
		}
		hist.Record(sig.Symbol, now)
		log.Info().Str("symbol", sig.Symbol).Float64("score", res.Score).Msg("entry booked")
	}
}

// simulatedSource prices every symbol on an independent random walk around
// 100. Good enough to exercise the whole pipeline without a broker.
func simulatedSource() marketdata.RawFetchFunc {
	var mu sync.Mutex
	prices := map[string]float64{}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	return func(_ context.Context, symbols []string) (map[string]marketdata.RawQuote, error) {
		mu.Lock()
		defer mu.Unlock()

		out := make(map[string]marketdata.RawQuote, len(symbols))
		for _, sym := range symbols {
			p, ok := prices[sym]
			if !ok {
				p = 100
			}
			p *= 1 + (rng.Float64()-0.5)*0.02
			prices[sym] = p
			out[sym] = marketdata.RawQuote{
				Price:    decimal.NewFromFloat(p),
				Exchange: "sim",
			}
		}
		return out, nil
	}
}
