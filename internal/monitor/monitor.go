// Package monitor drives the evaluation loop: refresh quotes for every open
// position, mark the book, score exits, and apply the ones that fire. The
// loop owns all ledger mutations after entry; everything it calls is
// injected.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/riskcore/internal/exits"
	"github.com/sawpanic/riskcore/internal/ledger"
	"github.com/sawpanic/riskcore/internal/market"
	"github.com/sawpanic/riskcore/internal/marketdata"
	"github.com/sawpanic/riskcore/internal/metrics"
	"github.com/sawpanic/riskcore/internal/persistence"
)

// QuoteSource answers batched quote requests. *marketdata.Fetcher satisfies
// it; tests inject fakes.
type QuoteSource interface {
	GetQuotes(ctx context.Context, symbols []string) map[string]marketdata.Quote
}

// ConditionsFunc supplies the current market conditions for a cycle.
type ConditionsFunc func() market.Conditions

// Config sets the loop cadence.
type Config struct {
	// Interval between cycle starts.
	Interval time.Duration

	// CycleBudget bounds one cycle's wall clock via context deadline.
	CycleBudget time.Duration

	// SnapshotEvery saves a ledger snapshot every N completed cycles.
	// Zero or one snapshots every cycle.
	SnapshotEvery int
}

// DefaultConfig returns production loop settings.
func DefaultConfig() Config {
	return Config{
		Interval:      30 * time.Second,
		CycleBudget:   25 * time.Second,
		SnapshotEvery: 1,
	}
}

// CycleReport summarizes one completed cycle.
type CycleReport struct {
	StartedAt   time.Time        `json:"started_at"`
	Duration    time.Duration    `json:"duration"`
	OpenBefore  int              `json:"open_before"`
	Evaluated   int              `json:"evaluated"`
	Skipped     int              `json:"skipped"` // unavailable quotes
	Exited      int              `json:"exited"`
	Decisions   []exits.Decision `json:"decisions,omitempty"`
	Snapshotted bool             `json:"snapshotted"`
}

// Monitor runs the fixed-interval evaluation loop.
type Monitor struct {
	cfg        Config
	quotes     QuoteSource
	book       *ledger.Ledger
	engine     *exits.Engine
	store      persistence.SnapshotStore
	conditions ConditionsFunc

	cycles int
}

// New wires the loop. conditions may be nil, in which case every cycle runs
// under neutral market conditions.
func New(cfg Config, quotes QuoteSource, book *ledger.Ledger, engine *exits.Engine, store persistence.SnapshotStore, conditions ConditionsFunc) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.CycleBudget <= 0 {
		cfg.CycleBudget = def.CycleBudget
	}
	if cfg.SnapshotEvery <= 0 {
		cfg.SnapshotEvery = 1
	}
	if conditions == nil {
		conditions = market.Neutral
	}
	return &Monitor{
		cfg:        cfg,
		quotes:     quotes,
		book:       book,
		engine:     engine,
		store:      store,
		conditions: conditions,
	}
}

// Run executes cycles at the configured interval until ctx is cancelled. An
// in-flight cycle is drained before Run returns. A halted ledger stops the
// loop: there is nothing safe left to do without operator intervention.
func (m *Monitor) Run(ctx context.Context) error {
	log.Info().
		Dur("interval", m.cfg.Interval).
		Dur("cycle_budget", m.cfg.CycleBudget).
		Msg("monitor loop starting")

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := m.RunCycle(ctx); err != nil {
			if errors.Is(err, ledger.ErrLedgerHalted) {
				log.Error().Err(err).Msg("ledger halted, stopping monitor loop")
				return err
			}
			log.Error().Err(err).Msg("monitoring cycle finished with errors")
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("monitor loop stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle executes one cycle: fetch, mark, evaluate, apply, snapshot. It
// returns a report alongside any errors; partial progress still counts.
func (m *Monitor) RunCycle(ctx context.Context) (CycleReport, error) {
	start := time.Now()
	report := CycleReport{StartedAt: start}

	cctx, cancel := context.WithTimeout(ctx, m.cfg.CycleBudget)
	defer cancel()

	if m.book.Halted() {
		return report, fmt.Errorf("cycle skipped: %w", ledger.ErrLedgerHalted)
	}

	snap := m.book.Snapshot()
	report.OpenBefore = snap.OpenCount()

	symbols := make([]string, 0, len(snap.Open))
	for sym := range snap.Open {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var errs []error

	quotes := map[string]marketdata.Quote{}
	if len(symbols) > 0 {
		quotes = m.quotes.GetQuotes(cctx, symbols)
	}

	for _, sym := range symbols {
		q := quotes[sym]
		if q.Unavailable {
			continue
		}
		if err := m.book.MarkToMarket(sym, q.Price); err != nil {
			errs = append(errs, fmt.Errorf("mark %s: %w", sym, err))
		}
	}

	// Re-snapshot after marking so decisions see fresh excursion highs.
	snap = m.book.Snapshot()
	cond := m.conditions()
	ranks := weakestRanks(snap, quotes)

	for _, sym := range symbols {
		pos, ok := snap.Open[sym]
		if !ok {
			continue
		}
		q := quotes[sym]
		if q.Unavailable {
			report.Skipped++
			log.Warn().Str("symbol", sym).Msg("quote unavailable, holding position this cycle")
			continue
		}

		stats := exits.PortfolioStats{
			OpenPositions: snap.OpenCount(),
			WeakestRank:   ranks[sym],
		}
		decision, ok := m.engine.Evaluate(pos, q, cond, stats, start)
		if !ok {
			report.Skipped++
			continue
		}
		report.Evaluated++
		report.Decisions = append(report.Decisions, decision)

		if !decision.ShouldExit {
			continue
		}

		reason := strings.Join(decision.Reasons, ",")
		pnl, err := m.book.Close(sym, q.Price, reason)
		if err != nil {
			var rerr *ledger.ReconciliationError
			if errors.As(err, &rerr) || errors.Is(err, ledger.ErrLedgerHalted) {
				errs = append(errs, fmt.Errorf("close %s: %w", sym, err))
				log.Error().Err(err).Str("symbol", sym).Msg("ledger integrity failure, aborting cycle mutations")
				break
			}
			errs = append(errs, fmt.Errorf("close %s: %w", sym, err))
			continue
		}

		report.Exited++
		metrics.ExitsApplied.Inc()
		log.Info().
			Str("symbol", sym).
			Str("pnl", pnl.String()).
			Float64("score", decision.Score).
			Str("urgency", string(decision.Urgency)).
			Strs("reasons", decision.Reasons).
			Msg("exit applied")
	}

	final := m.book.Snapshot()
	metrics.OpenPositions.Set(float64(final.OpenCount()))
	metrics.RealizedPnL.Set(final.RealizedPnLTotal.InexactFloat64())

	m.cycles++
	if m.store != nil && m.cycles%m.cfg.SnapshotEvery == 0 {
		if err := m.store.Save(cctx, final); err != nil {
			errs = append(errs, fmt.Errorf("save snapshot: %w", err))
			log.Error().Err(err).Msg("snapshot save failed")
		} else {
			report.Snapshotted = true
		}
	}

	report.Duration = time.Since(start)
	metrics.CyclesTotal.Inc()
	metrics.CycleDuration.Observe(report.Duration.Seconds())

	return report, errors.Join(errs...)
}

// weakestRanks orders open positions by unrealized PnL percent ascending and
// assigns 1-based ranks; positions without a usable quote are unranked.
func weakestRanks(snap ledger.Snapshot, quotes map[string]marketdata.Quote) map[string]int {
	type entry struct {
		symbol string
		pnlPct float64
	}
	entries := make([]entry, 0, len(snap.Open))
	for sym, pos := range snap.Open {
		q, ok := quotes[sym]
		if !ok || q.Unavailable || q.Price.Sign() <= 0 {
			continue
		}
		entries = append(entries, entry{sym, pos.UnrealizedPnLPct(q.Price)})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].pnlPct != entries[j].pnlPct {
			return entries[i].pnlPct < entries[j].pnlPct
		}
		return entries[i].symbol < entries[j].symbol
	})

	ranks := make(map[string]int, len(entries))
	for i, e := range entries {
		ranks[e.symbol] = i + 1
	}
	return ranks
}
