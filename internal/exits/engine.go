// Package exits scores open positions once per monitoring cycle and decides
// whether each should close. The engine is pure with respect to the ledger:
// it returns decisions, and applying a decision is the caller's job.
package exits

import (
	"sort"
	"time"

	"github.com/sawpanic/riskcore/internal/ledger"
	"github.com/sawpanic/riskcore/internal/market"
	"github.com/sawpanic/riskcore/internal/marketdata"
)

// Urgency bands an exit decision by score.
type Urgency string

const (
	UrgencyLow    Urgency = "LOW"
	UrgencyMedium Urgency = "MEDIUM"
	UrgencyHigh   Urgency = "HIGH"
)

// Decision is the exit evaluation outcome for one position. It never mutates
// the ledger.
type Decision struct {
	Symbol           string    `json:"symbol"`
	ShouldExit       bool      `json:"should_exit"`
	Score            float64   `json:"score"`
	Reasons          []string  `json:"reasons"`
	Urgency          Urgency   `json:"urgency"`
	UnrealizedPnLPct float64   `json:"unrealized_pnl_pct"`
	HoursHeld        float64   `json:"hours_held"`
	EvaluatedAt      time.Time `json:"evaluated_at"`
}

// PortfolioStats carries the cross-position context needed by the
// portfolio-cleanup rule.
type PortfolioStats struct {
	// OpenPositions is the current open-position count.
	OpenPositions int

	// WeakestRank ranks this position by unrealized PnL, 1 = worst.
	// Zero means unranked.
	WeakestRank int
}

// Config holds every rule threshold. All values are tunable; defaults mirror
// production settings, not hard requirements.
type Config struct {
	ExitScoreThreshold float64 `yaml:"exit_score_threshold"`
	MediumUrgencyScore float64 `yaml:"medium_urgency_score"`
	HighUrgencyScore   float64 `yaml:"high_urgency_score"`

	// Quick-profit rule
	QuickProfitPct          float64 `yaml:"quick_profit_pct"`
	QuickProfitMaxHoldHours float64 `yaml:"quick_profit_max_hold_hours"`
	SlowProfitPct           float64 `yaml:"slow_profit_pct"`
	SlowProfitMinHoldHours  float64 `yaml:"slow_profit_min_hold_hours"`

	// Trailing-giveback rule
	GivebackTriggerPct float64 `yaml:"giveback_trigger_pct"`
	GivebackFloorPct   float64 `yaml:"giveback_floor_pct"`

	// Time-decay rule
	DecayHorizonHours float64 `yaml:"decay_horizon_hours"`

	// Smart-stop rule
	SoftStopPct      float64 `yaml:"soft_stop_pct"`       // e.g. -3
	StopOverridePct  float64 `yaml:"stop_override_pct"`   // hold exceptions void at/beyond, e.g. -10
	JustEnteredHours float64 `yaml:"just_entered_hours"`  // hold exception window
	StrongTrendMin   float64 `yaml:"strong_trend_min"`    // favorable-trend exception floor

	// Portfolio-cleanup rule
	CleanupPositionCeiling int `yaml:"cleanup_position_ceiling"`
	CleanupWeakestCount    int `yaml:"cleanup_weakest_count"`
}

// DefaultConfig returns production exit settings.
func DefaultConfig() Config {
	return Config{
		ExitScoreThreshold: 60,
		MediumUrgencyScore: 75,
		HighUrgencyScore:   90,

		QuickProfitPct:          15,
		QuickProfitMaxHoldHours: 24,
		SlowProfitPct:           8,
		SlowProfitMinHoldHours:  48,

		GivebackTriggerPct: 20,
		GivebackFloorPct:   10,

		DecayHorizonHours: 72,

		SoftStopPct:      -3,
		StopOverridePct:  -10,
		JustEnteredHours: 2,
		StrongTrendMin:   0.6,

		CleanupPositionCeiling: 15,
		CleanupWeakestCount:    3,
	}
}

// Engine scores positions against the configured exit rules.
type Engine struct {
	cfg Config
}

// NewEngine creates an exit engine; a zero config falls back to defaults.
func NewEngine(cfg Config) *Engine {
	if cfg.ExitScoreThreshold <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{cfg: cfg}
}

type contribution struct {
	rule   string
	points float64
}

// Evaluate scores one open position against a fresh quote. When the quote is
// unavailable it emits no decision for this cycle: the second return is
// false and the position is neither held nor exited by default.
func (e *Engine) Evaluate(pos ledger.Position, quote marketdata.Quote, cond market.Conditions, stats PortfolioStats, now time.Time) (Decision, bool) {
	if quote.Unavailable || quote.Price.Sign() <= 0 {
		return Decision{}, false
	}

	pnlPct := pos.UnrealizedPnLPct(quote.Price)
	heldHours := pos.HeldFor(now).Hours()

	contribs := []contribution{
		{"quick_profit", e.quickProfit(pnlPct, heldHours)},
		{"trailing_giveback", e.trailingGiveback(pos.MaxFavorableExcursion, pnlPct)},
		{"time_decay", e.timeDecay(heldHours, pnlPct)},
		{"smart_stop", e.smartStop(pnlPct, heldHours, pos.Quantity, cond)},
		{"portfolio_cleanup", e.portfolioCleanup(pnlPct, stats)},
	}

	total := 0.0
	active := contribs[:0]
	for _, c := range contribs {
		if c.points > 0 {
			total += c.points
			active = append(active, c)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].points > active[j].points })

	reasons := make([]string, 0, len(active))
	for _, c := range active {
		reasons = append(reasons, c.rule)
	}

	d := Decision{
		Symbol:           pos.Symbol,
		Score:            total,
		Reasons:          reasons,
		ShouldExit:       total >= e.cfg.ExitScoreThreshold,
		UnrealizedPnLPct: pnlPct,
		HoursHeld:        heldHours,
		EvaluatedAt:      now,
	}
	switch {
	case total >= e.cfg.HighUrgencyScore:
		d.Urgency = UrgencyHigh
	case total >= e.cfg.MediumUrgencyScore:
		d.Urgency = UrgencyMedium
	default:
		d.Urgency = UrgencyLow
	}
	return d, true
}

// quickProfit rewards locking in a large gain reached quickly; a smaller
// gain sustained over a long window earns a smaller contribution.
func (e *Engine) quickProfit(pnlPct, heldHours float64) float64 {
	if pnlPct >= e.cfg.QuickProfitPct && heldHours <= e.cfg.QuickProfitMaxHoldHours {
		return clamp(60+(pnlPct-e.cfg.QuickProfitPct)*2, 0, 100)
	}
	if pnlPct >= e.cfg.SlowProfitPct && heldHours >= e.cfg.SlowProfitMinHoldHours {
		return 30
	}
	return 0
}

// trailingGiveback fires when a position that reached a large favorable
// excursion has fallen back below the floor: lock in gains before they
// evaporate.
func (e *Engine) trailingGiveback(mfePct, pnlPct float64) float64 {
	if mfePct >= e.cfg.GivebackTriggerPct && pnlPct <= e.cfg.GivebackFloorPct {
		return clamp(50+(mfePct-pnlPct)*2, 0, 100)
	}
	return 0
}

// timeDecay accrues risk the longer a position is held past its horizon,
// faster when it is under water.
func (e *Engine) timeDecay(heldHours, pnlPct float64) float64 {
	if heldHours < e.cfg.DecayHorizonHours {
		return 0
	}
	base := clamp(10+(heldHours-e.cfg.DecayHorizonHours)/24*5, 0, 40)
	if pnlPct < 0 {
		base = clamp(base*1.5, 0, 60)
	}
	return base
}

// smartStop contributes proportionally more as a loss deepens and ages,
// unless a hold exception applies: just entered, a volatile regime, or a
// strong trend in the position's favor. Exceptions are void once the loss
// passes the override threshold.
func (e *Engine) smartStop(pnlPct, heldHours float64, quantity int64, cond market.Conditions) float64 {
	if pnlPct > e.cfg.SoftStopPct {
		return 0
	}

	if pnlPct > e.cfg.StopOverridePct {
		if heldHours < e.cfg.JustEnteredHours {
			return 0
		}
		if cond.VolatilityRegime == market.RegimeVolatile {
			return 0
		}
		favorable := cond.TrendStrength
		if quantity < 0 {
			favorable = -favorable
		}
		if favorable >= e.cfg.StrongTrendMin {
			return 0
		}
	}

	depth := e.cfg.SoftStopPct - pnlPct // loss beyond the soft threshold
	age := clamp(heldHours/12*5, 0, 20)
	return clamp(40+depth*6+age, 0, 100)
}

// portfolioCleanup nudges the weakest performers out when the book is
// crowded past its ceiling.
func (e *Engine) portfolioCleanup(pnlPct float64, stats PortfolioStats) float64 {
	if stats.OpenPositions <= e.cfg.CleanupPositionCeiling {
		return 0
	}
	if stats.WeakestRank <= 0 || stats.WeakestRank > e.cfg.CleanupWeakestCount {
		return 0
	}
	if pnlPct >= 0 {
		return 0
	}
	return 15
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
