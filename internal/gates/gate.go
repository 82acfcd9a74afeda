// Package gates throttles new positions: every proposed entry passes a
// quality gate before the ledger is touched. The gate is a pure decision
// function over the signal, market conditions, and a ledger snapshot.
package gates

import (
	"fmt"
	"sync"
	"time"

	"github.com/sawpanic/riskcore/internal/ledger"
	"github.com/sawpanic/riskcore/internal/market"
)

// StrategyKind is the closed set of strategies that can propose entries.
type StrategyKind int

const (
	StrategyMomentum StrategyKind = iota
	StrategyMeanReversion
	StrategyBreakout
	StrategyScalp
)

func (k StrategyKind) String() string {
	switch k {
	case StrategyMomentum:
		return "momentum"
	case StrategyMeanReversion:
		return "mean_reversion"
	case StrategyBreakout:
		return "breakout"
	case StrategyScalp:
		return "scalp"
	default:
		return "unknown"
	}
}

// Direction is the proposed trade direction.
type Direction int

const (
	DirectionLong  Direction = 1
	DirectionShort Direction = -1
)

// Signal is a proposed entry from the strategy signal source.
type Signal struct {
	Symbol      string       `json:"symbol"`
	Confidence  float64      `json:"confidence"` // 0-100
	Direction   Direction    `json:"direction"`
	Kind        StrategyKind `json:"kind"`
	StrategyTag string       `json:"strategy_tag,omitempty"`
	SectorTag   string       `json:"sector_tag,omitempty"`
}

// Result is the gate's verdict. It never mutates the ledger.
type Result struct {
	Approved bool    `json:"approved"`
	Reason   string  `json:"reason"`
	Score    float64 `json:"score"` // 0-100
}

// Config holds the gate thresholds.
type Config struct {
	MinConfidence      float64       `yaml:"min_confidence"`
	MaxOpenPositions   int           `yaml:"max_open_positions"`
	MaxReentries       int           `yaml:"max_reentries"`
	ReentryWindow      time.Duration `yaml:"-"`
	MaxLosingFraction  float64       `yaml:"max_losing_fraction"`
	OverrideConfidence float64       `yaml:"override_confidence"`
	MinScore           float64       `yaml:"min_score"`
}

// DefaultConfig returns production gate settings.
func DefaultConfig() Config {
	return Config{
		MinConfidence:      60,
		MaxOpenPositions:   20,
		MaxReentries:       2,
		ReentryWindow:      4 * time.Hour,
		MaxLosingFraction:  0.5,
		OverrideConfidence: 90,
		MinScore:           60,
	}
}

// EntryHistory tracks recent entry times per symbol for the re-entry rule.
// It is safe for concurrent use; old entries are pruned on access.
type EntryHistory struct {
	mu      sync.Mutex
	entries map[string][]time.Time
}

// NewEntryHistory creates an empty history.
func NewEntryHistory() *EntryHistory {
	return &EntryHistory{entries: make(map[string][]time.Time)}
}

// Record notes an accepted entry for symbol.
func (h *EntryHistory) Record(symbol string, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[symbol] = append(h.entries[symbol], at)
}

// CountSince reports entries for symbol at or after since, pruning older
// records.
func (h *EntryHistory) CountSince(symbol string, since time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := h.entries[symbol][:0]
	for _, at := range h.entries[symbol] {
		if !at.Before(since) {
			kept = append(kept, at)
		}
	}
	if len(kept) == 0 {
		delete(h.entries, symbol)
	} else {
		h.entries[symbol] = kept
	}
	return len(kept)
}

// Gate is the entry quality gate.
type Gate struct {
	cfg Config
}

// NewGate creates a gate; a zero config falls back to defaults.
func NewGate(cfg Config) *Gate {
	if cfg.MinScore <= 0 {
		cfg = DefaultConfig()
	}
	return &Gate{cfg: cfg}
}

// Approve decides whether the proposed entry may proceed. Hard rejections
// come first; surviving candidates are scored by confidence, trend alignment
// with the current regime, and time of day.
func (g *Gate) Approve(sig Signal, cond market.Conditions, snap ledger.Snapshot, hist *EntryHistory, now time.Time) Result {
	if sig.Confidence < g.cfg.MinConfidence {
		return Result{Reason: fmt.Sprintf("confidence %.1f below minimum %.1f", sig.Confidence, g.cfg.MinConfidence)}
	}

	if snap.OpenCount() >= g.cfg.MaxOpenPositions {
		return Result{Reason: fmt.Sprintf("open position ceiling reached (%d)", g.cfg.MaxOpenPositions)}
	}

	if hist != nil {
		recent := hist.CountSince(sig.Symbol, now.Add(-g.cfg.ReentryWindow))
		if recent >= g.cfg.MaxReentries {
			return Result{Reason: fmt.Sprintf("%s entered %d times within %s", sig.Symbol, recent, g.cfg.ReentryWindow)}
		}
	}

	if frac := snap.LosingFraction(); frac > g.cfg.MaxLosingFraction && sig.Confidence < g.cfg.OverrideConfidence {
		return Result{Reason: fmt.Sprintf("%.0f%% of open positions losing, throttling entries", frac*100)}
	}

	score := g.score(sig, cond)
	if score < g.cfg.MinScore {
		return Result{Score: score, Reason: fmt.Sprintf("quality score %.1f below minimum %.1f", score, g.cfg.MinScore)}
	}

	return Result{Approved: true, Score: score, Reason: "approved"}
}

// score rates a surviving candidate 0-100.
func (g *Gate) score(sig Signal, cond market.Conditions) float64 {
	// Confidence carries most of the weight.
	score := sig.Confidence * 0.6

	// Trend alignment with the current regime: a long in an up-trending
	// market (or a short in a down-trending one) earns up to 25 points.
	aligned := cond.TrendStrength * float64(sig.Direction)
	score += (aligned + 1) / 2 * 25

	// Mid-session entries are worth more than open/close churn.
	switch {
	case cond.HourOfDay >= 10 && cond.HourOfDay <= 14:
		score += 15
	case cond.HourOfDay == 9 || cond.HourOfDay == 15:
		score += 8
	}

	if score > 100 {
		score = 100
	}
	return score
}
