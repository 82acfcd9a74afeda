// Package ledger is the authoritative in-memory record of cash, open
// positions, and realized PnL. All mutations are serialized behind one lock
// and checked against the reconciliation identity
//
//	cash + sum(open cost basis) - realized_pnl_total == initial_capital
//
// A violation means a bookkeeping bug, not a transient condition: the ledger
// latches halted and rejects further mutations until an operator clears it.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/riskcore/internal/metrics"
)

var (
	// ErrInsufficientCash rejects an open whose cost basis exceeds cash.
	ErrInsufficientCash = errors.New("insufficient cash")

	// ErrDuplicateSymbol rejects an open while the symbol already has an
	// open position.
	ErrDuplicateSymbol = errors.New("open position already exists for symbol")

	// ErrUnknownSymbol rejects operations on symbols with no open position.
	ErrUnknownSymbol = errors.New("no open position for symbol")

	// ErrInvalidRequest rejects malformed open requests before any mutation.
	ErrInvalidRequest = errors.New("invalid open request")

	// ErrLedgerHalted rejects all mutations after a reconciliation failure.
	ErrLedgerHalted = errors.New("ledger halted pending reconciliation")
)

// ReconciliationError reports a violated accounting identity. It is fatal
// for automated mutations; the triggering mutation is rolled back so the
// last consistent state stays inspectable.
type ReconciliationError struct {
	Op       string
	Symbol   string
	Expected decimal.Decimal
	Actual   decimal.Decimal
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconciliation failed during %s(%s): books sum to %s, initial capital %s",
		e.Op, e.Symbol, e.Actual.String(), e.Expected.String())
}

// OpenRequest describes a proposed new position.
type OpenRequest struct {
	Symbol      string
	Quantity    int64
	Price       decimal.Decimal
	StopLoss    decimal.Decimal
	TakeProfit  decimal.Decimal
	StrategyTag string
	SectorTag   string
}

// Snapshot is an immutable point-in-time copy of the ledger, safe to hand to
// the snapshotter and read-only consumers without holding the ledger lock.
type Snapshot struct {
	TakenAt          time.Time           `json:"taken_at"`
	InitialCapital   decimal.Decimal     `json:"initial_capital"`
	Cash             decimal.Decimal     `json:"cash"`
	Open             map[string]Position `json:"open"`
	Closed           []Position          `json:"closed"`
	RealizedPnLTotal decimal.Decimal     `json:"realized_pnl_total"`
	TradeCount       int64               `json:"trade_count"`
	Halted           bool                `json:"halted"`
}

// OpenCount returns the number of open positions in the snapshot.
func (s Snapshot) OpenCount() int { return len(s.Open) }

// LosingFraction is the share of marked open positions currently under
// water. Positions never marked to market are excluded.
func (s Snapshot) LosingFraction() float64 {
	marked, losing := 0, 0
	for _, p := range s.Open {
		if p.LastMarkPrice.Sign() <= 0 {
			continue
		}
		marked++
		if p.UnrealizedPnL(p.LastMarkPrice).Sign() < 0 {
			losing++
		}
	}
	if marked == 0 {
		return 0
	}
	return float64(losing) / float64(marked)
}

// Ledger is the thread-safe aggregate root for cash and positions.
type Ledger struct {
	mu sync.Mutex

	initialCapital   decimal.Decimal
	cash             decimal.Decimal
	positions        map[string]*Position
	closed           []Position
	realizedPnLTotal decimal.Decimal
	tradeCount       int64
	halted           bool
}

// New creates a ledger with the given starting capital.
func New(initialCapital decimal.Decimal) *Ledger {
	return &Ledger{
		initialCapital: initialCapital,
		cash:           initialCapital,
		positions:      make(map[string]*Position),
	}
}

// Open atomically validates and books a new position: cash is debited by the
// cost basis and the position is inserted with zero favorable excursion.
func (l *Ledger) Open(req OpenRequest) (Position, error) {
	if req.Symbol == "" || req.Quantity == 0 || req.Price.Sign() <= 0 {
		return Position{}, fmt.Errorf("%w: symbol=%q quantity=%d price=%s",
			ErrInvalidRequest, req.Symbol, req.Quantity, req.Price.String())
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.halted {
		return Position{}, ErrLedgerHalted
	}
	if _, exists := l.positions[req.Symbol]; exists {
		return Position{}, fmt.Errorf("%w: %s", ErrDuplicateSymbol, req.Symbol)
	}

	pos := Position{
		ID:          uuid.New(),
		Symbol:      req.Symbol,
		Quantity:    req.Quantity,
		EntryPrice:  req.Price,
		StopLoss:    req.StopLoss,
		TakeProfit:  req.TakeProfit,
		EntryTime:   time.Now(),
		StrategyTag: req.StrategyTag,
		SectorTag:   req.SectorTag,
		Status:      StatusOpen,
	}

	cost := pos.CostBasis()
	if cost.GreaterThan(l.cash) {
		return Position{}, fmt.Errorf("%w: need %s, have %s",
			ErrInsufficientCash, cost.String(), l.cash.String())
	}

	l.cash = l.cash.Sub(cost)
	l.positions[req.Symbol] = &pos

	if err := l.reconcileLocked("open", req.Symbol); err != nil {
		l.cash = l.cash.Add(cost)
		delete(l.positions, req.Symbol)
		l.halted = true
		log.Error().Err(err).Str("symbol", req.Symbol).Msg("ledger halted")
		return Position{}, err
	}

	metrics.OpenPositions.Set(float64(len(l.positions)))
	return pos, nil
}

// MarkToMarket records the latest price for an open position, raising the
// max favorable excursion when exceeded. Cash and status are untouched.
func (l *Ledger) MarkToMarket(symbol string, price decimal.Decimal) error {
	if price.Sign() <= 0 {
		return fmt.Errorf("%w: non-positive mark price for %s", ErrInvalidRequest, symbol)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}

	pos.LastMarkPrice = price
	if pct := pos.UnrealizedPnLPct(price); pct > pos.MaxFavorableExcursion {
		pos.MaxFavorableExcursion = pct
	}
	return nil
}

// Close atomically settles an open position at exitPrice. Realized PnL is
// (exit - entry) * quantity, sign-correct for shorts; cash is credited with
// the cost basis plus that PnL (for a long this is exit price times
// quantity). A second Close on the same symbol fails with ErrUnknownSymbol.
func (l *Ledger) Close(symbol string, exitPrice decimal.Decimal, reason string) (decimal.Decimal, error) {
	if exitPrice.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: non-positive exit price for %s", ErrInvalidRequest, symbol)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.halted {
		return decimal.Zero, ErrLedgerHalted
	}
	pos, ok := l.positions[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}

	pnl := pos.UnrealizedPnL(exitPrice)
	credit := pos.CostBasis().Add(pnl)

	prevCash := l.cash
	prevPnL := l.realizedPnLTotal

	l.cash = l.cash.Add(credit)
	l.realizedPnLTotal = l.realizedPnLTotal.Add(pnl)
	l.tradeCount++
	delete(l.positions, symbol)

	closed := *pos
	closed.Status = StatusClosed
	closed.ExitReason = reason
	closed.ExitPrice = exitPrice
	closed.ExitTime = time.Now()
	closed.RealizedPnL = pnl
	l.closed = append(l.closed, closed)

	if err := l.reconcileLocked("close", symbol); err != nil {
		l.cash = prevCash
		l.realizedPnLTotal = prevPnL
		l.tradeCount--
		l.positions[symbol] = pos
		l.closed = l.closed[:len(l.closed)-1]
		l.halted = true
		log.Error().Err(err).Str("symbol", symbol).Msg("ledger halted")
		return decimal.Zero, err
	}

	metrics.OpenPositions.Set(float64(len(l.positions)))
	pnlF, _ := l.realizedPnLTotal.Float64()
	metrics.RealizedPnL.Set(pnlF)
	return pnl, nil
}

// Snapshot returns a consistent deep copy of the ledger. The lock is held
// only for the duration of the copy.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	open := make(map[string]Position, len(l.positions))
	for sym, pos := range l.positions {
		open[sym] = *pos
	}
	closed := make([]Position, len(l.closed))
	copy(closed, l.closed)

	return Snapshot{
		TakenAt:          time.Now(),
		InitialCapital:   l.initialCapital,
		Cash:             l.cash,
		Open:             open,
		Closed:           closed,
		RealizedPnLTotal: l.realizedPnLTotal,
		TradeCount:       l.tradeCount,
		Halted:           l.halted,
	}
}

// Restore replaces the ledger state from a snapshot, used on startup
// recovery. It fails if the snapshot itself does not reconcile.
func (l *Ledger) Restore(snap Snapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sum := snap.Cash
	for _, pos := range snap.Open {
		sum = sum.Add(pos.CostBasis())
	}
	sum = sum.Sub(snap.RealizedPnLTotal)
	if !sum.Equal(snap.InitialCapital) {
		return &ReconciliationError{Op: "restore", Expected: snap.InitialCapital, Actual: sum}
	}

	l.initialCapital = snap.InitialCapital
	l.cash = snap.Cash
	l.positions = make(map[string]*Position, len(snap.Open))
	for sym, pos := range snap.Open {
		p := pos
		l.positions[sym] = &p
	}
	l.closed = append([]Position(nil), snap.Closed...)
	l.realizedPnLTotal = snap.RealizedPnLTotal
	l.tradeCount = snap.TradeCount
	l.halted = snap.Halted

	metrics.OpenPositions.Set(float64(len(l.positions)))
	return nil
}

// Halted reports whether mutations are latched off.
func (l *Ledger) Halted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.halted
}

// ClearHalt re-enables mutations after a human has reconciled state.
func (l *Ledger) ClearHalt() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.halted = false
	log.Warn().Msg("ledger halt cleared by operator")
}

// reconcileLocked verifies the accounting identity. Callers hold l.mu.
func (l *Ledger) reconcileLocked(op, symbol string) error {
	sum := l.cash
	for _, pos := range l.positions {
		sum = sum.Add(pos.CostBasis())
	}
	sum = sum.Sub(l.realizedPnLTotal)

	if !sum.Equal(l.initialCapital) {
		return &ReconciliationError{Op: op, Symbol: symbol, Expected: l.initialCapital, Actual: sum}
	}
	return nil
}
