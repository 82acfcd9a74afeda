package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the position lifecycle state. The OPEN to CLOSED transition is
// one-way.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Position is one open or closed trade.
type Position struct {
	ID     uuid.UUID `json:"id"`
	Symbol string    `json:"symbol"`

	// Quantity is signed: positive long, negative short. Never zero while
	// open.
	Quantity int64 `json:"quantity"`

	EntryPrice decimal.Decimal `json:"entry_price"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	EntryTime  time.Time       `json:"entry_time"`

	// MaxFavorableExcursion is the best unrealized-profit percentage seen
	// since entry; monotonically non-decreasing while open.
	MaxFavorableExcursion float64 `json:"max_favorable_excursion"`

	// LastMarkPrice is the most recent mark-to-market price, zero until the
	// first mark.
	LastMarkPrice decimal.Decimal `json:"last_mark_price"`

	StrategyTag string `json:"strategy_tag,omitempty"`
	SectorTag   string `json:"sector_tag,omitempty"`

	Status      Status          `json:"status"`
	ExitReason  string          `json:"exit_reason,omitempty"`
	ExitPrice   decimal.Decimal `json:"exit_price,omitempty"`
	ExitTime    time.Time       `json:"exit_time,omitempty"`
	RealizedPnL decimal.Decimal `json:"realized_pnl,omitempty"`
}

// CostBasis is entry price times absolute quantity, the cash escrowed while
// the position is open.
func (p Position) CostBasis() decimal.Decimal {
	return p.EntryPrice.Mul(decimal.NewFromInt(absInt64(p.Quantity)))
}

// UnrealizedPnL is the sign-correct open profit at the given price:
// (price - entry) * quantity.
func (p Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	return price.Sub(p.EntryPrice).Mul(decimal.NewFromInt(p.Quantity))
}

// UnrealizedPnLPct is the open profit as a percentage of cost basis,
// sign-correct for shorts. Zero when the position has no cost basis.
func (p Position) UnrealizedPnLPct(price decimal.Decimal) float64 {
	basis := p.CostBasis()
	if basis.Sign() <= 0 {
		return 0
	}
	pct, _ := p.UnrealizedPnL(price).Div(basis).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// HeldFor reports how long the position has been open as of now.
func (p Position) HeldFor(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
