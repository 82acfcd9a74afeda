package ledger

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func reconciles(t *testing.T, l *Ledger) {
	t.Helper()
	snap := l.Snapshot()
	sum := snap.Cash
	for _, pos := range snap.Open {
		sum = sum.Add(pos.CostBasis())
	}
	sum = sum.Sub(snap.RealizedPnLTotal)
	assert.True(t, sum.Equal(snap.InitialCapital),
		"books sum to %s, initial capital %s", sum, snap.InitialCapital)
}

func TestLedger_OpenDebitsCash(t *testing.T) {
	l := New(dec(1_000_000))

	pos, err := l.Open(OpenRequest{
		Symbol: "X", Quantity: 75, Price: dec(200),
		StopLoss: dec(180), TakeProfit: dec(260),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusOpen, pos.Status)
	assert.Zero(t, pos.MaxFavorableExcursion)

	snap := l.Snapshot()
	assert.True(t, snap.Cash.Equal(dec(985_000)), "cash = %s", snap.Cash)
	reconciles(t, l)
}

func TestLedger_OpenRejectsDuplicateSymbol(t *testing.T) {
	l := New(dec(100_000))
	_, err := l.Open(OpenRequest{Symbol: "X", Quantity: 10, Price: dec(100)})
	require.NoError(t, err)

	_, err = l.Open(OpenRequest{Symbol: "X", Quantity: 5, Price: dec(90)})
	assert.ErrorIs(t, err, ErrDuplicateSymbol)

	snap := l.Snapshot()
	assert.True(t, snap.Cash.Equal(dec(99_000)), "rejected open must not mutate cash")
}

func TestLedger_OpenRejectsInsufficientCash(t *testing.T) {
	l := New(dec(1_000))
	_, err := l.Open(OpenRequest{Symbol: "X", Quantity: 11, Price: dec(100)})
	assert.ErrorIs(t, err, ErrInsufficientCash)

	snap := l.Snapshot()
	assert.True(t, snap.Cash.Equal(dec(1_000)))
	assert.Zero(t, snap.OpenCount())
}

func TestLedger_OpenRejectsInvalidRequests(t *testing.T) {
	l := New(dec(1_000))

	_, err := l.Open(OpenRequest{Symbol: "", Quantity: 1, Price: dec(1)})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = l.Open(OpenRequest{Symbol: "X", Quantity: 0, Price: dec(1)})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = l.Open(OpenRequest{Symbol: "X", Quantity: 1, Price: decimal.Zero})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestLedger_CloseScenarioArithmetic(t *testing.T) {
	// Capital 1,000,000; long 75 @ 200; exit at 180.
	l := New(dec(1_000_000))
	_, err := l.Open(OpenRequest{Symbol: "X", Quantity: 75, Price: dec(200)})
	require.NoError(t, err)

	pnl, err := l.Close("X", dec(180), "smart_stop")
	require.NoError(t, err)

	assert.True(t, pnl.Equal(dec(-1_500)), "pnl = %s", pnl)

	snap := l.Snapshot()
	assert.True(t, snap.Cash.Equal(dec(998_500)), "cash = %s", snap.Cash)
	assert.True(t, snap.RealizedPnLTotal.Equal(dec(-1_500)))
	assert.Equal(t, int64(1), snap.TradeCount)
	assert.Zero(t, snap.OpenCount())
	require.Len(t, snap.Closed, 1)
	assert.Equal(t, StatusClosed, snap.Closed[0].Status)
	assert.Equal(t, "smart_stop", snap.Closed[0].ExitReason)
	reconciles(t, l)
}

func TestLedger_CloseShortIsSignCorrect(t *testing.T) {
	l := New(dec(10_000))
	_, err := l.Open(OpenRequest{Symbol: "S", Quantity: -10, Price: dec(100)})
	require.NoError(t, err)

	// Short 10 @ 100, cover at 90: pnl = (90-100)*(-10) = +100.
	pnl, err := l.Close("S", dec(90), "take_profit")
	require.NoError(t, err)
	assert.True(t, pnl.Equal(dec(100)), "pnl = %s", pnl)

	snap := l.Snapshot()
	assert.True(t, snap.Cash.Equal(dec(10_100)), "cash = %s", snap.Cash)
	reconciles(t, l)
}

func TestLedger_CloseIsIdempotentOnFailure(t *testing.T) {
	l := New(dec(10_000))
	_, err := l.Open(OpenRequest{Symbol: "X", Quantity: 10, Price: dec(100)})
	require.NoError(t, err)

	_, err = l.Close("X", dec(110), "profit")
	require.NoError(t, err)
	cashAfter := l.Snapshot().Cash

	// Second close must fail and must not double-credit cash.
	_, err = l.Close("X", dec(110), "profit")
	assert.ErrorIs(t, err, ErrUnknownSymbol)
	assert.True(t, l.Snapshot().Cash.Equal(cashAfter))
	assert.Equal(t, int64(1), l.Snapshot().TradeCount)
}

func TestLedger_CloseUnknownSymbol(t *testing.T) {
	l := New(dec(10_000))
	_, err := l.Close("GHOST", dec(10), "whatever")
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestLedger_MarkToMarketRaisesMFEMonotonically(t *testing.T) {
	l := New(dec(100_000))
	_, err := l.Open(OpenRequest{Symbol: "X", Quantity: 100, Price: dec(100)})
	require.NoError(t, err)

	require.NoError(t, l.MarkToMarket("X", dec(110)))
	snap := l.Snapshot()
	assert.InDelta(t, 10.0, snap.Open["X"].MaxFavorableExcursion, 1e-9)

	// A lower mark updates the last price but never lowers the excursion.
	require.NoError(t, l.MarkToMarket("X", dec(95)))
	snap = l.Snapshot()
	assert.InDelta(t, 10.0, snap.Open["X"].MaxFavorableExcursion, 1e-9)
	assert.True(t, snap.Open["X"].LastMarkPrice.Equal(dec(95)))

	// Cash is untouched by marking.
	assert.True(t, snap.Cash.Equal(dec(90_000)))
}

func TestLedger_MarkToMarketShortExcursion(t *testing.T) {
	l := New(dec(100_000))
	_, err := l.Open(OpenRequest{Symbol: "S", Quantity: -100, Price: dec(100)})
	require.NoError(t, err)

	// Price drop is favorable for a short.
	require.NoError(t, l.MarkToMarket("S", dec(90)))
	snap := l.Snapshot()
	assert.InDelta(t, 10.0, snap.Open["S"].MaxFavorableExcursion, 1e-9)
}

func TestLedger_InvariantHoldsAcrossRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	l := New(dec(1_000_000))
	open := map[string]bool{}

	for i := 0; i < 500; i++ {
		sym := string(rune('A' + rng.Intn(12)))
		if open[sym] {
			exit := dec(int64(50 + rng.Intn(150)))
			_, err := l.Close(sym, exit, "cycle")
			require.NoError(t, err)
			delete(open, sym)
		} else {
			qty := int64(rng.Intn(40) + 1)
			if rng.Intn(2) == 0 {
				qty = -qty
			}
			_, err := l.Open(OpenRequest{Symbol: sym, Quantity: qty, Price: dec(int64(50 + rng.Intn(150)))})
			if err == nil {
				open[sym] = true
			} else {
				require.ErrorIs(t, err, ErrInsufficientCash)
			}
		}
		reconciles(t, l)
	}
}

func TestLedger_ConcurrentMutationsStayConsistent(t *testing.T) {
	l := New(dec(10_000_000))
	symbols := []string{"A", "B", "C", "D", "E", "F", "G", "H"}

	var wg sync.WaitGroup
	for _, sym := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if _, err := l.Open(OpenRequest{Symbol: sym, Quantity: 10, Price: dec(100)}); err != nil {
					continue
				}
				_ = l.MarkToMarket(sym, dec(105))
				_, _ = l.Close(sym, dec(int64(90+i%20)), "cycle")
			}
		}(sym)
	}
	wg.Wait()

	reconciles(t, l)
	assert.Zero(t, l.Snapshot().OpenCount())
}

func TestLedger_ReconciliationFailureHaltsMutations(t *testing.T) {
	l := New(dec(10_000))
	_, err := l.Open(OpenRequest{Symbol: "X", Quantity: 10, Price: dec(100)})
	require.NoError(t, err)

	// Corrupt the books to simulate a bookkeeping bug.
	l.mu.Lock()
	l.cash = l.cash.Add(dec(1))
	l.mu.Unlock()

	_, err = l.Close("X", dec(100), "cycle")
	var recErr *ReconciliationError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, "close", recErr.Op)

	// The failed close rolled back: the position is still open.
	assert.Equal(t, 1, l.Snapshot().OpenCount())
	assert.True(t, l.Halted())

	// All further mutations are rejected until an operator intervenes.
	_, err = l.Open(OpenRequest{Symbol: "Y", Quantity: 1, Price: dec(10)})
	assert.ErrorIs(t, err, ErrLedgerHalted)
	_, err = l.Close("X", dec(100), "cycle")
	assert.ErrorIs(t, err, ErrLedgerHalted)

	// Clearing the halt (after fixing the books) re-enables mutations.
	l.mu.Lock()
	l.cash = l.cash.Sub(dec(1))
	l.mu.Unlock()
	l.ClearHalt()
	_, err = l.Close("X", dec(100), "cycle")
	assert.NoError(t, err)
}

func TestLedger_SnapshotIsIsolatedFromMutations(t *testing.T) {
	l := New(dec(100_000))
	_, err := l.Open(OpenRequest{Symbol: "X", Quantity: 10, Price: dec(100)})
	require.NoError(t, err)

	snap := l.Snapshot()
	_, err = l.Close("X", dec(120), "profit")
	require.NoError(t, err)

	// The snapshot still shows the pre-close world.
	assert.Equal(t, 1, snap.OpenCount())
	assert.True(t, snap.Cash.Equal(dec(99_000)))
}

func TestLedger_RestoreRoundTrip(t *testing.T) {
	l := New(dec(100_000))
	_, err := l.Open(OpenRequest{Symbol: "X", Quantity: 10, Price: dec(100)})
	require.NoError(t, err)
	_, err = l.Open(OpenRequest{Symbol: "Y", Quantity: -5, Price: dec(50)})
	require.NoError(t, err)
	_, err = l.Close("Y", dec(40), "profit")
	require.NoError(t, err)

	snap := l.Snapshot()

	restored := New(decimal.Zero)
	require.NoError(t, restored.Restore(snap))
	got := restored.Snapshot()

	assert.True(t, got.Cash.Equal(snap.Cash))
	assert.Equal(t, snap.OpenCount(), got.OpenCount())
	assert.True(t, got.RealizedPnLTotal.Equal(snap.RealizedPnLTotal))
	assert.Equal(t, snap.TradeCount, got.TradeCount)
	reconciles(t, restored)
}

func TestLedger_RestoreRejectsInconsistentSnapshot(t *testing.T) {
	l := New(dec(100_000))
	_, err := l.Open(OpenRequest{Symbol: "X", Quantity: 10, Price: dec(100)})
	require.NoError(t, err)

	snap := l.Snapshot()
	snap.Cash = snap.Cash.Add(dec(5)) // corrupt

	restored := New(decimal.Zero)
	err = restored.Restore(snap)
	var recErr *ReconciliationError
	assert.ErrorAs(t, err, &recErr)
}

func TestSnapshot_LosingFraction(t *testing.T) {
	l := New(dec(100_000))
	_, err := l.Open(OpenRequest{Symbol: "W", Quantity: 10, Price: dec(100)})
	require.NoError(t, err)
	_, err = l.Open(OpenRequest{Symbol: "L", Quantity: 10, Price: dec(100)})
	require.NoError(t, err)
	_, err = l.Open(OpenRequest{Symbol: "U", Quantity: 10, Price: dec(100)})
	require.NoError(t, err)

	require.NoError(t, l.MarkToMarket("W", dec(110)))
	require.NoError(t, l.MarkToMarket("L", dec(90)))
	// U never marked: excluded from the fraction.

	assert.InDelta(t, 0.5, l.Snapshot().LosingFraction(), 1e-9)
}
