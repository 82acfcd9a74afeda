package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/riskcore/internal/exits"
	"github.com/sawpanic/riskcore/internal/ledger"
	"github.com/sawpanic/riskcore/internal/marketdata"
	"github.com/sawpanic/riskcore/internal/persistence"
)

// fakeQuotes serves canned quotes and records which symbols were requested.
type fakeQuotes struct {
	prices    map[string]decimal.Decimal
	requested [][]string
}

func (f *fakeQuotes) GetQuotes(_ context.Context, symbols []string) map[string]marketdata.Quote {
	f.requested = append(f.requested, append([]string(nil), symbols...))
	out := make(map[string]marketdata.Quote, len(symbols))
	for _, sym := range symbols {
		price, ok := f.prices[sym]
		if !ok {
			out[sym] = marketdata.Unavailable(sym)
			continue
		}
		out[sym] = marketdata.Quote{Symbol: sym, Price: price, FetchedAt: time.Now()}
	}
	return out
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newMonitor(t *testing.T, book *ledger.Ledger, quotes *fakeQuotes, store persistence.SnapshotStore) *Monitor {
	t.Helper()
	return New(Config{Interval: time.Minute, CycleBudget: 5 * time.Second}, quotes, book, exits.NewEngine(exits.DefaultConfig()), store, nil)
}

func openPosition(t *testing.T, book *ledger.Ledger, symbol string, qty int64, price int64) {
	t.Helper()
	_, err := book.Open(ledger.OpenRequest{Symbol: symbol, Quantity: qty, Price: dec(price)})
	require.NoError(t, err)
}

func TestRunCycle_ClosesDeepLoserHoldsWinner(t *testing.T) {
	book := ledger.New(dec(1_000_000))
	openPosition(t, book, "LOSS", 100, 100)
	openPosition(t, book, "WIN", 100, 100)

	// LOSS is 12% under water, past the stop-override depth where hold
	// exceptions no longer apply; WIN is slightly ahead.
	quotes := &fakeQuotes{prices: map[string]decimal.Decimal{
		"LOSS": dec(88),
		"WIN":  dec(101),
	}}
	store := persistence.NewMemoryStore(4)

	m := newMonitor(t, book, quotes, store)
	report, err := m.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.OpenBefore)
	assert.Equal(t, 2, report.Evaluated)
	assert.Equal(t, 1, report.Exited)
	assert.True(t, report.Snapshotted)

	snap := book.Snapshot()
	assert.Equal(t, 1, snap.OpenCount())
	_, stillOpen := snap.Open["WIN"]
	assert.True(t, stillOpen)
	assert.True(t, snap.RealizedPnLTotal.Equal(dec(-1200)), "got %s", snap.RealizedPnLTotal)

	// One batched request covered both symbols.
	require.Len(t, quotes.requested, 1)
	assert.ElementsMatch(t, []string{"LOSS", "WIN"}, quotes.requested[0])
}

func TestRunCycle_UnavailableQuoteHoldsPosition(t *testing.T) {
	book := ledger.New(dec(1_000_000))
	openPosition(t, book, "DARK", 100, 100)

	quotes := &fakeQuotes{prices: map[string]decimal.Decimal{}}
	m := newMonitor(t, book, quotes, persistence.NewMemoryStore(4))

	report, err := m.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Evaluated)
	assert.Equal(t, 0, report.Exited)
	assert.Equal(t, 1, book.Snapshot().OpenCount())

	// The position was never marked against a default price.
	pos := book.Snapshot().Open["DARK"]
	assert.True(t, pos.LastMarkPrice.IsZero())
}

func TestRunCycle_MarksToMarketAndRaisesExcursion(t *testing.T) {
	book := ledger.New(dec(1_000_000))
	openPosition(t, book, "UP", 100, 100)

	quotes := &fakeQuotes{prices: map[string]decimal.Decimal{"UP": dec(110)}}
	m := newMonitor(t, book, quotes, nil)

	_, err := m.RunCycle(context.Background())
	require.NoError(t, err)

	pos := book.Snapshot().Open["UP"]
	assert.True(t, pos.LastMarkPrice.Equal(dec(110)))
	assert.InDelta(t, 10.0, pos.MaxFavorableExcursion, 0.001)
}

func TestRunCycle_HaltedLedgerRefusesToRun(t *testing.T) {
	book := ledger.New(dec(1_000_000))
	openPosition(t, book, "A", 10, 100)

	// Restore a consistent snapshot with the halt latch set, as recovery
	// from a halted run would.
	snap := book.Snapshot()
	snap.Halted = true
	require.NoError(t, book.Restore(snap))
	require.True(t, book.Halted())

	m := newMonitor(t, book, &fakeQuotes{}, nil)
	_, err := m.RunCycle(context.Background())
	assert.ErrorIs(t, err, ledger.ErrLedgerHalted)
}

func TestRunCycle_EmptyBookStillSnapshots(t *testing.T) {
	book := ledger.New(dec(1_000_000))
	store := persistence.NewMemoryStore(4)
	quotes := &fakeQuotes{}

	m := newMonitor(t, book, quotes, store)
	report, err := m.RunCycle(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Snapshotted)
	assert.Empty(t, quotes.requested, "no symbols means no quote request")
	assert.Equal(t, 1, store.Count())
}

func TestRunCycle_SnapshotCadence(t *testing.T) {
	book := ledger.New(dec(1_000_000))
	store := persistence.NewMemoryStore(16)

	m := New(Config{Interval: time.Minute, CycleBudget: time.Second, SnapshotEvery: 3}, &fakeQuotes{}, book, exits.NewEngine(exits.DefaultConfig()), store, nil)

	for i := 0; i < 6; i++ {
		_, err := m.RunCycle(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 2, store.Count())
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	book := ledger.New(dec(1_000_000))
	m := New(Config{Interval: 10 * time.Millisecond, CycleBudget: time.Second}, &fakeQuotes{}, book, exits.NewEngine(exits.DefaultConfig()), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor loop did not stop after cancel")
	}
}

func TestWeakestRanks_OrdersByPnL(t *testing.T) {
	book := ledger.New(dec(1_000_000))
	openPosition(t, book, "A", 10, 100) // -5%
	openPosition(t, book, "B", 10, 100) // -20%
	openPosition(t, book, "C", 10, 100) // +10%

	quotes := map[string]marketdata.Quote{
		"A": {Symbol: "A", Price: dec(95)},
		"B": {Symbol: "B", Price: dec(80)},
		"C": {Symbol: "C", Price: dec(110)},
		"D": marketdata.Unavailable("D"),
	}

	ranks := weakestRanks(book.Snapshot(), quotes)
	assert.Equal(t, 1, ranks["B"])
	assert.Equal(t, 2, ranks["A"])
	assert.Equal(t, 3, ranks["C"])
	assert.NotContains(t, ranks, "D")
}
