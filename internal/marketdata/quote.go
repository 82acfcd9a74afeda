// Package marketdata provides rate-limited, cached, circuit-broken access to
// broker quotes. A price that could not be observed is an explicit
// unavailable quote; it is never substituted with a cached, entry, or
// fabricated number.
package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrQuoteUnavailable marks a symbol that could not be priced this cycle.
// Callers skip the symbol for the cycle; they must not fall back to another
// price.
var ErrQuoteUnavailable = errors.New("quote unavailable")

// Quote is a price observation for a symbol at a point in time, or an
// explicit unavailable marker.
type Quote struct {
	Symbol       string          `json:"symbol"`
	Price        decimal.Decimal `json:"price"`
	FetchedAt    time.Time       `json:"fetched_at"`
	ExchangeHint string          `json:"exchange_hint,omitempty"`
	Unavailable  bool            `json:"unavailable,omitempty"`
}

// Unavailable returns the explicit no-price marker for a symbol.
func Unavailable(symbol string) Quote {
	return Quote{Symbol: symbol, Unavailable: true, FetchedAt: time.Now()}
}

// RawQuote is a single entry in the broker collaborator's response.
type RawQuote struct {
	Price    decimal.Decimal
	Exchange string
}

// RawFetchFunc is the broker quote function wrapped by the Fetcher. Symbols
// missing from the returned map were not priced by the provider. The
// function owns authentication, venue routing, and symbol parsing.
type RawFetchFunc func(ctx context.Context, symbols []string) (map[string]RawQuote, error)
