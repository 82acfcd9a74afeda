package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/riskcore/internal/marketdata/breaker"
	"github.com/sawpanic/riskcore/internal/marketdata/ratelimit"
	"github.com/sawpanic/riskcore/internal/metrics"
)

// Config controls the batched quote fetcher.
type Config struct {
	// MaxBatchSize is the provider-imposed maximum symbols per request;
	// larger requests are chunked.
	MaxBatchSize int `yaml:"max_batch_size"`

	// CacheTTL is how long a fetched quote stays live in the cache.
	CacheTTL time.Duration `yaml:"-"`

	// RequestTimeout bounds each raw_fetch call so one slow request cannot
	// stall the monitoring cycle.
	RequestTimeout time.Duration `yaml:"-"`

	// AcquireTimeout bounds the blocking wait on the rate limiter.
	AcquireTimeout time.Duration `yaml:"-"`

	// PerSymbolFallback retries symbols one at a time after a total batch
	// failure. Off by default; each retry still pays a limiter token.
	PerSymbolFallback bool `yaml:"per_symbol_fallback"`
}

// DefaultConfig returns production fetcher settings.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:      500,
		CacheTTL:          30 * time.Second,
		RequestTimeout:    10 * time.Second,
		AcquireTimeout:    5 * time.Second,
		PerSymbolFallback: false,
	}
}

// Fetcher answers "current price for N symbols" with at most one batched
// network call per chunk, gated by the rate limiter and the circuit breaker.
type Fetcher struct {
	cfg     Config
	raw     RawFetchFunc
	cache   QuoteCache
	limiter *ratelimit.Limiter
	breaker *breaker.Breaker
}

// NewFetcher wires the fetcher. The limiter, cache, and breaker are injected
// so tests and callers share no hidden globals.
func NewFetcher(cfg Config, raw RawFetchFunc, cache QuoteCache, limiter *ratelimit.Limiter, brk *breaker.Breaker) *Fetcher {
	def := DefaultConfig()
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = def.MaxBatchSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = def.AcquireTimeout
	}

	return &Fetcher{cfg: cfg, raw: raw, cache: cache, limiter: limiter, breaker: brk}
}

// GetQuotes returns a quote for every requested symbol. Symbols the provider
// could not price come back as explicit unavailable quotes; the caller skips
// them this cycle. The map always has one entry per distinct input symbol.
func (f *Fetcher) GetQuotes(ctx context.Context, symbols []string) map[string]Quote {
	out := make(map[string]Quote, len(symbols))

	var missing []string
	for _, sym := range symbols {
		if _, dup := out[sym]; dup {
			continue
		}
		if q, ok := f.cache.Get(sym); ok {
			metrics.QuoteCacheHits.Inc()
			out[sym] = q
			continue
		}
		metrics.QuoteCacheMisses.Inc()
		out[sym] = Unavailable(sym) // overwritten below on a successful fetch
		missing = append(missing, sym)
	}

	for start := 0; start < len(missing); start += f.cfg.MaxBatchSize {
		end := start + f.cfg.MaxBatchSize
		if end > len(missing) {
			end = len(missing)
		}
		f.fetchInto(ctx, missing[start:end], out)
	}

	metrics.BreakerState.Set(f.breaker.StateValue())

	for _, q := range out {
		if q.Unavailable {
			metrics.QuotesUnavailable.Inc()
		}
	}
	return out
}

// fetchInto resolves one chunk with a single batched call, filling out with
// quotes or leaving the explicit unavailable markers in place.
func (f *Fetcher) fetchInto(ctx context.Context, chunk []string, out map[string]Quote) {
	raw, err := f.fetchBatch(ctx, chunk)
	if err != nil {
		log.Warn().Err(err).Int("symbols", len(chunk)).Msg("batched quote fetch failed")

		if f.cfg.PerSymbolFallback && !errors.Is(err, breaker.ErrCircuitOpen) && !errors.Is(err, ratelimit.ErrRateLimited) {
			log.Warn().Int("symbols", len(chunk)).Msg("degrading to per-symbol quote retries")
			for _, sym := range chunk {
				single, retryErr := f.fetchBatch(ctx, []string{sym})
				if retryErr != nil {
					continue
				}
				f.fill(sym, single, out)
			}
		}
		return
	}

	for _, sym := range chunk {
		f.fill(sym, raw, out)
	}
}

// fill stores the provider's answer for sym, if any, into the cache and the
// result map. A symbol the provider skipped keeps its unavailable marker.
func (f *Fetcher) fill(sym string, raw map[string]RawQuote, out map[string]Quote) {
	rq, ok := raw[sym]
	if !ok || rq.Price.Sign() <= 0 {
		return
	}
	q := Quote{
		Symbol:       sym,
		Price:        rq.Price,
		FetchedAt:    time.Now(),
		ExchangeHint: rq.Exchange,
	}
	f.cache.Put(sym, q, f.cfg.CacheTTL)
	out[sym] = q
}

// fetchBatch issues exactly one raw_fetch for the chunk, gated by the rate
// limiter and circuit breaker and bounded by the request timeout.
func (f *Fetcher) fetchBatch(ctx context.Context, chunk []string) (map[string]RawQuote, error) {
	waitCtx, cancel := context.WithTimeout(ctx, f.cfg.AcquireTimeout)
	defer cancel()
	if err := f.limiter.WaitAcquire(waitCtx, 1); err != nil {
		return nil, err
	}

	res, err := f.breaker.Execute(func() (interface{}, error) {
		reqCtx, cancel := context.WithTimeout(ctx, f.cfg.RequestTimeout)
		defer cancel()

		metrics.RawFetchCalls.Inc()
		raw, err := f.raw(reqCtx, chunk)
		if err != nil {
			metrics.RawFetchFailures.Inc()
			return nil, err
		}
		return raw, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(map[string]RawQuote), nil
}
