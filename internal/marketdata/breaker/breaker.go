// Package breaker gates the broker quote path behind a circuit breaker so a
// failing feed is not hammered during an outage.
package breaker

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// attempting the network. The call is deferred, not discarded: callers retry
// on the next monitoring cycle.
var ErrCircuitOpen = errors.New("circuit open")

// Config controls when the breaker trips and how long it stays open.
type Config struct {
	Name string `yaml:"name"`

	// FailureThreshold is the number of consecutive failures that trips the
	// breaker from closed to open.
	FailureThreshold uint32 `yaml:"failure_threshold"`

	// Cooldown is how long the breaker stays open before allowing a single
	// half-open trial call.
	Cooldown time.Duration `yaml:"-"`
}

// DefaultConfig returns the production breaker settings.
func DefaultConfig() Config {
	return Config{
		Name:             "quotes",
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
	}
}

// Breaker wraps gobreaker with this system's fixed state machine: trip after
// N consecutive failures, stay open for the cooldown, then allow exactly one
// trial call. A successful call in the closed state resets the failure count.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New creates a breaker from config. Zero-valued fields fall back to
// DefaultConfig values.
func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1, // exactly one half-open trial
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	}

	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn through the breaker. When the breaker is open (or the
// half-open trial slot is taken) it returns ErrCircuitOpen without invoking
// fn; fn's own outcome is reported back to the breaker.
func (b *Breaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	out, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return out, err
}

// State reports the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// StateValue maps the breaker state to a metric value: 0 closed, 1 half-open,
// 2 open.
func (b *Breaker) StateValue() float64 {
	switch b.cb.State() {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
