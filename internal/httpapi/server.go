// Package httpapi exposes the read-only status surface. Nothing here mutates
// state: every handler reads through Snapshot() or an introspection getter.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/riskcore/internal/ledger"
	"github.com/sawpanic/riskcore/internal/marketdata/breaker"
	"github.com/sawpanic/riskcore/internal/marketdata/ratelimit"
)

// Status is the /status response body.
type Status struct {
	Ledger        ledger.Snapshot `json:"ledger"`
	BreakerState  string          `json:"breaker_state"`
	LimiterTokens float64         `json:"limiter_tokens"`
	ServedAt      time.Time       `json:"served_at"`
}

// Server serves the status endpoints.
type Server struct {
	book    *ledger.Ledger
	brk     *breaker.Breaker
	limiter *ratelimit.Limiter

	srv *http.Server
}

// NewServer wires the routes. The breaker and limiter may be nil; their
// fields are then omitted from /status.
func NewServer(addr string, book *ledger.Ledger, brk *breaker.Breaker, limiter *ratelimit.Limiter) *Server {
	s := &Server{book: book, brk: brk, limiter: limiter}

	r := mux.NewRouter()
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start serves until Shutdown. It blocks; run it in its own goroutine.
func (s *Server) Start() error {
	log.Info().Str("addr", s.srv.Addr).Msg("status server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := Status{
		Ledger:   s.book.Snapshot(),
		ServedAt: time.Now(),
	}
	if s.brk != nil {
		status.BreakerState = s.brk.State().String()
	}
	if s.limiter != nil {
		status.LimiterTokens = s.limiter.Tokens()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Warn().Err(err).Msg("encode status response")
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if s.book.Halted() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("ledger halted"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
