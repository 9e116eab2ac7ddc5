// Package api serves the operator-facing status endpoints and the Prometheus
// exposition.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/adaptrade/stabilizer/internal/perf"
)

// AppState exposes the running session's state for the API layer.
type AppState interface {
	Running() bool
	TradingMode() string
	FeedTier() string
	Balance() float64
	RiskPerTrade() float64
	StrategyVersion() string
	Metrics() perf.Metrics
}

type Server struct {
	httpServer *http.Server
	appState   AppState
	startedAt  time.Time
}

// NewServer creates the status server bound to addr.
func NewServer(addr string, appState AppState) *Server {
	s := &Server{
		appState:  appState,
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/ready", s.handleReady)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/perf", s.handlePerf)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving HTTP requests.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	log.Info().Str("addr", s.httpServer.Addr).Msg("api server listening")
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("api server stopped")
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// GET /api/health — liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{
		"ok":       true,
		"uptime_s": time.Since(s.startedAt).Seconds(),
	})
}

// GET /api/ready — readiness probe.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	ready := s.appState.Running()
	resp := map[string]any{
		"ready":        ready,
		"trading_mode": s.appState.TradingMode(),
		"uptime_s":     time.Since(s.startedAt).Seconds(),
	}
	if !ready {
		resp["reason"] = "session_not_running"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	s.writeJSON(w, resp)
}

// GET /api/status — overall system status.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	m := s.appState.Metrics()
	s.writeJSON(w, map[string]any{
		"running":            s.appState.Running(),
		"trading_mode":       s.appState.TradingMode(),
		"feed_tier":          s.appState.FeedTier(),
		"balance":            s.appState.Balance(),
		"risk_per_trade_pct": s.appState.RiskPerTrade(),
		"strategy_version":   s.appState.StrategyVersion(),
		"trades":             m.Trades,
		"total_profit":       m.TotalProfit,
		"uptime_s":           time.Since(s.startedAt).Seconds(),
	})
}

// GET /api/perf — full metrics snapshot.
func (s *Server) handlePerf(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.appState.Metrics())
}
