// Package api exposes the control and monitoring surface over HTTP. Read
// endpoints that leak nothing sensitive are open; everything that moves
// money or changes behavior sits behind a shared-secret bearer token.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Jokke7/tradingbot/internal/loop"
	"github.com/Jokke7/tradingbot/internal/observ"
	"github.com/Jokke7/tradingbot/internal/portfolio"
	"github.com/Jokke7/tradingbot/internal/recorder"
)

type Server struct {
	addr      string
	authToken string
	mode      string
	startedAt time.Time

	store     *portfolio.Store
	scheduler *loop.Scheduler
	runtime   *loop.Runtime
	limits    limitUpdater
	history   recorder.Recorder

	httpServer *http.Server
}

// limitUpdater is the slice of the gate manager the config endpoint needs.
type limitUpdater interface {
	UpdateLimits(maxTradeUSD, dailyLossLimitUSD *float64)
}

func NewServer(addr, authToken, mode string, store *portfolio.Store, sched *loop.Scheduler,
	rt *loop.Runtime, limits limitUpdater, history recorder.Recorder) *Server {
	return &Server{
		addr:      addr,
		authToken: authToken,
		mode:      mode,
		startedAt: time.Now().UTC(),
		store:     store,
		scheduler: sched,
		runtime:   rt,
		limits:    limits,
		history:   history,
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/signals/{symbol}", s.handleSignal)
	mux.Handle("GET /metrics", observ.Handler())

	mux.Handle("GET /v1/portfolio", s.auth(s.handlePortfolio))
	mux.Handle("GET /v1/positions", s.auth(s.handlePositions))
	mux.Handle("GET /v1/trades/{date}", s.auth(s.handleTrades))
	mux.Handle("GET /v1/recommendations", s.auth(s.handleRecommendations))
	mux.Handle("POST /v1/emergency-stop", s.auth(s.handleEmergencyStop))
	mux.Handle("PATCH /v1/config", s.auth(s.handleConfig))

	return withCORS(mux)
}

// Start serves until ListenAndServe fails; it is meant to run in its own
// goroutine.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	observ.Log("api_listening", map[string]any{"addr": s.addr})
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) auth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			writeError(w, http.StatusForbidden, "control API disabled: no auth token configured")
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token != s.authToken {
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next(w, r)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observ.Error("api_encode_failed", err, nil)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.store.Snapshot()
	fast, slow := s.scheduler.LastRuns()
	threshold, maxTrade, lossLimit, maxPositions := s.runtime.Get()

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           s.mode,
		"symbols":        s.scheduler.Watchlist(),
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"emergency_stop": st.EmergencyStop,
		"open_positions": len(st.Positions),
		"daily_pnl_usd":  st.DailyPnLUSD,
		"daily_trades":   st.DailyTradeCount,
		"last_fast_run":  timestamp(fast),
		"last_rebalance": timestamp(slow),
		"config": map[string]any{
			"confidence_threshold": threshold,
			"max_trade_usd":        maxTrade,
			"daily_loss_limit_usd": lossLimit,
			"max_positions":        maxPositions,
		},
	})
}

func timestamp(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339)
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	d, ok := s.scheduler.LastDecision(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, "no decision recorded for "+symbol)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	st := s.store.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"cash_usd":         st.CashUSD,
		"realized_pnl_usd": st.RealizedPnLUSD,
		"daily_pnl_usd":    st.DailyPnLUSD,
		"daily_losses":     st.DailyLossCount,
		"open_positions":   len(st.Positions),
		"updated_at":       st.UpdatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	st := s.store.Snapshot()
	out := make([]portfolio.Position, 0, len(st.Positions))
	for _, p := range st.Positions {
		out = append(out, p)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	date := r.PathValue("date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	rows, err := s.history.TradesByDate(r.Context(), date)
	if err != nil {
		observ.Error("api_trades_query_failed", err, map[string]any{"date": date})
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	if rows == nil {
		rows = []recorder.TradeRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	rows, err := s.history.RecentRecommendations(r.Context(), 50)
	if err != nil {
		observ.Error("api_recommendations_query_failed", err, nil)
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	if rows == nil {
		rows = []recorder.RecommendationRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	// Empty body means engage; {"enabled":false} lifts the stop.
	req := struct {
		Enabled *bool `json:"enabled"`
	}{}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	enabled := req.Enabled == nil || *req.Enabled

	if err := s.store.SetEmergencyStop(enabled); err != nil {
		observ.Error("emergency_stop_failed", err, nil)
		writeError(w, http.StatusInternalServerError, "failed to persist emergency stop")
		return
	}
	observ.Log("emergency_stop_set", map[string]any{"enabled": enabled})
	writeJSON(w, http.StatusOK, map[string]any{"emergency_stop": enabled})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	req := struct {
		ConfidenceThreshold *int     `json:"confidence_threshold"`
		MaxTradeUSD         *float64 `json:"max_trade_usd"`
		DailyLossLimitUSD   *float64 `json:"daily_loss_limit_usd"`
		MaxPositions        *int     `json:"max_positions"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ConfidenceThreshold != nil && (*req.ConfidenceThreshold < 0 || *req.ConfidenceThreshold > 100) {
		writeError(w, http.StatusBadRequest, "confidence_threshold must be 0..100")
		return
	}
	if req.MaxTradeUSD != nil && *req.MaxTradeUSD <= 0 {
		writeError(w, http.StatusBadRequest, "max_trade_usd must be positive")
		return
	}
	if req.MaxPositions != nil && *req.MaxPositions < 1 {
		writeError(w, http.StatusBadRequest, "max_positions must be at least 1")
		return
	}

	s.runtime.Set(req.ConfidenceThreshold, req.MaxTradeUSD, req.DailyLossLimitUSD, req.MaxPositions)
	if s.limits != nil {
		s.limits.UpdateLimits(req.MaxTradeUSD, req.DailyLossLimitUSD)
	}

	threshold, maxTrade, lossLimit, maxPositions := s.runtime.Get()
	observ.Log("config_updated", map[string]any{
		"confidence_threshold": threshold, "max_trade_usd": maxTrade,
		"daily_loss_limit_usd": lossLimit, "max_positions": maxPositions,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"confidence_threshold": threshold,
		"max_trade_usd":        maxTrade,
		"daily_loss_limit_usd": lossLimit,
		"max_positions":        maxPositions,
	})
}
