// Package dashboard serves the position book and run statistics as
// read-only JSON for monitoring a run in flight.
package dashboard

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/rcc-trading/condorhawk/internal/broker"
	"github.com/rcc-trading/condorhawk/internal/models"
	"github.com/rcc-trading/condorhawk/internal/storage"
)

type Server struct {
	router  *chi.Mux
	server  *http.Server
	storage storage.Interface
	host    broker.Host
	logger  *logrus.Logger
	addr    string
}

type Config struct {
	ListenAddr string
}

// PositionView flattens a position for the API: identity, lifecycle state,
// per-leg strikes and the premium captured at entry. DTE and days-in-trade
// are computed against the host clock, not wall time, so a backtest reports
// its simulated dates.
type PositionView struct {
	ID          string    `json:"id"`
	Tag         string    `json:"tag"`
	Strategy    string    `json:"strategy"`
	Underlying  string    `json:"underlying"`
	State       string    `json:"state"`
	Expiry      time.Time `json:"expiry"`
	DTE         int       `json:"dte"`
	DaysInTrade int       `json:"days_in_trade"`
	Quantity    int       `json:"quantity"`
	IsCredit    bool      `json:"is_credit"`
	Legs        []LegView `json:"legs"`
	OpenPremium float64   `json:"open_premium"`
	OpenedAt    time.Time `json:"opened_at"`
	PnLMin      float64   `json:"pnl_min"`
	PnLMax      float64   `json:"pnl_max"`
}

type LegView struct {
	Symbol string  `json:"symbol"`
	Role   string  `json:"role"`
	Side   int     `json:"side"`
	Right  string  `json:"right"`
	Strike float64 `json:"strike"`
}

// Statistics merges the persisted run counters with distribution moments
// recomputed from closed-trade history on each request.
type Statistics struct {
	models.RunStats
	Trades         int     `json:"trades"`
	OpenPositions  int     `json:"open_positions"`
	MeanPnL        float64 `json:"mean_pnl"`
	StdDevPnL      float64 `json:"stddev_pnl"`
	PortfolioValue float64 `json:"portfolio_value"`
}

func NewServer(cfg Config, storage storage.Interface, host broker.Host, logger *logrus.Logger) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		storage: storage,
		host:    host,
		logger:  logger,
		addr:    cfg.ListenAddr,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/positions", s.handleGetPositions)
	s.router.Get("/api/position/{id}", s.handleGetPosition)
	s.router.Get("/api/stats", s.handleGetStats)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}

	s.logger.Infof("Starting dashboard server on %s", s.addr)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"clock":     s.host.Now().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.WithError(err).Error("Failed to encode health response")
	}
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	positions := s.storage.GetPositions()

	views := make([]PositionView, 0, len(positions))
	for _, pos := range positions {
		views = append(views, s.convertPositionToView(pos))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(views); err != nil {
		s.logger.WithError(err).Error("Failed to encode positions")
	}
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	position, found := s.storage.GetPosition(id)
	if !found {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	view := s.convertPositionToView(position)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(view); err != nil {
		s.logger.WithError(err).Error("Failed to encode position")
	}
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats := s.calculateStatistics()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		s.logger.WithError(err).Error("Failed to encode statistics")
	}
}

func (s *Server) convertPositionToView(pos *models.Position) PositionView {
	now := s.host.Now()

	legs := make([]LegView, 0, len(pos.Legs))
	for _, leg := range pos.Legs {
		lv := LegView{Role: leg.Role, Side: leg.Side}
		if leg.Contract != nil {
			lv.Symbol = leg.Contract.Symbol
			lv.Right = string(leg.Contract.Right)
			lv.Strike = leg.Contract.Strike
		}
		legs = append(legs, lv)
	}

	return PositionView{
		ID:          pos.ID,
		Tag:         pos.Tag,
		Strategy:    pos.Strategy,
		Underlying:  pos.Underlying,
		State:       string(pos.GetCurrentState()),
		Expiry:      pos.Expiry,
		DTE:         pos.CalculateDTE(now),
		DaysInTrade: pos.DaysInTrade(now),
		Quantity:    pos.Quantity,
		IsCredit:    pos.IsCredit,
		Legs:        legs,
		OpenPremium: pos.Open.Premium,
		OpenedAt:    pos.OpenedAt,
		PnLMin:      pos.PnLMin,
		PnLMax:      pos.PnLMax,
	}
}

func (s *Server) calculateStatistics() Statistics {
	stats := Statistics{
		RunStats:       s.storage.GetStats(),
		OpenPositions:  len(s.storage.GetPositions()),
		PortfolioValue: s.host.PortfolioValue(),
	}
	stats.Trades = stats.RunStats.Trades()

	// Cancelled entries never traded; they carry no P&L.
	var pnls []float64
	for _, pos := range s.storage.GetHistory() {
		if pos.GetCurrentState() == models.StateCancelled {
			continue
		}
		pnls = append(pnls, pos.FinalPnL)
	}
	if len(pnls) > 0 {
		mean, stddev := stat.MeanStdDev(pnls, nil)
		stats.MeanPnL = mean
		if !math.IsNaN(stddev) {
			stats.StdDevPnL = stddev
		}
	}

	return stats
}
