// Package api exposes the read-only status/control HTTP surface of spec
// §9: the UI's boundary onto the engine's immutable result snapshots.
// Grounded on masonrs2-tterminal/tterminal-backend's echo controller/route
// layout (domain-stack grounding, not the teacher, which carries no HTTP
// control surface of its own).
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"pulsezone/internal/config"
	"pulsezone/internal/engine"
	"pulsezone/internal/ledger"
	"pulsezone/internal/tuner"
)

// Server is the thin read-only (plus one config-write) HTTP surface in
// front of an Engine. No handler here ever touches the candle store, the
// ledger, or the job queue directly except through Engine's own
// concurrency-safe accessors — the engine's lock scope never runs a UI
// callback, per spec §9.
type Server struct {
	echo   *echo.Echo
	engine *engine.Engine
	shared *config.SharedConfig
	logger *zap.Logger
}

// pairModelResponse is the JSON shape of GET /pairs/:pair/model.
type pairModelResponse struct {
	Pair            string    `json:"pair"`
	IsCalculating   bool      `json:"is_calculating"`
	LastUpdatePrice float64   `json:"last_update_price"`
	LastError       string    `json:"last_error,omitempty"`
	Opportunities   int       `json:"opportunity_count"`
}

type ledgerEntryResponse struct {
	ID          string  `json:"id"`
	Pair        string  `json:"pair"`
	Direction   string  `json:"direction"`
	Strategy    string  `json:"strategy"`
	TargetPrice float64 `json:"target_price"`
	StopPrice   float64 `json:"stop_price"`
	SuccessRate float64 `json:"success_rate"`
	AvgPnlPct   float64 `json:"avg_pnl_pct"`
}

type pairConfigRequest struct {
	Station  string  `json:"station"`
	PhPct    float64 `json:"ph_pct"`
	Strategy string  `json:"strategy"`
}

// New builds the API server. Call Start to bind an address.
func New(e *engine.Engine, shared *config.SharedConfig, logger *zap.Logger) *Server {
	srv := &Server{
		echo:   echo.New(),
		engine: e,
		shared: shared,
		logger: logger.Named("api"),
	}
	srv.echo.HideBanner = true
	srv.echo.HidePort = true

	srv.echo.GET("/healthz", srv.handleHealth)
	srv.echo.GET("/pairs/:pair/model", srv.handlePairModel)
	srv.echo.GET("/ledger", srv.handleLedger)
	srv.echo.POST("/config/pair/:pair", srv.handleSetPairConfig)

	return srv
}

// Start begins serving on addr in the background.
func (s *Server) Start(addr string) {
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			s.logger.Error("api server stopped unexpectedly", zap.Error(err))
		}
	}()
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *Server) handlePairModel(c echo.Context) error {
	pair := c.Param("pair")
	rt, ok := s.engine.PairRuntimeSnapshot(pair)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "pair not registered")
	}

	resp := pairModelResponse{
		Pair:            pair,
		IsCalculating:   rt.IsCalculating,
		LastUpdatePrice: rt.LastUpdatePrice,
	}
	if rt.LastError != nil {
		resp.LastError = rt.LastError.Error()
	}
	if rt.Model != nil {
		resp.Opportunities = len(rt.Model.Opportunities)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleLedger(c echo.Context) error {
	entries := s.engine.LedgerSnapshot()
	out := make([]ledgerEntryResponse, 0, len(entries))
	for _, o := range entries {
		out = append(out, ledgerEntryResponse{
			ID:          o.ID,
			Pair:        o.Pair,
			Direction:   string(o.Direction),
			Strategy:    string(o.Strategy),
			TargetPrice: o.TargetPrice,
			StopPrice:   o.StopPrice,
			SuccessRate: o.SuccessRate,
			AvgPnlPct:   o.AvgPnlPct,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleSetPairConfig(c echo.Context) error {
	pair := c.Param("pair")
	var req pairConfigRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Strategy != "" {
		s.shared.SetGlobalStrategy(config.Strategy(req.Strategy))
	}

	switch {
	case req.Station != "" && req.PhPct <= 0:
		// No explicit ph_pct: run the spec §4.J tuner scan for the chosen
		// station instead of falling back to the station's default band.
		// TunePair already applies the result and triggers a recalc.
		if _, ok := s.engine.TunePair(pair, tuner.StationID(req.Station)); !ok {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, "tuner found no viable ph_pct for station")
		}
	default:
		if req.Station != "" {
			s.shared.SetStation(pair, tuner.StationID(req.Station))
		}
		if req.PhPct > 0 {
			s.shared.SetPhPct(pair, req.PhPct)
		}
		s.engine.OnConfigChanged(pair)
	}

	return c.NoContent(http.StatusNoContent)
}

// LedgerJSONOf renders a ledger snapshot as the same shape handleLedger
// returns, for callers (tests, the broadcaster) that want the wire format
// without going through HTTP.
func LedgerJSONOf(entries []ledger.TradeOpportunity) []ledgerEntryResponse {
	out := make([]ledgerEntryResponse, 0, len(entries))
	for _, o := range entries {
		out = append(out, ledgerEntryResponse{
			ID:          o.ID,
			Pair:        o.Pair,
			Direction:   string(o.Direction),
			Strategy:    string(o.Strategy),
			TargetPrice: o.TargetPrice,
			StopPrice:   o.StopPrice,
			SuccessRate: o.SuccessRate,
			AvgPnlPct:   o.AvgPnlPct,
		})
	}
	return out
}
