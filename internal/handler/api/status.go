// Package api exposes the read-only status surface: latency percentiles,
// health state, path transitions, and last predictions per symbol.
package api

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"

	"BarPulse/internal/domain/models"
	"BarPulse/internal/usecase"
	xhttp "BarPulse/pkg/http"
	xlogger "BarPulse/pkg/logger"
)

// TransitionReader serves historical path transitions (ClickHouse-backed).
type TransitionReader interface {
	QueryTransitions(ctx context.Context, symbol string, since time.Time, limit int) ([]models.TransitionRow, error)
}

// StatusHandler implements the Echo HTTP handlers over the engine.
type StatusHandler struct {
	logger      *xlogger.Logger
	engine      *usecase.Engine
	audit       *xlogger.Audit
	transitions TransitionReader
}

func NewStatusHandler(logger *xlogger.Logger, engine *usecase.Engine, audit *xlogger.Audit, transitions TransitionReader) *StatusHandler {
	return &StatusHandler{logger: logger, engine: engine, audit: audit, transitions: transitions}
}

func (h *StatusHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/latency", h.Latency)
	g.GET("/health", h.Health)
	g.GET("/transitions", h.Transitions)
	g.GET("/prediction", h.Prediction)
	g.GET("/symbols", h.Symbols)
}

type latencyResponse struct {
	Symbol string      `json:"symbol"`
	Stage  string      `json:"stage"`
	Stats  interface{} `json:"stats"`
}

func (h *StatusHandler) Latency(c echo.Context) error {
	req := &models.LatencyRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	p, ok := h.engine.Pipeline(req.Symbol)
	if !ok {
		return xhttp.NotFoundResponse(c, "unknown symbol")
	}
	return xhttp.SuccessResponse(c, latencyResponse{
		Symbol: req.Symbol,
		Stage:  req.Stage,
		Stats:  p.LatencyStats(req.Stage),
	})
}

type healthResponse struct {
	Symbol string               `json:"symbol"`
	Path   models.ExecutionPath `json:"path"`
	Health models.HealthState   `json:"health"`
}

func (h *StatusHandler) Health(c echo.Context) error {
	req := &models.HealthRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	p, ok := h.engine.Pipeline(req.Symbol)
	if !ok {
		return xhttp.NotFoundResponse(c, "unknown symbol")
	}
	return xhttp.SuccessResponse(c, healthResponse{
		Symbol: req.Symbol,
		Path:   p.Path(),
		Health: p.Health(),
	})
}

// Transitions serves from the persisted log when a symbol is given and a
// store is configured; otherwise it falls back to the in-memory audit trail.
func (h *StatusHandler) Transitions(c echo.Context) error {
	req := &models.TransitionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	symbol := c.QueryParam("symbol")
	if symbol != "" && h.transitions != nil {
		since := xhttp.ParseTimeDefault(req.Since, time.Unix(0, 0))
		rows, err := h.transitions.QueryTransitions(c.Request().Context(), symbol, since, req.Limit)
		if err != nil {
			h.logger.Error("transitions query error", xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.InternalError("transitions query failed").WithError(err))
		}
		return xhttp.SuccessResponse(c, rows)
	}
	if h.audit != nil {
		return xhttp.SuccessResponse(c, h.audit.Recent(req.Limit))
	}
	return xhttp.SuccessResponse(c, []models.TransitionRow{})
}

func (h *StatusHandler) Prediction(c echo.Context) error {
	req := &models.PredictionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	p, ok := h.engine.Pipeline(req.Symbol)
	if !ok {
		return xhttp.NotFoundResponse(c, "unknown symbol")
	}
	pred := p.LastPrediction()
	if pred == nil {
		return xhttp.NotFoundResponse(c, "no prediction yet")
	}
	return xhttp.SuccessResponse(c, pred)
}

func (h *StatusHandler) Symbols(c echo.Context) error {
	symbols := h.engine.Symbols()
	return xhttp.ListResponse(c, symbols, int64(len(symbols)))
}
