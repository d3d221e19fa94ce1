package api

import (
	"errors"
	"strings"

	"FinSight/internal/domain/models"
	budgetsvc "FinSight/internal/service/budget"
	"FinSight/internal/service/source"
	"FinSight/internal/usecase"
	"FinSight/pkg/config"
	xhttp "FinSight/pkg/http"
	xlogger "FinSight/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Handler exposes analysis, source health and budget endpoints.
type Handler struct {
	log      *xlogger.Logger
	orch     *usecase.Orchestrator
	monitor  *source.Monitor
	registry *source.Registry
	budget   *budgetsvc.Controller
}

// NewHandler creates the API handler.
func NewHandler(
	log *xlogger.Logger,
	orch *usecase.Orchestrator,
	monitor *source.Monitor,
	registry *source.Registry,
	budget *budgetsvc.Controller,
) *Handler {
	return &Handler{
		log:      log,
		orch:     orch,
		monitor:  monitor,
		registry: registry,
		budget:   budget,
	}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api/v1")
	g.GET("/analysis/:symbol", h.GetAnalysis)
	g.DELETE("/analysis/:symbol", h.InvalidateAnalysis)
	g.GET("/sources/health", h.SourcesHealth)
	g.PUT("/sources/:id/enabled", h.SetSourceEnabled)
	g.GET("/budget", h.ListBudgets)
	g.GET("/budget/:center", h.GetBudget)
	g.PUT("/budget/:center", h.UpdateBudget)
}

// Health is the liveness endpoint.
func (h *Handler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

// GetAnalysis serves the analysis for a symbol. refresh=true drops the
// cached entry and recomputes.
func (h *Handler) GetAnalysis(c echo.Context) error {
	symbol := strings.ToUpper(c.Param("symbol"))
	if symbol == "" {
		return xhttp.BadRequestResponse(c, "symbol is required")
	}

	req := &models.AnalysisRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.orch.GetAnalysis(c.Request().Context(), symbol, models.Horizon(req.Horizon), req.Refresh)
	if err != nil {
		h.log.Error("analysis failed",
			xlogger.String("symbol", symbol),
			xlogger.Error(err),
		)
		var exhausted *source.ExhaustedError
		var deadline *source.DeadlineError
		if errors.As(err, &exhausted) || errors.As(err, &deadline) {
			return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("all data providers are unavailable").WithError(err))
		}
		return xhttp.AppErrorResponse(c, err)
	}

	return xhttp.SuccessResponse(c, res)
}

// InvalidateAnalysis drops all cached analyses for a symbol.
func (h *Handler) InvalidateAnalysis(c echo.Context) error {
	symbol := strings.ToUpper(c.Param("symbol"))
	if symbol == "" {
		return xhttp.BadRequestResponse(c, "symbol is required")
	}
	if err := h.orch.Invalidate(c.Request().Context(), symbol); err != nil {
		h.log.Error("invalidation failed", xlogger.String("symbol", symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.NoContentResponse(c)
}

// SourcesHealth reports the health record of every tracked adapter.
func (h *Handler) SourcesHealth(c echo.Context) error {
	records := h.monitor.Snapshot()
	return xhttp.ListResponse(c, records, int64(len(records)))
}

type setEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// SetSourceEnabled flips an adapter's enabled flag at runtime.
func (h *Handler) SetSourceEnabled(c echo.Context) error {
	id := c.Param("id")
	req := &setEnabledRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.registry.SetEnabled(id, req.Enabled); err != nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("adapter %q not registered", id))
	}
	return xhttp.NoContentResponse(c)
}

// ListBudgets reports every cost center's ledger.
func (h *Handler) ListBudgets(c echo.Context) error {
	centers := h.budget.Centers()
	ledgers := make([]models.BudgetLedger, 0, len(centers))
	for _, center := range centers {
		if l, err := h.budget.Status(center); err == nil {
			ledgers = append(ledgers, l)
		}
	}
	return xhttp.ListResponse(c, ledgers, int64(len(ledgers)))
}

// GetBudget reports one cost center's ledger.
func (h *Handler) GetBudget(c echo.Context) error {
	ledger, err := h.budget.Status(c.Param("center"))
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError(err.Error()))
	}
	return xhttp.SuccessResponse(c, ledger)
}

type updateBudgetRequest struct {
	DailyLimit   float64 `json:"daily_limit" validate:"gte=0"`
	MonthlyLimit float64 `json:"monthly_limit" validate:"gte=0"`
}

// UpdateBudget hot-reloads one cost center's limits.
func (h *Handler) UpdateBudget(c echo.Context) error {
	req := &updateBudgetRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	h.budget.UpdateLimits(c.Param("center"), config.BudgetLimits{
		DailyLimit:   req.DailyLimit,
		MonthlyLimit: req.MonthlyLimit,
	})
	ledger, err := h.budget.Status(c.Param("center"))
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, ledger)
}
