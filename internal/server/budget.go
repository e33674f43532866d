package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tickerdesk/tickerdesk/internal/budget"
	"github.com/tickerdesk/tickerdesk/internal/runtime"
)

type budgetLedger interface {
	Snapshot(ctx context.Context, userID, sessionID string) (budget.State, error)
	UpdateSettings(ctx context.Context, userID string, patch budget.SettingsPatch) (budget.State, error)
}

type BudgetHandler struct {
	Ledger budgetLedger
}

func (h *BudgetHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.GET("", h.getSnapshot)
	g.PUT("", h.updateSettings)
}

// GetSnapshot
//
//	@Summary		Budget snapshot
//	@Description	Current caps, spend, and remaining headroom; pass session_id for session figures
//	@Tags			budget
//	@Produce		json
//	@Param			session_id	query		string	false	"Session ID"
//	@Success		200			{object}	budget.State
//	@Failure		500			{object}	HTTPError
//	@Router			/api/budget [get]
func (h *BudgetHandler) getSnapshot(c echo.Context) error {
	userID := c.Get("user_id").(string)
	state, err := h.Ledger.Snapshot(c.Request().Context(), userID, c.QueryParam("session_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, state)
}

// UpdateSettings
//
//	@Summary		Update budget caps
//	@Description	Partial update; omitted caps are unchanged, all values must be positive
//	@Tags			budget
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		BudgetUpdateRequest	true	"Caps patch"
//	@Success		200		{object}	budget.State
//	@Failure		400		{object}	HTTPError
//	@Failure		500		{object}	HTTPError
//	@Router			/api/budget [put]
func (h *BudgetHandler) updateSettings(c echo.Context) error {
	var patch budget.SettingsPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	userID := c.Get("user_id").(string)
	state, err := h.Ledger.UpdateSettings(c.Request().Context(), userID, patch)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, state)
}
