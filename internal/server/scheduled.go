package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorhill/cronexpr"
	"github.com/labstack/echo/v4"

	"github.com/tickerdesk/tickerdesk/internal/agent"
	"github.com/tickerdesk/tickerdesk/internal/market"
	"github.com/tickerdesk/tickerdesk/internal/query"
	"github.com/tickerdesk/tickerdesk/internal/runtime"
	"github.com/tickerdesk/tickerdesk/internal/store"
)

type scheduledStore interface {
	CreateScheduledQuery(ctx context.Context, sq store.ScheduledQuery) (string, error)
	ListScheduledQueries(ctx context.Context, userID string) ([]store.ScheduledQuery, error)
	SetScheduledQueryEnabled(ctx context.Context, id, userID string, enabled bool) error
}

type ScheduledHandler struct {
	Store scheduledStore
}

func (h *ScheduledHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.create)
	g.GET("", h.list)
	g.PUT("/:id/enabled", h.enable)
	g.DELETE("/:id", h.disable)
}

// Create
//
//	@Summary		Register a recurring query
//	@Description	Runs the question on a cron schedule; supports @hourly, @daily, and 5-field cron specs
//	@Tags			scheduled
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		CreateScheduledQueryRequest	true	"Schedule payload"
//	@Success		201		{object}	IDResponse
//	@Failure		400		{object}	HTTPError
//	@Router			/api/scheduled [post]
func (h *ScheduledHandler) create(c echo.Context) error {
	var req CreateScheduledQueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Question) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question required")
	}
	if err := validateCronSpec(req.CronSpec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	mode := req.Mode
	if mode == "" {
		mode = string(agent.ModeFast)
	}
	profile := req.Profile
	if profile == "" {
		profile = string(market.ProfileLight)
	}
	userID := c.Get("user_id").(string)
	id, err := h.Store.CreateScheduledQuery(c.Request().Context(), store.ScheduledQuery{
		UserID:   userID,
		Question: req.Question,
		Mode:     mode,
		Profile:  profile,
		CronSpec: req.CronSpec,
		Enabled:  true,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, IDResponse{ID: id})
}

// List
//
//	@Summary	List the caller's recurring queries
//	@Tags		scheduled
//	@Produce	json
//	@Success	200	{array}	ScheduledQueryResponse
//	@Router		/api/scheduled [get]
func (h *ScheduledHandler) list(c echo.Context) error {
	userID := c.Get("user_id").(string)
	list, err := h.Store.ListScheduledQueries(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]ScheduledQueryResponse, 0, len(list))
	for _, sq := range list {
		out = append(out, ScheduledQueryResponse{
			ID:        sq.ID,
			Question:  sq.Question,
			Mode:      sq.Mode,
			Profile:   sq.Profile,
			CronSpec:  sq.CronSpec,
			Enabled:   sq.Enabled,
			LastRunAt: sq.LastRunAt,
			CreatedAt: sq.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// Enable
//
//	@Summary	Re-enable a recurring query
//	@Tags		scheduled
//	@Param		id	path	string	true	"Scheduled query ID"
//	@Success	204	{string}	string	"No Content"
//	@Failure	404	{object}	HTTPError
//	@Router		/api/scheduled/{id}/enabled [put]
func (h *ScheduledHandler) enable(c echo.Context) error {
	return h.setEnabled(c, true)
}

// Disable
//
//	@Summary	Disable a recurring query
//	@Tags		scheduled
//	@Param		id	path	string	true	"Scheduled query ID"
//	@Success	204	{string}	string	"No Content"
//	@Failure	404	{object}	HTTPError
//	@Router		/api/scheduled/{id} [delete]
func (h *ScheduledHandler) disable(c echo.Context) error {
	return h.setEnabled(c, false)
}

func (h *ScheduledHandler) setEnabled(c echo.Context, enabled bool) error {
	userID := c.Get("user_id").(string)
	err := h.Store.SetScheduledQueryEnabled(c.Request().Context(), c.Param("id"), userID, enabled)
	if err != nil {
		if errors.Is(err, query.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "scheduled query not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func validateCronSpec(spec string) error {
	switch spec {
	case "":
		return errors.New("cron_spec required")
	case "@hourly", "@daily":
		return nil
	}
	if _, err := cronexpr.Parse(spec); err != nil {
		return errors.New("invalid cron_spec")
	}
	return nil
}
