package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/tickerdesk/tickerdesk/internal/runtime"
	"github.com/tickerdesk/tickerdesk/internal/store"
)

type sessionStore interface {
	CreateSession(ctx context.Context, userID, title string) (string, error)
	ListSessions(ctx context.Context, userID string) ([]store.Session, error)
}

type SessionsHandler struct {
	Store sessionStore
}

func (h *SessionsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.create)
	g.GET("", h.list)
}

// Create
//
//	@Summary	Create a conversation session
//	@Tags		sessions
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		CreateSessionRequest	true	"Session payload"
//	@Success	201		{object}	IDResponse
//	@Failure	400		{object}	HTTPError
//	@Router		/api/sessions [post]
func (h *SessionsHandler) create(c echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "untitled"
	}
	userID := c.Get("user_id").(string)
	id, err := h.Store.CreateSession(c.Request().Context(), userID, title)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, IDResponse{ID: id})
}

// List
//
//	@Summary	List the caller's sessions
//	@Tags		sessions
//	@Produce	json
//	@Success	200	{array}	SessionResponse
//	@Router		/api/sessions [get]
func (h *SessionsHandler) list(c echo.Context) error {
	userID := c.Get("user_id").(string)
	sessions, err := h.Store.ListSessions(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionResponse{ID: s.ID, Title: s.Title, CreatedAt: s.CreatedAt})
	}
	return c.JSON(http.StatusOK, out)
}
