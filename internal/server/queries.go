package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/tickerdesk/tickerdesk/internal/agent"
	"github.com/tickerdesk/tickerdesk/internal/jobs"
	"github.com/tickerdesk/tickerdesk/internal/market"
	"github.com/tickerdesk/tickerdesk/internal/query"
	"github.com/tickerdesk/tickerdesk/internal/runtime"
)

type queryExecutor interface {
	Execute(ctx context.Context, req query.Request) (*query.Record, error)
	Get(ctx context.Context, id, userID string) (*query.Record, error)
	List(ctx context.Context, userID, sessionID string, limit int) ([]*query.Record, error)
}

type jobQueue interface {
	Enqueue(req query.Request) *jobs.Job
	Get(jobID, userID string) (*jobs.Job, error)
	List(userID string) []*jobs.Job
}

type QueriesHandler struct {
	Exec  queryExecutor
	Queue jobQueue
}

func (h *QueriesHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.submit)
	g.GET("", h.listQueries)
	g.POST("/jobs", h.enqueue)
	g.GET("/jobs", h.listJobs)
	g.GET("/jobs/:job_id", h.getJob)
	g.GET("/:id", h.getQuery)
}

func parseSubmit(c echo.Context) (query.Request, error) {
	var req SubmitQueryRequest
	if err := c.Bind(&req); err != nil {
		return query.Request{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Question) == "" {
		return query.Request{}, echo.NewHTTPError(http.StatusBadRequest, "question required")
	}
	mode := agent.ModeFast
	switch req.Mode {
	case "", string(agent.ModeFast):
	case string(agent.ModeDeep):
		mode = agent.ModeDeep
	case string(agent.ModeAuto):
		mode = agent.ModeAuto
	default:
		return query.Request{}, echo.NewHTTPError(http.StatusBadRequest, "mode must be fast, deep, or auto")
	}
	profile := market.ProfileLight
	switch req.Profile {
	case "", string(market.ProfileLight):
	case string(market.ProfileFull):
		profile = market.ProfileFull
	default:
		return query.Request{}, echo.NewHTTPError(http.StatusBadRequest, "profile must be light or full")
	}
	return query.Request{
		UserID:    c.Get("user_id").(string),
		SessionID: req.SessionID,
		Question:  req.Question,
		Mode:      mode,
		Profile:   profile,
	}, nil
}

// Submit
//
//	@Summary		Run a query synchronously
//	@Description	Executes the query inline and returns the terminal record; denials and agent failures come back as a failed record, not a transport error
//	@Tags			queries
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		SubmitQueryRequest	true	"Query payload"
//	@Success		200		{object}	QueryResponse
//	@Failure		400		{object}	HTTPError
//	@Failure		404		{object}	HTTPError
//	@Router			/api/queries [post]
func (h *QueriesHandler) submit(c echo.Context) error {
	req, err := parseSubmit(c)
	if err != nil {
		return err
	}
	rec, err := h.Exec.Execute(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, query.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		if rec == nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		// rec carries the failure as a terminal record
	}
	return c.JSON(http.StatusOK, QueryResponse{Record: rec})
}

// Enqueue
//
//	@Summary		Run a query in the background
//	@Description	Registers a job and returns immediately; poll the job for completion
//	@Tags			queries
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		SubmitQueryRequest	true	"Query payload"
//	@Success		202		{object}	JobResponse
//	@Failure		400		{object}	HTTPError
//	@Router			/api/queries/jobs [post]
func (h *QueriesHandler) enqueue(c echo.Context) error {
	req, err := parseSubmit(c)
	if err != nil {
		return err
	}
	job := h.Queue.Enqueue(req)
	return c.JSON(http.StatusAccepted, jobResponse(job))
}

// ListJobs
//
//	@Summary	List the caller's jobs
//	@Tags		queries
//	@Produce	json
//	@Success	200	{array}	JobResponse
//	@Router		/api/queries/jobs [get]
func (h *QueriesHandler) listJobs(c echo.Context) error {
	userID := c.Get("user_id").(string)
	list := h.Queue.List(userID)
	out := make([]JobResponse, 0, len(list))
	for _, job := range list {
		out = append(out, jobResponse(job))
	}
	return c.JSON(http.StatusOK, out)
}

// ListQueries
//
//	@Summary	List the caller's query records, newest first
//	@Tags		queries
//	@Produce	json
//	@Param		session_id	query	string	false	"Restrict to one session"
//	@Param		limit		query	int		false	"Max records, default 50"
//	@Success	200	{array}	QueryResponse
//	@Router		/api/queries [get]
func (h *QueriesHandler) listQueries(c echo.Context) error {
	userID := c.Get("user_id").(string)
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	recs, err := h.Exec.List(c.Request().Context(), userID, c.QueryParam("session_id"), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]QueryResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, QueryResponse{Record: rec})
	}
	return c.JSON(http.StatusOK, out)
}

// GetJob
//
//	@Summary	Poll one job
//	@Tags		queries
//	@Produce	json
//	@Param		job_id	path		string	true	"Job ID"
//	@Success	200		{object}	JobResponse
//	@Failure	404		{object}	HTTPError
//	@Router		/api/queries/jobs/{job_id} [get]
func (h *QueriesHandler) getJob(c echo.Context) error {
	userID := c.Get("user_id").(string)
	job, err := h.Queue.Get(c.Param("job_id"), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	return c.JSON(http.StatusOK, jobResponse(job))
}

// GetQuery
//
//	@Summary	Fetch one query record
//	@Tags		queries
//	@Produce	json
//	@Param		id	path		string	true	"Query ID"
//	@Success	200	{object}	QueryResponse
//	@Failure	404	{object}	HTTPError
//	@Router		/api/queries/{id} [get]
func (h *QueriesHandler) getQuery(c echo.Context) error {
	userID := c.Get("user_id").(string)
	rec, err := h.Exec.Get(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		if errors.Is(err, query.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "query not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, QueryResponse{Record: rec})
}

func jobResponse(j *jobs.Job) JobResponse {
	return JobResponse{
		ID:         j.ID,
		Status:     j.Status,
		Input:      j.Input,
		QueryID:    j.QueryID,
		Result:     j.Result,
		Error:      j.Error,
		CreatedAt:  j.CreatedAt,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
	}
}
