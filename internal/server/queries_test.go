package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tickerdesk/tickerdesk/internal/agent"
	"github.com/tickerdesk/tickerdesk/internal/jobs"
	"github.com/tickerdesk/tickerdesk/internal/query"
)

type executorStub struct {
	record  *query.Record
	err     error
	lastReq query.Request
}

func (s *executorStub) Execute(ctx context.Context, req query.Request) (*query.Record, error) {
	s.lastReq = req
	return s.record, s.err
}

func (s *executorStub) Get(ctx context.Context, id, userID string) (*query.Record, error) {
	if s.record == nil || s.record.ID != id || s.record.UserID != userID {
		return nil, query.ErrNotFound
	}
	return s.record, nil
}

func (s *executorStub) List(ctx context.Context, userID, sessionID string, limit int) ([]*query.Record, error) {
	if s.record == nil || s.record.UserID != userID {
		return nil, nil
	}
	if sessionID != "" && s.record.SessionID != sessionID {
		return nil, nil
	}
	return []*query.Record{s.record}, nil
}

type queueStub struct {
	jobs    map[string]*jobs.Job
	lastReq query.Request
}

func (s *queueStub) Enqueue(req query.Request) *jobs.Job {
	s.lastReq = req
	job := &jobs.Job{ID: "job-1", UserID: req.UserID, Status: jobs.StatusQueued, CreatedAt: time.Now()}
	if s.jobs == nil {
		s.jobs = map[string]*jobs.Job{}
	}
	s.jobs[job.ID] = job
	return job
}

func (s *queueStub) Get(jobID, userID string) (*jobs.Job, error) {
	job, ok := s.jobs[jobID]
	if !ok || job.UserID != userID {
		return nil, query.ErrNotFound
	}
	return job, nil
}

func (s *queueStub) List(userID string) []*jobs.Job {
	var out []*jobs.Job
	for _, j := range s.jobs {
		if j.UserID == userID {
			out = append(out, j)
		}
	}
	return out
}

func newQueryContext(t *testing.T, method, path, body, userID string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", userID)
	return ctx, rec
}

func TestSubmitReturnsTerminalRecord(t *testing.T) {
	exec := &executorStub{record: &query.Record{ID: "q-1", UserID: "user-1", Status: query.StatusCompleted, Response: "fine"}}
	h := &QueriesHandler{Exec: exec, Queue: &queueStub{}}

	ctx, rec := newQueryContext(t, http.MethodPost, "/api/queries", `{"question":"how is AAPL?","mode":"deep","profile":"full"}`, "user-1")
	if err := h.submit(ctx); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if exec.lastReq.Mode != agent.ModeDeep {
		t.Fatalf("mode not parsed: %+v", exec.lastReq)
	}
	var resp query.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != query.StatusCompleted {
		t.Fatalf("unexpected record: %+v", resp)
	}
}

func TestSubmitFailedQueryIsStillOK(t *testing.T) {
	exec := &executorStub{
		record: &query.Record{ID: "q-1", UserID: "user-1", Status: query.StatusFailed, Error: "budget daily cap exceeded"},
		err:    &agent.Error{Message: "denied"},
	}
	h := &QueriesHandler{Exec: exec, Queue: &queueStub{}}

	ctx, rec := newQueryContext(t, http.MethodPost, "/api/queries", `{"question":"q"}`, "user-1")
	if err := h.submit(ctx); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("a failed record is not a transport error, got %d", rec.Code)
	}
	var resp query.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != query.StatusFailed || resp.Error == "" {
		t.Fatalf("unexpected record: %+v", resp)
	}
}

func TestSubmitForeignSessionIs404(t *testing.T) {
	exec := &executorStub{err: query.ErrNotFound}
	h := &QueriesHandler{Exec: exec, Queue: &queueStub{}}

	ctx, _ := newQueryContext(t, http.MethodPost, "/api/queries", `{"question":"q","session_id":"s1"}`, "user-1")
	err := h.submit(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %#v", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	h := &QueriesHandler{Exec: &executorStub{}, Queue: &queueStub{}}

	for _, body := range []string{`{}`, `{"question":"  "}`, `{"question":"q","mode":"slow"}`, `{"question":"q","profile":"heavy"}`} {
		ctx, _ := newQueryContext(t, http.MethodPost, "/api/queries", body, "user-1")
		err := h.submit(ctx)
		httpErr, ok := err.(*echo.HTTPError)
		if !ok || httpErr.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %#v", body, err)
		}
	}
}

func TestEnqueueReturnsAccepted(t *testing.T) {
	queue := &queueStub{}
	h := &QueriesHandler{Exec: &executorStub{}, Queue: queue}

	ctx, rec := newQueryContext(t, http.MethodPost, "/api/queries/jobs", `{"question":"watch NVDA"}`, "user-1")
	if err := h.enqueue(ctx); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if queue.lastReq.UserID != "user-1" {
		t.Fatalf("owner not propagated: %+v", queue.lastReq)
	}
	var resp JobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID == "" || resp.Status != jobs.StatusQueued {
		t.Fatalf("unexpected job: %+v", resp)
	}
}

func TestGetJobOwnerScoped(t *testing.T) {
	queue := &queueStub{}
	queue.Enqueue(query.Request{UserID: "user-1", Question: "q"})
	h := &QueriesHandler{Exec: &executorStub{}, Queue: queue}

	ctx, rec := newQueryContext(t, http.MethodGet, "/api/queries/jobs/job-1", "", "user-1")
	ctx.SetParamNames("job_id")
	ctx.SetParamValues("job-1")
	if err := h.getJob(ctx); err != nil {
		t.Fatalf("getJob: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	ctx, _ = newQueryContext(t, http.MethodGet, "/api/queries/jobs/job-1", "", "intruder")
	ctx.SetParamNames("job_id")
	ctx.SetParamValues("job-1")
	err := h.getJob(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("foreign job read must 404, got %#v", err)
	}
}

func TestGetJobExposesResultRecord(t *testing.T) {
	queue := &queueStub{jobs: map[string]*jobs.Job{
		"job-1": {
			ID:      "job-1",
			UserID:  "user-1",
			Status:  jobs.StatusCompleted,
			QueryID: "q-1",
			Result:  &query.Record{ID: "q-1", UserID: "user-1", Status: query.StatusCompleted, Response: "AAPL closed higher."},
		},
	}}
	h := &QueriesHandler{Exec: &executorStub{}, Queue: queue}

	ctx, rec := newQueryContext(t, http.MethodGet, "/api/queries/jobs/job-1", "", "user-1")
	ctx.SetParamNames("job_id")
	ctx.SetParamValues("job-1")
	if err := h.getJob(ctx); err != nil {
		t.Fatalf("getJob: %v", err)
	}
	var resp JobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != jobs.StatusCompleted || resp.Result == nil || resp.Result.Response == "" {
		t.Fatalf("completed job must expose its result in one poll: %+v", resp)
	}
}

func TestListQueriesOwnerScoped(t *testing.T) {
	exec := &executorStub{record: &query.Record{ID: "q-1", UserID: "user-1", SessionID: "s1", Status: query.StatusCompleted}}
	h := &QueriesHandler{Exec: exec, Queue: &queueStub{}}

	ctx, rec := newQueryContext(t, http.MethodGet, "/api/queries?session_id=s1", "", "user-1")
	if err := h.listQueries(ctx); err != nil {
		t.Fatalf("listQueries: %v", err)
	}
	var resp []query.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp) != 1 || resp[0].ID != "q-1" {
		t.Fatalf("unexpected list: %+v", resp)
	}

	ctx, rec = newQueryContext(t, http.MethodGet, "/api/queries", "", "intruder")
	if err := h.listQueries(ctx); err != nil {
		t.Fatalf("listQueries: %v", err)
	}
	resp = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp) != 0 {
		t.Fatalf("foreign user must see nothing, got %+v", resp)
	}
}

func TestGetQueryNotFound(t *testing.T) {
	h := &QueriesHandler{Exec: &executorStub{}, Queue: &queueStub{}}

	ctx, _ := newQueryContext(t, http.MethodGet, "/api/queries/q-9", "", "user-1")
	ctx.SetParamNames("id")
	ctx.SetParamValues("q-9")
	err := h.getQuery(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %#v", err)
	}
}
