package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tickerdesk/tickerdesk/internal/query"
)

type stubExecutor struct {
	mu      sync.Mutex
	err     error
	delay   time.Duration
	block   chan struct{}
	calls   int
	lastReq query.Request
}

func (s *stubExecutor) Execute(ctx context.Context, req query.Request) (*query.Record, error) {
	s.mu.Lock()
	s.calls++
	s.lastReq = req
	s.mu.Unlock()
	if s.block != nil {
		<-s.block
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return &query.Record{ID: "rec-" + req.Question, Status: query.StatusFailed}, s.err
	}
	return &query.Record{ID: "rec-" + req.Question, Status: query.StatusCompleted, Response: "answer to " + req.Question}, nil
}

func waitTerminal(t *testing.T, q *Queue, jobID, userID string) *Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := q.Get(jobID, userID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if job.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", jobID)
	return nil
}

func TestEnqueueRunsToCompleted(t *testing.T) {
	exec := &stubExecutor{}
	q := NewQueue(exec, time.Second)

	job := q.Enqueue(query.Request{UserID: "u1", Question: "q1"})
	if job.Status != StatusQueued && job.Status != StatusRunning {
		t.Fatalf("fresh job status: %s", job.Status)
	}

	done := waitTerminal(t, q, job.ID, "u1")
	if done.Status != StatusCompleted {
		t.Fatalf("status: %s error: %s", done.Status, done.Error)
	}
	if done.QueryID != "rec-q1" {
		t.Fatalf("query id not linked: %+v", done)
	}
	if done.Result == nil || done.Result.Response == "" {
		t.Fatalf("completed job must carry its result record: %+v", done)
	}
	if done.Input.Question != "q1" || done.Input.UserID != "u1" {
		t.Fatalf("input not recorded: %+v", done.Input)
	}
	if done.FinishedAt == nil || done.StartedAt == nil {
		t.Fatalf("timestamps missing: %+v", done)
	}
}

func TestEnqueueFailureMarksFailed(t *testing.T) {
	exec := &stubExecutor{err: errors.New("agent failed: unreachable")}
	q := NewQueue(exec, time.Second)

	job := q.Enqueue(query.Request{UserID: "u1", Question: "q1"})
	done := waitTerminal(t, q, job.ID, "u1")
	if done.Status != StatusFailed {
		t.Fatalf("status: %s", done.Status)
	}
	if done.Error == "" {
		t.Fatalf("failed job must carry the error message")
	}
	if done.QueryID == "" {
		t.Fatalf("failed job should still link its record when one exists")
	}
	if done.Result == nil || done.Result.Status != query.StatusFailed {
		t.Fatalf("failed job should carry the failed record: %+v", done)
	}
}

func TestGetIsOwnerScoped(t *testing.T) {
	q := NewQueue(&stubExecutor{}, time.Second)
	job := q.Enqueue(query.Request{UserID: "u1", Question: "q1"})

	if _, err := q.Get(job.ID, "u2"); !errors.Is(err, query.ErrNotFound) {
		t.Fatalf("foreign user must get not-found, got %v", err)
	}
	if _, err := q.Get("missing", "u1"); !errors.Is(err, query.ErrNotFound) {
		t.Fatalf("missing job must get not-found, got %v", err)
	}
	if _, err := q.Get(job.ID, "u1"); err != nil {
		t.Fatalf("owner read: %v", err)
	}
}

func TestTerminalJobIsImmutable(t *testing.T) {
	q := NewQueue(&stubExecutor{}, time.Second)
	job := q.Enqueue(query.Request{UserID: "u1", Question: "q1"})
	done := waitTerminal(t, q, job.ID, "u1")

	q.transition(job.ID, func(j *Job) { j.Status = StatusRunning })

	again, err := q.Get(job.ID, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if again.Status != done.Status {
		t.Fatalf("terminal job mutated: %s -> %s", done.Status, again.Status)
	}
}

func TestGetReturnsCopies(t *testing.T) {
	q := NewQueue(&stubExecutor{}, time.Second)
	job := q.Enqueue(query.Request{UserID: "u1", Question: "q1"})
	waitTerminal(t, q, job.ID, "u1")

	a, _ := q.Get(job.ID, "u1")
	a.Status = "mangled"
	if a.Result != nil {
		a.Result.Response = "mangled"
	}
	b, _ := q.Get(job.ID, "u1")
	if b.Status == "mangled" {
		t.Fatalf("caller mutation leaked into the registry")
	}
	if b.Result != nil && b.Result.Response == "mangled" {
		t.Fatalf("caller mutation of the result leaked into the registry")
	}
}

func TestEnqueueDoesNotBlockOnSlowWork(t *testing.T) {
	exec := &stubExecutor{block: make(chan struct{})}
	q := NewQueue(exec, time.Second)

	start := time.Now()
	job := q.Enqueue(query.Request{UserID: "u1", Question: "slow"})
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("enqueue blocked for %v", elapsed)
	}

	got, err := q.Get(job.ID, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Terminal() {
		t.Fatalf("job finished before work was released")
	}
	close(exec.block)
	waitTerminal(t, q, job.ID, "u1")
}

func TestConcurrentJobsAllTerminate(t *testing.T) {
	q := NewQueue(&stubExecutor{}, time.Second)

	var ids []string
	for i := 0; i < 20; i++ {
		job := q.Enqueue(query.Request{UserID: "u1", Question: "q"})
		ids = append(ids, job.ID)
	}
	q.Drain()

	for _, id := range ids {
		job, err := q.Get(id, "u1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if job.Status != StatusCompleted {
			t.Fatalf("job %s status: %s", id, job.Status)
		}
	}
	if got := len(q.List("u1")); got != 20 {
		t.Fatalf("List: got %d jobs", got)
	}
}

func TestListNewestFirstAndScoped(t *testing.T) {
	q := NewQueue(&stubExecutor{}, time.Second)
	first := q.Enqueue(query.Request{UserID: "u1", Question: "first"})
	second := q.Enqueue(query.Request{UserID: "u1", Question: "second"})
	q.Enqueue(query.Request{UserID: "u2", Question: "other"})
	q.Drain()

	list := q.List("u1")
	if len(list) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("expected newest first: %s then %s", list[0].ID, list[1].ID)
	}
}
