package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tickerdesk/tickerdesk/internal/query"
	"github.com/tickerdesk/tickerdesk/internal/telemetry"
)

// Executor is the unit of work a job runs.
type Executor interface {
	Execute(ctx context.Context, req query.Request) (*query.Record, error)
}

// Queue is a single-process job registry. Enqueue never blocks on the
// work itself; each job runs on its own goroutine with a bounded
// execution timeout. Terminal jobs are immutable and reads return
// copies.
type Queue struct {
	exec    Executor
	timeout time.Duration
	logger  *log.Logger

	mu     sync.RWMutex
	jobs   map[string]*Job
	byUser map[string][]string

	wg sync.WaitGroup
}

func NewQueue(exec Executor, timeout time.Duration) *Queue {
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &Queue{
		exec:    exec,
		timeout: timeout,
		logger:  log.New(log.Writer(), "[JOBS] ", log.LstdFlags),
		jobs:    make(map[string]*Job),
		byUser:  make(map[string][]string),
	}
}

// Enqueue registers a job and starts it in the background. The
// returned copy is immediately pollable via Get.
func (q *Queue) Enqueue(req query.Request) *Job {
	job := &Job{
		ID:        ulid.Make().String(),
		UserID:    req.UserID,
		Status:    StatusQueued,
		Input:     req,
		CreatedAt: time.Now().UTC(),
	}

	q.mu.Lock()
	q.jobs[job.ID] = job
	q.byUser[req.UserID] = append(q.byUser[req.UserID], job.ID)
	q.mu.Unlock()
	telemetry.JobTransitions.WithLabelValues(StatusQueued).Inc()

	q.wg.Add(1)
	go q.run(job.ID, req)

	return job.clone()
}

func (q *Queue) run(jobID string, req query.Request) {
	defer q.wg.Done()

	now := time.Now().UTC()
	q.transition(jobID, func(j *Job) {
		j.Status = StatusRunning
		j.StartedAt = &now
	})
	telemetry.JobTransitions.WithLabelValues(StatusRunning).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	rec, err := q.exec.Execute(ctx, req)
	done := time.Now().UTC()
	if err != nil {
		q.logger.Printf("job %s failed: %v", jobID, err)
		q.transition(jobID, func(j *Job) {
			j.Status = StatusFailed
			j.Error = err.Error()
			j.FinishedAt = &done
			if rec != nil {
				j.QueryID = rec.ID
				j.Result = rec
			}
		})
		telemetry.JobTransitions.WithLabelValues(StatusFailed).Inc()
		return
	}
	q.transition(jobID, func(j *Job) {
		j.Status = StatusCompleted
		j.QueryID = rec.ID
		j.Result = rec
		j.FinishedAt = &done
	})
	telemetry.JobTransitions.WithLabelValues(StatusCompleted).Inc()
}

// transition mutates a job under lock, refusing to touch terminal jobs.
func (q *Queue) transition(jobID string, mutate func(*Job)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok || job.Terminal() {
		return
	}
	mutate(job)
}

// Get returns a copy of the job, or query.ErrNotFound when the job is
// missing or belongs to another user. The two cases look identical to
// the caller.
func (q *Queue) Get(jobID, userID string) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	job, ok := q.jobs[jobID]
	if !ok || job.UserID != userID {
		return nil, query.ErrNotFound
	}
	return job.clone(), nil
}

// List returns copies of the user's jobs, newest first.
func (q *Queue) List(userID string) []*Job {
	q.mu.RLock()
	defer q.mu.RUnlock()
	ids := q.byUser[userID]
	out := make([]*Job, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, q.jobs[ids[i]].clone())
	}
	return out
}

// Drain waits for all in-flight jobs to finish.
func (q *Queue) Drain() { q.wg.Wait() }
