package jobs

import (
	"time"

	"github.com/tickerdesk/tickerdesk/internal/query"
)

// Job statuses. A job moves queued -> running -> completed|failed and
// never leaves a terminal state.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Job tracks one background query execution. Result is the terminal
// record produced by the run; it is set together with the terminal
// status so a single poll sees both.
type Job struct {
	ID         string        `json:"id"`
	UserID     string        `json:"user_id"`
	Status     string        `json:"status"`
	Input      query.Request `json:"input"`
	QueryID    string        `json:"query_id,omitempty"`
	Result     *query.Record `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// Terminal reports whether the job has finished.
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

func (j *Job) clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	return &c
}
