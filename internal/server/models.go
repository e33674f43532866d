package server

import (
	"time"

	"github.com/tickerdesk/tickerdesk/internal/budget"
	"github.com/tickerdesk/tickerdesk/internal/query"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// IDResponse is a generic id response wrapper.
type IDResponse struct {
	ID string `json:"id"`
}

// SubmitQueryRequest represents a new query payload. Mode defaults to
// fast, profile to light.
type SubmitQueryRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Profile   string `json:"profile,omitempty"`
}

// JobResponse is the pollable view of a background job. Result carries
// the terminal query record so completion is visible in one poll.
type JobResponse struct {
	ID         string        `json:"id"`
	Status     string        `json:"status"`
	Input      query.Request `json:"input"`
	QueryID    string        `json:"query_id,omitempty"`
	Result     *query.Record `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// QueryResponse is the full view of a query record.
type QueryResponse struct {
	*query.Record
}

// BudgetUpdateRequest carries a partial settings patch.
type BudgetUpdateRequest = budget.SettingsPatch

// CreateSessionRequest names a new conversation session.
type CreateSessionRequest struct {
	Title string `json:"title"`
}

// SessionResponse is one conversation session.
type SessionResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateScheduledQueryRequest registers a recurring query.
type CreateScheduledQueryRequest struct {
	Question string `json:"question"`
	Mode     string `json:"mode,omitempty"`
	Profile  string `json:"profile,omitempty"`
	CronSpec string `json:"cron_spec"`
}

// ScheduledQueryResponse is one recurring query registration.
type ScheduledQueryResponse struct {
	ID        string     `json:"id"`
	Question  string     `json:"question"`
	Mode      string     `json:"mode"`
	Profile   string     `json:"profile"`
	CronSpec  string     `json:"cron_spec"`
	Enabled   bool       `json:"enabled"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
