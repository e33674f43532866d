package query

import (
	"errors"
	"time"

	"github.com/tickerdesk/tickerdesk/internal/agent"
	"github.com/tickerdesk/tickerdesk/internal/market"
)

// Status of a query record.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrNotFound is returned when a referenced resource does not exist or
// is not owned by the caller. The two cases are deliberately
// indistinguishable.
var ErrNotFound = errors.New("not found")

// Request is one validated query submission.
type Request struct {
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id,omitempty"`
	Question  string         `json:"question"`
	Mode      agent.Mode     `json:"mode"`
	Profile   market.Profile `json:"profile"`
}

// Record is the persisted result of one query, terminal once its
// status leaves pending.
type Record struct {
	ID        string              `json:"id"`
	UserID    string              `json:"user_id"`
	SessionID string              `json:"session_id,omitempty"`
	Question  string              `json:"question"`
	Response  string              `json:"response,omitempty"`
	Status    string              `json:"status"`
	Error     string              `json:"error,omitempty"`
	Provider  string              `json:"provider,omitempty"`
	Model     string              `json:"model,omitempty"`
	Usage     agent.Usage         `json:"usage"`
	Cost      agent.CostBreakdown `json:"cost"`
	Artifacts market.ArtifactBag  `json:"artifacts,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}
