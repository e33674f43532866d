package agent

import (
	"context"
	"strings"
)

// Mode selects which model handles a question.
type Mode string

const (
	// ModeFast routes to the cheap low-latency model.
	ModeFast Mode = "fast"
	// ModeDeep routes to the research-grade model.
	ModeDeep Mode = "deep"
	// ModeAuto lets the caller defer the choice; it must be resolved
	// with ResolveMode before a run starts.
	ModeAuto Mode = "auto"
)

// deepMarkers are question phrasings that warrant the research model.
var deepMarkers = []string{"compare", "analyz", "analys", "valuation", "thesis", "deep dive", "explain why"}

// ResolveMode pins an automatic mode to a concrete strategy. The
// decision happens once, before cost estimation and execution, so
// every later stage sees the same mode.
func ResolveMode(mode Mode, question string) Mode {
	if mode != ModeAuto {
		return mode
	}
	lower := strings.ToLower(question)
	for _, marker := range deepMarkers {
		if strings.Contains(lower, marker) {
			return ModeDeep
		}
	}
	if len(question) > 280 {
		return ModeDeep
	}
	return ModeFast
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CostBreakdown splits spend across cost centers, in dollars.
type CostBreakdown struct {
	Agent  float64 `json:"agent"`
	Data   float64 `json:"data"`
	Search float64 `json:"search"`
}

// Total sums all cost centers.
func (c CostBreakdown) Total() float64 { return c.Agent + c.Data + c.Search }

// SessionContext carries prior conversation turns into a run.
type SessionContext struct {
	SessionID string   `json:"session_id"`
	History   []Turn   `json:"history,omitempty"`
	Tickers   []string `json:"tickers,omitempty"`
}

// Turn is one prior exchange in a session.
type Turn struct {
	Question string `json:"question"`
	Response string `json:"response"`
}

// Outcome is the normalized result of one agent run.
type Outcome struct {
	Response  string            `json:"response"`
	Provider  string            `json:"provider"`
	Model     string            `json:"model"`
	Usage     Usage             `json:"usage"`
	Cost      CostBreakdown     `json:"cost"`
	Artifacts map[string][]byte `json:"artifacts,omitempty"`
}

// Error reports a failed run. Timeout marks deadline expiry; Partial
// carries any cost incurred before the failure so it can be settled.
type Error struct {
	Message string
	Timeout bool
	Partial CostBreakdown
}

func (e *Error) Error() string {
	if e.Timeout {
		return "agent timed out: " + e.Message
	}
	return "agent failed: " + e.Message
}

// Runner executes one question against the external answering
// capability. Implementations own their retry policy; callers treat
// any returned error as terminal.
type Runner interface {
	Run(ctx context.Context, question string, mode Mode, sess SessionContext) (Outcome, error)
}
