package budget

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Spend scopes persisted by the store.
const (
	ScopeDay     = "day"
	ScopeMonth   = "month"
	ScopeSession = "session"
)

// Settings defines per-user spending caps. All values are positive.
type Settings struct {
	DailyCap   float64 `json:"daily_cap"`
	MonthlyCap float64 `json:"monthly_cap"`
	SessionCap float64 `json:"session_cap"`
	QueryCap   float64 `json:"query_cap"`
}

// SettingsPatch carries a partial settings update; nil fields are unchanged.
type SettingsPatch struct {
	DailyCap   *float64 `json:"daily_cap,omitempty"`
	MonthlyCap *float64 `json:"monthly_cap,omitempty"`
	SessionCap *float64 `json:"session_cap,omitempty"`
	QueryCap   *float64 `json:"query_cap,omitempty"`
}

// Spent holds running totals for the current windows.
type Spent struct {
	Day     float64 `json:"day"`
	Month   float64 `json:"month"`
	Session float64 `json:"session,omitempty"`
}

// Remaining is derived from settings minus spent, clamped at zero for
// display only. Admission always compares unclamped headroom.
type Remaining struct {
	Day     float64 `json:"day"`
	Month   float64 `json:"month"`
	Session float64 `json:"session,omitempty"`
}

// State is a read-only budget snapshot.
type State struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id,omitempty"`
	Settings  Settings  `json:"settings"`
	Spent     Spent     `json:"spent"`
	Remaining Remaining `json:"remaining"`
	AsOf      time.Time `json:"as_of"`
}

// Store captures the persistence the ledger requires.
type Store interface {
	GetBudgetSettings(ctx context.Context, userID string) (Settings, bool, error)
	UpsertBudgetSettings(ctx context.Context, userID string, s Settings) error
	GetSpend(ctx context.Context, userID, scope, key string) (float64, error)
	AddSpend(ctx context.Context, userID, scope, key string, amount float64) error
}

// Ledger tracks per-user spend against caps. Admission checks are pure
// reads; settlement serialises per user so concurrent queries cannot
// lose updates.
type Ledger struct {
	store    Store
	defaults Settings

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

// NewLedger constructs a Ledger with default caps for users who have
// not customised their settings.
func NewLedger(store Store, defaults Settings) *Ledger {
	return &Ledger{
		store:    store,
		defaults: defaults,
		users:    make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) userLock(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	mu, ok := l.users[userID]
	if !ok {
		mu = &sync.Mutex{}
		l.users[userID] = mu
	}
	return mu
}

func dayKey(t time.Time) string   { return t.UTC().Format("2006-01-02") }
func monthKey(t time.Time) string { return t.UTC().Format("2006-01") }

func (l *Ledger) settings(ctx context.Context, userID string) (Settings, error) {
	s, ok, err := l.store.GetBudgetSettings(ctx, userID)
	if err != nil {
		return Settings{}, fmt.Errorf("load budget settings: %w", err)
	}
	if !ok {
		return l.defaults, nil
	}
	return s, nil
}

func (l *Ledger) spent(ctx context.Context, userID, sessionID string, now time.Time) (Spent, error) {
	var out Spent
	day, err := l.store.GetSpend(ctx, userID, ScopeDay, dayKey(now))
	if err != nil {
		return out, fmt.Errorf("load daily spend: %w", err)
	}
	month, err := l.store.GetSpend(ctx, userID, ScopeMonth, monthKey(now))
	if err != nil {
		return out, fmt.Errorf("load monthly spend: %w", err)
	}
	out.Day = day
	out.Month = month
	if sessionID != "" {
		sess, err := l.store.GetSpend(ctx, userID, ScopeSession, sessionID)
		if err != nil {
			return out, fmt.Errorf("load session spend: %w", err)
		}
		out.Session = sess
	}
	return out, nil
}

// CheckAdmission reports whether a query with the given estimated cost
// may proceed. It never mutates state and is safe to call repeatedly.
// A projected spend strictly greater than a cap denies; exactly meeting
// a cap is allowed. The returned ErrExceeded names the breached cap.
func (l *Ledger) CheckAdmission(ctx context.Context, userID, sessionID string, estimatedCost float64) error {
	if estimatedCost < 0 {
		return fmt.Errorf("estimated cost cannot be negative")
	}
	settings, err := l.settings(ctx, userID)
	if err != nil {
		return err
	}
	if estimatedCost > settings.QueryCap {
		return ErrExceeded{Cap: CapQuery, Projected: estimatedCost, Limit: settings.QueryCap}
	}
	spent, err := l.spent(ctx, userID, sessionID, time.Now())
	if err != nil {
		return err
	}
	if projected := spent.Day + estimatedCost; projected > settings.DailyCap {
		return ErrExceeded{Cap: CapDaily, Projected: projected, Limit: settings.DailyCap}
	}
	if projected := spent.Month + estimatedCost; projected > settings.MonthlyCap {
		return ErrExceeded{Cap: CapMonthly, Projected: projected, Limit: settings.MonthlyCap}
	}
	if sessionID != "" {
		if projected := spent.Session + estimatedCost; projected > settings.SessionCap {
			return ErrExceeded{Cap: CapSession, Projected: projected, Limit: settings.SessionCap}
		}
	}
	return nil
}

// RecordUsage commits actual spend to the daily, monthly, and session
// aggregates. Callers invoke it exactly once per executed query; the
// per-user lock plus the store's additive update keep concurrent
// settlements from losing increments.
func (l *Ledger) RecordUsage(ctx context.Context, userID, sessionID string, actualCost float64) error {
	if actualCost < 0 {
		return fmt.Errorf("actual cost cannot be negative")
	}
	if actualCost == 0 {
		return nil
	}
	mu := l.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now()
	if err := l.store.AddSpend(ctx, userID, ScopeDay, dayKey(now), actualCost); err != nil {
		return fmt.Errorf("record daily spend: %w", err)
	}
	if err := l.store.AddSpend(ctx, userID, ScopeMonth, monthKey(now), actualCost); err != nil {
		return fmt.Errorf("record monthly spend: %w", err)
	}
	if sessionID != "" {
		if err := l.store.AddSpend(ctx, userID, ScopeSession, sessionID, actualCost); err != nil {
			return fmt.Errorf("record session spend: %w", err)
		}
	}
	return nil
}

// Snapshot returns the current budget state for a user, optionally
// scoped to a session.
func (l *Ledger) Snapshot(ctx context.Context, userID, sessionID string) (State, error) {
	settings, err := l.settings(ctx, userID)
	if err != nil {
		return State{}, err
	}
	now := time.Now()
	spent, err := l.spent(ctx, userID, sessionID, now)
	if err != nil {
		return State{}, err
	}
	st := State{
		UserID:    userID,
		SessionID: sessionID,
		Settings:  settings,
		Spent:     spent,
		Remaining: Remaining{
			Day:   clampZero(settings.DailyCap - spent.Day),
			Month: clampZero(settings.MonthlyCap - spent.Month),
		},
		AsOf: now,
	}
	if sessionID != "" {
		st.Remaining.Session = clampZero(settings.SessionCap - spent.Session)
	}
	return st, nil
}

// UpdateSettings applies a partial cap update. Values must stay
// positive; unspecified fields are unchanged.
func (l *Ledger) UpdateSettings(ctx context.Context, userID string, patch SettingsPatch) (State, error) {
	settings, err := l.settings(ctx, userID)
	if err != nil {
		return State{}, err
	}
	if patch.DailyCap != nil {
		settings.DailyCap = *patch.DailyCap
	}
	if patch.MonthlyCap != nil {
		settings.MonthlyCap = *patch.MonthlyCap
	}
	if patch.SessionCap != nil {
		settings.SessionCap = *patch.SessionCap
	}
	if patch.QueryCap != nil {
		settings.QueryCap = *patch.QueryCap
	}
	if err := validateSettings(settings); err != nil {
		return State{}, err
	}
	if err := l.store.UpsertBudgetSettings(ctx, userID, settings); err != nil {
		return State{}, fmt.Errorf("save budget settings: %w", err)
	}
	return l.Snapshot(ctx, userID, "")
}

func validateSettings(s Settings) error {
	if s.DailyCap <= 0 {
		return fmt.Errorf("daily_cap must be positive")
	}
	if s.MonthlyCap <= 0 {
		return fmt.Errorf("monthly_cap must be positive")
	}
	if s.SessionCap <= 0 {
		return fmt.Errorf("session_cap must be positive")
	}
	if s.QueryCap <= 0 {
		return fmt.Errorf("query_cap must be positive")
	}
	return nil
}

func clampZero(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
