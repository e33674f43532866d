package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/tickerdesk/tickerdesk/config"
	"github.com/tickerdesk/tickerdesk/internal/agent"
	"github.com/tickerdesk/tickerdesk/internal/budget"
	"github.com/tickerdesk/tickerdesk/internal/market"
	"github.com/tickerdesk/tickerdesk/internal/telemetry"
)

// Store is the persistence the executor needs.
type Store interface {
	// SessionBelongsTo reports whether the session exists and is owned
	// by the user.
	SessionBelongsTo(ctx context.Context, sessionID, userID string) (bool, error)
	// CreateQueryRecord inserts a pending record.
	CreateQueryRecord(ctx context.Context, rec *Record) error
	// FinishQueryRecord writes the terminal state of a record. Called
	// exactly once per record.
	FinishQueryRecord(ctx context.Context, rec *Record) error
	// GetQueryRecord loads a record owned by the user.
	GetQueryRecord(ctx context.Context, id, userID string) (*Record, error)
	// ListQueryRecords returns the user's records, newest first,
	// optionally filtered by session.
	ListQueryRecords(ctx context.Context, userID, sessionID string, limit int) ([]*Record, error)
	// SessionHistory returns recent turns for session context, newest last.
	SessionHistory(ctx context.Context, sessionID string, limit int) ([]agent.Turn, error)
}

// Ledger is the budget surface the executor consumes.
type Ledger interface {
	CheckAdmission(ctx context.Context, userID, sessionID string, estimatedCost float64) error
	RecordUsage(ctx context.Context, userID, sessionID string, actualCost float64) error
}

// Enricher attaches market-data fragments to a result.
type Enricher interface {
	Enrich(ctx context.Context, ticker string, related []string, profile market.Profile) market.ArtifactBag
}

// Executor drives one query through admission, agent execution,
// enrichment, and settlement. It is the unit of work for both the
// synchronous path and the job queue.
type Executor struct {
	store    Store
	ledger   Ledger
	runner   agent.Runner
	enricher Enricher
	provider config.OpenAIConfig
	logger   *log.Logger
}

func NewExecutor(store Store, ledger Ledger, runner agent.Runner, enricher Enricher, provider config.OpenAIConfig) *Executor {
	return &Executor{
		store:    store,
		ledger:   ledger,
		runner:   runner,
		enricher: enricher,
		provider: provider,
		logger:   log.New(log.Writer(), "[QUERY] ", log.LstdFlags),
	}
}

// Execute runs one query end to end. The returned record is always the
// persisted terminal state; err is non-nil when the query failed
// (budget denial or agent failure) so queue callers can mark the job
// failed. Exactly one terminal persistence write happens per call.
func (e *Executor) Execute(ctx context.Context, req Request) (*Record, error) {
	req.Mode = agent.ResolveMode(req.Mode, req.Question)
	if req.SessionID != "" {
		ok, err := e.store.SessionBelongsTo(ctx, req.SessionID, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("check session: %w", err)
		}
		if !ok {
			return nil, ErrNotFound
		}
	}

	now := time.Now().UTC()
	rec := &Record{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Question:  req.Question,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateQueryRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("create query record: %w", err)
	}

	// admitting
	estimated := EstimateCost(e.provider, req.Question, req.Mode, req.Profile)
	if err := e.ledger.CheckAdmission(ctx, req.UserID, req.SessionID, estimated); err != nil {
		var exceeded budget.ErrExceeded
		if errors.As(err, &exceeded) {
			telemetry.BudgetDenials.WithLabelValues(exceeded.Cap).Inc()
			return e.fail(ctx, rec, err)
		}
		return e.fail(ctx, rec, fmt.Errorf("budget admission: %w", err))
	}

	// executing
	sess, err := e.sessionContext(ctx, req)
	if err != nil {
		e.logger.Printf("session history for %s unavailable: %v", req.SessionID, err)
	}
	outcome, err := e.runner.Run(ctx, req.Question, req.Mode, sess)
	if err != nil {
		var agentErr *agent.Error
		if errors.As(err, &agentErr) && agentErr.Partial.Total() > 0 {
			rec.Cost = agentErr.Partial
			e.settle(ctx, rec)
		}
		return e.fail(ctx, rec, err)
	}
	rec.Response = outcome.Response
	rec.Provider = outcome.Provider
	rec.Model = outcome.Model
	rec.Usage = outcome.Usage
	rec.Cost = outcome.Cost
	rec.Artifacts = make(market.ArtifactBag, len(outcome.Artifacts))
	for k, v := range outcome.Artifacts {
		rec.Artifacts[k] = json.RawMessage(v)
	}

	// enriching
	tickers := market.ExtractTickers(req.Question + " " + outcome.Response)
	if len(tickers) > 0 {
		bag := e.enricher.Enrich(ctx, tickers[0], tickers[1:], req.Profile)
		rec.Artifacts.Merge(bag)
	}

	// settling
	e.settle(ctx, rec)
	rec.Status = StatusCompleted
	rec.UpdatedAt = time.Now().UTC()
	if err := e.store.FinishQueryRecord(context.WithoutCancel(ctx), rec); err != nil {
		return nil, fmt.Errorf("persist query record: %w", err)
	}
	telemetry.QueriesTotal.WithLabelValues(StatusCompleted).Inc()
	telemetry.QueryCostTotal.Add(rec.Cost.Total())
	return rec, nil
}

// Get returns a record scoped to its owner.
func (e *Executor) Get(ctx context.Context, id, userID string) (*Record, error) {
	return e.store.GetQueryRecord(ctx, id, userID)
}

// List returns the owner's recent records, optionally session-scoped.
func (e *Executor) List(ctx context.Context, userID, sessionID string, limit int) ([]*Record, error) {
	return e.store.ListQueryRecords(ctx, userID, sessionID, limit)
}

func (e *Executor) sessionContext(ctx context.Context, req Request) (agent.SessionContext, error) {
	sess := agent.SessionContext{SessionID: req.SessionID}
	if req.SessionID == "" {
		return sess, nil
	}
	history, err := e.store.SessionHistory(ctx, req.SessionID, 10)
	if err != nil {
		return sess, err
	}
	sess.History = history
	return sess, nil
}

// settle records actual spend. Settlement problems are logged, not
// escalated; the record's terminal status is already decided. The
// write is detached from the execution context, which may already be
// expired when a timed-out run is being settled.
func (e *Executor) settle(ctx context.Context, rec *Record) {
	total := rec.Cost.Total()
	if total <= 0 {
		return
	}
	if err := e.ledger.RecordUsage(context.WithoutCancel(ctx), rec.UserID, rec.SessionID, total); err != nil {
		e.logger.Printf("record usage for query %s: %v", rec.ID, err)
	}
}

// fail persists the failed record. The terminal write must land even
// when the execution context has expired, so it runs detached.
func (e *Executor) fail(ctx context.Context, rec *Record, cause error) (*Record, error) {
	rec.Status = StatusFailed
	rec.Error = cause.Error()
	rec.UpdatedAt = time.Now().UTC()
	if err := e.store.FinishQueryRecord(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.Printf("persist failed query %s: %v", rec.ID, err)
	}
	telemetry.QueriesTotal.WithLabelValues(StatusFailed).Inc()
	return rec, cause
}
