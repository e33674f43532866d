package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/tickerdesk/tickerdesk/internal/agent"
	"github.com/tickerdesk/tickerdesk/internal/budget"
	"github.com/tickerdesk/tickerdesk/internal/query"
)

// Store wraps the Postgres connection. All methods take a context and
// return explicit errors; callers own transactions boundaries.
type Store struct {
	DB *sql.DB
}

// ErrTerminalRecord indicates an attempt to rewrite a query record
// that already left pending.
var ErrTerminalRecord = errors.New("query record is already terminal")

var (
	metricsOnce    sync.Once
	costCounter    otelmetric.Float64Counter
	tokenCounter   otelmetric.Int64Counter
	metricsInitErr error
)

func initStoreMetrics() {
	meter := otel.Meter("store")
	var err error
	costCounter, err = meter.Float64Counter("query_cost_total")
	if err != nil {
		metricsInitErr = err
		return
	}
	tokenCounter, err = meter.Int64Counter("query_tokens_total")
	if err != nil {
		metricsInitErr = err
	}
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Session operations
type Session struct {
	ID        string
	UserID    string
	Title     string
	CreatedAt time.Time
}

func (s *Store) CreateSession(ctx context.Context, userID, title string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `INSERT INTO sessions (user_id, title) VALUES ($1,$2) RETURNING id`, userID, title).Scan(&id)
	return id, err
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, user_id, title, created_at FROM sessions WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) SessionBelongsTo(ctx context.Context, sessionID, userID string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id=$1 AND user_id=$2`, sessionID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SessionHistory returns the most recent completed turns in the
// session, oldest first, capped at limit.
func (s *Store) SessionHistory(ctx context.Context, sessionID string, limit int) ([]agent.Turn, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT question, response FROM query_records
WHERE session_id=$1 AND status='completed'
ORDER BY created_at DESC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var turns []agent.Turn
	for rows.Next() {
		var t agent.Turn
		if err := rows.Scan(&t.Question, &t.Response); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Query record operations
func (s *Store) CreateQueryRecord(ctx context.Context, rec *query.Record) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO query_records (id, user_id, session_id, question, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rec.ID, rec.UserID, nullableString(rec.SessionID), rec.Question, rec.Status, rec.CreatedAt, rec.UpdatedAt)
	return err
}

// FinishQueryRecord writes the terminal state. The pending guard in
// the WHERE clause makes a second write fail loudly instead of
// silently rewriting history.
func (s *Store) FinishQueryRecord(ctx context.Context, rec *query.Record) error {
	var artifacts []byte
	if len(rec.Artifacts) > 0 {
		b, err := json.Marshal(rec.Artifacts)
		if err != nil {
			return fmt.Errorf("marshal artifacts: %w", err)
		}
		artifacts = b
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE query_records SET
  status=$2, response=$3, error=$4, provider=$5, model=$6,
  prompt_tokens=$7, completion_tokens=$8, total_tokens=$9,
  cost_agent=$10, cost_data=$11, cost_search=$12,
  artifacts=$13, updated_at=$14
WHERE id=$1 AND status='pending'`,
		rec.ID, rec.Status, nullableString(rec.Response), nullableString(rec.Error),
		nullableString(rec.Provider), nullableString(rec.Model),
		rec.Usage.PromptTokens, rec.Usage.CompletionTokens, rec.Usage.TotalTokens,
		rec.Cost.Agent, rec.Cost.Data, rec.Cost.Search,
		artifacts, rec.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTerminalRecord
	}
	if rec.Status == query.StatusCompleted {
		recordQueryMetrics(ctx, rec)
	}
	return nil
}

func recordQueryMetrics(ctx context.Context, rec *query.Record) {
	metricsOnce.Do(initStoreMetrics)
	if metricsInitErr != nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("provider", rec.Provider),
		attribute.String("model", rec.Model),
	}
	costCounter.Add(ctx, rec.Cost.Total(), otelmetric.WithAttributes(attrs...))
	tokenCounter.Add(ctx, int64(rec.Usage.TotalTokens), otelmetric.WithAttributes(attrs...))
}

func (s *Store) GetQueryRecord(ctx context.Context, id, userID string) (*query.Record, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, user_id, session_id, question, response, status, error, provider, model,
  prompt_tokens, completion_tokens, total_tokens,
  cost_agent, cost_data, cost_search, artifacts, created_at, updated_at
FROM query_records WHERE id=$1 AND user_id=$2`, id, userID)
	rec, err := scanQueryRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, query.ErrNotFound
	}
	return rec, err
}

func (s *Store) ListQueryRecords(ctx context.Context, userID, sessionID string, limit int) ([]*query.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
SELECT id, user_id, session_id, question, response, status, error, provider, model,
  prompt_tokens, completion_tokens, total_tokens,
  cost_agent, cost_data, cost_search, artifacts, created_at, updated_at
FROM query_records WHERE user_id=$1`
	args := []any{userID}
	if sessionID != "" {
		q += ` AND session_id=$2`
		args = append(args, sessionID)
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*query.Record
	for rows.Next() {
		rec, err := scanQueryRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueryRecord(row rowScanner) (*query.Record, error) {
	var rec query.Record
	var sessionID, response, errMsg, provider, model sql.NullString
	var artifacts []byte
	err := row.Scan(&rec.ID, &rec.UserID, &sessionID, &rec.Question, &response, &rec.Status,
		&errMsg, &provider, &model,
		&rec.Usage.PromptTokens, &rec.Usage.CompletionTokens, &rec.Usage.TotalTokens,
		&rec.Cost.Agent, &rec.Cost.Data, &rec.Cost.Search,
		&artifacts, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.SessionID = sessionID.String
	rec.Response = response.String
	rec.Error = errMsg.String
	rec.Provider = provider.String
	rec.Model = model.String
	if len(artifacts) > 0 {
		if err := json.Unmarshal(artifacts, &rec.Artifacts); err != nil {
			return nil, fmt.Errorf("unmarshal artifacts: %w", err)
		}
	}
	return &rec, nil
}

// Budget operations
func (s *Store) GetBudgetSettings(ctx context.Context, userID string) (budget.Settings, bool, error) {
	var bs budget.Settings
	err := s.DB.QueryRowContext(ctx, `
SELECT daily_cap, monthly_cap, session_cap, query_cap FROM budget_settings WHERE user_id=$1`, userID).
		Scan(&bs.DailyCap, &bs.MonthlyCap, &bs.SessionCap, &bs.QueryCap)
	if errors.Is(err, sql.ErrNoRows) {
		return budget.Settings{}, false, nil
	}
	if err != nil {
		return budget.Settings{}, false, err
	}
	return bs, true, nil
}

func (s *Store) UpsertBudgetSettings(ctx context.Context, userID string, bs budget.Settings) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO budget_settings (user_id, daily_cap, monthly_cap, session_cap, query_cap, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW())
ON CONFLICT (user_id) DO UPDATE SET
  daily_cap=EXCLUDED.daily_cap, monthly_cap=EXCLUDED.monthly_cap,
  session_cap=EXCLUDED.session_cap, query_cap=EXCLUDED.query_cap, updated_at=NOW()`,
		userID, bs.DailyCap, bs.MonthlyCap, bs.SessionCap, bs.QueryCap)
	return err
}

func (s *Store) GetSpend(ctx context.Context, userID, scope, key string) (float64, error) {
	var amount float64
	err := s.DB.QueryRowContext(ctx, `
SELECT amount FROM budget_spend WHERE user_id=$1 AND scope=$2 AND scope_key=$3`, userID, scope, key).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return amount, err
}

// AddSpend increments an aggregate atomically in SQL so concurrent
// settlements cannot lose increments.
func (s *Store) AddSpend(ctx context.Context, userID, scope, key string, amount float64) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO budget_spend (user_id, scope, scope_key, amount, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (user_id, scope, scope_key) DO UPDATE SET
  amount=budget_spend.amount+EXCLUDED.amount, updated_at=NOW()`,
		userID, scope, key, amount)
	return err
}

// Scheduled query operations
type ScheduledQuery struct {
	ID        string
	UserID    string
	Question  string
	Mode      string
	Profile   string
	CronSpec  string
	Enabled   bool
	LastRunAt *time.Time
	CreatedAt time.Time
}

func (s *Store) CreateScheduledQuery(ctx context.Context, sq ScheduledQuery) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO scheduled_queries (user_id, question, mode, profile, cron_spec, enabled)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		sq.UserID, sq.Question, sq.Mode, sq.Profile, sq.CronSpec, sq.Enabled).Scan(&id)
	return id, err
}

func (s *Store) ListScheduledQueries(ctx context.Context, userID string) ([]ScheduledQuery, error) {
	return s.listScheduled(ctx, `SELECT id, user_id, question, mode, profile, cron_spec, enabled, last_run_at, created_at
FROM scheduled_queries WHERE user_id=$1 ORDER BY created_at DESC`, userID)
}

func (s *Store) ListEnabledScheduledQueries(ctx context.Context) ([]ScheduledQuery, error) {
	return s.listScheduled(ctx, `SELECT id, user_id, question, mode, profile, cron_spec, enabled, last_run_at, created_at
FROM scheduled_queries WHERE enabled=TRUE`)
}

func (s *Store) listScheduled(ctx context.Context, q string, args ...any) ([]ScheduledQuery, error) {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ScheduledQuery
	for rows.Next() {
		var sq ScheduledQuery
		var last sql.NullTime
		if err := rows.Scan(&sq.ID, &sq.UserID, &sq.Question, &sq.Mode, &sq.Profile, &sq.CronSpec, &sq.Enabled, &last, &sq.CreatedAt); err != nil {
			return nil, err
		}
		if last.Valid {
			t := last.Time
			sq.LastRunAt = &t
		}
		out = append(out, sq)
	}
	return out, rows.Err()
}

func (s *Store) MarkScheduledQueryRun(ctx context.Context, id string, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE scheduled_queries SET last_run_at=$2 WHERE id=$1`, id, at)
	return err
}

func (s *Store) SetScheduledQueryEnabled(ctx context.Context, id, userID string, enabled bool) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE scheduled_queries SET enabled=$3 WHERE id=$1 AND user_id=$2`, id, userID, enabled)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return query.ErrNotFound
	}
	return nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
