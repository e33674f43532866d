package store

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/tickerdesk/tickerdesk/internal/agent"
	"github.com/tickerdesk/tickerdesk/internal/budget"
	"github.com/tickerdesk/tickerdesk/internal/market"
	"github.com/tickerdesk/tickerdesk/internal/query"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	return &Store{DB: db}, mock, func() { db.Close() }
}

func TestAddSpendUpsert(t *testing.T) {
	st, mock, closeDB := newMock(t)
	defer closeDB()

	mock.ExpectExec(`INSERT INTO budget_spend`).
		WithArgs("user-1", budget.ScopeDay, "2026-08-31", 0.75).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.AddSpend(context.Background(), "user-1", budget.ScopeDay, "2026-08-31", 0.75); err != nil {
		t.Fatalf("AddSpend: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetSpendMissingRowIsZero(t *testing.T) {
	st, mock, closeDB := newMock(t)
	defer closeDB()

	mock.ExpectQuery(`SELECT amount FROM budget_spend`).
		WithArgs("user-1", budget.ScopeMonth, "2026-08").
		WillReturnRows(sqlmock.NewRows([]string{"amount"}))

	amount, err := st.GetSpend(context.Background(), "user-1", budget.ScopeMonth, "2026-08")
	if err != nil {
		t.Fatalf("GetSpend: %v", err)
	}
	if amount != 0 {
		t.Fatalf("missing aggregate must read as zero, got %v", amount)
	}
}

func TestGetBudgetSettingsAbsent(t *testing.T) {
	st, mock, closeDB := newMock(t)
	defer closeDB()

	mock.ExpectQuery(`SELECT daily_cap, monthly_cap, session_cap, query_cap FROM budget_settings`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"daily_cap", "monthly_cap", "session_cap", "query_cap"}))

	_, ok, err := st.GetBudgetSettings(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetBudgetSettings: %v", err)
	}
	if ok {
		t.Fatalf("expected absent settings")
	}
}

func TestFinishQueryRecordGuardsTerminalRows(t *testing.T) {
	st, mock, closeDB := newMock(t)
	defer closeDB()

	rec := &query.Record{
		ID:        "q-1",
		UserID:    "user-1",
		Status:    query.StatusCompleted,
		Response:  "done",
		Provider:  "openai",
		Model:     "fast-model",
		Usage:     agent.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		Cost:      agent.CostBreakdown{Agent: 0.01},
		UpdatedAt: time.Now(),
	}

	mock.ExpectExec(`UPDATE query_records SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := st.FinishQueryRecord(context.Background(), rec)
	if !errors.Is(err, ErrTerminalRecord) {
		t.Fatalf("expected ErrTerminalRecord, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetQueryRecordNotFoundForForeignUser(t *testing.T) {
	st, mock, closeDB := newMock(t)
	defer closeDB()

	mock.ExpectQuery(`SELECT id, user_id, session_id, question`).
		WithArgs("q-1", "intruder").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := st.GetQueryRecord(context.Background(), "q-1", "intruder")
	if !errors.Is(err, query.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetQueryRecordScansArtifacts(t *testing.T) {
	st, mock, closeDB := newMock(t)
	defer closeDB()

	now := time.Now()
	cols := []string{
		"id", "user_id", "session_id", "question", "response", "status", "error", "provider", "model",
		"prompt_tokens", "completion_tokens", "total_tokens",
		"cost_agent", "cost_data", "cost_search", "artifacts", "created_at", "updated_at",
	}
	mock.ExpectQuery(`SELECT id, user_id, session_id, question`).
		WithArgs("q-1", "user-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"q-1", "user-1", "sess-1", "how is AAPL?", "fine", "completed", nil, "openai", "fast-model",
			100, 50, 150,
			0.02, 0.0, 0.0, []byte(`{"price_chart":{"points":[]}}`), now, now))

	rec, err := st.GetQueryRecord(context.Background(), "q-1", "user-1")
	if err != nil {
		t.Fatalf("GetQueryRecord: %v", err)
	}
	if rec.SessionID != "sess-1" || rec.Status != query.StatusCompleted {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if _, ok := rec.Artifacts[market.FragmentPriceChart]; !ok {
		t.Fatalf("artifacts not decoded: %v", rec.Artifacts)
	}
}

func TestSessionHistoryOrdersOldestFirst(t *testing.T) {
	st, mock, closeDB := newMock(t)
	defer closeDB()

	mock.ExpectQuery(`SELECT question, response FROM query_records`).
		WithArgs("sess-1", 10).
		WillReturnRows(sqlmock.NewRows([]string{"question", "response"}).
			AddRow("newest q", "newest a").
			AddRow("oldest q", "oldest a"))

	turns, err := st.SessionHistory(context.Background(), "sess-1", 10)
	if err != nil {
		t.Fatalf("SessionHistory: %v", err)
	}
	if len(turns) != 2 || turns[0].Question != "oldest q" || turns[1].Question != "newest q" {
		t.Fatalf("unexpected order: %+v", turns)
	}
}

func TestSessionBelongsTo(t *testing.T) {
	st, mock, closeDB := newMock(t)
	defer closeDB()

	mock.ExpectQuery(`SELECT 1 FROM sessions`).
		WithArgs("sess-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(`SELECT 1 FROM sessions`).
		WithArgs("sess-1", "intruder").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	ok, err := st.SessionBelongsTo(context.Background(), "sess-1", "user-1")
	if err != nil || !ok {
		t.Fatalf("owner check failed: ok=%v err=%v", ok, err)
	}
	ok, err = st.SessionBelongsTo(context.Background(), "sess-1", "intruder")
	if err != nil || ok {
		t.Fatalf("foreign check failed: ok=%v err=%v", ok, err)
	}
}

func TestSetScheduledQueryEnabledNotFound(t *testing.T) {
	st, mock, closeDB := newMock(t)
	defer closeDB()

	mock.ExpectExec(`UPDATE scheduled_queries SET enabled=`).
		WithArgs("sched-1", "intruder", false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := st.SetScheduledQueryEnabled(context.Background(), "sched-1", "intruder", false)
	if !errors.Is(err, query.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
