package agent

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tickerdesk/tickerdesk/config"
)

func testConfig(baseURL string) config.OpenAIConfig {
	return config.OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: baseURL,
		Models: map[string]config.ModelConfig{
			"fast-model": {APIName: "gpt-fast", MaxTokens: 1024, CostPer1KInput: 0.001, CostPer1KOutput: 0.002},
			"deep-model": {APIName: "gpt-deep", MaxTokens: 4096, CostPer1KInput: 0.01, CostPer1KOutput: 0.03},
		},
		Routing: config.RoutingConfig{Fast: "fast-model", Deep: "deep-model"},
		Timeout: 5 * time.Second,
	}
}

func completionBody(content string, promptTokens, completionTokens int) map[string]any {
	return map[string]any{
		"choices": []map[string]any{{"message": map[string]any{"content": content}}},
		"usage": map[string]any{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
		},
	}
}

func TestRunRoutesModeToModel(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotModel = req.Model
		json.NewEncoder(w).Encode(completionBody("answer", 100, 50))
	}))
	defer srv.Close()

	runner := NewOpenAIRunner(testConfig(srv.URL))

	out, err := runner.Run(context.Background(), "what moved SPY today?", ModeDeep, SessionContext{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gotModel != "gpt-deep" {
		t.Fatalf("deep mode should use the deep model, got %q", gotModel)
	}
	if out.Model != "deep-model" || out.Provider != "openai" {
		t.Fatalf("unexpected labels: %+v", out)
	}

	if _, err := runner.Run(context.Background(), "quick quote", ModeFast, SessionContext{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gotModel != "gpt-fast" {
		t.Fatalf("fast mode should use the fast model, got %q", gotModel)
	}
}

func TestRunComputesCostFromUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(completionBody("answer", 2000, 500))
	}))
	defer srv.Close()

	runner := NewOpenAIRunner(testConfig(srv.URL))

	out, err := runner.Run(context.Background(), "q", ModeFast, SessionContext{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Usage.TotalTokens != 2500 {
		t.Fatalf("usage: %+v", out.Usage)
	}
	// 2000/1000*0.001 + 500/1000*0.002
	want := 0.003
	if math.Abs(out.Cost.Agent-want) > 1e-9 {
		t.Fatalf("cost: got %v want %v", out.Cost.Agent, want)
	}
}

func TestRunServerErrorIsAgentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	runner := NewOpenAIRunner(testConfig(srv.URL))

	_, err := runner.Run(context.Background(), "q", ModeFast, SessionContext{})
	agentErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if agentErr.Timeout {
		t.Fatalf("server error is not a timeout")
	}
}

func TestRunTimeoutIsFlagged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(completionBody("late", 1, 1))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	runner := NewOpenAIRunner(cfg)

	_, err := runner.Run(context.Background(), "q", ModeFast, SessionContext{})
	agentErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if !agentErr.Timeout {
		t.Fatalf("expected timeout flag: %v", agentErr)
	}
}

func TestRunEmptyChoicesIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	runner := NewOpenAIRunner(testConfig(srv.URL))

	if _, err := runner.Run(context.Background(), "q", ModeFast, SessionContext{}); err == nil {
		t.Fatalf("expected error on empty choices")
	}
}

func TestRunIncludesSessionHistory(t *testing.T) {
	var messageCount int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct{ Role, Content string } `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		messageCount = len(req.Messages)
		json.NewEncoder(w).Encode(completionBody("answer", 1, 1))
	}))
	defer srv.Close()

	runner := NewOpenAIRunner(testConfig(srv.URL))

	sess := SessionContext{History: []Turn{{Question: "prior q", Response: "prior a"}}}
	if _, err := runner.Run(context.Background(), "followup", ModeFast, sess); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// system + prior pair + current question
	if messageCount != 4 {
		t.Fatalf("expected 4 messages, got %d", messageCount)
	}
}
