package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/tickerdesk/tickerdesk/config"
)

const systemPrompt = `You are a financial research assistant. Answer the user's question about markets, companies, and economic data. Be precise with figures, name your assumptions, and say so plainly when data is unavailable. Respond in Markdown.`

// OpenAIRunner implements Runner against an OpenAI-compatible chat
// completions API. The model is picked once per run from the mode
// routing table and never switched mid-run.
type OpenAIRunner struct {
	cfg        config.OpenAIConfig
	httpClient *http.Client
	logger     *log.Logger
}

func NewOpenAIRunner(cfg config.OpenAIConfig) *OpenAIRunner {
	return &OpenAIRunner{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     log.New(log.Writer(), "[AGENT] ", log.LstdFlags),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (r *OpenAIRunner) model(mode Mode) (string, config.ModelConfig, error) {
	name := r.cfg.Routing.Fast
	if mode == ModeDeep && r.cfg.Routing.Deep != "" {
		name = r.cfg.Routing.Deep
	}
	mc, ok := r.cfg.Models[name]
	if !ok {
		return "", config.ModelConfig{}, fmt.Errorf("no model configured for %q", name)
	}
	if mc.APIName == "" {
		mc.APIName = name
	}
	return name, mc, nil
}

// Run sends the question to the chat completions endpoint and
// normalizes the reply. Network failures, non-2xx statuses, and
// malformed payloads all surface as *Error.
func (r *OpenAIRunner) Run(ctx context.Context, question string, mode Mode, sess SessionContext) (Outcome, error) {
	name, mc, err := r.model(mode)
	if err != nil {
		return Outcome{}, &Error{Message: err.Error()}
	}

	messages := []chatMessage{{Role: "system", Content: systemPrompt}}
	for _, turn := range sess.History {
		messages = append(messages,
			chatMessage{Role: "user", Content: turn.Question},
			chatMessage{Role: "assistant", Content: turn.Response},
		)
	}
	messages = append(messages, chatMessage{Role: "user", Content: question})

	body, err := json.Marshal(chatRequest{
		Model:       mc.APIName,
		Messages:    messages,
		Temperature: mc.Temperature,
		MaxTokens:   mc.MaxTokens,
	})
	if err != nil {
		return Outcome{}, &Error{Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := strings.TrimRight(r.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Outcome{}, &Error{Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return Outcome{}, &Error{Message: err.Error(), Timeout: isTimeout(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Outcome{}, &Error{Message: fmt.Sprintf("provider returned %s: %s", resp.Status, string(b))}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Outcome{}, &Error{Message: fmt.Sprintf("parse response: %v", err)}
	}
	if len(parsed.Choices) == 0 {
		return Outcome{}, &Error{Message: "no choices in response"}
	}

	usage := Usage{
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		TotalTokens:      parsed.Usage.TotalTokens,
	}
	cost := CostBreakdown{
		Agent: float64(usage.PromptTokens)/1000*mc.CostPer1KInput +
			float64(usage.CompletionTokens)/1000*mc.CostPer1KOutput,
	}
	r.logger.Printf("run complete: model=%s tokens=%d cost=$%.4f", name, usage.TotalTokens, cost.Total())

	return Outcome{
		Response: parsed.Choices[0].Message.Content,
		Provider: "openai",
		Model:    name,
		Usage:    usage,
		Cost:     cost,
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
