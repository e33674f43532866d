package query

import (
	"github.com/tickerdesk/tickerdesk/config"
	"github.com/tickerdesk/tickerdesk/internal/agent"
	"github.com/tickerdesk/tickerdesk/internal/market"
)

// Expected completion sizes per mode, in tokens. Deliberately on the
// generous side so admission errs toward denying rather than
// overdrafting a cap.
const (
	fastCompletionEstimate = 1500
	deepCompletionEstimate = 6000

	// Flat allowance for market-data fees per enrichment profile.
	lightDataEstimate = 0.01
	fullDataEstimate  = 0.05
)

// EstimateCost predicts the dollar cost of a query before any paid
// work happens, from the routed model's pricing and the enrichment
// profile.
func EstimateCost(cfg config.OpenAIConfig, question string, mode agent.Mode, profile market.Profile) float64 {
	name := cfg.Routing.Fast
	completion := fastCompletionEstimate
	if mode == agent.ModeDeep && cfg.Routing.Deep != "" {
		name = cfg.Routing.Deep
		completion = deepCompletionEstimate
	}
	mc := cfg.Models[name]

	// Rough prompt size: system prompt plus the question at 4 chars
	// per token.
	promptTokens := 300 + len(question)/4
	est := float64(promptTokens)/1000*mc.CostPer1KInput +
		float64(completion)/1000*mc.CostPer1KOutput

	if profile == market.ProfileFull {
		est += fullDataEstimate
	} else {
		est += lightDataEstimate
	}
	return est
}
