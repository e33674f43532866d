package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/tickerdesk/tickerdesk/config"
)

// Source fetches one artifact fragment for a ticker. Implementations
// return the payload to attach verbatim; the pipeline never inspects it.
type Source interface {
	Fragment() string
	Fetch(ctx context.Context, ticker string) (json.RawMessage, error)
}

// restSource talks to the market-data REST API. Each fragment maps to
// one path under the configured endpoint.
type restSource struct {
	fragment string
	path     string
	query    url.Values
	cfg      config.MarketConfig
	http     *HTTPClient
}

func (s *restSource) Fragment() string { return s.fragment }

func (s *restSource) Fetch(ctx context.Context, ticker string) (json.RawMessage, error) {
	endpoint := s.cfg.Endpoint
	if endpoint == "" {
		return nil, fmt.Errorf("market endpoint not configured")
	}
	q := url.Values{}
	for k, vs := range s.query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if ticker != "" {
		q.Set("symbol", ticker)
	}
	u := fmt.Sprintf("%s%s?%s", endpoint, s.path, q.Encode())
	headers := map[string]string{"X-Api-Key": s.cfg.APIKey}

	var out json.RawMessage
	if err := s.http.DoJSON(ctx, "GET", u, headers, nil, &out); err != nil {
		return nil, fmt.Errorf("%s: %w", s.fragment, err)
	}
	if len(out) == 0 || string(out) == "null" {
		return nil, fmt.Errorf("%s: empty payload", s.fragment)
	}
	return out, nil
}

// NewSources builds the full set of fragment sources against the
// configured market-data API.
func NewSources(cfg config.MarketConfig) []Source {
	httpClient := NewHTTPClient(cfg.Timeout, cfg.MaxRetries, 300*time.Millisecond)
	mk := func(fragment, path string, query url.Values) Source {
		return &restSource{fragment: fragment, path: path, query: query, cfg: cfg, http: httpClient}
	}
	return []Source{
		mk(FragmentPriceChart, "/v1/chart", url.Values{"range": {"1y"}, "interval": {"1d"}}),
		mk(FragmentMetrics, "/v1/metrics", nil),
		mk(FragmentMacroCards, "/v1/macro/cards", nil),
		mk(FragmentEarningsCalendar, "/v1/earnings/calendar", nil),
		mk(FragmentNewsSentiment, "/v1/news/sentiment", url.Values{"days": {"7"}}),
		mk(FragmentOptionsActivity, "/v1/options/activity", nil),
		mk(FragmentFilingChanges, "/v1/filings/changes", nil),
		mk(FragmentTranscriptQA, "/v1/transcripts/qa", url.Values{"quarters": {"1"}}),
		mk(FragmentOwnershipTrend, "/v1/ownership/trend", nil),
	}
}
