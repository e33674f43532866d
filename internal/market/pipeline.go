package market

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tickerdesk/tickerdesk/config"
	"github.com/tickerdesk/tickerdesk/internal/telemetry"
)

// Pipeline assembles artifact fragments for a ticker. Fragments are
// fetched concurrently and independently; a failed fragment is logged,
// counted, and omitted. The pipeline never returns an error.
type Pipeline struct {
	cfg     config.MarketConfig
	sources map[string]Source
	cache   *Cache
	logger  *log.Logger
}

func NewPipeline(cfg config.MarketConfig, sources []Source, cache *Cache) *Pipeline {
	byFragment := make(map[string]Source, len(sources))
	for _, s := range sources {
		byFragment[s.Fragment()] = s
	}
	return &Pipeline{
		cfg:     cfg,
		sources: byFragment,
		cache:   cache,
		logger:  log.New(log.Writer(), "[MARKET] ", log.LstdFlags),
	}
}

// Enrich fetches the fragments selected by profile for ticker, plus the
// light fragments for each related ticker, keyed "<fragment>:<TICKER>".
// Missing keys in the returned bag mean the fragment was unavailable.
func (p *Pipeline) Enrich(ctx context.Context, ticker string, related []string, profile Profile) ArtifactBag {
	bag := make(ArtifactBag)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	limit := p.cfg.MaxParallel
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)

	collect := func(key, fragment, symbol string) {
		g.Go(func() error {
			payload, err := p.fetch(gctx, fragment, symbol)
			if err != nil {
				p.logger.Printf("fragment %s for %q unavailable: %v", fragment, symbol, err)
				telemetry.FragmentFailures.WithLabelValues(fragment).Inc()
				return nil
			}
			mu.Lock()
			bag[key] = payload
			mu.Unlock()
			return nil
		})
	}

	for _, fragment := range fragmentsFor(profile) {
		collect(fragment, fragment, ticker)
	}
	for _, rel := range related {
		if rel == ticker {
			continue
		}
		for _, fragment := range lightFragments {
			collect(fragment+":"+rel, fragment, rel)
		}
	}

	// Workers only return nil; Wait is for completion, not errors.
	_ = g.Wait()
	return bag
}

func (p *Pipeline) fetch(ctx context.Context, fragment, ticker string) (json.RawMessage, error) {
	src, ok := p.sources[fragment]
	if !ok {
		return nil, errUnknownFragment(fragment)
	}
	if payload, ok := p.cache.Get(ctx, fragment, ticker); ok {
		return payload, nil
	}
	payload, err := src.Fetch(ctx, ticker)
	if err != nil {
		return nil, err
	}
	p.cache.Set(ctx, fragment, ticker, payload, p.cacheTTL(fragment))
	return payload, nil
}

func (p *Pipeline) cacheTTL(fragment string) time.Duration {
	if fragment == FragmentMacroCards {
		return p.cfg.MacroCacheTTL
	}
	return p.cfg.CacheTTL
}

type errUnknownFragment string

func (e errUnknownFragment) Error() string { return "no source for fragment " + string(e) }
