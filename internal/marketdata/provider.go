// Package marketdata defines the market-data collaborator used by the engine
// and ships a static provider plus a caching, circuit-broken wrapper.
package marketdata

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"options-risk-engine/internal/errors"
	"options-risk-engine/internal/models"
)

// Provider supplies current market data for one underlying.
type Provider interface {
	Quote(ctx context.Context, symbol string) (models.MarketData, error)
}

// StaticProvider serves quotes from memory. It is safe for concurrent use.
type StaticProvider struct {
	mu     sync.RWMutex
	quotes map[string]models.MarketData
	now    func() time.Time
}

// NewStaticProvider creates a provider seeded with quotes.
func NewStaticProvider(quotes ...models.MarketData) *StaticProvider {
	p := &StaticProvider{
		quotes: make(map[string]models.MarketData, len(quotes)),
		now:    time.Now,
	}
	for _, q := range quotes {
		p.quotes[q.Symbol] = q
	}
	return p
}

// Set adds or replaces a quote.
func (p *StaticProvider) Set(md models.MarketData) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[md.Symbol] = md
}

// Remove deletes a quote.
func (p *StaticProvider) Remove(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.quotes, symbol)
}

// Quote returns the stored quote. Quotes without a timestamp are stamped
// with the current time.
func (p *StaticProvider) Quote(ctx context.Context, symbol string) (models.MarketData, error) {
	if err := ctx.Err(); err != nil {
		return models.MarketData{}, err
	}
	p.mu.RLock()
	md, ok := p.quotes[symbol]
	p.mu.RUnlock()
	if !ok {
		return models.MarketData{}, errors.NewMarketDataError(symbol, "symbol not configured", nil)
	}
	if md.AsOf.IsZero() {
		md.AsOf = p.now()
	}
	return md, nil
}

// Snapshot fetches quotes for symbols into a MarketSnapshot. Symbols that
// fail are left out and logged; the core reports them as skipped items.
func Snapshot(ctx context.Context, provider Provider, symbols []string, maxAge time.Duration, logger zerolog.Logger) (models.MarketSnapshot, error) {
	snap := models.NewMarketSnapshot(maxAge)
	seen := make(map[string]struct{}, len(symbols))
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)

	for _, sym := range sorted {
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}

		md, err := provider.Quote(ctx, sym)
		if err != nil {
			if ctx.Err() != nil {
				return snap, ctx.Err()
			}
			logger.Warn().Err(err).Str("symbol", sym).Msg("Market data unavailable")
			continue
		}
		if md.Symbol == "" {
			md.Symbol = sym
		}
		snap.Quotes[sym] = md
	}
	return snap, nil
}
