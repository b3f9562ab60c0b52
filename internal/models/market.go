package models

import (
	"math"
	"sort"
	"time"

	"options-risk-engine/internal/errors"
)

// MarketData is the collaborator-supplied state of one underlying.
type MarketData struct {
	Symbol        string
	Spot          float64
	Volatility    float64
	Rate          float64
	DividendYield float64
	AsOf          time.Time
}

// MarketSnapshot is a point-in-time set of quotes keyed by symbol.
type MarketSnapshot struct {
	Quotes map[string]MarketData
	// MaxAge rejects quotes older than this at lookup time. Zero disables the check.
	MaxAge time.Duration
}

// NewMarketSnapshot builds a snapshot from quotes.
func NewMarketSnapshot(maxAge time.Duration, quotes ...MarketData) MarketSnapshot {
	s := MarketSnapshot{
		Quotes: make(map[string]MarketData, len(quotes)),
		MaxAge: maxAge,
	}
	for _, q := range quotes {
		s.Quotes[q.Symbol] = q
	}
	return s
}

// Lookup returns usable market data for symbol at now.
func (s MarketSnapshot) Lookup(symbol string, now time.Time) (MarketData, error) {
	md, ok := s.Quotes[symbol]
	if !ok {
		return MarketData{}, errors.NewMarketDataError(symbol, "no quote", nil)
	}
	if !(md.Spot > 0) || math.IsInf(md.Spot, 0) {
		return MarketData{}, errors.NewMarketDataError(symbol, "invalid spot price", nil)
	}
	if s.MaxAge > 0 && !md.AsOf.IsZero() && now.Sub(md.AsOf) > s.MaxAge {
		return MarketData{}, errors.NewMarketDataError(symbol, "quote is stale", nil)
	}
	return md, nil
}

// With returns a copy of the snapshot with md added or replaced.
func (s MarketSnapshot) With(md MarketData) MarketSnapshot {
	quotes := make(map[string]MarketData, len(s.Quotes)+1)
	for k, v := range s.Quotes {
		quotes[k] = v
	}
	quotes[md.Symbol] = md
	return MarketSnapshot{Quotes: quotes, MaxAge: s.MaxAge}
}

// Symbols returns the quoted symbols in sorted order.
func (s MarketSnapshot) Symbols() []string {
	out := make([]string, 0, len(s.Quotes))
	for sym := range s.Quotes {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
