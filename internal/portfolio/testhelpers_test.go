package portfolio

import (
	"time"

	"github.com/rs/zerolog"

	"options-risk-engine/internal/greeks"
	"options-risk-engine/internal/models"
)

var testNow = time.Date(2026, 6, 1, 14, 30, 0, 0, time.UTC)

func newTestAggregator() *Aggregator {
	return NewAggregator(greeks.NewCalculator(), zerolog.Nop())
}

func shortCall(symbol string, strike float64, qty int, days int) models.Position {
	return models.Position{
		Symbol:          symbol,
		Kind:            models.Call,
		Strike:          strike,
		Expiry:          testNow.AddDate(0, 0, days),
		Quantity:        qty,
		EntryPremium:    3.5,
		EntryVolatility: 0.25,
		EntryTime:       testNow.AddDate(0, 0, -5),
	}
}

func testMarket(quotes ...models.MarketData) models.MarketSnapshot {
	return models.NewMarketSnapshot(0, quotes...)
}
