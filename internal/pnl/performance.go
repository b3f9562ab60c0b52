package pnl

import (
	"math"

	"github.com/shopspring/decimal"

	"options-risk-engine/internal/models"
)

// Performance summarizes realized trading results.
type Performance struct {
	Trades      int
	Wins        int
	Losses      int
	WinRate     float64 // fraction of trades with positive P&L
	GrossProfit float64
	GrossLoss   float64 // absolute value
	NetPnL      float64
	AverageWin  float64
	AverageLoss float64 // absolute value
	// ProfitFactor is GrossProfit / GrossLoss. With no losing trade it is
	// +Inf and NoLosses is set; callers must check NoLosses first.
	ProfitFactor float64
	NoLosses     bool
	// Sharpe is mean / sample stdev of period P&L between consecutive
	// portfolio snapshots. SharpeDefined is false with fewer than two
	// periods or zero deviation.
	Sharpe        float64
	SharpeDefined bool
	Periods       int
}

// ComputePerformance scores closed-position results and a snapshot series.
func ComputePerformance(results []PositionPnL, series []models.PnLSnapshot) Performance {
	var p Performance
	profit, loss, net := decimal.Zero, decimal.Zero, decimal.Zero
	for _, r := range results {
		v := decimal.NewFromFloat(r.TotalPnL)
		net = net.Add(v)
		switch {
		case r.TotalPnL > 0:
			p.Wins++
			profit = profit.Add(v)
		case r.TotalPnL < 0:
			p.Losses++
			loss = loss.Add(v.Abs())
		}
	}
	p.Trades = len(results)
	p.GrossProfit, _ = profit.Float64()
	p.GrossLoss, _ = loss.Float64()
	p.NetPnL, _ = net.Float64()

	if p.Trades > 0 {
		p.WinRate = float64(p.Wins) / float64(p.Trades)
	}
	if p.Wins > 0 {
		p.AverageWin = p.GrossProfit / float64(p.Wins)
	}
	if p.Losses > 0 {
		p.AverageLoss = p.GrossLoss / float64(p.Losses)
	}

	if p.GrossLoss == 0 {
		p.NoLosses = true
		p.ProfitFactor = math.Inf(1)
	} else {
		p.ProfitFactor = p.GrossProfit / p.GrossLoss
	}

	p.Sharpe, p.SharpeDefined, p.Periods = sharpe(portfolioSeries(series))
	return p
}

func portfolioSeries(series []models.PnLSnapshot) []float64 {
	var totals []float64
	for _, s := range series {
		if s.IsPortfolio() {
			totals = append(totals, s.TotalPnL)
		}
	}
	return totals
}

func sharpe(totals []float64) (float64, bool, int) {
	if len(totals) < 3 {
		return 0, false, max(len(totals)-1, 0)
	}
	diffs := make([]float64, len(totals)-1)
	var sum float64
	for i := 1; i < len(totals); i++ {
		diffs[i-1] = totals[i] - totals[i-1]
		sum += diffs[i-1]
	}
	mean := sum / float64(len(diffs))
	var ss float64
	for _, d := range diffs {
		ss += (d - mean) * (d - mean)
	}
	stdev := math.Sqrt(ss / float64(len(diffs)-1))
	if stdev == 0 {
		return 0, false, len(diffs)
	}
	return mean / stdev, true, len(diffs)
}
