package hedging

import (
	"math"

	"github.com/shopspring/decimal"
)

// TransactionCost returns |shares| x price x rate + fixed fee. The sum is
// done in decimal so repeated hedges on the same book add up exactly.
func TransactionCost(shares, price, commissionRate, fixedFee float64) float64 {
	if shares == 0 {
		return 0
	}
	cost := decimal.NewFromFloat(math.Abs(shares)).
		Mul(decimal.NewFromFloat(price)).
		Mul(decimal.NewFromFloat(commissionRate)).
		Add(decimal.NewFromFloat(fixedFee))
	f, _ := cost.Round(6).Float64()
	return f
}

// sumCosts adds record costs without float drift.
func sumCosts(costs []float64) float64 {
	total := decimal.Zero
	for _, c := range costs {
		total = total.Add(decimal.NewFromFloat(c))
	}
	f, _ := total.Float64()
	return f
}
