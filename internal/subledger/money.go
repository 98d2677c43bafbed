package subledger

import (
	"math"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Tolerance is the largest difference treated as equal for money amounts.
const Tolerance = 0.01

var inr = message.NewPrinter(language.MustParse("en-IN"))

// round2 rounds half away from zero to paise.
func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func sumMoney(values ...float64) float64 {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(decimal.NewFromFloat(v))
	}
	return total.Round(2).InexactFloat64()
}

// percentOf returns base × pct / 100 rounded to paise.
func percentOf(base, pct float64) float64 {
	return decimal.NewFromFloat(base).
		Mul(decimal.NewFromFloat(pct)).
		Div(decimal.NewFromInt(100)).
		Round(2).
		InexactFloat64()
}

// mulMoney returns a × b rounded to paise.
func mulMoney(a, b float64) float64 {
	return decimal.NewFromFloat(a).Mul(decimal.NewFromFloat(b)).Round(2).InexactFloat64()
}

func moneyEqual(a, b float64) bool {
	return math.Abs(a-b) < Tolerance+1e-9
}

func formatINR(v float64) string {
	return inr.Sprintf("₹%.2f", v)
}
