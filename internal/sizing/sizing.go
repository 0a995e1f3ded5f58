package sizing

import (
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"signal-core/internal/symbols"
)

// Calculator converts a margin allocation into an order quantity.
type Calculator struct {
	rules *symbols.Table
}

// NewCalculator builds a calculator over the given rules table.
func NewCalculator(rules *symbols.Table) *Calculator {
	if rules == nil {
		rules = symbols.Default()
	}
	return &Calculator{rules: rules}
}

// Quantity returns max(min(symbol), round(margin*leverage/price, precision)).
// A zero price means a market entry; the notional is used as-is.
func (c *Calculator) Quantity(margin float64, leverage int, price float64, symbol string) (float64, error) {
	if margin <= 0 {
		return 0, fmt.Errorf("margin must be positive, got %v", margin)
	}
	if leverage < 1 {
		return 0, fmt.Errorf("leverage must be >= 1, got %d", leverage)
	}
	if price < 0 {
		return 0, fmt.Errorf("price must not be negative, got %v", price)
	}

	rule := c.rules.Lookup(symbol)
	notional := decimal.NewFromFloat(margin).Mul(decimal.NewFromInt(int64(leverage)))
	qty := notional
	if price > 0 {
		qty = notional.Div(decimal.NewFromFloat(price))
	}
	qty = qty.Round(rule.Precision)

	minQty := decimal.NewFromFloat(rule.MinQty)
	if qty.LessThan(minQty) {
		log.Printf("sizing: %s qty %s below minimum %s, clamping", symbol, qty.String(), minQty.String())
		qty = minQty
	}
	f, _ := qty.Float64()
	return f, nil
}

// Notional returns qty*price rounded to 8 places.
func Notional(qty, price float64) float64 {
	f, _ := decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(price)).Round(8).Float64()
	return f
}
