package sizing

import (
	"testing"

	"signal-core/internal/symbols"
)

func TestQuantity(t *testing.T) {
	calc := NewCalculator(symbols.Default())
	tests := []struct {
		name     string
		margin   float64
		leverage int
		price    float64
		symbol   string
		want     float64
	}{
		{"btc limit", 10, 10, 50000, "BTC-USDT", 0.002},
		{"btc clamps to min", 1, 1, 50000, "BTC", 0.0001},
		{"btc rounds to 4dp", 33, 3, 61234, "BTCUSDT", 0.0016},
		{"unknown asset market", 5, 2, 0, "FOO-USDT", 10},
		{"unknown asset limit rounds", 10, 5, 7, "FOO", 7.1},
		{"unknown asset clamp", 0.1, 1, 100, "FOO", 0.1},
		{"eth two decimals", 100, 10, 3000, "ETH", 0.33},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := calc.Quantity(tt.margin, tt.leverage, tt.price, tt.symbol)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Quantity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQuantityRejectsBadInput(t *testing.T) {
	calc := NewCalculator(nil)
	if _, err := calc.Quantity(0, 10, 100, "BTC"); err == nil {
		t.Fatal("expected error for zero margin")
	}
	if _, err := calc.Quantity(10, 0, 100, "BTC"); err == nil {
		t.Fatal("expected error for zero leverage")
	}
	if _, err := calc.Quantity(10, 1, -1, "BTC"); err == nil {
		t.Fatal("expected error for negative price")
	}
}

func TestNotional(t *testing.T) {
	if got := Notional(0.1, 0.2); got != 0.02 {
		t.Fatalf("Notional = %v, want 0.02", got)
	}
}
