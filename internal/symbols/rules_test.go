package symbols

import "testing"

func TestLookup(t *testing.T) {
	tbl := Default()
	tests := []struct {
		symbol    string
		precision int32
		min       float64
	}{
		{"BTC", 4, 0.0001},
		{"BTC-USDT", 4, 0.0001},
		{"btcusdt", 4, 0.0001},
		{"ETH/USDT", 2, 0.01},
		{"PEPE-USDT", 1, 0.1},
		{"", 1, 0.1},
	}
	for _, tt := range tests {
		r := tbl.Lookup(tt.symbol)
		if r.Precision != tt.precision || r.MinQty != tt.min {
			t.Errorf("Lookup(%q) = %+v, want precision %d min %v", tt.symbol, r, tt.precision, tt.min)
		}
	}
}

func TestSwapSymbol(t *testing.T) {
	tests := map[string]string{
		"BTC":      "BTC-USDT",
		"btcusdt":  "BTC-USDT",
		"ETH-USDT": "ETH-USDT",
	}
	for in, want := range tests {
		if got := SwapSymbol(in); got != want {
			t.Errorf("SwapSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseRejectsBadRules(t *testing.T) {
	if _, err := Parse([]byte("default: {precision: 1, min_qty: 0}")); err == nil {
		t.Fatal("expected error for zero default min")
	}
	if _, err := Parse([]byte("default: {precision: 1, min_qty: 0.1}\nassets:\n  X: {precision: -1, min_qty: 1}")); err == nil {
		t.Fatal("expected error for negative precision")
	}
}
