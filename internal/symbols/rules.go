// Package symbols holds per-asset quantity precision and minimums.
//
// The table is static and embedded at build time; venue listings change over
// time, so entries may drift from what the exchange currently accepts.
package symbols

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var embeddedRules []byte

// Rule is the quantity rule for one asset.
type Rule struct {
	Precision int32   `yaml:"precision"`
	MinQty    float64 `yaml:"min_qty"`
}

// File is the top-level YAML structure.
type File struct {
	Default Rule            `yaml:"default"`
	Assets  map[string]Rule `yaml:"assets"`
}

// Table resolves rules by symbol.
type Table struct {
	def    Rule
	assets map[string]Rule
}

// Default returns the embedded table.
func Default() *Table {
	t, err := Parse(embeddedRules)
	if err != nil {
		panic(fmt.Sprintf("embedded symbol rules: %v", err))
	}
	return t
}

// LoadFile reads an override table from a YAML file.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML rules document.
func Parse(data []byte) (*Table, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.Default.MinQty <= 0 {
		return nil, fmt.Errorf("default min_qty must be positive")
	}
	t := &Table{def: f.Default, assets: make(map[string]Rule, len(f.Assets))}
	for k, r := range f.Assets {
		if r.MinQty <= 0 || r.Precision < 0 {
			return nil, fmt.Errorf("asset %s: invalid rule %+v", k, r)
		}
		t.assets[strings.ToUpper(k)] = r
	}
	return t, nil
}

// Lookup returns the rule for symbol, falling back to the default.
func (t *Table) Lookup(symbol string) Rule {
	if r, ok := t.assets[BaseAsset(symbol)]; ok {
		return r
	}
	return t.def
}

// BaseAsset normalises "BTC", "btc-usdt", "BTCUSDT" and "BTC/USDT" to "BTC".
func BaseAsset(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.IndexAny(s, "-/_"); i > 0 {
		return s[:i]
	}
	for _, quote := range []string{"USDT", "USDC", "USD"} {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return strings.TrimSuffix(s, quote)
		}
	}
	return s
}

// SwapSymbol returns the venue symbol form, e.g. "BTC" -> "BTC-USDT".
func SwapSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(s, "-") {
		return s
	}
	return BaseAsset(s) + "-USDT"
}
