package risk

// Limit levels reported with every decision.
const (
	LevelNormal  = "NORMAL"
	LevelWarning = "WARNING"
	LevelLimit   = "LIMIT"
)

// Config defines the exposure caps applied before opening positions.
type Config struct {
	// MaxOpenPositions caps concurrent OPEN positions per account mode; 0 disables the cap.
	MaxOpenPositions int
	// WarningThreshold is the usage ratio at which a non-blocking warning is attached.
	WarningThreshold float64
}

// Decision is the result of a pre-open check.
type Decision struct {
	Allowed    bool    `json:"allowed"`
	Reason     string  `json:"reason,omitempty"`
	Warning    string  `json:"warning,omitempty"`
	LimitLevel string  `json:"limit_level"`
	UsageRatio float64 `json:"usage_ratio"`
	Open       int     `json:"open"`
}

// DefaultConfig returns the default caps.
func DefaultConfig() Config {
	return Config{
		MaxOpenPositions: 0,
		WarningThreshold: 0.8,
	}
}
