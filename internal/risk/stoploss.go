package risk

import "fmt"

// ValidateStops checks protective prices sit on the losing/winning side of
// entry for the given direction. Zero means "not set" and is always valid.
func ValidateStops(side string, entry, stopLoss, takeProfit float64) error {
	if entry <= 0 {
		return nil
	}
	switch side {
	case "LONG":
		if stopLoss > 0 && stopLoss >= entry {
			return fmt.Errorf("long stop loss %v must be below entry %v", stopLoss, entry)
		}
		if takeProfit > 0 && takeProfit <= entry {
			return fmt.Errorf("long take profit %v must be above entry %v", takeProfit, entry)
		}
	case "SHORT":
		if stopLoss > 0 && stopLoss <= entry {
			return fmt.Errorf("short stop loss %v must be above entry %v", stopLoss, entry)
		}
		if takeProfit > 0 && takeProfit >= entry {
			return fmt.Errorf("short take profit %v must be below entry %v", takeProfit, entry)
		}
	default:
		return fmt.Errorf("unknown side %q", side)
	}
	return nil
}
