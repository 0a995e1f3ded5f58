package order

import (
	"context"
	"errors"
	"fmt"
	"log"

	"signal-core/pkg/exchanges/common"
)

// PlaceProtective submits reduce-side STOP_MARKET and TAKE_PROFIT_MARKET
// orders for one position, tagged with its id. Zero levels are skipped.
func PlaceProtective(ctx context.Context, gw common.Gateway, positionID, symbol string, side common.PositionSide, qty, stopLoss, takeProfit float64) error {
	var errs []error
	place := func(t common.OrderType, trigger float64) {
		if trigger <= 0 {
			return
		}
		_, err := gw.SubmitOrder(ctx, common.OrderRequest{
			Symbol:       symbol,
			Side:         side.Opposite(),
			PositionSide: side,
			Type:         t,
			Qty:          qty,
			StopPrice:    trigger,
			ClientID:     common.ProtectiveClientID(positionID, t),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s at %v: %w", t, trigger, err))
		}
	}
	place(common.OrderTypeStopMarket, stopLoss)
	place(common.OrderTypeTakeProfitMarket, takeProfit)
	return errors.Join(errs...)
}

// CancelProtective cancels the resting stop-loss and take-profit orders placed
// for one position and returns how many were cancelled. Orders guarding other
// positions on the same leg are left alone.
func CancelProtective(ctx context.Context, gw common.Gateway, positionID, symbol string, side common.PositionSide) (int, error) {
	orders, err := gw.GetOpenOrders(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("list open orders %s: %w", symbol, err)
	}
	cancelled := 0
	var errs []error
	for _, o := range orders {
		if o.PositionSide != side || !o.OwnedBy(positionID) {
			continue
		}
		if err := gw.CancelOrder(ctx, symbol, o.OrderID); err != nil {
			log.Printf("⚠️ Cancel %s %s on %s failed: %v", o.Type, o.OrderID, symbol, err)
			errs = append(errs, err)
			continue
		}
		cancelled++
	}
	return cancelled, errors.Join(errs...)
}
