package common

import "context"

// Gateway abstracts the perpetual-swap venue. All calls are bounded by the
// client's own timeout in addition to ctx.
type Gateway interface {
	SetLeverage(ctx context.Context, symbol string, side PositionSide, leverage int) error
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
	GetPositions(ctx context.Context, symbol string) ([]Position, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)
}
