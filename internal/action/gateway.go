// Package action redeems signed action tokens against pending orders. Every
// state change is a conditional update on the order's status, so concurrent or
// repeated redemptions of the same token execute at most once.
package action

import (
	"context"
	"errors"
	"log"
	"time"

	"signal-core/internal/apperr"
	"signal-core/internal/events"
	"signal-core/internal/monitor"
	"signal-core/internal/order"
	"signal-core/internal/risk"
	"signal-core/internal/token"
	"signal-core/pkg/db"
	"signal-core/pkg/exchanges/common"
)

// Result is returned for every redemption, including idempotent no-ops.
type Result struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	Action          string `json:"action"`
	OrderID         string `json:"order_id"`
	AlreadyOpened   bool   `json:"already_opened,omitempty"`
	AlreadyHandled  bool   `json:"already_handled,omitempty"`
	PositionID      string `json:"position_id,omitempty"`
	ExchangeOrderID string `json:"bingx_order_id,omitempty"`
}

// Gateway executes token-authorized actions.
type Gateway struct {
	db       *db.Database
	tokens   *token.Service
	executor *order.Executor
	risk     *risk.Manager
	exchange common.Gateway

	ledger  token.Ledger
	bus     *events.Bus
	metrics *monitor.Metrics
}

func NewGateway(database *db.Database, tokens *token.Service, executor *order.Executor, riskMgr *risk.Manager) *Gateway {
	return &Gateway{
		db:       database,
		tokens:   tokens,
		executor: executor,
		risk:     riskMgr,
		exchange: executor.Gateway,
	}
}

// SetLedger enables the consumed-token ledger.
func (g *Gateway) SetLedger(l token.Ledger) { g.ledger = l }

// SetBus publishes cancellations on bus.
func (g *Gateway) SetBus(bus *events.Bus) { g.bus = bus }

// SetMetrics attaches prometheus collectors.
func (g *Gateway) SetMetrics(m *monitor.Metrics) { g.metrics = m }

// Redeem dispatches on the action carried by the token.
func (g *Gateway) Redeem(ctx context.Context, tok string) (*Result, error) {
	claims, err := g.tokens.Validate(tok)
	if err != nil {
		g.metrics.Redemption("unknown", "rejected")
		return nil, err
	}
	switch claims.Action {
	case token.ActionOpenPosition:
		return g.openPosition(ctx, claims)
	case token.ActionCancelOrder:
		return g.cancelOrder(ctx, claims)
	}
	return nil, apperr.Auth("unsupported action %q", claims.Action)
}

// OpenPosition redeems an open_position token.
func (g *Gateway) OpenPosition(ctx context.Context, tok string) (*Result, error) {
	claims, err := g.validate(tok, token.ActionOpenPosition)
	if err != nil {
		return nil, err
	}
	return g.openPosition(ctx, claims)
}

// CancelOrder redeems a cancel_order token.
func (g *Gateway) CancelOrder(ctx context.Context, tok string) (*Result, error) {
	claims, err := g.validate(tok, token.ActionCancelOrder)
	if err != nil {
		return nil, err
	}
	return g.cancelOrder(ctx, claims)
}

func (g *Gateway) validate(tok, action string) (*token.Claims, error) {
	claims, err := g.tokens.Validate(tok)
	if err == nil && claims.Action != action {
		err = apperr.Auth("token does not authorize %s", action)
	}
	if err != nil {
		g.metrics.Redemption(action, "rejected")
		return nil, err
	}
	return claims, nil
}

func (g *Gateway) loadOrder(ctx context.Context, id string) (*db.Order, error) {
	o, err := g.db.GetOrder(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("order %s not found", id)
	}
	return o, err
}

func (g *Gateway) openPosition(ctx context.Context, c *token.Claims) (*Result, error) {
	res := &Result{Action: c.Action, OrderID: c.OrderID}

	o, err := g.loadOrder(ctx, c.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Status != db.OrderNew && o.Status != db.OrderPending {
		return g.handled(res, o, "order already "+o.Status), nil
	}

	open, err := g.db.HasOpenPosition(ctx, o.SignalID)
	if err != nil {
		return nil, err
	}
	if open {
		// A second trigger for a signal that already holds a position.
		ok, err := g.db.TransitionOrder(ctx, o.ID, db.OrderFilled, db.OrderPending)
		if err != nil {
			return nil, err
		}
		if !ok {
			return g.handled(res, o, "order is being handled"), nil
		}
		res.Success, res.AlreadyOpened = true, true
		res.Message = "position already open for this signal"
		g.metrics.Redemption(c.Action, "already_opened")
		log.Printf("action: order %s marked filled, signal %s already has an open position", o.ID, o.SignalID)
		return res, nil
	}

	decision, err := g.risk.CheckOpen(ctx, o.IsDemo)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		g.metrics.Redemption(c.Action, "rejected")
		return nil, apperr.Conflict("%s", decision.Reason)
	}

	if !g.consume(ctx, c) {
		return g.handled(res, o, "token already redeemed"), nil
	}

	claimed, err := g.db.TransitionOrder(ctx, o.ID, db.OrderNew, db.OrderPending)
	if err != nil {
		g.release(ctx, c)
		return nil, err
	}
	if !claimed {
		return g.handled(res, o, "order is being handled"), nil
	}
	o.Status = db.OrderNew

	// The exchange call must not be abandoned if the caller disconnects.
	ctx = context.WithoutCancel(ctx)
	fill, err := g.executor.Execute(ctx, o)
	if err != nil {
		if o.Status == db.OrderFilled {
			res.Success = true
			res.ExchangeOrderID = o.ExchangeOrderID
			res.Message = err.Error()
			g.metrics.Redemption(c.Action, "opened")
			return res, nil
		}
		if _, rerr := g.db.TransitionOrder(ctx, o.ID, db.OrderPending, db.OrderNew); rerr != nil {
			log.Printf("❌ action: revert order %s to pending: %v", o.ID, rerr)
		}
		if serr := g.db.SetOrderError(ctx, o.ID, err.Error()); serr != nil {
			log.Printf("❌ action: record error on order %s: %v", o.ID, serr)
		}
		g.release(ctx, c)
		g.metrics.Redemption(c.Action, "failed")
		return nil, err
	}

	res.Success = true
	res.Message = "position opened"
	res.PositionID = fill.Position.ID
	res.ExchangeOrderID = fill.ExchangeOrderID
	g.metrics.Redemption(c.Action, "opened")
	return res, nil
}

func (g *Gateway) cancelOrder(ctx context.Context, c *token.Claims) (*Result, error) {
	res := &Result{Action: c.Action, OrderID: c.OrderID}

	o, err := g.loadOrder(ctx, c.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Status != db.OrderNew && o.Status != db.OrderPending {
		return g.handled(res, o, "order already "+o.Status), nil
	}
	if !g.consume(ctx, c) {
		return g.handled(res, o, "token already redeemed"), nil
	}

	ok, err := g.db.TransitionOrder(ctx, o.ID, db.OrderCancelled, db.OrderPending, db.OrderNew)
	if err != nil {
		g.release(ctx, c)
		return nil, err
	}
	if !ok {
		return g.handled(res, o, "order is being handled"), nil
	}
	o.Status = db.OrderCancelled

	ctx = context.WithoutCancel(ctx)
	n, err := g.db.CancelWatchlist(ctx, o.Symbol, o.EntryTier, o.SignalID)
	if err != nil {
		log.Printf("⚠️ action: cascade watchlist for %s: %v", o.ID, err)
	}
	if o.ExchangeOrderID != "" && g.exchange != nil {
		if err := g.exchange.CancelOrder(ctx, o.Symbol, o.ExchangeOrderID); err != nil {
			log.Printf("⚠️ action: remote cancel %s (%s): %v", o.ID, o.ExchangeOrderID, err)
		}
	}

	order.EmitOrderUpdate(g.bus, events.EventOrderCancelled, o, "")
	g.metrics.OrderRecorded(o.EntryTier, db.OrderCancelled)
	g.metrics.Redemption(c.Action, "cancelled")
	log.Printf("action: order %s cancelled (%d watchlist rows)", o.ID, n)

	res.Success = true
	res.Message = "order cancelled"
	return res, nil
}

// handled builds the idempotent success response. A FILLED order also
// reports already_opened.
func (g *Gateway) handled(res *Result, o *db.Order, msg string) *Result {
	res.Success = true
	res.AlreadyHandled = true
	res.AlreadyOpened = res.Action == token.ActionOpenPosition && o.Status == db.OrderFilled
	res.Message = msg
	g.metrics.Redemption(res.Action, "already_handled")
	return res
}

func (g *Gateway) consume(ctx context.Context, c *token.Claims) bool {
	if g.ledger == nil {
		return true
	}
	ttl := time.Until(c.ExpiresAt())
	if ttl <= 0 {
		ttl = time.Minute
	}
	fresh, err := g.ledger.Consume(ctx, c.Nonce, ttl)
	if err != nil {
		log.Printf("⚠️ action: token ledger unavailable: %v", err)
		return true
	}
	return fresh
}

func (g *Gateway) release(ctx context.Context, c *token.Claims) {
	if g.ledger == nil {
		return
	}
	if err := g.ledger.Release(ctx, c.Nonce); err != nil {
		log.Printf("⚠️ action: release token nonce: %v", err)
	}
}
