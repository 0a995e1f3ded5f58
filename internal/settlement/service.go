// Package settlement closes positions, derives realized PnL and rolls the
// result up into the owning signal.
package settlement

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/shopspring/decimal"

	"signal-core/internal/apperr"
	"signal-core/internal/events"
	"signal-core/internal/monitor"
	"signal-core/internal/order"
	"signal-core/internal/symbols"
	"signal-core/pkg/config"
	"signal-core/pkg/db"
	"signal-core/pkg/exchanges/common"
)

// Exit reasons.
const (
	ReasonManual           = "manual"
	ReasonClosedExternally = "closed_externally"
)

// CloseRequest identifies the position to close. Symbol and Direction are
// cross-checked against the stored row when given.
type CloseRequest struct {
	PositionID string `json:"position_id"`
	Symbol     string `json:"symbol"`
	Direction  string `json:"direction"`
	IsDemo     *bool  `json:"is_demo,omitempty"`
}

// CloseResult is returned for every successful close, including repeats.
type CloseResult struct {
	Success          bool    `json:"success"`
	Message          string  `json:"message"`
	PositionID       string  `json:"position_id"`
	ExitPrice        float64 `json:"exit_price"`
	RealizedPnL      float64 `json:"realized_pnl"`
	CancelledOrders  int     `json:"cancelled_orders"`
	ClosedExternally bool    `json:"closed_externally,omitempty"`
	SignalClosed     bool    `json:"signal_closed,omitempty"`
}

// Service closes positions against the exchange.
type Service struct {
	db       *db.Database
	exchange common.Gateway
	scope    string

	bus     *events.Bus
	metrics *monitor.Metrics
}

// NewService creates a settlement service. scope is config.CascadeSymbol or
// config.CascadeSignal.
func NewService(database *db.Database, gw common.Gateway, scope string) *Service {
	if scope == "" {
		scope = config.CascadeSymbol
	}
	return &Service{db: database, exchange: gw, scope: scope}
}

// SetBus publishes closes on bus.
func (s *Service) SetBus(bus *events.Bus) { s.bus = bus }

// SetMetrics attaches prometheus collectors.
func (s *Service) SetMetrics(m *monitor.Metrics) { s.metrics = m }

// RealizedPnL returns (priceDiff/entry) * (size*entry) * leverage rounded to 4
// places, where priceDiff is exit-entry for LONG and entry-exit for SHORT.
func RealizedPnL(side string, entry, exit, size float64, leverage int) float64 {
	if entry <= 0 {
		return 0
	}
	e := decimal.NewFromFloat(entry)
	x := decimal.NewFromFloat(exit)
	diff := x.Sub(e)
	if side == db.SideShort {
		diff = e.Sub(x)
	}
	notional := decimal.NewFromFloat(size).Mul(e)
	pnl := diff.Div(e).Mul(notional).Mul(decimal.NewFromInt(int64(leverage))).Round(4)
	f, _ := pnl.Float64()
	return f
}

// ResultOf classifies a close by the sign of its PnL.
func ResultOf(pnl float64) string {
	switch {
	case pnl > 0:
		return db.ResultWin
	case pnl < 0:
		return db.ResultLoss
	}
	return db.ResultBreakeven
}

// Close submits an opposite-side market order for the recorded size and
// settles the position. An exchange "no position" answer settles it as
// closed externally; any other exchange error leaves everything untouched.
func (s *Service) Close(ctx context.Context, req CloseRequest) (*CloseResult, error) {
	if strings.TrimSpace(req.PositionID) == "" {
		return nil, apperr.Validation("position_id is required")
	}
	pos, err := s.db.GetPosition(ctx, req.PositionID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("position %s not found", req.PositionID)
	}
	if err != nil {
		return nil, err
	}
	if req.Symbol != "" && symbols.SwapSymbol(req.Symbol) != pos.Symbol {
		return nil, apperr.Validation("symbol %s does not match position %s", req.Symbol, pos.Symbol)
	}
	if req.Direction != "" && !strings.EqualFold(req.Direction, pos.Side) {
		return nil, apperr.Validation("direction %s does not match position side %s", req.Direction, pos.Side)
	}
	if req.IsDemo != nil && *req.IsDemo != pos.IsDemo {
		return nil, apperr.Validation("demo flag does not match position")
	}

	res := &CloseResult{PositionID: pos.ID}
	if pos.Status != db.PositionOpen {
		res.Success = true
		res.Message = "position already closed"
		res.ExitPrice = pos.ExitPrice
		res.RealizedPnL = pos.RealizedPnL
		return res, nil
	}

	// Once the close order is sent, settlement runs to completion.
	ctx = context.WithoutCancel(ctx)
	side := common.PositionSide(pos.Side)

	t := s.metrics.ExchangeTimer("close_position")
	_, err = s.exchange.SubmitOrder(ctx, common.OrderRequest{
		Symbol:       pos.Symbol,
		Side:         side.Opposite(),
		PositionSide: side,
		Type:         common.OrderTypeMarket,
		Qty:          pos.Size,
		ClientID:     pos.ID,
	})
	t.Stop()

	reason := ReasonManual
	var exit, pnl float64
	switch {
	case errors.Is(err, common.ErrNoPosition):
		reason = ReasonClosedExternally
		res.ClosedExternally = true
		log.Printf("⚠️ settlement: %s %s already closed on exchange, settling locally", pos.Symbol, pos.Side)
	case err != nil:
		log.Printf("❌ settlement: close %s %s qty=%v failed: %v", pos.Symbol, pos.Side, pos.Size, err)
		return nil, apperr.Exchange(err, "close position %s", pos.ID)
	default:
		exit = s.exitPrice(ctx, pos)
		pnl = RealizedPnL(pos.Side, pos.EntryPrice, exit, pos.Size, pos.Leverage)
	}

	won, err := s.db.ClosePosition(ctx, pos.ID, exit, pnl, reason)
	if err != nil {
		return nil, err
	}
	if !won {
		res.Success = true
		res.Message = "position already closed"
		return res, nil
	}
	pos.Status, pos.ExitPrice, pos.RealizedPnL, pos.ExitReason = db.PositionClosed, exit, pnl, reason

	if reason == ReasonManual {
		if err := s.db.ApplySignalPnL(ctx, pos.SignalID, pnl); err != nil {
			log.Printf("❌ settlement: apply pnl to signal %s: %v", pos.SignalID, err)
		}
		s.metrics.PositionClosed(ResultOf(pnl))
	} else {
		s.metrics.PositionClosed(reason)
	}
	res.SignalClosed = s.closeSignal(ctx, pos.SignalID)

	if _, err := order.CancelProtective(ctx, s.exchange, pos.ID, pos.Symbol, side); err != nil {
		log.Printf("⚠️ settlement: leftover protective orders on %s: %v", pos.Symbol, err)
	}
	res.CancelledOrders = s.cascade(ctx, pos)

	order.EmitPositionUpdate(s.bus, events.EventPositionClosed, pos)
	log.Printf("✅ settlement: %s %s closed (%s) exit=%v pnl=%v cancelled=%d", pos.Symbol, pos.Side, reason, exit, pnl, res.CancelledOrders)

	res.Success = true
	res.ExitPrice = exit
	res.RealizedPnL = pnl
	res.Message = "position closed"
	if res.ClosedExternally {
		res.Message = "position was already closed on the exchange"
	}
	return res, nil
}

func (s *Service) exitPrice(ctx context.Context, pos *db.Position) float64 {
	if p, err := s.exchange.GetMarkPrice(ctx, pos.Symbol); err == nil && p > 0 {
		return p
	} else if err != nil {
		log.Printf("⚠️ settlement: mark price for %s: %v", pos.Symbol, err)
	}
	if p, err := s.exchange.GetPrice(ctx, pos.Symbol); err == nil && p > 0 {
		return p
	}
	log.Printf("❌ settlement: no exit price for %s, using entry", pos.Symbol)
	return pos.EntryPrice
}

// closeSignal closes the signal when it holds no other OPEN position and
// refreshes its source statistics.
func (s *Service) closeSignal(ctx context.Context, signalID string) bool {
	closed, err := s.db.CloseSignalIfFlat(ctx, signalID)
	if err != nil {
		log.Printf("❌ settlement: close signal %s: %v", signalID, err)
		return false
	}
	if !closed {
		return false
	}
	sig, err := s.db.GetSignal(ctx, signalID)
	if err != nil {
		log.Printf("⚠️ settlement: load signal %s: %v", signalID, err)
		return true
	}
	if err := s.db.RefreshSourceStats(ctx, sig.SourceID); err != nil {
		log.Printf("⚠️ settlement: refresh stats for source %s: %v", sig.SourceID, err)
	}
	return true
}

// cascade cancels pending limit orders and watchlist rows for the symbol.
func (s *Service) cascade(ctx context.Context, pos *db.Position) int {
	scopeSignal := ""
	if s.scope == config.CascadeSignal {
		scopeSignal = pos.SignalID
	}
	cancelled, err := s.db.CancelOpenOrders(ctx, pos.Symbol, scopeSignal)
	if err != nil {
		log.Printf("❌ settlement: cascade orders for %s: %v", pos.Symbol, err)
	}
	for i := range cancelled {
		o := &cancelled[i]
		if o.ExchangeOrderID != "" {
			if err := s.exchange.CancelOrder(ctx, o.Symbol, o.ExchangeOrderID); err != nil {
				log.Printf("⚠️ settlement: remote cancel %s: %v", o.ExchangeOrderID, err)
			}
		}
		s.metrics.OrderRecorded(o.EntryTier, db.OrderCancelled)
		order.EmitOrderUpdate(s.bus, events.EventOrderCancelled, o, "")
	}
	if _, err := s.db.CancelWatchlist(ctx, pos.Symbol, "", scopeSignal); err != nil {
		log.Printf("❌ settlement: cascade watchlist for %s: %v", pos.Symbol, err)
	}
	return len(cancelled)
}
