// Package paper simulates the perpetual-swap venue in memory. It backs
// dry-run mode and the engine's tests.
package paper

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"

	"signal-core/pkg/exchanges/common"
)

// SimConfig tunes fill simulation.
type SimConfig struct {
	FeeRate     float64 // decimal, e.g. 0.0004 = 4 bps
	SlippageBps float64 // applied against the taker on market fills
}

type legKey struct {
	symbol string
	side   common.PositionSide
}

// Gateway is an in-memory common.Gateway. Market orders fill immediately at
// the configured price; limit and protective orders rest until cancelled.
type Gateway struct {
	mu        sync.Mutex
	cfg       SimConfig
	balance   float64
	prices    map[string]float64
	positions map[legKey]*common.Position
	leverage  map[legKey]int
	resting   map[string]common.OpenOrder
	submitted []common.OrderRequest
	failures  map[string]error
	seq       int
}

var _ common.Gateway = (*Gateway)(nil)

// NewGateway creates a paper venue with the given USDT balance.
func NewGateway(initialBalance float64, cfg SimConfig) *Gateway {
	return &Gateway{
		cfg:       cfg,
		balance:   initialBalance,
		prices:    make(map[string]float64),
		positions: make(map[legKey]*common.Position),
		leverage:  make(map[legKey]int),
		resting:   make(map[string]common.OpenOrder),
		failures:  make(map[string]error),
	}
}

// SetPrice sets last and mark price for symbol.
func (g *Gateway) SetPrice(symbol string, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[symbol] = price
}

// FailNext makes the next call of op ("leverage", "submit", "cancel",
// "positions", "orders", "price") return err.
func (g *Gateway) FailNext(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op] = err
}

// Submitted returns every order request accepted so far.
func (g *Gateway) Submitted() []common.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]common.OrderRequest(nil), g.submitted...)
}

// Balance returns the simulated wallet balance.
func (g *Gateway) Balance() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balance
}

func (g *Gateway) takeFailure(op string) error {
	err := g.failures[op]
	delete(g.failures, op)
	return err
}

func (g *Gateway) SetLeverage(_ context.Context, symbol string, side common.PositionSide, leverage int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure("leverage"); err != nil {
		return err
	}
	g.leverage[legKey{symbol, side}] = leverage
	return nil
}

func (g *Gateway) SubmitOrder(_ context.Context, req common.OrderRequest) (common.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure("submit"); err != nil {
		return common.OrderResult{}, err
	}
	if req.Qty <= 0 && !req.Type.IsProtective() {
		return common.OrderResult{}, fmt.Errorf("paper: invalid quantity %v", req.Qty)
	}

	g.seq++
	id := fmt.Sprintf("paper-%d", g.seq)

	if req.Type != common.OrderTypeMarket {
		g.resting[id] = common.OpenOrder{
			Symbol:       req.Symbol,
			OrderID:      id,
			ClientID:     req.ClientID,
			Side:         req.Side,
			PositionSide: req.PositionSide,
			Type:         req.Type,
			Qty:          req.Qty,
			Price:        req.Price,
			StopPrice:    req.StopPrice,
			Status:       common.StatusNew,
		}
		g.submitted = append(g.submitted, req)
		return common.OrderResult{ExchangeOrderID: id, Status: common.StatusNew}, nil
	}

	price := g.prices[req.Symbol]
	if price <= 0 {
		return common.OrderResult{}, fmt.Errorf("paper: no price for %s", req.Symbol)
	}
	slip := g.cfg.SlippageBps / 10000.0
	if req.Side == common.SideBuy {
		price *= 1 + slip
	} else {
		price *= 1 - slip
	}

	key := legKey{req.Symbol, req.PositionSide}
	pos, exists := g.positions[key]
	if req.Side == req.PositionSide.OpeningSide() {
		if !exists {
			pos = &common.Position{Symbol: req.Symbol, PositionSide: req.PositionSide, Leverage: g.leverage[key]}
			g.positions[key] = pos
		}
		total := pos.Size*pos.EntryPrice + req.Qty*price
		pos.Size += req.Qty
		pos.EntryPrice = total / pos.Size
	} else {
		if !exists {
			return common.OrderResult{}, fmt.Errorf("paper: %s %s: %w", req.Symbol, req.PositionSide, common.ErrNoPosition)
		}
		pos.Size -= req.Qty
		if pos.Size <= 1e-12 {
			delete(g.positions, key)
			g.dropProtective(key)
		}
	}

	g.balance -= math.Abs(req.Qty*price) * g.cfg.FeeRate
	g.submitted = append(g.submitted, req)
	log.Printf("PAPER: %s %s %s qty=%.4f price=%.4f", req.Side, req.PositionSide, req.Symbol, req.Qty, price)
	return common.OrderResult{ExchangeOrderID: id, Status: common.StatusFilled, AvgPrice: price}, nil
}

func (g *Gateway) dropProtective(key legKey) {
	for id, o := range g.resting {
		if o.Symbol == key.symbol && o.PositionSide == key.side && o.Type.IsProtective() {
			delete(g.resting, id)
		}
	}
}

func (g *Gateway) CancelOrder(_ context.Context, symbol, exchangeOrderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure("cancel"); err != nil {
		return err
	}
	o, ok := g.resting[exchangeOrderID]
	if !ok || o.Symbol != symbol {
		return fmt.Errorf("paper: order %s not found", exchangeOrderID)
	}
	delete(g.resting, exchangeOrderID)
	return nil
}

func (g *Gateway) GetPositions(_ context.Context, symbol string) ([]common.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure("positions"); err != nil {
		return nil, err
	}
	var out []common.Position
	for k, p := range g.positions {
		if symbol != "" && k.symbol != symbol {
			continue
		}
		cp := *p
		cp.MarkPrice = g.prices[k.symbol]
		if cp.MarkPrice > 0 {
			diff := cp.MarkPrice - cp.EntryPrice
			if cp.PositionSide == common.PositionShort {
				diff = -diff
			}
			cp.UnrealizedPnL = diff * cp.Size
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].PositionSide < out[j].PositionSide
	})
	return out, nil
}

func (g *Gateway) GetOpenOrders(_ context.Context, symbol string) ([]common.OpenOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure("orders"); err != nil {
		return nil, err
	}
	var out []common.OpenOrder
	for _, o := range g.resting {
		if symbol == "" || o.Symbol == symbol {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (g *Gateway) GetPrice(_ context.Context, symbol string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure("price"); err != nil {
		return 0, err
	}
	p, ok := g.prices[symbol]
	if !ok || p <= 0 {
		return 0, fmt.Errorf("paper: no price for %s", symbol)
	}
	return p, nil
}

func (g *Gateway) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	return g.GetPrice(ctx, symbol)
}
