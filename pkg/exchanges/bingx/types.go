package bingx

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"signal-core/pkg/exchanges/common"
)

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// flexFloat decodes numbers sent either as JSON numbers or numeric strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// flexID keeps large integer ids exact whether sent as number or string.
type flexID string

func (id *flexID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "null" {
		s = ""
	}
	*id = flexID(s)
	return nil
}

type orderResp struct {
	Order struct {
		Symbol       string    `json:"symbol"`
		OrderID      flexID    `json:"orderId"`
		Side         string    `json:"side"`
		PositionSide string    `json:"positionSide"`
		Type         string    `json:"type"`
		Status       string    `json:"status"`
		AvgPrice     flexFloat `json:"avgPrice"`
	} `json:"order"`
}

type positionResp struct {
	Symbol           string    `json:"symbol"`
	PositionID       flexID    `json:"positionId"`
	PositionSide     string    `json:"positionSide"`
	PositionAmt      flexFloat `json:"positionAmt"`
	AvgPrice         flexFloat `json:"avgPrice"`
	MarkPrice        flexFloat `json:"markPrice"`
	UnrealizedProfit flexFloat `json:"unrealizedProfit"`
	Leverage         int       `json:"leverage"`
}

func (p positionResp) toCommon() common.Position {
	size := float64(p.PositionAmt)
	if size < 0 {
		size = -size
	}
	return common.Position{
		Symbol:        p.Symbol,
		PositionSide:  common.PositionSide(strings.ToUpper(p.PositionSide)),
		Size:          size,
		EntryPrice:    float64(p.AvgPrice),
		MarkPrice:     float64(p.MarkPrice),
		UnrealizedPnL: float64(p.UnrealizedProfit),
		Leverage:      p.Leverage,
	}
}

type openOrdersResp struct {
	Orders []openOrder `json:"orders"`
}

type openOrder struct {
	Symbol        string    `json:"symbol"`
	OrderID       flexID    `json:"orderId"`
	ClientOrderID string    `json:"clientOrderId"`
	Side          string    `json:"side"`
	PositionSide  string    `json:"positionSide"`
	Type          string    `json:"type"`
	OrigQty       flexFloat `json:"origQty"`
	Price         flexFloat `json:"price"`
	StopPrice     flexFloat `json:"stopPrice"`
	Status        string    `json:"status"`
}

func (o openOrder) toCommon() common.OpenOrder {
	return common.OpenOrder{
		Symbol:       o.Symbol,
		OrderID:      string(o.OrderID),
		ClientID:     o.ClientOrderID,
		Side:         common.Side(strings.ToUpper(o.Side)),
		PositionSide: common.PositionSide(strings.ToUpper(o.PositionSide)),
		Type:         common.OrderType(strings.ToUpper(o.Type)),
		Qty:          float64(o.OrigQty),
		Price:        float64(o.Price),
		StopPrice:    float64(o.StopPrice),
		Status:       mapStatus(o.Status),
	}
}

// Balance is the swap account balance summary.
type Balance struct {
	Asset            string    `json:"asset"`
	Balance          flexFloat `json:"balance"`
	Equity           flexFloat `json:"equity"`
	UnrealizedProfit flexFloat `json:"unrealizedProfit"`
	AvailableMargin  flexFloat `json:"availableMargin"`
	UsedMargin       flexFloat `json:"usedMargin"`
}

func mapStatus(s string) common.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW", "PENDING":
		return common.StatusNew
	case "PARTIALLY_FILLED":
		return common.StatusPartial
	case "FILLED":
		return common.StatusFilled
	case "CANCELED", "CANCELLED":
		return common.StatusCanceled
	case "FAILED", "REJECTED":
		return common.StatusRejected
	default:
		return common.StatusUnknown
	}
}
