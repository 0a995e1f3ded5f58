package bingx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"signal-core/pkg/exchanges/common"
)

type recorded struct {
	method string
	path   string
	query  string
	apiKey string
}

func newTestServer(t *testing.T, routes map[string]string) (*Client, *[]recorded) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, recorded{r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("X-BX-APIKEY")})
		mu.Unlock()
		if r.URL.Path == "/openApi/swap/v2/server/time" {
			_, _ = w.Write([]byte(`{"code":0,"msg":"","data":{"serverTime":` + jsonInt(time.Now().UnixMilli()) + `}}`))
			return
		}
		body, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	c := NewClient(Config{APIKey: "key", APISecret: "secret", BaseURL: srv.URL, Timeout: 2 * time.Second})
	return c, &calls
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestSignMatchesKnownVector(t *testing.T) {
	got := sign("symbol=BTC-USDT&timestamp=1", "secret")
	if got != "d36ff9bfcfa8470be8f2daec356af6428ead615b3c7198afd59b43f4b2e0b91e" {
		t.Fatalf("unexpected signature %q", got)
	}
	if sign("symbol=BTC-USDT&timestamp=1", "other") == got {
		t.Fatal("different secrets must yield different signatures")
	}
}

func TestSubmitOrderSignsSortedQuery(t *testing.T) {
	c, calls := newTestServer(t, map[string]string{
		"POST /openApi/swap/v2/trade/order": `{"code":0,"msg":"","data":{"order":{"orderId":1735950529123455488,"symbol":"BTC-USDT","status":"FILLED","avgPrice":"50000.5"}}}`,
	})

	res, err := c.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol: "BTC-USDT", Side: common.SideBuy, PositionSide: common.PositionLong,
		Type: common.OrderTypeMarket, Qty: 0.002,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.ExchangeOrderID != "1735950529123455488" {
		t.Fatalf("order id lost precision: %s", res.ExchangeOrderID)
	}
	if res.Status != common.StatusFilled || res.AvgPrice != 50000.5 {
		t.Fatalf("unexpected result: %+v", res)
	}

	last := (*calls)[len(*calls)-1]
	if last.apiKey != "key" {
		t.Fatalf("missing api key header")
	}
	idx := strings.Index(last.query, "&signature=")
	if idx < 0 {
		t.Fatalf("signature missing: %s", last.query)
	}
	payload, sig := last.query[:idx], last.query[idx+len("&signature="):]
	if sign(payload, "secret") != sig {
		t.Fatalf("signature does not cover payload %q", payload)
	}
	for _, want := range []string{"positionSide=LONG", "quantity=0.002", "side=BUY", "timestamp=", "type=MARKET"} {
		if !strings.Contains(payload, want) {
			t.Fatalf("payload %q missing %q", payload, want)
		}
	}
	if strings.Contains(payload, "price=") {
		t.Fatalf("market order must not carry a price: %q", payload)
	}
}

func TestNoPositionError(t *testing.T) {
	c, _ := newTestServer(t, map[string]string{
		"POST /openApi/swap/v2/trade/order": `{"code":101205,"msg":"No position to close","data":{}}`,
	})
	_, err := c.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol: "BTC-USDT", Side: common.SideSell, PositionSide: common.PositionLong,
		Type: common.OrderTypeMarket, Qty: 0.002,
	})
	if !IsNoPosition(err) {
		t.Fatalf("expected no-position error, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 101205 || apiErr.Path != "/openApi/swap/v2/trade/order" {
		t.Fatalf("unexpected api error: %#v", err)
	}
	if strings.Contains(apiErr.Params, "signature") {
		t.Fatalf("signature leaked into error params: %s", apiErr.Params)
	}
}

func TestIsNoPositionByMessage(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&APIError{Code: 101205}, true},
		{&APIError{Code: 80001, Msg: "No position found for symbol"}, true},
		{&APIError{Code: 80001, Msg: "insufficient margin"}, false},
		{errors.New("no position"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsNoPosition(tt.err); got != tt.want {
			t.Errorf("IsNoPosition(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestGetPositionsAndOpenOrders(t *testing.T) {
	c, _ := newTestServer(t, map[string]string{
		"GET /openApi/swap/v2/user/positions": `{"code":0,"data":[
			{"symbol":"BTC-USDT","positionSide":"LONG","positionAmt":"0.0020","avgPrice":"50010.1","markPrice":"50100","unrealizedProfit":"0.18","leverage":10},
			{"symbol":"BTC-USDT","positionSide":"SHORT","positionAmt":"-0.0010","avgPrice":"51000","unrealizedProfit":"-0.1","leverage":5}]}`,
		"GET /openApi/swap/v2/trade/openOrders": `{"code":0,"data":{"orders":[
			{"symbol":"BTC-USDT","orderId":"42","clientOrderId":"sl3f2a-1a2b","side":"SELL","positionSide":"LONG","type":"STOP_MARKET","origQty":"0.002","stopPrice":"48000","status":"NEW"}]}}`,
	})
	ctx := context.Background()

	pos, err := c.GetPositions(ctx, "BTC-USDT")
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(pos) != 2 || pos[0].EntryPrice != 50010.1 || pos[1].Size != 0.001 || pos[1].PositionSide != common.PositionShort {
		t.Fatalf("unexpected positions: %+v", pos)
	}

	orders, err := c.GetOpenOrders(ctx, "BTC-USDT")
	if err != nil {
		t.Fatalf("open orders: %v", err)
	}
	if len(orders) != 1 || orders[0].Type != common.OrderTypeStopMarket || orders[0].StopPrice != 48000 || orders[0].ClientID != "sl3f2a-1a2b" {
		t.Fatalf("unexpected orders: %+v", orders)
	}
}

func TestGetPricePublic(t *testing.T) {
	c, calls := newTestServer(t, map[string]string{
		"GET /openApi/swap/v2/quote/price": `{"code":0,"data":{"symbol":"ETH-USDT","price":"3012.55","time":1}}`,
	})
	p, err := c.GetPrice(context.Background(), "ETH-USDT")
	if err != nil || p != 3012.55 {
		t.Fatalf("price=%v err=%v", p, err)
	}
	if strings.Contains((*calls)[0].query, "signature") {
		t.Fatal("public endpoint must not be signed")
	}
}

func TestHTTPErrorSurfaced(t *testing.T) {
	c, _ := newTestServer(t, nil)
	_, err := c.GetPositions(context.Background(), "BTC-USDT")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.HTTPStatus != http.StatusNotFound {
		t.Fatalf("expected http 404 api error, got %v", err)
	}
}

func TestMissingKeys(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:0"})
	if err := c.SetLeverage(context.Background(), "BTC-USDT", common.PositionLong, 10); err == nil {
		t.Fatal("expected error without credentials")
	}
}
