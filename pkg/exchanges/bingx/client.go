package bingx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"signal-core/pkg/exchanges/common"
)

const (
	liveBaseURL = "https://open-api.bingx.com"
	demoBaseURL = "https://open-api-vst.bingx.com"
)

// Config holds BingX perpetual swap credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Demo       bool
	Timeout    time.Duration
	RecvWindow int64 // ms
	BaseURL    string
}

// Client handles BingX USDT-M perpetual swap.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter
}

var _ common.Gateway = (*Client)(nil)

// NewClient creates a new perpetual swap client. BaseURL overrides the
// live/demo host selection.
func NewClient(cfg Config) *Client {
	base := liveBaseURL
	if cfg.Demo {
		base = demoBaseURL
	}
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	c.timeSync = common.NewTimeSync(c.GetServerTime)
	c.rateLimiter = common.NewRateLimiter(10, 10, 2000) // trade endpoints: 10 req/s, 2000 per 10s window
	return c
}

// IsDemo reports whether the client targets the demo (VST) account.
func (c *Client) IsDemo() bool { return c.cfg.Demo }

func (c *Client) now() int64 {
	if c.timeSync != nil && c.timeSync.Offset() != 0 {
		return c.timeSync.Now()
	}
	return time.Now().UnixMilli()
}

func (c *Client) requireKeys() error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return errors.New("bingx swap: API key/secret required")
	}
	return nil
}

// SetLeverage sets leverage for one position side of a symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, side common.PositionSide, leverage int) error {
	if err := c.requireKeys(); err != nil {
		return err
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("leverage", strconv.Itoa(leverage))
	_, err := c.doSigned(ctx, http.MethodPost, "/openApi/swap/v2/trade/leverage", params)
	return err
}

// SubmitOrder places an order.
func (c *Client) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if err := c.requireKeys(); err != nil {
		return common.OrderResult{}, err
	}
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("positionSide", string(req.PositionSide))
	params.Set("type", string(req.Type))
	params.Set("quantity", formatFloat(req.Qty))

	switch {
	case req.Type == common.OrderTypeLimit:
		params.Set("price", formatFloat(req.Price))
	case req.Type.IsProtective():
		params.Set("stopPrice", formatFloat(req.StopPrice))
		params.Set("workingType", "MARK_PRICE")
	}
	if req.ClientID != "" {
		params.Set("clientOrderID", req.ClientID)
	}

	body, err := c.doSigned(ctx, http.MethodPost, "/openApi/swap/v2/trade/order", params)
	if err != nil {
		return common.OrderResult{}, err
	}
	var resp orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order: %w", err)
	}
	return common.OrderResult{
		ExchangeOrderID: string(resp.Order.OrderID),
		Status:          mapStatus(resp.Order.Status),
		AvgPrice:        float64(resp.Order.AvgPrice),
	}, nil
}

// CancelOrder cancels an order by symbol and ID.
func (c *Client) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	if err := c.requireKeys(); err != nil {
		return err
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", exchangeOrderID)
	_, err := c.doSigned(ctx, http.MethodDelete, "/openApi/swap/v2/trade/order", params)
	return err
}

// GetPositions returns the account's position legs; symbol optional.
func (c *Client) GetPositions(ctx context.Context, symbol string) ([]common.Position, error) {
	if err := c.requireKeys(); err != nil {
		return nil, err
	}
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/openApi/swap/v2/user/positions", params)
	if err != nil {
		return nil, err
	}
	var raw []positionResp
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	out := make([]common.Position, 0, len(raw))
	for _, p := range raw {
		out = append(out, p.toCommon())
	}
	return out, nil
}

// GetOpenOrders returns resting orders; symbol optional.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]common.OpenOrder, error) {
	if err := c.requireKeys(); err != nil {
		return nil, err
	}
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/openApi/swap/v2/trade/openOrders", params)
	if err != nil {
		return nil, err
	}
	var raw openOrdersResp
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}
	out := make([]common.OpenOrder, 0, len(raw.Orders))
	for _, o := range raw.Orders {
		out = append(out, o.toCommon())
	}
	return out, nil
}

// GetBalance returns the swap account balance summary.
func (c *Client) GetBalance(ctx context.Context) (*Balance, error) {
	if err := c.requireKeys(); err != nil {
		return nil, err
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/openApi/swap/v2/user/balance", url.Values{})
	if err != nil {
		return nil, err
	}
	var raw struct {
		Balance Balance `json:"balance"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode balance: %w", err)
	}
	return &raw.Balance, nil
}

// GetPrice returns the latest trade price for a symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doPublic(ctx, "/openApi/swap/v2/quote/price", params)
	if err != nil {
		return 0, err
	}
	var raw struct {
		Price flexFloat `json:"price"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return 0, fmt.Errorf("decode price: %w", err)
	}
	if raw.Price <= 0 {
		return 0, fmt.Errorf("bingx swap: no price for %s", symbol)
	}
	return float64(raw.Price), nil
}

// GetMarkPrice returns the mark price used for PnL and liquidation.
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doPublic(ctx, "/openApi/swap/v2/quote/premiumIndex", params)
	if err != nil {
		return 0, err
	}
	var raw struct {
		MarkPrice flexFloat `json:"markPrice"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return 0, fmt.Errorf("decode mark price: %w", err)
	}
	if raw.MarkPrice <= 0 {
		return 0, fmt.Errorf("bingx swap: no mark price for %s", symbol)
	}
	return float64(raw.MarkPrice), nil
}

// GetServerTime fetches swap server time.
func (c *Client) GetServerTime(ctx context.Context) (int64, error) {
	body, err := c.doPublic(ctx, "/openApi/swap/v2/server/time", url.Values{})
	if err != nil {
		return 0, err
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, err
	}
	return res.ServerTime, nil
}

// doSigned signs params (sorted query string incl. timestamp) and sends them.
// The returned body is the envelope's data field.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	c.timeSync.SyncIfStale(ctx)
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	params.Set("timestamp", strconv.FormatInt(c.now(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	query := params.Encode()
	signed := query + "&signature=" + sign(query, c.cfg.APISecret)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+signed, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-BX-APIKEY", c.cfg.APIKey)
	return c.send(req, method, path, params)
}

func (c *Client) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.send(req, http.MethodGet, path, params)
}

func (c *Client) send(req *http.Request, method, path string, params url.Values) ([]byte, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bingx swap %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	if c.rateLimiter != nil {
		c.rateLimiter.UpdateFromHeader(res.Header.Get("X-RateLimit-Requests-Remain"))
	}

	body, _ := io.ReadAll(res.Body)
	apiErr := &APIError{
		Method:     method,
		Path:       path,
		Params:     redact(params),
		HTTPStatus: res.StatusCode,
		Body:       string(body),
	}
	if res.StatusCode >= 300 {
		apiErr.Msg = http.StatusText(res.StatusCode)
		log.Printf("❌ %v", apiErr)
		return nil, apiErr
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		apiErr.Msg = "decode envelope: " + err.Error()
		log.Printf("❌ %v", apiErr)
		return nil, apiErr
	}
	if env.Code != 0 {
		apiErr.Code = env.Code
		apiErr.Msg = env.Msg
		log.Printf("❌ %v", apiErr)
		return nil, apiErr
	}
	return env.Data, nil
}

// redact drops the signature before params are attached to errors and logs.
func redact(params url.Values) string {
	cp := url.Values{}
	for k, v := range params {
		if k == "signature" {
			continue
		}
		cp[k] = v
	}
	return cp.Encode()
}
