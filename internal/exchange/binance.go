package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	binanceBaseURL    = "https://api.binance.com"
	binanceTestnetURL = "https://testnet.binance.vision"
)

// BinanceClient talks to the Binance spot REST API. Public endpoints are
// unsigned; account and order endpoints are HMAC-SHA256 signed. A shared
// limiter keeps the bot inside the request-weight budget.
type BinanceClient struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// BinanceConfig configures the Binance client.
type BinanceConfig struct {
	APIKey             string
	SecretKey          string
	Testnet            bool
	TimeoutSeconds     int
	RequestsPerSecond  float64
}

// NewBinanceClient creates a client. Credentials may be empty for
// public-data-only use; order placement then fails with an auth error.
func NewBinanceClient(cfg BinanceConfig) *BinanceClient {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	baseURL := binanceBaseURL
	if cfg.Testnet {
		baseURL = binanceTestnetURL
	}
	return &BinanceClient{
		apiKey:     cfg.APIKey,
		secretKey:  cfg.SecretKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1),
	}
}

// GetTicker fetches 24h rolling stats for one symbol.
func (c *BinanceClient) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.public(ctx, "/api/v3/ticker/24hr", params)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Symbol             string `json:"symbol"`
		LastPrice          string `json:"lastPrice"`
		PriceChangePercent string `json:"priceChangePercent"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode ticker: %w", err)
	}

	last, err := strconv.ParseFloat(raw.LastPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("parse lastPrice %q: %w", raw.LastPrice, err)
	}
	change, _ := strconv.ParseFloat(raw.PriceChangePercent, 64)

	return &Ticker{Symbol: raw.Symbol, LastPrice: last, PriceChangePercent: change}, nil
}

// GetKlines fetches up to limit OHLCV bars, oldest to newest.
func (c *BinanceClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.public(ctx, "/api/v3/klines", params)
	if err != nil {
		return nil, err
	}

	// Binance encodes each bar as a mixed-type array.
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	klines := make([]Kline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		var openMs int64
		if err := json.Unmarshal(row[0], &openMs); err != nil {
			continue
		}
		k := Kline{OpenTime: time.UnixMilli(openMs)}
		fields := []*float64{&k.Open, &k.High, &k.Low, &k.Close, &k.Volume}
		ok := true
		for i, dst := range fields {
			var s string
			if err := json.Unmarshal(row[i+1], &s); err != nil {
				ok = false
				break
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				ok = false
				break
			}
			*dst = v
		}
		if ok {
			klines = append(klines, k)
		}
	}
	return klines, nil
}

// GetAccountBalances fetches per-asset free/locked balances.
func (c *BinanceClient) GetAccountBalances(ctx context.Context) ([]Balance, error) {
	body, err := c.signed(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return nil, err
	}

	var raw struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}

	balances := make([]Balance, 0, len(raw.Balances))
	for _, b := range raw.Balances {
		free, _ := strconv.ParseFloat(b.Free, 64)
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		if free == 0 && locked == 0 {
			continue
		}
		balances = append(balances, Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return balances, nil
}

// PlaceMarketOrder submits a market order sized by quote-currency amount
// (quoteOrderQty). AvgPrice is derived from the fill's cumulative quote over
// executed quantity.
func (c *BinanceClient) PlaceMarketOrder(ctx context.Context, symbol, side string, quoteAmount float64) (*Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", "MARKET")
	params.Set("quoteOrderQty", strconv.FormatFloat(quoteAmount, 'f', 2, 64))

	body, err := c.signed(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return nil, err
	}

	var raw struct {
		OrderID     int64  `json:"orderId"`
		Symbol      string `json:"symbol"`
		Status      string `json:"status"`
		ExecutedQty string `json:"executedQty"`
		CumQuoteQty string `json:"cummulativeQuoteQty"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}

	execQty, _ := strconv.ParseFloat(raw.ExecutedQty, 64)
	cumQuote, _ := strconv.ParseFloat(raw.CumQuoteQty, 64)

	order := &Order{
		OrderID:     strconv.FormatInt(raw.OrderID, 10),
		Symbol:      raw.Symbol,
		Side:        side,
		Status:      raw.Status,
		ExecutedQty: execQty,
		CumQuoteQty: cumQuote,
	}
	if execQty > 0 {
		order.AvgPrice = cumQuote / execQty
	}
	return order, nil
}

func (c *BinanceClient) public(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodGet, endpoint, params.Encode(), false)
}

// signed appends timestamp and an HMAC signature over the encoded query.
// The signature parameter itself must come last.
func (c *BinanceClient) signed(ctx context.Context, method, endpoint string, params url.Values) ([]byte, error) {
	if c.apiKey == "" || c.secretKey == "" {
		return nil, &APIError{Kind: ErrAuth, Msg: "api credentials not configured"}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	query := params.Encode()
	query += "&signature=" + c.sign(query)
	return c.do(ctx, method, endpoint, query, true)
}

func (c *BinanceClient) do(ctx context.Context, method, endpoint, rawQuery string, signed bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	fullURL := c.baseURL + endpoint
	if rawQuery != "" {
		fullURL += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Kind: ErrGeneric, Msg: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &APIError{Kind: ErrGeneric, Status: resp.StatusCode, Msg: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(resp.StatusCode, body)
	}
	return body, nil
}

func classifyHTTPError(status int, body []byte) error {
	msg := string(body)
	var parsed struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Msg != "" {
		msg = fmt.Sprintf("code=%d %s", parsed.Code, parsed.Msg)
	}

	kind := ErrGeneric
	switch {
	case status == http.StatusTooManyRequests || status == 418:
		kind = ErrRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ErrAuth
	case parsed.Code == -2014, parsed.Code == -2015:
		// invalid API key / signature come back as 400s
		kind = ErrAuth
	}
	return &APIError{Kind: kind, Status: status, Msg: msg}
}

func (c *BinanceClient) sign(message string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
