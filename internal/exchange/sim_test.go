package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimTickerAndKlinesAgree(t *testing.T) {
	c := NewSimClient(1000)
	c.SetPrice("BTCUSDT", 50000)

	tk, err := c.GetTicker(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, tk.LastPrice)

	klines, err := c.GetKlines(context.Background(), "BTCUSDT", "1h", 30)
	require.NoError(t, err)
	require.Len(t, klines, 30)
	assert.Equal(t, 50000.0, klines[len(klines)-1].Close)
	assert.True(t, klines[0].OpenTime.Before(klines[1].OpenTime))
}

func TestSimUnknownSymbol(t *testing.T) {
	c := NewSimClient(1000)
	_, err := c.GetTicker(context.Background(), "NOPEUSDT")
	require.Error(t, err)
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, ErrGeneric, ae.Kind)
}

func TestSimOrderAdjustsBalances(t *testing.T) {
	c := NewSimClient(1000)
	c.SetPrice("ETHUSDT", 2000)

	order, err := c.PlaceMarketOrder(context.Background(), "ETHUSDT", "BUY", 100)
	require.NoError(t, err)
	assert.Equal(t, "FILLED", order.Status)
	assert.NotEmpty(t, order.OrderID)
	assert.InDelta(t, 0.05, order.ExecutedQty, 1e-9)
	assert.Equal(t, 2000.0, order.AvgPrice)

	balances, err := c.GetAccountBalances(context.Background())
	require.NoError(t, err)
	byAsset := map[string]float64{}
	for _, b := range balances {
		byAsset[b.Asset] = b.Free
	}
	assert.InDelta(t, 900, byAsset["USDT"], 1e-9)
	assert.InDelta(t, 0.05, byAsset["ETH"], 1e-9)
}

func TestSimRejectsNonPositiveQuote(t *testing.T) {
	c := NewSimClient(1000)
	_, err := c.PlaceMarketOrder(context.Background(), "BTCUSDT", "BUY", 0)
	require.Error(t, err)
}

func TestClassifyHTTPError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   ErrKind
	}{
		{"throttled", 429, `{"code":-1003,"msg":"Too many requests."}`, ErrRateLimited},
		{"banned", 418, `{"code":-1003,"msg":"IP banned."}`, ErrRateLimited},
		{"forbidden", 403, `{"code":0,"msg":"Forbidden"}`, ErrAuth},
		{"bad key", 400, `{"code":-2014,"msg":"API-key format invalid."}`, ErrAuth},
		{"bad signature", 400, `{"code":-2015,"msg":"Invalid API-key, IP, or permissions."}`, ErrAuth},
		{"generic", 500, `oops`, ErrGeneric},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyHTTPError(tc.status, []byte(tc.body))
			var ae *APIError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tc.want, ae.Kind)
			assert.Equal(t, tc.status, ae.Status)
		})
	}
}
