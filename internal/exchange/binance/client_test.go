package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assist-by/relay/internal/domain"
	"github.com/assist-by/relay/internal/exchange"
	"github.com/assist-by/relay/internal/retry"
)

// fastRetry는 테스트용 짧은 지연의 재시도 정책입니다
func fastRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Factor:      2.0,
	}
}

func newTestClient(serverURL string, opts ...ClientOption) *Client {
	base := []ClientOption{
		WithBaseURL(serverURL),
		WithRetryPolicy(fastRetry()),
	}
	return NewClient("test-api-key", "test-secret-key", append(base, opts...)...)
}

func TestSign(t *testing.T) {
	c := NewClient("key", "secret")

	payload := "symbol=BTCUSDC&timestamp=1700000000000"
	got := c.sign(payload)

	// 동일 페이로드는 항상 동일 서명을 생성해야 합니다
	assert.Equal(t, got, c.sign(payload))

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(payload))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), got)

	// 파라미터가 하나라도 바뀌면 서명도 바뀌어야 합니다
	assert.NotEqual(t, got, c.sign("symbol=ETHUSDC&timestamp=1700000000000"))
}

func TestSignedRequestHeaders(t *testing.T) {
	var gotAPIKey string
	var gotQuery string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("X-MBX-APIKEY")
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"balances":[]}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.GetBalance(context.Background(), "USDC")
	require.NoError(t, err)

	assert.Equal(t, "test-api-key", gotAPIKey)
	assert.Contains(t, gotQuery, "timestamp=")
	assert.Contains(t, gotQuery, "recvWindow=5000")

	// 서명은 서명 파라미터를 제외한 쿼리 문자열과 일치해야 합니다
	idx := strings.LastIndex(gotQuery, "&signature=")
	require.Greater(t, idx, 0)
	payload := gotQuery[:idx]
	signature := gotQuery[idx+len("&signature="):]
	assert.Equal(t, c.sign(payload), signature)
}

func TestGetPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		assert.Equal(t, "BTCUSDC", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"symbol":"BTCUSDC","price":"50123.45000000"}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	price, err := c.GetPrice(context.Background(), "BTCUSDC")
	require.NoError(t, err)
	assert.Equal(t, 50123.45, price)
}

func TestReadRetryOnServerError(t *testing.T) {
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"code":-1001,"msg":"internal error"}`))
			return
		}
		w.Write([]byte(`{"symbol":"BTCUSDC","price":"100.00"}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	price, err := c.GetPrice(context.Background(), "BTCUSDC")
	require.NoError(t, err)
	assert.Equal(t, 100.0, price)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestReadNoRetryOnRejection(t *testing.T) {
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.GetPrice(context.Background(), "NOPEUSDC")
	require.Error(t, err)

	var apiErr *exchange.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, -1121, apiErr.Code)
	// 거래소가 명시적으로 거부한 요청은 재시도하지 않아야 합니다
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPlaceOrderSingleShot(t *testing.T) {
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"code":-1001,"msg":"internal error"}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol:   "BTCUSDC",
		Side:     domain.Buy,
		Type:     domain.Market,
		Quantity: "0.001",
	})
	require.Error(t, err)
	// 쓰기 호출은 일시적 오류에도 재전송하지 않아야 합니다
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPlaceOrderMarketQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sapi/v1/margin/order", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "100.50", q.Get("quoteOrderQty"))
		assert.Empty(t, q.Get("quantity"))
		assert.Equal(t, "MARGIN_BUY", q.Get("sideEffectType"))
		assert.Equal(t, "FULL", q.Get("newOrderRespType"))

		w.Write([]byte(`{
			"orderId": 12345,
			"symbol": "BTCUSDC",
			"status": "FILLED",
			"executedQty": "0.00200000",
			"cummulativeQuoteQty": "100.40000000",
			"side": "BUY",
			"type": "MARKET",
			"transactTime": 1700000000000,
			"fills": [
				{"price": "50100.00", "qty": "0.00100000", "commission": "0.0000010", "commissionAsset": "BTC"},
				{"price": "50300.00", "qty": "0.00100000", "commission": "0.0000010", "commissionAsset": "BTC"}
			]
		}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	resp, err := c.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol:        "BTCUSDC",
		Side:          domain.Buy,
		Type:          domain.Market,
		QuoteQuantity: "100.50",
		SideEffect:    domain.SideEffectMarginBuy,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(12345), resp.OrderID)
	assert.Equal(t, 0.002, resp.ExecutedQty)
	assert.Len(t, resp.Fills, 2)
	assert.InDelta(t, 50200.0, resp.AvgFillPrice(), 1e-9)
}

func TestPlaceOrderSpotEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/order", r.URL.Path)
		// 현물 주문에는 마진 부가 효과 파라미터가 없어야 합니다
		assert.Empty(t, r.URL.Query().Get("sideEffectType"))
		w.Write([]byte(`{"orderId": 1, "symbol": "BTCUSDC", "status": "FILLED"}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL, WithMarginTrading(false))
	_, err := c.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol:     "BTCUSDC",
		Side:       domain.Buy,
		Type:       domain.Market,
		Quantity:   "0.001",
		SideEffect: domain.SideEffectMarginBuy,
	})
	require.NoError(t, err)
}

func TestGetBalanceAbsentAsset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"balances":[{"asset":"BTC","free":"0.5","locked":"0.1"}]}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)

	// 보유 중인 자산
	balance, err := c.GetBalance(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, 0.5, balance.Free)
	assert.Equal(t, 0.1, balance.Locked)

	// 응답에 없는 자산은 0 잔고로 취급합니다
	balance, err = c.GetBalance(context.Background(), "USDC")
	require.NoError(t, err)
	assert.Equal(t, "USDC", balance.Asset)
	assert.Zero(t, balance.Free)
	assert.Zero(t, balance.Locked)
}

func TestGetMarginAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sapi/v1/margin/account", r.URL.Path)
		w.Write([]byte(`{
			"marginLevel": "2.71000000",
			"tradeEnabled": true,
			"userAssets": [
				{"asset":"BTC","free":"0.1","locked":"0","borrowed":"0.05","interest":"0.0001","netAsset":"0.0499"},
				{"asset":"ETH","free":"0","locked":"0","borrowed":"0","interest":"0","netAsset":"0"}
			]
		}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	info, err := c.GetMarginAccount(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2.71, info.MarginLevel)
	assert.True(t, info.CanTrade)

	btc, ok := info.Balances["BTC"]
	require.True(t, ok)
	assert.Equal(t, 0.05, btc.Borrowed)

	// 빈 자산은 목록에서 제외합니다
	_, ok = info.Balances["ETH"]
	assert.False(t, ok)
}

func TestGetSymbolFilters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"symbols": [{
				"symbol": "BTCUSDC",
				"baseAsset": "BTC",
				"quoteAsset": "USDC",
				"filters": [
					{"filterType": "PRICE_FILTER", "tickSize": "0.01000000"},
					{"filterType": "LOT_SIZE", "stepSize": "0.00001000", "minQty": "0.00001000"},
					{"filterType": "NOTIONAL", "minNotional": "5.00000000"}
				]
			}]
		}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	filters, err := c.GetSymbolFilters(context.Background(), "BTCUSDC")
	require.NoError(t, err)

	assert.Equal(t, "BTC", filters.BaseAsset)
	assert.Equal(t, "USDC", filters.QuoteAsset)
	assert.Equal(t, "0.00001000", filters.StepSize)
	assert.Equal(t, "0.01000000", filters.TickSize)
	assert.Equal(t, 0.00001, filters.MinQty)
	assert.Equal(t, 5.0, filters.MinNotional)
}

func TestGetSymbolFiltersNotFound(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"심볼 없음", `{"symbols":[]}`},
		{"필터 누락", `{"symbols":[{"symbol":"XUSDC","baseAsset":"X","quoteAsset":"USDC","filters":[]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := newTestClient(server.URL)
			_, err := c.GetSymbolFilters(context.Background(), "XUSDC")
			assert.ErrorIs(t, err, exchange.ErrSymbolNotFound)
		})
	}
}

func TestCancelOpenOrders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/sapi/v1/margin/openOrders", r.URL.Path)
		w.Write([]byte(`[{"orderId":1},{"orderId":2}]`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	n, err := c.CancelOpenOrders(context.Background(), "BTCUSDC")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSyncTime(t *testing.T) {
	serverTime := time.Now().Add(3 * time.Second).UnixMilli()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"serverTime": ` + strconv.FormatInt(serverTime, 10) + `}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	require.NoError(t, c.SyncTime(context.Background()))

	// 보정된 시간은 서버 시간에 근접해야 합니다
	assert.InDelta(t, float64(serverTime), float64(c.getServerTime()), 1000)
}
