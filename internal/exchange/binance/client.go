// internal/exchange/binance/client.go
package binance

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
	"sync"
	"time"

	"github.com/assist-by/relay/internal/domain"
	"github.com/assist-by/relay/internal/exchange"
	"github.com/assist-by/relay/internal/retry"
)

// Client는 바이낸스 현물/마진 API 클라이언트를 구현합니다
type Client struct {
	apiKey           string
	secretKey        string
	baseURL          string
	httpClient       *http.Client
	margin           bool         // true면 주문/조회에 마진 엔드포인트 사용
	readRetry        retry.Policy // 읽기 전용 호출에만 적용
	serverTimeOffset int64        // 서버 시간과의 차이를 저장
	mu               sync.RWMutex
}

// ClientOption은 클라이언트 생성 옵션을 정의합니다
type ClientOption func(*Client)

// WithTimeout은 HTTP 클라이언트의 타임아웃을 설정합니다
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithBaseURL은 기본 URL을 설정합니다
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithTestnet은 테스트넷 사용 여부를 설정합니다
func WithTestnet(useTestnet bool) ClientOption {
	return func(c *Client) {
		if useTestnet {
			c.baseURL = "https://testnet.binance.vision"
		} else {
			c.baseURL = "https://api.binance.com"
		}
	}
}

// WithMarginTrading은 주문/조회에 마진 계정 엔드포인트를 사용할지 설정합니다
func WithMarginTrading(margin bool) ClientOption {
	return func(c *Client) {
		c.margin = margin
	}
}

// WithRetryPolicy는 읽기 전용 호출의 재시도 정책을 설정합니다
func WithRetryPolicy(p retry.Policy) ClientOption {
	return func(c *Client) {
		p.Retryable = exchange.IsTransient
		c.readRetry = p
	}
}

// NewClient는 새로운 바이낸스 API 클라이언트를 생성합니다
func NewClient(apiKey, secretKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    "https://api.binance.com",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		margin:     true,
		readRetry:  retry.DefaultPolicy(exchange.IsTransient),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// sign은 요청 쿼리 문자열에 대한 HMAC-SHA256 서명을 생성합니다
func (c *Client) sign(payload string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// getServerTime은 보정된 현재 서버 시간을 반환합니다
func (c *Client) getServerTime() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Now().UnixMilli() + c.serverTimeOffset
}

// doRequest는 HTTP 요청을 실행하고 결과를 반환합니다.
// needSign이 true면 timestamp/recvWindow를 추가하고 url.Values.Encode()가
// 만든 (키 정렬된) 쿼리 문자열에 서명합니다. 서명 대상과 전송 문자열이
// 동일해야 하므로 서명 이후에는 쿼리를 변경하지 않습니다.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, params url.Values, needSign bool) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}

	reqURL, err := url.Parse(c.baseURL + endpoint)
	if err != nil {
		return nil, fmt.Errorf("URL 파싱 실패: %w", err)
	}

	if needSign {
		params.Set("timestamp", strconv.FormatInt(c.getServerTime(), 10))
		params.Set("recvWindow", "5000")
	}

	reqURL.RawQuery = params.Encode()

	if needSign {
		signature := c.sign(reqURL.RawQuery)
		reqURL.RawQuery = reqURL.RawQuery + "&signature=" + signature
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("요청 생성 실패: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if needSign {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API 요청 실패: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("응답 읽기 실패: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Code    int    `json:"code"`
			Message string `json:"msg"`
		}
		if err := json.Unmarshal(body, &apiErr); err != nil {
			return nil, &exchange.APIError{Status: resp.StatusCode, Message: string(body)}
		}
		return nil, &exchange.APIError{Status: resp.StatusCode, Code: apiErr.Code, Message: apiErr.Message}
	}

	return body, nil
}

// doRead는 읽기 전용 요청을 재시도 정책과 함께 실행합니다.
// 쓰기 요청은 멱등성이 보장되지 않으므로 전송 계층에서 재시도하지 않습니다.
func (c *Client) doRead(ctx context.Context, operation, method, endpoint string, params url.Values, needSign bool) ([]byte, error) {
	var body []byte
	err := c.readRetry.Do(ctx, operation, func() error {
		var reqErr error
		body, reqErr = c.doRequest(ctx, method, endpoint, params, needSign)
		return reqErr
	})
	return body, err
}

// SyncTime은 바이낸스 서버와 시간을 동기화합니다
func (c *Client) SyncTime(ctx context.Context) error {
	resp, err := c.doRead(ctx, "서버 시간 조회", http.MethodGet, "/api/v3/time", nil, false)
	if err != nil {
		return fmt.Errorf("서버 시간 조회 실패: %w", err)
	}

	var result struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return fmt.Errorf("서버 시간 파싱 실패: %w", err)
	}

	c.mu.Lock()
	c.serverTimeOffset = result.ServerTime - time.Now().UnixMilli()
	c.mu.Unlock()
	return nil
}

// GetServerTime은 서버 시간을 조회합니다
func (c *Client) GetServerTime(ctx context.Context) (time.Time, error) {
	resp, err := c.doRead(ctx, "서버 시간 조회", http.MethodGet, "/api/v3/time", nil, false)
	if err != nil {
		return time.Time{}, err
	}

	var result struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return time.Time{}, fmt.Errorf("서버 시간 파싱 실패: %w", err)
	}

	return time.Unix(0, result.ServerTime*int64(time.Millisecond)), nil
}

// GetPrice는 심볼의 현재 가격을 조회합니다
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Add("symbol", symbol)

	resp, err := c.doRead(ctx, symbol+" 가격 조회", http.MethodGet, "/api/v3/ticker/price", params, false)
	if err != nil {
		return 0, fmt.Errorf("가격 조회 실패: %w", err)
	}

	var result struct {
		Price float64 `json:"price,string"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return 0, fmt.Errorf("가격 파싱 실패: %w", err)
	}

	return result.Price, nil
}

// GetSymbolFilters는 특정 심볼의 거래 제약 조건을 조회합니다.
// 심볼이 없거나 수량/가격 필터가 빠져 있으면 ErrSymbolNotFound를 반환하며,
// 호출자는 기본값으로 진행하지 말고 작업을 중단해야 합니다.
func (c *Client) GetSymbolFilters(ctx context.Context, symbol string) (*domain.SymbolFilters, error) {
	params := url.Values{}
	params.Add("symbol", symbol)

	resp, err := c.doRead(ctx, symbol+" 심볼 정보 조회", http.MethodGet, "/api/v3/exchangeInfo", params, false)
	if err != nil {
		return nil, fmt.Errorf("심볼 정보 조회 실패: %w", err)
	}

	var exchangeInfo struct {
		Symbols []struct {
			Symbol     string `json:"symbol"`
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
			Filters    []struct {
				FilterType  string `json:"filterType"`
				StepSize    string `json:"stepSize,omitempty"`
				TickSize    string `json:"tickSize,omitempty"`
				MinQty      string `json:"minQty,omitempty"`
				MinNotional string `json:"minNotional,omitempty"`
			} `json:"filters"`
		} `json:"symbols"`
	}

	if err := json.Unmarshal(resp, &exchangeInfo); err != nil {
		return nil, fmt.Errorf("심볼 정보 파싱 실패: %w", err)
	}

	if len(exchangeInfo.Symbols) == 0 {
		return nil, fmt.Errorf("%w: %s", exchange.ErrSymbolNotFound, symbol)
	}

	s := exchangeInfo.Symbols[0]
	filters := &domain.SymbolFilters{
		Symbol:     s.Symbol,
		BaseAsset:  s.BaseAsset,
		QuoteAsset: s.QuoteAsset,
	}

	for _, filter := range s.Filters {
		switch filter.FilterType {
		case "LOT_SIZE": // 수량 단위 필터
			filters.StepSize = filter.StepSize
			if filter.MinQty != "" {
				minQty, err := strconv.ParseFloat(filter.MinQty, 64)
				if err == nil {
					filters.MinQty = minQty
				}
			}
		case "PRICE_FILTER": // 가격 단위 필터
			filters.TickSize = filter.TickSize
		case "NOTIONAL", "MIN_NOTIONAL": // 최소 주문 가치 필터
			if filter.MinNotional != "" {
				minNotional, err := strconv.ParseFloat(filter.MinNotional, 64)
				if err == nil {
					filters.MinNotional = minNotional
				}
			}
		}
	}

	// 수량/가격 단위가 없는 심볼로는 정량화가 불가능하므로 거래할 수 없습니다
	if filters.StepSize == "" || filters.TickSize == "" {
		return nil, fmt.Errorf("%w: %s에 필수 필터가 없습니다", exchange.ErrSymbolNotFound, symbol)
	}

	return filters, nil
}

// GetBalance는 현물 계정의 자산 잔고를 조회합니다.
// 자산이 응답에 없으면 0 잔고를 반환합니다 (보유하지 않은 상태는 정상).
func (c *Client) GetBalance(ctx context.Context, asset string) (domain.Balance, error) {
	resp, err := c.doRead(ctx, "현물 잔고 조회", http.MethodGet, "/api/v3/account", nil, true)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("잔고 조회 실패: %w", err)
	}

	var result struct {
		Balances []struct {
			Asset  string  `json:"asset"`
			Free   float64 `json:"free,string"`
			Locked float64 `json:"locked,string"`
		} `json:"balances"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return domain.Balance{}, fmt.Errorf("잔고 파싱 실패: %w", err)
	}

	for _, b := range result.Balances {
		if b.Asset == asset {
			return domain.Balance{Asset: b.Asset, Free: b.Free, Locked: b.Locked}, nil
		}
	}

	return domain.Balance{Asset: asset}, nil
}

// GetMarginAccount는 마진 계정 전체 상태를 조회합니다
func (c *Client) GetMarginAccount(ctx context.Context) (*domain.MarginAccountInfo, error) {
	resp, err := c.doRead(ctx, "마진 계정 조회", http.MethodGet, "/sapi/v1/margin/account", nil, true)
	if err != nil {
		return nil, fmt.Errorf("마진 계정 조회 실패: %w", err)
	}

	var result struct {
		MarginLevel  float64 `json:"marginLevel,string"`
		TradeEnabled bool    `json:"tradeEnabled"`
		UserAssets   []struct {
			Asset    string  `json:"asset"`
			Free     float64 `json:"free,string"`
			Locked   float64 `json:"locked,string"`
			Borrowed float64 `json:"borrowed,string"`
			Interest float64 `json:"interest,string"`
			NetAsset float64 `json:"netAsset,string"`
		} `json:"userAssets"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("마진 계정 파싱 실패: %w", err)
	}

	info := &domain.MarginAccountInfo{
		MarginLevel: result.MarginLevel,
		CanTrade:    result.TradeEnabled,
		Balances:    make(map[string]domain.MarginBalance),
	}

	for _, a := range result.UserAssets {
		// 아무 잔고도 부채도 없는 자산은 제외
		if a.Free == 0 && a.Locked == 0 && a.Borrowed == 0 && a.Interest == 0 {
			continue
		}
		info.Balances[a.Asset] = domain.MarginBalance{
			Asset:    a.Asset,
			Free:     a.Free,
			Locked:   a.Locked,
			Borrowed: a.Borrowed,
			Interest: a.Interest,
			NetAsset: a.NetAsset,
		}
	}

	return info, nil
}

// orderEndpoint는 계정 유형에 맞는 주문 엔드포인트를 반환합니다
func (c *Client) orderEndpoint() string {
	if c.margin {
		return "/sapi/v1/margin/order"
	}
	return "/api/v3/order"
}

// openOrdersEndpoint는 계정 유형에 맞는 미체결 주문 엔드포인트를 반환합니다
func (c *Client) openOrdersEndpoint() string {
	if c.margin {
		return "/sapi/v1/margin/openOrders"
	}
	return "/api/v3/openOrders"
}

// GetOpenOrders는 미체결 주문 목록을 조회합니다. symbol이 비어 있으면 전체를 조회합니다.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]domain.OrderResponse, error) {
	params := url.Values{}
	if symbol != "" {
		params.Add("symbol", symbol)
	}

	resp, err := c.doRead(ctx, "미체결 주문 조회", http.MethodGet, c.openOrdersEndpoint(), params, true)
	if err != nil {
		return nil, fmt.Errorf("미체결 주문 조회 실패: %w", err)
	}

	var ordersRaw []struct {
		OrderID       int64   `json:"orderId"`
		Symbol        string  `json:"symbol"`
		Status        string  `json:"status"`
		ClientOrderID string  `json:"clientOrderId"`
		Price         float64 `json:"price,string"`
		ExecutedQty   float64 `json:"executedQty,string"`
		Side          string  `json:"side"`
		Type          string  `json:"type"`
		Time          int64   `json:"time"`
	}

	if err := json.Unmarshal(resp, &ordersRaw); err != nil {
		return nil, fmt.Errorf("주문 데이터 파싱 실패: %w", err)
	}

	orders := make([]domain.OrderResponse, len(ordersRaw))
	for i, o := range ordersRaw {
		orders[i] = domain.OrderResponse{
			OrderID:       o.OrderID,
			Symbol:        o.Symbol,
			Status:        o.Status,
			ClientOrderID: o.ClientOrderID,
			Price:         o.Price,
			ExecutedQty:   o.ExecutedQty,
			Side:          domain.OrderSide(o.Side),
			Type:          domain.OrderType(o.Type),
			CreateTime:    time.Unix(0, o.Time*int64(time.Millisecond)),
		}
	}

	return orders, nil
}

// CancelOpenOrders는 특정 심볼의 모든 미체결 주문을 취소하고 취소된 개수를 반환합니다
func (c *Client) CancelOpenOrders(ctx context.Context, symbol string) (int, error) {
	params := url.Values{}
	params.Add("symbol", symbol)

	resp, err := c.doRequest(ctx, http.MethodDelete, c.openOrdersEndpoint(), params, true)
	if err != nil {
		return 0, fmt.Errorf("주문 취소 실패: %w", err)
	}

	var cancelled []json.RawMessage
	if err := json.Unmarshal(resp, &cancelled); err != nil {
		return 0, fmt.Errorf("취소 응답 파싱 실패: %w", err)
	}

	return len(cancelled), nil
}

// PlaceOrder는 새로운 주문을 생성합니다.
// 쓰기 호출이므로 전송 계층 재시도는 하지 않습니다: 타임아웃 후의 결과는
// 알 수 없으며, 재전송하면 이중 체결될 수 있습니다.
func (c *Client) PlaceOrder(ctx context.Context, order domain.OrderRequest) (*domain.OrderResponse, error) {
	params := url.Values{}
	params.Add("symbol", order.Symbol)
	params.Add("side", string(order.Side))
	params.Add("type", string(order.Type))
	params.Add("newOrderRespType", "FULL")

	switch order.Type {
	case domain.Market:
		if order.QuoteQuantity != "" {
			// quote 금액으로 주문 (수량 계산을 거래소에 위임)
			params.Add("quoteOrderQty", order.QuoteQuantity)
		} else {
			params.Add("quantity", order.Quantity)
		}

	case domain.Limit:
		params.Add("quantity", order.Quantity)
		params.Add("price", order.Price)
		if order.TimeInForce != "" {
			params.Add("timeInForce", order.TimeInForce)
		} else {
			params.Add("timeInForce", "GTC")
		}

	case domain.StopLossLimit:
		params.Add("quantity", order.Quantity)
		params.Add("price", order.Price)
		params.Add("stopPrice", order.StopPrice)
		if order.TimeInForce != "" {
			params.Add("timeInForce", order.TimeInForce)
		} else {
			params.Add("timeInForce", "GTC")
		}
	}

	if order.ClientOrderID != "" {
		params.Add("newClientOrderId", order.ClientOrderID)
	}
	if c.margin && order.SideEffect != domain.SideEffectNone {
		params.Add("sideEffectType", string(order.SideEffect))
	}

	resp, err := c.doRequest(ctx, http.MethodPost, c.orderEndpoint(), params, true)
	if err != nil {
		return nil, fmt.Errorf("주문 실행 실패 [심볼: %s, 타입: %s]: %w", order.Symbol, order.Type, err)
	}

	return parseOrderResponse(resp)
}

// parseOrderResponse는 주문 응답을 도메인 모델로 변환합니다
func parseOrderResponse(resp []byte) (*domain.OrderResponse, error) {
	var result struct {
		OrderID       int64  `json:"orderId"`
		Symbol        string `json:"symbol"`
		Status        string `json:"status"`
		ClientOrderID string `json:"clientOrderId"`
		Price         string `json:"price"`
		ExecutedQty   string `json:"executedQty"`
		CumQuote      string `json:"cummulativeQuoteQty"`
		Side          string `json:"side"`
		Type          string `json:"type"`
		TransactTime  int64  `json:"transactTime"`
		Fills         []struct {
			Price           string `json:"price"`
			Qty             string `json:"qty"`
			Commission      string `json:"commission"`
			CommissionAsset string `json:"commissionAsset"`
		} `json:"fills"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("주문 응답 파싱 실패: %w", err)
	}

	price, _ := strconv.ParseFloat(result.Price, 64)
	executedQty, _ := strconv.ParseFloat(result.ExecutedQty, 64)
	cumQuote, _ := strconv.ParseFloat(result.CumQuote, 64)

	order := &domain.OrderResponse{
		OrderID:       result.OrderID,
		Symbol:        result.Symbol,
		Status:        result.Status,
		ClientOrderID: result.ClientOrderID,
		Price:         price,
		ExecutedQty:   executedQty,
		CumQuote:      cumQuote,
		Side:          domain.OrderSide(result.Side),
		Type:          domain.OrderType(result.Type),
		CreateTime:    time.Unix(0, result.TransactTime*int64(time.Millisecond)),
	}

	for _, f := range result.Fills {
		fillPrice, _ := strconv.ParseFloat(f.Price, 64)
		fillQty, _ := strconv.ParseFloat(f.Qty, 64)
		commission, _ := strconv.ParseFloat(f.Commission, 64)
		order.Fills = append(order.Fills, domain.Fill{
			Price:           fillPrice,
			Quantity:        fillQty,
			Commission:      commission,
			CommissionAsset: f.CommissionAsset,
		})
	}

	return order, nil
}

// PlaceOCO는 복합(OCO) 청산 주문을 생성합니다
func (c *Client) PlaceOCO(ctx context.Context, order domain.OCORequest) (*domain.OCOResponse, error) {
	params := url.Values{}
	params.Add("symbol", order.Symbol)
	params.Add("side", string(order.Side))
	params.Add("quantity", order.Quantity)
	params.Add("price", order.Price)
	params.Add("stopPrice", order.StopPrice)
	params.Add("stopLimitPrice", order.StopLimitPrice)
	if order.StopLimitTimeInForce != "" {
		params.Add("stopLimitTimeInForce", order.StopLimitTimeInForce)
	} else {
		params.Add("stopLimitTimeInForce", "GTC")
	}

	endpoint := "/api/v3/order/oco"
	if c.margin {
		endpoint = "/sapi/v1/margin/order/oco"
	}

	resp, err := c.doRequest(ctx, http.MethodPost, endpoint, params, true)
	if err != nil {
		return nil, fmt.Errorf("OCO 주문 실행 실패 [심볼: %s]: %w", order.Symbol, err)
	}

	var result struct {
		OrderListID int64  `json:"orderListId"`
		Symbol      string `json:"symbol"`
		Orders      []struct {
			OrderID int64 `json:"orderId"`
		} `json:"orders"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("OCO 응답 파싱 실패: %w", err)
	}

	oco := &domain.OCOResponse{
		OrderListID: result.OrderListID,
		Symbol:      result.Symbol,
	}
	for _, o := range result.Orders {
		oco.OrderIDs = append(oco.OrderIDs, o.OrderID)
	}

	return oco, nil
}

// Borrow는 마진 계정에서 자산을 대출합니다
func (c *Client) Borrow(ctx context.Context, asset string, amount string) (int64, error) {
	return c.loanRequest(ctx, "/sapi/v1/margin/loan", asset, amount)
}

// Repay는 마진 계정의 대출을 상환합니다
func (c *Client) Repay(ctx context.Context, asset string, amount string) (int64, error) {
	return c.loanRequest(ctx, "/sapi/v1/margin/repay", asset, amount)
}

// loanRequest는 대출/상환 요청을 실행하고 트랜잭션 ID를 반환합니다
func (c *Client) loanRequest(ctx context.Context, endpoint, asset, amount string) (int64, error) {
	params := url.Values{}
	params.Add("asset", asset)
	params.Add("amount", amount)

	resp, err := c.doRequest(ctx, http.MethodPost, endpoint, params, true)
	if err != nil {
		return 0, fmt.Errorf("대출/상환 요청 실패 [자산: %s]: %w", asset, err)
	}

	var result struct {
		TranID int64 `json:"tranId"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return 0, fmt.Errorf("대출/상환 응답 파싱 실패: %w", err)
	}

	return result.TranID, nil
}
