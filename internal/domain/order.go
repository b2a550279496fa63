package domain

import "time"

// OrderRequest는 주문 요청 정보를 표현합니다.
// 수량과 가격은 호출자가 이미 step/tick 단위로 정량화한 문자열입니다.
type OrderRequest struct {
	Symbol        string     // 심볼 (예: BTCUSDC)
	Side          OrderSide  // 매수/매도
	Type          OrderType  // 주문 유형 (시장가, 지정가 등)
	Quantity      string     // 수량 (base 자산 기준)
	QuoteQuantity string     // 명목 금액 (quote 자산 기준, 시장가 전용)
	Price         string     // 지정가 (Limit 주문 시)
	StopPrice     string     // 스탑 트리거 가격 (Stop 주문 시)
	TimeInForce   string     // 주문 유효 기간 (GTC, IOC 등)
	ClientOrderID string     // 클라이언트 측 주문 ID
	SideEffect    SideEffect // 마진 부가 효과 (자동 대출/상환)
}

// Fill은 주문의 개별 체결 내역을 표현합니다
type Fill struct {
	Price           float64 // 체결 가격
	Quantity        float64 // 체결 수량
	Commission      float64 // 수수료
	CommissionAsset string  // 수수료 자산
}

// OrderResponse는 주문 응답을 표현합니다
type OrderResponse struct {
	OrderID       int64     // 주문 ID
	Symbol        string    // 심볼
	Status        string    // 주문 상태
	ClientOrderID string    // 클라이언트 측 주문 ID
	Side          OrderSide // 매수/매도
	Type          OrderType // 주문 유형
	Price         float64   // 주문 가격
	ExecutedQty   float64   // 체결된 수량
	CumQuote      float64   // 누적 체결 금액 (quote 기준)
	Fills         []Fill    // 개별 체결 내역 (시장가 FULL 응답 시)
	CreateTime    time.Time // 주문 생성 시간
}

// AvgFillPrice는 체결 내역 기반의 가중 평균 진입가를 반환합니다.
// 개별 체결 내역이 없으면 누적 체결 금액/수량으로 대체합니다.
func (r *OrderResponse) AvgFillPrice() float64 {
	var qty, quote float64
	for _, f := range r.Fills {
		qty += f.Quantity
		quote += f.Price * f.Quantity
	}
	if qty > 0 {
		return quote / qty
	}
	if r.ExecutedQty > 0 {
		return r.CumQuote / r.ExecutedQty
	}
	return 0
}

// OCORequest는 복합(OCO) 청산 주문 요청을 표현합니다
type OCORequest struct {
	Symbol               string
	Side                 OrderSide
	Quantity             string
	Price                string // 익절 지정가
	StopPrice            string // 손절 트리거 가격
	StopLimitPrice       string // 손절 지정가
	StopLimitTimeInForce string // 손절 지정가 유효 기간 (기본 GTC)
}

// OCOResponse는 OCO 주문 응답을 표현합니다
type OCOResponse struct {
	OrderListID int64   // 주문 리스트 ID
	Symbol      string  // 심볼
	OrderIDs    []int64 // 개별 주문 ID 목록
}

// BracketLevels는 정량화가 완료된 보호 주문 레벨을 표현합니다
type BracketLevels struct {
	StopPrice       string // 손절 트리거 가격
	StopLimitPrice  string // 손절 지정가
	TakeProfitPrice string // 익절 가격
	Quantity        string // 청산 수량
}

// BracketResult는 보호 주문 배치 결과를 표현합니다
type BracketResult struct {
	Mode     string           // "oco" | "split" | "none"
	Levels   BracketLevels    // 실제 사용된 레벨
	OrderIDs map[string]int64 // 생성된 주문 ID (key: "oco", "sl", "tp")
	Skipped  []string         // 검증 실패로 생략된 레그 설명
}

// CleanupResult는 진입 전 정리 작업의 수행 내역을 표현합니다
type CleanupResult struct {
	CancelledOrders int      // 취소된 주문 수
	DebtRepaid      float64  // 상환된 부채 수량 (base 자산)
	ResidualSold    float64  // 매도된 잔여 수량 (base 자산)
	Steps           []string // 단계별 수행/실패 기록
}

// OpenResult는 진입 주문의 체결 결과를 표현합니다
type OpenResult struct {
	OrderID    int64   // 진입 주문 ID
	FilledQty  float64 // 체결 수량
	EntryPrice float64 // 가중 평균 진입가
	QuoteSpent float64 // 사용된 quote 금액
	DryRun     bool    // 드라이런 여부
}

// ExecutionReport는 시그널 한 건의 처리 결과를 표현합니다
type ExecutionReport struct {
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Cleanup  *CleanupResult  `json:"cleanup,omitempty"`
	Entry    *OpenResult     `json:"entry,omitempty"`
	Bracket  *BracketResult  `json:"bracket,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
}
