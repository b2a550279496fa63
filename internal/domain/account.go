package domain

// Balance는 현물 계정의 자산 잔고를 표현합니다
type Balance struct {
	Asset  string  // 자산 심볼 (예: USDC, BTC)
	Free   float64 // 사용 가능한 잔고
	Locked float64 // 주문 등에 잠긴 잔고
}

// MarginBalance는 마진 계정의 자산 잔고를 표현합니다
type MarginBalance struct {
	Asset    string  // 자산 심볼
	Free     float64 // 사용 가능한 잔고
	Locked   float64 // 잠긴 잔고
	Borrowed float64 // 대출 잔량
	Interest float64 // 미지급 이자
	NetAsset float64 // 순자산 (free + locked - borrowed - interest)
}

// MarginAccountInfo는 마진 계정 전체 상태를 표현합니다
type MarginAccountInfo struct {
	MarginLevel float64                  // 마진 레벨 (담보/부채 비율)
	Balances    map[string]MarginBalance // 자산별 잔고
	CanTrade    bool                     // 거래 가능 여부
}

// SymbolFilters는 심볼의 거래 제약 조건을 표현합니다.
// StepSize와 TickSize는 거래소가 보고한 십진수 문자열 그대로 보존합니다.
type SymbolFilters struct {
	Symbol      string  // 심볼 이름 (예: BTCUSDC)
	BaseAsset   string  // base 자산 (예: BTC)
	QuoteAsset  string  // quote 자산 (예: USDC)
	StepSize    string  // 수량 최소 단위 (예: "0.00001000")
	TickSize    string  // 가격 최소 단위 (예: "0.01000000")
	MinQty      float64 // 최소 주문 수량
	MinNotional float64 // 최소 주문 가치
}
