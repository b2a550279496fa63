package domain

// OrderSide는 주문 방향을 정의합니다
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite는 반대 방향의 주문 사이드를 반환합니다
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType은 주문 유형을 정의합니다
type OrderType string

const (
	Market        OrderType = "MARKET"
	Limit         OrderType = "LIMIT"
	StopLossLimit OrderType = "STOP_LOSS_LIMIT"
)

// SideEffect는 마진 주문의 부가 효과를 정의합니다
type SideEffect string

const (
	SideEffectNone      SideEffect = ""
	SideEffectMarginBuy SideEffect = "MARGIN_BUY" // 잔고 부족분 자동 대출
	SideEffectAutoRepay SideEffect = "AUTO_REPAY" // 체결 금액으로 부채 자동 상환
)

// AccountType은 거래에 사용할 계정 유형을 정의합니다
type AccountType string

const (
	SpotAccount   AccountType = "SPOT"
	MarginAccount AccountType = "MARGIN"
)
