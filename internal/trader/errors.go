package trader

import "fmt"

// 거래 엔진에서 발생할 수 있는 에러를 정의합니다
var (
	ErrTradingBlocked    = fmt.Errorf("위험 등급으로 인해 신규 진입이 차단되었습니다")
	ErrUnsupportedSignal = fmt.Errorf("지원하지 않는 시그널 타입입니다")
	ErrCleanupAborted    = fmt.Errorf("정리 작업을 중단했습니다")
)

// TradeError는 거래 작업 에러를 확장한 구조체입니다
type TradeError struct {
	Symbol string
	Op     string
	Err    error
}

// Error는 error 인터페이스를 구현합니다
func (e *TradeError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("거래 에러 [%s, 작업: %s]: %v", e.Symbol, e.Op, e.Err)
	}
	return fmt.Sprintf("거래 에러 [작업: %s]: %v", e.Op, e.Err)
}

// Unwrap은 내부 에러를 반환합니다 (errors.Is/As 지원을 위함)
func (e *TradeError) Unwrap() error {
	return e.Err
}

// NewTradeError는 새로운 TradeError를 생성합니다
func NewTradeError(symbol, op string, err error) *TradeError {
	return &TradeError{
		Symbol: symbol,
		Op:     op,
		Err:    err,
	}
}

// SizingError는 계산된 주문이 거래소 최소 조건을 만족하지 못할 때 발생합니다.
// 네트워크 호출 전에 발생하며, 주문은 전송되지 않습니다.
type SizingError struct {
	Symbol string
	Reason string
}

// Error는 error 인터페이스를 구현합니다
func (e *SizingError) Error() string {
	return fmt.Sprintf("주문 크기 계산 실패 [%s]: %s", e.Symbol, e.Reason)
}
