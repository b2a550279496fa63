package notification

const (
	ColorSuccess = 0x00FF00 // 녹색
	ColorError   = 0xFF0000 // 빨간색
	ColorInfo    = 0x0000FF // 파란색
	ColorWarning = 0xFFA500 // 주황색
)

// Notifier는 알림 전송 인터페이스를 정의합니다
type Notifier interface {
	// SendError는 에러 알림을 전송합니다
	SendError(err error) error

	// SendInfo는 일반 정보 알림을 전송합니다
	SendInfo(message string) error

	// SendTradeInfo는 거래 실행 정보를 전송합니다
	SendTradeInfo(info TradeInfo) error
}

// TradeInfo는 거래 실행 정보를 정의합니다
type TradeInfo struct {
	Symbol     string  // 심볼 (예: BTCUSDC)
	Side       string  // "LONG" or "SHORT"
	Quantity   float64 // 체결 수량 (base 자산)
	EntryPrice float64 // 가중 평균 진입가
	QuoteSpent float64 // 사용된 quote 금액
	StopLoss   float64 // 손절가
	TakeProfit float64 // 익절가
	RiskPct    float64 // 적용된 리스크 비율
	Balance    float64 // 주문 전 quote 잔고
	DryRun     bool    // 드라이런 여부
}

// GetColorForSide는 포지션 방향에 따른 색상을 반환합니다
func GetColorForSide(side string) int {
	switch side {
	case "LONG":
		return ColorSuccess
	case "SHORT":
		return ColorError
	default:
		return ColorInfo
	}
}
