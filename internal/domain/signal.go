package domain

import (
	"fmt"
	"strings"
)

// SignalSide는 웹훅 시그널이 요구하는 동작을 정의합니다
type SignalSide int

const (
	OpenLong SignalSide = iota
	OpenShort
	CloseLong
	CloseShort
)

// String은 SignalSide의 문자열 표현을 반환합니다
func (s SignalSide) String() string {
	switch s {
	case OpenLong:
		return "OPEN_LONG"
	case OpenShort:
		return "OPEN_SHORT"
	case CloseLong:
		return "CLOSE_LONG"
	case CloseShort:
		return "CLOSE_SHORT"
	default:
		return "UNKNOWN"
	}
}

// ParseSignalSide는 시그널 소스가 보내는 side 문자열을 해석합니다.
// 대소문자를 구분하지 않으며 LONG≡BUY, SHORT≡SELL로 취급합니다.
func ParseSignalSide(raw string) (SignalSide, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY", "LONG":
		return OpenLong, nil
	case "SELL", "SHORT":
		return OpenShort, nil
	case "CLOSE_LONG":
		return CloseLong, nil
	case "CLOSE_SHORT":
		return CloseShort, nil
	default:
		return 0, fmt.Errorf("알 수 없는 side 값: %q", raw)
	}
}

// TradeSignal은 웹훅으로 수신한 트레이딩 시그널을 표현합니다.
// 숫자 필드는 0이면 미지정으로 취급합니다 (가격/비율이 0인 시그널은 없음).
type TradeSignal struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	EntryPrice float64 `json:"entry_price,omitempty"`
	StopLoss   float64 `json:"sl,omitempty"`
	TakeProfit float64 `json:"tp,omitempty"`
	RiskPct    float64 `json:"risk_pct,omitempty"`
}
