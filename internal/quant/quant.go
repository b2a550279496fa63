// Package quant는 거래소가 보고한 step/tick 단위에 대한 정확한
// 십진수 정량화를 제공합니다. 이진 부동소수점으로는 0.00000100 같은
// 단위를 정확히 표현할 수 없으므로 모든 연산은 decimal로 수행합니다.
package quant

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// RoundMode는 정량화 시 반올림 방향을 정의합니다
type RoundMode int

const (
	RoundDown RoundMode = iota // 내림 (수량, 롱 손절가)
	RoundUp                    // 올림 (롱 익절가)
)

// Step은 파싱이 완료된 step/tick 단위를 표현합니다
type Step struct {
	size   decimal.Decimal
	digits int32 // 출력에 사용할 소수 자릿수 (step의 유효 소수 자릿수)
}

// NewStep은 거래소가 보고한 십진수 문자열로부터 Step을 생성합니다
func NewStep(step string) (Step, error) {
	d, err := decimal.NewFromString(step)
	if err != nil {
		return Step{}, fmt.Errorf("step 파싱 실패 (%q): %w", step, err)
	}
	if d.Sign() <= 0 {
		return Step{}, fmt.Errorf("step은 양수여야 합니다: %q", step)
	}
	return Step{size: d, digits: fracDigits(d)}, nil
}

// fracDigits는 값의 유효 소수 자릿수를 반환합니다.
// "0.00001000"처럼 뒤에 붙은 0은 자릿수에 포함하지 않습니다.
func fracDigits(d decimal.Decimal) int32 {
	s := d.String() // String()은 후행 0을 제거한 표현을 반환
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return int32(len(s) - i - 1)
	}
	return 0
}

// Quantize는 value를 step의 정수배로 정량화하여 문자열로 반환합니다.
// RoundDown은 value를 넘지 않는 최대 배수를, RoundUp은 value 이상의
// 최소 배수를 반환합니다. 출력은 step의 유효 소수 자릿수에 맞추며
// 절대 지수 표기를 사용하지 않습니다.
func (s Step) Quantize(value float64, mode RoundMode) string {
	v := decimal.NewFromFloat(value)
	q := v.Div(s.size)
	if mode == RoundUp {
		q = q.Ceil()
	} else {
		q = q.Floor()
	}
	return q.Mul(s.size).StringFixed(s.digits)
}

// Digits는 출력 소수 자릿수를 반환합니다
func (s Step) Digits() int32 { return s.digits }

// Size는 step 크기를 반환합니다
func (s Step) Size() decimal.Decimal { return s.size }

// IsMultiple은 value가 step의 정수배인지 확인합니다
func (s Step) IsMultiple(value decimal.Decimal) bool {
	return value.Mod(s.size).IsZero()
}

// FloorToStep은 value를 넘지 않는 step의 최대 배수를 반환합니다.
// value < step이면 0 값 문자열이 반환되며, 호출자는 이를
// "최소 단위 미만"으로 취급하여 주문을 보내지 않아야 합니다.
func FloorToStep(value float64, step string) (string, error) {
	s, err := NewStep(step)
	if err != nil {
		return "", err
	}
	return s.Quantize(value, RoundDown), nil
}

// CeilToStep은 value 이상인 step의 최소 배수를 반환합니다
func CeilToStep(value float64, step string) (string, error) {
	s, err := NewStep(step)
	if err != nil {
		return "", err
	}
	return s.Quantize(value, RoundUp), nil
}

// IsZero는 정량화된 문자열이 0 값인지 확인합니다
func IsZero(quantized string) bool {
	d, err := decimal.NewFromString(quantized)
	if err != nil {
		return true
	}
	return d.IsZero()
}
