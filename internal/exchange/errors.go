package exchange

import (
	"errors"
	"fmt"
)

// ErrSymbolNotFound는 심볼 정보 또는 필수 필터가 없을 때 반환됩니다.
// 호출자는 기본값으로 진행하지 말고 작업을 중단해야 합니다.
var ErrSymbolNotFound = errors.New("심볼 정보를 찾을 수 없습니다")

// APIError는 거래소 API의 비정상 응답을 표현합니다
type APIError struct {
	Status  int    // HTTP 상태 코드 (네트워크 오류는 0)
	Code    int    // 거래소 내부 에러 코드
	Message string // 거래소 에러 메시지
}

// Error는 error 인터페이스를 구현합니다
func (e *APIError) Error() string {
	return fmt.Sprintf("API 에러 (HTTP %d, 코드: %d): %s", e.Status, e.Code, e.Message)
}

// IsRejected는 거래소가 요청 자체를 거부한 업무 오류인지 확인합니다 (4xx).
// 거부 오류는 재시도해도 결과가 달라지지 않습니다.
func IsRejected(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 400 && apiErr.Status < 500
	}
	return false
}

// IsTransient는 재시도 가능한 일시 오류인지 확인합니다
// (네트워크/타임아웃/5xx). 일시 오류 후의 쓰기 작업은 결과를 알 수 없습니다:
// 클라이언트에는 타임아웃으로 보여도 주문은 체결되었을 수 있습니다.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == 0 || apiErr.Status >= 500
	}
	// APIError로 분류되지 않은 오류는 전송 계층 실패로 취급
	return !errors.Is(err, ErrSymbolNotFound)
}
