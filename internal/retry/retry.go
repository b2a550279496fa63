// Package retry는 외부 API 호출에 일관되게 적용하는 재시도 정책을 제공합니다
package retry

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Policy는 재시도 정책을 정의합니다
type Policy struct {
	MaxAttempts int                             // 최대 시도 횟수 (첫 시도 포함)
	BaseDelay   time.Duration                   // 기본 대기 시간
	MaxDelay    time.Duration                   // 최대 대기 시간
	Factor      float64                         // 대기 시간 증가 계수
	Retryable   func(err error) bool            // 재시도 가능한 오류인지 판단
}

// DefaultPolicy는 기본 재시도 정책을 반환합니다 (3회, 1초 시작 지수 백오프)
func DefaultPolicy(retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    10 * time.Second,
		Factor:      2.0,
		Retryable:   retryable,
	}
}

// Do는 fn을 정책에 따라 실행합니다. 재시도 불가능한 오류는 즉시 반환하고,
// 재시도 가능한 오류는 백오프 후 재시도하며, 횟수 초과 시 마지막 오류를 반환합니다.
func (p Policy) Do(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	delay := p.BaseDelay

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}

		if attempt == p.MaxAttempts {
			break
		}

		log.Printf("%s 실패 (attempt %d/%d): %v", operation, attempt, p.MaxAttempts, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * p.Factor)
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
	}

	return fmt.Errorf("최대 재시도 횟수 초과 (%s): %w", operation, lastErr)
}
