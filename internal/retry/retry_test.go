package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Factor:      2.0,
		Retryable:   retryable,
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	p := fastPolicy(func(error) bool { return true })

	err := p.Do(context.Background(), "테스트 호출", func() error {
		calls++
		if calls < 3 {
			return errors.New("일시 오류")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	rejected := errors.New("거부됨")
	calls := 0
	p := fastPolicy(func(err error) bool { return !errors.Is(err, rejected) })

	err := p.Do(context.Background(), "테스트 호출", func() error {
		calls++
		return rejected
	})

	assert.ErrorIs(t, err, rejected)
	assert.Equal(t, 1, calls, "거부 오류는 재시도하지 않아야 합니다")
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	p := fastPolicy(func(error) bool { return true })

	err := p.Do(context.Background(), "테스트 호출", func() error {
		calls++
		return errors.New("계속 실패")
	})

	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := fastPolicy(func(error) bool { return true })
	err := p.Do(ctx, "테스트 호출", func() error { return errors.New("실패") })

	assert.ErrorIs(t, err, context.Canceled)
}
