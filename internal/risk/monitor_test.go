package risk

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assist-by/relay/internal/domain"
	"github.com/assist-by/relay/internal/notification"
)

// fakeAccount는 미리 정해진 마진 레벨 시퀀스를 돌려주는 계정 조회 모의 객체입니다
type fakeAccount struct {
	levels []float64
	errs   []error
	calls  int
}

func (f *fakeAccount) GetMarginAccount(ctx context.Context) (*domain.MarginAccountInfo, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return &domain.MarginAccountInfo{MarginLevel: f.levels[i], CanTrade: true}, nil
}

// fakeNotifier는 전송된 알림을 기록합니다
type fakeNotifier struct {
	infos  []string
	errors []error
}

func (f *fakeNotifier) SendInfo(msg string) error  { f.infos = append(f.infos, msg); return nil }
func (f *fakeNotifier) SendError(err error) error  { f.errors = append(f.errors, err); return nil }
func (f *fakeNotifier) SendTradeInfo(info notification.TradeInfo) error { return nil }

// fakeLiquidator는 청산 호출 횟수를 셉니다
type fakeLiquidator struct {
	calls int
	err   error
}

func (f *fakeLiquidator) LiquidateAll(ctx context.Context) error {
	f.calls++
	return f.err
}

func TestClassify(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		marginLevel float64
		want        Level
	}{
		{999.0, Healthy},
		{2.0, Healthy},
		{1.99, Defensive},
		{1.25, Defensive},
		{1.24, Danger},
		{1.16, Danger},
		{1.15, Critical},
		{1.0, Critical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.marginLevel, th), "마진 레벨 %.2f", tt.marginLevel)
	}
}

func TestThresholdsValidate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())
	assert.Error(t, Thresholds{High: 1.25, Mid: 2.0, Low: 1.16}.Validate())
	assert.Error(t, Thresholds{High: 2.0, Mid: 1.25, Low: 1.05}.Validate())
}

func TestEvaluateTransitions(t *testing.T) {
	account := &fakeAccount{levels: []float64{3.0, 1.8, 1.2, 1.0, 3.0}}
	notifier := &fakeNotifier{}
	liquidator := &fakeLiquidator{}

	m := NewMonitor(account, 0.04, 0.02, WithNotifier(notifier))
	m.SetLiquidator(liquidator)

	ctx := context.Background()
	wantLevels := []Level{Healthy, Defensive, Danger, Critical, Healthy}

	for i, want := range wantLevels {
		require.NoError(t, m.Evaluate(ctx))
		snap, ok := m.Snapshot()
		require.True(t, ok)
		assert.Equal(t, want, snap.Level, "단계 %d", i)
	}

	// Critical 진입 시점에 정확히 한 번 청산되어야 합니다
	assert.Equal(t, 1, liquidator.calls)
	assert.NotEmpty(t, notifier.errors)

	// 차단 → 정상 복귀 시 복구 알림은 정확히 한 번
	require.Len(t, notifier.infos, 1)
	assert.Contains(t, notifier.infos[0], "거래가 재개")
}

func TestEvaluateRiskFractions(t *testing.T) {
	account := &fakeAccount{levels: []float64{3.0, 1.5, 1.2}}
	m := NewMonitor(account, 0.04, 0.02)

	ctx := context.Background()

	require.NoError(t, m.Evaluate(ctx))
	allowed, frac := m.Allowed()
	assert.True(t, allowed)
	assert.Equal(t, 0.04, frac)

	require.NoError(t, m.Evaluate(ctx))
	allowed, frac = m.Allowed()
	assert.True(t, allowed)
	assert.Equal(t, 0.02, frac)

	require.NoError(t, m.Evaluate(ctx))
	allowed, _ = m.Allowed()
	assert.False(t, allowed)
}

func TestEvaluateKeepsSnapshotOnError(t *testing.T) {
	account := &fakeAccount{
		levels: []float64{1.2, 0},
		errs:   []error{nil, errors.New("api down")},
	}
	m := NewMonitor(account, 0.04, 0.02)

	ctx := context.Background()
	require.NoError(t, m.Evaluate(ctx))
	assert.Error(t, m.Evaluate(ctx))

	// 조회 실패로 차단 상태가 풀리면 안 됩니다
	snap, ok := m.Snapshot()
	require.True(t, ok)
	assert.Equal(t, Danger, snap.Level)
	assert.True(t, snap.TradingBlocked)
}

func TestAllowedBeforeFirstEvaluation(t *testing.T) {
	m := NewMonitor(&fakeAccount{}, 0.04, 0.02)
	allowed, frac := m.Allowed()
	assert.True(t, allowed)
	assert.Equal(t, 0.04, frac)
}

func TestNoRepeatedLiquidation(t *testing.T) {
	account := &fakeAccount{levels: []float64{1.0, 1.0, 1.05}}
	liquidator := &fakeLiquidator{}

	m := NewMonitor(account, 0.04, 0.02)
	m.SetLiquidator(liquidator)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, m.Evaluate(ctx))
	}

	// Critical 상태가 유지되는 동안 청산은 반복되지 않습니다
	assert.Equal(t, 1, liquidator.calls)
}
