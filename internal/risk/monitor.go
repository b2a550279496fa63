// internal/risk/monitor.go
package risk

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/assist-by/relay/internal/domain"
	"github.com/assist-by/relay/internal/notification"
)

// Level은 마진 레벨에 따른 계정 위험 등급을 정의합니다
type Level int

const (
	Healthy   Level = iota // 정상: 기본 리스크로 거래 허용
	Defensive              // 방어: 축소된 리스크로 거래 허용
	Danger                 // 위험: 신규 진입 차단
	Critical               // 청산 임박: 진입 차단 + 전량 청산
)

// String은 위험 등급의 문자열 표현을 반환합니다
func (l Level) String() string {
	switch l {
	case Healthy:
		return "HEALTHY"
	case Defensive:
		return "DEFENSIVE"
	case Danger:
		return "DANGER"
	case Critical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Thresholds는 위험 등급을 나누는 마진 레벨 경계값을 정의합니다.
// 바이낸스 마진 계정은 1.1에서 강제 청산되므로 Low는 그보다 높아야 합니다.
type Thresholds struct {
	High float64 // 이상이면 Healthy (기본 2.0)
	Mid  float64 // 이상이면 Defensive (기본 1.25)
	Low  float64 // 이상이면 Danger, 미만이면 Critical (기본 1.16)
}

// DefaultThresholds는 기본 경계값을 반환합니다
func DefaultThresholds() Thresholds {
	return Thresholds{High: 2.0, Mid: 1.25, Low: 1.16}
}

// Validate는 경계값 순서를 검증합니다
func (t Thresholds) Validate() error {
	if !(t.Low < t.Mid && t.Mid < t.High) {
		return fmt.Errorf("잘못된 위험 경계값: low(%.2f) < mid(%.2f) < high(%.2f) 순서여야 합니다",
			t.Low, t.Mid, t.High)
	}
	if t.Low <= 1.1 {
		return fmt.Errorf("잘못된 위험 경계값: low(%.2f)는 강제 청산 레벨(1.1)보다 높아야 합니다", t.Low)
	}
	return nil
}

// Classify는 마진 레벨을 위험 등급으로 분류합니다
func Classify(marginLevel float64, t Thresholds) Level {
	switch {
	case marginLevel >= t.High:
		return Healthy
	case marginLevel >= t.Mid:
		return Defensive
	case marginLevel >= t.Low:
		return Danger
	default:
		return Critical
	}
}

// Snapshot은 특정 시점의 위험 평가 결과를 표현합니다
type Snapshot struct {
	Level           Level     `json:"level"`
	TradingBlocked  bool      `json:"trading_blocked"`
	MaxRiskFraction float64   `json:"max_risk_fraction"`
	MarginLevel     float64   `json:"margin_level"`
	CheckedAt       time.Time `json:"checked_at"`
}

// accountReader는 모니터가 필요로 하는 계정 조회 기능입니다
type accountReader interface {
	GetMarginAccount(ctx context.Context) (*domain.MarginAccountInfo, error)
}

// Liquidator는 위급 상황에서 포지션 전량 청산을 수행합니다
type Liquidator interface {
	LiquidateAll(ctx context.Context) error
}

// Monitor는 마진 레벨을 주기적으로 평가하여 거래 허용 여부와
// 리스크 상한을 결정합니다. scheduler.Task를 구현합니다.
type Monitor struct {
	account     accountReader
	thresholds  Thresholds
	defaultRisk float64
	reducedRisk float64
	notifier    notification.Notifier
	liquidator  Liquidator

	mu       sync.RWMutex
	snapshot Snapshot
	hasData  bool
}

// MonitorOption은 모니터 생성 옵션을 정의합니다
type MonitorOption func(*Monitor)

// WithNotifier는 알림 클라이언트를 설정합니다
func WithNotifier(n notification.Notifier) MonitorOption {
	return func(m *Monitor) {
		m.notifier = n
	}
}

// WithThresholds는 위험 경계값을 설정합니다
func WithThresholds(t Thresholds) MonitorOption {
	return func(m *Monitor) {
		m.thresholds = t
	}
}

// NewMonitor는 새로운 위험 모니터를 생성합니다
func NewMonitor(account accountReader, defaultRisk, reducedRisk float64, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		account:     account,
		thresholds:  DefaultThresholds(),
		defaultRisk: defaultRisk,
		reducedRisk: reducedRisk,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// SetLiquidator는 위급 상황 청산 수행자를 등록합니다.
// 청산 수행자가 모니터를 참조하는 순환 의존을 피하기 위해 생성 후 주입합니다.
func (m *Monitor) SetLiquidator(l Liquidator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liquidator = l
}

// Snapshot은 가장 최근의 평가 결과를 반환합니다.
// 아직 평가된 적이 없으면 ok가 false입니다.
func (m *Monitor) Snapshot() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot, m.hasData
}

// Allowed는 현재 신규 진입이 허용되는지와 적용할 리스크 상한을 반환합니다.
// 평가 이력이 없으면 기본 리스크로 허용합니다 (부채 없는 계정은 항상 안전).
func (m *Monitor) Allowed() (bool, float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.hasData {
		return true, m.defaultRisk
	}
	return !m.snapshot.TradingBlocked, m.snapshot.MaxRiskFraction
}

// Execute는 scheduler.Task 구현으로, 위험 평가 한 주기를 수행합니다
func (m *Monitor) Execute(ctx context.Context) error {
	return m.Evaluate(ctx)
}

// Evaluate는 마진 레벨을 조회하여 위험 등급을 갱신합니다.
// 조회에 실패하면 마지막 평가 결과를 유지합니다: 일시적 API 장애로
// 차단 상태가 풀리거나 걸리는 일이 없어야 합니다.
func (m *Monitor) Evaluate(ctx context.Context) error {
	info, err := m.account.GetMarginAccount(ctx)
	if err != nil {
		log.Printf("마진 레벨 조회 실패, 이전 평가 유지: %v", err)
		return fmt.Errorf("위험 평가 실패: %w", err)
	}

	level := Classify(info.MarginLevel, m.thresholds)

	next := Snapshot{
		Level:       level,
		MarginLevel: info.MarginLevel,
		CheckedAt:   time.Now(),
	}

	switch level {
	case Healthy:
		next.MaxRiskFraction = m.defaultRisk
	case Defensive:
		next.MaxRiskFraction = m.reducedRisk
	default:
		next.TradingBlocked = true
	}

	m.mu.Lock()
	prev := m.snapshot
	hadData := m.hasData
	m.snapshot = next
	m.hasData = true
	liquidator := m.liquidator
	m.mu.Unlock()

	if hadData && prev.Level != level {
		log.Printf("위험 등급 변경: %s → %s (마진 레벨: %.4f)", prev.Level, level, info.MarginLevel)
	}

	// 차단 상태에서 정상으로 복귀한 순간에만 복구 알림을 보냅니다
	if hadData && prev.TradingBlocked && level == Healthy && m.notifier != nil {
		if err := m.notifier.SendInfo(fmt.Sprintf(
			"✅ 계정 위험 해소: 마진 레벨 %.4f, 거래가 재개되었습니다", info.MarginLevel)); err != nil {
			log.Printf("복구 알림 전송 실패: %v", err)
		}
	}

	// Critical 진입 시점에만 전량 청산을 트리거합니다 (반복 청산 방지)
	if level == Critical && (!hadData || prev.Level != Critical) {
		log.Printf("청산 임박 감지 (마진 레벨: %.4f), 전량 청산 시작", info.MarginLevel)

		if m.notifier != nil {
			if err := m.notifier.SendError(fmt.Errorf(
				"🚨 청산 임박: 마진 레벨 %.4f, 전 포지션 청산을 시작합니다", info.MarginLevel)); err != nil {
				log.Printf("위험 알림 전송 실패: %v", err)
			}
		}

		if liquidator != nil {
			if err := liquidator.LiquidateAll(ctx); err != nil {
				log.Printf("전량 청산 실패: %v", err)
				if m.notifier != nil {
					m.notifier.SendError(fmt.Errorf("전량 청산 실패: %w", err))
				}
			}
		}
	}

	return nil
}
