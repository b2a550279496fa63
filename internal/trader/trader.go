// internal/trader/trader.go
package trader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/assist-by/relay/internal/domain"
	"github.com/assist-by/relay/internal/exchange"
	"github.com/assist-by/relay/internal/notification"
)

// Config는 거래 엔진 설정을 정의합니다
type Config struct {
	QuoteAsset       string             // 기준 quote 자산 (예: USDC)
	AccountType      domain.AccountType // 거래 계정 유형
	DefaultRiskPct   float64            // 기본 리스크 비율 (잔고 대비)
	MaxQuoteCap      float64            // 주문당 최대 quote 금액 (0이면 무제한)
	StopLossPct      float64            // 손절 비율 (오버라이드 없을 때)
	TakeProfitPct    float64            // 익절 비율 (오버라이드 없을 때)
	CommissionBuffer float64            // 청산 수량 수수료 버퍼 (예: 0.999)
	RepayBuffer      float64            // 부채 상환용 매수 버퍼 (예: 1.02)
	OCOMaxAttempts   int                // OCO 주문 재시도 횟수
	OCORetryDelay    time.Duration      // OCO 재시도 간격
	DryRun           bool               // 드라이런 모드
}

// applyDefaults는 설정의 빈 값을 기본값으로 채웁니다
func (c *Config) applyDefaults() {
	if c.QuoteAsset == "" {
		c.QuoteAsset = "USDC"
	}
	if c.AccountType == "" {
		c.AccountType = domain.MarginAccount
	}
	if c.DefaultRiskPct <= 0 {
		c.DefaultRiskPct = 0.04
	}
	if c.StopLossPct <= 0 {
		c.StopLossPct = 0.02
	}
	if c.TakeProfitPct <= 0 {
		c.TakeProfitPct = 0.04
	}
	if c.CommissionBuffer <= 0 {
		c.CommissionBuffer = 0.999
	}
	if c.RepayBuffer <= 0 {
		c.RepayBuffer = 1.02
	}
	if c.OCOMaxAttempts <= 0 {
		c.OCOMaxAttempts = 3
	}
	if c.OCORetryDelay <= 0 {
		c.OCORetryDelay = 500 * time.Millisecond
	}
}

// riskGate는 진입 전 위험 상태 확인에 필요한 기능입니다
type riskGate interface {
	Evaluate(ctx context.Context) error
	Allowed() (allowed bool, maxRiskFraction float64)
}

// Engine은 시그널 한 건을 위험 게이트 → 정리 → 진입 → 보호 주문
// 순서로 처리하는 거래 엔진입니다
type Engine struct {
	exchange exchange.Exchange
	monitor  riskGate
	notifier notification.Notifier
	config   Config
}

// EngineOption은 엔진 생성 옵션을 정의합니다
type EngineOption func(*Engine)

// WithNotifier는 알림 클라이언트를 설정합니다
func WithNotifier(n notification.Notifier) EngineOption {
	return func(e *Engine) {
		e.notifier = n
	}
}

// NewEngine은 새로운 거래 엔진을 생성합니다
func NewEngine(ex exchange.Exchange, monitor riskGate, config Config, opts ...EngineOption) *Engine {
	config.applyDefaults()

	e := &Engine{
		exchange: ex,
		monitor:  monitor,
		config:   config,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// ExecuteSignal은 시그널 한 건을 끝까지 처리하고 실행 보고서를 반환합니다
func (e *Engine) ExecuteSignal(ctx context.Context, signal domain.TradeSignal) (*domain.ExecutionReport, error) {
	side, err := domain.ParseSignalSide(signal.Side)
	if err != nil {
		return nil, NewTradeError(signal.Symbol, "시그널 해석", fmt.Errorf("%w: %v", ErrUnsupportedSignal, err))
	}

	if signal.Symbol == "" {
		return nil, NewTradeError("", "시그널 해석", fmt.Errorf("symbol이 비어 있습니다"))
	}

	report := &domain.ExecutionReport{
		Symbol: signal.Symbol,
		Side:   side.String(),
	}

	switch side {
	case domain.OpenLong, domain.OpenShort:
		return e.openPosition(ctx, signal, side, report)
	case domain.CloseLong, domain.CloseShort:
		return e.closePosition(ctx, signal, report)
	default:
		return nil, ErrUnsupportedSignal
	}
}

// openPosition은 신규 진입 시그널을 처리합니다:
// 위험 게이트 → 사전 정리 → 진입 주문 → 보호 주문 → 알림.
func (e *Engine) openPosition(ctx context.Context, signal domain.TradeSignal, side domain.SignalSide, report *domain.ExecutionReport) (*domain.ExecutionReport, error) {
	// 진입 직전에 위험 상태를 새로 평가합니다.
	// 평가 실패 시 마지막 평가 결과로 판단합니다 (모니터가 유지).
	if err := e.monitor.Evaluate(ctx); err != nil {
		log.Printf("진입 전 위험 평가 실패, 마지막 평가 사용: %v", err)
	}

	allowed, maxRisk := e.monitor.Allowed()
	if !allowed {
		return nil, NewTradeError(signal.Symbol, "위험 게이트", ErrTradingBlocked)
	}

	filters, err := e.exchange.GetSymbolFilters(ctx, signal.Symbol)
	if err != nil {
		return nil, NewTradeError(signal.Symbol, "심볼 필터 조회", err)
	}

	// 사전 정리는 최선을 다하되 실패해도 진입을 막지 않습니다
	cleanup, err := e.cleanupSymbol(ctx, filters)
	report.Cleanup = cleanup
	if err != nil {
		log.Printf("사전 정리 일부 실패 (진입은 계속): %v", err)
		report.Warnings = append(report.Warnings, fmt.Sprintf("사전 정리 실패: %v", err))
	}

	entry, balance, err := e.open(ctx, signal, side, filters, maxRisk)
	if err != nil {
		if e.notifier != nil {
			e.notifier.SendError(NewTradeError(signal.Symbol, "진입", err))
		}
		return report, NewTradeError(signal.Symbol, "진입", err)
	}
	report.Entry = entry

	// 진입이 체결된 뒤의 보호 주문 실패는 경고일 뿐, 진입을 되돌리지 않습니다
	bracket, err := e.placeBracket(ctx, signal, side, entry, filters)
	report.Bracket = bracket
	if err != nil {
		log.Printf("보호 주문 실패 [%s]: %v", signal.Symbol, err)
		report.Warnings = append(report.Warnings, fmt.Sprintf("보호 주문 실패: %v", err))
		if e.notifier != nil {
			e.notifier.SendError(NewTradeError(signal.Symbol, "보호 주문", err))
		}
	}

	e.notifyTrade(signal.Symbol, side, entry, bracket, maxRisk, balance)
	return report, nil
}

// closePosition은 청산 시그널을 처리합니다. 주문 취소, 부채 상환,
// 잔여 base 매도를 수행하면 포지션은 quote 자산으로 평탄화됩니다.
func (e *Engine) closePosition(ctx context.Context, signal domain.TradeSignal, report *domain.ExecutionReport) (*domain.ExecutionReport, error) {
	filters, err := e.exchange.GetSymbolFilters(ctx, signal.Symbol)
	if err != nil {
		return nil, NewTradeError(signal.Symbol, "심볼 필터 조회", err)
	}

	cleanup, err := e.cleanupSymbol(ctx, filters)
	report.Cleanup = cleanup
	if err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("청산 일부 실패: %v", err))
		if e.notifier != nil {
			e.notifier.SendError(NewTradeError(signal.Symbol, "포지션 청산", err))
		}
		return report, NewTradeError(signal.Symbol, "포지션 청산", err)
	}

	if e.notifier != nil {
		e.notifier.SendInfo(fmt.Sprintf(
			"포지션 청산 완료: %s (취소 주문 %d건, 상환 %.8f, 잔여 매도 %.8f)",
			signal.Symbol, cleanup.CancelledOrders, cleanup.DebtRepaid, cleanup.ResidualSold))
	}

	return report, nil
}

// LiquidateAll은 전체 계정을 quote 자산으로 평탄화합니다:
// 모든 심볼의 주문 취소, 부채 상환, 잔여 자산 매도.
// risk.Liquidator 인터페이스를 구현합니다.
func (e *Engine) LiquidateAll(ctx context.Context) error {
	info, err := e.exchange.GetMarginAccount(ctx)
	if err != nil {
		return NewTradeError("", "전량 청산", err)
	}

	var failed []string
	for asset, balance := range info.Balances {
		if asset == e.config.QuoteAsset {
			continue
		}
		if balance.Free == 0 && balance.Locked == 0 && balance.Borrowed == 0 && balance.Interest == 0 {
			continue
		}

		symbol := asset + e.config.QuoteAsset
		filters, err := e.exchange.GetSymbolFilters(ctx, symbol)
		if err != nil {
			// quote 마켓이 없는 자산은 평탄화할 수 없으므로 건너뜁니다
			log.Printf("전량 청산: %s 필터 조회 실패, 건너뜀: %v", symbol, err)
			failed = append(failed, symbol)
			continue
		}

		if _, err := e.cleanupSymbol(ctx, filters); err != nil {
			log.Printf("전량 청산: %s 정리 실패: %v", symbol, err)
			failed = append(failed, symbol)
		}
	}

	if len(failed) > 0 {
		return NewTradeError("", "전량 청산", fmt.Errorf("%d개 심볼 정리 실패: %v", len(failed), failed))
	}

	if e.notifier != nil {
		e.notifier.SendInfo(fmt.Sprintf("전량 청산 완료: 모든 자산을 %s로 전환했습니다", e.config.QuoteAsset))
	}

	return nil
}

// AccountSnapshot은 마진 계정 상태를 반환합니다 (관리 채널용)
func (e *Engine) AccountSnapshot(ctx context.Context) (*domain.MarginAccountInfo, error) {
	return e.exchange.GetMarginAccount(ctx)
}

// Borrow는 수동 대출을 실행합니다 (관리 채널용)
func (e *Engine) Borrow(ctx context.Context, asset, amount string) (int64, error) {
	if e.config.DryRun {
		log.Printf("드라이런: 대출 생략 [%s %s]", asset, amount)
		return 0, nil
	}
	return e.exchange.Borrow(ctx, asset, amount)
}

// Repay는 수동 상환을 실행합니다 (관리 채널용)
func (e *Engine) Repay(ctx context.Context, asset, amount string) (int64, error) {
	if e.config.DryRun {
		log.Printf("드라이런: 상환 생략 [%s %s]", asset, amount)
		return 0, nil
	}
	return e.exchange.Repay(ctx, asset, amount)
}

// notifyTrade는 진입 결과를 알림으로 전송합니다
func (e *Engine) notifyTrade(symbol string, side domain.SignalSide, entry *domain.OpenResult, bracket *domain.BracketResult, riskPct, balance float64) {
	if e.notifier == nil || entry == nil {
		return
	}

	info := notification.TradeInfo{
		Symbol:     symbol,
		Quantity:   entry.FilledQty,
		EntryPrice: entry.EntryPrice,
		QuoteSpent: entry.QuoteSpent,
		RiskPct:    riskPct,
		Balance:    balance,
		DryRun:     entry.DryRun,
	}
	if side == domain.OpenLong {
		info.Side = "LONG"
	} else {
		info.Side = "SHORT"
	}
	if bracket != nil {
		info.StopLoss = parseQuotedPrice(bracket.Levels.StopPrice)
		info.TakeProfit = parseQuotedPrice(bracket.Levels.TakeProfitPrice)
	}

	if err := e.notifier.SendTradeInfo(info); err != nil {
		log.Printf("거래 알림 전송 실패: %v", err)
	}
}

// IsSizingError는 에러가 주문 크기 계산 실패인지 확인합니다
func IsSizingError(err error) bool {
	var se *SizingError
	return errors.As(err, &se)
}
