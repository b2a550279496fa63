// internal/trader/opener.go
package trader

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/assist-by/relay/internal/domain"
	"github.com/assist-by/relay/internal/exchange"
	"github.com/assist-by/relay/internal/quant"
)

// quoteStep은 quote 금액 주문에 사용하는 정량화 단위입니다
const quoteStep = "0.01"

// newClientOrderID는 진입 주문용 클라이언트 주문 ID를 생성합니다.
// 거래소의 newClientOrderId는 36자로 제한되므로 UUID에서 하이픈을
// 제거하고 잘라 폴백 접미사("-q")를 붙여도 제한 안에 들어가게 합니다.
func newClientOrderID() string {
	return "relay-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// quoteBalance는 계정 유형에 맞는 quote 자산의 가용 잔고를 조회합니다
func (e *Engine) quoteBalance(ctx context.Context) (float64, error) {
	if e.config.AccountType == domain.MarginAccount {
		info, err := e.exchange.GetMarginAccount(ctx)
		if err != nil {
			return 0, err
		}
		return info.Balances[e.config.QuoteAsset].Free, nil
	}

	balance, err := e.exchange.GetBalance(ctx, e.config.QuoteAsset)
	if err != nil {
		return 0, err
	}
	return balance.Free, nil
}

// open은 진입 주문을 계산하고 실행합니다.
// 네트워크 변경 호출 전에 크기 검증을 마치며, 최소 조건에 미달하면
// SizingError를 반환하고 아무 주문도 전송하지 않습니다.
func (e *Engine) open(ctx context.Context, signal domain.TradeSignal, side domain.SignalSide, filters *domain.SymbolFilters, maxRisk float64) (*domain.OpenResult, float64, error) {
	balance, err := e.quoteBalance(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("잔고 조회 실패: %w", err)
	}

	// 리스크 비율: 시그널 오버라이드와 모니터 상한 중 작은 값
	riskFraction := e.config.DefaultRiskPct
	if signal.RiskPct > 0 {
		riskFraction = signal.RiskPct
	}
	if maxRisk > 0 && riskFraction > maxRisk {
		riskFraction = maxRisk
	}

	targetQuote := balance * riskFraction
	if e.config.MaxQuoteCap > 0 && targetQuote > e.config.MaxQuoteCap {
		targetQuote = e.config.MaxQuoteCap
	}

	price, err := e.exchange.GetPrice(ctx, signal.Symbol)
	if err != nil {
		return nil, balance, fmt.Errorf("가격 조회 실패: %w", err)
	}
	if price <= 0 {
		return nil, balance, fmt.Errorf("잘못된 가격: %f", price)
	}

	// 주문 전 크기 검증 (네트워크 변경 호출 없이 실패해야 함)
	qtyStr, err := quant.FloorToStep(targetQuote/price, filters.StepSize)
	if err != nil {
		return nil, balance, fmt.Errorf("수량 정량화 실패: %w", err)
	}
	if quant.IsZero(qtyStr) {
		return nil, balance, &SizingError{
			Symbol: signal.Symbol,
			Reason: fmt.Sprintf("수량이 최소 단위 미만입니다 (목표 %.2f %s, 가격 %.2f)", targetQuote, e.config.QuoteAsset, price),
		}
	}

	qty := parseQuotedPrice(qtyStr)
	if qty < filters.MinQty {
		return nil, balance, &SizingError{
			Symbol: signal.Symbol,
			Reason: fmt.Sprintf("수량 %s이 최소 수량 %.8f보다 작습니다", qtyStr, filters.MinQty),
		}
	}
	if qty*price < filters.MinNotional {
		return nil, balance, &SizingError{
			Symbol: signal.Symbol,
			Reason: fmt.Sprintf("명목 금액 %.2f이 최소 %.2f보다 작습니다", qty*price, filters.MinNotional),
		}
	}

	orderSide := domain.Buy
	sideEffect := domain.SideEffectNone
	if side == domain.OpenShort {
		// 숏 진입: base 자산을 자동 대출받아 매도
		orderSide = domain.Sell
		sideEffect = domain.SideEffectMarginBuy
	}
	if e.config.AccountType != domain.MarginAccount {
		sideEffect = domain.SideEffectNone
	}

	quoteStr, err := quant.FloorToStep(targetQuote, quoteStep)
	if err != nil {
		return nil, balance, fmt.Errorf("quote 금액 정량화 실패: %w", err)
	}

	if e.config.DryRun {
		log.Printf("드라이런: %s %s 진입 생략 (수량 %s, 금액 %s %s)",
			signal.Symbol, side, qtyStr, quoteStr, e.config.QuoteAsset)
		return &domain.OpenResult{
			FilledQty:  qty,
			EntryPrice: price,
			QuoteSpent: qty * price,
			DryRun:     true,
		}, balance, nil
	}

	clientID := newClientOrderID()

	// 1차 시도: quote 금액 지정 주문 (수량 계산을 체결 시점에 위임하여
	// 반올림 오차를 최소화)
	resp, err := e.exchange.PlaceOrder(ctx, domain.OrderRequest{
		Symbol:        signal.Symbol,
		Side:          orderSide,
		Type:          domain.Market,
		QuoteQuantity: quoteStr,
		ClientOrderID: clientID,
		SideEffect:    sideEffect,
	})
	if err != nil {
		if !exchange.IsRejected(err) {
			return nil, balance, fmt.Errorf("진입 주문 실패: %w", err)
		}

		// 2차 시도: quote 금액 주문이 거부된 계정/심볼은 수량 지정으로 폴백
		log.Printf("quote 금액 주문 거부, 수량 지정으로 폴백 [%s]: %v", signal.Symbol, err)
		resp, err = e.exchange.PlaceOrder(ctx, domain.OrderRequest{
			Symbol:        signal.Symbol,
			Side:          orderSide,
			Type:          domain.Market,
			Quantity:      qtyStr,
			ClientOrderID: clientID + "-q",
			SideEffect:    sideEffect,
		})
		if err != nil {
			return nil, balance, fmt.Errorf("진입 주문 실패: %w", err)
		}
	}

	result := &domain.OpenResult{
		OrderID:    resp.OrderID,
		FilledQty:  resp.ExecutedQty,
		EntryPrice: resp.AvgFillPrice(),
		QuoteSpent: resp.CumQuote,
	}

	if result.FilledQty <= 0 || result.EntryPrice <= 0 {
		return result, balance, fmt.Errorf("체결 내역이 비어 있습니다 (주문 ID: %d, 상태: %s)", resp.OrderID, resp.Status)
	}

	log.Printf("진입 체결 [%s]: 수량 %.8f, 평균가 %.8f, 사용 금액 %.2f",
		signal.Symbol, result.FilledQty, result.EntryPrice, result.QuoteSpent)

	return result, balance, nil
}
