// internal/trader/bracket.go
package trader

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/assist-by/relay/internal/domain"
	"github.com/assist-by/relay/internal/quant"
)

// parseQuotedPrice는 정량화된 십진수 문자열을 float로 변환합니다
func parseQuotedPrice(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// legValid는 보호 주문 한 레그의 유효성을 검증합니다
func legValid(priceStr string, qty float64, tick quant.Step, minNotional float64) error {
	price, err := decimal.NewFromString(priceStr)
	if err != nil || price.Sign() <= 0 {
		return fmt.Errorf("가격이 양수가 아닙니다: %q", priceStr)
	}
	if !tick.IsMultiple(price) {
		return fmt.Errorf("가격 %s이 tick 단위의 배수가 아닙니다", priceStr)
	}
	if parseQuotedPrice(priceStr)*qty < minNotional {
		return fmt.Errorf("명목 금액 %.4f이 최소 %.2f 미만입니다", parseQuotedPrice(priceStr)*qty, minNotional)
	}
	return nil
}

// computeBracketLevels는 오버라이드 또는 설정 비율로부터 보호 주문
// 레벨을 계산하고 tick/step 단위로 정량화합니다.
// 보호 방향에 보수적으로 반올림합니다: 손절은 트리거를 유리하게 넘기지
// 않고, 익절은 목표에 못 미치지 않습니다.
func (e *Engine) computeBracketLevels(signal domain.TradeSignal, side domain.SignalSide, entry *domain.OpenResult, filters *domain.SymbolFilters) (domain.BracketLevels, error) {
	tick, err := quant.NewStep(filters.TickSize)
	if err != nil {
		return domain.BracketLevels{}, fmt.Errorf("tick 파싱 실패: %w", err)
	}
	step, err := quant.NewStep(filters.StepSize)
	if err != nil {
		return domain.BracketLevels{}, fmt.Errorf("step 파싱 실패: %w", err)
	}

	var rawStop, rawTP float64
	var stopMode, tpMode quant.RoundMode

	if side == domain.OpenLong {
		rawStop = entry.EntryPrice * (1 - e.config.StopLossPct)
		rawTP = entry.EntryPrice * (1 + e.config.TakeProfitPct)
		if signal.StopLoss > 0 {
			rawStop = signal.StopLoss
		}
		if signal.TakeProfit > 0 {
			rawTP = signal.TakeProfit
		}
		stopMode, tpMode = quant.RoundDown, quant.RoundUp
	} else {
		rawStop = entry.EntryPrice * (1 + e.config.StopLossPct)
		rawTP = entry.EntryPrice * (1 - e.config.TakeProfitPct)
		if signal.StopLoss > 0 {
			rawStop = signal.StopLoss
		}
		if signal.TakeProfit > 0 {
			rawTP = signal.TakeProfit
		}
		stopMode, tpMode = quant.RoundUp, quant.RoundDown
	}

	levels := domain.BracketLevels{
		StopPrice:       tick.Quantize(rawStop, stopMode),
		TakeProfitPrice: tick.Quantize(rawTP, tpMode),
		// 수수료 차감분을 감안해 체결 수량보다 약간 적게 청산합니다
		Quantity: step.Quantize(entry.FilledQty*e.config.CommissionBuffer, quant.RoundDown),
	}
	levels.StopLimitPrice = levels.StopPrice

	return levels, nil
}

// placeBracket은 진입 포지션에 대한 보호 주문을 배치합니다.
// OCO를 우선 시도하고, 반복 거부 시 손절/익절 두 개의 독립 주문으로
// 폴백합니다. 한 레그의 실패는 다른 레그를 되돌리지 않습니다.
func (e *Engine) placeBracket(ctx context.Context, signal domain.TradeSignal, side domain.SignalSide, entry *domain.OpenResult, filters *domain.SymbolFilters) (*domain.BracketResult, error) {
	if entry == nil || entry.FilledQty <= 0 {
		return nil, fmt.Errorf("체결 수량이 없어 보호 주문을 생략합니다")
	}

	levels, err := e.computeBracketLevels(signal, side, entry, filters)
	if err != nil {
		return nil, err
	}

	result := &domain.BracketResult{
		Mode:     "none",
		Levels:   levels,
		OrderIDs: make(map[string]int64),
	}

	if quant.IsZero(levels.Quantity) {
		return result, fmt.Errorf("청산 수량이 최소 단위 미만으로 정량화되었습니다")
	}
	qty := parseQuotedPrice(levels.Quantity)

	tick, err := quant.NewStep(filters.TickSize)
	if err != nil {
		return result, err
	}

	// 레그별 독립 검증: 실패한 레그는 생략하고, 둘 다 실패하면 중단합니다
	stopErr := legValid(levels.StopPrice, qty, tick, filters.MinNotional)
	tpErr := legValid(levels.TakeProfitPrice, qty, tick, filters.MinNotional)
	if stopErr != nil {
		log.Printf("손절 레그 검증 실패 [%s]: %v", signal.Symbol, stopErr)
		result.Skipped = append(result.Skipped, fmt.Sprintf("손절: %v", stopErr))
	}
	if tpErr != nil {
		log.Printf("익절 레그 검증 실패 [%s]: %v", signal.Symbol, tpErr)
		result.Skipped = append(result.Skipped, fmt.Sprintf("익절: %v", tpErr))
	}
	if stopErr != nil && tpErr != nil {
		return result, fmt.Errorf("손절/익절 레그가 모두 유효하지 않습니다")
	}

	// 정량화 후 방향 불변식 확인 (위반은 기록하되 치명적이지 않음)
	stop := parseQuotedPrice(levels.StopPrice)
	tp := parseQuotedPrice(levels.TakeProfitPrice)
	if side == domain.OpenLong && !(stop < entry.EntryPrice && entry.EntryPrice < tp) {
		log.Printf("경고: 보호 레벨 역전 [%s]: stop=%.8f entry=%.8f tp=%.8f",
			signal.Symbol, stop, entry.EntryPrice, tp)
	}
	if side == domain.OpenShort && !(tp < entry.EntryPrice && entry.EntryPrice < stop) {
		log.Printf("경고: 보호 레벨 역전 [%s]: tp=%.8f entry=%.8f stop=%.8f",
			signal.Symbol, tp, entry.EntryPrice, stop)
	}

	// 청산 주문은 진입 주문의 반대 방향입니다
	entrySide := domain.Buy
	if side == domain.OpenShort {
		entrySide = domain.Sell
	}
	exitSide := entrySide.Opposite()

	if e.config.DryRun || entry.DryRun {
		log.Printf("드라이런: %s 보호 주문 생략 (손절 %s, 익절 %s, 수량 %s)",
			signal.Symbol, levels.StopPrice, levels.TakeProfitPrice, levels.Quantity)
		result.Mode = "oco"
		return result, nil
	}

	// OCO는 두 레그가 모두 유효할 때만 시도할 수 있습니다
	if stopErr == nil && tpErr == nil {
		if listID, ids, err := e.placeOCOWithRetry(ctx, signal.Symbol, exitSide, levels); err == nil {
			result.Mode = "oco"
			result.OrderIDs["oco"] = listID
			for i, id := range ids {
				result.OrderIDs[fmt.Sprintf("oco-%d", i)] = id
			}
			return result, nil
		} else {
			log.Printf("OCO 주문 실패, 개별 주문으로 폴백 [%s]: %v", signal.Symbol, err)
			result.Skipped = append(result.Skipped, fmt.Sprintf("OCO 폴백: %v", err))
		}
	}

	// 폴백: 손절(스탑 리밋)과 익절(지정가)을 순차 배치.
	// 하나가 실패해도 다른 쪽은 유지합니다.
	result.Mode = "split"
	var placed int

	if stopErr == nil {
		resp, err := e.exchange.PlaceOrder(ctx, domain.OrderRequest{
			Symbol:    signal.Symbol,
			Side:      exitSide,
			Type:      domain.StopLossLimit,
			Quantity:  levels.Quantity,
			Price:     levels.StopLimitPrice,
			StopPrice: levels.StopPrice,
		})
		if err != nil {
			log.Printf("손절 주문 실패 [%s]: %v", signal.Symbol, err)
			result.Skipped = append(result.Skipped, fmt.Sprintf("손절 주문 실패: %v", err))
		} else {
			result.OrderIDs["sl"] = resp.OrderID
			placed++
		}
	}

	if tpErr == nil {
		resp, err := e.exchange.PlaceOrder(ctx, domain.OrderRequest{
			Symbol:   signal.Symbol,
			Side:     exitSide,
			Type:     domain.Limit,
			Quantity: levels.Quantity,
			Price:    levels.TakeProfitPrice,
		})
		if err != nil {
			log.Printf("익절 주문 실패 [%s]: %v", signal.Symbol, err)
			result.Skipped = append(result.Skipped, fmt.Sprintf("익절 주문 실패: %v", err))
		} else {
			result.OrderIDs["tp"] = resp.OrderID
			placed++
		}
	}

	if placed == 0 {
		result.Mode = "none"
		return result, fmt.Errorf("보호 주문을 하나도 배치하지 못했습니다")
	}

	return result, nil
}

// placeOCOWithRetry는 OCO 주문을 제한 횟수만큼 재시도합니다
func (e *Engine) placeOCOWithRetry(ctx context.Context, symbol string, exitSide domain.OrderSide, levels domain.BracketLevels) (int64, []int64, error) {
	var lastErr error

	for attempt := 1; attempt <= e.config.OCOMaxAttempts; attempt++ {
		resp, err := e.exchange.PlaceOCO(ctx, domain.OCORequest{
			Symbol:         symbol,
			Side:           exitSide,
			Quantity:       levels.Quantity,
			Price:          levels.TakeProfitPrice,
			StopPrice:      levels.StopPrice,
			StopLimitPrice: levels.StopLimitPrice,
		})
		if err == nil {
			return resp.OrderListID, resp.OrderIDs, nil
		}

		lastErr = err
		if attempt < e.config.OCOMaxAttempts {
			log.Printf("OCO 주문 실패 (%d/%d) [%s]: %v", attempt, e.config.OCOMaxAttempts, symbol, err)
			select {
			case <-ctx.Done():
				return 0, nil, ctx.Err()
			case <-time.After(e.config.OCORetryDelay):
			}
		}
	}

	return 0, nil, lastErr
}
