// internal/trader/cleanup.go
package trader

import (
	"context"
	"fmt"
	"log"

	"github.com/assist-by/relay/internal/domain"
	"github.com/assist-by/relay/internal/quant"
)

// cleanupSymbol은 신규 진입 전 심볼의 거래소 상태를 정리합니다:
// 1) 미체결 주문 전체 취소 (실패는 기록만)
// 2) base 자산 부채 상환 (부족분은 버퍼를 더해 매수 후 상환)
// 3) 잔여 base 자산(dust) 매도
// 최선을 다하는 작업이며, 2단계의 매수 불가 상황만 에러로 보고합니다.
func (e *Engine) cleanupSymbol(ctx context.Context, filters *domain.SymbolFilters) (*domain.CleanupResult, error) {
	result := &domain.CleanupResult{}
	symbol := filters.Symbol
	base := filters.BaseAsset

	// 1단계: 미체결 주문 취소. 취소할 주문이 없을 때 전체 취소를 호출하면
	// 거래소가 에러(-2011)를 반환하므로 먼저 조회해서 비어 있으면 건너뜁니다.
	if e.config.DryRun {
		result.Steps = append(result.Steps, "드라이런: 주문 취소 생략")
	} else if open, err := e.exchange.GetOpenOrders(ctx, symbol); err != nil {
		// 조회 실패는 치명적이지 않음: 다음 단계는 대개 그대로 진행 가능
		log.Printf("미체결 주문 조회 실패 [%s]: %v", symbol, err)
		result.Steps = append(result.Steps, fmt.Sprintf("주문 조회 실패: %v", err))
	} else if len(open) == 0 {
		result.Steps = append(result.Steps, "취소할 미체결 주문 없음")
	} else if n, err := e.exchange.CancelOpenOrders(ctx, symbol); err != nil {
		log.Printf("미체결 주문 취소 실패 [%s]: %v", symbol, err)
		result.Steps = append(result.Steps, fmt.Sprintf("주문 취소 실패: %v", err))
	} else {
		result.CancelledOrders = n
		result.Steps = append(result.Steps, fmt.Sprintf("주문 %d건 취소", n))
	}

	if e.config.AccountType != domain.MarginAccount {
		// 현물 계정은 부채가 없으므로 dust 매도만 수행합니다
		if err := e.sellResidual(ctx, filters, result); err != nil {
			log.Printf("잔여 자산 매도 실패 [%s]: %v", symbol, err)
			result.Steps = append(result.Steps, fmt.Sprintf("잔여 매도 실패: %v", err))
		}
		return result, nil
	}

	// 2단계: 부채 상환
	info, err := e.exchange.GetMarginAccount(ctx)
	if err != nil {
		log.Printf("마진 계정 조회 실패, 부채 정리 생략 [%s]: %v", symbol, err)
		result.Steps = append(result.Steps, fmt.Sprintf("계정 조회 실패: %v", err))
		return result, nil
	}

	baseBalance := info.Balances[base]
	debt := baseBalance.Borrowed + baseBalance.Interest

	if debt > 0 {
		if err := e.repayDebt(ctx, filters, baseBalance, debt, result); err != nil {
			// 매수 불가(잔고 부족/최소 미달) 시 이 심볼의 정리를 중단합니다:
			// 어중간한 매수를 시도하는 것보다 보고하고 멈추는 편이 안전합니다
			return result, err
		}
	}

	// 3단계: 잔여 base 자산 매도
	if err := e.sellResidual(ctx, filters, result); err != nil {
		log.Printf("잔여 자산 매도 실패 [%s]: %v", symbol, err)
		result.Steps = append(result.Steps, fmt.Sprintf("잔여 매도 실패: %v", err))
	}

	return result, nil
}

// repayDebt는 base 자산 부채를 상환합니다. 보유량이 부족하면
// 부족분에 버퍼를 더한 만큼 시장가 매수한 뒤 상환합니다.
func (e *Engine) repayDebt(ctx context.Context, filters *domain.SymbolFilters, baseBalance domain.MarginBalance, debt float64, result *domain.CleanupResult) error {
	symbol := filters.Symbol
	base := filters.BaseAsset
	free := baseBalance.Free

	missing := debt - free
	if missing > 0 {
		// 가격 변동과 반올림을 감안해 버퍼를 더해 매수합니다
		buyQtyStr, err := quant.CeilToStep(missing*e.config.RepayBuffer, filters.StepSize)
		if err != nil {
			return fmt.Errorf("%w: 매수 수량 정량화 실패: %v", ErrCleanupAborted, err)
		}
		buyQty := parseQuotedPrice(buyQtyStr)

		price, err := e.exchange.GetPrice(ctx, symbol)
		if err != nil {
			return fmt.Errorf("%w: 가격 조회 실패: %v", ErrCleanupAborted, err)
		}

		notional := buyQty * price
		if notional < filters.MinNotional {
			return fmt.Errorf("%w: 상환용 매수 금액 %.4f이 최소 주문 가치 %.2f 미만입니다",
				ErrCleanupAborted, notional, filters.MinNotional)
		}

		quote, err := e.quoteBalance(ctx)
		if err != nil {
			return fmt.Errorf("%w: quote 잔고 조회 실패: %v", ErrCleanupAborted, err)
		}
		if quote < notional {
			return fmt.Errorf("%w: 상환용 매수에 필요한 %.4f %s가 부족합니다 (보유 %.4f)",
				ErrCleanupAborted, notional, e.config.QuoteAsset, quote)
		}

		if e.config.DryRun {
			result.Steps = append(result.Steps, fmt.Sprintf("드라이런: 상환용 매수 생략 (%s %s)", buyQtyStr, base))
		} else {
			if _, err := e.exchange.PlaceOrder(ctx, domain.OrderRequest{
				Symbol:   symbol,
				Side:     domain.Buy,
				Type:     domain.Market,
				Quantity: buyQtyStr,
			}); err != nil {
				return fmt.Errorf("%w: 상환용 매수 실패: %v", ErrCleanupAborted, err)
			}
			result.Steps = append(result.Steps, fmt.Sprintf("상환용 매수 %s %s", buyQtyStr, base))

			// 매수 후 잔고를 다시 읽어 실제 보유량 기준으로 상환합니다
			info, err := e.exchange.GetMarginAccount(ctx)
			if err != nil {
				return fmt.Errorf("%w: 매수 후 잔고 재조회 실패: %v", ErrCleanupAborted, err)
			}
			free = info.Balances[base].Free
		}
	}

	repayAmount := debt
	if free < repayAmount {
		repayAmount = free
	}
	if repayAmount <= 0 {
		result.Steps = append(result.Steps, "상환 가능한 잔고 없음")
		return nil
	}

	// 상환 금액은 자산의 최소 단위(1e-8)로 내림합니다
	repayStr, err := quant.FloorToStep(repayAmount, "0.00000001")
	if err != nil {
		return fmt.Errorf("%w: 상환 금액 정량화 실패: %v", ErrCleanupAborted, err)
	}

	if e.config.DryRun {
		result.Steps = append(result.Steps, fmt.Sprintf("드라이런: 상환 생략 (%s %s)", repayStr, base))
		result.DebtRepaid = repayAmount
		return nil
	}

	if _, err := e.exchange.Repay(ctx, base, repayStr); err != nil {
		return fmt.Errorf("%w: 상환 실패: %v", ErrCleanupAborted, err)
	}

	result.DebtRepaid = repayAmount
	result.Steps = append(result.Steps, fmt.Sprintf("부채 상환 %s %s", repayStr, base))
	return nil
}

// sellResidual은 잔여 base 자산을 시장가로 매도합니다.
// step 단위 미만으로 정량화되는 양은 경제적으로 회수 불가능한
// dust이므로 조용히 건너뜁니다.
func (e *Engine) sellResidual(ctx context.Context, filters *domain.SymbolFilters, result *domain.CleanupResult) error {
	free, err := e.baseBalance(ctx, filters.BaseAsset)
	if err != nil {
		return fmt.Errorf("base 잔고 조회 실패: %w", err)
	}
	if free <= 0 {
		return nil
	}

	qtyStr, err := quant.FloorToStep(free, filters.StepSize)
	if err != nil {
		return fmt.Errorf("매도 수량 정량화 실패: %w", err)
	}
	if quant.IsZero(qtyStr) {
		// step 미만 dust는 매도 불가
		return nil
	}

	qty := parseQuotedPrice(qtyStr)
	price, err := e.exchange.GetPrice(ctx, filters.Symbol)
	if err != nil {
		return fmt.Errorf("가격 조회 실패: %w", err)
	}
	if qty*price < filters.MinNotional {
		// 최소 주문 가치 미만은 거래소가 거부하므로 남겨 둡니다
		result.Steps = append(result.Steps, fmt.Sprintf("잔여 %s %s은 최소 주문 가치 미만으로 보류", qtyStr, filters.BaseAsset))
		return nil
	}

	if e.config.DryRun {
		result.Steps = append(result.Steps, fmt.Sprintf("드라이런: 잔여 매도 생략 (%s %s)", qtyStr, filters.BaseAsset))
		return nil
	}

	// 마진 계정에서는 매도 대금이 quote 자산 부채 상환에 바로 쓰이도록
	// AUTO_REPAY를 지정합니다. base 부채는 repayDebt가 이미 처리했습니다.
	sideEffect := domain.SideEffectNone
	if e.config.AccountType == domain.MarginAccount {
		sideEffect = domain.SideEffectAutoRepay
	}

	if _, err := e.exchange.PlaceOrder(ctx, domain.OrderRequest{
		Symbol:     filters.Symbol,
		Side:       domain.Sell,
		Type:       domain.Market,
		Quantity:   qtyStr,
		SideEffect: sideEffect,
	}); err != nil {
		return fmt.Errorf("잔여 매도 주문 실패: %w", err)
	}

	result.ResidualSold = qty
	result.Steps = append(result.Steps, fmt.Sprintf("잔여 매도 %s %s", qtyStr, filters.BaseAsset))
	return nil
}

// baseBalance는 계정 유형에 맞는 base 자산의 가용 잔고를 조회합니다
func (e *Engine) baseBalance(ctx context.Context, asset string) (float64, error) {
	if e.config.AccountType == domain.MarginAccount {
		info, err := e.exchange.GetMarginAccount(ctx)
		if err != nil {
			return 0, err
		}
		return info.Balances[asset].Free, nil
	}

	balance, err := e.exchange.GetBalance(ctx, asset)
	if err != nil {
		return 0, err
	}
	return balance.Free, nil
}
