// internal/exchange/exchange.go
package exchange

import (
	"context"
	"time"

	"github.com/assist-by/relay/internal/domain"
)

// Exchange는 거래소와의 상호작용을 위한 인터페이스입니다.
type Exchange interface {
	// 시장 데이터 조회
	GetServerTime(ctx context.Context) (time.Time, error)
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetSymbolFilters(ctx context.Context, symbol string) (*domain.SymbolFilters, error)

	// 계정 데이터 조회
	GetBalance(ctx context.Context, asset string) (domain.Balance, error)
	GetMarginAccount(ctx context.Context) (*domain.MarginAccountInfo, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]domain.OrderResponse, error)

	// 거래 기능
	PlaceOrder(ctx context.Context, order domain.OrderRequest) (*domain.OrderResponse, error)
	PlaceOCO(ctx context.Context, order domain.OCORequest) (*domain.OCOResponse, error)
	CancelOpenOrders(ctx context.Context, symbol string) (int, error)

	// 마진 대출/상환
	Borrow(ctx context.Context, asset string, amount string) (int64, error)
	Repay(ctx context.Context, asset string, amount string) (int64, error)

	// 시간 동기화
	SyncTime(ctx context.Context) error
}
