package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// 바이낸스 API 설정
	Binance struct {
		APIKey     string `envconfig:"BINANCE_API_KEY" required:"true"`
		SecretKey  string `envconfig:"BINANCE_SECRET_KEY" required:"true"`
		UseTestnet bool   `envconfig:"USE_TESTNET" default:"false"`
	}

	// 디스코드 웹훅 설정 (비워두면 해당 알림은 생략)
	Discord struct {
		TradeWebhook string `envconfig:"DISCORD_TRADE_WEBHOOK"`
		ErrorWebhook string `envconfig:"DISCORD_ERROR_WEBHOOK"`
		InfoWebhook  string `envconfig:"DISCORD_INFO_WEBHOOK"`
	}

	// HTTP 서버 설정
	Server struct {
		ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`
		AdminKey   string `envconfig:"ADMIN_KEY"`
	}

	// 거래 설정
	Trading struct {
		QuoteAsset       string  `envconfig:"QUOTE_ASSET" default:"USDC"`
		AccountType      string  `envconfig:"ACCOUNT_TYPE" default:"MARGIN"`
		DefaultRiskPct   float64 `envconfig:"DEFAULT_RISK_PCT" default:"0.04"`
		MaxQuoteCap      float64 `envconfig:"MAX_QUOTE_CAP" default:"0"`
		StopLossPct      float64 `envconfig:"STOP_LOSS_PCT" default:"0.02"`
		TakeProfitPct    float64 `envconfig:"TAKE_PROFIT_PCT" default:"0.04"`
		CommissionBuffer float64 `envconfig:"COMMISSION_BUFFER" default:"0.999"`
		RepayBuffer      float64 `envconfig:"REPAY_BUFFER" default:"1.02"`
		DryRun           bool    `envconfig:"DRY_RUN" default:"false"`
	}

	// 위험 모니터 설정
	Risk struct {
		ThresholdHigh float64       `envconfig:"RISK_THRESHOLD_HIGH" default:"2.0"`
		ThresholdMid  float64       `envconfig:"RISK_THRESHOLD_MID" default:"1.25"`
		ThresholdLow  float64       `envconfig:"RISK_THRESHOLD_LOW" default:"1.16"`
		ReducedPct    float64       `envconfig:"REDUCED_RISK_PCT" default:"0.02"`
		CheckInterval time.Duration `envconfig:"RISK_CHECK_INTERVAL" default:"1m"`
	}
}

// ValidateConfig는 설정이 유효한지 확인합니다.
func ValidateConfig(cfg *Config) error {
	if cfg.Trading.DefaultRiskPct <= 0 || cfg.Trading.DefaultRiskPct > 1 {
		return fmt.Errorf("DEFAULT_RISK_PCT는 0 초과 1 이하이어야 합니다")
	}

	if cfg.Risk.ReducedPct <= 0 || cfg.Risk.ReducedPct > cfg.Trading.DefaultRiskPct {
		return fmt.Errorf("REDUCED_RISK_PCT는 0 초과, 기본 리스크 이하이어야 합니다")
	}

	if !(cfg.Risk.ThresholdLow < cfg.Risk.ThresholdMid && cfg.Risk.ThresholdMid < cfg.Risk.ThresholdHigh) {
		return fmt.Errorf("위험 경계값은 LOW < MID < HIGH 순서여야 합니다")
	}

	if cfg.Trading.CommissionBuffer <= 0 || cfg.Trading.CommissionBuffer > 1 {
		return fmt.Errorf("COMMISSION_BUFFER는 0 초과 1 이하이어야 합니다")
	}

	if cfg.Trading.RepayBuffer < 1 {
		return fmt.Errorf("REPAY_BUFFER는 1 이상이어야 합니다")
	}

	if cfg.Trading.AccountType != "SPOT" && cfg.Trading.AccountType != "MARGIN" {
		return fmt.Errorf("ACCOUNT_TYPE은 SPOT 또는 MARGIN이어야 합니다")
	}

	if cfg.Risk.CheckInterval < 10*time.Second {
		return fmt.Errorf("RISK_CHECK_INTERVAL은 10초 이상이어야 합니다")
	}

	return nil
}

// LoadConfig는 환경변수에서 설정을 로드합니다.
// .env 파일은 있으면 사용하고, 없어도 에러가 아닙니다 (컨테이너 환경).
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf(".env 파일 로드 실패: %w", err)
	}

	var cfg Config
	// 환경변수를 구조체로 파싱
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("환경변수 처리 실패: %w", err)
	}

	// 설정값 검증
	if err := ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("설정값 검증 실패: %w", err)
	}

	return &cfg, nil
}
