package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	var cfg Config
	cfg.Binance.APIKey = "key"
	cfg.Binance.SecretKey = "secret"
	cfg.Trading.QuoteAsset = "USDC"
	cfg.Trading.AccountType = "MARGIN"
	cfg.Trading.DefaultRiskPct = 0.04
	cfg.Trading.StopLossPct = 0.02
	cfg.Trading.TakeProfitPct = 0.04
	cfg.Trading.CommissionBuffer = 0.999
	cfg.Trading.RepayBuffer = 1.02
	cfg.Risk.ThresholdHigh = 2.0
	cfg.Risk.ThresholdMid = 1.25
	cfg.Risk.ThresholdLow = 1.16
	cfg.Risk.ReducedPct = 0.02
	cfg.Risk.CheckInterval = time.Minute
	return &cfg
}

func TestValidateConfig(t *testing.T) {
	assert.NoError(t, ValidateConfig(validConfig()))
}

func TestValidateConfigThresholdOrder(t *testing.T) {
	cfg := validConfig()
	cfg.Risk.ThresholdMid = 2.5
	assert.Error(t, ValidateConfig(cfg))
}

func TestValidateConfigRiskRange(t *testing.T) {
	cfg := validConfig()
	cfg.Trading.DefaultRiskPct = 1.5
	assert.Error(t, ValidateConfig(cfg))

	cfg = validConfig()
	cfg.Risk.ReducedPct = 0.1 // 기본 리스크보다 큼
	assert.Error(t, ValidateConfig(cfg))
}

func TestValidateConfigAccountType(t *testing.T) {
	cfg := validConfig()
	cfg.Trading.AccountType = "FUTURES"
	assert.Error(t, ValidateConfig(cfg))
}

func TestValidateConfigBuffers(t *testing.T) {
	cfg := validConfig()
	cfg.Trading.CommissionBuffer = 1.5
	assert.Error(t, ValidateConfig(cfg))

	cfg = validConfig()
	cfg.Trading.RepayBuffer = 0.9
	assert.Error(t, ValidateConfig(cfg))
}
