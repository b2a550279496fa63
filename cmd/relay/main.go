package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	osSignal "os/signal"
	"syscall"
	"time"

	"github.com/assist-by/relay/internal/config"
	"github.com/assist-by/relay/internal/domain"
	"github.com/assist-by/relay/internal/exchange/binance"
	"github.com/assist-by/relay/internal/notification/discord"
	"github.com/assist-by/relay/internal/risk"
	"github.com/assist-by/relay/internal/scheduler"
	"github.com/assist-by/relay/internal/server"
	"github.com/assist-by/relay/internal/trader"
)

func main() {
	// 명령줄 플래그 정의
	dryRunFlag := flag.Bool("dryrun", false, "드라이런 모드 (주문을 전송하지 않음)")

	// 플래그 파싱
	flag.Parse()

	// 컨텍스트 생성
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 로그 설정
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("주문 릴레이 시작...")

	// 설정 로드
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("설정 로드 실패: %v", err)
	}

	dryRun := cfg.Trading.DryRun || *dryRunFlag

	// Discord 클라이언트 생성
	discordClient := discord.NewClient(
		cfg.Discord.TradeWebhook,
		cfg.Discord.ErrorWebhook,
		cfg.Discord.InfoWebhook,
		discord.WithTimeout(10*time.Second),
	)

	// 시작 알림 전송
	if err := discordClient.SendInfo("🚀 주문 릴레이가 시작되었습니다."); err != nil {
		log.Printf("시작 알림 전송 실패: %v", err)
	}

	if cfg.Binance.UseTestnet {
		discordClient.SendInfo("⚠️ 테스트넷 모드로 실행 중입니다. 실제 자산은 사용되지 않습니다.")
	} else if dryRun {
		discordClient.SendInfo("⚠️ 드라이런 모드로 실행 중입니다. 주문은 전송되지 않습니다.")
	} else {
		discordClient.SendInfo("⚠️ 메인넷 모드로 실행 중입니다. 실제 자산이 사용됩니다!")
	}

	// 바이낸스 클라이언트 생성
	binanceClient := binance.NewClient(
		cfg.Binance.APIKey,
		cfg.Binance.SecretKey,
		binance.WithTimeout(10*time.Second),
		binance.WithTestnet(cfg.Binance.UseTestnet),
		binance.WithMarginTrading(cfg.Trading.AccountType == "MARGIN"),
	)

	// 바이낸스 서버와 시간 동기화
	if err := binanceClient.SyncTime(ctx); err != nil {
		log.Printf("바이낸스 서버 시간 동기화 실패: %v", err)
		if err := discordClient.SendError(fmt.Errorf("바이낸스 서버 시간 동기화 실패: %w", err)); err != nil {
			log.Printf("에러 알림 전송 실패: %v", err)
		}
		os.Exit(1)
	}

	// 위험 모니터 생성
	monitor := risk.NewMonitor(
		binanceClient,
		cfg.Trading.DefaultRiskPct,
		cfg.Risk.ReducedPct,
		risk.WithNotifier(discordClient),
		risk.WithThresholds(risk.Thresholds{
			High: cfg.Risk.ThresholdHigh,
			Mid:  cfg.Risk.ThresholdMid,
			Low:  cfg.Risk.ThresholdLow,
		}),
	)

	// 거래 엔진 생성
	engine := trader.NewEngine(
		binanceClient,
		monitor,
		trader.Config{
			QuoteAsset:       cfg.Trading.QuoteAsset,
			AccountType:      domain.AccountType(cfg.Trading.AccountType),
			DefaultRiskPct:   cfg.Trading.DefaultRiskPct,
			MaxQuoteCap:      cfg.Trading.MaxQuoteCap,
			StopLossPct:      cfg.Trading.StopLossPct,
			TakeProfitPct:    cfg.Trading.TakeProfitPct,
			CommissionBuffer: cfg.Trading.CommissionBuffer,
			RepayBuffer:      cfg.Trading.RepayBuffer,
			DryRun:           dryRun,
		},
		trader.WithNotifier(discordClient),
	)

	// 위급 상황 청산은 엔진이 수행합니다 (생성 순환을 피해 생성 후 주입)
	monitor.SetLiquidator(engine)

	// 위험 평가 스케줄러 생성
	riskScheduler := scheduler.NewScheduler(cfg.Risk.CheckInterval, monitor)
	go func() {
		if err := riskScheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("위험 평가 스케줄러 종료: %v", err)
			if err := discordClient.SendError(err); err != nil {
				log.Printf("에러 알림 전송 실패: %v", err)
			}
		}
	}()

	// 웹훅 서버 생성
	webhookServer := server.NewServer(engine, cfg.Server.AdminKey)
	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      webhookServer.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("웹훅 수신 대기: %s", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP 서버 에러: %v", err)
			if err := discordClient.SendError(err); err != nil {
				log.Printf("에러 알림 전송 실패: %v", err)
			}
			cancel()
		}
	}()

	// 시그널 처리
	sigChan := make(chan os.Signal, 1)
	osSignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// 시그널 대기
	select {
	case sig := <-sigChan:
		log.Printf("시스템 종료 신호 수신: %v", sig)
	case <-ctx.Done():
	}

	// 스케줄러 중지
	riskScheduler.Stop()

	// HTTP 서버 정상 종료
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP 서버 종료 실패: %v", err)
	}

	// 종료 알림 전송
	if err := discordClient.SendInfo("👋 주문 릴레이가 정상적으로 종료되었습니다."); err != nil {
		log.Printf("종료 알림 전송 실패: %v", err)
	}

	log.Println("프로그램을 종료합니다.")
}
