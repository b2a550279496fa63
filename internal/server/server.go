// internal/server/server.go
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/assist-by/relay/internal/domain"
	"github.com/assist-by/relay/internal/trader"
)

// ValidationError는 시그널 필드 검증 실패를 표현합니다.
// 거래소 호출 전에 발생하며 400 응답으로 변환됩니다.
type ValidationError struct {
	Field  string
	Reason string
}

// Error는 error 인터페이스를 구현합니다
func (e *ValidationError) Error() string {
	return fmt.Sprintf("잘못된 시그널 필드 [%s]: %s", e.Field, e.Reason)
}

// executor는 서버가 필요로 하는 거래 엔진 기능입니다
type executor interface {
	ExecuteSignal(ctx context.Context, signal domain.TradeSignal) (*domain.ExecutionReport, error)
	LiquidateAll(ctx context.Context) error
	AccountSnapshot(ctx context.Context) (*domain.MarginAccountInfo, error)
	Borrow(ctx context.Context, asset, amount string) (int64, error)
	Repay(ctx context.Context, asset, amount string) (int64, error)
}

// Server는 웹훅/관리 요청을 처리하는 HTTP 서버입니다
type Server struct {
	engine   executor
	adminKey string
	mux      *http.ServeMux
}

// NewServer는 새로운 웹훅 서버를 생성합니다
func NewServer(engine executor, adminKey string) *Server {
	s := &Server{
		engine:   engine,
		adminKey: adminKey,
		mux:      http.NewServeMux(),
	}

	s.mux.HandleFunc("/webhook", s.handleWebhook)
	s.mux.HandleFunc("/healthz", s.handleHealth)

	return s
}

// Handler는 등록된 라우팅을 포함한 http.Handler를 반환합니다
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// payload는 웹훅 바디의 모든 가능한 필드를 담습니다.
// action 필드의 존재 여부로 시그널/관리 요청을 구분합니다.
type payload struct {
	domain.TradeSignal
	Action   string `json:"action"`
	AdminKey string `json:"admin_key"`
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
}

// redacted는 로그에 남겨도 안전한 페이로드 요약을 반환합니다.
// 키/시크릿 종류의 필드는 절대 로그에 남기지 않습니다.
func (p *payload) redacted() string {
	parts := []string{"symbol=" + p.Symbol, "side=" + p.Side}
	if p.Action != "" {
		parts = append(parts, "action="+p.Action)
	}
	if p.AdminKey != "" {
		parts = append(parts, "admin_key=[가림]")
	}
	return strings.Join(parts, " ")
}

// handleWebhook은 시그널과 관리 요청을 모두 받는 단일 엔드포인트입니다.
// 해석 불가능한 바디는 시그널 소스의 공격적 재전송을 피하기 위해
// 200 "ignored"로 응답합니다.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	defer func() {
		// 처리 경로의 예기치 못한 패닉이 프로세스를 죽이지 않도록 합니다
		if rec := recover(); rec != nil {
			log.Printf("웹훅 처리 중 패닉: %v", rec)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"status": "error",
				"error":  "internal error",
			})
		}
	}()

	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"status": "error", "error": "POST only"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	defer r.Body.Close()

	p, ok := parsePayload(body, r.Header.Get("Content-Type"))
	if !ok {
		log.Printf("해석 불가능한 웹훅 바디 수신 (%d바이트), 무시", len(body))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	log.Printf("웹훅 수신: %s", p.redacted())

	if p.Action != "" {
		s.handleAdmin(w, r, p)
		return
	}

	s.handleSignal(w, r, p)
}

// parsePayload는 JSON 또는 form 인코딩 바디를 해석합니다
func parsePayload(body []byte, contentType string) (*payload, bool) {
	var p payload

	if err := json.Unmarshal(body, &p); err == nil {
		return &p, true
	}

	// JSON이 아니면 form 인코딩으로 재시도합니다
	if strings.Contains(contentType, "json") {
		return nil, false
	}
	values, err := url.ParseQuery(string(body))
	if err != nil || len(values) == 0 {
		return nil, false
	}

	p.Symbol = values.Get("symbol")
	p.Side = values.Get("side")
	p.Action = values.Get("action")
	p.AdminKey = values.Get("admin_key")
	p.Asset = values.Get("asset")
	p.Amount = values.Get("amount")
	p.EntryPrice = parseFloatField(values.Get("entry_price"))
	p.StopLoss = parseFloatField(values.Get("sl"))
	p.TakeProfit = parseFloatField(values.Get("tp"))
	p.RiskPct = parseFloatField(values.Get("risk_pct"))

	// 알려진 필드가 하나도 없으면 시그널이 아닌 임의 텍스트로 취급합니다
	if p.Symbol == "" && p.Side == "" && p.Action == "" {
		return nil, false
	}

	return &p, true
}

func parseFloatField(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// handleSignal은 트레이딩 시그널을 검증하고 엔진으로 전달합니다
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request, p *payload) {
	if err := validateSignal(p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}

	report, err := s.engine.ExecuteSignal(r.Context(), p.TradeSignal)
	if err != nil {
		s.writeSignalError(w, report, err)
		return
	}

	resp := map[string]interface{}{
		"status": "ok",
		"result": report,
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeSignalError는 엔진 에러를 적절한 HTTP 응답으로 변환합니다
func (s *Server) writeSignalError(w http.ResponseWriter, report *domain.ExecutionReport, err error) {
	switch {
	case errors.Is(err, trader.ErrTradingBlocked):
		// 차단은 시그널 소스 입장에서 정상 흐름이므로 200으로 응답합니다
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "blocked",
			"error":  err.Error(),
		})

	case trader.IsSizingError(err), errors.Is(err, trader.ErrUnsupportedSignal):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		})

	default:
		log.Printf("시그널 처리 실패: %v", err)
		resp := map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		}
		if report != nil {
			resp["result"] = report
		}
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

// validateSignal은 시그널 필수 필드를 검증합니다
func validateSignal(p *payload) error {
	if p.Symbol == "" {
		return &ValidationError{Field: "symbol", Reason: "필수 필드가 비어 있습니다"}
	}
	if p.Side == "" {
		return &ValidationError{Field: "side", Reason: "필수 필드가 비어 있습니다"}
	}
	if _, err := domain.ParseSignalSide(p.Side); err != nil {
		return &ValidationError{Field: "side", Reason: err.Error()}
	}
	if p.RiskPct < 0 || p.RiskPct > 1 {
		return &ValidationError{Field: "risk_pct", Reason: "0과 1 사이의 값이어야 합니다"}
	}
	return nil
}

// handleAdmin은 관리 요청을 처리합니다. 공유 키를 상수 시간으로
// 비교하여 타이밍 공격을 차단합니다.
func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request, p *payload) {
	if s.adminKey == "" ||
		subtle.ConstantTimeCompare([]byte(p.AdminKey), []byte(s.adminKey)) != 1 {
		writeJSON(w, http.StatusForbidden, map[string]string{
			"status": "forbidden",
			"error":  "관리 키가 일치하지 않습니다",
		})
		return
	}

	ctx := r.Context()

	// 대소문자 정규화는 한 번만 수행하고 이후 분기는 모두 정규화된
	// 값을 사용합니다. 원본 문자열과 섞어 쓰면 "Borrow" 같은 입력이
	// 반대 방향으로 처리될 수 있습니다.
	action := strings.ToLower(p.Action)

	switch action {
	case "liquidate":
		if err := s.engine.LiquidateAll(ctx); err != nil {
			log.Printf("관리 요청 전량 청산 실패: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"status": "error",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "action": "liquidate"})

	case "account":
		info, err := s.engine.AccountSnapshot(ctx)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"status": "error",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "account": info})

	case "borrow", "repay":
		if p.Asset == "" || p.Amount == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"status": "error",
				"error":  "asset과 amount가 필요합니다",
			})
			return
		}

		var tranID int64
		var err error
		if action == "borrow" {
			tranID, err = s.engine.Borrow(ctx, p.Asset, p.Amount)
		} else {
			tranID, err = s.engine.Repay(ctx, p.Asset, p.Amount)
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"status": "error",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"action":  action,
			"tran_id": tranID,
		})

	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "error",
			"error":  fmt.Sprintf("알 수 없는 action: %s", p.Action),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("응답 인코딩 실패: %v", err)
	}
}
