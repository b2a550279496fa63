package discord

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/assist-by/relay/internal/notification"
)

const footerText = "Assist by Relay Bot 🤖"

// Client는 Discord 웹훅 알림 클라이언트를 구현합니다
type Client struct {
	tradeWebhook string
	errorWebhook string
	infoWebhook  string
	httpClient   *http.Client
}

// ClientOption은 클라이언트 생성 옵션을 정의합니다
type ClientOption func(*Client)

// WithTimeout은 HTTP 클라이언트의 타임아웃을 설정합니다
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient는 새로운 Discord 웹훅 클라이언트를 생성합니다.
// 빈 웹훅 URL로의 전송은 조용히 생략됩니다.
func NewClient(tradeWebhook, errorWebhook, infoWebhook string, opts ...ClientOption) *Client {
	c := &Client{
		tradeWebhook: tradeWebhook,
		errorWebhook: errorWebhook,
		infoWebhook:  infoWebhook,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// sendToWebhook은 웹훅 URL로 메시지를 전송합니다
func (c *Client) sendToWebhook(webhookURL string, msg WebhookMessage) error {
	if webhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("메시지 마샬링 실패: %w", err)
	}

	resp, err := c.httpClient.Post(webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("웹훅 전송 실패: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("웹훅 응답 오류: status=%d", resp.StatusCode)
	}

	return nil
}

// SendError는 에러 알림을 전송합니다
func (c *Client) SendError(err error) error {
	embed := NewEmbed().
		SetTitle("에러 발생").
		SetDescription(fmt.Sprintf("```%v```", err)).
		SetColor(notification.ColorError).
		SetFooter(footerText).
		SetTimestamp(time.Now())

	return c.sendToWebhook(c.errorWebhook, WebhookMessage{
		Embeds: []Embed{*embed},
	})
}

// SendInfo는 일반 정보 알림을 전송합니다
func (c *Client) SendInfo(message string) error {
	embed := NewEmbed().
		SetDescription(message).
		SetColor(notification.ColorInfo).
		SetFooter(footerText).
		SetTimestamp(time.Now())

	return c.sendToWebhook(c.infoWebhook, WebhookMessage{
		Embeds: []Embed{*embed},
	})
}

// SendTradeInfo는 거래 실행 정보를 전송합니다
func (c *Client) SendTradeInfo(info notification.TradeInfo) error {
	title := fmt.Sprintf("거래 실행: %s", info.Symbol)
	if info.DryRun {
		title = fmt.Sprintf("거래 시뮬레이션: %s", info.Symbol)
	}

	embed := NewEmbed().
		SetTitle(title).
		SetDescription(fmt.Sprintf(
			"**포지션**: %s\n**수량**: %.8f\n**진입가**: $%.2f\n**사용 금액**: $%.2f\n**손절가**: $%.2f\n**목표가**: $%.2f",
			info.Side, info.Quantity, info.EntryPrice, info.QuoteSpent, info.StopLoss, info.TakeProfit,
		)).
		SetColor(notification.GetColorForSide(info.Side)).
		SetFooter(footerText).
		SetTimestamp(time.Now())

	embed.AddField("리스크", fmt.Sprintf("%.2f%%", info.RiskPct*100), true)
	embed.AddField("주문 전 잔고", fmt.Sprintf("$%.2f", info.Balance), true)

	return c.sendToWebhook(c.tradeWebhook, WebhookMessage{
		Embeds: []Embed{*embed},
	})
}
