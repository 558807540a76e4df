package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/avolkov/qrtopup/internal/domain"
)

// Telegram posts operator notifications to a chat. Sends are best-effort:
// callers log failures and move on, a lost notification must never block
// settlement.
type Telegram struct {
	token      string
	chatID     string
	apiBase    string
	httpClient *http.Client
	log        *logrus.Entry
}

func NewTelegram(token, chatID string, log *logrus.Logger) *Telegram {
	return &Telegram{
		token:   token,
		chatID:  chatID,
		apiBase: "https://api.telegram.org",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log.WithField("type", "notify"),
	}
}

// WithAPIBase overrides the Telegram API host. Test hook.
func (t *Telegram) WithAPIBase(base string) *Telegram {
	t.apiBase = base
	return t
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// Send delivers one HTML-formatted message to the configured chat. A missing
// token or chat id turns sends into no-ops so local runs work unconfigured.
func (t *Telegram) Send(ctx context.Context, text string) error {
	if t.token == "" || t.chatID == "" {
		t.log.Warn("telegram token or chat id not configured, dropping notification")
		return nil
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:    t.chatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram send rejected: %s, body: %s", resp.Status, respBody)
	}
	return nil
}

// PaymentBlocked reports a denied reservation with the prospective totals.
func (t *Telegram) PaymentBlocked(ctx context.Context, fingerprint, accountID, login, clientIP string, amountMinor int64, denial *domain.Denial) error {
	text := fmt.Sprintf(
		"⚠️ <b>Payment blocked</b>\nfingerprint: %s\naccount: %s\nlogin: %s\nip: %s\nattempted: %s\nceiling: %s\nremaining: %s\ntotal after: %s\nperiod after: %s",
		fingerprint, accountID, login, clientIP,
		domain.MinorToMajor(amountMinor), denial.Ceiling, denial.Remaining, denial.Total, denial.Period)
	return t.Send(ctx, text)
}

// OrderCreated reports an admitted funding request.
func (t *Telegram) OrderCreated(ctx context.Context, operationID, login string, amountMinor int64) error {
	text := fmt.Sprintf(
		"⚡ <b>New order</b>\noperation: <code>%s</code>\nlogin: <code>%s</code>\namount: <b>%s</b>",
		operationID, login, domain.MinorToMajor(amountMinor))
	return t.Send(ctx, text)
}

// RefundSucceeded reports a completed compensating transfer.
func (t *Telegram) RefundSucceeded(ctx context.Context, tx *domain.Transaction, amount decimal.Decimal) error {
	text := fmt.Sprintf(
		"✅ <b>Refund completed</b>\nqr: <code>%s</code>\noperation: <code>%s</code>\naccount: %s\namount: <b>%s</b>\nattempts: %d",
		tx.GatewayRef, tx.ID, tx.AccountID, amount, tx.RefundAttempts)
	return t.Send(ctx, text)
}

// RefundFailed reports retry exhaustion; this is the only place a terminal
// refund failure is surfaced.
func (t *Telegram) RefundFailed(ctx context.Context, tx *domain.Transaction, attempts int, lastErr error) error {
	text := fmt.Sprintf(
		"🚨 <b>Refund failed</b>\nqr: <code>%s</code>\noperation: <code>%s</code>\naccount: %s\nattempts: %d\nlast error: %v",
		tx.GatewayRef, tx.ID, tx.AccountID, attempts, lastErr)
	return t.Send(ctx, text)
}
