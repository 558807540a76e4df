package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Publisher pushes settlement events onto the event stream. Implementations
// must be safe for concurrent use; delivery is fire-and-forget from the
// caller's point of view.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// TransactionSettled is emitted when a confirmation finalizes a transaction.
type TransactionSettled struct {
	TransactionID string          `json:"transaction_id"`
	AccountID     string          `json:"account_id"`
	PayerID       string          `json:"payer_id"`
	Amount        decimal.Decimal `json:"amount"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// TransactionRefund is emitted on every terminal refund outcome.
type TransactionRefund struct {
	TransactionID string          `json:"transaction_id"`
	AccountID     string          `json:"account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Outcome       string          `json:"outcome"`
	Attempts      int             `json:"attempts"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
