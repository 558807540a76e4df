package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// IdentifierKind enumerates the client identifiers we cluster on.
// Resolution order is fixed: fingerprint, then address, then phone.
type IdentifierKind string

const (
	KindFingerprint IdentifierKind = "fingerprint"
	KindAddress     IdentifierKind = "address"
	KindPhone       IdentifierKind = "phone"
)

// Account is a durable payer identity. Several observed identifiers may map
// to one account; totals are held in major currency units.
type Account struct {
	ID          string          `json:"id"`
	Login       string          `json:"login"`
	PayerRef    string          `json:"payer_ref"`
	Phone       string          `json:"phone"`
	TotalSpend  decimal.Decimal `json:"total_spend"`
	PeriodSpend decimal.Decimal `json:"period_spend"`
	CreatedAt   time.Time       `json:"created_at"`
}

// IdentifierLink binds one observed client identifier to exactly one account.
// Links are append-only and never reassigned.
type IdentifierLink struct {
	AccountID  string         `json:"account_id"`
	Kind       IdentifierKind `json:"kind"`
	Identifier string         `json:"identifier"`
	CreatedAt  time.Time      `json:"created_at"`
}

// TransactionStatus is the settlement state of one funding attempt.
type TransactionStatus string

const (
	StatusPending       TransactionStatus = "pending"
	StatusConfirmed     TransactionStatus = "confirmed"
	StatusRefundPending TransactionStatus = "refund_pending"
	StatusRefunded      TransactionStatus = "refunded"
	StatusRefundFailed  TransactionStatus = "refund_failed"
)

// IsTerminal reports whether no further transition may leave this status.
// refund_pending is non-terminal: the retry driver still owns it.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case StatusConfirmed, StatusRefunded, StatusRefundFailed:
		return true
	}
	return false
}

// Transaction is the immutable record of one funding attempt. It is created
// at admission and only the reconciler and refund driver mutate it afterwards.
type Transaction struct {
	ID               string            `json:"id"`
	AccountID        string            `json:"account_id"`
	AmountMinor      int64             `json:"amount_minor"`
	Status           TransactionStatus `json:"status"`
	GatewayRef       string            `json:"gateway_ref"`
	QRPayload        string            `json:"qr_payload"`
	PayerID          string            `json:"payer_id"`
	PayerIDSecondary string            `json:"payer_id_secondary"`
	RefundAttempts   int               `json:"refund_attempts"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// AmountMajor converts the stored minor-unit amount to major units.
func (t *Transaction) AmountMajor() decimal.Decimal {
	return MinorToMajor(t.AmountMinor)
}

// MinorToMajor is the single place minor currency units become major units.
func MinorToMajor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// APIClient is a partner allowed to create funding requests.
type APIClient struct {
	Login     string    `json:"api_login"`
	Key       string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// OrderRequest is the payload of a funding request.
type OrderRequest struct {
	Fingerprint string `json:"fingerprint"`
	Login       string `json:"steam_login"`
	Amount      int64  `json:"amount"` // minor units
	Phone       string `json:"client_phone,omitempty"`
	APILogin    string `json:"api_login"`
	APIKey      string `json:"api_key"`
}

// OrderResult carries the display code handed back to the caller.
type OrderResult struct {
	OperationID string `json:"operation_id"`
	QrcID       string `json:"qr_id"`
	QRPayload   string `json:"qr_payload"`
}

// Denial is the machine-readable reason a reservation was refused.
type Denial struct {
	Ceiling   string          `json:"ceiling"`
	Remaining decimal.Decimal `json:"remaining"`
	Total     decimal.Decimal `json:"total_amount"`
	Period    decimal.Decimal `json:"period_amount"`
}

// ConfirmationRequest is the payload of the gateway's payment webhook.
type ConfirmationRequest struct {
	QrcID            string `json:"qrc_id"`
	Amount           int64  `json:"amount"` // minor units
	PayerID          string `json:"payer_id"`
	PayerIDSecondary string `json:"payer_id_secondary,omitempty"`
}

// RefundRequest triggers a compensating transfer for one transaction.
type RefundRequest struct {
	QrcID       string `json:"qrc_id,omitempty"`
	OperationID string `json:"operation_id,omitempty"`
}

// RefundOutcome is the final verdict of the refund retry driver.
type RefundOutcome string

const (
	RefundOutcomeRefunded RefundOutcome = "refunded"
	RefundOutcomeFailed   RefundOutcome = "failed_terminal"
)
