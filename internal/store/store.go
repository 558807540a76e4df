package store

import (
	"context"
	"errors"
	"time"

	"github.com/avolkov/qrtopup/internal/domain"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrLinkNotFound        = errors.New("identifier link not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrAPIClientNotFound   = errors.New("api client not found")
)

// AccountStore owns accounts and their identifier links.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	CreateAccount(ctx context.Context, acc *domain.Account) error

	// MutateAccount runs fn against the current account row while holding the
	// per-account lock. Changes made by fn are persisted only when it returns
	// commit=true; its error aborts the mutation and is returned unchanged.
	// Concurrent calls for the same account serialize against each other.
	MutateAccount(ctx context.Context, id string, fn func(acc *domain.Account) (commit bool, err error)) error

	// BackfillAccountPayer records gateway-observed payer metadata the first
	// time it is seen. Existing non-empty values are never overwritten.
	BackfillAccountPayer(ctx context.Context, id, payerRef, phone string) error

	// ResetPeriodSpend zeroes the rolling-window totals of every account.
	ResetPeriodSpend(ctx context.Context) error

	FindLink(ctx context.Context, kind domain.IdentifierKind, identifier string) (*domain.IdentifierLink, error)

	// InsertLinkIfAbsent appends a link unless the exact
	// (account, kind, identifier) tuple already exists.
	InsertLinkIfAbsent(ctx context.Context, link *domain.IdentifierLink) error
}

// TransactionStore owns funding-attempt records.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	GetTransactionByGatewayRef(ctx context.Context, ref string) (*domain.Transaction, error)

	// UpdateTransactionStatus transitions id from one of the expected statuses
	// to the target status. It reports false without error when the current
	// status is not in from, which keeps duplicate confirmations idempotent.
	UpdateTransactionStatus(ctx context.Context, id string, from []domain.TransactionStatus, to domain.TransactionStatus) (bool, error)

	SetTransactionPayer(ctx context.Context, id, payerID, payerIDSecondary string) error
	SetRefundAttempts(ctx context.Context, id string, attempts int) error

	// SumConfirmedByPayer totals the minor-unit amounts of confirmed
	// transactions attributed to payerID. The window bounds on confirmation
	// time, not order time: confirmed is terminal, so the last status write
	// marks the instant the money actually moved.
	SumConfirmedByPayer(ctx context.Context, payerID string, since time.Time) (int64, error)
}

// APIClientStore resolves partner credentials.
type APIClientStore interface {
	GetAPIClient(ctx context.Context, login string) (*domain.APIClient, error)
}

// Store is the full persistence surface of the service.
type Store interface {
	AccountStore
	TransactionStore
	APIClientStore
}
