package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/avolkov/qrtopup/internal/domain"
	"github.com/avolkov/qrtopup/internal/store"
)

// Store is the Postgres implementation of store.Store.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return s.scanAccount(s.pool.QueryRow(ctx,
		`SELECT id, login, payer_ref, phone, total_spend::text, period_spend::text, created_at
		   FROM accounts WHERE id = $1`, id))
}

func (s *Store) CreateAccount(ctx context.Context, acc *domain.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, login, payer_ref, phone, total_spend, period_spend, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		acc.ID, acc.Login, acc.PayerRef, acc.Phone,
		acc.TotalSpend.String(), acc.PeriodSpend.String(), acc.CreatedAt)
	if err != nil {
		return fmt.Errorf("account insert failed: %w", err)
	}
	return nil
}

// MutateAccount holds a FOR UPDATE row lock for the duration of fn so that
// concurrent reservations against the same account serialize. This is the
// property the spend ceilings rest on.
func (s *Store) MutateAccount(ctx context.Context, id string, fn func(acc *domain.Account) (bool, error)) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	acc, err := s.scanAccount(tx.QueryRow(ctx,
		`SELECT id, login, payer_ref, phone, total_spend::text, period_spend::text, created_at
		   FROM accounts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return err
	}

	commit, err := fn(acc)
	if err != nil {
		return err
	}
	if !commit {
		return nil
	}

	_, err = tx.Exec(ctx,
		`UPDATE accounts SET total_spend = $1, period_spend = $2 WHERE id = $3`,
		acc.TotalSpend.String(), acc.PeriodSpend.String(), id)
	if err != nil {
		return fmt.Errorf("account totals update failed: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func (s *Store) BackfillAccountPayer(ctx context.Context, id, payerRef, phone string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE accounts
		    SET payer_ref = COALESCE(NULLIF(payer_ref, ''), $2),
		        phone     = COALESCE(NULLIF(phone, ''), $3)
		  WHERE id = $1`, id, payerRef, phone)
	if err != nil {
		return fmt.Errorf("account backfill failed: %w", err)
	}
	return nil
}

func (s *Store) ResetPeriodSpend(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `UPDATE accounts SET period_spend = 0 WHERE period_spend <> 0`)
	if err != nil {
		return fmt.Errorf("period reset failed: %w", err)
	}
	return nil
}

func (s *Store) FindLink(ctx context.Context, kind domain.IdentifierKind, identifier string) (*domain.IdentifierLink, error) {
	link := domain.IdentifierLink{}
	var kindStr string
	err := s.pool.QueryRow(ctx,
		`SELECT account_id, kind, identifier, created_at
		   FROM identifier_links
		  WHERE kind = $1 AND identifier = $2
		  ORDER BY created_at LIMIT 1`, string(kind), identifier).
		Scan(&link.AccountID, &kindStr, &link.Identifier, &link.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrLinkNotFound
		}
		return nil, fmt.Errorf("link lookup failed: %w", err)
	}
	link.Kind = domain.IdentifierKind(kindStr)
	return &link, nil
}

func (s *Store) InsertLinkIfAbsent(ctx context.Context, link *domain.IdentifierLink) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO identifier_links (account_id, kind, identifier, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (account_id, kind, identifier) DO NOTHING`,
		link.AccountID, string(link.Kind), link.Identifier, link.CreatedAt)
	if err != nil {
		return fmt.Errorf("link insert failed: %w", err)
	}
	return nil
}

func (s *Store) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transactions
		   (id, account_id, amount_minor, status, gateway_ref, qr_payload,
		    payer_id, payer_id_secondary, refund_attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.AccountID, t.AmountMinor, string(t.Status), t.GatewayRef, t.QRPayload,
		t.PayerID, t.PayerIDSecondary, t.RefundAttempts, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("transaction insert failed: %w", err)
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return s.scanTransaction(s.pool.QueryRow(ctx, txSelect+` WHERE id = $1`, id))
}

func (s *Store) GetTransactionByGatewayRef(ctx context.Context, ref string) (*domain.Transaction, error) {
	return s.scanTransaction(s.pool.QueryRow(ctx, txSelect+` WHERE gateway_ref = $1`, ref))
}

func (s *Store) UpdateTransactionStatus(ctx context.Context, id string, from []domain.TransactionStatus, to domain.TransactionStatus) (bool, error) {
	fromStr := make([]string, 0, len(from))
	for _, st := range from {
		fromStr = append(fromStr, string(st))
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE transactions SET status = $1, updated_at = now()
		  WHERE id = $2 AND status = ANY($3)`,
		string(to), id, fromStr)
	if err != nil {
		return false, fmt.Errorf("status update failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) SetTransactionPayer(ctx context.Context, id, payerID, payerIDSecondary string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE transactions SET payer_id = $1, payer_id_secondary = $2, updated_at = now()
		  WHERE id = $3`, payerID, payerIDSecondary, id)
	if err != nil {
		return fmt.Errorf("payer snapshot update failed: %w", err)
	}
	return nil
}

func (s *Store) SetRefundAttempts(ctx context.Context, id string, attempts int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE transactions SET refund_attempts = $1, updated_at = now() WHERE id = $2`,
		attempts, id)
	if err != nil {
		return fmt.Errorf("refund attempts update failed: %w", err)
	}
	return nil
}

func (s *Store) SumConfirmedByPayer(ctx context.Context, payerID string, since time.Time) (int64, error) {
	var sum int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_minor), 0) FROM transactions
		  WHERE payer_id = $1 AND status = $2 AND updated_at >= $3`,
		payerID, string(domain.StatusConfirmed), since).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("confirmed sum query failed: %w", err)
	}
	return sum, nil
}

func (s *Store) GetAPIClient(ctx context.Context, login string) (*domain.APIClient, error) {
	client := domain.APIClient{}
	err := s.pool.QueryRow(ctx,
		`SELECT api_login, api_key, created_at FROM api_clients WHERE api_login = $1`, login).
		Scan(&client.Login, &client.Key, &client.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrAPIClientNotFound
		}
		return nil, fmt.Errorf("api client lookup failed: %w", err)
	}
	return &client, nil
}

const txSelect = `SELECT id, account_id, amount_minor, status, gateway_ref, qr_payload,
       payer_id, payer_id_secondary, refund_attempts, created_at, updated_at
  FROM transactions`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanAccount(row rowScanner) (*domain.Account, error) {
	acc := domain.Account{}
	var total, period string
	err := row.Scan(&acc.ID, &acc.Login, &acc.PayerRef, &acc.Phone, &total, &period, &acc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrAccountNotFound
		}
		return nil, fmt.Errorf("account query failed: %w", err)
	}
	if acc.TotalSpend, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("bad total_spend for account %s: %w", acc.ID, err)
	}
	if acc.PeriodSpend, err = decimal.NewFromString(period); err != nil {
		return nil, fmt.Errorf("bad period_spend for account %s: %w", acc.ID, err)
	}
	return &acc, nil
}

func (s *Store) scanTransaction(row rowScanner) (*domain.Transaction, error) {
	t := domain.Transaction{}
	var status string
	err := row.Scan(&t.ID, &t.AccountID, &t.AmountMinor, &status, &t.GatewayRef, &t.QRPayload,
		&t.PayerID, &t.PayerIDSecondary, &t.RefundAttempts, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("transaction query failed: %w", err)
	}
	t.Status = domain.TransactionStatus(status)
	return &t, nil
}

var _ store.Store = (*Store)(nil)
