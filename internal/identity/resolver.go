package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/avolkov/qrtopup/internal/domain"
	"github.com/avolkov/qrtopup/internal/store"
)

// Resolver clusters observed client identifiers into durable accounts.
//
// Resolution is first-match-wins in a fixed order: fingerprint, address,
// phone. A miss on all three creates a new account. A hit on a later
// identifier back-links the earlier ones to the matched account, so a payer
// rotating fingerprints behind one address keeps hitting the same account.
// Two already-distinct accounts that later share an identifier are never
// merged; links only ever point at the first match.
type Resolver struct {
	store store.AccountStore
	log   *logrus.Entry
}

func NewResolver(s store.AccountStore, log *logrus.Logger) *Resolver {
	return &Resolver{
		store: s,
		log:   log.WithField("type", "identity"),
	}
}

// Resolve maps the observed identifier tuple to an account id, creating an
// account when nothing matches. Store failures are returned as-is and must
// not be read as "no match".
func (r *Resolver) Resolve(ctx context.Context, fingerprint, address, phone, login string) (string, error) {
	if fingerprint == "" {
		return "", errors.New("fingerprint is required")
	}

	observed := []domain.IdentifierLink{
		{Kind: domain.KindFingerprint, Identifier: fingerprint},
	}
	if address != "" {
		observed = append(observed, domain.IdentifierLink{Kind: domain.KindAddress, Identifier: address})
	}
	if phone != "" {
		observed = append(observed, domain.IdentifierLink{Kind: domain.KindPhone, Identifier: phone})
	}

	for _, probe := range observed {
		link, err := r.store.FindLink(ctx, probe.Kind, probe.Identifier)
		if errors.Is(err, store.ErrLinkNotFound) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("identifier lookup failed: %w", err)
		}

		if err := r.ensureLinks(ctx, link.AccountID, observed); err != nil {
			return "", err
		}
		return link.AccountID, nil
	}

	acc := &domain.Account{
		ID:          uuid.NewString(),
		Login:       login,
		Phone:       phone,
		TotalSpend:  decimal.Zero,
		PeriodSpend: decimal.Zero,
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.store.CreateAccount(ctx, acc); err != nil {
		return "", fmt.Errorf("account create failed: %w", err)
	}
	if err := r.ensureLinks(ctx, acc.ID, observed); err != nil {
		return "", err
	}

	r.log.WithField("account_id", acc.ID).Info("created new account")
	return acc.ID, nil
}

func (r *Resolver) ensureLinks(ctx context.Context, accountID string, observed []domain.IdentifierLink) error {
	now := time.Now().UTC()
	for _, link := range observed {
		link.AccountID = accountID
		link.CreatedAt = now
		if err := r.store.InsertLinkIfAbsent(ctx, &link); err != nil {
			return fmt.Errorf("identifier link failed: %w", err)
		}
	}
	return nil
}
