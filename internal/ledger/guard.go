package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/avolkov/qrtopup/internal/domain"
	"github.com/avolkov/qrtopup/internal/store"
)

// Ceiling names reported on denial.
const (
	CeilingLifetime = "lifetime"
	CeilingPeriod   = "period"
)

var ErrInvalidAmount = errors.New("amount must be positive")

// Limits are the configured spend ceilings in major currency units.
type Limits struct {
	Lifetime decimal.Decimal
	Period   decimal.Decimal
}

// Decision is the outcome of one reservation attempt.
type Decision struct {
	Admitted bool
	Denial   *domain.Denial
}

// Guard enforces spend ceilings over an account's cumulative totals.
//
// Reserve runs as a single read-modify-write inside the store's per-account
// lock: two concurrent reservations for one account cannot both pass the
// ceiling check against the same stale baseline.
type Guard struct {
	store  store.AccountStore
	limits Limits
	log    *logrus.Entry
}

func NewGuard(s store.AccountStore, limits Limits, log *logrus.Logger) *Guard {
	return &Guard{
		store:  s,
		limits: limits,
		log:    log.WithField("type", "ledger"),
	}
}

// Reserve checks amountMinor against the lifetime and period ceilings and, if
// both pass, persists the increased totals. Denials leave totals untouched and
// report the breached ceiling with the pre-reservation headroom. The minor to
// major conversion happens exactly once, here.
func (g *Guard) Reserve(ctx context.Context, accountID string, amountMinor int64) (Decision, error) {
	if amountMinor <= 0 {
		return Decision{}, ErrInvalidAmount
	}
	amount := domain.MinorToMajor(amountMinor)

	var decision Decision
	err := g.store.MutateAccount(ctx, accountID, func(acc *domain.Account) (bool, error) {
		newTotal := acc.TotalSpend.Add(amount)
		newPeriod := acc.PeriodSpend.Add(amount)

		if newTotal.GreaterThan(g.limits.Lifetime) {
			decision.Denial = &domain.Denial{
				Ceiling:   CeilingLifetime,
				Remaining: g.limits.Lifetime.Sub(acc.TotalSpend),
				Total:     newTotal,
				Period:    newPeriod,
			}
			return false, nil
		}
		if newPeriod.GreaterThan(g.limits.Period) {
			decision.Denial = &domain.Denial{
				Ceiling:   CeilingPeriod,
				Remaining: g.limits.Period.Sub(acc.PeriodSpend),
				Total:     newTotal,
				Period:    newPeriod,
			}
			return false, nil
		}

		acc.TotalSpend = newTotal
		acc.PeriodSpend = newPeriod
		decision.Admitted = true
		return true, nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("reservation failed: %w", err)
	}

	if !decision.Admitted {
		g.log.WithFields(logrus.Fields{
			"account_id": accountID,
			"ceiling":    decision.Denial.Ceiling,
			"amount":     amount,
		}).Warn("reservation denied")
	}
	return decision, nil
}

// Release reverses a previously admitted reservation after a confirmed
// refund. Totals never drop below zero even if called out of order.
func (g *Guard) Release(ctx context.Context, accountID string, amountMinor int64) error {
	amount := domain.MinorToMajor(amountMinor)
	err := g.store.MutateAccount(ctx, accountID, func(acc *domain.Account) (bool, error) {
		acc.TotalSpend = acc.TotalSpend.Sub(amount)
		if acc.TotalSpend.IsNegative() {
			acc.TotalSpend = decimal.Zero
		}
		acc.PeriodSpend = acc.PeriodSpend.Sub(amount)
		if acc.PeriodSpend.IsNegative() {
			acc.PeriodSpend = decimal.Zero
		}
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("release failed: %w", err)
	}
	return nil
}
