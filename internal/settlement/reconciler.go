package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/avolkov/qrtopup/internal/domain"
	"github.com/avolkov/qrtopup/internal/events"
	"github.com/avolkov/qrtopup/internal/store"
)

// WindowLimits are the confirmation-time ceilings, keyed by the payer
// identifier the gateway reports rather than the account used at
// authorization time. Major currency units.
type WindowLimits struct {
	Daily   decimal.Decimal
	Monthly decimal.Decimal
}

// Refunder drives compensating transfers for over-limit confirmations.
type Refunder interface {
	Refund(ctx context.Context, transactionID string) (domain.RefundOutcome, error)
}

// Reconciler consumes asynchronous payment confirmations and finalizes or
// reverses the matching transaction.
//
// The day/month recomputation here is deliberately separate from the
// pre-authorization check: the payer identifier observed by the gateway may
// not match the account the funds were authorized under, so a second,
// identifier-keyed check backstops the first.
type Reconciler struct {
	store     store.Store
	refunder  Refunder
	publisher events.Publisher
	limits    WindowLimits
	loc       *time.Location
	now       func() time.Time
	log       *logrus.Entry
}

func NewReconciler(s store.Store, refunder Refunder, publisher events.Publisher, limits WindowLimits, utcOffsetHours int, log *logrus.Logger) *Reconciler {
	return &Reconciler{
		store:     s,
		refunder:  refunder,
		publisher: publisher,
		limits:    limits,
		loc:       time.FixedZone("limits", utcOffsetHours*3600),
		now:       time.Now,
		log:       log.WithField("type", "settlement"),
	}
}

// OnConfirmation handles one gateway confirmation. Unknown references return
// store.ErrTransactionNotFound; a confirmation for an already-terminal
// transaction is a no-op success to tolerate at-least-once delivery.
func (r *Reconciler) OnConfirmation(ctx context.Context, req domain.ConfirmationRequest) error {
	tx, err := r.store.GetTransactionByGatewayRef(ctx, req.QrcID)
	if err != nil {
		return err
	}

	logger := r.log.WithFields(logrus.Fields{
		"transaction_id": tx.ID,
		"gateway_ref":    tx.GatewayRef,
	})

	if tx.Status.IsTerminal() {
		logger.WithField("status", tx.Status).Info("duplicate confirmation for terminal transaction, ignoring")
		return nil
	}

	if err := r.store.SetTransactionPayer(ctx, tx.ID, req.PayerID, req.PayerIDSecondary); err != nil {
		return fmt.Errorf("payer snapshot failed: %w", err)
	}
	// Write-once enrichment; losing it must not block settlement.
	if err := r.store.BackfillAccountPayer(ctx, tx.AccountID, req.PayerID, req.PayerIDSecondary); err != nil {
		logger.WithError(err).Warn("account backfill failed")
	}

	breach, ceiling, err := r.windowBreach(ctx, req.PayerID, req.Amount)
	if err != nil {
		return err
	}

	if breach {
		logger.WithField("ceiling", ceiling).Warn("confirmation exceeds window ceiling, scheduling refund")
		if _, err := r.store.UpdateTransactionStatus(ctx, tx.ID,
			[]domain.TransactionStatus{domain.StatusPending, domain.StatusRefundPending},
			domain.StatusRefundPending); err != nil {
			return fmt.Errorf("refund_pending transition failed: %w", err)
		}
		outcome, err := r.refunder.Refund(ctx, tx.ID)
		if err != nil {
			return fmt.Errorf("refund driver failed: %w", err)
		}
		logger.WithField("outcome", outcome).Info("refund driver finished")
		return nil
	}

	transitioned, err := r.store.UpdateTransactionStatus(ctx, tx.ID,
		[]domain.TransactionStatus{domain.StatusPending}, domain.StatusConfirmed)
	if err != nil {
		return fmt.Errorf("confirm transition failed: %w", err)
	}
	if !transitioned {
		logger.Info("transaction already transitioned, ignoring confirmation")
		return nil
	}

	logger.Info("transaction confirmed")
	r.publish(ctx, events.TransactionSettled{
		TransactionID: tx.ID,
		AccountID:     tx.AccountID,
		PayerID:       req.PayerID,
		Amount:        domain.MinorToMajor(req.Amount),
		OccurredAt:    r.now().UTC(),
	})
	return nil
}

// windowBreach recomputes the payer's trailing day and month totals over
// transactions confirmed inside the window plus the incoming amount. An order
// placed before midnight but confirmed after it counts toward the new day.
func (r *Reconciler) windowBreach(ctx context.Context, payerID string, amountMinor int64) (bool, string, error) {
	now := r.now().In(r.loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, r.loc)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, r.loc)

	daySum, err := r.store.SumConfirmedByPayer(ctx, payerID, dayStart)
	if err != nil {
		return false, "", fmt.Errorf("day window recompute failed: %w", err)
	}
	if domain.MinorToMajor(daySum + amountMinor).GreaterThan(r.limits.Daily) {
		return true, "daily", nil
	}

	monthSum, err := r.store.SumConfirmedByPayer(ctx, payerID, monthStart)
	if err != nil {
		return false, "", fmt.Errorf("month window recompute failed: %w", err)
	}
	if domain.MinorToMajor(monthSum + amountMinor).GreaterThan(r.limits.Monthly) {
		return true, "monthly", nil
	}
	return false, "", nil
}

func (r *Reconciler) publish(ctx context.Context, event any) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.log.WithError(err).Warn("event publish failed")
	}
}
