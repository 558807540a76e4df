package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/avolkov/qrtopup/internal/domain"
	"github.com/avolkov/qrtopup/internal/events"
	"github.com/avolkov/qrtopup/internal/store"
)

// maxRefundAttempts is the hard ceiling on compensating-transfer attempts.
const maxRefundAttempts = 5

// ErrNotRefundable means the transaction is in a terminal non-refund state
// and the state machine forbids leaving it.
var ErrNotRefundable = errors.New("transaction is not refundable")

// Gateway is the slice of the processor client the driver needs.
type Gateway interface {
	Refund(ctx context.Context, qrcID, refID string, amountMinor int64) error
}

// Notifier delivers terminal refund outcomes to the operator channel.
type Notifier interface {
	RefundSucceeded(ctx context.Context, tx *domain.Transaction, amount decimal.Decimal) error
	RefundFailed(ctx context.Context, tx *domain.Transaction, attempts int, lastErr error) error
}

// Releaser reverses the admitted reservation once the refund lands.
type Releaser interface {
	Release(ctx context.Context, accountID string, amountMinor int64) error
}

// Driver executes compensating refunds with a bounded retry loop. The attempt
// count is persisted before every wait, so a crash mid-retry resumes from the
// stored count instead of starting over or retrying forever.
type Driver struct {
	store     store.TransactionStore
	gateway   Gateway
	notifier  Notifier
	releaser  Releaser
	publisher events.Publisher
	interval  time.Duration
	now       func() time.Time
	log       *logrus.Entry

	mu    sync.Mutex
	locks map[string]*txLock
}

// txLock serializes refund work on one transaction. Entries are refcounted and
// removed once the last holder leaves, so the map stays bounded by the number
// of refunds in flight.
type txLock struct {
	mu   sync.Mutex
	refs int
}

func NewDriver(s store.TransactionStore, gw Gateway, notifier Notifier, releaser Releaser, publisher events.Publisher, interval time.Duration, log *logrus.Logger) *Driver {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Driver{
		store:     s,
		gateway:   gw,
		notifier:  notifier,
		releaser:  releaser,
		publisher: publisher,
		interval:  interval,
		now:       time.Now,
		log:       log.WithField("type", "refund"),
		locks:     make(map[string]*txLock),
	}
}

func (d *Driver) lockTransaction(id string) *txLock {
	d.mu.Lock()
	l, ok := d.locks[id]
	if !ok {
		l = &txLock{}
		d.locks[id] = l
	}
	l.refs++
	d.mu.Unlock()
	l.mu.Lock()
	return l
}

func (d *Driver) unlockTransaction(id string, l *txLock) {
	l.mu.Unlock()
	d.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(d.locks, id)
	}
	d.mu.Unlock()
}

// Refund runs the retry loop for one transaction until the gateway accepts
// the compensating transfer or the attempt ceiling is hit. Re-invoking it for
// an already-terminal refund returns the recorded outcome without touching
// the gateway again.
//
// Concurrent invocations for the same transaction serialize on a per-id lock
// before the status is read: the loser observes the terminal status the winner
// wrote and never sends a second transfer.
func (d *Driver) Refund(ctx context.Context, transactionID string) (domain.RefundOutcome, error) {
	l := d.lockTransaction(transactionID)
	defer d.unlockTransaction(transactionID, l)

	tx, err := d.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return "", err
	}

	logger := d.log.WithFields(logrus.Fields{
		"transaction_id": tx.ID,
		"gateway_ref":    tx.GatewayRef,
	})

	switch tx.Status {
	case domain.StatusRefunded:
		return domain.RefundOutcomeRefunded, nil
	case domain.StatusRefundFailed:
		return domain.RefundOutcomeFailed, nil
	case domain.StatusPending, domain.StatusRefundPending:
		// refundable
	default:
		return "", fmt.Errorf("%w: status %s", ErrNotRefundable, tx.Status)
	}

	if _, err := d.store.UpdateTransactionStatus(ctx, tx.ID,
		[]domain.TransactionStatus{domain.StatusPending}, domain.StatusRefundPending); err != nil {
		return "", fmt.Errorf("refund_pending transition failed: %w", err)
	}

	attempts := tx.RefundAttempts
	var lastErr error

	for attempts < maxRefundAttempts {
		refID := fmt.Sprintf("%s-%d", tx.GatewayRef, d.now().UnixMilli())
		logger.WithField("attempt", attempts+1).Info("sending compensating transfer")

		callErr := d.gateway.Refund(ctx, tx.GatewayRef, refID, tx.AmountMinor)

		attempts++
		if err := d.store.SetRefundAttempts(ctx, tx.ID, attempts); err != nil {
			return "", fmt.Errorf("persisting attempt count failed: %w", err)
		}

		if callErr == nil {
			return d.finishRefunded(ctx, tx, attempts)
		}
		lastErr = callErr
		logger.WithError(callErr).WithField("attempt", attempts).Warn("compensating transfer failed")

		if attempts >= maxRefundAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(d.interval):
		}
	}

	return d.finishFailed(ctx, tx, attempts, lastErr)
}

func (d *Driver) finishRefunded(ctx context.Context, tx *domain.Transaction, attempts int) (domain.RefundOutcome, error) {
	moved, err := d.store.UpdateTransactionStatus(ctx, tx.ID,
		[]domain.TransactionStatus{domain.StatusRefundPending}, domain.StatusRefunded)
	if err != nil {
		return "", fmt.Errorf("refunded transition failed: %w", err)
	}
	if !moved {
		// Another actor finished this refund; its outcome stands and the
		// totals must not be released a second time.
		return d.recordedOutcome(ctx, tx.ID)
	}
	tx.RefundAttempts = attempts

	if err := d.releaser.Release(ctx, tx.AccountID, tx.AmountMinor); err != nil {
		// The money is already back with the payer; only the totals lag.
		d.log.WithError(err).Error("could not release reserved totals after refund")
	}

	amount := tx.AmountMajor()
	if err := d.notifier.RefundSucceeded(ctx, tx, amount); err != nil {
		d.log.WithError(err).Warn("refund success notification failed")
	}
	d.publish(ctx, events.TransactionRefund{
		TransactionID: tx.ID,
		AccountID:     tx.AccountID,
		Amount:        amount,
		Outcome:       string(domain.RefundOutcomeRefunded),
		Attempts:      attempts,
		OccurredAt:    d.now().UTC(),
	})
	return domain.RefundOutcomeRefunded, nil
}

func (d *Driver) finishFailed(ctx context.Context, tx *domain.Transaction, attempts int, lastErr error) (domain.RefundOutcome, error) {
	moved, err := d.store.UpdateTransactionStatus(ctx, tx.ID,
		[]domain.TransactionStatus{domain.StatusRefundPending}, domain.StatusRefundFailed)
	if err != nil {
		return "", fmt.Errorf("refund_failed transition failed: %w", err)
	}
	if !moved {
		return d.recordedOutcome(ctx, tx.ID)
	}

	if err := d.notifier.RefundFailed(ctx, tx, attempts, lastErr); err != nil {
		d.log.WithError(err).Warn("refund failure notification failed")
	}
	d.publish(ctx, events.TransactionRefund{
		TransactionID: tx.ID,
		AccountID:     tx.AccountID,
		Amount:        tx.AmountMajor(),
		Outcome:       string(domain.RefundOutcomeFailed),
		Attempts:      attempts,
		OccurredAt:    d.now().UTC(),
	})
	return domain.RefundOutcomeFailed, nil
}

// recordedOutcome reports the terminal verdict another actor already wrote.
func (d *Driver) recordedOutcome(ctx context.Context, id string) (domain.RefundOutcome, error) {
	tx, err := d.store.GetTransaction(ctx, id)
	if err != nil {
		return "", err
	}
	switch tx.Status {
	case domain.StatusRefunded:
		return domain.RefundOutcomeRefunded, nil
	case domain.StatusRefundFailed:
		return domain.RefundOutcomeFailed, nil
	}
	return "", fmt.Errorf("lost refund transition left status %s", tx.Status)
}

func (d *Driver) publish(ctx context.Context, event any) {
	if d.publisher == nil {
		return
	}
	if err := d.publisher.Publish(ctx, event); err != nil {
		d.log.WithError(err).Warn("event publish failed")
	}
}
