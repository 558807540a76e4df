package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkov/qrtopup/internal/domain"
	"github.com/avolkov/qrtopup/internal/events"
	"github.com/avolkov/qrtopup/internal/store/memory"
)

type fakeGateway struct {
	calls    int
	failures int // fail this many calls before succeeding
}

func (f *fakeGateway) Refund(_ context.Context, _, _ string, _ int64) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("processor rejected transfer")
	}
	return nil
}

type fakeNotifier struct {
	succeeded int
	failed    int
	lastErr   error
	attempts  int
}

func (f *fakeNotifier) RefundSucceeded(_ context.Context, _ *domain.Transaction, _ decimal.Decimal) error {
	f.succeeded++
	return nil
}

func (f *fakeNotifier) RefundFailed(_ context.Context, _ *domain.Transaction, attempts int, lastErr error) error {
	f.failed++
	f.attempts = attempts
	f.lastErr = lastErr
	return nil
}

type fakeReleaser struct {
	released []int64
}

func (f *fakeReleaser) Release(_ context.Context, _ string, amountMinor int64) error {
	f.released = append(f.released, amountMinor)
	return nil
}

type driverFixture struct {
	store     *memory.Store
	gateway   *fakeGateway
	notifier  *fakeNotifier
	releaser  *fakeReleaser
	publisher *fakePublisher
	driver    *Driver
}

func newDriverFixture(t *testing.T, status domain.TransactionStatus, attempts int) *driverFixture {
	t.Helper()
	f := &driverFixture{
		store:     memory.NewStore(),
		gateway:   &fakeGateway{},
		notifier:  &fakeNotifier{},
		releaser:  &fakeReleaser{},
		publisher: &fakePublisher{},
	}
	require.NoError(t, f.store.CreateTransaction(context.Background(), &domain.Transaction{
		ID:             "tx-1",
		AccountID:      "acc-1",
		AmountMinor:    50000,
		Status:         status,
		GatewayRef:     "qr-1",
		RefundAttempts: attempts,
		CreatedAt:      time.Now().UTC(),
	}))
	f.driver = NewDriver(f.store, f.gateway, f.notifier, f.releaser, f.publisher, time.Millisecond, logrus.New())
	return f
}

func TestRefundSucceedsFirstAttempt(t *testing.T) {
	f := newDriverFixture(t, domain.StatusRefundPending, 0)

	outcome, err := f.driver.Refund(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundOutcomeRefunded, outcome)
	assert.Equal(t, 1, f.gateway.calls)

	tx, err := f.store.GetTransaction(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, tx.Status)
	assert.Equal(t, 1, tx.RefundAttempts)

	assert.Equal(t, []int64{50000}, f.releaser.released)
	assert.Equal(t, 1, f.notifier.succeeded)
	require.Len(t, f.publisher.events, 1)
	event, ok := f.publisher.events[0].(events.TransactionRefund)
	require.True(t, ok)
	assert.Equal(t, string(domain.RefundOutcomeRefunded), event.Outcome)
}

func TestRefundRetriesThenSucceeds(t *testing.T) {
	f := newDriverFixture(t, domain.StatusRefundPending, 0)
	f.gateway.failures = 2

	outcome, err := f.driver.Refund(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundOutcomeRefunded, outcome)
	assert.Equal(t, 3, f.gateway.calls)

	tx, err := f.store.GetTransaction(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, 3, tx.RefundAttempts)
}

func TestRefundExhaustsAtFiveAttempts(t *testing.T) {
	f := newDriverFixture(t, domain.StatusRefundPending, 0)
	f.gateway.failures = 100

	outcome, err := f.driver.Refund(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundOutcomeFailed, outcome)
	assert.Equal(t, 5, f.gateway.calls, "attempt ceiling is 5")

	tx, err := f.store.GetTransaction(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefundFailed, tx.Status)
	assert.Equal(t, 5, tx.RefundAttempts)

	assert.Equal(t, 1, f.notifier.failed)
	assert.Equal(t, 5, f.notifier.attempts)
	assert.Error(t, f.notifier.lastErr)
	assert.Empty(t, f.releaser.released)
}

func TestRefundResumesFromPersistedAttempts(t *testing.T) {
	// A crash after attempt 3 left the count persisted; only two tries remain.
	f := newDriverFixture(t, domain.StatusRefundPending, 3)
	f.gateway.failures = 100

	outcome, err := f.driver.Refund(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundOutcomeFailed, outcome)
	assert.Equal(t, 2, f.gateway.calls)

	tx, err := f.store.GetTransaction(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, 5, tx.RefundAttempts)
}

func TestRefundTerminalStatesAreIdempotent(t *testing.T) {
	f := newDriverFixture(t, domain.StatusRefunded, 2)

	outcome, err := f.driver.Refund(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundOutcomeRefunded, outcome)
	assert.Zero(t, f.gateway.calls, "terminal refunds must not touch the gateway")

	failed := newDriverFixture(t, domain.StatusRefundFailed, 5)
	outcome, err = failed.driver.Refund(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundOutcomeFailed, outcome)
	assert.Zero(t, failed.gateway.calls)
}

func TestRefundRefusesConfirmedTransaction(t *testing.T) {
	f := newDriverFixture(t, domain.StatusConfirmed, 0)

	_, err := f.driver.Refund(context.Background(), "tx-1")
	assert.ErrorIs(t, err, ErrNotRefundable)
	assert.Zero(t, f.gateway.calls)
}

// A duplicate webhook racing the operator endpoint must not move the money
// twice: one invocation sends the transfer, the other reports its outcome.
func TestRefundConcurrentInvocationsSendOneTransfer(t *testing.T) {
	f := newDriverFixture(t, domain.StatusRefundPending, 0)

	const callers = 2
	outcomes := make([]domain.RefundOutcome, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = f.driver.Refund(context.Background(), "tx-1")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, domain.RefundOutcomeRefunded, outcomes[i])
	}

	assert.Equal(t, 1, f.gateway.calls, "exactly one compensating transfer may be sent")
	assert.Equal(t, []int64{50000}, f.releaser.released, "totals released exactly once")
	assert.Equal(t, 1, f.notifier.succeeded)
	assert.Len(t, f.publisher.events, 1)
}

func TestRefundStopsOnContextCancel(t *testing.T) {
	f := newDriverFixture(t, domain.StatusRefundPending, 0)
	f.gateway.failures = 100
	f.driver.interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := f.driver.Refund(ctx, "tx-1")
	require.ErrorIs(t, err, context.Canceled)

	// One attempt was made and persisted before the wait was interrupted.
	tx, err := f.store.GetTransaction(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, 1, tx.RefundAttempts)
	assert.Equal(t, domain.StatusRefundPending, tx.Status)
}
