package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/avolkov/qrtopup/internal/cache"
	"github.com/avolkov/qrtopup/internal/domain"
	"github.com/avolkov/qrtopup/internal/gateway"
	"github.com/avolkov/qrtopup/internal/ledger"
	"github.com/avolkov/qrtopup/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid api credentials")
)

const paymentPurpose = "prepaid top-up order"

// QRIssuer is the slice of the processor client the funding flow needs.
type QRIssuer interface {
	CreateQR(ctx context.Context, amountMinor int64, purpose string) (*gateway.QRResponse, error)
}

// Resolver maps observed client identifiers to an account.
type Resolver interface {
	Resolve(ctx context.Context, fingerprint, address, phone, login string) (string, error)
}

// Notifier delivers operator alerts for admitted and blocked orders.
type Notifier interface {
	OrderCreated(ctx context.Context, operationID, login string, amountMinor int64) error
	PaymentBlocked(ctx context.Context, fingerprint, accountID, login, clientIP string, amountMinor int64, denial *domain.Denial) error
}

// Funding orchestrates a funding request: resolve the payer, reserve spend
// against the ceilings, obtain a display code from the gateway and record the
// pending transaction.
type Funding struct {
	resolver  Resolver
	guard     *ledger.Guard
	store     store.Store
	issuer    QRIssuer
	notifier  Notifier
	credCache *cache.Credentials
	log       *logrus.Entry
}

func NewFunding(resolver Resolver, guard *ledger.Guard, s store.Store, issuer QRIssuer, notifier Notifier, credCache *cache.Credentials, log *logrus.Logger) *Funding {
	return &Funding{
		resolver:  resolver,
		guard:     guard,
		store:     s,
		issuer:    issuer,
		notifier:  notifier,
		credCache: credCache,
		log:       log.WithField("type", "funding"),
	}
}

// Authenticate validates partner credentials through the TTL cache.
func (f *Funding) Authenticate(ctx context.Context, login, key string) error {
	client, ok := f.credCache.Get(login)
	if !ok {
		var err error
		client, err = f.store.GetAPIClient(ctx, login)
		if errors.Is(err, store.ErrAPIClientNotFound) {
			return ErrInvalidCredentials
		}
		if err != nil {
			return fmt.Errorf("credential lookup failed: %w", err)
		}
		f.credCache.Put(client)
	}

	if subtle.ConstantTimeCompare([]byte(client.Key), []byte(key)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

// CreateOrder runs the funding flow. A limit denial is reported through the
// second return value, not as an error; infrastructure and gateway failures
// come back as errors with the reservation already released.
func (f *Funding) CreateOrder(ctx context.Context, req domain.OrderRequest, clientIP string) (*domain.OrderResult, *domain.Denial, error) {
	accountID, err := f.resolver.Resolve(ctx, req.Fingerprint, clientIP, req.Phone, req.Login)
	if err != nil {
		return nil, nil, fmt.Errorf("identity resolution failed: %w", err)
	}

	decision, err := f.guard.Reserve(ctx, accountID, req.Amount)
	if err != nil {
		return nil, nil, err
	}
	if !decision.Admitted {
		if nerr := f.notifier.PaymentBlocked(ctx, req.Fingerprint, accountID, req.Login, clientIP, req.Amount, decision.Denial); nerr != nil {
			f.log.WithError(nerr).Warn("blocked-payment notification failed")
		}
		return nil, decision.Denial, nil
	}

	qr, err := f.issuer.CreateQR(ctx, req.Amount, paymentPurpose)
	if err != nil {
		f.release(ctx, accountID, req.Amount)
		return nil, nil, err
	}

	now := time.Now().UTC()
	tx := &domain.Transaction{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		AmountMinor: req.Amount,
		Status:      domain.StatusPending,
		GatewayRef:  qr.QrcID,
		QRPayload:   qr.Payload,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := f.store.CreateTransaction(ctx, tx); err != nil {
		f.release(ctx, accountID, req.Amount)
		return nil, nil, fmt.Errorf("transaction record failed: %w", err)
	}

	f.log.WithFields(logrus.Fields{
		"operation_id": tx.ID,
		"account_id":   accountID,
		"gateway_ref":  qr.QrcID,
	}).Info("order created")

	if nerr := f.notifier.OrderCreated(ctx, tx.ID, req.Login, req.Amount); nerr != nil {
		f.log.WithError(nerr).Warn("new-order notification failed")
	}

	return &domain.OrderResult{
		OperationID: tx.ID,
		QrcID:       qr.QrcID,
		QRPayload:   qr.Payload,
	}, nil, nil
}

func (f *Funding) release(ctx context.Context, accountID string, amountMinor int64) {
	if err := f.guard.Release(ctx, accountID, amountMinor); err != nil {
		f.log.WithError(err).Error("could not release reservation after failed order")
	}
}
