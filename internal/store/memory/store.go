package memory

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avolkov/qrtopup/internal/domain"
	"github.com/avolkov/qrtopup/internal/store"
)

// Store is an in-memory implementation of store.Store. It backs tests and
// local runs without Postgres; a single mutex serializes all mutations, which
// also satisfies the per-account locking contract of MutateAccount.
type Store struct {
	mu           sync.Mutex
	accounts     map[string]*domain.Account
	links        []domain.IdentifierLink
	transactions map[string]*domain.Transaction
	apiClients   map[string]*domain.APIClient
}

func NewStore() *Store {
	return &Store{
		accounts:     make(map[string]*domain.Account),
		transactions: make(map[string]*domain.Transaction),
		apiClients:   make(map[string]*domain.APIClient),
	}
}

func (s *Store) GetAccount(_ context.Context, id string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	cp := *acc
	return &cp, nil
}

func (s *Store) CreateAccount(_ context.Context, acc *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *acc
	s.accounts[acc.ID] = &cp
	return nil
}

func (s *Store) MutateAccount(_ context.Context, id string, fn func(acc *domain.Account) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return store.ErrAccountNotFound
	}
	cp := *acc
	commit, err := fn(&cp)
	if err != nil {
		return err
	}
	if commit {
		s.accounts[id] = &cp
	}
	return nil
}

func (s *Store) BackfillAccountPayer(_ context.Context, id, payerRef, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return store.ErrAccountNotFound
	}
	if acc.PayerRef == "" {
		acc.PayerRef = payerRef
	}
	if acc.Phone == "" {
		acc.Phone = phone
	}
	return nil
}

func (s *Store) ResetPeriodSpend(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acc := range s.accounts {
		acc.PeriodSpend = decimal.Zero
	}
	return nil
}

func (s *Store) FindLink(_ context.Context, kind domain.IdentifierKind, identifier string) (*domain.IdentifierLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.links {
		if s.links[i].Kind == kind && s.links[i].Identifier == identifier {
			cp := s.links[i]
			return &cp, nil
		}
	}
	return nil, store.ErrLinkNotFound
}

func (s *Store) InsertLinkIfAbsent(_ context.Context, link *domain.IdentifierLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.links {
		if s.links[i].AccountID == link.AccountID &&
			s.links[i].Kind == link.Kind &&
			s.links[i].Identifier == link.Identifier {
			return nil
		}
	}
	s.links = append(s.links, *link)
	return nil
}

// Links returns a copy of all identifier links, oldest first. Test helper.
func (s *Store) Links() []domain.IdentifierLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]domain.IdentifierLink, len(s.links))
	copy(copied, s.links)
	return copied
}

func (s *Store) CreateTransaction(_ context.Context, t *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.transactions[t.ID] = &cp
	return nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) GetTransactionByGatewayRef(_ context.Context, ref string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.transactions {
		if t.GatewayRef == ref {
			cp := *t
			return &cp, nil
		}
	}
	return nil, store.ErrTransactionNotFound
}

func (s *Store) UpdateTransactionStatus(_ context.Context, id string, from []domain.TransactionStatus, to domain.TransactionStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok {
		return false, store.ErrTransactionNotFound
	}
	for _, st := range from {
		if t.Status == st {
			t.Status = to
			t.UpdatedAt = time.Now().UTC()
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) SetTransactionPayer(_ context.Context, id, payerID, payerIDSecondary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok {
		return store.ErrTransactionNotFound
	}
	t.PayerID = payerID
	t.PayerIDSecondary = payerIDSecondary
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) SetRefundAttempts(_ context.Context, id string, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok {
		return store.ErrTransactionNotFound
	}
	t.RefundAttempts = attempts
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) SumConfirmedByPayer(_ context.Context, payerID string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, t := range s.transactions {
		if t.PayerID == payerID && t.Status == domain.StatusConfirmed && !t.UpdatedAt.Before(since) {
			sum += t.AmountMinor
		}
	}
	return sum, nil
}

func (s *Store) GetAPIClient(_ context.Context, login string) (*domain.APIClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	client, ok := s.apiClients[login]
	if !ok {
		return nil, store.ErrAPIClientNotFound
	}
	cp := *client
	return &cp, nil
}

// PutAPIClient registers partner credentials. Test and seeding helper.
func (s *Store) PutAPIClient(client *domain.APIClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *client
	s.apiClients[client.Login] = &cp
}

var _ store.Store = (*Store)(nil)
