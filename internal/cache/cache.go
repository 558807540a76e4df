package cache

import (
	"sync"
	"time"

	"github.com/avolkov/qrtopup/internal/domain"
)

// Credentials is a TTL cache for API-client lookups. It is constructed once
// at process start and passed to the components that need it; entries expire
// after the configured TTL and are invalidated eagerly when credentials
// change.
type Credentials struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
}

type entry struct {
	client    domain.APIClient
	expiresAt time.Time
}

func NewCredentials(ttl time.Duration) *Credentials {
	return &Credentials{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the cached client for login, or false when absent or expired.
// Expired entries are dropped on read.
func (c *Credentials) Get(login string) (*domain.APIClient, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[login]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, login)
		return nil, false
	}
	cp := e.client
	return &cp, true
}

func (c *Credentials) Put(client *domain.APIClient) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[client.Login] = entry{
		client:    *client,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Invalidate drops one login, forcing the next lookup back to the store.
func (c *Credentials) Invalidate(login string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, login)
}
