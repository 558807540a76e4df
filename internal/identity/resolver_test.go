package identity

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkov/qrtopup/internal/domain"
	"github.com/avolkov/qrtopup/internal/store/memory"
)

func newResolver() (*Resolver, *memory.Store) {
	s := memory.NewStore()
	log := logrus.New()
	return NewResolver(s, log), s
}

func TestResolveCreatesAccountOnFirstContact(t *testing.T) {
	r, s := newResolver()
	ctx := context.Background()

	accountID, err := r.Resolve(ctx, "F1", "1.2.3.4", "", "payer-login")
	require.NoError(t, err)
	require.NotEmpty(t, accountID)

	acc, err := s.GetAccount(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, "payer-login", acc.Login)
	assert.True(t, acc.TotalSpend.IsZero())

	links := s.Links()
	require.Len(t, links, 2)
	assert.Equal(t, domain.KindFingerprint, links[0].Kind)
	assert.Equal(t, "F1", links[0].Identifier)
	assert.Equal(t, accountID, links[0].AccountID)
	assert.Equal(t, domain.KindAddress, links[1].Kind)
}

func TestResolveReusesAccountByAddress(t *testing.T) {
	r, s := newResolver()
	ctx := context.Background()

	first, err := r.Resolve(ctx, "F1", "1.2.3.4", "", "payer-login")
	require.NoError(t, err)

	// New fingerprint behind the same address must land on the same account.
	second, err := r.Resolve(ctx, "F2", "1.2.3.4", "", "payer-login")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var f2Links int
	for _, link := range s.Links() {
		require.Equal(t, first, link.AccountID)
		if link.Kind == domain.KindFingerprint && link.Identifier == "F2" {
			f2Links++
		}
	}
	assert.Equal(t, 1, f2Links)
}

func TestResolveFingerprintWinsOverAddress(t *testing.T) {
	r, _ := newResolver()
	ctx := context.Background()

	a1, err := r.Resolve(ctx, "F1", "1.1.1.1", "", "login-a")
	require.NoError(t, err)
	a2, err := r.Resolve(ctx, "F2", "2.2.2.2", "", "login-b")
	require.NoError(t, err)
	require.NotEqual(t, a1, a2)

	// F1 seen from a2's address: the fingerprint match takes priority.
	got, err := r.Resolve(ctx, "F1", "2.2.2.2", "", "login-a")
	require.NoError(t, err)
	assert.Equal(t, a1, got)
}

func TestResolveIsIdempotent(t *testing.T) {
	r, s := newResolver()
	ctx := context.Background()

	first, err := r.Resolve(ctx, "F1", "1.2.3.4", "79990001122", "payer-login")
	require.NoError(t, err)
	linksBefore := len(s.Links())

	second, err := r.Resolve(ctx, "F1", "1.2.3.4", "79990001122", "payer-login")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, s.Links(), linksBefore, "identical tuple must not add links")
}

func TestResolveMatchesByPhone(t *testing.T) {
	r, _ := newResolver()
	ctx := context.Background()

	a1, err := r.Resolve(ctx, "F1", "1.2.3.4", "79990001122", "payer-login")
	require.NoError(t, err)

	got, err := r.Resolve(ctx, "F9", "9.9.9.9", "79990001122", "payer-login")
	require.NoError(t, err)
	assert.Equal(t, a1, got)
}

func TestResolveRequiresFingerprint(t *testing.T) {
	r, _ := newResolver()

	_, err := r.Resolve(context.Background(), "", "1.2.3.4", "", "payer-login")
	assert.Error(t, err)
}
