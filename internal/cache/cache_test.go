package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkov/qrtopup/internal/domain"
)

func TestGetMissesOnEmptyCache(t *testing.T) {
	c := NewCredentials(time.Minute)

	_, ok := c.Get("partner")
	assert.False(t, ok)
}

func TestPutThenGet(t *testing.T) {
	c := NewCredentials(time.Minute)
	c.Put(&domain.APIClient{Login: "partner", Key: "secret"})

	got, ok := c.Get("partner")
	require.True(t, ok)
	assert.Equal(t, "secret", got.Key)
}

func TestGetReturnsCopy(t *testing.T) {
	c := NewCredentials(time.Minute)
	c.Put(&domain.APIClient{Login: "partner", Key: "secret"})

	first, ok := c.Get("partner")
	require.True(t, ok)
	first.Key = "tampered"

	second, ok := c.Get("partner")
	require.True(t, ok)
	assert.Equal(t, "secret", second.Key)
}

func TestExpiredEntryIsDropped(t *testing.T) {
	c := NewCredentials(time.Minute)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Put(&domain.APIClient{Login: "partner", Key: "secret"})

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, ok := c.Get("partner")
	assert.False(t, ok)

	// The stale entry is gone even when the clock moves back.
	c.now = func() time.Time { return base }
	_, ok = c.Get("partner")
	assert.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	c := NewCredentials(time.Minute)
	c.Put(&domain.APIClient{Login: "partner", Key: "secret"})

	c.Invalidate("partner")
	_, ok := c.Get("partner")
	assert.False(t, ok)
}
