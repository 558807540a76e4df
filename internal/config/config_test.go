package config

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecimal(t *testing.T, v string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(v)
	require.NoError(t, err)
	return d
}

func TestLoadRequiresDBSource(t *testing.T) {
	t.Setenv("DB_SOURCE", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_SOURCE")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_SOURCE", "postgres://localhost/topup")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.LimitLifetime.Equal(mustDecimal(t, "20000")))
	assert.True(t, cfg.LimitPeriod.Equal(mustDecimal(t, "10000")))
	assert.True(t, cfg.LimitDaily.Equal(mustDecimal(t, "10000")))
	assert.True(t, cfg.LimitMonthly.Equal(mustDecimal(t, "40000")))
	assert.Equal(t, 3, cfg.LimitUTCOffset)
	assert.Equal(t, 5*time.Second, cfg.RefundRetryInterval)
	assert.Equal(t, 24*time.Hour, cfg.PeriodResetInterval)
	assert.Equal(t, 5*time.Minute, cfg.CredentialCacheTTL)
	assert.Equal(t, "topup.settlements", cfg.KafkaTopic)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_SOURCE", "postgres://localhost/topup")
	t.Setenv("LIMIT_LIFETIME", "50000")
	t.Setenv("LIMIT_UTC_OFFSET", "-5")
	t.Setenv("REFUND_RETRY_INTERVAL", "250ms")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.LimitLifetime.Equal(mustDecimal(t, "50000")))
	assert.Equal(t, -5, cfg.LimitUTCOffset)
	assert.Equal(t, 250*time.Millisecond, cfg.RefundRetryInterval)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"LIMIT_PERIOD":           "not-a-number",
		"LIMIT_UTC_OFFSET":       "east",
		"CREDENTIAL_CACHE_TTL":   "soon",
		"GATEWAY_CLIENT_KEY_B64": "%%%not-base64%%%",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv("DB_SOURCE", "postgres://localhost/topup")
			t.Setenv(key, value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoadDecodesCertificatePEM(t *testing.T) {
	pem := "-----BEGIN CERTIFICATE-----\nMIIB\n-----END CERTIFICATE-----\n"
	t.Setenv("DB_SOURCE", "postgres://localhost/topup")
	t.Setenv("GATEWAY_CLIENT_CERT_B64", base64.StdEncoding.EncodeToString([]byte(pem)))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []byte(pem), cfg.GatewayCertPEM)
}
