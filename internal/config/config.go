package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the full environment-driven configuration of the service.
// Ceiling values differ per deployment and are never hard-coded.
type Config struct {
	DBSource string
	Port     string
	Env      string

	// Pre-authorization ceilings, major units.
	LimitLifetime decimal.Decimal
	LimitPeriod   decimal.Decimal
	// Confirmation-time ceilings keyed by gateway payer identifier.
	LimitDaily   decimal.Decimal
	LimitMonthly decimal.Decimal
	// Hour offset from UTC defining the business day/month boundary.
	LimitUTCOffset int

	RefundRetryInterval time.Duration
	PeriodResetInterval time.Duration
	CredentialCacheTTL  time.Duration

	GatewayBaseURL   string
	GatewayRefundURL string
	GatewayAuthSP    string
	GatewayCertPEM   []byte
	GatewayKeyPEM    []byte
	GatewayEntityID  string
	GatewayMerchant  string
	GatewayAccAlias  string

	TelegramBotToken string
	TelegramChatID   string

	KafkaBrokers []string
	KafkaTopic   string
}

func Load() (*Config, error) {
	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	cfg := &Config{
		DBSource: dbSource,
		Port:     getenv("SERVER_PORT", "8080"),
		Env:      getenv("ENVIRONMENT", "development"),

		LimitUTCOffset: 3,

		RefundRetryInterval: 5 * time.Second,
		PeriodResetInterval: 24 * time.Hour,
		CredentialCacheTTL:  5 * time.Minute,

		GatewayBaseURL:   getenv("GATEWAY_BASE_URL", "https://zkc2b-socium.koronacard.ru/points"),
		GatewayRefundURL: os.Getenv("GATEWAY_REFUND_URL"),
		GatewayAuthSP:    getenv("GATEWAY_AUTHSP", "socium-bank.ru"),
		GatewayEntityID:  os.Getenv("GATEWAY_EXT_ENTITY_ID"),
		GatewayMerchant:  os.Getenv("GATEWAY_MERCHANT_ID"),
		GatewayAccAlias:  os.Getenv("GATEWAY_ACC_ALIAS"),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),

		KafkaTopic: getenv("KAFKA_TOPIC", "topup.settlements"),
	}

	var err error
	if cfg.LimitLifetime, err = decimalEnv("LIMIT_LIFETIME", "20000"); err != nil {
		return nil, err
	}
	if cfg.LimitPeriod, err = decimalEnv("LIMIT_PERIOD", "10000"); err != nil {
		return nil, err
	}
	if cfg.LimitDaily, err = decimalEnv("LIMIT_DAILY", "10000"); err != nil {
		return nil, err
	}
	if cfg.LimitMonthly, err = decimalEnv("LIMIT_MONTHLY", "40000"); err != nil {
		return nil, err
	}

	if v := os.Getenv("LIMIT_UTC_OFFSET"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid LIMIT_UTC_OFFSET %q: %w", v, err)
		}
		cfg.LimitUTCOffset = offset
	}

	if v := os.Getenv("REFUND_RETRY_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REFUND_RETRY_INTERVAL %q: %w", v, err)
		}
		cfg.RefundRetryInterval = d
	}
	if v := os.Getenv("PERIOD_RESET_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PERIOD_RESET_INTERVAL %q: %w", v, err)
		}
		cfg.PeriodResetInterval = d
	}
	if v := os.Getenv("CREDENTIAL_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CREDENTIAL_CACHE_TTL %q: %w", v, err)
		}
		cfg.CredentialCacheTTL = d
	}

	// Client certificate for mutual TLS towards the processor, base64 PEM.
	if cfg.GatewayCertPEM, err = base64Env("GATEWAY_CLIENT_CERT_B64"); err != nil {
		return nil, err
	}
	if cfg.GatewayKeyPEM, err = base64Env("GATEWAY_CLIENT_KEY_B64"); err != nil {
		return nil, err
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func decimalEnv(key, fallback string) (decimal.Decimal, error) {
	v := getenv(key, fallback)
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func base64Env(key string) ([]byte, error) {
	v := os.Getenv(key)
	if v == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return raw, nil
}
