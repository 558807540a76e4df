package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/avolkov/qrtopup/internal/api"
	"github.com/avolkov/qrtopup/internal/cache"
	"github.com/avolkov/qrtopup/internal/config"
	"github.com/avolkov/qrtopup/internal/events"
	"github.com/avolkov/qrtopup/internal/events/kafka"
	"github.com/avolkov/qrtopup/internal/gateway"
	"github.com/avolkov/qrtopup/internal/identity"
	"github.com/avolkov/qrtopup/internal/ledger"
	"github.com/avolkov/qrtopup/internal/notify"
	"github.com/avolkov/qrtopup/internal/service"
	"github.com/avolkov/qrtopup/internal/settlement"
	"github.com/avolkov/qrtopup/internal/store/postgres"
)

func main() {
	// Best-effort .env load for local runs.
	_ = godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("could not load config")
	}

	ctx := context.Background()
	pgStore, err := postgres.NewStore(ctx, cfg.DBSource)
	if err != nil {
		log.WithError(err).Fatal("could not connect to database")
	}
	defer pgStore.Close()

	gatewayClient, err := gateway.New(gateway.Config{
		BaseURL:       cfg.GatewayBaseURL,
		RefundURL:     cfg.GatewayRefundURL,
		AuthSP:        cfg.GatewayAuthSP,
		ExtEntityID:   cfg.GatewayEntityID,
		MerchantID:    cfg.GatewayMerchant,
		AccAlias:      cfg.GatewayAccAlias,
		ClientCertPEM: cfg.GatewayCertPEM,
		ClientKeyPEM:  cfg.GatewayKeyPEM,
	})
	if err != nil {
		log.WithError(err).Fatal("could not build gateway client")
	}

	var publisher events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	telegram := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, log)
	credCache := cache.NewCredentials(cfg.CredentialCacheTTL)

	resolver := identity.NewResolver(pgStore, log)
	guard := ledger.NewGuard(pgStore, ledger.Limits{
		Lifetime: cfg.LimitLifetime,
		Period:   cfg.LimitPeriod,
	}, log)

	refundDriver := settlement.NewDriver(pgStore, gatewayClient, telegram, guard, publisher, cfg.RefundRetryInterval, log)
	reconciler := settlement.NewReconciler(pgStore, refundDriver, publisher, settlement.WindowLimits{
		Daily:   cfg.LimitDaily,
		Monthly: cfg.LimitMonthly,
	}, cfg.LimitUTCOffset, log)

	funding := service.NewFunding(resolver, guard, pgStore, gatewayClient, telegram, credCache, log)
	handler := api.NewHandler(funding, reconciler, refundDriver, pgStore, log)

	// Rolling-window reset for period totals.
	go func() {
		ticker := time.NewTicker(cfg.PeriodResetInterval)
		defer ticker.Stop()
		for range ticker.C {
			if err := pgStore.ResetPeriodSpend(ctx); err != nil {
				log.WithError(err).Error("period spend reset failed")
			} else {
				log.Info("period spend reset")
			}
		}
	}()

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", handler.HealthCheckHandler).Methods("GET")

	r.HandleFunc("/api/order", handler.CreateOrderHandler).Methods("POST")
	r.HandleFunc("/api/webhook/payment", handler.PaymentWebhookHandler).Methods("POST")
	r.HandleFunc("/api/refund", handler.TriggerRefundHandler).Methods("POST")

	log.WithField("port", cfg.Port).Info("server starting")
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}
