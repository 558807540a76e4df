package api

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/avolkov/qrtopup/internal/service"
	"github.com/avolkov/qrtopup/internal/settlement"
	"github.com/avolkov/qrtopup/internal/store"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topup_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "topup_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "endpoint"})

	fundingDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topup_funding_decisions_total",
		Help: "Funding reservations by outcome (admitted or breached ceiling)",
	}, []string{"outcome"})

	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topup_settlements_total",
		Help: "Confirmation callbacks by result",
	}, []string{"result"})

	refundOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topup_refund_outcomes_total",
		Help: "Terminal refund outcomes",
	}, []string{"outcome"})
)

// Handler wires the HTTP surface to the funding, settlement and refund flows.
type Handler struct {
	funding    *service.Funding
	reconciler *settlement.Reconciler
	refunds    settlement.Refunder
	store      store.TransactionStore
	log        *logrus.Entry
}

func NewHandler(funding *service.Funding, reconciler *settlement.Reconciler, refunds settlement.Refunder, s store.TransactionStore, log *logrus.Logger) *Handler {
	return &Handler{
		funding:    funding,
		reconciler: reconciler,
		refunds:    refunds,
		store:      s,
		log:        log.WithField("type", "api"),
	}
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// clientIP takes the first X-Forwarded-For hop, falling back to the socket
// peer address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
