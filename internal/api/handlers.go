package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/avolkov/qrtopup/internal/domain"
	"github.com/avolkov/qrtopup/internal/gateway"
	"github.com/avolkov/qrtopup/internal/service"
	"github.com/avolkov/qrtopup/internal/settlement"
	"github.com/avolkov/qrtopup/internal/store"
)

// CreateOrderHandler accepts a funding request and answers with the display
// code, or a denial carrying the breached ceiling and remaining headroom.
func (h *Handler) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/api/order"))
	defer timer.ObserveDuration()

	var req domain.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, "POST", "/api/order", http.StatusBadRequest, map[string]string{"error": "Malformed JSON body"})
		return
	}

	// Connectivity probe used by partner integrations.
	if req.Login == "ping" {
		h.respond(w, "POST", "/api/order", http.StatusOK, map[string]string{"result": "pong"})
		return
	}

	if req.Fingerprint == "" || req.Login == "" || req.Amount <= 0 || req.APILogin == "" || req.APIKey == "" {
		h.respond(w, "POST", "/api/order", http.StatusBadRequest, map[string]string{"error": "Missing required fields"})
		return
	}

	if err := h.funding.Authenticate(r.Context(), req.APILogin, req.APIKey); err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.respond(w, "POST", "/api/order", http.StatusUnauthorized, map[string]string{"error": "Invalid API credentials"})
			return
		}
		h.log.WithError(err).Error("credential check failed")
		h.respond(w, "POST", "/api/order", http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
		return
	}

	result, denial, err := h.funding.CreateOrder(r.Context(), req, clientIP(r))
	if err != nil {
		if errors.Is(err, gateway.ErrMalformedResponse) {
			h.respond(w, "POST", "/api/order", http.StatusBadGateway, map[string]string{"error": "Invalid response from payment gateway"})
			return
		}
		h.log.WithError(err).Error("order creation failed")
		h.respond(w, "POST", "/api/order", http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
		return
	}

	if denial != nil {
		fundingDecisionsTotal.WithLabelValues(denial.Ceiling).Inc()
		// status:"cancelled" keeps clients that expect the 200-with-status
		// denial form parsing this body too.
		h.respond(w, "POST", "/api/order", http.StatusForbidden, map[string]any{
			"error":         "Payment exceeds allowed limit",
			"status":        "cancelled",
			"ceiling":       denial.Ceiling,
			"remaining":     denial.Remaining,
			"total_amount":  denial.Total,
			"period_amount": denial.Period,
		})
		return
	}

	fundingDecisionsTotal.WithLabelValues("admitted").Inc()
	h.respond(w, "POST", "/api/order", http.StatusCreated, map[string]any{"result": result})
}

// PaymentWebhookHandler consumes the gateway's asynchronous confirmation.
// Once a confirmation has been processed the answer is always 200 with
// {result:"ok"}, refund-triggering included, to stop redelivery storms.
func (h *Handler) PaymentWebhookHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/api/webhook/payment"))
	defer timer.ObserveDuration()

	var req domain.ConfirmationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, "POST", "/api/webhook/payment", http.StatusBadRequest, map[string]string{"error": "Malformed JSON body"})
		return
	}

	h.log.WithFields(logrus.Fields{
		"qrc_id":   req.QrcID,
		"amount":   req.Amount,
		"payer_id": req.PayerID,
	}).Info("payment webhook received")

	if req.QrcID == "" || req.Amount <= 0 || req.PayerID == "" {
		h.respond(w, "POST", "/api/webhook/payment", http.StatusBadRequest, map[string]string{"error": "Missing required fields"})
		return
	}

	if err := h.reconciler.OnConfirmation(r.Context(), req); err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			settlementsTotal.WithLabelValues("unknown_reference").Inc()
			h.respond(w, "POST", "/api/webhook/payment", http.StatusNotFound, map[string]string{"error": "Purchase not found"})
			return
		}
		settlementsTotal.WithLabelValues("error").Inc()
		h.log.WithError(err).Error("confirmation processing failed")
		h.respond(w, "POST", "/api/webhook/payment", http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
		return
	}

	settlementsTotal.WithLabelValues("processed").Inc()
	h.respond(w, "POST", "/api/webhook/payment", http.StatusOK, map[string]string{"result": "ok"})
}

// TriggerRefundHandler lets the operator tooling re-drive a refund.
func (h *Handler) TriggerRefundHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/api/refund"))
	defer timer.ObserveDuration()

	var req domain.RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, "POST", "/api/refund", http.StatusBadRequest, map[string]string{"error": "Malformed JSON body"})
		return
	}
	if req.QrcID == "" && req.OperationID == "" {
		h.respond(w, "POST", "/api/refund", http.StatusBadRequest, map[string]string{"error": "qrc_id or operation_id is required"})
		return
	}

	var (
		tx  *domain.Transaction
		err error
	)
	if req.OperationID != "" {
		tx, err = h.store.GetTransaction(r.Context(), req.OperationID)
	} else {
		tx, err = h.store.GetTransactionByGatewayRef(r.Context(), req.QrcID)
	}
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			h.respond(w, "POST", "/api/refund", http.StatusNotFound, map[string]string{"error": "Purchase not found"})
			return
		}
		h.log.WithError(err).Error("refund lookup failed")
		h.respond(w, "POST", "/api/refund", http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
		return
	}

	outcome, err := h.refunds.Refund(r.Context(), tx.ID)
	if err != nil {
		if errors.Is(err, settlement.ErrNotRefundable) {
			h.respond(w, "POST", "/api/refund", http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		h.log.WithError(err).Error("refund driver failed")
		h.respond(w, "POST", "/api/refund", http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
		return
	}

	refundOutcomesTotal.WithLabelValues(string(outcome)).Inc()
	h.respond(w, "POST", "/api/refund", http.StatusOK, map[string]any{
		"result":       outcome,
		"operation_id": tx.ID,
	})
}

func (h *Handler) respond(w http.ResponseWriter, method, endpoint string, code int, payload interface{}) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	respondWithJSON(w, code, payload)
}
