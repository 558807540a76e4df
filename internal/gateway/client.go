package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrMalformedResponse means the processor answered 2xx but the body was
	// missing the QR code fields. Surfaced to callers as a bad-gateway case.
	ErrMalformedResponse = errors.New("malformed gateway response")
)

// Config carries the processor endpoints and the client certificate used for
// mutual TLS. Certificate material is PEM; deployments convert the issued PFX
// bundle once at provisioning time.
type Config struct {
	BaseURL     string
	RefundURL   string
	AuthSP      string
	ExtEntityID string
	MerchantID  string
	AccAlias    string

	ClientCertPEM []byte
	ClientKeyPEM  []byte

	OrderTimeout  time.Duration
	RefundTimeout time.Duration
}

// Client talks to the payment processor: QR issuance for new orders and
// compensating transfers for refunds.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func New(cfg Config) (*Client, error) {
	if cfg.OrderTimeout == 0 {
		cfg.OrderTimeout = 10 * time.Second
	}
	if cfg.RefundTimeout == 0 {
		cfg.RefundTimeout = 30 * time.Second
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if len(cfg.ClientCertPEM) > 0 {
		cert, err := tls.X509KeyPair(cfg.ClientCertPEM, cfg.ClientKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	tr := &http.Transport{
		TLSClientConfig:    tlsConfig,
		MaxIdleConns:       10,
		IdleConnTimeout:    30 * time.Second,
		DisableCompression: true,
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Transport: tr},
	}, nil
}

// QRRequest is the processor's QR issuance body.
type QRRequest struct {
	ExtEntityID    string `json:"extEntityId"`
	MerchantID     string `json:"merchantId"`
	AccAlias       string `json:"accAlias"`
	Amount         int64  `json:"amount"`
	PaymentPurpose string `json:"paymentPurpose"`
	QrcType        string `json:"qrcType"`
	ExpDt          int    `json:"expDt"`
	LocalExpDt     int    `json:"localExpDt"`
}

// QRResponse is the display code handed back to the payer.
type QRResponse struct {
	QrcID   string `json:"qrcId"`
	Payload string `json:"payload"`
}

// CreateQR requests a payment QR code for amountMinor. The purpose string is
// shown on the payer's banking app.
func (c *Client) CreateQR(ctx context.Context, amountMinor int64, purpose string) (*QRResponse, error) {
	body := QRRequest{
		ExtEntityID:    c.cfg.ExtEntityID,
		MerchantID:     c.cfg.MerchantID,
		AccAlias:       c.cfg.AccAlias,
		Amount:         amountMinor,
		PaymentPurpose: purpose,
		QrcType:        "02",
		ExpDt:          25,
		LocalExpDt:     1500,
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.OrderTimeout)
	defer cancel()

	respBody, status, err := c.post(ctx, c.cfg.BaseURL+"/points/qr", body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, fmt.Errorf("qr issuance rejected: status %d, body: %s", status, respBody)
	}

	var qr QRResponse
	if err := json.Unmarshal(respBody, &qr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if qr.QrcID == "" || qr.Payload == "" {
		return nil, ErrMalformedResponse
	}
	return &qr, nil
}

// RefundRequest is the processor's compensating-transfer body.
type RefundRequest struct {
	LongWait     bool   `json:"longWait"`
	RefID        string `json:"refId"`
	InternalTxID string `json:"internalTxId,omitempty"`
	Amount       int64  `json:"amount"`
	RefType      string `json:"refType"`
	RefData      string `json:"refData"`
	RemitInfo    string `json:"remitInfo"`
}

// Refund sends a compensating transfer referencing the original QR code.
// 200 and 202 are both success; anything else, including a timeout, is a
// failed attempt for retry counting.
func (c *Client) Refund(ctx context.Context, qrcID, refID string, amountMinor int64) error {
	body := RefundRequest{
		LongWait:  false,
		RefID:     refID,
		Amount:    amountMinor,
		RefType:   "qrcId",
		RefData:   qrcID,
		RemitInfo: "purchase refund",
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RefundTimeout)
	defer cancel()

	respBody, status, err := c.post(ctx, c.cfg.RefundURL, body)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusAccepted {
		return fmt.Errorf("refund rejected: status %d, body: %s", status, respBody)
	}
	return nil
}

func (c *Client) post(ctx context.Context, url string, body any) ([]byte, int, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.AuthSP != "" {
		req.Header.Set("authsp", c.cfg.AuthSP)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return respBody, resp.StatusCode, nil
}
