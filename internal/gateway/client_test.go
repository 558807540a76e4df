package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(Config{
		BaseURL:     srv.URL,
		RefundURL:   srv.URL + "/refund",
		AuthSP:      "test-authsp",
		ExtEntityID: "ext-1",
		MerchantID:  "m-1",
		AccAlias:    "alias-1",
	})
	require.NoError(t, err)
	return client, srv
}

func TestCreateQRSuccess(t *testing.T) {
	var got QRRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/points/qr", r.URL.Path)
		assert.Equal(t, "test-authsp", r.Header.Get("authsp"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(QRResponse{QrcID: "qr-123", Payload: "https://qr.example/123"})
	})

	qr, err := client.CreateQR(context.Background(), 50000, "prepaid top-up order")
	require.NoError(t, err)
	assert.Equal(t, "qr-123", qr.QrcID)
	assert.Equal(t, "https://qr.example/123", qr.Payload)

	assert.Equal(t, int64(50000), got.Amount)
	assert.Equal(t, "02", got.QrcType)
	assert.Equal(t, 25, got.ExpDt)
	assert.Equal(t, 1500, got.LocalExpDt)
	assert.Equal(t, "ext-1", got.ExtEntityID)
}

func TestCreateQRMissingFieldsIsMalformed(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"qrcId": "qr-123"}) // no payload
	})

	_, err := client.CreateQR(context.Background(), 1000, "x")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestCreateQRUnparseableBodyIsMalformed(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html>gateway error</html>"))
	})

	_, err := client.CreateQR(context.Background(), 1000, "x")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestCreateQRRejectedStatus(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})

	_, err := client.CreateQR(context.Background(), 1000, "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformedResponse)
	assert.Contains(t, err.Error(), "403")
}

func TestRefundAcceptedStatuses(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusAccepted} {
		var got RefundRequest
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/refund", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(status)
		})

		err := client.Refund(context.Background(), "qr-123", "qr-123-1700000000000", 50000)
		require.NoError(t, err)
		assert.False(t, got.LongWait)
		assert.Equal(t, "qrcId", got.RefType)
		assert.Equal(t, "qr-123", got.RefData)
		assert.Equal(t, int64(50000), got.Amount)
	}
}

func TestRefundRejectedStatus(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	})

	err := client.Refund(context.Background(), "qr-123", "ref-1", 1000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
