package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurashi-commerce/grandpay-gateway/internal/models"
)

const completedPayload = `{
	"eventName": "payment.payment.done",
	"data": {
		"id": "pay_1",
		"status": "COMPLETED",
		"amount": 2000,
		"currency": "JPY",
		"to": "taro@example.jp",
		"recipientName": "Taro",
		"productNames": ["Tea", "Cups"],
		"metadata": {"checkoutSessionId": "cs_1"}
	}
}`

func (f *handlerFixture) post(t *testing.T, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestRestWebhookCompletesOrder(t *testing.T) {
	f := newHandlerFixture(t)
	id := f.addOrder(t, pendingOrder())

	w := f.post(t, "/webhooks/grandpay", completedPayload, nil)
	require.Equal(t, http.StatusOK, w.Code)

	o, err := f.orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, o.Status)
	assert.Equal(t, "pay_1", o.PaymentID)
}

func TestRestWebhookCreatesMissingOrder(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.post(t, "/webhooks/grandpay", completedPayload, nil)
	require.Equal(t, http.StatusOK, w.Code)

	o, err := f.orders.GetBySessionID(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, o.Status)
	assert.Equal(t, int64(7), o.MemberID)
	require.Len(t, o.Cart, 2)
	assert.Equal(t, int64(1000), o.Cart[0].Price)
}

func TestRestWebhookAcceptsTypeField(t *testing.T) {
	f := newHandlerFixture(t)
	id := f.addOrder(t, pendingOrder())

	payload := `{"type":"checkout.session.completed","data":{"id":"pay_1","status":"COMPLETED","metadata":{"checkoutSessionId":"cs_1"}}}`
	w := f.post(t, "/webhooks/grandpay", payload, nil)
	require.Equal(t, http.StatusOK, w.Code)

	o, err := f.orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, o.Status)
}

func TestRestWebhookRequiresCompletedStatus(t *testing.T) {
	f := newHandlerFixture(t)
	id := f.addOrder(t, pendingOrder())

	payload := `{"eventName":"payment.payment.done","data":{"id":"pay_1","status":"PENDING","metadata":{"checkoutSessionId":"cs_1"}}}`
	w := f.post(t, "/webhooks/grandpay", payload, nil)
	require.Equal(t, http.StatusOK, w.Code, "intermediate events are acknowledged")

	o, err := f.orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, o.Status)
}

func TestRestWebhookFailureEvent(t *testing.T) {
	f := newHandlerFixture(t)
	id := f.addOrder(t, pendingOrder())

	payload := `{"eventName":"payment.failed","data":{"id":"pay_1","error":"card declined","metadata":{"checkoutSessionId":"cs_1"}}}`
	w := f.post(t, "/webhooks/grandpay", payload, nil)
	require.Equal(t, http.StatusOK, w.Code)

	o, err := f.orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, o.Status)
	assert.Equal(t, "card declined", o.FailureReason)
}

func TestRestWebhookBadPayloads(t *testing.T) {
	f := newHandlerFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.post(t, "/webhooks/grandpay", "{not json", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.post(t, "/webhooks/grandpay", `{"data":{}}`, nil).Code)
}

func TestRestWebhookIgnoresUnknownEvents(t *testing.T) {
	f := newHandlerFixture(t)
	id := f.addOrder(t, pendingOrder())

	payload := `{"eventName":"payment.refund.done","data":{"metadata":{"checkoutSessionId":"cs_1"}}}`
	w := f.post(t, "/webhooks/grandpay", payload, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ignored")

	o, err := f.orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, o.Status)
}

func TestLegacyWebhookVerifiesSignature(t *testing.T) {
	f := newHandlerFixture(t)
	id := f.addOrder(t, pendingOrder())

	w := f.post(t, "/webhooks/grandpay/legacy", completedPayload, map[string]string{
		legacySignatureHeader: sign("wh-secret", completedPayload),
	})
	require.Equal(t, http.StatusOK, w.Code)

	o, err := f.orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, o.Status)
}

func TestLegacyWebhookRejectsBadSignature(t *testing.T) {
	f := newHandlerFixture(t)
	id := f.addOrder(t, pendingOrder())

	w := f.post(t, "/webhooks/grandpay/legacy", completedPayload, map[string]string{
		legacySignatureHeader: sign("other-secret", completedPayload),
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	o, err := f.orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, o.Status)
}

func TestLegacyWebhookRejectsMissingSignature(t *testing.T) {
	f := newHandlerFixture(t)
	f.addOrder(t, pendingOrder())

	w := f.post(t, "/webhooks/grandpay/legacy", completedPayload, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLegacyWebhookWithoutConfiguredSecret(t *testing.T) {
	f := newHandlerFixture(t)
	f.cfg.WebhookSecret = ""
	id := f.addOrder(t, pendingOrder())

	w := f.post(t, "/webhooks/grandpay/legacy", completedPayload, nil)
	require.Equal(t, http.StatusOK, w.Code, "unsigned deliveries pass when no secret is configured")

	o, err := f.orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, o.Status)
}

func TestDuplicateWebhookDeliveries(t *testing.T) {
	f := newHandlerFixture(t)
	id := f.addOrder(t, pendingOrder())

	for i := 0; i < 3; i++ {
		w := f.post(t, "/webhooks/grandpay", completedPayload, nil)
		require.Equal(t, http.StatusOK, w.Code)
	}

	o, err := f.orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, o.Status)
}
