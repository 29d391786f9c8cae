package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurashi-commerce/grandpay-gateway/internal/auth"
	"github.com/kurashi-commerce/grandpay-gateway/internal/models"
)

func (f *handlerFixture) callback(t *testing.T, result, orderRef, sessionCheck string) *httptest.ResponseRecorder {
	t.Helper()
	q := url.Values{}
	if result != "" {
		q.Set("grandpay_result", result)
	}
	if orderRef != "" {
		q.Set("order_id", orderRef)
	}
	if sessionCheck != "" {
		q.Set("session_check", sessionCheck)
	}
	req := httptest.NewRequest(http.MethodGet, "/payment/callback?"+q.Encode(), nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func mintToken(t *testing.T, secret, ref string) string {
	t.Helper()
	tok, err := auth.MintCallbackToken(secret, ref)
	require.NoError(t, err)
	return tok
}

func TestCallbackSuccessRedirectsToCompletePage(t *testing.T) {
	f := newHandlerFixture(t)
	f.addOrder(t, pendingOrder())

	w := f.callback(t, "success", "1", mintToken(t, "cb-secret", "1"))
	require.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "checkout/complete")
	assert.Contains(t, w.Header().Get("Location"), "order_id=1")

	o, err := f.orders.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, o.Status)
}

func TestCallbackFailureRedirectsToCart(t *testing.T) {
	f := newHandlerFixture(t)
	f.addOrder(t, pendingOrder())

	w := f.callback(t, "failure", "1", mintToken(t, "cb-secret", "1"))
	require.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "grandpay_error=")

	o, err := f.orders.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, o.Status)
}

func TestCallbackRejectsForgedToken(t *testing.T) {
	f := newHandlerFixture(t)
	id := f.addOrder(t, pendingOrder())

	w := f.callback(t, "success", "1", mintToken(t, "wrong-secret", "1"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	o, err := f.orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, o.Status, "a forged callback must not touch the order")
}

func TestCallbackRejectsTokenForOtherOrder(t *testing.T) {
	f := newHandlerFixture(t)
	f.addOrder(t, pendingOrder())

	w := f.callback(t, "success", "1", mintToken(t, "cb-secret", "2"))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCallbackRejectsMissingToken(t *testing.T) {
	f := newHandlerFixture(t)
	f.addOrder(t, pendingOrder())

	w := f.callback(t, "success", "1", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCallbackValidatesParameters(t *testing.T) {
	f := newHandlerFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.callback(t, "success", "", "x").Code)
	assert.Equal(t, http.StatusBadRequest, f.callback(t, "", "1", "x").Code)
	assert.Equal(t, http.StatusBadRequest, f.callback(t, "maybe", "1", "x").Code)
}

func TestCallbackUnknownOrder(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.callback(t, "success", "777", mintToken(t, "cb-secret", "777"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
