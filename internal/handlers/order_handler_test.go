package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurashi-commerce/grandpay-gateway/internal/models"
)

func TestGetPaymentState(t *testing.T) {
	f := newHandlerFixture(t)
	o := pendingOrder()
	o.PointsUsed = 500
	id := f.addOrder(t, o)

	req := httptest.NewRequest(http.MethodGet, "/orders/1/payment", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(id), body["order_id"])
	assert.Equal(t, string(models.StatusPending), body["status"])
	assert.Equal(t, "cs_1", body["session_id"])
	assert.Equal(t, float64(2000), body["final_amount"])
	assert.Equal(t, float64(500), body["points_used"])
}

func TestGetPaymentStateNotFound(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/orders/42/payment", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetPaymentStateInvalidID(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/orders/abc/payment", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
