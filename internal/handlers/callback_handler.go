package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kurashi-commerce/grandpay-gateway/internal/auth"
	"github.com/kurashi-commerce/grandpay-gateway/internal/config"
	"github.com/kurashi-commerce/grandpay-gateway/internal/errs"
	"github.com/kurashi-commerce/grandpay-gateway/internal/models"
	"github.com/kurashi-commerce/grandpay-gateway/internal/service"
	"github.com/kurashi-commerce/grandpay-gateway/internal/telemetry"
)

type CallbackHandler struct {
	reconciler *service.Reconciler
	cfg        *config.Config
}

func NewCallbackHandler(reconciler *service.Reconciler, cfg *config.Config) *CallbackHandler {
	return &CallbackHandler{reconciler: reconciler, cfg: cfg}
}

// HandleCallback processes the browser redirect from the gateway. The signed
// session_check token is verified before any order lookup; a forged or
// missing token is rejected loudly.
func (h *CallbackHandler) HandleCallback(c *gin.Context) {
	result := c.Query("grandpay_result")
	orderRef := c.Query("order_id")
	sessionCheck := c.Query("session_check")

	if orderRef == "" || (result != string(models.ResultSuccess) && result != string(models.ResultFailure)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid callback parameters"})
		return
	}

	if err := auth.VerifyCallbackToken(h.cfg.CallbackSecret, sessionCheck, orderRef); err != nil {
		telemetry.Logger.Warn("Rejected callback with invalid session_check",
			zap.String("order_ref", orderRef),
			zap.Error(err),
		)
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid session"})
		return
	}

	telemetry.NotificationsReceived.WithLabelValues("redirect", result).Inc()

	outcome, err := h.reconciler.HandleRedirect(c.Request.Context(), orderRef, models.NotificationResult(result))
	if err != nil {
		var re *errs.ResolutionError
		if errors.As(err, &re) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		telemetry.Logger.Error("Redirect reconciliation failed",
			zap.String("order_ref", orderRef),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process callback"})
		return
	}

	c.Redirect(http.StatusFound, outcome.URL)
}
