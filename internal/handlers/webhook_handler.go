package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kurashi-commerce/grandpay-gateway/internal/config"
	"github.com/kurashi-commerce/grandpay-gateway/internal/models"
	"github.com/kurashi-commerce/grandpay-gateway/internal/service"
	"github.com/kurashi-commerce/grandpay-gateway/internal/telemetry"
)

const legacySignatureHeader = "X-Grandpay-Signature"

// successEvents are the webhook event names that signal a completed payment.
// The gateway has emitted several generations of names for the same event.
var successEvents = map[string]bool{
	"payment.payment.done":       true,
	"PAYMENT_CHECKOUT":           true,
	"checkout.session.completed": true,
	"payment.succeeded":          true,
}

type WebhookHandler struct {
	reconciler *service.Reconciler
	cfg        *config.Config
}

func NewWebhookHandler(reconciler *service.Reconciler, cfg *config.Config) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, cfg: cfg}
}

// HandleRest processes the REST webhook. The remote only needs delivery
// confirmation, so everything past payload decoding acknowledges with 200 no
// matter how reconciliation went.
func (h *WebhookHandler) HandleRest(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	h.process(c, body, "rest")
}

// HandleLegacy processes the legacy webhook: same payload, but authenticity
// comes from an HMAC-SHA256 signature over the raw body. An invalid
// signature rejects loudly; everything else is normalized into the REST path.
func (h *WebhookHandler) HandleLegacy(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	signature := c.GetHeader(legacySignatureHeader)
	if h.cfg.WebhookSecret != "" {
		if !verifySignature(h.cfg.WebhookSecret, body, signature) {
			telemetry.Logger.Warn("Rejected legacy webhook with bad signature")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	} else {
		telemetry.Logger.Warn("Legacy webhook accepted without signature check, no webhook secret configured")
	}

	h.process(c, body, "legacy")
}

func (h *WebhookHandler) process(c *gin.Context, body []byte, channel string) {
	var envelope models.WebhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}

	eventType := envelope.EventName
	if eventType == "" {
		eventType = envelope.Type
	}
	if eventType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing event type"})
		return
	}

	evt, known := normalizeEvent(eventType, envelope.Data)
	if !known {
		telemetry.Logger.Info("Ignoring unknown webhook event",
			zap.String("event", eventType),
			zap.String("channel", channel),
		)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	telemetry.NotificationsReceived.WithLabelValues(channel, string(evt.Result)).Inc()

	if err := h.reconciler.HandleWebhook(c.Request.Context(), evt); err != nil {
		// Delivery is acknowledged regardless; the gateway will redeliver and
		// the idempotency guard absorbs whatever already landed.
		telemetry.Logger.Error("Webhook reconciliation failed",
			zap.String("event", eventType),
			zap.String("session_id", evt.SessionID),
			zap.Error(err),
		)
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func normalizeEvent(eventType string, data models.WebhookData) (models.NotificationEvent, bool) {
	evt := models.NotificationEvent{
		PaymentID:    data.ID,
		SessionID:    data.Metadata.CheckoutSessionID,
		RawStatus:    data.Status,
		Amount:       int64(data.Amount),
		Currency:     data.Currency,
		Email:        data.To,
		Recipient:    data.RecipientName,
		ProductNames: data.ProductNames,
		ErrorDetail:  data.Error,
	}
	switch {
	case successEvents[eventType]:
		evt.Result = models.ResultSuccess
		return evt, true
	case eventType == "payment.failed":
		evt.Result = models.ResultFailure
		return evt, true
	default:
		return models.NotificationEvent{}, false
	}
}

func verifySignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
