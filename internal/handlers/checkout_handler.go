package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kurashi-commerce/grandpay-gateway/internal/errs"
	"github.com/kurashi-commerce/grandpay-gateway/internal/service"
	"github.com/kurashi-commerce/grandpay-gateway/internal/telemetry"
)

type CheckoutHandler struct {
	checkout *service.CheckoutService
}

func NewCheckoutHandler(checkout *service.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout}
}

// StartCheckout initiates a redirect payment: reserves the points discount,
// creates the remote session and returns the URL to send the shopper to.
func (h *CheckoutHandler) StartCheckout(c *gin.Context) {
	var in service.CheckoutInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := h.checkout.Start(c.Request.Context(), in)
	if err != nil {
		h.renderCheckoutError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *CheckoutHandler) renderCheckoutError(c *gin.Context, err error) {
	var ve *errs.ValidationError
	if errors.As(err, &ve) {
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error()})
		return
	}
	if errors.Is(err, errs.ErrInsufficientBalance) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Not enough points available."})
		return
	}
	if errors.Is(err, errs.ErrBelowMinimumAmount) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Point usage would push the payable amount below the chargeable minimum."})
		return
	}
	var ce *errs.ConfigurationError
	if errors.As(err, &ce) {
		telemetry.Logger.Error("Checkout rejected by configuration", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Payment gateway is not configured."})
		return
	}

	// Gateway, auth and timeout errors abort the attempt without mutating
	// order or points state.
	telemetry.Logger.Error("Checkout session creation failed", zap.Error(err))
	c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to create the payment session. Please try again."})
}
