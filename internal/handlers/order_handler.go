package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kurashi-commerce/grandpay-gateway/internal/interfaces"
)

type OrderHandler struct {
	orders interfaces.OrderRepository
}

func NewOrderHandler(orders interfaces.OrderRepository) *OrderHandler {
	return &OrderHandler{orders: orders}
}

func (h *OrderHandler) GetPaymentState(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	order, err := h.orders.GetByID(c.Request.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch order"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id":             order.ID,
		"status":               order.Status,
		"session_id":           order.SessionID,
		"payment_id":           order.PaymentID,
		"final_amount":         order.FinalAmount,
		"points_used":          order.PointsUsed,
		"pending_reason":       order.PendingReason,
		"failure_reason":       order.FailureReason,
		"callback_received_at": order.CallbackReceivedAt,
		"completed_at":         order.CompletedAt,
		"failed_at":            order.FailedAt,
		"created_at":           order.CreatedAt,
		"updated_at":           order.UpdatedAt,
	})
}
