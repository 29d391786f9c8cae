package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kurashi-commerce/grandpay-gateway/internal/models"
)

const (
	completionMailSubject = "order.completion"
	inventorySubject      = "inventory.decrement"
	inventoryTimeout      = 5 * time.Second
)

// NatsCollaborators talks to the host commerce platform over NATS: completion
// mail is fire-and-forget, inventory decrement is request/reply so a stock
// rejection is at least observable. Both are best-effort for the caller.
type NatsCollaborators struct {
	nc *nats.Conn
}

func NewNatsCollaborators(nc *nats.Conn) *NatsCollaborators {
	return &NatsCollaborators{nc: nc}
}

type completionMail struct {
	OrderID     int64  `json:"order_id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	FinalAmount int64  `json:"final_amount"`
	PaymentID   string `json:"payment_id"`
}

func (n *NatsCollaborators) SendCompletionMail(ctx context.Context, order *models.Order) error {
	payload, err := json.Marshal(completionMail{
		OrderID:     order.ID,
		Email:       order.Customer.Email,
		Name:        order.Customer.Name,
		FinalAmount: order.FinalAmount,
		PaymentID:   order.PaymentID,
	})
	if err != nil {
		return err
	}
	return n.nc.Publish(completionMailSubject, payload)
}

type inventoryRequest struct {
	Items []models.CartItem `json:"items"`
}

type inventoryResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (n *NatsCollaborators) DecrementStock(ctx context.Context, items []models.CartItem) error {
	if len(items) == 0 {
		return nil
	}
	payload, err := json.Marshal(inventoryRequest{Items: items})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, inventoryTimeout)
	defer cancel()
	msg, err := n.nc.RequestWithContext(ctx, inventorySubject, payload)
	if err != nil {
		return fmt.Errorf("inventory request: %w", err)
	}
	var resp inventoryResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return fmt.Errorf("inventory reply: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("inventory rejected decrement: %s", resp.Error)
	}
	return nil
}
