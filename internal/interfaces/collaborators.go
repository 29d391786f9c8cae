package interfaces

import (
	"context"

	"github.com/kurashi-commerce/grandpay-gateway/internal/models"
)

// EventPublisher emits terminal state changes for other subsystems.
type EventPublisher interface {
	PublishStateChange(ctx context.Context, evt models.StateChangedEvent) error
}

// Notifier dispatches the order-completion mail. Failures are logged by the
// caller, never propagated into the payment transition.
type Notifier interface {
	SendCompletionMail(ctx context.Context, order *models.Order) error
}

// Inventory decrements stock for completed orders, best-effort.
type Inventory interface {
	DecrementStock(ctx context.Context, items []models.CartItem) error
}
