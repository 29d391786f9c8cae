package interfaces

import (
	"context"
	"time"

	"github.com/kurashi-commerce/grandpay-gateway/internal/models"
)

// OrderRepository is the contract for local order persistence. Transition is
// the only way a status changes: a guarded update matching the expected
// current statuses, returning the number of rows actually moved. Zero rows
// means the order was already past the expected states and the caller must
// treat the attempt as already decided.
type OrderRepository interface {
	Create(ctx context.Context, o *models.Order) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Order, error)
	GetByTempID(ctx context.Context, tempID string) (*models.Order, error)
	GetBySessionID(ctx context.Context, sessionID string) (*models.Order, error)
	GetByPaymentID(ctx context.Context, paymentID string) (*models.Order, error)

	FindUnattachedSince(ctx context.Context, since time.Time, limit int) ([]*models.Order, error)
	FindUnattachedByEmail(ctx context.Context, email string, limit int) ([]*models.Order, error)
	FindLatestPendingByEmail(ctx context.Context, email string) (*models.Order, error)

	UpdateCheckout(ctx context.Context, id int64, upd models.CheckoutUpdate) error
	Transition(ctx context.Context, id int64, from []models.PaymentStatus, to models.PaymentStatus) (int64, error)
	MarkCallbackReceived(ctx context.Context, id int64, at time.Time) error
	SetPendingReason(ctx context.Context, id int64, reason string) error
	SetCompleted(ctx context.Context, id int64, paymentID string, at time.Time) error
	SetFailed(ctx context.Context, id int64, reason string, at time.Time) error
}

// MemberRepository reads and adjusts loyalty-point balances.
type MemberRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Member, error)
	GetByEmail(ctx context.Context, email string) (*models.Member, error)
	// AdjustPoints applies a signed delta; a negative delta that would push
	// the balance below zero must fail without applying.
	AdjustPoints(ctx context.Context, memberID int64, delta int64) error
}

// TempStore holds checkout state for orders that only have a temporary id.
// Entries are TTL-bounded; a vanished entry is not an error for callers that
// can fall back to the persisted temp-id mapping.
type TempStore interface {
	SaveTempCheckout(ctx context.Context, tc *models.TempCheckout) error
	GetTempCheckout(ctx context.Context, tempID string) (*models.TempCheckout, error)
	DeleteTempCheckout(ctx context.Context, tempID string) error
}

// Locker serializes reconciliation per order-correlation key.
type Locker interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string)
}
