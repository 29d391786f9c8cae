package models

import (
	"strings"
	"time"
)

type PaymentStatus string

const (
	StatusPending    PaymentStatus = "pending"
	StatusProcessing PaymentStatus = "processing"
	StatusCompleted  PaymentStatus = "completed"
	StatusFailed     PaymentStatus = "failed"
	StatusError      PaymentStatus = "error"
)

// Terminal reports whether no further transition may be applied.
func (s PaymentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TempIDPrefix marks locally minted placeholder order identifiers used before
// the permanent order record exists.
const TempIDPrefix = "TEMP_"

// IsTempID reports whether ref is a placeholder identifier rather than a
// permanent order id.
func IsTempID(ref string) bool {
	return strings.HasPrefix(ref, TempIDPrefix)
}

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// CartItem is one purchased line item, carried on the order for the inventory
// decrement collaborator.
type CartItem struct {
	ProductID int64  `json:"product_id"`
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
}

// Order is the local payment-lifecycle record. FinalAmount is always
// OriginalAmount - PointsDiscount; Status only leaves a terminal value as a
// no-op.
type Order struct {
	ID             int64         `json:"id"`
	TempID         string        `json:"temp_id,omitempty"`
	SessionID      string        `json:"session_id,omitempty"`
	PaymentID      string        `json:"payment_id,omitempty"`
	CheckoutURL    string        `json:"checkout_url,omitempty"`
	Status         PaymentStatus `json:"status"`
	OriginalAmount int64         `json:"original_amount"`
	PointsUsed     int64         `json:"points_used"`
	PointsDiscount int64         `json:"points_discount"`
	FinalAmount    int64         `json:"final_amount"`
	Customer       Customer      `json:"customer"`
	MemberID       int64         `json:"member_id"`
	Cart           []CartItem    `json:"cart,omitempty"`
	PendingReason  string        `json:"pending_reason,omitempty"`
	FailureReason  string        `json:"failure_reason,omitempty"`

	CallbackReceivedAt *time.Time `json:"callback_received_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	FailedAt           *time.Time `json:"failed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// CheckoutRequest is the immutable input to a remote session creation. Amount
// is the payable amount in minor units after any points discount.
type CheckoutRequest struct {
	OrderRef   string
	Amount     int64
	Customer   Customer
	SuccessURL string
	FailureURL string
}

// CheckoutSession is one redirect payment attempt on the remote side.
type CheckoutSession struct {
	SessionID   string    `json:"session_id"`
	CheckoutURL string    `json:"checkout_url"`
	OrderRef    string    `json:"order_ref"`
	CreatedAt   time.Time `json:"created_at"`
}

// StatusReport is the remote's view of a checkout session, with the raw
// status normalized to a single success classification.
type StatusReport struct {
	SessionID string
	PaymentID string
	RawStatus string
	Succeeded bool
}

// CheckoutUpdate carries the fields written onto an order when a checkout
// session is attached to it.
type CheckoutUpdate struct {
	TempID         string
	SessionID      string
	CheckoutURL    string
	OriginalAmount int64
	PointsUsed     int64
	PointsDiscount int64
	FinalAmount    int64
	Customer       Customer
	MemberID       int64
	Cart           []CartItem
}

type Member struct {
	ID     int64  `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Points int64  `json:"points"`
}
