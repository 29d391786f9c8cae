package models

import "time"

// TempCheckout is the session-scoped record held while a checkout runs under a
// temporary order id. It carries everything needed to mint the permanent order
// once the remote session exists or a notification arrives first.
type TempCheckout struct {
	TempID         string     `json:"temp_id"`
	SessionID      string     `json:"session_id"`
	CheckoutURL    string     `json:"checkout_url"`
	OrderID        int64      `json:"order_id,omitempty"` // set once promoted
	OriginalAmount int64      `json:"original_amount"`
	FinalAmount    int64      `json:"final_amount"`
	PointsUsed     int64      `json:"points_used"`
	PointsDiscount int64      `json:"points_discount"`
	Customer       Customer   `json:"customer"`
	MemberID       int64      `json:"member_id"`
	Cart           []CartItem `json:"cart,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
