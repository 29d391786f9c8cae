package models

import "time"

// NotificationResult is the direction a notification reports, regardless of
// which channel delivered it.
type NotificationResult string

const (
	ResultSuccess NotificationResult = "success"
	ResultFailure NotificationResult = "failure"
)

// NotificationEvent is the normalized shape every adapter produces. The
// reconciler never sees transport-specific payloads.
type NotificationEvent struct {
	Result       NotificationResult
	PaymentID    string
	SessionID    string
	RawStatus    string
	Amount       int64
	Currency     string
	Email        string
	Recipient    string
	ProductNames []string
	ErrorDetail  string
}

// WebhookEnvelope mirrors the gateway's webhook body. Either eventName or
// type carries the event kind depending on webhook generation.
type WebhookEnvelope struct {
	EventName string      `json:"eventName"`
	Type      string      `json:"type"`
	Data      WebhookData `json:"data"`
}

type WebhookData struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	Amount        float64         `json:"amount"`
	Currency      string          `json:"currency"`
	To            string          `json:"to"`
	RecipientName string          `json:"recipientName"`
	ProductNames  []string        `json:"productNames"`
	Error         string          `json:"error"`
	Metadata      WebhookMetadata `json:"metadata"`
}

type WebhookMetadata struct {
	CheckoutSessionID string `json:"checkoutSessionId"`
}

// StateChangedEvent is published to Kafka on every terminal transition.
type StateChangedEvent struct {
	EventID       string        `json:"event_id"`
	OrderID       int64         `json:"order_id"`
	State         PaymentStatus `json:"state"`
	PreviousState PaymentStatus `json:"previous_state"`
	PaymentID     string        `json:"payment_id,omitempty"`
	SessionID     string        `json:"session_id,omitempty"`
	Amount        int64         `json:"amount"`
	Timestamp     time.Time     `json:"timestamp"`
}
