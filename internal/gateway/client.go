package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kurashi-commerce/grandpay-gateway/internal/config"
	"github.com/kurashi-commerce/grandpay-gateway/internal/errs"
	"github.com/kurashi-commerce/grandpay-gateway/internal/models"
	"github.com/kurashi-commerce/grandpay-gateway/internal/telemetry"
	"github.com/kurashi-commerce/grandpay-gateway/internal/token"
)

// successStatuses are the remote literals normalized to a single succeeded
// classification. Matched case-insensitively.
var successStatuses = map[string]bool{
	"COMPLETED":  true,
	"COMPLETE":   true,
	"SUCCESS":    true,
	"SUCCEEDED":  true,
	"PAID":       true,
	"AUTHORIZED": true,
	"CONFIRMED":  true,
}

// IsSuccessStatus reports whether the remote literal counts as succeeded.
func IsSuccessStatus(status string) bool {
	return successStatuses[strings.ToUpper(status)]
}

// TokenSource supplies and invalidates the shared bearer token.
type TokenSource interface {
	Get(ctx context.Context) (token.Token, error)
	Invalidate(ctx context.Context)
}

// Client is a stateless wrapper over the two remote operations. It never
// retries automatically except the single 401-triggered token refresh.
type Client struct {
	cfg    *config.Config
	tokens TokenSource
	http   *http.Client
	now    func() time.Time
}

func NewClient(cfg *config.Config, tokens TokenSource) *Client {
	return &Client{
		cfg:    cfg,
		tokens: tokens,
		http:   &http.Client{Timeout: config.RequestTimeout},
		now:    time.Now,
	}
}

type checkoutPayload struct {
	Title    string       `json:"title"`
	Type     string       `json:"type"`
	Currency string       `json:"currency"`
	Nature   string       `json:"nature"`
	Payer    payerPayload `json:"payer"`
	Success  string       `json:"successUrl"`
	Failure  string       `json:"failureUrl"`
	Items    []lineItem   `json:"lineItems"`
}

type payerPayload struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
	AreaCode string `json:"areaCode"`
	Country  string `json:"country"`
}

type lineItem struct {
	PriceData struct {
		Currency    string `json:"currency"`
		ProductData struct {
			Name string `json:"name"`
		} `json:"productData"`
		UnitAmount  string `json:"unitAmount"`
		TaxBehavior string `json:"taxBehavior"`
	} `json:"priceData"`
	Quantity int `json:"quantity"`
}

type apiEnvelope struct {
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

// CreateCheckoutSession registers a redirect payment attempt and returns the
// session id and the URL the shopper must be sent to.
func (c *Client) CreateCheckoutSession(ctx context.Context, req models.CheckoutRequest) (*models.CheckoutSession, error) {
	if req.Amount <= 0 {
		return nil, &errs.ValidationError{Field: "amount", Reason: "must be a positive integer"}
	}
	if req.OrderRef == "" {
		return nil, &errs.ValidationError{Field: "order_ref", Reason: "required"}
	}

	payload := checkoutPayload{
		Title:    "Order #" + req.OrderRef,
		Type:     "WEB_REDIRECT",
		Currency: c.cfg.Currency,
		Nature:   "ONE_OFF",
		Payer: payerPayload{
			Name:     req.Customer.Name,
			Phone:    FormatPhone(req.Customer.Phone),
			Email:    req.Customer.Email,
			AreaCode: "081",
			Country:  "JP",
		},
		Success: req.SuccessURL,
		Failure: req.FailureURL,
	}
	var item lineItem
	item.PriceData.Currency = c.cfg.Currency
	item.PriceData.ProductData.Name = "Order #" + req.OrderRef
	item.PriceData.UnitAmount = strconv.FormatInt(req.Amount, 10)
	item.PriceData.TaxBehavior = "inclusive"
	item.Quantity = 1
	payload.Items = []lineItem{item}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	respBody, status, err := c.doWithTokenRetry(ctx, http.MethodPost, "/p/v2/checkout-sessions", body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, gatewayErrorFrom(status, respBody)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, &errs.GatewayError{StatusCode: status, Detail: "malformed response: " + err.Error()}
	}
	var session struct {
		ID          string `json:"id"`
		CheckoutURL string `json:"checkoutUrl"`
	}
	if err := json.Unmarshal(envelope.Data, &session); err != nil || session.ID == "" || session.CheckoutURL == "" {
		return nil, &errs.GatewayError{StatusCode: status, Detail: "response missing session id or checkoutUrl"}
	}

	telemetry.Logger.Info("Checkout session created",
		zap.String("session_id", session.ID),
		zap.String("order_ref", req.OrderRef),
		zap.Int64("amount", req.Amount),
	)

	return &models.CheckoutSession{
		SessionID:   session.ID,
		CheckoutURL: session.CheckoutURL,
		OrderRef:    req.OrderRef,
		CreatedAt:   c.now(),
	}, nil
}

// GetPaymentStatus fetches the remote session record and normalizes its
// status. The latest entry of the payments array wins; the session-level
// status is the fallback.
func (c *Client) GetPaymentStatus(ctx context.Context, sessionID string) (*models.StatusReport, error) {
	if sessionID == "" {
		return nil, &errs.ValidationError{Field: "session_id", Reason: "required"}
	}

	respBody, status, err := c.doWithTokenRetry(ctx, http.MethodGet, "/p/checkout-sessions/"+sessionID, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, gatewayErrorFrom(status, respBody)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, &errs.GatewayError{StatusCode: status, Detail: "malformed response: " + err.Error()}
	}
	var data struct {
		Status   string `json:"status"`
		Payments []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"payments"`
	}
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return nil, &errs.GatewayError{StatusCode: status, Detail: "malformed session data: " + err.Error()}
	}

	report := &models.StatusReport{SessionID: sessionID, RawStatus: strings.ToUpper(data.Status)}
	if n := len(data.Payments); n > 0 {
		latest := data.Payments[n-1]
		report.PaymentID = latest.ID
		if latest.Status != "" {
			report.RawStatus = strings.ToUpper(latest.Status)
		}
	}
	report.Succeeded = IsSuccessStatus(report.RawStatus)
	return report, nil
}

// doWithTokenRetry performs one request; on a 401 it invalidates the token
// and repeats the call exactly once with a fresh one.
func (c *Client) doWithTokenRetry(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	respBody, status, err := c.do(ctx, method, path, body)
	if err != nil {
		return nil, 0, err
	}
	if status != http.StatusUnauthorized {
		return respBody, status, nil
	}

	telemetry.Logger.Warn("Gateway rejected token, refreshing once",
		zap.String("path", path),
	)
	c.tokens.Invalidate(ctx)
	return c.do(ctx, method, path, body)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	t, err := c.tokens.Get(ctx)
	if err != nil {
		return nil, 0, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.GatewayBaseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("x-tenant-key", c.cfg.TenantKey)
	req.Header.Set("Authorization", "Bearer "+t.Value)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.TestMode {
		req.Header.Set("IsTestMode", "true")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, 0, &errs.GatewayError{Timeout: true}
		}
		return nil, 0, &errs.GatewayError{Detail: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &errs.GatewayError{StatusCode: resp.StatusCode, Detail: "reading response: " + err.Error()}
	}
	return respBody, resp.StatusCode, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func gatewayErrorFrom(status int, body []byte) *errs.GatewayError {
	ge := &errs.GatewayError{StatusCode: status}
	var envelope apiEnvelope
	if json.Unmarshal(body, &envelope) == nil {
		ge.Code = envelope.Error
		detail := envelope.Error
		if envelope.Message != "" {
			if detail != "" {
				detail += " - "
			}
			detail += envelope.Message
		}
		ge.Detail = detail
	}
	return ge
}

// FormatPhone reduces a free-form phone number to the digits the gateway
// accepts: 11-digit numbers lose the leading 0, 10-digit numbers pass
// through, anything else falls back to a placeholder.
func FormatPhone(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	switch {
	case len(d) == 11 && d[0] == '0':
		return d[1:]
	case len(d) == 10:
		return d
	default:
		return "9012345678"
	}
}
