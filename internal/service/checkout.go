package service

import (
	"context"
	"net/url"

	"go.uber.org/zap"

	"github.com/kurashi-commerce/grandpay-gateway/internal/auth"
	"github.com/kurashi-commerce/grandpay-gateway/internal/config"
	"github.com/kurashi-commerce/grandpay-gateway/internal/errs"
	"github.com/kurashi-commerce/grandpay-gateway/internal/models"
	"github.com/kurashi-commerce/grandpay-gateway/internal/points"
	"github.com/kurashi-commerce/grandpay-gateway/internal/resolver"
	"github.com/kurashi-commerce/grandpay-gateway/internal/telemetry"
)

// SessionCreator is the part of the gateway client checkout initiation needs.
type SessionCreator interface {
	CreateCheckoutSession(ctx context.Context, req models.CheckoutRequest) (*models.CheckoutSession, error)
}

type CheckoutInput struct {
	OrderID    int64             `json:"order_id"`
	Amount     int64             `json:"amount"`
	UsedPoints int64             `json:"used_points"`
	MemberID   int64             `json:"member_id"`
	Customer   models.Customer   `json:"customer"`
	Cart       []models.CartItem `json:"cart"`
}

type CheckoutResult struct {
	OrderID     int64  `json:"order_id"`
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

// CheckoutService runs checkout initiation: reserve the points discount,
// establish the local order, create the remote session, persist the link.
// A gateway failure here mutates nothing: the reservation is only ever
// committed from a confirmed completion.
type CheckoutService struct {
	ledger   *points.Ledger
	resolver *resolver.Resolver
	gateway  SessionCreator
	cfg      *config.Config
}

func NewCheckoutService(ledger *points.Ledger, res *resolver.Resolver, gw SessionCreator, cfg *config.Config) *CheckoutService {
	return &CheckoutService{ledger: ledger, resolver: res, gateway: gw, cfg: cfg}
}

func (s *CheckoutService) Start(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	if in.Amount <= 0 {
		return nil, &errs.ValidationError{Field: "amount", Reason: "must be a positive integer"}
	}
	if in.Customer.Email == "" {
		return nil, &errs.ValidationError{Field: "customer.email", Reason: "required"}
	}

	resv, err := s.ledger.Reserve(ctx, in.MemberID, in.UsedPoints, in.Amount)
	if err != nil {
		return nil, err
	}

	handle, err := s.resolver.Begin(ctx, in.OrderID, in.Customer)
	if err != nil {
		return nil, err
	}
	ref := handle.Ref()

	sessionCheck, err := auth.MintCallbackToken(s.cfg.CallbackSecret, ref)
	if err != nil {
		return nil, err
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, models.CheckoutRequest{
		OrderRef:   ref,
		Amount:     resv.FinalAmount,
		Customer:   in.Customer,
		SuccessURL: s.callbackURL("success", ref, sessionCheck),
		FailureURL: s.callbackURL("failure", ref, sessionCheck),
	})
	if err != nil {
		return nil, err
	}

	orderID, err := s.resolver.SaveCheckout(ctx, handle, session, resolver.CheckoutData{
		OriginalAmount: in.Amount,
		FinalAmount:    resv.FinalAmount,
		PointsUsed:     resv.Points,
		PointsDiscount: resv.Discount,
		Customer:       in.Customer,
		MemberID:       in.MemberID,
		Cart:           in.Cart,
	})
	if err != nil {
		return nil, err
	}

	telemetry.Logger.Info("Checkout started",
		zap.Int64("order_id", orderID),
		zap.String("session_id", session.SessionID),
		zap.Int64("amount", resv.FinalAmount),
		zap.Int64("points_used", resv.Points),
	)

	return &CheckoutResult{
		OrderID:     orderID,
		SessionID:   session.SessionID,
		CheckoutURL: session.CheckoutURL,
	}, nil
}

func (s *CheckoutService) callbackURL(result, ref, sessionCheck string) string {
	return appendQuery(s.cfg.PublicBaseURL+"/payment/callback", url.Values{
		"grandpay_result": {result},
		"order_id":        {ref},
		"session_check":   {sessionCheck},
	})
}
