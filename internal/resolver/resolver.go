package resolver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kurashi-commerce/grandpay-gateway/internal/config"
	"github.com/kurashi-commerce/grandpay-gateway/internal/errs"
	"github.com/kurashi-commerce/grandpay-gateway/internal/interfaces"
	"github.com/kurashi-commerce/grandpay-gateway/internal/models"
	"github.com/kurashi-commerce/grandpay-gateway/internal/repository"
	"github.com/kurashi-commerce/grandpay-gateway/internal/telemetry"
)

// CheckoutData is the locally known order content at checkout initiation.
type CheckoutData struct {
	OriginalAmount int64
	FinalAmount    int64
	PointsUsed     int64
	PointsDiscount int64
	Customer       models.Customer
	MemberID       int64
	Cart           []models.CartItem
}

// OrderHandle identifies the order a checkout attempt belongs to: a permanent
// id when one already exists, otherwise a minted temporary id.
type OrderHandle struct {
	OrderID int64
	TempID  string
}

// Ref is the correlation key carried through redirect URLs.
func (h OrderHandle) Ref() string {
	if h.OrderID > 0 {
		return strconv.FormatInt(h.OrderID, 10)
	}
	return h.TempID
}

// Resolver maps between local order identity and remote session/payment
// identifiers, including the temp-id window before a permanent order exists.
type Resolver struct {
	orders  interfaces.OrderRepository
	members interfaces.MemberRepository
	temps   interfaces.TempStore
	now     func() time.Time
	randInt func(n int) int
}

func NewResolver(orders interfaces.OrderRepository, members interfaces.MemberRepository, temps interfaces.TempStore) *Resolver {
	return &Resolver{
		orders:  orders,
		members: members,
		temps:   temps,
		now:     time.Now,
		randInt: rand.Intn,
	}
}

// Begin finds the in-progress order a new checkout belongs to, or mints a
// temporary id when none exists yet. Lookup order: explicit posted id, then
// the customer's most recent pending order, then a fresh temp id.
func (r *Resolver) Begin(ctx context.Context, postedOrderID int64, customer models.Customer) (OrderHandle, error) {
	if postedOrderID > 0 {
		o, err := r.orders.GetByID(ctx, postedOrderID)
		if err == nil && !o.Status.Terminal() {
			return OrderHandle{OrderID: o.ID}, nil
		}
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return OrderHandle{}, err
		}
	}

	if customer.Email != "" {
		o, err := r.orders.FindLatestPendingByEmail(ctx, customer.Email)
		if err == nil && o.SessionID == "" && r.now().Sub(o.CreatedAt) <= config.RecentOrderWindow {
			telemetry.Logger.Info("Reusing recent pending order",
				zap.Int64("order_id", o.ID),
				zap.String("email", customer.Email),
			)
			return OrderHandle{OrderID: o.ID}, nil
		}
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return OrderHandle{}, err
		}
	}

	tempID := fmt.Sprintf("%s%d_%d", models.TempIDPrefix, r.now().Unix(), 1000+r.randInt(9000))
	telemetry.Logger.Info("Minted temporary order id", zap.String("temp_id", tempID))
	return OrderHandle{TempID: tempID}, nil
}

// SaveCheckout persists a freshly created remote session against the handle's
// order. Temp-id checkouts are held in the temp store and promoted to a
// permanent order immediately; the returned id is always permanent.
func (r *Resolver) SaveCheckout(ctx context.Context, h OrderHandle, session *models.CheckoutSession, data CheckoutData) (int64, error) {
	if h.OrderID > 0 {
		err := r.orders.UpdateCheckout(ctx, h.OrderID, models.CheckoutUpdate{
			SessionID:      session.SessionID,
			CheckoutURL:    session.CheckoutURL,
			OriginalAmount: data.OriginalAmount,
			PointsUsed:     data.PointsUsed,
			PointsDiscount: data.PointsDiscount,
			FinalAmount:    data.FinalAmount,
			Customer:       data.Customer,
			MemberID:       data.MemberID,
			Cart:           data.Cart,
		})
		return h.OrderID, err
	}

	held := &models.TempCheckout{
		TempID:         h.TempID,
		SessionID:      session.SessionID,
		CheckoutURL:    session.CheckoutURL,
		OriginalAmount: data.OriginalAmount,
		FinalAmount:    data.FinalAmount,
		PointsUsed:     data.PointsUsed,
		PointsDiscount: data.PointsDiscount,
		Customer:       data.Customer,
		MemberID:       data.MemberID,
		Cart:           data.Cart,
		CreatedAt:      r.now(),
	}
	if err := r.temps.SaveTempCheckout(ctx, held); err != nil {
		return 0, err
	}

	orderID, err := r.PromoteTemp(ctx, h.TempID, held)
	if err != nil {
		return 0, err
	}
	held.OrderID = orderID
	if err := r.temps.SaveTempCheckout(ctx, held); err != nil {
		telemetry.Logger.Warn("Failed to record promoted order on temp state",
			zap.String("temp_id", h.TempID),
			zap.Error(err),
		)
	}
	return orderID, nil
}

// PromoteTemp converges a temp-id checkout onto a permanent order. The local
// order is sometimes created by another part of the checkout flow with
// slightly different timing, so candidates are ranked instead of assuming
// exact identity: recently created session-less orders first, then
// session-less orders for the same email; within a group the first candidate
// whose amount is inside the tolerance wins, else the most recent. When no
// candidate exists a permanent order is created from the held data.
func (r *Resolver) PromoteTemp(ctx context.Context, tempID string, held *models.TempCheckout) (int64, error) {
	recent, err := r.orders.FindUnattachedSince(ctx, r.now().Add(-config.RecentOrderWindow), 10)
	if err != nil {
		return 0, err
	}
	candidate := pickBestMatch(recent, held.FinalAmount)
	if candidate == nil && held.Customer.Email != "" {
		byEmail, err := r.orders.FindUnattachedByEmail(ctx, held.Customer.Email, 5)
		if err != nil {
			return 0, err
		}
		candidate = pickBestMatch(byEmail, held.FinalAmount)
	}

	if candidate != nil {
		telemetry.Logger.Info("Promoting temp checkout onto existing order",
			zap.String("temp_id", tempID),
			zap.Int64("order_id", candidate.ID),
		)
		err := r.orders.UpdateCheckout(ctx, candidate.ID, models.CheckoutUpdate{
			TempID:         tempID,
			SessionID:      held.SessionID,
			CheckoutURL:    held.CheckoutURL,
			OriginalAmount: held.OriginalAmount,
			PointsUsed:     held.PointsUsed,
			PointsDiscount: held.PointsDiscount,
			FinalAmount:    held.FinalAmount,
			Customer:       held.Customer,
			MemberID:       held.MemberID,
			Cart:           held.Cart,
		})
		if err != nil {
			return 0, err
		}
		return candidate.ID, nil
	}

	return r.createFromTemp(ctx, tempID, held)
}

// pickBestMatch returns the first order whose stored amount is within the
// configured tolerance of the expected amount, falling back to the most
// recent candidate.
func pickBestMatch(candidates []*models.Order, expectedAmount int64) *models.Order {
	for _, o := range candidates {
		if absDiff(o.FinalAmount, expectedAmount) <= config.AmountTolerance {
			return o
		}
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return nil
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}

func (r *Resolver) createFromTemp(ctx context.Context, tempID string, held *models.TempCheckout) (int64, error) {
	o := &models.Order{
		TempID:         tempID,
		SessionID:      held.SessionID,
		CheckoutURL:    held.CheckoutURL,
		Status:         models.StatusPending,
		OriginalAmount: held.OriginalAmount,
		PointsUsed:     held.PointsUsed,
		PointsDiscount: held.PointsDiscount,
		FinalAmount:    held.FinalAmount,
		Customer:       held.Customer,
		MemberID:       held.MemberID,
		Cart:           held.Cart,
	}
	id, err := r.orders.Create(ctx, o)
	if err != nil {
		return 0, err
	}
	telemetry.Logger.Info("Created permanent order for temp checkout",
		zap.String("temp_id", tempID),
		zap.Int64("order_id", id),
	)
	return id, nil
}

// FindBySessionID returns (nil, nil) when no order matches.
func (r *Resolver) FindBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	if sessionID == "" {
		return nil, nil
	}
	o, err := r.orders.GetBySessionID(ctx, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

// FindByPaymentID returns (nil, nil) when no order matches.
func (r *Resolver) FindByPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	if paymentID == "" {
		return nil, nil
	}
	o, err := r.orders.GetByPaymentID(ctx, paymentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

// ResolveCallbackRef locates the order a redirect callback refers to. The ref
// is either a permanent id or a temp id; temp ids resolve through the
// persisted mapping first, then the held temp state (creating the permanent
// order if the mapping never happened).
func (r *Resolver) ResolveCallbackRef(ctx context.Context, ref string) (*models.Order, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		o, err := r.orders.GetByID(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &errs.ResolutionError{Ref: ref}
		}
		return o, err
	}

	if !models.IsTempID(ref) {
		return nil, &errs.ResolutionError{Ref: ref}
	}

	o, err := r.orders.GetByTempID(ctx, ref)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	held, err := r.temps.GetTempCheckout(ctx, ref)
	if err != nil {
		if errors.Is(err, repository.ErrTempNotFound) {
			return nil, &errs.ResolutionError{Ref: ref}
		}
		return nil, err
	}
	if held.OrderID > 0 {
		o, err := r.orders.GetByID(ctx, held.OrderID)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}

	id, err := r.createFromTemp(ctx, ref, held)
	if err != nil {
		return nil, err
	}
	return r.orders.GetByID(ctx, id)
}

// CreateFromWebhook mints a permanent order from webhook-only data: the
// webhook-first path, where payment confirmation arrives before any local
// record exists. The member is matched by recipient email when possible.
// Per-item pricing is absent from the payload, so the total is divided evenly
// across product names.
func (r *Resolver) CreateFromWebhook(ctx context.Context, evt models.NotificationEvent) (*models.Order, error) {
	var memberID int64
	if evt.Email != "" {
		if m, err := r.members.GetByEmail(ctx, evt.Email); err == nil {
			memberID = m.ID
		}
	}

	var cart []models.CartItem
	if len(evt.ProductNames) > 0 {
		share := evt.Amount / int64(len(evt.ProductNames))
		for _, name := range evt.ProductNames {
			cart = append(cart, models.CartItem{Name: name, Price: share, Quantity: 1})
		}
	} else {
		cart = []models.CartItem{{Name: "GrandPay Purchase", Price: evt.Amount, Quantity: 1}}
	}

	o := &models.Order{
		SessionID:      evt.SessionID,
		PaymentID:      evt.PaymentID,
		Status:         models.StatusPending,
		OriginalAmount: evt.Amount,
		FinalAmount:    evt.Amount,
		Customer:       models.Customer{Name: evt.Recipient, Email: evt.Email},
		MemberID:       memberID,
		Cart:           cart,
	}
	id, err := r.orders.Create(ctx, o)
	if err != nil {
		return nil, err
	}
	telemetry.Logger.Info("Created order from webhook payload",
		zap.Int64("order_id", id),
		zap.String("session_id", evt.SessionID),
		zap.String("payment_id", evt.PaymentID),
	)
	return r.orders.GetByID(ctx, id)
}
