package service

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kurashi-commerce/grandpay-gateway/internal/config"
	"github.com/kurashi-commerce/grandpay-gateway/internal/interfaces"
	"github.com/kurashi-commerce/grandpay-gateway/internal/models"
	"github.com/kurashi-commerce/grandpay-gateway/internal/points"
	"github.com/kurashi-commerce/grandpay-gateway/internal/resolver"
	"github.com/kurashi-commerce/grandpay-gateway/internal/telemetry"
)

// StatusFetcher is the part of the gateway client the reconciler needs.
type StatusFetcher interface {
	GetPaymentStatus(ctx context.Context, sessionID string) (*models.StatusReport, error)
}

// RedirectOutcome is where the shopper's browser gets sent after a callback.
// Replays of an already-decided order produce the same outcome as the
// original delivery.
type RedirectOutcome struct {
	URL     string
	OrderID int64
}

// Reconciler owns every payment-state transition. The three notification
// adapters feed it normalized events; it alone decides completion or failure,
// and each decision is applied at most once via the repository's guarded
// transition.
type Reconciler struct {
	orders    interfaces.OrderRepository
	ledger    *points.Ledger
	gateway   StatusFetcher
	resolver  *resolver.Resolver
	locker    interfaces.Locker
	events    interfaces.EventPublisher
	notifier  interfaces.Notifier
	inventory interfaces.Inventory
	cfg       *config.Config
	now       func() time.Time
}

func NewReconciler(
	orders interfaces.OrderRepository,
	ledger *points.Ledger,
	statusFetcher StatusFetcher,
	res *resolver.Resolver,
	locker interfaces.Locker,
	events interfaces.EventPublisher,
	notifier interfaces.Notifier,
	inventory interfaces.Inventory,
	cfg *config.Config,
) *Reconciler {
	return &Reconciler{
		orders:    orders,
		ledger:    ledger,
		gateway:   statusFetcher,
		resolver:  res,
		locker:    locker,
		events:    events,
		notifier:  notifier,
		inventory: inventory,
		cfg:       cfg,
		now:       time.Now,
	}
}

// HandleRedirect processes the browser callback. The redirect outcome is
// never trusted on its own: a success callback only moves the order to
// processing, and completion requires the gateway to confirm a succeeded
// status, because the shopper controls the redirect URL.
func (r *Reconciler) HandleRedirect(ctx context.Context, orderRef string, result models.NotificationResult) (*RedirectOutcome, error) {
	order, err := r.resolver.ResolveCallbackRef(ctx, orderRef)
	if err != nil {
		return nil, err
	}

	locked, err := r.locker.Acquire(ctx, strconv.FormatInt(order.ID, 10))
	if err != nil {
		return nil, err
	}
	if !locked {
		// Another channel is reconciling this order right now; report the
		// current decision without touching anything.
		telemetry.Logger.Info("Order busy, replaying stored outcome",
			zap.Int64("order_id", order.ID),
		)
		return r.replayOutcome(order), nil
	}
	defer r.locker.Release(ctx, strconv.FormatInt(order.ID, 10))

	if order.Status.Terminal() {
		telemetry.DuplicateDeliveries.Inc()
		telemetry.Logger.Info("Duplicate redirect absorbed",
			zap.Int64("order_id", order.ID),
			zap.String("status", string(order.Status)),
		)
		return r.replayOutcome(order), nil
	}

	if result == models.ResultFailure {
		if err := r.fail(ctx, order, "payment failed at gateway redirect"); err != nil {
			return nil, err
		}
		return r.cartErrorOutcome(order.ID, "Payment failed."), nil
	}

	if order.SessionID == "" {
		telemetry.Logger.Error("Success callback without a checkout session",
			zap.Int64("order_id", order.ID),
		)
		if _, err := r.orders.Transition(ctx, order.ID,
			[]models.PaymentStatus{models.StatusPending, models.StatusProcessing}, models.StatusError); err != nil {
			return nil, err
		}
		return r.cartErrorOutcome(order.ID, "Checkout session not found."), nil
	}

	if _, err := r.orders.Transition(ctx, order.ID,
		[]models.PaymentStatus{models.StatusPending}, models.StatusProcessing); err != nil {
		return nil, err
	}
	if err := r.orders.MarkCallbackReceived(ctx, order.ID, r.now()); err != nil {
		return nil, err
	}

	report, err := r.gateway.GetPaymentStatus(ctx, order.SessionID)
	if err != nil {
		// The payment may still be in flight remotely; keep the order
		// retryable rather than failing it on a status-check error.
		telemetry.Logger.Warn("Status confirmation failed, order stays pending",
			zap.Int64("order_id", order.ID),
			zap.Error(err),
		)
		if _, terr := r.orders.Transition(ctx, order.ID,
			[]models.PaymentStatus{models.StatusProcessing}, models.StatusPending); terr != nil {
			return nil, terr
		}
		return r.completeOutcome(order.ID), nil
	}

	if report.Succeeded {
		if err := r.complete(ctx, order, report.PaymentID); err != nil {
			return nil, err
		}
		return r.completeOutcome(order.ID), nil
	}

	telemetry.Logger.Info("Gateway status not yet terminal, order stays pending",
		zap.Int64("order_id", order.ID),
		zap.String("raw_status", report.RawStatus),
	)
	if _, err := r.orders.Transition(ctx, order.ID,
		[]models.PaymentStatus{models.StatusProcessing}, models.StatusPending); err != nil {
		return nil, err
	}
	if err := r.orders.SetPendingReason(ctx, order.ID, report.RawStatus); err != nil {
		return nil, err
	}
	return r.completeOutcome(order.ID), nil
}

// HandleWebhook processes a normalized webhook event from either the REST or
// the legacy channel. Internal failures are logged and swallowed by the
// adapters; only the reconciliation itself cares about them.
func (r *Reconciler) HandleWebhook(ctx context.Context, evt models.NotificationEvent) error {
	if evt.Result == models.ResultFailure {
		return r.webhookFailure(ctx, evt)
	}

	// The webhook carries the remote's own status; anything but COMPLETED is
	// an intermediate event and a later delivery will settle it.
	if strings.ToUpper(evt.RawStatus) != "COMPLETED" {
		telemetry.Logger.Info("Webhook ignored, payment not completed",
			zap.String("session_id", evt.SessionID),
			zap.String("raw_status", evt.RawStatus),
		)
		return nil
	}

	order, err := r.findWebhookOrder(ctx, evt)
	if err != nil {
		return err
	}
	if order == nil {
		order, err = r.resolver.CreateFromWebhook(ctx, evt)
		if err != nil {
			return err
		}
	}

	lockKey := strconv.FormatInt(order.ID, 10)
	locked, err := r.locker.Acquire(ctx, lockKey)
	if err != nil {
		return err
	}
	if !locked {
		telemetry.Logger.Info("Order busy, webhook will rely on redelivery",
			zap.Int64("order_id", order.ID),
		)
		return nil
	}
	defer r.locker.Release(ctx, lockKey)

	if order.Status.Terminal() {
		telemetry.DuplicateDeliveries.Inc()
		return nil
	}
	return r.complete(ctx, order, evt.PaymentID)
}

func (r *Reconciler) webhookFailure(ctx context.Context, evt models.NotificationEvent) error {
	order, err := r.findWebhookOrder(ctx, evt)
	if err != nil {
		return err
	}
	if order == nil {
		telemetry.Logger.Warn("Failure webhook for unknown order",
			zap.String("session_id", evt.SessionID),
			zap.String("payment_id", evt.PaymentID),
		)
		return nil
	}

	lockKey := strconv.FormatInt(order.ID, 10)
	locked, err := r.locker.Acquire(ctx, lockKey)
	if err != nil {
		return err
	}
	if !locked {
		return nil
	}
	defer r.locker.Release(ctx, lockKey)

	reason := evt.ErrorDetail
	if reason == "" {
		reason = "gateway reported payment failure"
	}
	return r.fail(ctx, order, reason)
}

func (r *Reconciler) findWebhookOrder(ctx context.Context, evt models.NotificationEvent) (*models.Order, error) {
	order, err := r.resolver.FindBySessionID(ctx, evt.SessionID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		order, err = r.resolver.FindByPaymentID(ctx, evt.PaymentID)
		if err != nil {
			return nil, err
		}
	}
	return order, nil
}

// complete applies the terminal success transition. The guarded update is the
// idempotency point: losing it means another channel already decided, and
// no side effect runs twice.
func (r *Reconciler) complete(ctx context.Context, order *models.Order, paymentID string) error {
	rows, err := r.orders.Transition(ctx, order.ID,
		[]models.PaymentStatus{models.StatusPending, models.StatusProcessing}, models.StatusCompleted)
	if err != nil {
		return err
	}
	if rows == 0 {
		telemetry.DuplicateDeliveries.Inc()
		telemetry.Logger.Info("Completion already applied",
			zap.Int64("order_id", order.ID),
		)
		return nil
	}

	now := r.now()
	if err := r.orders.SetCompleted(ctx, order.ID, paymentID, now); err != nil {
		telemetry.Logger.Error("Failed to record completion fields",
			zap.Int64("order_id", order.ID),
			zap.Error(err),
		)
	}
	telemetry.StateTransitions.WithLabelValues(string(models.StatusCompleted)).Inc()
	telemetry.Logger.Info("Order completed",
		zap.Int64("order_id", order.ID),
		zap.String("payment_id", paymentID),
	)

	// Side effects run once, after the decision is committed; their failures
	// are logged and never unwind the completed payment.
	if err := r.ledger.Commit(ctx, order); err != nil {
		telemetry.Logger.Error("Points commit failed",
			zap.Int64("order_id", order.ID),
			zap.Error(err),
		)
	}
	if r.inventory != nil {
		if err := r.inventory.DecrementStock(ctx, order.Cart); err != nil {
			telemetry.Logger.Error("Inventory decrement failed",
				zap.Int64("order_id", order.ID),
				zap.Error(err),
			)
		}
	}
	if r.notifier != nil {
		completed := *order
		completed.PaymentID = paymentID
		if err := r.notifier.SendCompletionMail(ctx, &completed); err != nil {
			telemetry.Logger.Error("Completion mail dispatch failed",
				zap.Int64("order_id", order.ID),
				zap.Error(err),
			)
		}
	}
	r.publishStateChange(ctx, order, models.StatusCompleted, paymentID)
	return nil
}

// fail applies the terminal failure transition and rolls the points back,
// once, using the amounts persisted on the order.
func (r *Reconciler) fail(ctx context.Context, order *models.Order, reason string) error {
	rows, err := r.orders.Transition(ctx, order.ID,
		[]models.PaymentStatus{models.StatusPending, models.StatusProcessing, models.StatusError}, models.StatusFailed)
	if err != nil {
		return err
	}
	if rows == 0 {
		telemetry.DuplicateDeliveries.Inc()
		return nil
	}

	if err := r.orders.SetFailed(ctx, order.ID, reason, r.now()); err != nil {
		telemetry.Logger.Error("Failed to record failure fields",
			zap.Int64("order_id", order.ID),
			zap.Error(err),
		)
	}
	telemetry.StateTransitions.WithLabelValues(string(models.StatusFailed)).Inc()
	telemetry.Logger.Info("Order failed",
		zap.Int64("order_id", order.ID),
		zap.String("reason", reason),
	)

	if err := r.ledger.Rollback(ctx, order); err != nil {
		telemetry.Logger.Error("Points rollback failed",
			zap.Int64("order_id", order.ID),
			zap.Error(err),
		)
	}
	r.publishStateChange(ctx, order, models.StatusFailed, order.PaymentID)
	return nil
}

func (r *Reconciler) publishStateChange(ctx context.Context, order *models.Order, to models.PaymentStatus, paymentID string) {
	if r.events == nil {
		return
	}
	evt := models.StateChangedEvent{
		EventID:       uuid.NewString(),
		OrderID:       order.ID,
		State:         to,
		PreviousState: order.Status,
		PaymentID:     paymentID,
		SessionID:     order.SessionID,
		Amount:        order.FinalAmount,
		Timestamp:     r.now(),
	}
	if err := r.events.PublishStateChange(ctx, evt); err != nil {
		telemetry.Logger.Error("State change event publish failed",
			zap.Int64("order_id", order.ID),
			zap.Error(err),
		)
	}
}

func (r *Reconciler) replayOutcome(order *models.Order) *RedirectOutcome {
	if order.Status == models.StatusFailed {
		return r.cartErrorOutcome(order.ID, "This order has already been processed.")
	}
	return r.completeOutcome(order.ID)
}

func (r *Reconciler) completeOutcome(orderID int64) *RedirectOutcome {
	u := appendQuery(r.cfg.CompletePageURL, url.Values{"order_id": {strconv.FormatInt(orderID, 10)}})
	return &RedirectOutcome{URL: u, OrderID: orderID}
}

func (r *Reconciler) cartErrorOutcome(orderID int64, message string) *RedirectOutcome {
	u := appendQuery(r.cfg.CartPageURL, url.Values{"grandpay_error": {message}})
	return &RedirectOutcome{URL: u, OrderID: orderID}
}

func appendQuery(base string, add url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	for k, vs := range add {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
