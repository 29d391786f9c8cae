package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurashi-commerce/grandpay-gateway/internal/config"
	"github.com/kurashi-commerce/grandpay-gateway/internal/models"
	"github.com/kurashi-commerce/grandpay-gateway/internal/points"
	"github.com/kurashi-commerce/grandpay-gateway/internal/repository"
	"github.com/kurashi-commerce/grandpay-gateway/internal/resolver"
)

type stubStatusFetcher struct {
	GetPaymentStatusFunc func(ctx context.Context, sessionID string) (*models.StatusReport, error)
	calls                int
}

func (s *stubStatusFetcher) GetPaymentStatus(ctx context.Context, sessionID string) (*models.StatusReport, error) {
	s.calls++
	if s.GetPaymentStatusFunc != nil {
		return s.GetPaymentStatusFunc(ctx, sessionID)
	}
	return &models.StatusReport{SessionID: sessionID, RawStatus: "COMPLETED", PaymentID: "pay_1", Succeeded: true}, nil
}

type recordingCollaborators struct {
	published []models.StateChangedEvent
	mailed    []*models.Order
	stock     [][]models.CartItem
}

func (r *recordingCollaborators) PublishStateChange(ctx context.Context, evt models.StateChangedEvent) error {
	r.published = append(r.published, evt)
	return nil
}

func (r *recordingCollaborators) SendCompletionMail(ctx context.Context, order *models.Order) error {
	r.mailed = append(r.mailed, order)
	return nil
}

func (r *recordingCollaborators) DecrementStock(ctx context.Context, items []models.CartItem) error {
	r.stock = append(r.stock, items)
	return nil
}

type reconcilerFixture struct {
	reconciler *Reconciler
	orders     *repository.MemoryOrderRepository
	members    *repository.MemoryMemberRepository
	gateway    *stubStatusFetcher
	side       *recordingCollaborators
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	f := &reconcilerFixture{
		orders:  repository.NewMemoryOrderRepository(),
		members: repository.NewMemoryMemberRepository(&models.Member{ID: 7, Email: "taro@example.jp", Points: 5000}),
		gateway: &stubStatusFetcher{},
		side:    &recordingCollaborators{},
	}
	cfg := &config.Config{
		PointRate:       1,
		MinAmount:       1400,
		CompletePageURL: "https://shop.example.jp/checkout/complete",
		CartPageURL:     "https://shop.example.jp/cart",
	}
	temps := repository.NewMemoryTempStore()
	ledger := points.NewLedger(f.members, cfg)
	res := resolver.NewResolver(f.orders, f.members, temps)
	f.reconciler = NewReconciler(f.orders, ledger, f.gateway, res, repository.NewMemoryLocker(),
		f.side, f.side, f.side, cfg)
	return f
}

func (f *reconcilerFixture) addOrder(t *testing.T, o *models.Order) int64 {
	t.Helper()
	id, err := f.orders.Create(context.Background(), o)
	require.NoError(t, err)
	return id
}

func pendingOrder() *models.Order {
	return &models.Order{
		Status:      models.StatusPending,
		SessionID:   "cs_1",
		FinalAmount: 2000,
		PointsUsed:  500,
		MemberID:    7,
		Customer:    models.Customer{Name: "Taro", Email: "taro@example.jp"},
		Cart:        []models.CartItem{{ProductID: 11, Name: "Tea", Price: 2000, Quantity: 1}},
	}
}

func successEvent() models.NotificationEvent {
	return models.NotificationEvent{
		Result:    models.ResultSuccess,
		RawStatus: "COMPLETED",
		SessionID: "cs_1",
		PaymentID: "pay_1",
		Amount:    2000,
	}
}

func TestWebhookCompletesOrder(t *testing.T) {
	f := newReconcilerFixture(t)
	id := f.addOrder(t, pendingOrder())

	require.NoError(t, f.reconciler.HandleWebhook(context.Background(), successEvent()))

	o, err := f.orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, o.Status)
	assert.Equal(t, "pay_1", o.PaymentID)
	assert.NotNil(t, o.CompletedAt)

	m, err := f.members.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(4500), m.Points, "points committed")

	require.Len(t, f.side.mailed, 1)
	assert.Equal(t, "pay_1", f.side.mailed[0].PaymentID)
	require.Len(t, f.side.stock, 1)
	require.Len(t, f.side.published, 1)
	assert.Equal(t, models.StatusCompleted, f.side.published[0].State)
	assert.Equal(t, id, f.side.published[0].OrderID)
}

func TestDuplicateWebhooksAbsorbed(t *testing.T) {
	f := newReconcilerFixture(t)
	id := f.addOrder(t, pendingOrder())

	require.NoError(t, f.reconciler.HandleWebhook(context.Background(), successEvent()))
	require.NoError(t, f.reconciler.HandleWebhook(context.Background(), successEvent()))
	require.NoError(t, f.reconciler.HandleWebhook(context.Background(), successEvent()))

	o, err := f.orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, o.Status)

	m, err := f.members.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(4500), m.Points, "points committed exactly once")
	assert.Len(t, f.side.mailed, 1, "one completion mail")
	assert.Len(t, f.side.stock, 1, "one stock decrement")
	assert.Len(t, f.side.published, 1, "one state event")
}

func TestWebhookIgnoresIntermediateStatus(t *testing.T) {
	f := newReconcilerFixture(t)
	id := f.addOrder(t, pendingOrder())

	evt := successEvent()
	evt.RawStatus = "PENDING"
	require.NoError(t, f.reconciler.HandleWebhook(context.Background(), evt))

	o, err := f.orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, o.Status)
	assert.Empty(t, f.side.mailed)
}

func TestWebhookCreatesOrderWhenNoneExists(t *testing.T) {
	f := newReconcilerFixture(t)

	evt := successEvent()
	evt.Email = "taro@example.jp"
	evt.ProductNames = []string{"Tea", "Cups"}
	require.NoError(t, f.reconciler.HandleWebhook(context.Background(), evt))

	o, err := f.orders.GetBySessionID(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, o.Status)
	assert.Equal(t, int64(7), o.MemberID)
	require.Len(t, o.Cart, 2)
}

func TestWebhookFailureRollsBackOnce(t *testing.T) {
	f := newReconcilerFixture(t)
	id := f.addOrder(t, pendingOrder())

	evt := models.NotificationEvent{
		Result:      models.ResultFailure,
		SessionID:   "cs_1",
		ErrorDetail: "card declined",
	}
	require.NoError(t, f.reconciler.HandleWebhook(context.Background(), evt))
	require.NoError(t, f.reconciler.HandleWebhook(context.Background(), evt))

	o, err := f.orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, o.Status)
	assert.Equal(t, "card declined", o.FailureReason)
	assert.NotNil(t, o.FailedAt)

	m, err := f.members.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(5500), m.Points, "points restored exactly once")

	require.Len(t, f.side.published, 1)
	assert.Equal(t, models.StatusFailed, f.side.published[0].State)
}

func TestWebhookFailureForUnknownOrderIsIgnored(t *testing.T) {
	f := newReconcilerFixture(t)

	err := f.reconciler.HandleWebhook(context.Background(), models.NotificationEvent{
		Result:    models.ResultFailure,
		SessionID: "cs_ghost",
	})
	require.NoError(t, err)
	assert.Empty(t, f.side.published)
}

func TestRedirectSuccessConfirmsWithGateway(t *testing.T) {
	f := newReconcilerFixture(t)
	id := f.addOrder(t, pendingOrder())

	outcome, err := f.reconciler.HandleRedirect(context.Background(), "1", models.ResultSuccess)
	require.NoError(t, err)
	assert.Equal(t, 1, f.gateway.calls, "completion requires a status confirmation")
	assert.Contains(t, outcome.URL, "https://shop.example.jp/checkout/complete")
	assert.Contains(t, outcome.URL, "order_id=1")

	o, err := f.orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, o.Status)
	assert.NotNil(t, o.CallbackReceivedAt)
	require.Len(t, f.side.mailed, 1)
}

func TestRedirectSuccessWithoutConfirmationStaysPending(t *testing.T) {
	f := newReconcilerFixture(t)
	id := f.addOrder(t, pendingOrder())

	f.gateway.GetPaymentStatusFunc = func(ctx context.Context, sessionID string) (*models.StatusReport, error) {
		return &models.StatusReport{SessionID: sessionID, RawStatus: "REQUIRES_ACTION"}, nil
	}

	outcome, err := f.reconciler.HandleRedirect(context.Background(), "1", models.ResultSuccess)
	require.NoError(t, err)
	assert.Contains(t, outcome.URL, "checkout/complete")

	o, err := f.orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, o.Status, "a success redirect alone never completes")
	assert.Equal(t, "REQUIRES_ACTION", o.PendingReason)
	assert.Empty(t, f.side.mailed)
}

func TestRedirectStatusCheckErrorKeepsOrderRetryable(t *testing.T) {
	f := newReconcilerFixture(t)
	id := f.addOrder(t, pendingOrder())

	f.gateway.GetPaymentStatusFunc = func(ctx context.Context, sessionID string) (*models.StatusReport, error) {
		return nil, errors.New("gateway unreachable")
	}

	_, err := f.reconciler.HandleRedirect(context.Background(), "1", models.ResultSuccess)
	require.NoError(t, err)

	o, err := f.orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, o.Status)
	assert.Empty(t, f.side.mailed)
}

func TestRedirectFailureFailsOrder(t *testing.T) {
	f := newReconcilerFixture(t)
	id := f.addOrder(t, pendingOrder())

	outcome, err := f.reconciler.HandleRedirect(context.Background(), "1", models.ResultFailure)
	require.NoError(t, err)
	assert.Contains(t, outcome.URL, "https://shop.example.jp/cart")
	assert.Contains(t, outcome.URL, "grandpay_error=")
	assert.Equal(t, 0, f.gateway.calls)

	o, err := f.orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, o.Status)

	m, err := f.members.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(5500), m.Points, "points restored")
}

func TestRedirectAfterWebhookReplaysOutcome(t *testing.T) {
	f := newReconcilerFixture(t)
	f.addOrder(t, pendingOrder())

	require.NoError(t, f.reconciler.HandleWebhook(context.Background(), successEvent()))
	outcome, err := f.reconciler.HandleRedirect(context.Background(), "1", models.ResultSuccess)
	require.NoError(t, err)

	assert.Contains(t, outcome.URL, "checkout/complete")
	assert.Equal(t, 0, f.gateway.calls, "decided orders skip the status check")
	assert.Len(t, f.side.mailed, 1, "no second completion mail")

	m, err := f.members.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(4500), m.Points)
}

func TestRedirectToFailedOrderReportsProcessed(t *testing.T) {
	f := newReconcilerFixture(t)
	f.addOrder(t, pendingOrder())

	_, err := f.reconciler.HandleRedirect(context.Background(), "1", models.ResultFailure)
	require.NoError(t, err)

	outcome, err := f.reconciler.HandleRedirect(context.Background(), "1", models.ResultSuccess)
	require.NoError(t, err)
	assert.Contains(t, outcome.URL, "grandpay_error=")
	assert.True(t, strings.Contains(outcome.URL, "already"))
}

func TestRedirectWithoutSessionMarksError(t *testing.T) {
	f := newReconcilerFixture(t)
	o := pendingOrder()
	o.SessionID = ""
	id := f.addOrder(t, o)

	outcome, err := f.reconciler.HandleRedirect(context.Background(), "1", models.ResultSuccess)
	require.NoError(t, err)
	assert.Contains(t, outcome.URL, "grandpay_error=")

	stored, err := f.orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, stored.Status)
}

func TestRedirectBusyOrderReplaysWithoutTouching(t *testing.T) {
	f := newReconcilerFixture(t)
	id := f.addOrder(t, pendingOrder())

	locker := repository.NewMemoryLocker()
	f.reconciler.locker = locker
	held, err := locker.Acquire(context.Background(), "1")
	require.NoError(t, err)
	require.True(t, held)

	outcome, err := f.reconciler.HandleRedirect(context.Background(), "1", models.ResultSuccess)
	require.NoError(t, err)
	assert.Contains(t, outcome.URL, "checkout/complete")
	assert.Equal(t, 0, f.gateway.calls)

	o, err := f.orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, o.Status)
}

func TestCompletionSideEffectFailuresDoNotUnwind(t *testing.T) {
	f := newReconcilerFixture(t)
	o := pendingOrder()
	o.PointsUsed = 99999 // commit will be rejected by the balance guard
	id := f.addOrder(t, o)

	require.NoError(t, f.reconciler.HandleWebhook(context.Background(), successEvent()))

	stored, err := f.orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status, "the decision stands even when a side effect fails")
}

func TestStateEventCarriesTimestamps(t *testing.T) {
	f := newReconcilerFixture(t)
	f.addOrder(t, pendingOrder())

	before := time.Now()
	require.NoError(t, f.reconciler.HandleWebhook(context.Background(), successEvent()))

	require.Len(t, f.side.published, 1)
	evt := f.side.published[0]
	assert.NotEmpty(t, evt.EventID)
	assert.Equal(t, "pay_1", evt.PaymentID)
	assert.Equal(t, int64(2000), evt.Amount)
	assert.False(t, evt.Timestamp.Before(before))
}
