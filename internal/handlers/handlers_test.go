package handlers

import (
	"context"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/kurashi-commerce/grandpay-gateway/internal/config"
	"github.com/kurashi-commerce/grandpay-gateway/internal/models"
	"github.com/kurashi-commerce/grandpay-gateway/internal/points"
	"github.com/kurashi-commerce/grandpay-gateway/internal/repository"
	"github.com/kurashi-commerce/grandpay-gateway/internal/resolver"
	"github.com/kurashi-commerce/grandpay-gateway/internal/service"
)

// stubGateway satisfies the reconciler's status check without a network.
type stubGateway struct {
	report *models.StatusReport
}

func (s *stubGateway) GetPaymentStatus(ctx context.Context, sessionID string) (*models.StatusReport, error) {
	if s.report != nil {
		return s.report, nil
	}
	return &models.StatusReport{SessionID: sessionID, RawStatus: "COMPLETED", PaymentID: "pay_1", Succeeded: true}, nil
}

type handlerFixture struct {
	router  *gin.Engine
	orders  *repository.MemoryOrderRepository
	members *repository.MemoryMemberRepository
	gateway *stubGateway
	cfg     *config.Config
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &handlerFixture{
		orders:  repository.NewMemoryOrderRepository(),
		members: repository.NewMemoryMemberRepository(&models.Member{ID: 7, Email: "taro@example.jp", Points: 5000}),
		gateway: &stubGateway{},
		cfg: &config.Config{
			PointRate:       1,
			MinAmount:       1400,
			CallbackSecret:  "cb-secret",
			WebhookSecret:   "wh-secret",
			CompletePageURL: "https://shop.example.jp/checkout/complete",
			CartPageURL:     "https://shop.example.jp/cart",
		},
	}

	ledger := points.NewLedger(f.members, f.cfg)
	res := resolver.NewResolver(f.orders, f.members, repository.NewMemoryTempStore())
	reconciler := service.NewReconciler(f.orders, ledger, f.gateway, res,
		repository.NewMemoryLocker(), nil, nil, nil, f.cfg)

	f.router = gin.New()
	callbackHandler := NewCallbackHandler(reconciler, f.cfg)
	webhookHandler := NewWebhookHandler(reconciler, f.cfg)
	orderHandler := NewOrderHandler(f.orders)
	f.router.GET("/payment/callback", callbackHandler.HandleCallback)
	f.router.POST("/webhooks/grandpay", webhookHandler.HandleRest)
	f.router.POST("/webhooks/grandpay/legacy", webhookHandler.HandleLegacy)
	f.router.GET("/orders/:id/payment", orderHandler.GetPaymentState)
	return f
}

func (f *handlerFixture) addOrder(t *testing.T, o *models.Order) int64 {
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
		Customer:    models.Customer{Name: "Taro", Email: "taro@example.jp"},
	}
}
