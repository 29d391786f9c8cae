package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kurashi-commerce/grandpay-gateway/internal/config"
	"github.com/kurashi-commerce/grandpay-gateway/internal/handlers"
	"github.com/kurashi-commerce/grandpay-gateway/internal/interfaces"
	"github.com/kurashi-commerce/grandpay-gateway/internal/service"
	"github.com/kurashi-commerce/grandpay-gateway/internal/telemetry"
)

func NewRouter(
	cfg *config.Config,
	checkout *service.CheckoutService,
	reconciler *service.Reconciler,
	orders interfaces.OrderRepository,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "grandpay-gateway"})
	})

	checkoutHandler := handlers.NewCheckoutHandler(checkout)
	callbackHandler := handlers.NewCallbackHandler(reconciler, cfg)
	webhookHandler := handlers.NewWebhookHandler(reconciler, cfg)
	orderHandler := handlers.NewOrderHandler(orders)

	r.POST("/checkout", checkoutHandler.StartCheckout)
	r.GET("/payment/callback", callbackHandler.HandleCallback)
	r.POST("/webhooks/grandpay", webhookHandler.HandleRest)
	r.POST("/webhooks/grandpay/legacy", webhookHandler.HandleLegacy)
	r.GET("/orders/:id/payment", orderHandler.GetPaymentState)

	return r
}
