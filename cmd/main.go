package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kurashi-commerce/grandpay-gateway/internal/api"
	"github.com/kurashi-commerce/grandpay-gateway/internal/config"
	"github.com/kurashi-commerce/grandpay-gateway/internal/events"
	"github.com/kurashi-commerce/grandpay-gateway/internal/gateway"
	"github.com/kurashi-commerce/grandpay-gateway/internal/interfaces"
	"github.com/kurashi-commerce/grandpay-gateway/internal/notify"
	"github.com/kurashi-commerce/grandpay-gateway/internal/points"
	"github.com/kurashi-commerce/grandpay-gateway/internal/repository"
	"github.com/kurashi-commerce/grandpay-gateway/internal/resolver"
	"github.com/kurashi-commerce/grandpay-gateway/internal/service"
	"github.com/kurashi-commerce/grandpay-gateway/internal/telemetry"
	"github.com/kurashi-commerce/grandpay-gateway/internal/token"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize telemetry
	if err := telemetry.InitTelemetry("grandpay-gateway"); err != nil {
		panic(fmt.Sprintf("Failed to initialize telemetry: %v", err))
	}
	defer telemetry.Shutdown(context.Background())

	telemetry.Logger.Info("Starting GrandPay Gateway")

	// Repositories: postgres when configured, in-memory otherwise
	var (
		orders  interfaces.OrderRepository
		members interfaces.MemberRepository
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			telemetry.Logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		orderRepo := repository.NewOrderRepository(db)
		if err := orderRepo.InitDB(); err != nil {
			telemetry.Logger.Fatal("Failed to initialize database", zap.Error(err))
		}
		orders = orderRepo
		members = repository.NewMemberRepository(db)
	} else {
		telemetry.Logger.Warn("No DATABASE_URL configured, using in-memory repositories")
		orders = repository.NewMemoryOrderRepository()
		members = repository.NewMemoryMemberRepository()
	}

	// Redis: shared token cache, temp-checkout state, reconciliation locks
	var (
		redisClient *redis.Client
		temps       interfaces.TempStore
		locker      interfaces.Locker
	)
	if cfg.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		temps = repository.NewRedisTempStore(redisClient)
		locker = repository.NewRedisLocker(redisClient)
	} else {
		telemetry.Logger.Warn("No REDIS_URL configured, using process-local state")
		temps = repository.NewMemoryTempStore()
		locker = repository.NewMemoryLocker()
	}

	// Kafka: state-change events
	var publisher interfaces.EventPublisher
	if cfg.KafkaBrokers != "" {
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	// NATS: completion mail and inventory collaborators
	var (
		notifier  interfaces.Notifier
		inventory interfaces.Inventory
	)
	if cfg.NatsURL != "" {
		nc, err := nats.Connect(cfg.NatsURL)
		if err != nil {
			telemetry.Logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer nc.Close()
		collaborators := notify.NewNatsCollaborators(nc)
		notifier = collaborators
		inventory = collaborators
	}

	// Core services
	tokens := token.NewManager(cfg, redisClient)
	gatewayClient := gateway.NewClient(cfg, tokens)
	ledger := points.NewLedger(members, cfg)
	orderResolver := resolver.NewResolver(orders, members, temps)
	checkout := service.NewCheckoutService(ledger, orderResolver, gatewayClient, cfg)
	reconciler := service.NewReconciler(orders, ledger, gatewayClient, orderResolver, locker, publisher, notifier, inventory, cfg)

	// Setup HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: api.NewRouter(cfg, checkout, reconciler, orders),
	}

	// Start server in goroutine
	go func() {
		telemetry.Logger.Info("GrandPay Gateway starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	telemetry.Logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		telemetry.Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	telemetry.Logger.Info("Server exited")
}
