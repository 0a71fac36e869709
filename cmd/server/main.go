package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/opentrade/order-service/internal/auth"
	"github.com/opentrade/order-service/internal/bus"
	"github.com/opentrade/order-service/internal/config"
	"github.com/opentrade/order-service/internal/database"
	"github.com/opentrade/order-service/internal/execution"
	"github.com/opentrade/order-service/internal/notify"
	"github.com/opentrade/order-service/internal/orders"
	"github.com/opentrade/order-service/internal/pipeline"
	"github.com/opentrade/order-service/internal/pnl"
	"github.com/opentrade/order-service/internal/position"
	"github.com/opentrade/order-service/internal/types"
	"github.com/opentrade/order-service/internal/wallet"
	"github.com/opentrade/order-service/pkg/middleware"
)

// init configures logging based on environment settings. Development gets
// pretty console output; DEBUG=true raises the level.
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main wires the order pipeline: HTTP intake, broker consumers for every
// pipeline stage, and the execution reconciler, all sharing one store.
func main() {
	cfg := config.Load()

	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	conn, err := bus.Connect(cfg.AmqpURL)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to connect to broker")
	}
	defer conn.Close()

	publisher, err := bus.NewPublisher(conn, cfg.Partitions)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to create publisher")
	}
	defer publisher.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	defer redisClient.Close()

	// Services
	authService := auth.NewService(cfg.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	if os.Getenv("ENV") != "production" {
		authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)
	}

	sink := notify.NewSink(redisClient)
	walletClient := wallet.NewClient(cfg.WalletURL)
	positionService := position.NewService(db)

	orderService := orders.NewService(db, publisher)
	orderHandlers := orders.NewGinHandlers(orderService)

	pnlEngine := pnl.NewEngine(db)
	pnlHandlers := pnl.NewGinHandlers(pnlEngine)

	controller := pipeline.NewController(db, publisher, sink, walletClient, positionService)
	reconciler := execution.NewReconciler(db, sink, walletClient)

	// Consumers
	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	defer consumerCancel()

	consumer := bus.NewConsumer(conn, cfg.Partitions, cfg.Parallelism)
	subscriptions := []struct {
		topic   string
		group   string
		handler bus.HandlerFunc
	}{
		{types.TopicValidation, "order-validation", controller.HandleValidation()},
		{types.TopicWalletCheck, "order-wallet-check", controller.HandleWalletCheck()},
		{types.TopicApproved, "order-compliance-approved", controller.HandleComplianceApproved()},
		{types.TopicRejected, "order-compliance-rejected", controller.HandleComplianceRejected()},
		{types.TopicExecution, "order-execution", reconciler.HandleExecution()},
		{types.TopicCancelled, "order-cancellation", reconciler.HandleCancellation()},
	}
	for _, sub := range subscriptions {
		if err := consumer.Subscribe(consumerCtx, sub.topic, sub.group, sub.handler); err != nil {
			zlog.Fatal().Err(err).Str("topic", sub.topic).Msg("Failed to subscribe")
		}
	}

	// HTTP
	router := gin.Default()
	router.Use(middleware.RateLimit())
	setupRoutes(router, cfg, authHandlers, orderHandlers, pnlHandlers)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	// Stop consumers after the HTTP surface so in-flight orders finish their
	// current stage before the workers drain.
	consumerCancel()
	consumer.Close()

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures the API endpoints:
// - Auth routes: public token issuance
// - Order and PnL routes: protected by JWT authentication
func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	authHandlers *auth.GinHandlers,
	orderHandlers *orders.GinHandlers,
	pnlHandlers *pnl.GinHandlers,
) {
	api := router.Group("/api")
	{
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		secret := []byte(cfg.JWTSecret)

		orderGroup := api.Group("/orders")
		orderGroup.Use(middleware.JWTAuth(secret))
		{
			orderGroup.POST("", orderHandlers.CreateOrderHandler())
			orderGroup.GET("/:order_id", orderHandlers.GetOrderHandler())
			orderGroup.PUT("/:order_id/review-confirm", orderHandlers.ConfirmOrderHandler())
		}

		userGroup := api.Group("/users")
		userGroup.Use(middleware.JWTAuth(secret))
		{
			userGroup.GET("/:user_id/orders", orderHandlers.ListOrdersHandler())
		}

		pnlGroup := api.Group("/pnl")
		pnlGroup.Use(middleware.JWTAuth(secret))
		{
			pnlGroup.POST("/calculate/:userId", pnlHandlers.CalculateHandler())
		}
	}
}
