package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"order-management/config"
	"order-management/internal/api"
	"order-management/internal/broker"
	"order-management/internal/redisclient"
	"order-management/internal/service"
	"order-management/internal/store"
	"order-management/internal/util"
	"order-management/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting order management service")

	tp, err := util.InitTracer("order-management", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	if cfg.Database.InitSchema {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := db.InitSchema(ctx); err != nil {
			cancel()
			log.Fatalf("Failed to initialize schema: %v", err)
		}
		cancel()
		log.Println("Schema initialized")
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Printf("Redis unavailable, dashboard caching disabled: %v", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
		log.Println("Redis connected")
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	txTimeout := time.Duration(cfg.Business.TxTimeoutSeconds) * time.Second
	cacheTTL := time.Duration(cfg.Business.DashboardCacheTTLSeconds) * time.Second

	orderService := service.NewOrderService(db, redisClient, eventPublisher, txTimeout)
	productService := service.NewProductService(db, eventPublisher, txTimeout)
	customerService := service.NewCustomerService(db)
	webhookService := service.NewWebhookService(db, redisClient, eventPublisher, txTimeout)
	analyticsService := service.NewAnalyticsService(db, redisClient, cacheTTL)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	eventConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	notifierWorker := worker.NewNotifierWorker(eventConsumer, cfg.Business.OutboundWebhookURL)
	go func() {
		if err := notifierWorker.Start(workerCtx); err != nil && err != context.Canceled {
			log.Printf("Notifier worker error: %v", err)
		}
	}()

	retryInterval := time.Duration(cfg.Business.WebhookRetryIntervalSeconds) * time.Second
	retryWorker := worker.NewRetryWorker(webhookService, retryInterval)
	go func() {
		if err := retryWorker.Start(workerCtx); err != nil && err != context.Canceled {
			log.Printf("Retry worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(db, orderService, productService, customerService, webhookService, analyticsService)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	if err := notifierWorker.Stop(); err != nil {
		log.Printf("Error stopping notifier worker: %v", err)
	}

	log.Println("Server exited")
}
