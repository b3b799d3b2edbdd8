package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"blocmark/server/internal/api"
	"blocmark/server/internal/cache"
	"blocmark/server/internal/config"
	"blocmark/server/internal/db"
	"blocmark/server/internal/email"
	"blocmark/server/internal/payments"
	"blocmark/server/internal/services"
	"blocmark/server/internal/storage"
	"blocmark/server/internal/tasks"
)

var runMode = flag.String("m", "all", "Run mode: 'api', 'bg' (background tasks), 'img' (photo processing), 'all' (default)")

func main() {
	flag.Parse()

	cfg, err := config.Load(*runMode)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	mongoClient, mongoDb, err := db.ConnectDB(cfg.MongoURI, cfg.MongoDbName)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.DisconnectDB(mongoClient); err != nil {
			log.Printf("Error disconnecting from MongoDB: %v", err)
		}
	}()

	if err := db.EnsureBookingIndexes(context.Background(), mongoDb); err != nil {
		log.Fatalf("Failed to ensure indexes: %v", err)
	}

	redisClient, err := cache.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() {
		if err := cache.DisconnectRedis(redisClient); err != nil {
			log.Printf("Error disconnecting from Redis: %v", err)
		}
	}()

	// S3 client for the photo processing worker
	s3Client, err := storage.NewS3Client(cfg)
	if err != nil {
		log.Fatalf("Failed to load AWS config for S3 client: %v", err)
	}

	// Email sender: mock transport under MOCK_SERVICES so integration
	// tooling can read outbound mail back from Redis.
	var primaryEmailSender email.Sender
	if os.Getenv("MOCK_SERVICES") == "true" {
		log.Println("MOCK_SERVICES enabled: Using Redis email sender.")
		primaryEmailSender = email.NewRedisSender(redisClient, cfg)
	} else {
		log.Println("MOCK_SERVICES disabled or not set: Using SMTP/Logging email sender.")
		primaryEmailSender = email.NewSMTPSender(cfg)
	}
	compositeSender := email.NewCompositeEmailSender(primaryEmailSender)
	finalEmailSender := email.Sender(compositeSender)

	// Task client for enqueuing from services and handlers
	taskClient := tasks.NewClient(redisClient)

	// Services needed by the task processor
	userService := services.NewUserService(mongoDb)
	pricingService := services.NewPricingService(cfg)
	availabilityService := services.NewAvailabilityService(mongoDb)
	locationService := services.NewLocationService(mongoDb, cfg)
	notificationService := services.NewNotificationService(mongoDb, taskClient)
	checkoutClient := payments.NewCheckoutClient(cfg)
	bookingService := services.NewBookingService(mongoDb, redisClient, cfg,
		pricingService, availabilityService, locationService, notificationService, checkoutClient)
	offerService := services.NewOfferService(mongoDb, pricingService, bookingService, notificationService, cfg.OfferTTL)

	taskProcessor := tasks.NewTaskProcessor(cfg, finalEmailSender,
		userService, notificationService, bookingService, offerService, locationService,
		s3Client, taskClient)

	var wg sync.WaitGroup

	// Channel to signal shutdown from Service API
	shutdownChan := make(chan struct{}, 1)

	// Service API always runs
	serviceRouter := api.SetupServiceRouter(cfg, redisClient, shutdownChan)
	serviceSrv := &http.Server{
		Addr:    ":" + cfg.ServiceApiPort,
		Handler: serviceRouter,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		fmt.Printf("Service API listening on :%s\n", cfg.ServiceApiPort)
		if err := serviceSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Service API ListenAndServe error: %v", err)
		}
		fmt.Println("Service API server stopped.")
	}()

	var mainApiSrv *http.Server
	var backgroundTaskSrv *asynq.Server
	var photoTaskSrv *asynq.Server

	fmt.Printf("Starting application in '%s' mode...\n", cfg.RunMode)

	apiMode := func() {
		fmt.Println("Starting main API server...")
		mainApiRouter := api.SetupRouter(cfg, mongoDb, redisClient, taskClient)
		mainApiSrv = &http.Server{
			Addr:    ":" + cfg.ApiPort,
			Handler: mainApiRouter,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			fmt.Printf("Main API listening on :%s\n", cfg.ApiPort)
			if err := mainApiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Main API ListenAndServe error: %v", err)
			}
			fmt.Println("Main API server stopped.")
		}()
	}

	bgMode := func() {
		fmt.Println("Starting background worker...")
		srv, mux := tasks.SetupServer(redisClient, taskProcessor, false, true)
		if srv != nil {
			backgroundTaskSrv = srv
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := srv.Run(mux); err != nil {
					log.Fatalf("Background task server error: %v", err)
				}
				fmt.Println("Background task server stopped.")
			}()
			// Seed the periodic lifecycle sweeps.
			if err := tasks.EnqueueInitialSweeps(context.Background(), taskClient); err != nil {
				log.Printf("WARNING: failed to seed lifecycle sweep tasks: %v", err)
			}
		}
	}

	imgMode := func() {
		fmt.Println("Starting photo processing worker...")
		srv, mux := tasks.SetupServer(redisClient, taskProcessor, true, false)
		if srv != nil {
			photoTaskSrv = srv
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := srv.Run(mux); err != nil {
					log.Fatalf("Photo processing server error: %v", err)
				}
				fmt.Println("Photo processing server stopped.")
			}()
		}
	}

	switch cfg.RunMode {
	case "api":
		apiMode()
	case "bg":
		bgMode()
	case "img":
		imgMode()
	case "all":
		apiMode()
		// One combined worker handles both queues in all mode.
		fmt.Println("Starting combined background/photo worker...")
		srv, mux := tasks.SetupServer(redisClient, taskProcessor, true, true)
		if srv != nil {
			backgroundTaskSrv = srv
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := srv.Run(mux); err != nil {
					log.Fatalf("Task server error: %v", err)
				}
				fmt.Println("Task server stopped.")
			}()
			if err := tasks.EnqueueInitialSweeps(context.Background(), taskClient); err != nil {
				log.Printf("WARNING: failed to seed lifecycle sweep tasks: %v", err)
			}
		}
	default:
		log.Fatalf("Invalid run mode specified in config: %s.", cfg.RunMode)
	}

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		fmt.Printf("\nReceived signal: %s. Shutting down gracefully...\n", sig)
	case <-shutdownChan:
		fmt.Println("\nShutdown requested via Service API. Shutting down gracefully...")
	}

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	fmt.Println("Shutting down Service API server...")
	if err := serviceSrv.Shutdown(ctxShutdown); err != nil {
		log.Printf("Service API server shutdown error: %v", err)
	}

	if mainApiSrv != nil {
		fmt.Println("Shutting down Main API server...")
		if err := mainApiSrv.Shutdown(ctxShutdown); err != nil {
			log.Printf("Main API server shutdown error: %v", err)
		}
	}

	if backgroundTaskSrv != nil {
		fmt.Println("Shutting down Background Task server...")
		backgroundTaskSrv.Shutdown()
	}
	if photoTaskSrv != nil {
		fmt.Println("Shutting down Photo Processing server...")
		photoTaskSrv.Shutdown()
	}

	fmt.Println("Waiting for servers to stop...")
	wg.Wait()

	fmt.Println("Server gracefully stopped")
}
