package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"blocmark/server/internal/api/handlers"
	"blocmark/server/internal/api/middleware"
	"blocmark/server/internal/config"
	"blocmark/server/internal/payments"
	"blocmark/server/internal/services"
	"blocmark/server/internal/storage"
)

// registerValidators wires the custom binding validators used by the
// request structs.
func registerValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("objectid", func(fl validator.FieldLevel) bool {
			_, err := primitive.ObjectIDFromHex(fl.Field().String())
			return err == nil
		})
	}
}

// SetupRouter configures and returns the main Gin engine.
func SetupRouter(cfg *config.Config, db *mongo.Database, rdb *redis.Client, taskClient services.IAsynqClient) *gin.Engine {
	registerValidators()

	// Initialize services needed by API handlers
	userService := services.NewUserService(db)
	pricingService := services.NewPricingService(cfg)
	availabilityService := services.NewAvailabilityService(db)
	locationService := services.NewLocationService(db, cfg)
	notificationService := services.NewNotificationService(db, taskClient)
	checkoutClient := payments.NewCheckoutClient(cfg)
	bookingService := services.NewBookingService(db, rdb, cfg,
		pricingService, availabilityService, locationService, notificationService, checkoutClient)
	offerService := services.NewOfferService(db, pricingService, bookingService, notificationService, cfg.OfferTTL)

	s3StorageService, err := storage.NewS3Storage(cfg)
	if err != nil {
		log.Fatalf("CRITICAL: Failed to initialize S3 storage for API: %v", err)
	}

	r := gin.Default()

	rateLimiter := middleware.NewRateLimiterMiddleware(cfg)

	r.Use(middleware.CORSMiddleware())
	r.Use(rateLimiter.Limit())

	// Initialize handlers
	restUserHandler := handlers.NewRestUserHandler(cfg, userService, notificationService)
	restBookingHandler := handlers.NewRestBookingHandler(bookingService)
	restLocationHandler := handlers.NewRestLocationHandler(
		locationService, availabilityService, bookingService, s3StorageService, taskClient)
	restOfferHandler := handlers.NewRestOfferHandler(offerService)
	paymentWebhookHandler := handlers.NewPaymentWebhookHandler(cfg, bookingService)

	v1 := r.Group("/v1")
	{
		// Public routes
		v1.POST("/user", restUserHandler.Register)
		v1.POST("/user/login", restUserHandler.Login)
		v1.POST("/payment/webhook", paymentWebhookHandler.HandleWebhook)
		v1.GET("/location/:id", middleware.OptionalAuthMiddleware(cfg.JwtSecret), restLocationHandler.GetLocation)
		v1.GET("/location/:id/availability", restLocationHandler.GetAvailability)
		v1.GET("/location/:id/pending-windows", restLocationHandler.GetPendingWindows)

		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		// Authenticated routes
		authRequired := v1.Group("/")
		authRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret))
		{
			authRequired.POST("/location", restLocationHandler.CreateLocation)
			authRequired.PATCH("/location/:id/booking-options", restLocationHandler.UpdateBookingOptions)
			authRequired.POST("/location/:id/photo", restLocationHandler.RequestPhotoUpload)

			authRequired.POST("/booking", restBookingHandler.CreateBooking)
			authRequired.GET("/booking", restBookingHandler.ListMyBookings)
			authRequired.GET("/booking/:id", restBookingHandler.GetBooking)
			authRequired.PATCH("/booking/:id", restBookingHandler.PatchBooking)
			authRequired.POST("/booking/:id/checkout", restBookingHandler.StartCheckout)

			authRequired.POST("/offer", restOfferHandler.CreateOffer)
			authRequired.GET("/offer/:id", restOfferHandler.GetOffer)
			authRequired.POST("/offer/:id/accept", restOfferHandler.AcceptOffer)
			authRequired.POST("/offer/:id/refuse", restOfferHandler.RefuseOffer)
			authRequired.POST("/offer/:id/cancel", restOfferHandler.CancelOffer)

			authRequired.GET("/notification", restUserHandler.ListNotifications)
			authRequired.PATCH("/notification/:id/read", restUserHandler.MarkNotificationRead)
		}
	}

	return r
}

// SetupServiceRouter configures and returns the service Gin engine.
// It exposes shutdown and test-email retrieval for integration tooling.
func SetupServiceRouter(cfg *config.Config, rdb *redis.Client, shutdownChan chan<- struct{}) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.POST("/api", func(c *gin.Context) {
		var req struct {
			Method    string          `json:"method"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}

		switch req.Method {
		case "shutdown":
			fmt.Println("Received shutdown command via Service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
				fmt.Println("Shutdown signal sent successfully.")
			default:
				fmt.Println("Shutdown channel already signaled or blocked.")
			}
		case "getTestEmail":
			var args []string // Expect ["notification_kind", "email"]
			if err := json.Unmarshal(req.Arguments, &args); err != nil || len(args) != 2 {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected JSON array [kind, email]"})
				return
			}
			kind := args[0]
			emailAddr := args[1]
			redisKey := fmt.Sprintf("mockemail:%s:%s", emailAddr, kind)

			// Poll Redis briefly for the key
			var emailJsonData string
			var getErr error
			found := false
			ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
			defer cancel()
			for i := 0; i < 10; i++ {
				emailJsonData, getErr = rdb.Get(ctx, redisKey).Result()
				if getErr == nil {
					found = true
					rdb.Del(ctx, redisKey)
					break
				}
				if getErr != redis.Nil {
					log.Printf("Service API: Error getting key %s from Redis: %v", redisKey, getErr)
					c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
					return
				}
				time.Sleep(200 * time.Millisecond)
			}

			if !found {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Test email not found in Redis for key %s", redisKey)})
				return
			}

			var emailData map[string]interface{}
			if err := json.Unmarshal([]byte(emailJsonData), &emailData); err != nil {
				log.Printf("Service API: Error unmarshalling email data from key %s: %v", redisKey, err)
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to parse stored email data"})
				return
			}

			c.JSON(http.StatusOK, gin.H{"success": true, "data": emailData})

		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})
	return r
}
