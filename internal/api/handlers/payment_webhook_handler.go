package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"blocmark/server/internal/config"
	"blocmark/server/internal/payments"
	"blocmark/server/internal/services"
)

// PaymentWebhookHandler receives capture-outcome callbacks from the
// payment collaborator.
type PaymentWebhookHandler struct {
	cfg            *config.Config
	bookingService services.IBookingService
}

// NewPaymentWebhookHandler creates a new PaymentWebhookHandler.
func NewPaymentWebhookHandler(cfg *config.Config, bookingService services.IBookingService) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{cfg: cfg, bookingService: bookingService}
}

// HandleWebhook handles POST /v1/payment/webhook. The signature is an
// HMAC-SHA256 hex digest of the raw body in the X-Signature header.
func (h *PaymentWebhookHandler) HandleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1*1024*1024))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	signature := c.GetHeader("X-Signature")
	if !payments.VerifyWebhookSignature(h.cfg.PaymentWebhookSecret, body, signature) {
		log.Printf("Rejected payment webhook with bad signature from %s", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	var event payments.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event payload"})
		return
	}

	bookingID, err := primitive.ObjectIDFromHex(event.BookingID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid booking ID in event"})
		return
	}

	switch event.Type {
	case "payment.succeeded":
		if _, err := h.bookingService.HandlePaymentResult(c.Request.Context(), bookingID, true, ""); err != nil {
			var transitionErr *services.InvalidStateTransitionError
			if errors.As(err, &transitionErr) {
				// Duplicate delivery of a webhook we already applied.
				log.Printf("Payment webhook for booking %s ignored: %v", event.BookingID, err)
				c.JSON(http.StatusOK, gin.H{"received": true})
				return
			}
			writeBookingError(c, err)
			return
		}
	case "payment.failed":
		_, err := h.bookingService.HandlePaymentResult(c.Request.Context(), bookingID, false, event.Reason)
		var paymentErr *payments.PaymentFailedError
		if err != nil && !errors.As(err, &paymentErr) {
			writeBookingError(c, err)
			return
		}
		log.Printf("Payment failed for booking %s: %s (stays retryable)", event.BookingID, event.Reason)
	default:
		log.Printf("Ignoring unknown payment webhook event type %q", event.Type)
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
