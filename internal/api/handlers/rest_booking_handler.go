package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"blocmark/server/internal/models"
	"blocmark/server/internal/payments"
	"blocmark/server/internal/services"
)

// RestBookingHandler handles booking lifecycle REST endpoints.
type RestBookingHandler struct {
	bookingService services.IBookingService
}

// NewRestBookingHandler creates a new RestBookingHandler.
func NewRestBookingHandler(bookingService services.IBookingService) *RestBookingHandler {
	return &RestBookingHandler{bookingService: bookingService}
}

type createBookingRequest struct {
	LocationID string    `json:"location_id" binding:"required,objectid"`
	Start      time.Time `json:"start" binding:"required"`
	End        time.Time `json:"end" binding:"required"`
	GuestCount int       `json:"guest_count" binding:"omitempty,min=1"`
	Activity   string    `json:"activity" binding:"omitempty,max=2000"`
}

// CreateBooking handles POST /v1/booking
func (h *RestBookingHandler) CreateBooking(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	locationID, _ := primitive.ObjectIDFromHex(req.LocationID)

	booking, err := h.bookingService.CreateBooking(c.Request.Context(), userID, services.CreateBookingParams{
		LocationID: locationID,
		Start:      req.Start,
		End:        req.End,
		GuestCount: req.GuestCount,
		Activity:   req.Activity,
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	c.JSON(http.StatusCreated, booking)
}

// GetBooking handles GET /v1/booking/:id
func (h *RestBookingHandler) GetBooking(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	bookingID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid booking ID format"})
		return
	}

	booking, err := h.bookingService.FindBookingByID(c.Request.Context(), bookingID)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	if booking.ClientID != userID && booking.HostID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a party to this booking"})
		return
	}
	c.JSON(http.StatusOK, booking)
}

type patchBookingRequest struct {
	Action string     `json:"action" binding:"required,oneof=approve reject cancel edit"`
	Start  *time.Time `json:"start"`
	End    *time.Time `json:"end"`
	Reason string     `json:"reason" binding:"omitempty,max=2000"`
}

// PatchBooking handles PATCH /v1/booking/:id with an action verb:
// approve, reject, cancel or edit.
func (h *RestBookingHandler) PatchBooking(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	bookingID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid booking ID format"})
		return
	}

	var req patchBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var booking *models.Booking
	switch req.Action {
	case "approve":
		booking, err = h.bookingService.Approve(c.Request.Context(), bookingID, userID)
	case "reject":
		booking, err = h.bookingService.Reject(c.Request.Context(), bookingID, userID)
	case "cancel":
		booking, err = h.bookingService.Cancel(c.Request.Context(), bookingID, userID)
	case "edit":
		booking, err = h.bookingService.Edit(c.Request.Context(), bookingID, userID, services.EditBookingParams{
			Start:  req.Start,
			End:    req.End,
			Reason: req.Reason,
		})
	}
	if err != nil {
		writeBookingError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// StartCheckout handles POST /v1/booking/:id/checkout
func (h *RestBookingHandler) StartCheckout(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	bookingID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid booking ID format"})
		return
	}

	session, err := h.bookingService.StartCheckout(c.Request.Context(), bookingID, userID)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// ListMyBookings handles GET /v1/booking
func (h *RestBookingHandler) ListMyBookings(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	bookings, err := h.bookingService.ListBookingsForUser(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list bookings"})
		return
	}
	c.JSON(http.StatusOK, bookings)
}

// writeBookingError maps the typed service errors onto HTTP statuses.
func writeBookingError(c *gin.Context, err error) {
	var durationErr *services.InvalidDurationError
	var slotErr *services.SlotUnavailableError
	var transitionErr *services.InvalidStateTransitionError
	var actorErr *services.UnauthorizedActorError
	var offerErr *services.OfferNotPendingError
	var paymentErr *payments.PaymentFailedError

	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, services.ErrInvalidWindow):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrCalendarBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &durationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": durationErr.Error(), "kind": "invalid_duration"})
	case errors.As(err, &slotErr):
		c.JSON(http.StatusConflict, gin.H{"error": slotErr.Error(), "kind": "slot_unavailable", "conflicts": slotErr.Conflicts})
	case errors.As(err, &transitionErr):
		c.JSON(http.StatusConflict, gin.H{"error": transitionErr.Error(), "kind": "invalid_state_transition"})
	case errors.As(err, &actorErr):
		c.JSON(http.StatusForbidden, gin.H{"error": actorErr.Error(), "kind": "unauthorized_actor"})
	case errors.As(err, &offerErr):
		c.JSON(http.StatusConflict, gin.H{"error": offerErr.Error(), "kind": "offer_not_pending"})
	case errors.As(err, &paymentErr):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": paymentErr.Error(), "kind": "payment_failed"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}
