package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"blocmark/server/internal/api/middleware"
	"blocmark/server/internal/services"
	"blocmark/server/internal/storage"
	"blocmark/server/internal/tasks"
)

// RestLocationHandler handles location REST endpoints: listing creation,
// availability, pending windows, booking options and photo uploads.
type RestLocationHandler struct {
	locationService     services.ILocationService
	availabilityService services.IAvailabilityService
	bookingService      services.IBookingService
	storageService      storage.IS3Storage
	taskClient          services.IAsynqClient
}

// NewRestLocationHandler creates a new RestLocationHandler.
func NewRestLocationHandler(
	locationService services.ILocationService,
	availabilityService services.IAvailabilityService,
	bookingService services.IBookingService,
	storageService storage.IS3Storage,
	taskClient services.IAsynqClient,
) *RestLocationHandler {
	return &RestLocationHandler{
		locationService:     locationService,
		availabilityService: availabilityService,
		bookingService:      bookingService,
		storageService:      storageService,
		taskClient:          taskClient,
	}
}

type createLocationRequest struct {
	Title           string `json:"title" binding:"required,min=1,max=200"`
	Description     string `json:"description" binding:"omitempty,max=5000"`
	Address         string `json:"address" binding:"required,min=1,max=500"`
	HourlyRateCents int64  `json:"hourly_rate" binding:"required,min=1"`
	MinHours        int    `json:"min_hours" binding:"omitempty,min=1,max=24"`
}

// CreateLocation handles POST /v1/location
func (h *RestLocationHandler) CreateLocation(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	var req createLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.MinHours == 0 {
		req.MinHours = 3
	}

	location, err := h.locationService.CreateLocation(c.Request.Context(), userID,
		req.Title, req.Description, req.Address, req.HourlyRateCents, req.MinHours)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create location"})
		return
	}
	c.JSON(http.StatusCreated, location)
}

// GetLocation handles GET /v1/location/:id. The address is concealed
// unless the requester owns the location or holds a confirmed booking
// there.
func (h *RestLocationHandler) GetLocation(c *gin.Context) {
	locationID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid location ID format"})
		return
	}

	location, err := h.locationService.FindLocationByID(c.Request.Context(), locationID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Location not found"})
		} else {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve location"})
		}
		return
	}

	reveal := false
	if userID, ok := optionalUserID(c); ok {
		if userID == location.OwnerID {
			reveal = true
		} else {
			confirmed, err := h.bookingService.HasConfirmedBooking(c.Request.Context(), location.ID, userID)
			if err != nil {
				log.Printf("ERROR checking confirmed booking for address reveal on location %s: %v", location.ID.Hex(), err)
			}
			reveal = confirmed
		}
	}
	if !reveal {
		concealed := location.Concealed()
		c.JSON(http.StatusOK, concealed)
		return
	}
	c.JSON(http.StatusOK, location)
}

// GetAvailability handles GET /v1/location/:id/availability?start=&end=
func (h *RestLocationHandler) GetAvailability(c *gin.Context) {
	locationID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid location ID format"})
		return
	}

	start, err := time.Parse(time.RFC3339, c.Query("start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or missing 'start' (RFC3339)"})
		return
	}
	end, err := time.Parse(time.RFC3339, c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or missing 'end' (RFC3339)"})
		return
	}

	location, err := h.locationService.FindLocationByID(c.Request.Context(), locationID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Location not found"})
		} else {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve location"})
		}
		return
	}

	availability, err := h.availabilityService.CheckAvailability(c.Request.Context(), location, start, end, nil)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	c.JSON(http.StatusOK, availability)
}

// GetPendingWindows handles GET /v1/location/:id/pending-windows. It
// exposes only the on-hold date ranges, no identities or prices.
func (h *RestLocationHandler) GetPendingWindows(c *gin.Context) {
	locationID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid location ID format"})
		return
	}

	from := time.Now().UTC()
	to := from.AddDate(0, 3, 0)
	if fromStr := c.Query("from"); fromStr != "" {
		if parsed, err := time.Parse(time.RFC3339, fromStr); err == nil {
			from = parsed
		}
	}
	if toStr := c.Query("to"); toStr != "" {
		if parsed, err := time.Parse(time.RFC3339, toStr); err == nil {
			to = parsed
		}
	}

	windows, err := h.availabilityService.ListPendingWindows(c.Request.Context(), locationID, from, to)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	c.JSON(http.StatusOK, windows)
}

type bookingOptionsRequest struct {
	InstantBooking *bool `json:"instant_booking" binding:"required"`
	BufferMinutes  *int  `json:"booking_buffer" binding:"required,min=0,max=1440"`
}

// UpdateBookingOptions handles PATCH /v1/location/:id/booking-options
func (h *RestLocationHandler) UpdateBookingOptions(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	locationID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid location ID format"})
		return
	}

	var req bookingOptionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	location, err := h.locationService.UpdateBookingOptions(c.Request.Context(), locationID, userID,
		*req.InstantBooking, *req.BufferMinutes)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	c.JSON(http.StatusOK, location)
}

type photoUploadRequest struct {
	Filename    string `json:"filename" binding:"required,min=1,max=255"`
	ContentType string `json:"content_type" binding:"required,oneof=image/jpeg image/png"`
}

// RequestPhotoUpload handles POST /v1/location/:id/photo. It returns a
// presigned S3 PUT URL and queues the asynq task that normalizes the
// photo once uploaded.
func (h *RestLocationHandler) RequestPhotoUpload(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	locationID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid location ID format"})
		return
	}

	var req photoUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	location, err := h.locationService.FindLocationByID(c.Request.Context(), locationID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Location not found"})
		} else {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve location"})
		}
		return
	}
	if location.OwnerID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the owner may upload photos"})
		return
	}

	url, objectKey, err := h.storageService.GeneratePhotoUploadURL(c.Request.Context(),
		userID.Hex(), locationID.Hex(), req.Filename, req.ContentType)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate upload URL"})
		return
	}

	payload, err := json.Marshal(tasks.PhotoTaskPayload{S3Key: objectKey, LocationID: locationID.Hex()})
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue photo processing"})
		return
	}
	// Give the client time to finish the upload before processing starts.
	task := asynq.NewTask(tasks.TypePhotoProcess, payload, asynq.Queue("images"), asynq.ProcessIn(2*time.Minute))
	if _, err := h.taskClient.EnqueueContext(c.Request.Context(), task); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue photo processing"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"upload_url": url, "key": objectKey})
}

// optionalUserID reads the authenticated user from context without
// requiring it. Used on public endpoints that behave differently when
// logged in.
func optionalUserID(c *gin.Context) (primitive.ObjectID, bool) {
	raw, exists := c.Get(middleware.ContextKeyUserID)
	if !exists {
		return primitive.NilObjectID, false
	}
	hex, ok := raw.(string)
	if !ok {
		return primitive.NilObjectID, false
	}
	userID, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, false
	}
	return userID, true
}
