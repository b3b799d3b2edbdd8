package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"blocmark/server/internal/models"
	"blocmark/server/internal/services"
)

// RestOfferHandler handles custom-offer REST endpoints.
type RestOfferHandler struct {
	offerService services.IOfferService
}

// NewRestOfferHandler creates a new RestOfferHandler.
func NewRestOfferHandler(offerService services.IOfferService) *RestOfferHandler {
	return &RestOfferHandler{offerService: offerService}
}

type offerFeeRequest struct {
	Name   string `json:"name" binding:"required,min=1,max=100"`
	Amount int64  `json:"amount" binding:"required,min=0"`
	Type   string `json:"type" binding:"required,oneof=fixed percentage"`
}

type createOfferRequest struct {
	LocationID string            `json:"location_id" binding:"required,objectid"`
	ReceiverID string            `json:"receiver_id" binding:"required,objectid"`
	Start      time.Time         `json:"start" binding:"required"`
	End        time.Time         `json:"end" binding:"required"`
	Attendees  int               `json:"attendees" binding:"omitempty,min=1"`
	PriceCents int64             `json:"custom_price" binding:"required,min=1"`
	Fees       []offerFeeRequest `json:"additional_fees" binding:"omitempty,dive"`
	Message    string            `json:"message" binding:"omitempty,max=5000"`
}

// CreateOffer handles POST /v1/offer
func (h *RestOfferHandler) CreateOffer(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	var req createOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	locationID, _ := primitive.ObjectIDFromHex(req.LocationID)
	receiverID, _ := primitive.ObjectIDFromHex(req.ReceiverID)

	fees := make([]models.AdditionalFee, 0, len(req.Fees))
	for _, f := range req.Fees {
		fees = append(fees, models.AdditionalFee{
			Name:   f.Name,
			Amount: f.Amount,
			Type:   models.FeeType(f.Type),
		})
	}

	offer, err := h.offerService.CreateOffer(c.Request.Context(), userID, services.CreateOfferParams{
		LocationID: locationID,
		ReceiverID: receiverID,
		Start:      req.Start,
		End:        req.End,
		Attendees:  req.Attendees,
		PriceCents: req.PriceCents,
		Fees:       fees,
		Message:    req.Message,
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	c.JSON(http.StatusCreated, offer)
}

// GetOffer handles GET /v1/offer/:id
func (h *RestOfferHandler) GetOffer(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	offerID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offer ID format"})
		return
	}

	offer, err := h.offerService.FindOfferByID(c.Request.Context(), offerID)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	if offer.SenderID != userID && offer.ReceiverID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a party to this offer"})
		return
	}
	c.JSON(http.StatusOK, offer)
}

// AcceptOffer handles POST /v1/offer/:id/accept. On success the response
// carries the freshly created payment_pending booking so the caller can
// route straight to checkout.
func (h *RestOfferHandler) AcceptOffer(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	offerID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offer ID format"})
		return
	}

	booking, err := h.offerService.Accept(c.Request.Context(), offerID, userID)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": booking})
}

// RefuseOffer handles POST /v1/offer/:id/refuse
func (h *RestOfferHandler) RefuseOffer(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	offerID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offer ID format"})
		return
	}

	offer, err := h.offerService.Refuse(c.Request.Context(), offerID, userID)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	c.JSON(http.StatusOK, offer)
}

// CancelOffer handles POST /v1/offer/:id/cancel
func (h *RestOfferHandler) CancelOffer(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	offerID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offer ID format"})
		return
	}

	offer, err := h.offerService.Cancel(c.Request.Context(), offerID, userID)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	c.JSON(http.StatusOK, offer)
}
