package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"blocmark/server/internal/api/middleware"
	"blocmark/server/internal/auth"
	"blocmark/server/internal/config"
	"blocmark/server/internal/services"
)

// RestUserHandler handles account and notification-feed REST endpoints.
type RestUserHandler struct {
	cfg                 *config.Config
	userService         services.IUserService
	notificationService services.INotificationService
}

// NewRestUserHandler creates a new RestUserHandler.
func NewRestUserHandler(cfg *config.Config, userService services.IUserService, notificationService services.INotificationService) *RestUserHandler {
	return &RestUserHandler{
		cfg:                 cfg,
		userService:         userService,
		notificationService: notificationService,
	}
}

type registerRequest struct {
	Email       string `json:"email" binding:"required,email"`
	DisplayName string `json:"display_name" binding:"required,min=1,max=100"`
	Password    string `json:"password" binding:"required,min=8"`
}

// Register handles POST /v1/user
func (h *RestUserHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.userService.CreateUser(c.Request.Context(), req.Email, req.DisplayName, req.Password)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	c.JSON(http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /v1/user/login
func (h *RestUserHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.userService.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		} else {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		}
		return
	}

	token, err := auth.GenerateJWT(user.ID, user.IsAdmin, h.cfg.JwtSecret, h.cfg.JwtTTL)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

// ListNotifications handles GET /v1/notification
func (h *RestUserHandler) ListNotifications(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	limit, err := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	if err != nil {
		limit = 50
	}

	notifications, err := h.notificationService.ListForUser(c.Request.Context(), userID, limit)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list notifications"})
		return
	}
	c.JSON(http.StatusOK, notifications)
}

// MarkNotificationRead handles PATCH /v1/notification/:id/read
func (h *RestUserHandler) MarkNotificationRead(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	notificationID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid notification ID format"})
		return
	}

	if err := h.notificationService.MarkRead(c.Request.Context(), notificationID, userID); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Notification not found"})
		} else {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark notification read"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// authedUserID extracts the authenticated user's ID set by the auth
// middleware. Writes the error response itself on failure.
func authedUserID(c *gin.Context) (primitive.ObjectID, bool) {
	raw, exists := c.Get(middleware.ContextKeyUserID)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return primitive.NilObjectID, false
	}
	hex, ok := raw.(string)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication context"})
		return primitive.NilObjectID, false
	}
	userID, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication context"})
		return primitive.NilObjectID, false
	}
	return userID, true
}
