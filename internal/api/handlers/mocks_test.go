package handlers_test

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"blocmark/server/internal/api/middleware"
	"blocmark/server/internal/models"
	"blocmark/server/internal/payments"
	"blocmark/server/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
	// The router normally registers this; handler tests bypass the router.
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("objectid", func(fl validator.FieldLevel) bool {
			_, err := primitive.ObjectIDFromHex(fl.Field().String())
			return err == nil
		})
	}
}

// authedAs fakes the auth middleware by injecting the user ID directly.
func authedAs(userID primitive.ObjectID) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextKeyUserID, userID.Hex())
		c.Next()
	}
}

// --- Mocks ---

// MockBookingService
type MockBookingService struct {
	mock.Mock
}

func (m *MockBookingService) CreateBooking(ctx context.Context, clientID primitive.ObjectID, params services.CreateBookingParams) (*models.Booking, error) {
	args := m.Called(ctx, clientID, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *MockBookingService) CreateOfferBooking(ctx context.Context, offer *models.CustomOffer, totalCents int64) (*models.Booking, error) {
	args := m.Called(ctx, offer, totalCents)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *MockBookingService) FindBookingByID(ctx context.Context, bookingID primitive.ObjectID) (*models.Booking, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *MockBookingService) ListBookingsForUser(ctx context.Context, userID primitive.ObjectID) ([]models.Booking, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Booking), args.Error(1)
}

func (m *MockBookingService) Approve(ctx context.Context, bookingID, actorID primitive.ObjectID) (*models.Booking, error) {
	args := m.Called(ctx, bookingID, actorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *MockBookingService) Reject(ctx context.Context, bookingID, actorID primitive.ObjectID) (*models.Booking, error) {
	args := m.Called(ctx, bookingID, actorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *MockBookingService) Cancel(ctx context.Context, bookingID, actorID primitive.ObjectID) (*models.Booking, error) {
	args := m.Called(ctx, bookingID, actorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *MockBookingService) Edit(ctx context.Context, bookingID, actorID primitive.ObjectID, params services.EditBookingParams) (*models.Booking, error) {
	args := m.Called(ctx, bookingID, actorID, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *MockBookingService) StartCheckout(ctx context.Context, bookingID, actorID primitive.ObjectID) (*payments.Session, error) {
	args := m.Called(ctx, bookingID, actorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.Session), args.Error(1)
}

func (m *MockBookingService) HandlePaymentResult(ctx context.Context, bookingID primitive.ObjectID, succeeded bool, reason string) (*models.Booking, error) {
	args := m.Called(ctx, bookingID, succeeded, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *MockBookingService) CompleteElapsed(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockBookingService) HasConfirmedBooking(ctx context.Context, locationID, clientID primitive.ObjectID) (bool, error) {
	args := m.Called(ctx, locationID, clientID)
	return args.Bool(0), args.Error(1)
}

// MockOfferService
type MockOfferService struct {
	mock.Mock
}

func (m *MockOfferService) CreateOffer(ctx context.Context, senderID primitive.ObjectID, params services.CreateOfferParams) (*models.CustomOffer, error) {
	args := m.Called(ctx, senderID, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CustomOffer), args.Error(1)
}

func (m *MockOfferService) FindOfferByID(ctx context.Context, offerID primitive.ObjectID) (*models.CustomOffer, error) {
	args := m.Called(ctx, offerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CustomOffer), args.Error(1)
}

func (m *MockOfferService) Accept(ctx context.Context, offerID, actorID primitive.ObjectID) (*models.Booking, error) {
	args := m.Called(ctx, offerID, actorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *MockOfferService) Refuse(ctx context.Context, offerID, actorID primitive.ObjectID) (*models.CustomOffer, error) {
	args := m.Called(ctx, offerID, actorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CustomOffer), args.Error(1)
}

func (m *MockOfferService) Cancel(ctx context.Context, offerID, actorID primitive.ObjectID) (*models.CustomOffer, error) {
	args := m.Called(ctx, offerID, actorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CustomOffer), args.Error(1)
}

func (m *MockOfferService) ExpireStale(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// MockLocationService
type MockLocationService struct {
	mock.Mock
}

func (m *MockLocationService) CreateLocation(ctx context.Context, ownerID primitive.ObjectID, title, description, address string, hourlyRateCents int64, minHours int) (*models.Location, error) {
	args := m.Called(ctx, ownerID, title, description, address, hourlyRateCents, minHours)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Location), args.Error(1)
}

func (m *MockLocationService) FindLocationByID(ctx context.Context, locationID primitive.ObjectID) (*models.Location, error) {
	args := m.Called(ctx, locationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Location), args.Error(1)
}

func (m *MockLocationService) UpdateBookingOptions(ctx context.Context, locationID, ownerID primitive.ObjectID, instantBooking bool, bufferMinutes int) (*models.Location, error) {
	args := m.Called(ctx, locationID, ownerID, instantBooking, bufferMinutes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Location), args.Error(1)
}

func (m *MockLocationService) AddPhotoToLocation(ctx context.Context, locationID primitive.ObjectID, photoKey string) error {
	args := m.Called(ctx, locationID, photoKey)
	return args.Error(0)
}

// MockAvailabilityService
type MockAvailabilityService struct {
	mock.Mock
}

func (m *MockAvailabilityService) CheckAvailability(ctx context.Context, location *models.Location, start, end time.Time, excludeBookingID *primitive.ObjectID) (*services.Availability, error) {
	args := m.Called(ctx, location, start, end, excludeBookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.Availability), args.Error(1)
}

func (m *MockAvailabilityService) ListPendingWindows(ctx context.Context, locationID primitive.ObjectID, from, to time.Time) ([]models.BookingWindow, error) {
	args := m.Called(ctx, locationID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.BookingWindow), args.Error(1)
}

// MockNotificationService
type MockNotificationService struct {
	mock.Mock
}

func (m *MockNotificationService) Notify(ctx context.Context, userID primitive.ObjectID, kind models.NotificationType, payload map[string]interface{}) {
	m.Called(ctx, userID, kind, payload)
}

func (m *MockNotificationService) FindNotificationByID(ctx context.Context, id primitive.ObjectID) (*models.Notification, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Notification), args.Error(1)
}

func (m *MockNotificationService) MarkSent(ctx context.Context, id primitive.ObjectID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockNotificationService) ListForUser(ctx context.Context, userID primitive.ObjectID, limit int64) ([]models.Notification, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Notification), args.Error(1)
}

func (m *MockNotificationService) MarkRead(ctx context.Context, id, userID primitive.ObjectID) error {
	args := m.Called(ctx, id, userID)
	return args.Error(0)
}

// MockS3Storage
type MockS3Storage struct {
	mock.Mock
}

func (m *MockS3Storage) GeneratePhotoUploadURL(ctx context.Context, ownerID, locationID, filename, contentType string) (string, string, error) {
	args := m.Called(ctx, ownerID, locationID, filename, contentType)
	return args.String(0), args.String(1), args.Error(2)
}

// MockAsynqClient
type MockAsynqClient struct {
	mock.Mock
}

func (m *MockAsynqClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}
