package tasks_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"blocmark/server/internal/config"
	"blocmark/server/internal/models"
	"blocmark/server/internal/payments"
	"blocmark/server/internal/services"
	"blocmark/server/internal/tasks"
)

// --- Mocks ---

// MockEmailSender
type MockEmailSender struct {
	mock.Mock
}

func (m *MockEmailSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	args := m.Called(ctx, to, subject, rawMessage)
	return args.Error(0)
}

// MockUserService implements services.IUserService
type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) CreateUser(ctx context.Context, email, displayName, password string) (*models.User, error) {
	args := m.Called(ctx, email, displayName, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}
func (m *MockUserService) FindByID(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}
func (m *MockUserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

// MockNotificationService implements services.INotificationService
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

// MockBookingService implements services.IBookingService
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

// MockOfferService implements services.IOfferService
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

// MockAsynqClient implements services.IAsynqClient
type MockAsynqClient struct {
	mock.Mock
}

func (m *MockAsynqClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}

// --- Tests ---

func TestHandleNotificationEmailTask_Success(t *testing.T) {
	mockEmailSender := new(MockEmailSender)
	mockUserSvc := new(MockUserService)
	mockNotifSvc := new(MockNotificationService)
	cfg := &config.Config{AppName: "Blocmark", SmtpFromAddress: "noreply@blocmark.test"}

	p := tasks.NewTaskProcessor(cfg, mockEmailSender, mockUserSvc, mockNotifSvc, nil, nil, nil, nil, nil)

	notificationID := primitive.NewObjectID()
	userID := primitive.NewObjectID()
	bookingID := primitive.NewObjectID()

	notification := &models.Notification{
		UserID: userID,
		Type:   models.NotifyBookingConfirmed,
		Payload: map[string]interface{}{
			"booking_id": bookingID.Hex(),
		},
	}
	notification.ID = notificationID

	mockNotifSvc.On("FindNotificationByID", mock.Anything, notificationID).Return(notification, nil)
	mockUserSvc.On("FindByID", mock.Anything, userID).Return(&models.User{Email: "renter@example.com"}, nil)

	expectedSubject := "Your booking is confirmed"
	mockEmailSender.On("Send",
		mock.Anything,
		[]string{"renter@example.com"},
		expectedSubject,
		mock.MatchedBy(func(rawMsg []byte) bool {
			msgStr := string(rawMsg)
			assert.Contains(t, msgStr, "To: renter@example.com", "Raw message should contain To address")
			assert.Contains(t, msgStr, "From: noreply@blocmark.test", "Raw message should contain From address")
			assert.Contains(t, msgStr, fmt.Sprintf("Subject: %s", expectedSubject), "Raw message should contain Subject")
			assert.Contains(t, msgStr, bookingID.Hex(), "Raw message should reference the booking")
			return true
		}),
	).Return(nil)
	mockNotifSvc.On("MarkSent", mock.Anything, notificationID).Return(nil)

	payloadBytes, _ := json.Marshal(services.NotificationEmailPayload{NotificationID: notificationID.Hex()})
	task := asynq.NewTask(services.TypeNotificationEmail, payloadBytes)

	err := p.HandleNotificationEmailTask(context.Background(), task)

	assert.NoError(t, err)
	mockNotifSvc.AssertExpectations(t)
	mockUserSvc.AssertExpectations(t)
	mockEmailSender.AssertExpectations(t)
}

func TestHandleNotificationEmailTask_AlreadySent(t *testing.T) {
	mockEmailSender := new(MockEmailSender)
	mockUserSvc := new(MockUserService)
	mockNotifSvc := new(MockNotificationService)
	cfg := &config.Config{AppName: "Blocmark"}

	p := tasks.NewTaskProcessor(cfg, mockEmailSender, mockUserSvc, mockNotifSvc, nil, nil, nil, nil, nil)

	notificationID := primitive.NewObjectID()
	notification := &models.Notification{
		UserID: primitive.NewObjectID(),
		Type:   models.NotifyBookingRequested,
		Sent:   true,
	}
	notification.ID = notificationID

	mockNotifSvc.On("FindNotificationByID", mock.Anything, notificationID).Return(notification, nil)

	payloadBytes, _ := json.Marshal(services.NotificationEmailPayload{NotificationID: notificationID.Hex()})
	task := asynq.NewTask(services.TypeNotificationEmail, payloadBytes)

	err := p.HandleNotificationEmailTask(context.Background(), task)

	assert.NoError(t, err)
	mockEmailSender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	mockNotifSvc.AssertNotCalled(t, "MarkSent", mock.Anything, mock.Anything)
}

func TestHandleNotificationEmailTask_InvalidPayload(t *testing.T) {
	mockEmailSender := new(MockEmailSender)
	cfg := &config.Config{}
	p := tasks.NewTaskProcessor(cfg, mockEmailSender, new(MockUserService), new(MockNotificationService), nil, nil, nil, nil, nil)

	task := asynq.NewTask(services.TypeNotificationEmail, []byte("{not-json"))

	err := p.HandleNotificationEmailTask(context.Background(), task)

	assert.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry), "Malformed payloads should not be retried")
	mockEmailSender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleOfferExpireTask_ReenqueuesItself(t *testing.T) {
	mockOfferSvc := new(MockOfferService)
	mockClient := new(MockAsynqClient)
	cfg := &config.Config{}

	p := tasks.NewTaskProcessor(cfg, nil, nil, nil, nil, mockOfferSvc, nil, nil, mockClient)

	mockOfferSvc.On("ExpireStale", mock.Anything).Return(int64(2), nil)
	mockClient.On("EnqueueContext", mock.Anything,
		mock.MatchedBy(func(task *asynq.Task) bool {
			return task.Type() == tasks.TypeOfferExpire
		}),
		mock.Anything,
	).Return(&asynq.TaskInfo{ID: "sweep-1"}, nil)

	err := p.HandleOfferExpireTask(context.Background(), asynq.NewTask(tasks.TypeOfferExpire, nil))

	assert.NoError(t, err)
	mockOfferSvc.AssertExpectations(t)
	mockClient.AssertExpectations(t)
}

func TestHandleBookingCompleteTask_ReenqueuesItself(t *testing.T) {
	mockBookingSvc := new(MockBookingService)
	mockClient := new(MockAsynqClient)
	cfg := &config.Config{}

	p := tasks.NewTaskProcessor(cfg, nil, nil, nil, mockBookingSvc, nil, nil, nil, mockClient)

	mockBookingSvc.On("CompleteElapsed", mock.Anything).Return(int64(1), nil)
	mockClient.On("EnqueueContext", mock.Anything,
		mock.MatchedBy(func(task *asynq.Task) bool {
			return task.Type() == tasks.TypeBookingComplete
		}),
		mock.Anything,
	).Return(&asynq.TaskInfo{ID: "sweep-2"}, nil)

	err := p.HandleBookingCompleteTask(context.Background(), asynq.NewTask(tasks.TypeBookingComplete, nil))

	assert.NoError(t, err)
	mockBookingSvc.AssertExpectations(t)
	mockClient.AssertExpectations(t)
}

func TestHandleBookingCompleteTask_SweepErrorIsRetried(t *testing.T) {
	mockBookingSvc := new(MockBookingService)
	mockClient := new(MockAsynqClient)
	cfg := &config.Config{}

	p := tasks.NewTaskProcessor(cfg, nil, nil, nil, mockBookingSvc, nil, nil, nil, mockClient)

	mockBookingSvc.On("CompleteElapsed", mock.Anything).Return(int64(0), assert.AnError)

	err := p.HandleBookingCompleteTask(context.Background(), asynq.NewTask(tasks.TypeBookingComplete, nil))

	assert.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
	mockClient.AssertNotCalled(t, "EnqueueContext", mock.Anything, mock.Anything, mock.Anything)
}
