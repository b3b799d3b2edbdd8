package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"blocmark/server/internal/db"
	"blocmark/server/internal/models"
)

// TypeNotificationEmail is the asynq task type for delivering a stored
// notification by email. Declared here (not in tasks) so the service can
// enqueue without importing the handler package.
const TypeNotificationEmail = "notification:email"

// NotificationEmailPayload is the asynq payload for TypeNotificationEmail.
type NotificationEmailPayload struct {
	NotificationID string `json:"notification_id"`
}

// IAsynqClient abstracts the asynq client for enqueuing, so services can
// be tested without Redis.
type IAsynqClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// INotificationService records per-user notifications and queues their
// email delivery.
type INotificationService interface {
	Notify(ctx context.Context, userID primitive.ObjectID, kind models.NotificationType, payload map[string]interface{})
	FindNotificationByID(ctx context.Context, id primitive.ObjectID) (*models.Notification, error)
	MarkSent(ctx context.Context, id primitive.ObjectID) error
	ListForUser(ctx context.Context, userID primitive.ObjectID, limit int64) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, userID primitive.ObjectID) error
}

const notificationsCollection = "notifications"

type notificationService struct {
	db         *mongo.Database
	taskClient IAsynqClient
}

// NewNotificationService creates a new NotificationService. taskClient may
// be nil, in which case notifications are stored but no email is queued.
func NewNotificationService(db *mongo.Database, taskClient IAsynqClient) INotificationService {
	return &notificationService{db: db, taskClient: taskClient}
}

// Notify stores a notification and queues its email. Delivery is strictly
// best-effort: a booking or offer transition must never roll back because
// the fan-out failed, so errors are logged and swallowed here.
func (s *notificationService) Notify(ctx context.Context, userID primitive.ObjectID, kind models.NotificationType, payload map[string]interface{}) {
	notification := &models.Notification{
		UserID:    userID,
		Type:      kind,
		Payload:   payload,
		Read:      false,
		Sent:      false,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := db.InsertOne(ctx, s.db.Collection(notificationsCollection), notification); err != nil {
		log.Printf("ERROR storing %s notification for user %s: %v", kind, userID.Hex(), err)
		return
	}

	if s.taskClient == nil {
		return
	}
	taskPayload, err := json.Marshal(NotificationEmailPayload{NotificationID: notification.ID.Hex()})
	if err != nil {
		log.Printf("ERROR marshalling email payload for notification %s: %v", notification.ID.Hex(), err)
		return
	}
	task := asynq.NewTask(TypeNotificationEmail, taskPayload, asynq.Queue("default"))
	if _, err := s.taskClient.EnqueueContext(ctx, task); err != nil {
		log.Printf("ERROR enqueuing email for notification %s: %v", notification.ID.Hex(), err)
	}
}

// FindNotificationByID fetches a single notification. Used by the email
// delivery task.
func (s *notificationService) FindNotificationByID(ctx context.Context, id primitive.ObjectID) (*models.Notification, error) {
	var notification models.Notification
	err := s.db.Collection(notificationsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&notification)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding notification %s: %w", id.Hex(), err)
	}
	return &notification, nil
}

// MarkSent flags a notification's email as dispatched.
func (s *notificationService) MarkSent(ctx context.Context, id primitive.ObjectID) error {
	result, err := s.db.Collection(notificationsCollection).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"sent": true}})
	if err != nil {
		return fmt.Errorf("failed to mark notification %s sent: %w", id.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// ListForUser returns the user's notification feed, newest first.
func (s *notificationService) ListForUser(ctx context.Context, userID primitive.ObjectID, limit int64) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	cursor, err := s.db.Collection(notificationsCollection).Find(ctx,
		bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("error listing notifications for user %s: %w", userID.Hex(), err)
	}
	defer cursor.Close(ctx)

	notifications := []models.Notification{}
	if err := cursor.All(ctx, &notifications); err != nil {
		return nil, fmt.Errorf("error decoding notifications for user %s: %w", userID.Hex(), err)
	}
	return notifications, nil
}

// MarkRead marks a notification read. The user filter keeps one user from
// acknowledging another's feed.
func (s *notificationService) MarkRead(ctx context.Context, id, userID primitive.ObjectID) error {
	result, err := s.db.Collection(notificationsCollection).UpdateOne(ctx,
		bson.M{"_id": id, "user_id": userID},
		bson.M{"$set": bson.M{"read": true}})
	if err != nil {
		return fmt.Errorf("failed to mark notification %s read: %w", id.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}
