package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NotificationType tags what a notification is about.
type NotificationType string

const (
	NotifyBookingRequested NotificationType = "booking_requested"
	NotifyBookingConfirmed NotificationType = "booking_confirmed"
	NotifyBookingRejected  NotificationType = "booking_rejected"
	NotifyBookingCancelled NotificationType = "booking_cancelled"
	NotifyBookingEdited    NotificationType = "booking_edited"
	NotifyOfferReceived    NotificationType = "offer_received"
	NotifyOfferAccepted    NotificationType = "offer_accepted"
	NotifyOfferRefused     NotificationType = "offer_refused"
)

// Notification is a stored fan-out record for a user. Email delivery
// happens asynchronously; the record is the source of truth for the in-app
// feed.
type Notification struct {
	Base      `bson:",inline"`
	UserID    primitive.ObjectID     `bson:"user_id" json:"user_id"`
	Type      NotificationType       `bson:"type" json:"type"`
	Payload   map[string]interface{} `bson:"payload" json:"payload"`
	Read      bool                   `bson:"read" json:"read"`
	Sent      bool                   `bson:"sent" json:"sent"` // email dispatched by background task
	CreatedAt time.Time              `bson:"created_at" json:"created_at"`
}
