package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Location represents a bookable space owned by a host.
// HourlyRateCents is in minor currency units; the buffer is the
// host-configured gap enforced between consecutive bookings.
type Location struct {
	Base             `bson:",inline"`
	OwnerID          primitive.ObjectID `bson:"owner_id" json:"owner_id"`
	Title            string             `bson:"title" json:"title"`
	Description      string             `bson:"description" json:"description"`
	Address          string             `bson:"address" json:"address,omitempty"` // revealed only post-confirmation
	HourlyRateCents  int64              `bson:"hourly_rate" json:"hourly_rate"`
	MinHours         int                `bson:"min_hours" json:"min_hours"`
	InstantBooking   bool               `bson:"instant_booking" json:"instant_booking"`
	BufferMinutes    int                `bson:"booking_buffer" json:"booking_buffer"` // minutes, >= 0
	Photos           []string           `bson:"photos" json:"photos"` // S3 keys
	CreatedAt        time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time          `bson:"updated_at" json:"updated_at"`
	Deleted          bool               `bson:"deleted" json:"-"` // Soft delete flag
}

// Buffer returns the booking buffer as a duration.
func (l *Location) Buffer() time.Duration {
	if l.BufferMinutes <= 0 {
		return 0
	}
	return time.Duration(l.BufferMinutes) * time.Minute
}

// Concealed returns a copy safe to show to users without a confirmed
// booking: the street address is blanked.
func (l *Location) Concealed() Location {
	c := *l
	c.Address = ""
	return c
}
