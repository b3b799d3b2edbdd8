package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BookingStatus enumerates the booking lifecycle states.
type BookingStatus string

const (
	BookingPending        BookingStatus = "pending"
	BookingPaymentPending BookingStatus = "payment_pending"
	BookingConfirmed      BookingStatus = "confirmed"
	BookingRejected       BookingStatus = "rejected"
	BookingCancelled      BookingStatus = "cancelled"
	BookingCompleted      BookingStatus = "completed"
)

// IsTerminal reports whether no further transitions are allowed out of s.
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingRejected, BookingCancelled, BookingCompleted:
		return true
	}
	return false
}

// BlockingStatuses are the statuses that occupy a location's calendar for
// availability purposes. A pending booking blocks as a soft ("on hold")
// conflict since it may still be rejected.
func BlockingStatuses() []BookingStatus {
	return []BookingStatus{BookingPending, BookingPaymentPending, BookingConfirmed}
}

// Booking is a reservation request or commitment against a location.
// All monetary fields are integer minor units. Start/End follow the
// half-open [Start, End) convention.
type Booking struct {
	Base            `bson:",inline"`
	LocationID      primitive.ObjectID `bson:"location_id" json:"location_id"`
	ClientID        primitive.ObjectID `bson:"client_id" json:"client_id"`
	HostID          primitive.ObjectID `bson:"host_id" json:"host_id"` // denormalized from Location
	Start           time.Time          `bson:"start" json:"start"`
	End             time.Time          `bson:"end" json:"end"`
	GuestCount      int                `bson:"guest_count" json:"guest_count"`
	Activity        string             `bson:"activity" json:"activity"` // free-text project metadata
	BasePriceCents  int64              `bson:"base_price" json:"base_price"`
	SiteRepFeeCents int64              `bson:"site_rep_fee" json:"site_rep_fee"`
	ProcessingCents int64              `bson:"processing_fee" json:"processing_fee"`
	TotalCents      int64              `bson:"total_price" json:"total_price"`
	Status          BookingStatus      `bson:"status" json:"status"`
	OfferID         *primitive.ObjectID `bson:"offer_id,omitempty" json:"offer_id,omitempty"` // set when created from a custom offer
	CreatedAt       time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time          `bson:"updated_at" json:"updated_at"`
	ConfirmedAt     *time.Time         `bson:"confirmed_at,omitempty" json:"confirmed_at,omitempty"`
	ResolvedAt      *time.Time         `bson:"resolved_at,omitempty" json:"resolved_at,omitempty"` // rejected/cancelled/completed timestamp
}

// BookingSnapshot captures the mutable fields of a booking for the edit
// history trail.
type BookingSnapshot struct {
	Start      time.Time `bson:"start" json:"start"`
	End        time.Time `bson:"end" json:"end"`
	TotalCents int64     `bson:"total_price" json:"total_price"`
}

// SnapshotOf extracts the edit-relevant fields from a booking.
func SnapshotOf(b *Booking) BookingSnapshot {
	return BookingSnapshot{Start: b.Start, End: b.End, TotalCents: b.TotalCents}
}

// BookingEdit is a side record written whenever a booking's date/time/price
// changes post-creation.
type BookingEdit struct {
	Base      `bson:",inline"`
	BookingID primitive.ObjectID `bson:"booking_id" json:"booking_id"`
	EditorID  primitive.ObjectID `bson:"editor_id" json:"editor_id"`
	Previous  BookingSnapshot    `bson:"previous" json:"previous"`
	Next      BookingSnapshot    `bson:"next" json:"next"`
	Reason    string             `bson:"reason,omitempty" json:"reason,omitempty"`
	Notified  bool               `bson:"notified" json:"notified"` // counter-party told about the change
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}

// BookingWindow is a date range projection used by the pending-bookings
// view to warn prospective renters about slots on hold.
type BookingWindow struct {
	BookingID primitive.ObjectID `bson:"_id" json:"booking_id"`
	Start     time.Time          `bson:"start" json:"start"`
	End       time.Time          `bson:"end" json:"end"`
}
