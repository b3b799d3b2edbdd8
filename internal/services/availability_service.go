package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"blocmark/server/internal/models"
)

// Conflict describes a single booking that collides with a requested
// window. OnHold marks soft conflicts (pending or payment_pending) that
// may still resolve in the requester's favour.
type Conflict struct {
	BookingID primitive.ObjectID   `json:"bookingId"`
	Start     time.Time            `json:"start"`
	End       time.Time            `json:"end"`
	Status    models.BookingStatus `json:"status"`
	OnHold    bool                 `json:"onHold"`
}

// Availability is the result of a window check.
type Availability struct {
	Available bool       `json:"available"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
}

// IAvailabilityService answers whether a time window is free on a
// location's calendar.
type IAvailabilityService interface {
	CheckAvailability(ctx context.Context, location *models.Location, start, end time.Time, excludeBookingID *primitive.ObjectID) (*Availability, error)
	ListPendingWindows(ctx context.Context, locationID primitive.ObjectID, from, to time.Time) ([]models.BookingWindow, error)
}

type availabilityService struct {
	db *mongo.Database
}

// NewAvailabilityService creates a new AvailabilityService.
func NewAvailabilityService(db *mongo.Database) IAvailabilityService {
	return &availabilityService{db: db}
}

// CheckAvailability looks for bookings in a blocking status that overlap
// [start, end). Existing bookings are expanded by the location's buffer
// on both sides, so a back-to-back booking conflicts only when the
// buffer is non-zero. excludeBookingID skips a booking being edited so
// it is not its own conflict.
func (s *availabilityService) CheckAvailability(ctx context.Context, location *models.Location, start, end time.Time, excludeBookingID *primitive.ObjectID) (*Availability, error) {
	if !end.After(start) {
		return nil, ErrInvalidWindow
	}

	buf := location.Buffer()
	filter := bson.M{
		"location_id": location.ID,
		"status":      bson.M{"$in": models.BlockingStatuses()},
		"start":       bson.M{"$lt": end.Add(buf)},
		"end":         bson.M{"$gt": start.Add(-buf)},
	}
	if excludeBookingID != nil {
		filter["_id"] = bson.M{"$ne": *excludeBookingID}
	}

	cursor, err := s.db.Collection(bookingsCollection).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "start", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("availability query for location %s failed: %w", location.ID.Hex(), err)
	}
	defer cursor.Close(ctx)

	var overlapping []models.Booking
	if err := cursor.All(ctx, &overlapping); err != nil {
		return nil, fmt.Errorf("availability decode for location %s failed: %w", location.ID.Hex(), err)
	}

	result := &Availability{Available: true}
	for _, b := range overlapping {
		result.Available = false
		result.Conflicts = append(result.Conflicts, Conflict{
			BookingID: b.ID,
			Start:     b.Start,
			End:       b.End,
			Status:    b.Status,
			OnHold:    b.Status == models.BookingPending || b.Status == models.BookingPaymentPending,
		})
	}
	return result, nil
}

// ListPendingWindows returns the start/end windows of pending requests
// on a location within [from, to). Identities and prices are stripped;
// this feeds the public "someone is asking about these hours" view.
func (s *availabilityService) ListPendingWindows(ctx context.Context, locationID primitive.ObjectID, from, to time.Time) ([]models.BookingWindow, error) {
	if !to.After(from) {
		return nil, ErrInvalidWindow
	}

	filter := bson.M{
		"location_id": locationID,
		"status":      bson.M{"$in": []models.BookingStatus{models.BookingPending, models.BookingPaymentPending}},
		"start":       bson.M{"$lt": to},
		"end":         bson.M{"$gt": from},
	}
	cursor, err := s.db.Collection(bookingsCollection).Find(ctx, filter,
		options.Find().
			SetProjection(bson.M{"start": 1, "end": 1}).
			SetSort(bson.D{{Key: "start", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("pending windows query for location %s failed: %w", locationID.Hex(), err)
	}
	defer cursor.Close(ctx)

	windows := []models.BookingWindow{}
	if err := cursor.All(ctx, &windows); err != nil {
		return nil, fmt.Errorf("pending windows decode for location %s failed: %w", locationID.Hex(), err)
	}
	return windows, nil
}
