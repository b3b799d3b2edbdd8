package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"blocmark/server/internal/config"
	"blocmark/server/internal/db"
	"blocmark/server/internal/models"
)

// ILocationService defines the interface for location operations the
// booking core depends on.
type ILocationService interface {
	CreateLocation(ctx context.Context, ownerID primitive.ObjectID, title, description, address string, hourlyRateCents int64, minHours int) (*models.Location, error)
	FindLocationByID(ctx context.Context, locationID primitive.ObjectID) (*models.Location, error)
	UpdateBookingOptions(ctx context.Context, locationID, ownerID primitive.ObjectID, instantBooking bool, bufferMinutes int) (*models.Location, error)
	AddPhotoToLocation(ctx context.Context, locationID primitive.ObjectID, photoKey string) error
}

const locationsCollection = "locations"

// locationService implements ILocationService.
type locationService struct {
	db  *mongo.Database
	cfg *config.Config
}

// NewLocationService creates a new LocationService.
func NewLocationService(db *mongo.Database, cfg *config.Config) ILocationService {
	return &locationService{db: db, cfg: cfg}
}

// CreateLocation creates a minimal listing record. The full listing flow
// (amenities, search indexing, moderation) is handled elsewhere; the core
// only needs the fields that drive pricing and the instant/approval branch.
func (s *locationService) CreateLocation(ctx context.Context, ownerID primitive.ObjectID, title, description, address string, hourlyRateCents int64, minHours int) (*models.Location, error) {
	if hourlyRateCents <= 0 {
		return nil, fmt.Errorf("hourly rate must be positive")
	}
	if minHours < 1 {
		minHours = 1
	}

	now := time.Now().UTC()
	doc, err := db.InsertOne(ctx, s.db.Collection(locationsCollection), &models.Location{
		OwnerID:         ownerID,
		Title:           title,
		Description:     description,
		Address:         address,
		HourlyRateCents: hourlyRateCents,
		MinHours:        minHours,
		InstantBooking:  false,
		BufferMinutes:   0,
		Photos:          []string{},
		CreatedAt:       now,
		UpdatedAt:       now,
		Deleted:         false,
	})
	if err != nil {
		return nil, err
	}
	return doc.(*models.Location), nil
}

// FindLocationByID finds a non-deleted location by its ID.
// It does NOT check ownership; callers decide what to reveal.
func (s *locationService) FindLocationByID(ctx context.Context, locationID primitive.ObjectID) (*models.Location, error) {
	var location models.Location
	filter := bson.M{"_id": locationID, "deleted": false}
	err := s.db.Collection(locationsCollection).FindOne(ctx, filter).Decode(&location)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding location %s: %w", locationID.Hex(), err)
	}
	return &location, nil
}

// UpdateBookingOptions sets the instant-booking flag and booking buffer.
// Only the owner may change them; the update is guarded in the filter so
// a lost race reads back as a diagnostic error rather than a silent no-op.
func (s *locationService) UpdateBookingOptions(ctx context.Context, locationID, ownerID primitive.ObjectID, instantBooking bool, bufferMinutes int) (*models.Location, error) {
	if bufferMinutes < 0 {
		return nil, fmt.Errorf("booking buffer must be >= 0 minutes")
	}

	collection := s.db.Collection(locationsCollection)
	filter := bson.M{
		"_id":      locationID,
		"owner_id": ownerID,
		"deleted":  false,
	}
	update := bson.M{"$set": bson.M{
		"instant_booking": instantBooking,
		"booking_buffer":  bufferMinutes,
		"updated_at":      time.Now().UTC(),
	}}

	var updated models.Location
	err := collection.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Distinguish "not found" from "not the owner"
			var check models.Location
			checkErr := collection.FindOne(ctx, bson.M{"_id": locationID, "deleted": false}).Decode(&check)
			if errors.Is(checkErr, mongo.ErrNoDocuments) {
				return nil, mongo.ErrNoDocuments
			}
			if checkErr == nil && check.OwnerID != ownerID {
				return nil, &UnauthorizedActorError{Action: "update booking options"}
			}
			return nil, fmt.Errorf("location %s cannot be updated", locationID.Hex())
		}
		return nil, fmt.Errorf("failed to update booking options for %s: %w", locationID.Hex(), err)
	}
	return &updated, nil
}

// AddPhotoToLocation attaches a processed photo key to the location.
// Called by the photo-processing task once normalization is done.
func (s *locationService) AddPhotoToLocation(ctx context.Context, locationID primitive.ObjectID, photoKey string) error {
	collection := s.db.Collection(locationsCollection)
	filter := bson.M{"_id": locationID, "deleted": false}
	update := bson.M{
		"$addToSet": bson.M{"photos": photoKey},
		"$set":      bson.M{"updated_at": time.Now().UTC()},
	}

	result, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error adding photo %s to location %s: %w", photoKey, locationID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("location %s not found when adding photo", locationID.Hex())
	}
	return nil
}
