package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"blocmark/server/internal/config"
)

func TestLocationService_CreateAndFind(t *testing.T) {
	dbName := fmt.Sprintf("testdb_location_%d", time.Now().UnixNano())
	db := setupTestDB(t, dbName)
	defer teardownTestDB(t, db)

	svc := NewLocationService(db, &config.Config{})
	ctx := context.Background()
	ownerID := primitive.NewObjectID()

	location, err := svc.CreateLocation(ctx, ownerID, "Loft", "Bright loft", "2 River Rd", 7500, 3)
	require.NoError(t, err)
	assert.Equal(t, ownerID, location.OwnerID)
	assert.Equal(t, int64(7500), location.HourlyRateCents)
	assert.Equal(t, 3, location.MinHours)
	assert.False(t, location.InstantBooking)
	assert.Equal(t, 0, location.BufferMinutes)

	fetched, err := svc.FindLocationByID(ctx, location.ID)
	require.NoError(t, err)
	assert.Equal(t, "Loft", fetched.Title)

	t.Run("zero rate is rejected", func(t *testing.T) {
		_, err := svc.CreateLocation(ctx, ownerID, "Free", "", "3 River Rd", 0, 1)
		assert.Error(t, err)
	})

	t.Run("min hours floor", func(t *testing.T) {
		loc, err := svc.CreateLocation(ctx, ownerID, "Garage", "", "4 River Rd", 1000, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, loc.MinHours)
	})

	t.Run("soft-deleted location is not found", func(t *testing.T) {
		_, err := db.Collection(locationsCollection).UpdateOne(ctx,
			bson.M{"_id": location.ID}, bson.M{"$set": bson.M{"deleted": true}})
		require.NoError(t, err)

		_, err = svc.FindLocationByID(ctx, location.ID)
		assert.ErrorIs(t, err, mongo.ErrNoDocuments)
	})
}

func TestLocationService_UpdateBookingOptions(t *testing.T) {
	dbName := fmt.Sprintf("testdb_location_options_%d", time.Now().UnixNano())
	db := setupTestDB(t, dbName)
	defer teardownTestDB(t, db)

	svc := NewLocationService(db, &config.Config{})
	ctx := context.Background()
	ownerID := primitive.NewObjectID()

	location, err := svc.CreateLocation(ctx, ownerID, "Loft", "", "2 River Rd", 7500, 3)
	require.NoError(t, err)

	t.Run("owner toggles instant booking and buffer", func(t *testing.T) {
		updated, err := svc.UpdateBookingOptions(ctx, location.ID, ownerID, true, 45)
		require.NoError(t, err)
		assert.True(t, updated.InstantBooking)
		assert.Equal(t, 45, updated.BufferMinutes)
		assert.Equal(t, 45*time.Minute, updated.Buffer())
	})

	t.Run("non-owner is refused", func(t *testing.T) {
		_, err := svc.UpdateBookingOptions(ctx, location.ID, primitive.NewObjectID(), false, 0)
		var actorErr *UnauthorizedActorError
		assert.ErrorAs(t, err, &actorErr)

		// The record is untouched.
		current, err := svc.FindLocationByID(ctx, location.ID)
		require.NoError(t, err)
		assert.True(t, current.InstantBooking)
	})

	t.Run("negative buffer is rejected", func(t *testing.T) {
		_, err := svc.UpdateBookingOptions(ctx, location.ID, ownerID, true, -5)
		assert.Error(t, err)
	})

	t.Run("unknown location", func(t *testing.T) {
		_, err := svc.UpdateBookingOptions(ctx, primitive.NewObjectID(), ownerID, true, 0)
		assert.ErrorIs(t, err, mongo.ErrNoDocuments)
	})
}

func TestLocationService_AddPhotoToLocation(t *testing.T) {
	dbName := fmt.Sprintf("testdb_location_photo_%d", time.Now().UnixNano())
	db := setupTestDB(t, dbName)
	defer teardownTestDB(t, db)

	svc := NewLocationService(db, &config.Config{})
	ctx := context.Background()
	ownerID := primitive.NewObjectID()

	location, err := svc.CreateLocation(ctx, ownerID, "Loft", "", "2 River Rd", 7500, 3)
	require.NoError(t, err)

	require.NoError(t, svc.AddPhotoToLocation(ctx, location.ID, "photos/a/1.jpg"))
	// Attaching the same key twice keeps the set deduplicated.
	require.NoError(t, svc.AddPhotoToLocation(ctx, location.ID, "photos/a/1.jpg"))
	require.NoError(t, svc.AddPhotoToLocation(ctx, location.ID, "photos/a/2.jpg"))

	fetched, err := svc.FindLocationByID(ctx, location.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"photos/a/1.jpg", "photos/a/2.jpg"}, fetched.Photos)

	assert.Error(t, svc.AddPhotoToLocation(ctx, primitive.NewObjectID(), "photos/x.jpg"))
}
