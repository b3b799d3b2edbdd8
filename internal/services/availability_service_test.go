package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"blocmark/server/internal/models"
)

func insertTestBooking(t *testing.T, db *mongo.Database, locationID primitive.ObjectID, start, end time.Time, status models.BookingStatus) primitive.ObjectID {
	t.Helper()
	booking := &models.Booking{
		Base:       models.NewBase(),
		LocationID: locationID,
		ClientID:   primitive.NewObjectID(),
		HostID:     primitive.NewObjectID(),
		Start:      start,
		End:        end,
		Status:     status,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	_, err := db.Collection(bookingsCollection).InsertOne(context.Background(), booking)
	require.NoError(t, err)
	return booking.ID
}

func TestAvailabilityService_CheckAvailability(t *testing.T) {
	dbName := fmt.Sprintf("testdb_availability_%d", time.Now().UnixNano())
	db := setupTestDB(t, dbName)
	defer teardownTestDB(t, db)

	svc := NewAvailabilityService(db)
	ctx := context.Background()
	day := time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC)

	location := &models.Location{
		Base:          models.NewBase(),
		BufferMinutes: 0,
	}

	t.Run("empty calendar is available", func(t *testing.T) {
		result, err := svc.CheckAvailability(ctx, location, day.Add(9*time.Hour), day.Add(12*time.Hour), nil)
		require.NoError(t, err)
		assert.True(t, result.Available)
		assert.Empty(t, result.Conflicts)
	})

	confirmedID := insertTestBooking(t, db, location.ID, day.Add(9*time.Hour), day.Add(12*time.Hour), models.BookingConfirmed)

	t.Run("overlapping confirmed booking conflicts", func(t *testing.T) {
		result, err := svc.CheckAvailability(ctx, location, day.Add(11*time.Hour), day.Add(14*time.Hour), nil)
		require.NoError(t, err)
		assert.False(t, result.Available)
		require.Len(t, result.Conflicts, 1)
		assert.Equal(t, confirmedID, result.Conflicts[0].BookingID)
		assert.Equal(t, models.BookingConfirmed, result.Conflicts[0].Status)
		assert.False(t, result.Conflicts[0].OnHold)
	})

	t.Run("back to back is free without a buffer", func(t *testing.T) {
		result, err := svc.CheckAvailability(ctx, location, day.Add(12*time.Hour), day.Add(14*time.Hour), nil)
		require.NoError(t, err)
		assert.True(t, result.Available)
	})

	t.Run("buffer makes back to back conflict", func(t *testing.T) {
		buffered := &models.Location{Base: location.Base, BufferMinutes: 15}
		result, err := svc.CheckAvailability(ctx, buffered, day.Add(12*time.Hour), day.Add(14*time.Hour), nil)
		require.NoError(t, err)
		assert.False(t, result.Available)
		require.Len(t, result.Conflicts, 1)
		assert.Equal(t, confirmedID, result.Conflicts[0].BookingID)
	})

	t.Run("pending booking is a soft conflict", func(t *testing.T) {
		insertTestBooking(t, db, location.ID, day.Add(15*time.Hour), day.Add(17*time.Hour), models.BookingPending)
		result, err := svc.CheckAvailability(ctx, location, day.Add(16*time.Hour), day.Add(18*time.Hour), nil)
		require.NoError(t, err)
		assert.False(t, result.Available)
		require.Len(t, result.Conflicts, 1)
		assert.True(t, result.Conflicts[0].OnHold)
	})

	t.Run("rejected and cancelled bookings do not block", func(t *testing.T) {
		insertTestBooking(t, db, location.ID, day.Add(20*time.Hour), day.Add(22*time.Hour), models.BookingRejected)
		insertTestBooking(t, db, location.ID, day.Add(20*time.Hour), day.Add(22*time.Hour), models.BookingCancelled)
		result, err := svc.CheckAvailability(ctx, location, day.Add(20*time.Hour), day.Add(22*time.Hour), nil)
		require.NoError(t, err)
		assert.True(t, result.Available)
	})

	t.Run("a booking being edited is not its own conflict", func(t *testing.T) {
		result, err := svc.CheckAvailability(ctx, location, day.Add(10*time.Hour), day.Add(13*time.Hour), &confirmedID)
		require.NoError(t, err)
		assert.True(t, result.Available)
	})

	t.Run("other locations do not interfere", func(t *testing.T) {
		other := &models.Location{Base: models.NewBase()}
		result, err := svc.CheckAvailability(ctx, other, day.Add(9*time.Hour), day.Add(12*time.Hour), nil)
		require.NoError(t, err)
		assert.True(t, result.Available)
	})

	t.Run("inverted window is rejected", func(t *testing.T) {
		_, err := svc.CheckAvailability(ctx, location, day.Add(12*time.Hour), day.Add(9*time.Hour), nil)
		assert.ErrorIs(t, err, ErrInvalidWindow)
	})
}

func TestAvailabilityService_ListPendingWindows(t *testing.T) {
	dbName := fmt.Sprintf("testdb_pending_windows_%d", time.Now().UnixNano())
	db := setupTestDB(t, dbName)
	defer teardownTestDB(t, db)

	svc := NewAvailabilityService(db)
	ctx := context.Background()
	day := time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC)
	locationID := primitive.NewObjectID()

	laterID := insertTestBooking(t, db, locationID, day.Add(15*time.Hour), day.Add(17*time.Hour), models.BookingPending)
	earlierID := insertTestBooking(t, db, locationID, day.Add(9*time.Hour), day.Add(11*time.Hour), models.BookingPaymentPending)
	insertTestBooking(t, db, locationID, day.Add(12*time.Hour), day.Add(13*time.Hour), models.BookingConfirmed)
	insertTestBooking(t, db, locationID, day.Add(48*time.Hour), day.Add(50*time.Hour), models.BookingPending) // out of range

	windows, err := svc.ListPendingWindows(ctx, locationID, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, earlierID, windows[0].BookingID)
	assert.Equal(t, laterID, windows[1].BookingID)
	assert.Equal(t, day.Add(9*time.Hour), windows[0].Start.UTC())
	assert.Equal(t, day.Add(11*time.Hour), windows[0].End.UTC())
}
