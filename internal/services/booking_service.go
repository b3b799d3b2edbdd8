package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"blocmark/server/internal/cache"
	"blocmark/server/internal/config"
	"blocmark/server/internal/db"
	"blocmark/server/internal/models"
	"blocmark/server/internal/payments"
)

// IBookingService governs the booking lifecycle.
type IBookingService interface {
	CreateBooking(ctx context.Context, clientID primitive.ObjectID, params CreateBookingParams) (*models.Booking, error)
	CreateOfferBooking(ctx context.Context, offer *models.CustomOffer, totalCents int64) (*models.Booking, error)
	FindBookingByID(ctx context.Context, bookingID primitive.ObjectID) (*models.Booking, error)
	ListBookingsForUser(ctx context.Context, userID primitive.ObjectID) ([]models.Booking, error)
	Approve(ctx context.Context, bookingID, actorID primitive.ObjectID) (*models.Booking, error)
	Reject(ctx context.Context, bookingID, actorID primitive.ObjectID) (*models.Booking, error)
	Cancel(ctx context.Context, bookingID, actorID primitive.ObjectID) (*models.Booking, error)
	Edit(ctx context.Context, bookingID, actorID primitive.ObjectID, params EditBookingParams) (*models.Booking, error)
	StartCheckout(ctx context.Context, bookingID, actorID primitive.ObjectID) (*payments.Session, error)
	HandlePaymentResult(ctx context.Context, bookingID primitive.ObjectID, succeeded bool, reason string) (*models.Booking, error)
	CompleteElapsed(ctx context.Context) (int64, error)
	HasConfirmedBooking(ctx context.Context, locationID, clientID primitive.ObjectID) (bool, error)
}

// CreateBookingParams carries a renter's booking request.
type CreateBookingParams struct {
	LocationID primitive.ObjectID
	Start      time.Time
	End        time.Time
	GuestCount int
	Activity   string
}

// EditBookingParams carries a post-creation change to a booking's window.
// Nil fields are unchanged.
type EditBookingParams struct {
	Start  *time.Time
	End    *time.Time
	Reason string
}

const (
	bookingsCollection     = "bookings"
	bookingEditsCollection = "booking_edits"
)

type bookingService struct {
	db                  *mongo.Database
	rdb                 *redis.Client
	cfg                 *config.Config
	pricingService      IPricingService
	availabilityService IAvailabilityService
	locationService     ILocationService
	notificationService INotificationService
	checkoutClient      payments.ICheckoutClient
}

// NewBookingService creates a new BookingService.
func NewBookingService(
	db *mongo.Database,
	rdb *redis.Client,
	cfg *config.Config,
	pricingService IPricingService,
	availabilityService IAvailabilityService,
	locationService ILocationService,
	notificationService INotificationService,
	checkoutClient payments.ICheckoutClient,
) IBookingService {
	return &bookingService{
		db:                  db,
		rdb:                 rdb,
		cfg:                 cfg,
		pricingService:      pricingService,
		availabilityService: availabilityService,
		locationService:     locationService,
		notificationService: notificationService,
		checkoutClient:      checkoutClient,
	}
}

func bookingLockKey(locationID primitive.ObjectID) string {
	return "booking:create:" + locationID.Hex()
}

// CreateBooking runs the renter-initiated flow: validate the window, price
// it, and insert the record in pending (approval locations) or
// payment_pending (instant locations). The check-then-insert is serialized
// per location with a short Redis lock so two simultaneous requests for
// the same window cannot both pass the availability check.
func (s *bookingService) CreateBooking(ctx context.Context, clientID primitive.ObjectID, params CreateBookingParams) (*models.Booking, error) {
	location, err := s.locationService.FindLocationByID(ctx, params.LocationID)
	if err != nil {
		return nil, err
	}
	if location.OwnerID == clientID {
		return nil, &UnauthorizedActorError{Action: "book their own location"}
	}

	quote, err := s.pricingService.StandardQuote(location.HourlyRateCents, params.Start, params.End, location.MinHours)
	if err != nil {
		return nil, err
	}

	if s.rdb != nil {
		locked, err := cache.AcquireLock(ctx, s.rdb, bookingLockKey(location.ID), s.cfg.BookingLockTTL)
		if err != nil {
			return nil, err
		}
		if !locked {
			return nil, ErrCalendarBusy
		}
		defer func() {
			if err := cache.ReleaseLock(context.Background(), s.rdb, bookingLockKey(location.ID)); err != nil {
				log.Printf("ERROR releasing booking lock for location %s: %v", location.ID.Hex(), err)
			}
		}()
	}

	availability, err := s.availabilityService.CheckAvailability(ctx, location, params.Start, params.End, nil)
	if err != nil {
		return nil, err
	}
	if !availability.Available {
		return nil, &SlotUnavailableError{Conflicts: availability.Conflicts}
	}

	status := models.BookingPending
	if location.InstantBooking {
		status = models.BookingPaymentPending
	}

	now := time.Now().UTC()
	booking := &models.Booking{
		LocationID:      location.ID,
		ClientID:        clientID,
		HostID:          location.OwnerID,
		Start:           params.Start.UTC(),
		End:             params.End.UTC(),
		GuestCount:      params.GuestCount,
		Activity:        params.Activity,
		BasePriceCents:  quote.BasePriceCents,
		SiteRepFeeCents: quote.SiteRepFeeCents,
		ProcessingCents: quote.ProcessingCents,
		TotalCents:      quote.TotalCents,
		Status:          status,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if _, err := db.InsertOne(ctx, s.db.Collection(bookingsCollection), booking); err != nil {
		return nil, err
	}

	s.notificationService.Notify(ctx, booking.HostID, models.NotifyBookingRequested, map[string]interface{}{
		"booking_id":  booking.ID.Hex(),
		"location_id": booking.LocationID.Hex(),
		"start":       booking.Start,
		"end":         booking.End,
		"total_price": booking.TotalCents,
		"instant":     location.InstantBooking,
	})
	return booking, nil
}

// CreateOfferBooking materializes an accepted custom offer as a booking in
// payment_pending. The offer's negotiated window and total are used as-is;
// standard pricing and the availability check do not apply, matching the
// negotiated-terms semantics.
func (s *bookingService) CreateOfferBooking(ctx context.Context, offer *models.CustomOffer, totalCents int64) (*models.Booking, error) {
	location, err := s.locationService.FindLocationByID(ctx, offer.LocationID)
	if err != nil {
		return nil, err
	}

	clientID := offer.ReceiverID
	if offer.SenderID != location.OwnerID {
		// Renter sent the offer, so the renter is the client.
		clientID = offer.SenderID
	}

	offerID := offer.ID
	now := time.Now().UTC()
	booking := &models.Booking{
		LocationID:     offer.LocationID,
		ClientID:       clientID,
		HostID:         location.OwnerID,
		Start:          offer.Start.UTC(),
		End:            offer.End.UTC(),
		GuestCount:     offer.Attendees,
		BasePriceCents: offer.PriceCents,
		TotalCents:     totalCents,
		Status:         models.BookingPaymentPending,
		OfferID:        &offerID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := db.InsertOne(ctx, s.db.Collection(bookingsCollection), booking); err != nil {
		return nil, err
	}
	return booking, nil
}

// FindBookingByID fetches a booking by ID.
func (s *bookingService) FindBookingByID(ctx context.Context, bookingID primitive.ObjectID) (*models.Booking, error) {
	var booking models.Booking
	err := s.db.Collection(bookingsCollection).FindOne(ctx, bson.M{"_id": bookingID}).Decode(&booking)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding booking %s: %w", bookingID.Hex(), err)
	}
	return &booking, nil
}

// ListBookingsForUser returns bookings where the user is either party.
func (s *bookingService) ListBookingsForUser(ctx context.Context, userID primitive.ObjectID) ([]models.Booking, error) {
	filter := bson.M{"$or": []bson.M{
		{"client_id": userID},
		{"host_id": userID},
	}}
	cursor, err := s.db.Collection(bookingsCollection).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("error listing bookings for user %s: %w", userID.Hex(), err)
	}
	defer cursor.Close(ctx)

	bookings := []models.Booking{}
	if err := cursor.All(ctx, &bookings); err != nil {
		return nil, fmt.Errorf("error decoding bookings for user %s: %w", userID.Hex(), err)
	}
	return bookings, nil
}

// transition performs a guarded status change. The expected statuses and
// actor constraint ride in the filter, so a lost race or wrong actor never
// mutates the record; the diagnostic read afterwards turns the miss into
// the right typed error.
func (s *bookingService) transition(ctx context.Context, bookingID primitive.ObjectID, from []models.BookingStatus, to models.BookingStatus, actorField string, actorID primitive.ObjectID, action string, extraSet bson.M) (*models.Booking, error) {
	collection := s.db.Collection(bookingsCollection)

	now := time.Now().UTC()
	set := bson.M{"status": to, "updated_at": now}
	for k, v := range extraSet {
		set[k] = v
	}

	filter := bson.M{
		"_id":    bookingID,
		"status": bson.M{"$in": from},
	}
	if actorField != "" {
		filter[actorField] = actorID
	}

	result, err := collection.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return nil, fmt.Errorf("failed to %s booking %s: %w", action, bookingID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		current, findErr := s.FindBookingByID(ctx, bookingID)
		if findErr != nil {
			return nil, findErr
		}
		if actorField == "client_id" && current.ClientID != actorID {
			return nil, &UnauthorizedActorError{Action: action}
		}
		if actorField == "host_id" && current.HostID != actorID {
			return nil, &UnauthorizedActorError{Action: action}
		}
		return nil, &InvalidStateTransitionError{From: current.Status, To: to}
	}

	return s.FindBookingByID(ctx, bookingID)
}

// Approve confirms a pending booking. Only the host may approve. The
// first approval wins the slot: overlapping pending requests on the same
// calendar are auto-rejected afterwards.
func (s *bookingService) Approve(ctx context.Context, bookingID, actorID primitive.ObjectID) (*models.Booking, error) {
	now := time.Now().UTC()
	booking, err := s.transition(ctx, bookingID,
		[]models.BookingStatus{models.BookingPending},
		models.BookingConfirmed,
		"host_id", actorID, "approve booking",
		bson.M{"confirmed_at": now})
	if err != nil {
		return nil, err
	}

	s.rejectOverlappingPending(ctx, booking)

	s.notificationService.Notify(ctx, booking.ClientID, models.NotifyBookingConfirmed, map[string]interface{}{
		"booking_id":  booking.ID.Hex(),
		"location_id": booking.LocationID.Hex(),
		"start":       booking.Start,
		"end":         booking.End,
	})
	return booking, nil
}

// Reject declines a pending booking. Only the host may reject.
func (s *bookingService) Reject(ctx context.Context, bookingID, actorID primitive.ObjectID) (*models.Booking, error) {
	now := time.Now().UTC()
	booking, err := s.transition(ctx, bookingID,
		[]models.BookingStatus{models.BookingPending},
		models.BookingRejected,
		"host_id", actorID, "reject booking",
		bson.M{"resolved_at": now})
	if err != nil {
		return nil, err
	}

	s.notificationService.Notify(ctx, booking.ClientID, models.NotifyBookingRejected, map[string]interface{}{
		"booking_id":  booking.ID.Hex(),
		"location_id": booking.LocationID.Hex(),
	})
	return booking, nil
}

// Cancel withdraws a booking. Who may cancel and when depends on status:
// a pending booking may be cancelled by the renter only while more than
// the free-cancellation window remains before start; a payment_pending
// booking may be abandoned by the renter at any time; a confirmed booking
// may be cancelled late by either party.
func (s *bookingService) Cancel(ctx context.Context, bookingID, actorID primitive.ObjectID) (*models.Booking, error) {
	current, err := s.FindBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	resolved := bson.M{"resolved_at": now}

	var booking *models.Booking
	switch current.Status {
	case models.BookingPending:
		if current.ClientID != actorID {
			return nil, &UnauthorizedActorError{Action: "cancel booking"}
		}
		if now.Add(s.cfg.FreeCancellationWindow).After(current.Start) {
			return nil, &InvalidStateTransitionError{From: current.Status, To: models.BookingCancelled}
		}
		booking, err = s.transition(ctx, bookingID,
			[]models.BookingStatus{models.BookingPending},
			models.BookingCancelled, "client_id", actorID, "cancel booking", resolved)

	case models.BookingPaymentPending:
		booking, err = s.transition(ctx, bookingID,
			[]models.BookingStatus{models.BookingPaymentPending},
			models.BookingCancelled, "client_id", actorID, "cancel booking", resolved)

	case models.BookingConfirmed:
		if current.ClientID != actorID && current.HostID != actorID {
			return nil, &UnauthorizedActorError{Action: "cancel booking"}
		}
		booking, err = s.transition(ctx, bookingID,
			[]models.BookingStatus{models.BookingConfirmed},
			models.BookingCancelled, "", primitive.NilObjectID, "cancel booking", resolved)

	default:
		return nil, &InvalidStateTransitionError{From: current.Status, To: models.BookingCancelled}
	}
	if err != nil {
		return nil, err
	}

	counterparty := booking.HostID
	if actorID == booking.HostID {
		counterparty = booking.ClientID
	}
	s.notificationService.Notify(ctx, counterparty, models.NotifyBookingCancelled, map[string]interface{}{
		"booking_id":  booking.ID.Hex(),
		"location_id": booking.LocationID.Hex(),
	})
	return booking, nil
}

// Edit changes a pending or confirmed booking's window. Either party may
// edit; the change is recorded as a before/after snapshot and the
// counter-party is notified. Standard bookings are re-priced for the new
// window; offer-derived bookings keep their negotiated total.
func (s *bookingService) Edit(ctx context.Context, bookingID, actorID primitive.ObjectID, params EditBookingParams) (*models.Booking, error) {
	current, err := s.FindBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if current.ClientID != actorID && current.HostID != actorID {
		return nil, &UnauthorizedActorError{Action: "edit booking"}
	}
	if current.Status != models.BookingPending && current.Status != models.BookingConfirmed {
		return nil, &InvalidStateTransitionError{From: current.Status, To: current.Status}
	}

	newStart := current.Start
	newEnd := current.End
	if params.Start != nil {
		newStart = params.Start.UTC()
	}
	if params.End != nil {
		newEnd = params.End.UTC()
	}
	if !newEnd.After(newStart) {
		return nil, ErrInvalidWindow
	}
	if newStart.Equal(current.Start) && newEnd.Equal(current.End) {
		return current, nil
	}

	location, err := s.locationService.FindLocationByID(ctx, current.LocationID)
	if err != nil {
		return nil, err
	}

	newTotal := current.TotalCents
	set := bson.M{"start": newStart, "end": newEnd}
	if current.OfferID == nil {
		quote, err := s.pricingService.StandardQuote(location.HourlyRateCents, newStart, newEnd, location.MinHours)
		if err != nil {
			return nil, err
		}
		newTotal = quote.TotalCents
		set["base_price"] = quote.BasePriceCents
		set["site_rep_fee"] = quote.SiteRepFeeCents
		set["processing_fee"] = quote.ProcessingCents
		set["total_price"] = quote.TotalCents
	}

	availability, err := s.availabilityService.CheckAvailability(ctx, location, newStart, newEnd, &current.ID)
	if err != nil {
		return nil, err
	}
	if !availability.Available {
		return nil, &SlotUnavailableError{Conflicts: availability.Conflicts}
	}

	booking, err := s.transition(ctx, bookingID,
		[]models.BookingStatus{current.Status},
		current.Status, "", primitive.NilObjectID, "edit booking", set)
	if err != nil {
		return nil, err
	}

	counterparty := booking.HostID
	if actorID == booking.HostID {
		counterparty = booking.ClientID
	}
	s.notificationService.Notify(ctx, counterparty, models.NotifyBookingEdited, map[string]interface{}{
		"booking_id": booking.ID.Hex(),
		"start":      booking.Start,
		"end":        booking.End,
	})

	edit := &models.BookingEdit{
		BookingID: booking.ID,
		EditorID:  actorID,
		Previous:  models.SnapshotOf(current),
		Next:      models.BookingSnapshot{Start: newStart, End: newEnd, TotalCents: newTotal},
		Reason:    params.Reason,
		Notified:  true,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := db.InsertOne(ctx, s.db.Collection(bookingEditsCollection), edit); err != nil {
		log.Printf("ERROR recording edit history for booking %s: %v", booking.ID.Hex(), err)
	}

	return booking, nil
}

// StartCheckout moves a booking into payment_pending (if not already
// there) and opens a checkout session for its total. Only the renter may
// pay.
func (s *bookingService) StartCheckout(ctx context.Context, bookingID, actorID primitive.ObjectID) (*payments.Session, error) {
	booking, err := s.transition(ctx, bookingID,
		[]models.BookingStatus{models.BookingPending, models.BookingPaymentPending},
		models.BookingPaymentPending,
		"client_id", actorID, "pay for booking", nil)
	if err != nil {
		return nil, err
	}

	session, err := s.checkoutClient.CreateCheckoutSession(ctx, payments.CheckoutParams{
		BookingID:   booking.ID.Hex(),
		CustomerID:  booking.ClientID.Hex(),
		AmountCents: booking.TotalCents,
		Description: fmt.Sprintf("%s booking %s", s.cfg.AppName, booking.ID.Hex()),
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// HandlePaymentResult applies the processor's verdict. Success confirms
// the booking and sweeps competing pendings off the slot. Failure leaves
// it payment_pending so the renter can retry, surfaced as
// *payments.PaymentFailedError.
func (s *bookingService) HandlePaymentResult(ctx context.Context, bookingID primitive.ObjectID, succeeded bool, reason string) (*models.Booking, error) {
	if !succeeded {
		booking, err := s.FindBookingByID(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		if booking.Status != models.BookingPaymentPending {
			return nil, &InvalidStateTransitionError{From: booking.Status, To: models.BookingPaymentPending}
		}
		return booking, &payments.PaymentFailedError{BookingID: bookingID.Hex(), Reason: reason}
	}

	now := time.Now().UTC()
	booking, err := s.transition(ctx, bookingID,
		[]models.BookingStatus{models.BookingPaymentPending},
		models.BookingConfirmed, "", primitive.NilObjectID, "confirm payment",
		bson.M{"confirmed_at": now})
	if err != nil {
		return nil, err
	}

	s.rejectOverlappingPending(ctx, booking)

	s.notificationService.Notify(ctx, booking.ClientID, models.NotifyBookingConfirmed, map[string]interface{}{
		"booking_id":  booking.ID.Hex(),
		"location_id": booking.LocationID.Hex(),
		"start":       booking.Start,
		"end":         booking.End,
	})
	s.notificationService.Notify(ctx, booking.HostID, models.NotifyBookingConfirmed, map[string]interface{}{
		"booking_id":  booking.ID.Hex(),
		"location_id": booking.LocationID.Hex(),
		"start":       booking.Start,
		"end":         booking.End,
	})
	return booking, nil
}

// rejectOverlappingPending auto-rejects pending requests that overlap a
// just-confirmed booking's window. The slot is gone; letting the other
// requests linger would only invite an approval that must then fail. Each
// losing renter is notified. Errors are logged, not propagated: the
// confirmation already happened.
func (s *bookingService) rejectOverlappingPending(ctx context.Context, winner *models.Booking) {
	location, err := s.locationService.FindLocationByID(ctx, winner.LocationID)
	if err != nil {
		log.Printf("ERROR loading location %s for pending sweep: %v", winner.LocationID.Hex(), err)
		return
	}
	buf := location.Buffer()

	collection := s.db.Collection(bookingsCollection)
	filter := bson.M{
		"_id":         bson.M{"$ne": winner.ID},
		"location_id": winner.LocationID,
		"status":      models.BookingPending,
		"start":       bson.M{"$lt": winner.End.Add(buf)},
		"end":         bson.M{"$gt": winner.Start.Add(-buf)},
	}

	cursor, err := collection.Find(ctx, filter)
	if err != nil {
		log.Printf("ERROR finding overlapping pendings for booking %s: %v", winner.ID.Hex(), err)
		return
	}
	var losers []models.Booking
	if err := cursor.All(ctx, &losers); err != nil {
		log.Printf("ERROR decoding overlapping pendings for booking %s: %v", winner.ID.Hex(), err)
		return
	}
	if len(losers) == 0 {
		return
	}

	now := time.Now().UTC()
	loserIDs := make([]primitive.ObjectID, 0, len(losers))
	for _, l := range losers {
		loserIDs = append(loserIDs, l.ID)
	}
	_, err = collection.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": loserIDs}, "status": models.BookingPending},
		bson.M{"$set": bson.M{"status": models.BookingRejected, "resolved_at": now, "updated_at": now}})
	if err != nil {
		log.Printf("ERROR rejecting overlapping pendings for booking %s: %v", winner.ID.Hex(), err)
		return
	}
	log.Printf("Auto-rejected %d pending booking(s) overlapping confirmed booking %s", len(losers), winner.ID.Hex())

	for _, l := range losers {
		s.notificationService.Notify(ctx, l.ClientID, models.NotifyBookingRejected, map[string]interface{}{
			"booking_id":  l.ID.Hex(),
			"location_id": l.LocationID.Hex(),
			"reason":      "slot was booked by another request",
		})
	}
}

// CompleteElapsed moves confirmed bookings whose end has passed into
// completed. Driven by a periodic background task.
func (s *bookingService) CompleteElapsed(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	result, err := s.db.Collection(bookingsCollection).UpdateMany(ctx,
		bson.M{"status": models.BookingConfirmed, "end": bson.M{"$lte": now}},
		bson.M{"$set": bson.M{"status": models.BookingCompleted, "resolved_at": now, "updated_at": now}})
	if err != nil {
		return 0, fmt.Errorf("failed to complete elapsed bookings: %w", err)
	}
	return result.ModifiedCount, nil
}

// HasConfirmedBooking reports whether the client holds a confirmed or
// completed booking at the location. Gates address reveal.
func (s *bookingService) HasConfirmedBooking(ctx context.Context, locationID, clientID primitive.ObjectID) (bool, error) {
	count, err := s.db.Collection(bookingsCollection).CountDocuments(ctx, bson.M{
		"location_id": locationID,
		"client_id":   clientID,
		"status":      bson.M{"$in": []models.BookingStatus{models.BookingConfirmed, models.BookingCompleted}},
	})
	if err != nil {
		return false, fmt.Errorf("error checking confirmed bookings for location %s: %w", locationID.Hex(), err)
	}
	return count > 0, nil
}
