package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"blocmark/server/internal/db"
	"blocmark/server/internal/models"
)

// IOfferService governs custom-offer negotiation.
type IOfferService interface {
	CreateOffer(ctx context.Context, senderID primitive.ObjectID, params CreateOfferParams) (*models.CustomOffer, error)
	FindOfferByID(ctx context.Context, offerID primitive.ObjectID) (*models.CustomOffer, error)
	Accept(ctx context.Context, offerID, actorID primitive.ObjectID) (*models.Booking, error)
	Refuse(ctx context.Context, offerID, actorID primitive.ObjectID) (*models.CustomOffer, error)
	Cancel(ctx context.Context, offerID, actorID primitive.ObjectID) (*models.CustomOffer, error)
	ExpireStale(ctx context.Context) (int64, error)
}

// CreateOfferParams carries a proposed custom offer.
type CreateOfferParams struct {
	LocationID primitive.ObjectID
	ReceiverID primitive.ObjectID
	Start      time.Time
	End        time.Time
	Attendees  int
	PriceCents int64
	Fees       []models.AdditionalFee
	Message    string
}

const (
	offersCollection   = "custom_offers"
	messagesCollection = "messages"
)

type offerService struct {
	db                  *mongo.Database
	pricingService      IPricingService
	bookingService      IBookingService
	notificationService INotificationService
	offerTTL            time.Duration
}

// NewOfferService creates a new OfferService.
func NewOfferService(db *mongo.Database, pricingService IPricingService, bookingService IBookingService, notificationService INotificationService, offerTTL time.Duration) IOfferService {
	return &offerService{
		db:                  db,
		pricingService:      pricingService,
		bookingService:      bookingService,
		notificationService: notificationService,
		offerTTL:            offerTTL,
	}
}

// CreateOffer writes the carrying message, then the offer record, then
// links the message back to the offer. Either party may propose.
func (s *offerService) CreateOffer(ctx context.Context, senderID primitive.ObjectID, params CreateOfferParams) (*models.CustomOffer, error) {
	if !params.End.After(params.Start) {
		return nil, ErrInvalidWindow
	}
	if params.PriceCents <= 0 {
		return nil, fmt.Errorf("offer price must be positive")
	}
	if senderID == params.ReceiverID {
		return nil, fmt.Errorf("offer sender and receiver must differ")
	}
	for _, fee := range params.Fees {
		if fee.Type != models.FeeFixed && fee.Type != models.FeePercentage {
			return nil, fmt.Errorf("unknown fee type %q", fee.Type)
		}
		if fee.Amount < 0 {
			return nil, fmt.Errorf("fee %q must not be negative", fee.Name)
		}
	}

	now := time.Now().UTC()
	message := &models.Message{
		SenderID:   senderID,
		ReceiverID: params.ReceiverID,
		LocationID: params.LocationID,
		Body:       params.Message,
		CreatedAt:  now,
	}
	if _, err := db.InsertOne(ctx, s.db.Collection(messagesCollection), message); err != nil {
		return nil, err
	}

	offer := &models.CustomOffer{
		LocationID: params.LocationID,
		SenderID:   senderID,
		ReceiverID: params.ReceiverID,
		MessageID:  message.ID,
		Start:      params.Start.UTC(),
		End:        params.End.UTC(),
		Attendees:  params.Attendees,
		PriceCents: params.PriceCents,
		Fees:       params.Fees,
		Status:     models.OfferPending,
		CreatedAt:  now,
	}
	if _, err := db.InsertOne(ctx, s.db.Collection(offersCollection), offer); err != nil {
		return nil, err
	}

	// Link the message to its offer so the thread can render terms inline.
	offerID := offer.ID
	_, err := s.db.Collection(messagesCollection).UpdateOne(ctx,
		bson.M{"_id": message.ID},
		bson.M{"$set": bson.M{"offer_id": offerID}})
	if err != nil {
		log.Printf("ERROR linking message %s to offer %s: %v", message.ID.Hex(), offer.ID.Hex(), err)
	}

	s.notificationService.Notify(ctx, params.ReceiverID, models.NotifyOfferReceived, map[string]interface{}{
		"offer_id":     offer.ID.Hex(),
		"location_id":  offer.LocationID.Hex(),
		"custom_price": offer.PriceCents,
		"start":        offer.Start,
		"end":          offer.End,
	})
	return offer, nil
}

// FindOfferByID fetches an offer by ID.
func (s *offerService) FindOfferByID(ctx context.Context, offerID primitive.ObjectID) (*models.CustomOffer, error) {
	var offer models.CustomOffer
	err := s.db.Collection(offersCollection).FindOne(ctx, bson.M{"_id": offerID}).Decode(&offer)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding offer %s: %w", offerID.Hex(), err)
	}
	return &offer, nil
}

// resolve performs a guarded pending-only status change on an offer, with
// the actor constraint in the filter. A miss is read back and reported as
// the right typed error.
func (s *offerService) resolve(ctx context.Context, offerID primitive.ObjectID, to models.OfferStatus, actorField string, actorID primitive.ObjectID, action string) (*models.CustomOffer, error) {
	collection := s.db.Collection(offersCollection)
	now := time.Now().UTC()

	filter := bson.M{
		"_id":      offerID,
		"status":   models.OfferPending,
		actorField: actorID,
	}
	result, err := collection.UpdateOne(ctx, filter,
		bson.M{"$set": bson.M{"status": to, "resolved_at": now}})
	if err != nil {
		return nil, fmt.Errorf("failed to %s offer %s: %w", action, offerID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		current, findErr := s.FindOfferByID(ctx, offerID)
		if findErr != nil {
			return nil, findErr
		}
		if actorField == "receiver_id" && current.ReceiverID != actorID {
			return nil, &UnauthorizedActorError{Action: action}
		}
		if actorField == "sender_id" && current.SenderID != actorID {
			return nil, &UnauthorizedActorError{Action: action}
		}
		return nil, &OfferNotPendingError{Status: current.Status}
	}
	return s.FindOfferByID(ctx, offerID)
}

// Accept resolves the offer in the receiver's favour and synchronously
// creates the payment_pending booking with the negotiated terms. The
// offer is claimed first with a guarded update so two accepts cannot both
// create a booking; if the booking insert then fails the claim is
// reverted best-effort.
func (s *offerService) Accept(ctx context.Context, offerID, actorID primitive.ObjectID) (*models.Booking, error) {
	offer, err := s.resolve(ctx, offerID, models.OfferAccepted, "receiver_id", actorID, "accept offer")
	if err != nil {
		return nil, err
	}

	total := s.pricingService.OfferTotal(offer.PriceCents, offer.Fees)
	booking, err := s.bookingService.CreateOfferBooking(ctx, offer, total)
	if err != nil {
		// Put the offer back so the receiver can retry.
		_, revertErr := s.db.Collection(offersCollection).UpdateOne(ctx,
			bson.M{"_id": offerID, "status": models.OfferAccepted},
			bson.M{"$set": bson.M{"status": models.OfferPending}, "$unset": bson.M{"resolved_at": ""}})
		if revertErr != nil {
			log.Printf("ERROR reverting offer %s after booking failure: %v", offerID.Hex(), revertErr)
		}
		return nil, fmt.Errorf("failed to create booking for accepted offer %s: %w", offerID.Hex(), err)
	}

	bookingID := booking.ID
	_, err = s.db.Collection(offersCollection).UpdateOne(ctx,
		bson.M{"_id": offerID},
		bson.M{"$set": bson.M{"booking_id": bookingID}})
	if err != nil {
		log.Printf("ERROR linking offer %s to booking %s: %v", offerID.Hex(), booking.ID.Hex(), err)
	}

	s.notificationService.Notify(ctx, offer.SenderID, models.NotifyOfferAccepted, map[string]interface{}{
		"offer_id":   offer.ID.Hex(),
		"booking_id": booking.ID.Hex(),
	})
	return booking, nil
}

// Refuse declines a pending offer. Only the receiver may refuse.
func (s *offerService) Refuse(ctx context.Context, offerID, actorID primitive.ObjectID) (*models.CustomOffer, error) {
	offer, err := s.resolve(ctx, offerID, models.OfferRefused, "receiver_id", actorID, "refuse offer")
	if err != nil {
		return nil, err
	}
	s.notificationService.Notify(ctx, offer.SenderID, models.NotifyOfferRefused, map[string]interface{}{
		"offer_id": offer.ID.Hex(),
	})
	return offer, nil
}

// Cancel withdraws a pending offer. Only the sender may cancel.
func (s *offerService) Cancel(ctx context.Context, offerID, actorID primitive.ObjectID) (*models.CustomOffer, error) {
	return s.resolve(ctx, offerID, models.OfferCancelled, "sender_id", actorID, "cancel offer")
}

// ExpireStale marks pending offers older than the TTL as expired. Driven
// by a periodic background task.
func (s *offerService) ExpireStale(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-s.offerTTL)
	result, err := s.db.Collection(offersCollection).UpdateMany(ctx,
		bson.M{"status": models.OfferPending, "created_at": bson.M{"$lt": cutoff}},
		bson.M{"$set": bson.M{"status": models.OfferExpired, "resolved_at": now}})
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale offers: %w", err)
	}
	if result.ModifiedCount > 0 {
		log.Printf("Expired %d stale offer(s)", result.ModifiedCount)
	}
	return result.ModifiedCount, nil
}
