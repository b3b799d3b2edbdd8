package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OfferStatus enumerates the custom-offer negotiation states.
type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferAccepted  OfferStatus = "accepted"
	OfferRefused   OfferStatus = "refused"
	OfferCancelled OfferStatus = "cancelled"
	OfferExpired   OfferStatus = "expired"
)

// FeeType distinguishes flat from percentage additional fees on an offer.
type FeeType string

const (
	FeeFixed      FeeType = "fixed"
	FeePercentage FeeType = "percentage"
)

// AdditionalFee is an extra charge attached to a custom offer. For fixed
// fees Amount is minor units; for percentage fees it is the percentage of
// the custom price (e.g. 10 means 10%).
type AdditionalFee struct {
	Name   string  `bson:"name" json:"name"`
	Amount int64   `bson:"amount" json:"amount"`
	Type   FeeType `bson:"type" json:"type"`
}

// CustomOffer is a negotiated alternative to standard pricing, proposed by
// either party inside a conversation. It references the message that
// carries it rather than living as message metadata, so the lifecycle can
// be enforced at the record level.
type CustomOffer struct {
	Base        `bson:",inline"`
	LocationID  primitive.ObjectID  `bson:"location_id" json:"location_id"`
	SenderID    primitive.ObjectID  `bson:"sender_id" json:"sender_id"`
	ReceiverID  primitive.ObjectID  `bson:"receiver_id" json:"receiver_id"`
	MessageID   primitive.ObjectID  `bson:"message_id" json:"message_id"`
	Start       time.Time           `bson:"start" json:"start"`
	End         time.Time           `bson:"end" json:"end"`
	Attendees   int                 `bson:"attendees,omitempty" json:"attendees,omitempty"`
	PriceCents  int64               `bson:"custom_price" json:"custom_price"`
	Fees        []AdditionalFee     `bson:"additional_fees,omitempty" json:"additional_fees,omitempty"`
	Status      OfferStatus         `bson:"status" json:"status"`
	BookingID   *primitive.ObjectID `bson:"booking_id,omitempty" json:"booking_id,omitempty"` // set on acceptance
	CreatedAt   time.Time           `bson:"created_at" json:"created_at"`
	ResolvedAt  *time.Time          `bson:"resolved_at,omitempty" json:"resolved_at,omitempty"`
}

// Message is the conversation entry a custom offer rides in. The booking
// core only writes offer-bearing messages; plain chat is out of scope.
type Message struct {
	Base       `bson:",inline"`
	SenderID   primitive.ObjectID  `bson:"sender_id" json:"sender_id"`
	ReceiverID primitive.ObjectID  `bson:"receiver_id" json:"receiver_id"`
	LocationID primitive.ObjectID  `bson:"location_id" json:"location_id"`
	Body       string              `bson:"body" json:"body"`
	OfferID    *primitive.ObjectID `bson:"offer_id,omitempty" json:"offer_id,omitempty"`
	CreatedAt  time.Time           `bson:"created_at" json:"created_at"`
}
