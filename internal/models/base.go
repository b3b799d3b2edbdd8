package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Base carries the document ID shared by all persistent models.
type Base struct {
	ID primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
}

func (m *Base) GenIDIfEmpty() {
	if m.ID.IsZero() {
		m.GenID()
	}
}

func (m *Base) GenID() {
	m.ID = primitive.NewObjectID()
}

func (m *Base) GetID() primitive.ObjectID {
	return m.ID
}

func NewBase() Base {
	return Base{
		ID: primitive.NewObjectID(),
	}
}
