package db

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Identifiable is implemented by models embedding models.Base, allowing the
// insert helper to assign an ID before the write.
type Identifiable interface {
	GenIDIfEmpty()
	GenID()
	GetID() primitive.ObjectID
}

// InsertOne inserts a document, generating its ID if unset. Duplicate key
// collisions are retried with a fresh ID each attempt.
func InsertOne(ctx context.Context, coll *mongo.Collection, doc Identifiable) (Identifiable, error) {
	first := true
	err := Try(func() error {
		if first {
			doc.GenIDIfEmpty()
			first = false
		} else {
			doc.GenID()
		}
		_, insertErr := coll.InsertOne(ctx, doc)
		return insertErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert document into %s (last attempted id %s): %w",
			coll.Name(), doc.GetID().Hex(), err)
	}
	return doc, nil
}
