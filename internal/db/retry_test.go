package db

import (
	"errors"
	"fmt"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// mockMongoDuplicateKeyError creates an error that IsMongoDuplicateKeyError
// will recognize: a WriteException carrying code 11000.
func mockMongoDuplicateKeyError(key string) error {
	mongoErr := mongo.WriteError{
		Code:    11000,
		Message: fmt.Sprintf("E11000 duplicate key error collection: test.collection index: _id_ dup key: { : \"%s\" }", key),
	}
	return mongo.WriteException{WriteErrors: []mongo.WriteError{mongoErr}}
}

func TestWithRetries_SuccessfulFirstAttempt(t *testing.T) {
	var opCalled int
	operation := func() error {
		opCalled++
		return nil
	}

	err := WithRetries(operation, 3, IsMongoDuplicateKeyError)
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if opCalled != 1 {
		t.Errorf("Expected operation to be called 1 time, got %d", opCalled)
	}
}

func TestWithRetries_FailureNonDuplicateKey(t *testing.T) {
	var opCalled int
	expectedErr := errors.New("some other error")
	operation := func() error {
		opCalled++
		return expectedErr
	}

	err := WithRetries(operation, 3, IsMongoDuplicateKeyError)
	if !errors.Is(err, expectedErr) {
		t.Errorf("Expected error %v, got %v", expectedErr, err)
	}
	if opCalled != 1 {
		t.Errorf("Expected operation to be called 1 time, got %d", opCalled)
	}
}

func TestWithRetries_ExhaustRetries(t *testing.T) {
	var opCalled int
	collidingID := primitive.NewObjectID()

	operation := func() error {
		opCalled++
		return mockMongoDuplicateKeyError(collidingID.Hex())
	}

	maxRetries := 3
	err := WithRetries(operation, maxRetries, IsMongoDuplicateKeyError)
	if err == nil {
		t.Fatal("Expected a duplicate key error, got nil")
	}
	if !IsMongoDuplicateKeyError(err) {
		t.Errorf("Expected a Mongo duplicate key error, got %T: %v", err, err)
	}

	expectedOpCalls := maxRetries + 1
	if opCalled != expectedOpCalls {
		t.Errorf("Expected operation to be called %d times, got %d", expectedOpCalls, opCalled)
	}
}

func TestWithRetries_CollisionResolves(t *testing.T) {
	var opCalled int

	// First two attempts collide, the third succeeds.
	operation := func() error {
		opCalled++
		if opCalled <= 2 {
			return mockMongoDuplicateKeyError(primitive.NewObjectID().Hex())
		}
		return nil
	}

	err := WithRetries(operation, 3, IsMongoDuplicateKeyError)
	if err != nil {
		t.Fatalf("Expected no error as collision should resolve, got: %v", err)
	}
	if opCalled != 3 {
		t.Errorf("Expected operation to be called 3 times, got %d", opCalled)
	}
}

func TestIsMongoDuplicateKeyError(t *testing.T) {
	if IsMongoDuplicateKeyError(nil) {
		t.Error("nil should not be a duplicate key error")
	}
	if IsMongoDuplicateKeyError(errors.New("other")) {
		t.Error("arbitrary errors should not be duplicate key errors")
	}
	if !IsMongoDuplicateKeyError(mockMongoDuplicateKeyError("x")) {
		t.Error("WriteException with code 11000 should be a duplicate key error")
	}
	bulk := mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{
		{WriteError: mongo.WriteError{Code: 11000, Message: "dup"}},
	}}
	if !IsMongoDuplicateKeyError(bulk) {
		t.Error("BulkWriteException with code 11000 should be a duplicate key error")
	}
}
