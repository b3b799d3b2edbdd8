package services

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var testMongoURI string

func init() {
	// Get current file path
	_, filename, _, _ := runtime.Caller(0)
	// Try to load .env from project root (2 levels up from this file)
	projectRoot := filepath.Join(filepath.Dir(filename), "..", "..")
	if err := godotenv.Load(filepath.Join(projectRoot, ".env")); err != nil {
		// Try current directory as fallback
		godotenv.Load()
	}

	testMongoURI = os.Getenv("MONGO_URI_TEST")
	if testMongoURI == "" {
		panic("MONGO_URI_TEST environment variable is required for tests")
	}
}

func setupTestDB(t *testing.T, dbName string) *mongo.Database {
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(testMongoURI))
	require.NoError(t, err, "Failed to connect to MongoDB")
	db := client.Database(dbName)
	for _, collection := range []string{bookingsCollection, bookingEditsCollection, offersCollection, messagesCollection, locationsCollection, usersCollection, notificationsCollection} {
		_ = db.Collection(collection).Drop(context.Background())
	}
	return db
}

func teardownTestDB(t *testing.T, db *mongo.Database) {
	client := db.Client()
	if err := db.Drop(context.Background()); err != nil {
		t.Logf("Failed to drop database %s: %v", db.Name(), err)
	}
	if err := client.Disconnect(context.Background()); err != nil {
		t.Logf("Failed to disconnect MongoDB client: %v", err)
	}
}
