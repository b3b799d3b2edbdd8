package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"blocmark/server/internal/auth"
	"blocmark/server/internal/db"
	"blocmark/server/internal/models"
)

// IUserService defines the minimal account operations the booking core
// needs. Full profile management lives outside this service.
type IUserService interface {
	CreateUser(ctx context.Context, email, displayName, password string) (*models.User, error)
	FindByID(ctx context.Context, userID primitive.ObjectID) (*models.User, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
}

const usersCollection = "users"

type userService struct {
	db *mongo.Database
}

// NewUserService creates a new UserService.
func NewUserService(db *mongo.Database) IUserService {
	return &userService{db: db}
}

// CreateUser registers an account with a bcrypt password hash.
func (s *userService) CreateUser(ctx context.Context, email, displayName, password string) (*models.User, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	doc, err := db.InsertOne(ctx, s.db.Collection(usersCollection), &models.User{
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
		Deleted:      false,
	})
	if err != nil {
		return nil, err
	}
	return doc.(*models.User), nil
}

// FindByID returns a non-deleted user by ID.
func (s *userService) FindByID(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	var user models.User
	filter := bson.M{"_id": userID, "deleted": false}
	err := s.db.Collection(usersCollection).FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding user %s: %w", userID.Hex(), err)
	}
	return &user, nil
}

// Authenticate verifies the credentials and returns the matching user.
func (s *userService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	var user models.User
	filter := bson.M{"email": email, "deleted": false}
	err := s.db.Collection(usersCollection).FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding user by email: %w", err)
	}
	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, mongo.ErrNoDocuments // Do not reveal whether the account exists
	}
	return &user, nil
}
