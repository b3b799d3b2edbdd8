package models

import (
	"time"
)

// User is the minimal account record the booking core needs: identity,
// contact address for notifications, and an admin flag for the service
// endpoints. Profile, verification and session management live elsewhere.
type User struct {
	Base         `bson:",inline"`
	Email        string    `bson:"email" json:"email"`
	DisplayName  string    `bson:"display_name" json:"display_name"`
	PasswordHash string    `bson:"password_hash" json:"-"`
	IsAdmin      bool      `bson:"is_admin" json:"is_admin"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
	Deleted      bool      `bson:"deleted" json:"-"` // Soft delete flag
}
