package auth

import (
	"time"

	"github.com/google/uuid"
)

// User represents an application user.
type User struct {
	ID             uuid.UUID
	Email          string
	Username       *string
	DisplayName    *string
	IsAdmin        bool
	EmailConfirmed bool
	PasswordHash   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SafeUser removes sensitive fields for response payloads.
func (u User) SafeUser() User {
	u.PasswordHash = ""
	return u
}

// Identity is the normalized principal handed to the rest of the application.
// ID is the canonical opaque owner identifier.
type Identity struct {
	ID       string
	Email    string
	Username string
	IsAdmin  bool
}

// TokenPair bundles access and refresh tokens.
type TokenPair struct {
	AccessToken        string
	AccessTokenExpiry  time.Time
	RefreshToken       string
	RefreshTokenExpiry time.Time
}
