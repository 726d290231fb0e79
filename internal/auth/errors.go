package auth

import "errors"

var (
	// ErrEmailAlreadyExists indicates the email is already registered.
	ErrEmailAlreadyExists = errors.New("email already exists")
	// ErrUsernameTaken indicates the username belongs to another account.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrInvalidCredentials is returned when authentication fails.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidUsername rejects usernames outside the accepted alphabet.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrUserNotFound signals that the user could not be located.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidRefreshToken covers unknown, expired, revoked and reused refresh tokens.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrUnauthorized represents missing or invalid authentication tokens.
	ErrUnauthorized = errors.New("unauthorized")
)
