package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/abduss/drop24/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	refreshTokenLength = 48
	maxPasswordLength  = 72 // bcrypt limit
	tokenIssuer        = "drop24"
	tokenAudience      = "drop24-api"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

// userStore abstracts the persistence layer.
type userStore interface {
	CreateUser(ctx context.Context, email string, username *string, passwordHash string, displayName *string) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindUserByUsername(ctx context.Context, username string) (User, error)
	FindUserByID(ctx context.Context, id uuid.UUID) (User, error)
	ConfirmEmail(ctx context.Context, email string) (User, error)
	StoreRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error
	ConsumeRefreshToken(ctx context.Context, tokenHash string, now time.Time) (uuid.UUID, error)
	RevokeToken(ctx context.Context, userID uuid.UUID, tokenHash string) error
}

// Service encapsulates authentication use cases.
type Service struct {
	store   userStore
	cfg     config.AuthConfig
	nowFunc func() time.Time
	parser  *jwt.Parser
}

// NewService creates a Service with dependencies.
func NewService(store userStore, cfg config.AuthConfig) *Service {
	s := &Service{
		store:   store,
		cfg:     cfg,
		nowFunc: time.Now,
	}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.ClockSkewLeeway),
		jwt.WithTimeFunc(func() time.Time { return s.nowFunc() }),
	)
	return s
}

// RegisterInput carries data for user registration.
type RegisterInput struct {
	Email       string
	Username    string
	Password    string
	DisplayName *string
}

// LoginInput carries login credentials. Identifier is a username or an email.
type LoginInput struct {
	Identifier string
	Password   string
}

// AuthResult contains user and token information.
type AuthResult struct {
	User   User
	Tokens TokenPair
}

// UserClaims describes the validated identity extracted from an access token.
type UserClaims struct {
	Subject   string
	Email     string
	Username  string
	IsAdmin   bool
	ExpiresAt time.Time
	IssuedAt  time.Time
}

type accessClaims struct {
	jwt.RegisteredClaims
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
	IsAdmin  bool   `json:"is_admin"`
}

// Register creates a new user, hashing the password and issuing tokens.
func (s *Service) Register(ctx context.Context, input RegisterInput) (AuthResult, error) {
	if err := validateCredentials(input.Email, input.Password); err != nil {
		return AuthResult{}, err
	}

	var username *string
	if name := strings.TrimSpace(input.Username); name != "" {
		if !usernamePattern.MatchString(name) {
			return AuthResult{}, ErrInvalidUsername
		}
		username = &name
	}

	hashedPassword, err := hashPassword(input.Password, s.cfg.BcryptCost)
	if err != nil {
		return AuthResult{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, normalizeEmail(input.Email), username, hashedPassword, input.DisplayName)
	if err != nil {
		if errors.Is(err, ErrEmailAlreadyExists) || errors.Is(err, ErrUsernameTaken) {
			return AuthResult{}, err
		}
		return AuthResult{}, fmt.Errorf("create user: %w", err)
	}

	return s.issueTokens(ctx, user)
}

// Login authenticates credentials and issues a fresh token pair.
func (s *Service) Login(ctx context.Context, input LoginInput) (AuthResult, error) {
	if strings.TrimSpace(input.Identifier) == "" || strings.TrimSpace(input.Password) == "" {
		return AuthResult{}, ErrInvalidCredentials
	}

	user, err := s.ResolveIdentity(ctx, input.Identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, fmt.Errorf("resolve identity: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return AuthResult{}, ErrInvalidCredentials
	}

	return s.issueTokens(ctx, user)
}

// ResolveIdentity maps a username or email to a user with a single indexed lookup.
func (s *Service) ResolveIdentity(ctx context.Context, usernameOrEmail string) (User, error) {
	identifier := strings.TrimSpace(usernameOrEmail)
	if identifier == "" {
		return User{}, ErrUserNotFound
	}
	if strings.Contains(identifier, "@") {
		return s.store.FindUserByEmail(ctx, normalizeEmail(identifier))
	}
	return s.store.FindUserByUsername(ctx, identifier)
}

// ConfirmEmail marks the account registered under email as confirmed.
func (s *Service) ConfirmEmail(ctx context.Context, email string) (User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return User{}, ErrUserNotFound
	}
	user, err := s.store.ConfirmEmail(ctx, email)
	if err != nil {
		return User{}, err
	}
	return user.SafeUser(), nil
}

// Me returns the stored profile of the user behind subject.
func (s *Service) Me(ctx context.Context, subject string) (User, error) {
	id, err := uuid.Parse(subject)
	if err != nil {
		return User{}, ErrUserNotFound
	}
	user, err := s.store.FindUserByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	return user.SafeUser(), nil
}

// Refresh exchanges a refresh token for a new token pair. The presented token
// is revoked in the same step, so each refresh token works once.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (AuthResult, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return AuthResult{}, ErrInvalidRefreshToken
	}

	userID, err := s.store.ConsumeRefreshToken(ctx, hashRefreshToken(refreshToken, s.cfg.RefreshTokenSecret), s.nowFunc())
	if err != nil {
		return AuthResult{}, err
	}

	user, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return AuthResult{}, ErrInvalidRefreshToken
		}
		return AuthResult{}, err
	}
	return s.issueTokens(ctx, user)
}

// Logout revokes a refresh token belonging to subject.
func (s *Service) Logout(ctx context.Context, subject, refreshToken string) error {
	id, err := uuid.Parse(subject)
	if err != nil {
		return ErrUnauthorized
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return ErrInvalidRefreshToken
	}
	return s.store.RevokeToken(ctx, id, hashRefreshToken(refreshToken, s.cfg.RefreshTokenSecret))
}

// Verify implements TokenVerifier for locally issued tokens.
func (s *Service) Verify(_ context.Context, token string) (UserClaims, error) {
	return s.ValidateAccessToken(token)
}

// ValidateAccessToken verifies the token signature and extracts user claims.
func (s *Service) ValidateAccessToken(tokenString string) (UserClaims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return UserClaims{}, ErrUnauthorized
	}

	claims := &accessClaims{}
	parsed, err := s.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.AccessTokenSecret), nil
	})
	if err != nil || !parsed.Valid {
		return UserClaims{}, ErrUnauthorized
	}

	if _, err := uuid.Parse(claims.Subject); err != nil {
		return UserClaims{}, ErrUnauthorized
	}

	result := UserClaims{
		Subject:   claims.Subject,
		Email:     claims.Email,
		Username:  claims.Username,
		IsAdmin:   claims.IsAdmin,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		result.IssuedAt = claims.IssuedAt.Time
	}
	return result, nil
}

func (s *Service) issueTokens(ctx context.Context, user User) (AuthResult, error) {
	now := s.nowFunc()

	accessToken, accessExpiry, err := s.generateAccessToken(user, now)
	if err != nil {
		return AuthResult{}, fmt.Errorf("generate access token: %w", err)
	}

	refreshToken, refreshExpiry, err := s.generateRefreshToken(now)
	if err != nil {
		return AuthResult{}, fmt.Errorf("generate refresh token: %w", err)
	}

	refreshHash := hashRefreshToken(refreshToken, s.cfg.RefreshTokenSecret)
	if err := s.store.StoreRefreshToken(ctx, user.ID, refreshHash, refreshExpiry); err != nil {
		return AuthResult{}, fmt.Errorf("store refresh token: %w", err)
	}

	return AuthResult{
		User: user.SafeUser(),
		Tokens: TokenPair{
			AccessToken:        accessToken,
			AccessTokenExpiry:  accessExpiry,
			RefreshToken:       refreshToken,
			RefreshTokenExpiry: refreshExpiry,
		},
	}, nil
}

func (s *Service) generateAccessToken(user User, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(s.cfg.AccessTokenTTL)
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:   user.Email,
		IsAdmin: user.IsAdmin,
	}
	if user.Username != nil {
		claims.Username = *user.Username
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.AccessTokenSecret))
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

func (s *Service) generateRefreshToken(now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(s.cfg.RefreshTokenTTL)

	raw := make([]byte, refreshTokenLength)
	if _, err := rand.Read(raw); err != nil {
		return "", time.Time{}, err
	}

	token := base64.RawURLEncoding.EncodeToString(raw)
	return token, expiresAt, nil
}

func hashPassword(password string, cost int) (string, error) {
	if len(password) > maxPasswordLength {
		return "", fmt.Errorf("password exceeds maximum length of %d characters", maxPasswordLength)
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func hashRefreshToken(token, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateCredentials(email, password string) error {
	if len(strings.TrimSpace(email)) == 0 || len(strings.TrimSpace(password)) == 0 {
		return ErrInvalidCredentials
	}

	if len(password) < 8 || len(password) > maxPasswordLength {
		return ErrInvalidCredentials
	}
	return nil
}
