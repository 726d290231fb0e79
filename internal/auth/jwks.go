package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/abduss/drop24/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const jwksClientTimeout = 10 * time.Second

type externalClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
}

// JWKSVerifier validates tokens signed by an external identity provider. The
// token subject is used verbatim as the owner identifier.
type JWKSVerifier struct {
	jwks   keyfunc.Keyfunc
	issuer string
	leeway time.Duration
}

// NewJWKSVerifier fetches the key set from cfg.JWKSURL and keeps it refreshed
// in the background. Startup does not fail when the provider is unreachable.
func NewJWKSVerifier(cfg config.AuthConfig, log *zap.Logger) (*JWKSVerifier, error) {
	storage, err := jwkset.NewStorageFromHTTP(cfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: jwksClientTimeout},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           cfg.JWKSRefresh,
		RefreshErrorHandler: func(_ context.Context, err error) {
			log.Error("refresh jwks", zap.String("url", cfg.JWKSURL), zap.Error(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create jwks storage: %w", err)
	}

	kf, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("create keyfunc: %w", err)
	}

	return NewJWKSVerifierWithKeyfunc(kf, cfg.JWKSIssuer, cfg.ClockSkewLeeway), nil
}

// NewJWKSVerifierWithKeyfunc builds a verifier around an existing key source.
func NewJWKSVerifierWithKeyfunc(kf keyfunc.Keyfunc, issuer string, leeway time.Duration) *JWKSVerifier {
	return &JWKSVerifier{jwks: kf, issuer: issuer, leeway: leeway}
}

// Verify implements TokenVerifier.
func (v *JWKSVerifier) Verify(ctx context.Context, token string) (UserClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &externalClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.jwks.KeyfuncCtx(ctx), opts...)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return UserClaims{}, ErrUnauthorized
	}

	result := UserClaims{
		Subject:   claims.Subject,
		Email:     claims.Email,
		Username:  claims.PreferredUsername,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		result.IssuedAt = claims.IssuedAt.Time
	}
	return result, nil
}
