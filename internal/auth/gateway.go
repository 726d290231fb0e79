package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/abduss/drop24/internal/config"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tokenCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "drop24",
		Name:      "auth_token_cache_hits_total",
		Help:      "Bearer tokens resolved from the verification cache.",
	})
	tokenCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "drop24",
		Name:      "auth_token_cache_misses_total",
		Help:      "Bearer tokens that required signature verification.",
	})
)

// TokenVerifier validates a bearer token and returns its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (UserClaims, error)
}

// Gateway maps a bearer credential to an Identity. Tokens are tried against
// each verifier in order; successful verifications are cached until the
// cache TTL or the token expiry, whichever comes first.
type Gateway struct {
	verifiers []TokenVerifier
	cache     *expirable.LRU[string, UserClaims]
	nowFunc   func() time.Time
}

// NewGateway builds a Gateway. Nil verifiers are skipped.
func NewGateway(cfg config.AuthConfig, verifiers ...TokenVerifier) *Gateway {
	g := &Gateway{nowFunc: time.Now}
	for _, v := range verifiers {
		if v != nil {
			g.verifiers = append(g.verifiers, v)
		}
	}
	if cfg.TokenCacheSize > 0 && cfg.TokenCacheTTL > 0 {
		g.cache = expirable.NewLRU[string, UserClaims](cfg.TokenCacheSize, nil, cfg.TokenCacheTTL)
	}
	return g
}

// Authenticate implements Authenticator.
func (g *Gateway) Authenticate(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrUnauthorized
	}

	key := tokenKey(token)
	if g.cache != nil {
		if claims, ok := g.cache.Get(key); ok {
			if g.nowFunc().Before(claims.ExpiresAt) {
				tokenCacheHits.Inc()
				return identityFromClaims(claims), nil
			}
			g.cache.Remove(key)
		}
		tokenCacheMisses.Inc()
	}

	for _, v := range g.verifiers {
		claims, err := v.Verify(ctx, token)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				continue
			}
			return Identity{}, err
		}
		if g.cache != nil {
			g.cache.Add(key, claims)
		}
		return identityFromClaims(claims), nil
	}
	return Identity{}, ErrUnauthorized
}

func identityFromClaims(c UserClaims) Identity {
	return Identity{ID: c.Subject, Email: c.Email, Username: c.Username, IsAdmin: c.IsAdmin}
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
