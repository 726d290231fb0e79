package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	service := NewService(newMemoryStore(), testAuthConfig())
	router := gin.New()
	RegisterRoutes(router.Group("/api"), service, NewGateway(testAuthConfig(), service))
	return router, service
}

func doJSON(router http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHTTPRegisterLoginAndMe(t *testing.T) {
	router, _ := newAuthRouter(t)

	rec := doJSON(router, http.MethodPost, "/api/auth/register", gin.H{
		"email": "user@example.com", "username": "alice", "password": "StrongPass1!",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var registered authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &registered))
	assert.NotEmpty(t, registered.Token)
	assert.Equal(t, registered.Token, registered.AccessToken)

	rec = doJSON(router, http.MethodPost, "/api/auth/login", gin.H{
		"identifier": "alice", "password": "StrongPass1!",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(router, http.MethodGet, "/api/auth/me", nil, registered.Token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var me struct {
		User userResponse `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, registered.User.ID, me.User.ID)

	rec = doJSON(router, http.MethodGet, "/api/auth/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHTTPLoginUsername(t *testing.T) {
	router, _ := newAuthRouter(t)
	doJSON(router, http.MethodPost, "/api/auth/register", gin.H{
		"email": "user@example.com", "username": "alice", "password": "StrongPass1!",
	}, "")

	rec := doJSON(router, http.MethodPost, "/api/auth/login-username", gin.H{"username": "alice"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Username and password are required"}`, rec.Body.String())

	rec = doJSON(router, http.MethodPost, "/api/auth/login-username", gin.H{"username": "alice", "password": "nope-nope"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(router, http.MethodPost, "/api/auth/login-username", gin.H{"username": "alice", "password": "StrongPass1!"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var session map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.NotEmpty(t, session["access_token"])
	assert.NotEmpty(t, session["refresh_token"])
	assert.Contains(t, session, "user")
}

func TestHTTPConfirmEmail(t *testing.T) {
	router, _ := newAuthRouter(t)
	doJSON(router, http.MethodPost, "/api/auth/register", gin.H{
		"email": "user@example.com", "password": "StrongPass1!",
	}, "")

	rec := doJSON(router, http.MethodPost, "/api/auth/confirm-email", gin.H{}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Email is required"}`, rec.Body.String())

	rec = doJSON(router, http.MethodPost, "/api/auth/confirm-email", gin.H{"email": "ghost@example.com"}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(router, http.MethodPost, "/api/auth/confirm-email", gin.H{"email": "user@example.com"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Message string       `json:"message"`
		User    userResponse `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Email confirmed successfully", body.Message)
	assert.True(t, body.User.EmailConfirmed)
}

func TestHTTPRefreshAndLogout(t *testing.T) {
	router, _ := newAuthRouter(t)
	rec := doJSON(router, http.MethodPost, "/api/auth/register", gin.H{
		"email": "user@example.com", "password": "StrongPass1!",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var registered authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &registered))

	rec = doJSON(router, http.MethodPost, "/api/auth/refresh", gin.H{}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(router, http.MethodPost, "/api/auth/refresh", gin.H{"refresh_token": registered.RefreshToken}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var refreshed authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &refreshed))
	assert.NotEqual(t, registered.RefreshToken, refreshed.RefreshToken)
	assert.Equal(t, registered.User.ID, refreshed.User.ID)

	rec = doJSON(router, http.MethodPost, "/api/auth/refresh", gin.H{"refresh_token": registered.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(router, http.MethodPost, "/api/auth/logout", gin.H{"refresh_token": refreshed.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(router, http.MethodPost, "/api/auth/logout", gin.H{"refresh_token": refreshed.RefreshToken}, refreshed.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(router, http.MethodPost, "/api/auth/refresh", gin.H{"refresh_token": refreshed.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOptionalAuthMiddlewareTreatsBadTokenAsAnonymous(t *testing.T) {
	gin.SetMode(gin.TestMode)
	service := NewService(newMemoryStore(), testAuthConfig())
	router := gin.New()
	router.GET("/who", OptionalAuthMiddleware(NewGateway(testAuthConfig(), service)), func(c *gin.Context) {
		c.String(http.StatusOK, CallerID(c))
	})

	rec := doJSON(router, http.MethodGet, "/who", nil, "garbage")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	result := registerUser(t, service, "user@example.com", "alice")
	rec = doJSON(router, http.MethodGet, "/who", nil, result.Tokens.AccessToken)
	assert.Equal(t, result.User.ID.String(), rec.Body.String())
}
