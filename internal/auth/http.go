package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/abduss/drop24/internal/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RegisterRoutes mounts authentication endpoints under /auth.
func RegisterRoutes(router *gin.RouterGroup, service *Service, authn Authenticator) {
	handler := &httpHandler{service: service}
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", handler.register)
		authGroup.POST("/login", handler.login)
		authGroup.POST("/login-username", handler.loginUsername)
		authGroup.POST("/confirm-email", handler.confirmEmail)
		authGroup.POST("/refresh", handler.refresh)
		authGroup.POST("/logout", AuthMiddleware(authn), handler.logout)
		authGroup.GET("/me", AuthMiddleware(authn), handler.me)
	}
}

type httpHandler struct {
	service *Service
}

type registerRequest struct {
	Email       string  `json:"email" binding:"required,email"`
	Username    string  `json:"username" binding:"omitempty,min=3,max=32"`
	Password    string  `json:"password" binding:"required,min=8,max=72"`
	DisplayName *string `json:"display_name" binding:"omitempty,max=128"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

type usernameLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type confirmEmailRequest struct {
	Email string `json:"email"`
}

type userResponse struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	Username       *string    `json:"username,omitempty"`
	DisplayName    *string    `json:"display_name,omitempty"`
	IsAdmin        bool       `json:"is_admin"`
	EmailConfirmed bool       `json:"email_confirmed"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
}

type authResponse struct {
	Token              string       `json:"token"`
	AccessToken        string       `json:"access_token"`
	AccessTokenExpiry  int64        `json:"access_token_expires_at"`
	RefreshToken       string       `json:"refresh_token"`
	RefreshTokenExpiry int64        `json:"refresh_token_expires_at"`
	User               userResponse `json:"user"`
}

type sessionResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         userResponse `json:"user"`
}

func (h *httpHandler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.Register(c.Request.Context(), RegisterInput{
		Email:       req.Email,
		Username:    req.Username,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrEmailAlreadyExists):
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		case errors.Is(err, ErrUsernameTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
		case errors.Is(err, ErrInvalidUsername):
			c.JSON(http.StatusBadRequest, gin.H{"error": "username may contain letters, digits, '.', '_' and '-' only"})
		case errors.Is(err, ErrInvalidCredentials):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid credentials"})
		default:
			h.serverError(c, "failed to register user", err)
		}
		return
	}

	c.JSON(http.StatusCreated, marshalAuthResponse(result))
}

func (h *httpHandler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	identifier := req.Identifier
	if strings.TrimSpace(identifier) == "" {
		identifier = req.Email
	}
	if strings.TrimSpace(identifier) == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "identifier and password are required"})
		return
	}

	result, err := h.service.Login(c.Request.Context(), LoginInput{Identifier: identifier, Password: req.Password})
	if err != nil {
		h.loginError(c, err)
		return
	}

	c.JSON(http.StatusOK, marshalAuthResponse(result))
}

func (h *httpHandler) loginUsername(c *gin.Context) {
	var req usernameLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Username) == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username and password are required"})
		return
	}

	result, err := h.service.Login(c.Request.Context(), LoginInput{Identifier: req.Username, Password: req.Password})
	if err != nil {
		h.loginError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessionResponse{
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		User:         marshalUser(result.User),
	})
}

func (h *httpHandler) confirmEmail(c *gin.Context) {
	var req confirmEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email is required"})
		return
	}

	user, err := h.service.ConfirmEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		h.serverError(c, "Failed to confirm email", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Email confirmed successfully", "user": marshalUser(user)})
}

func (h *httpHandler) me(c *gin.Context) {
	identity, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	user, err := h.service.Me(c.Request.Context(), identity.ID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Externally issued identities have no local profile.
			c.JSON(http.StatusOK, gin.H{"user": identityResponse(identity)})
			return
		}
		h.serverError(c, "failed to load user", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": marshalUser(user)})
}

func (h *httpHandler) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refresh_token is required"})
		return
	}

	result, err := h.service.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrInvalidRefreshToken) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": ErrInvalidRefreshToken.Error()})
			return
		}
		h.serverError(c, "failed to refresh session", err)
		return
	}
	c.JSON(http.StatusOK, marshalAuthResponse(result))
}

func (h *httpHandler) logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refresh_token is required"})
		return
	}

	if err := h.service.Logout(c.Request.Context(), CallerID(c), req.RefreshToken); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			c.JSON(http.StatusForbidden, gin.H{"error": "session was not issued by this service"})
			return
		}
		h.serverError(c, "failed to log out", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (h *httpHandler) loginError(c *gin.Context, err error) {
	if errors.Is(err, ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	h.serverError(c, "failed to authenticate", err)
}

func (h *httpHandler) serverError(c *gin.Context, msg string, err error) {
	logger.FromContext(c.Request.Context(), nil).Error(msg, zap.Error(err))
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}

func marshalAuthResponse(result AuthResult) authResponse {
	return authResponse{
		Token:              result.Tokens.AccessToken,
		AccessToken:        result.Tokens.AccessToken,
		AccessTokenExpiry:  result.Tokens.AccessTokenExpiry.Unix(),
		RefreshToken:       result.Tokens.RefreshToken,
		RefreshTokenExpiry: result.Tokens.RefreshTokenExpiry.Unix(),
		User:               marshalUser(result.User),
	}
}

func marshalUser(u User) userResponse {
	resp := userResponse{
		ID:             u.ID.String(),
		Email:          u.Email,
		Username:       u.Username,
		DisplayName:    u.DisplayName,
		IsAdmin:        u.IsAdmin,
		EmailConfirmed: u.EmailConfirmed,
	}
	if !u.CreatedAt.IsZero() {
		created := u.CreatedAt.UTC()
		resp.CreatedAt = &created
	}
	return resp
}

func identityResponse(id Identity) userResponse {
	resp := userResponse{ID: id.ID, Email: id.Email, IsAdmin: id.IsAdmin}
	if id.Username != "" {
		username := id.Username
		resp.Username = &username
	}
	return resp
}
