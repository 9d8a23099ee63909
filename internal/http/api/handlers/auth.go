package handlers

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/storm-saas/storm/internal/auth"
	"github.com/storm-saas/storm/internal/security"
)

// minPasswordLength is the shortest accepted password.
const minPasswordLength = 8

// AuthHandler manages registration and login endpoints.
type AuthHandler struct {
	auth *auth.Service
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(authSvc *auth.Service) *AuthHandler {
	return &AuthHandler{auth: authSvc}
}

// registerRequest defines the request body for registration.
type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// Register creates a new account with its free subscription.
func (h *AuthHandler) Register(c *gin.Context) {
	var body registerRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	email := strings.TrimSpace(body.Email)
	if _, errAddr := mail.ParseAddress(email); errAddr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email"})
		return
	}
	if strings.TrimSpace(body.Username) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing username"})
		return
	}
	if len(body.Password) < minPasswordLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password too short"})
		return
	}

	user, errRegister := h.auth.Register(c.Request.Context(), auth.RegisterInput{
		Email:    email,
		Username: body.Username,
		Password: body.Password,
		FullName: body.FullName,
	})
	if errRegister != nil {
		if errors.Is(errRegister, auth.ErrEmailTaken) || errors.Is(errRegister, auth.ErrUsernameTaken) {
			c.JSON(http.StatusBadRequest, gin.H{"error": errRegister.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "register failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":       user.ID,
		"email":    user.Email,
		"username": user.Username,
	})
}

// loginRequest defines the request body for login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TOTPCode string `json:"totp_code"`
}

// Login verifies credentials and returns a token pair.
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	h.finishLogin(c, body)
}

func (h *AuthHandler) finishLogin(c *gin.Context, body loginRequest) {
	pair, user, errLogin := h.auth.Login(c.Request.Context(), body.Email, body.Password, body.TOTPCode)
	if errLogin != nil {
		switch {
		case errors.Is(errLogin, auth.ErrMFARequired):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "mfa code required", "mfa_required": true})
		case errors.Is(errLogin, auth.ErrInvalidMFACode):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid mfa code"})
		case errors.Is(errLogin, auth.ErrAccountDisabled):
			c.JSON(http.StatusForbidden, gin.H{"error": "account disabled"})
		case errors.Is(errLogin, auth.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    pair.TokenType,
		"expires_in":    pair.ExpiresIn,
		"user": gin.H{
			"id":       user.ID,
			"email":    user.Email,
			"username": user.Username,
			"role":     user.Role,
		},
	})
}

// LoginTOTP completes an MFA challenge by resubmitting credentials with the
// authenticator code.
func (h *AuthHandler) LoginTOTP(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.TOTPCode) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing mfa code"})
		return
	}
	h.finishLogin(c, body)
}

// Logout acknowledges a logout. Tokens are stateless; the client discards
// them.
func (h *AuthHandler) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// verifyTokenRequest defines the request body for token verification.
type verifyTokenRequest struct {
	Token string `json:"token"`
}

// VerifyToken reports whether an access token is currently valid.
func (h *AuthHandler) VerifyToken(c *gin.Context) {
	var body verifyTokenRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	user, errAuth := h.auth.Authenticate(c.Request.Context(), strings.TrimSpace(body.Token))
	if errAuth != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "user_id": user.ID})
}

// refreshRequest defines the request body for token refresh.
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a refresh token for a new pair.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var body refreshRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.RefreshToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing refresh token"})
		return
	}

	pair, errRefresh := h.auth.Refresh(c.Request.Context(), body.RefreshToken)
	if errRefresh != nil {
		if errors.Is(errRefresh, security.ErrInvalidToken) || errors.Is(errRefresh, auth.ErrAccountDisabled) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    pair.TokenType,
		"expires_in":    pair.ExpiresIn,
	})
}
