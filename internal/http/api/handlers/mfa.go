package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/storm-saas/storm/internal/auth"
)

// MFAHandler manages TOTP enrollment endpoints.
type MFAHandler struct {
	auth *auth.Service
}

// NewMFAHandler constructs an MFAHandler.
func NewMFAHandler(authSvc *auth.Service) *MFAHandler {
	return &MFAHandler{auth: authSvc}
}

// Status reports whether the account has TOTP enabled.
func (h *MFAHandler) Status(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"totp_enabled": user.TOTPSecret != ""})
}

// PrepareTOTP generates a pending secret. The client must confirm with a
// code before the secret takes effect.
func (h *MFAHandler) PrepareTOTP(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	secret, url, errBegin := h.auth.BeginTOTPEnrollment(c.Request.Context(), user.ID)
	if errBegin != nil {
		if errors.Is(errBegin, auth.ErrMFAAlreadyEnabled) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "mfa already enabled"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "prepare totp failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"secret": secret, "otpauth_url": url})
}

// confirmTOTPRequest defines the request body for TOTP confirmation.
type confirmTOTPRequest struct {
	Secret string `json:"secret"`
	Code   string `json:"code"`
}

// ConfirmTOTP enables MFA after the code proves the authenticator holds the
// secret.
func (h *MFAHandler) ConfirmTOTP(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var body confirmTOTPRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Secret) == "" || strings.TrimSpace(body.Code) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing secret or code"})
		return
	}

	errConfirm := h.auth.ConfirmTOTPEnrollment(c.Request.Context(), user.ID, body.Secret, body.Code)
	if errConfirm != nil {
		switch {
		case errors.Is(errConfirm, auth.ErrInvalidMFACode):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mfa code"})
		case errors.Is(errConfirm, auth.ErrMFAAlreadyEnabled):
			c.JSON(http.StatusBadRequest, gin.H{"error": "mfa already enabled"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "confirm totp failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// disableTOTPRequest defines the request body for TOTP disable.
type disableTOTPRequest struct {
	Code string `json:"code"`
}

// DisableTOTP removes the TOTP secret after a valid code.
func (h *MFAHandler) DisableTOTP(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var body disableTOTPRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	errDisable := h.auth.DisableTOTP(c.Request.Context(), user.ID, body.Code)
	if errDisable != nil {
		switch {
		case errors.Is(errDisable, auth.ErrInvalidMFACode):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mfa code"})
		case errors.Is(errDisable, auth.ErrMFANotEnabled):
			c.JSON(http.StatusBadRequest, gin.H{"error": "mfa not enabled"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "disable totp failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
