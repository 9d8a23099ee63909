package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/storm-saas/storm/internal/models"
	"github.com/storm-saas/storm/internal/security"
)

// maxAvatarBytes caps avatar uploads at 2 MiB.
const maxAvatarBytes = 2 << 20

// UserHandler manages the authenticated user's own account.
type UserHandler struct {
	db        *gorm.DB
	uploadDir string
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(db *gorm.DB, uploadDir string) *UserHandler {
	return &UserHandler{db: db, uploadDir: uploadDir}
}

// Me returns the current user's profile.
func (h *UserHandler) Me(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"email":      user.Email,
		"username":   user.Username,
		"full_name":  user.FullName,
		"role":       user.Role,
		"verified":   user.Verified,
		"avatar_url": user.AvatarURL,
		"last_login": user.LastLogin,
		"created_at": user.CreatedAt,
	})
}

// updateProfileRequest defines the request body for profile updates.
type updateProfileRequest struct {
	Username *string `json:"username"`
	FullName *string `json:"full_name"`
}

// Update modifies the current user's profile.
func (h *UserHandler) Update(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var body updateProfileRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	updates := map[string]any{"updated_at": time.Now().UTC()}
	if body.Username != nil {
		username := strings.TrimSpace(*body.Username)
		if username == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing username"})
			return
		}
		var taken int64
		if errCount := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
			Where("username = ? AND id <> ?", username, user.ID).
			Count(&taken).Error; errCount != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
			return
		}
		if taken > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username already registered"})
			return
		}
		updates["username"] = username
	}
	if body.FullName != nil {
		updates["full_name"] = strings.TrimSpace(*body.FullName)
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("id = ?", user.ID).
		Updates(updates).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// changeOwnPasswordRequest defines the request body for password changes.
type changeOwnPasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword updates the current user's password after checking the old
// one.
func (h *UserHandler) ChangePassword(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var body changeOwnPasswordRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !security.VerifyPassword(body.CurrentPassword, user.Password) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "wrong password"})
		return
	}
	if len(body.NewPassword) < minPasswordLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password too short"})
		return
	}

	hash, errHash := security.HashPassword(body.NewPassword)
	if errHash != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}
	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]any{"password": hash, "updated_at": time.Now().UTC()}).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "change password failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// UploadAvatar stores an avatar image and records its URL.
func (h *UserHandler) UploadAvatar(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	file, errFile := c.FormFile("avatar")
	if errFile != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing avatar file"})
		return
	}
	if file.Size > maxAvatarBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "avatar too large"})
		return
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported image type"})
		return
	}

	if errMkdir := os.MkdirAll(h.uploadDir, 0o755); errMkdir != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store avatar failed"})
		return
	}
	name := fmt.Sprintf("avatar_%d_%s%s", user.ID, uuid.NewString(), ext)
	if errSave := c.SaveUploadedFile(file, filepath.Join(h.uploadDir, name)); errSave != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store avatar failed"})
		return
	}

	avatarURL := "/uploads/" + name
	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]any{"avatar_url": avatarURL, "updated_at": time.Now().UTC()}).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store avatar failed"})
		return
	}
	h.removeStoredAvatar(user.AvatarURL)
	c.JSON(http.StatusOK, gin.H{"avatar_url": avatarURL})
}

// DeleteAvatar clears the avatar and removes the stored file.
func (h *UserHandler) DeleteAvatar(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if user.AvatarURL == "" {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]any{"avatar_url": "", "updated_at": time.Now().UTC()}).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete avatar failed"})
		return
	}
	h.removeStoredAvatar(user.AvatarURL)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// removeStoredAvatar deletes a previously stored avatar file. Only files
// inside the upload directory are touched.
func (h *UserHandler) removeStoredAvatar(avatarURL string) {
	name := strings.TrimPrefix(avatarURL, "/uploads/")
	if name == "" || name == avatarURL || strings.Contains(name, "/") {
		return
	}
	if errRemove := os.Remove(filepath.Join(h.uploadDir, name)); errRemove != nil && !os.IsNotExist(errRemove) {
		log.WithError(errRemove).Warn("remove avatar file failed")
	}
}
