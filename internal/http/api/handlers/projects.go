package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/storm-saas/storm/internal/models"
)

// ProjectHandler manages projects owned by the current user.
type ProjectHandler struct {
	db *gorm.DB
}

// NewProjectHandler constructs a ProjectHandler.
func NewProjectHandler(db *gorm.DB) *ProjectHandler {
	return &ProjectHandler{db: db}
}

type projectRequest struct {
	Name        *string         `json:"name"`
	Description *string         `json:"description"`
	Settings    json.RawMessage `json:"settings"`
}

func projectJSON(p *models.Project, keyCount int64) gin.H {
	out := gin.H{
		"id":          p.ID,
		"name":        p.Name,
		"description": p.Description,
		"created_at":  p.CreatedAt,
		"updated_at":  p.UpdatedAt,
	}
	if len(p.Settings) > 0 {
		out["settings"] = json.RawMessage(p.Settings)
	}
	if keyCount >= 0 {
		out["api_key_count"] = keyCount
	}
	return out
}

func (h *ProjectHandler) ownedProject(c *gin.Context, ownerID uint64) (*models.Project, bool) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return nil, false
	}
	var project models.Project
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("id = ? AND owner_id = ? AND active = ?", id, ownerID, true).
		First(&project).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "load project failed"})
		}
		return nil, false
	}
	return &project, true
}

// Create registers a new project for the current user.
func (h *ProjectHandler) Create(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var body projectRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.Name == nil || strings.TrimSpace(*body.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing name"})
		return
	}

	project := models.Project{
		Name:    strings.TrimSpace(*body.Name),
		OwnerID: user.ID,
		Active:  true,
	}
	if body.Description != nil {
		project.Description = strings.TrimSpace(*body.Description)
	}
	if len(body.Settings) > 0 {
		if !json.Valid(body.Settings) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid settings"})
			return
		}
		project.Settings = datatypes.JSON(body.Settings)
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&project).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create project failed"})
		return
	}
	c.JSON(http.StatusCreated, projectJSON(&project, 0))
}

// List returns the current user's active projects.
func (h *ProjectHandler) List(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var projects []models.Project
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("owner_id = ? AND active = ?", user.ID, true).
		Order("id DESC").
		Find(&projects).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list projects failed"})
		return
	}

	out := make([]gin.H, 0, len(projects))
	for i := range projects {
		var keys int64
		h.db.WithContext(c.Request.Context()).Model(&models.APIKey{}).
			Where("project_id = ? AND active = ?", projects[i].ID, true).
			Count(&keys)
		out = append(out, projectJSON(&projects[i], keys))
	}
	c.JSON(http.StatusOK, gin.H{"projects": out})
}

// Get returns a single project owned by the current user.
func (h *ProjectHandler) Get(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	project, ok := h.ownedProject(c, user.ID)
	if !ok {
		return
	}
	var keys int64
	h.db.WithContext(c.Request.Context()).Model(&models.APIKey{}).
		Where("project_id = ? AND active = ?", project.ID, true).
		Count(&keys)
	c.JSON(http.StatusOK, projectJSON(project, keys))
}

// Update modifies a project's name, description or settings.
func (h *ProjectHandler) Update(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	project, ok := h.ownedProject(c, user.ID)
	if !ok {
		return
	}
	var body projectRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	updates := map[string]any{"updated_at": time.Now().UTC()}
	if body.Name != nil {
		name := strings.TrimSpace(*body.Name)
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing name"})
			return
		}
		updates["name"] = name
	}
	if body.Description != nil {
		updates["description"] = strings.TrimSpace(*body.Description)
	}
	if len(body.Settings) > 0 {
		if !json.Valid(body.Settings) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid settings"})
			return
		}
		updates["settings"] = datatypes.JSON(body.Settings)
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(project).
		Updates(updates).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update project failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Delete soft-deletes a project and revokes its API keys.
func (h *ProjectHandler) Delete(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	project, ok := h.ownedProject(c, user.ID)
	if !ok {
		return
	}

	now := time.Now().UTC()
	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if errKeys := tx.Model(&models.APIKey{}).
			Where("project_id = ? AND active = ?", project.ID, true).
			Updates(map[string]any{"active": false, "revoked_at": &now}).Error; errKeys != nil {
			return errKeys
		}
		return tx.Model(project).
			Updates(map[string]any{"active": false, "updated_at": now}).Error
	})
	if errTx != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete project failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
