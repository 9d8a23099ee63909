// Package apikeys issues, revokes and authenticates API keys. Key plaintext
// is shown once at creation; the registry stores only SHA-256 hashes.
package apikeys

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/storm-saas/storm/internal/models"
	"github.com/storm-saas/storm/internal/security"
	"github.com/storm-saas/storm/internal/subscription"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrQuotaExceeded indicates the plan's active key limit is reached.
	ErrQuotaExceeded = errors.New("api key limit reached for plan")
	// ErrNotFound indicates no key matched the lookup for this user.
	ErrNotFound = errors.New("api key not found")
	// ErrInvalidKey covers unknown, revoked and expired keys alike so the
	// data plane leaks nothing about why a key stopped working.
	ErrInvalidKey = errors.New("invalid api key")
)

// Registry manages API keys against their owners' plan limits.
type Registry struct {
	db     *gorm.DB
	ledger *subscription.Ledger
}

// NewRegistry constructs a Registry backed by conn and plan data from ledger.
func NewRegistry(conn *gorm.DB, ledger *subscription.Ledger) *Registry {
	return &Registry{db: conn, ledger: ledger}
}

// IssueOptions carries the optional attributes of a new key.
type IssueOptions struct {
	Name      string
	ProjectID *uint64
	ExpiresAt *time.Time
	RateLimit int // Requests per second, 0 keeps the default.
}

// Issue creates a key for the user and returns the stored row together with
// the plaintext. Active keys are counted against the plan limit inside the
// transaction so concurrent issuance cannot overshoot.
func (r *Registry) Issue(ctx context.Context, userID uint64, opts IssueOptions) (*models.APIKey, string, error) {
	sub, errSub := r.ledger.GetOrCreate(ctx, userID)
	if errSub != nil {
		return nil, "", errSub
	}
	limit := subscription.PlanFor(sub.Plan).MaxAPIKeys

	plaintext, errGen := security.GenerateAPIKey()
	if errGen != nil {
		return nil, "", fmt.Errorf("generate api key: %w", errGen)
	}

	row := models.APIKey{
		Name:      opts.Name,
		KeyHash:   security.HashAPIKey(plaintext),
		UserID:    userID,
		ProjectID: opts.ProjectID,
		Active:    true,
		RateLimit: opts.RateLimit,
		ExpiresAt: opts.ExpiresAt,
	}

	errTx := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active int64
		errCount := tx.Model(&models.APIKey{}).
			Where("user_id = ? AND active = ?", userID, true).
			Count(&active).Error
		if errCount != nil {
			return errCount
		}
		if active >= int64(limit) {
			return fmt.Errorf("%w: plan %s allows %d keys", ErrQuotaExceeded, sub.Plan, limit)
		}
		return tx.Create(&row).Error
	})
	if errTx != nil {
		return nil, "", errTx
	}

	log.WithFields(log.Fields{"user_id": userID, "key_id": row.ID}).Info("issued api key")
	return &row, plaintext, nil
}

// List returns the user's active keys, newest first.
func (r *Registry) List(ctx context.Context, userID uint64) ([]models.APIKey, error) {
	var keys []models.APIKey
	errFind := r.db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Order("created_at DESC").
		Find(&keys).Error
	if errFind != nil {
		return nil, errFind
	}
	return keys, nil
}

// Get returns one of the user's keys by ID, revoked or not.
func (r *Registry) Get(ctx context.Context, userID, keyID uint64) (*models.APIKey, error) {
	var row models.APIKey
	errFind := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", keyID, userID).
		First(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if errFind != nil {
		return nil, errFind
	}
	return &row, nil
}

// Revoke deactivates one of the user's keys. Revocation frees a plan slot
// immediately; the row stays for the usage history attached to it. Revoking
// an already revoked key is a no-op that keeps the original revoked_at.
func (r *Registry) Revoke(ctx context.Context, userID, keyID uint64) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.APIKey{}).
		Where("id = ? AND user_id = ? AND active = ?", keyID, userID, true).
		Updates(map[string]any{"active": false, "revoked_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		errCount := r.db.WithContext(ctx).
			Model(&models.APIKey{}).
			Where("id = ? AND user_id = ?", keyID, userID).
			Count(&count).Error
		if errCount != nil {
			return errCount
		}
		if count == 0 {
			return ErrNotFound
		}
		return nil
	}
	log.WithFields(log.Fields{"user_id": userID, "key_id": keyID}).Info("revoked api key")
	return nil
}

// Authenticate resolves a plaintext key to its row, rejecting revoked and
// expired keys, and records the use.
func (r *Registry) Authenticate(ctx context.Context, plaintext string) (*models.APIKey, error) {
	if !security.IsAPIKey(plaintext) {
		return nil, ErrInvalidKey
	}

	var row models.APIKey
	errFind := r.db.WithContext(ctx).
		Where("key_hash = ? AND active = ?", security.HashAPIKey(plaintext), true).
		First(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidKey
	}
	if errFind != nil {
		return nil, errFind
	}
	if row.ExpiresAt != nil && row.ExpiresAt.Before(time.Now().UTC()) {
		return nil, ErrInvalidKey
	}

	now := time.Now().UTC()
	errBump := r.db.WithContext(ctx).
		Model(&models.APIKey{}).
		Where("id = ?", row.ID).
		UpdateColumns(map[string]any{
			"usage_count": gorm.Expr("usage_count + 1"),
			"last_used":   now,
		}).Error
	if errBump != nil {
		// The caller already authenticated; a failed counter update is
		// not worth a 500.
		log.WithField("key_id", row.ID).WithError(errBump).Warn("failed to record api key use")
	}
	row.UsageCount++
	row.LastUsed = &now
	return &row, nil
}
