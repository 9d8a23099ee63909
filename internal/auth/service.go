// Package auth implements account registration, password and TOTP login, and
// the JWT session lifecycle.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/storm-saas/storm/internal/config"
	"github.com/storm-saas/storm/internal/models"
	"github.com/storm-saas/storm/internal/security"

	"github.com/pquerna/otp/totp"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrEmailTaken indicates the email is already registered.
	ErrEmailTaken = errors.New("email already registered")
	// ErrUsernameTaken indicates the username is already registered.
	ErrUsernameTaken = errors.New("username already registered")
	// ErrInvalidCredentials covers unknown accounts and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrAccountDisabled indicates the account cannot sign in.
	ErrAccountDisabled = errors.New("account is disabled")
	// ErrMFARequired indicates the account has TOTP enabled and no code was
	// supplied with the password.
	ErrMFARequired = errors.New("mfa code required")
	// ErrInvalidMFACode indicates a wrong or reused TOTP code.
	ErrInvalidMFACode = errors.New("invalid mfa code")
	// ErrMFAAlreadyEnabled indicates the account already has a TOTP secret.
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")
	// ErrMFANotEnabled indicates the account has no TOTP secret.
	ErrMFANotEnabled = errors.New("mfa not enabled")
)

// totpIssuer names the service in authenticator apps.
const totpIssuer = "Storm"

// Service owns account and session operations.
type Service struct {
	db  *gorm.DB
	jwt config.JWTConfig
}

// NewService constructs a Service.
func NewService(conn *gorm.DB, jwtCfg config.JWTConfig) *Service {
	return &Service{db: conn, jwt: jwtCfg}
}

// TokenPair is an issued access/refresh token pair.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// RegisterInput carries a new account's fields.
type RegisterInput struct {
	Email    string
	Username string
	Password string
	FullName string
}

// Register creates an account together with its implicit free subscription.
// Both rows are written in one transaction so a half-registered account
// cannot exist.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	username := strings.TrimSpace(in.Username)

	hash, errHash := security.HashPassword(in.Password)
	if errHash != nil {
		return nil, fmt.Errorf("hash password: %w", errHash)
	}

	user := models.User{
		Email:    email,
		Username: username,
		FullName: strings.TrimSpace(in.FullName),
		Password: hash,
		Role:     models.RoleUser,
		Active:   true,
	}

	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if errCount := tx.Model(&models.User{}).Where("email = ?", email).Count(&existing).Error; errCount != nil {
			return errCount
		}
		if existing > 0 {
			return ErrEmailTaken
		}
		if errCount := tx.Model(&models.User{}).Where("username = ?", username).Count(&existing).Error; errCount != nil {
			return errCount
		}
		if existing > 0 {
			return ErrUsernameTaken
		}

		if errCreate := tx.Create(&user).Error; errCreate != nil {
			return errCreate
		}
		sub := models.Subscription{
			UserID: user.ID,
			Plan:   models.PlanFree,
			Status: models.StatusActive,
		}
		return tx.Create(&sub).Error
	})
	if errTx != nil {
		return nil, errTx
	}

	log.WithFields(log.Fields{"user_id": user.ID, "email": email}).Info("registered user")
	return &user, nil
}

// Login verifies the password (and TOTP code when enabled), records the
// login time and issues a token pair.
func (s *Service) Login(ctx context.Context, email, password, totpCode string) (*TokenPair, *models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var user models.User
	errFind := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, nil, ErrInvalidCredentials
	}
	if errFind != nil {
		return nil, nil, errFind
	}

	if !security.VerifyPassword(password, user.Password) {
		return nil, nil, ErrInvalidCredentials
	}
	if !user.Active {
		return nil, nil, ErrAccountDisabled
	}
	if user.TOTPSecret != "" {
		if strings.TrimSpace(totpCode) == "" {
			return nil, nil, ErrMFARequired
		}
		if !totp.Validate(strings.TrimSpace(totpCode), user.TOTPSecret) {
			return nil, nil, ErrInvalidMFACode
		}
	}

	now := time.Now().UTC()
	if errTouch := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		UpdateColumn("last_login", now).Error; errTouch != nil {
		log.WithField("user_id", user.ID).WithError(errTouch).Warn("failed to record login time")
	}
	user.LastLogin = &now

	pair, errIssue := s.issuePair(user.ID)
	if errIssue != nil {
		return nil, nil, errIssue
	}
	return pair, &user, nil
}

// Refresh exchanges a valid refresh token for a new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, errParse := security.ParseUserToken(s.jwt.Secret, refreshToken, security.TokenTypeRefresh)
	if errParse != nil {
		return nil, errParse
	}
	userID, errID := claims.UserID()
	if errID != nil {
		return nil, errID
	}

	// The account may have been disabled since the token was issued.
	var user models.User
	if errFind := s.db.WithContext(ctx).First(&user, userID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, security.ErrInvalidToken
		}
		return nil, errFind
	}
	if !user.Active {
		return nil, ErrAccountDisabled
	}

	return s.issuePair(userID)
}

// Authenticate resolves an access token to its user. Middleware calls this
// on every protected request.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*models.User, error) {
	claims, errParse := security.ParseUserToken(s.jwt.Secret, accessToken, security.TokenTypeAccess)
	if errParse != nil {
		return nil, errParse
	}
	userID, errID := claims.UserID()
	if errID != nil {
		return nil, errID
	}

	var user models.User
	if errFind := s.db.WithContext(ctx).First(&user, userID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, security.ErrInvalidToken
		}
		return nil, errFind
	}
	if !user.Active {
		return nil, ErrAccountDisabled
	}
	return &user, nil
}

func (s *Service) issuePair(userID uint64) (*TokenPair, error) {
	access, errAccess := security.IssueUserToken(s.jwt.Secret, userID, security.TokenTypeAccess, s.jwt.AccessExpiry)
	if errAccess != nil {
		return nil, errAccess
	}
	refresh, errRefresh := security.IssueUserToken(s.jwt.Secret, userID, security.TokenTypeRefresh, s.jwt.RefreshExpiry)
	if errRefresh != nil {
		return nil, errRefresh
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.jwt.AccessExpiry.Seconds()),
	}, nil
}

// BeginTOTPEnrollment generates a pending TOTP secret for the user. The
// secret is not stored until ConfirmTOTPEnrollment proves the authenticator
// has it.
func (s *Service) BeginTOTPEnrollment(ctx context.Context, userID uint64) (secret, otpauthURL string, err error) {
	var user models.User
	if errFind := s.db.WithContext(ctx).First(&user, userID).Error; errFind != nil {
		return "", "", errFind
	}
	if user.TOTPSecret != "" {
		return "", "", ErrMFAAlreadyEnabled
	}

	key, errGen := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: user.Email,
	})
	if errGen != nil {
		return "", "", fmt.Errorf("generate totp secret: %w", errGen)
	}
	return key.Secret(), key.URL(), nil
}

// ConfirmTOTPEnrollment stores the pending secret after a valid code.
func (s *Service) ConfirmTOTPEnrollment(ctx context.Context, userID uint64, secret, code string) error {
	if !totp.Validate(strings.TrimSpace(code), secret) {
		return ErrInvalidMFACode
	}
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND totp_secret = ''", userID).
		Updates(map[string]any{"totp_secret": secret, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrMFAAlreadyEnabled
	}
	log.WithField("user_id", userID).Info("enabled totp mfa")
	return nil
}

// DisableTOTP removes the TOTP secret after a valid code.
func (s *Service) DisableTOTP(ctx context.Context, userID uint64, code string) error {
	var user models.User
	if errFind := s.db.WithContext(ctx).First(&user, userID).Error; errFind != nil {
		return errFind
	}
	if user.TOTPSecret == "" {
		return ErrMFANotEnabled
	}
	if !totp.Validate(strings.TrimSpace(code), user.TOTPSecret) {
		return ErrInvalidMFACode
	}
	errUpdate := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"totp_secret": "", "updated_at": time.Now().UTC()}).Error
	if errUpdate != nil {
		return errUpdate
	}
	log.WithField("user_id", userID).Info("disabled totp mfa")
	return nil
}
