package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/storm-saas/storm/internal/config"
	"github.com/storm-saas/storm/internal/db"
	"github.com/storm-saas/storm/internal/models"
	"github.com/storm-saas/storm/internal/security"

	"github.com/pquerna/otp/totp"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "storm-test.db")
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	jwtCfg := config.JWTConfig{
		Secret:        "test-secret",
		AccessExpiry:  30 * time.Minute,
		RefreshExpiry: 7 * 24 * time.Hour,
	}
	return NewService(conn, jwtCfg)
}

func registerTestUser(t *testing.T, s *Service, email string) *models.User {
	t.Helper()
	user, err := s.Register(context.Background(), RegisterInput{
		Email:    email,
		Username: email,
		Password: "hunter2!",
		FullName: "Test User",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return user
}

func TestRegister_CreatesFreeSubscription(t *testing.T) {
	s := newTestService(t)
	user := registerTestUser(t, s, "a@example.com")

	if user.Role != models.RoleUser || !user.Active {
		t.Fatalf("unexpected account defaults: %+v", user)
	}
	if user.Password == "hunter2!" {
		t.Fatalf("password stored in plaintext")
	}

	var sub models.Subscription
	if errFind := s.db.Where("user_id = ?", user.ID).First(&sub).Error; errFind != nil {
		t.Fatalf("load subscription: %v", errFind)
	}
	if sub.Plan != models.PlanFree || sub.Status != models.StatusActive {
		t.Fatalf("expected free/active, got %s/%s", sub.Plan, sub.Status)
	}
}

func TestRegister_DuplicateRejected(t *testing.T) {
	s := newTestService(t)
	registerTestUser(t, s, "a@example.com")

	_, err := s.Register(context.Background(), RegisterInput{
		Email:    "A@Example.com", // Emails are matched case-insensitively.
		Username: "someone-else",
		Password: "hunter2!",
	})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	_, err = s.Register(context.Background(), RegisterInput{
		Email:    "b@example.com",
		Username: "a@example.com",
		Password: "hunter2!",
	})
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestLogin_Succeeds(t *testing.T) {
	s := newTestService(t)
	registered := registerTestUser(t, s, "a@example.com")

	pair, user, err := s.Login(context.Background(), "a@example.com", "hunter2!", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.ID != registered.ID {
		t.Fatalf("expected user %d, got %d", registered.ID, user.ID)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.TokenType != "bearer" {
		t.Fatalf("incomplete token pair: %+v", pair)
	}
	if user.LastLogin == nil {
		t.Fatalf("expected login time to be recorded")
	}

	got, errAuth := s.Authenticate(context.Background(), pair.AccessToken)
	if errAuth != nil {
		t.Fatalf("authenticate: %v", errAuth)
	}
	if got.ID != registered.ID {
		t.Fatalf("expected user %d from access token, got %d", registered.ID, got.ID)
	}
}

func TestLogin_Rejections(t *testing.T) {
	s := newTestService(t)
	user := registerTestUser(t, s, "a@example.com")

	if _, _, err := s.Login(context.Background(), "a@example.com", "wrong", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, _, err := s.Login(context.Background(), "nobody@example.com", "hunter2!", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}

	if errDisable := s.db.Model(&models.User{}).Where("id = ?", user.ID).Update("active", false).Error; errDisable != nil {
		t.Fatalf("disable user: %v", errDisable)
	}
	if _, _, err := s.Login(context.Background(), "a@example.com", "hunter2!", ""); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
}

func TestLogin_TOTPFlow(t *testing.T) {
	s := newTestService(t)
	user := registerTestUser(t, s, "a@example.com")

	secret, url, err := s.BeginTOTPEnrollment(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("begin enrollment: %v", err)
	}
	if secret == "" || url == "" {
		t.Fatalf("expected secret and otpauth url")
	}

	// Login is unaffected until the enrollment is confirmed.
	if _, _, errLogin := s.Login(context.Background(), "a@example.com", "hunter2!", ""); errLogin != nil {
		t.Fatalf("login before confirm: %v", errLogin)
	}

	code, errCode := totp.GenerateCode(secret, time.Now())
	if errCode != nil {
		t.Fatalf("generate code: %v", errCode)
	}
	if errConfirm := s.ConfirmTOTPEnrollment(context.Background(), user.ID, secret, code); errConfirm != nil {
		t.Fatalf("confirm enrollment: %v", errConfirm)
	}

	if _, _, errLogin := s.Login(context.Background(), "a@example.com", "hunter2!", ""); !errors.Is(errLogin, ErrMFARequired) {
		t.Fatalf("expected ErrMFARequired, got %v", errLogin)
	}
	if _, _, errLogin := s.Login(context.Background(), "a@example.com", "hunter2!", "000000"); !errors.Is(errLogin, ErrInvalidMFACode) {
		t.Fatalf("expected ErrInvalidMFACode, got %v", errLogin)
	}

	code, errCode = totp.GenerateCode(secret, time.Now())
	if errCode != nil {
		t.Fatalf("generate code: %v", errCode)
	}
	if _, _, errLogin := s.Login(context.Background(), "a@example.com", "hunter2!", code); errLogin != nil {
		t.Fatalf("login with code: %v", errLogin)
	}

	code, errCode = totp.GenerateCode(secret, time.Now())
	if errCode != nil {
		t.Fatalf("generate code: %v", errCode)
	}
	if errDisable := s.DisableTOTP(context.Background(), user.ID, code); errDisable != nil {
		t.Fatalf("disable totp: %v", errDisable)
	}
	if _, _, errLogin := s.Login(context.Background(), "a@example.com", "hunter2!", ""); errLogin != nil {
		t.Fatalf("login after disable: %v", errLogin)
	}
}

func TestRefresh_RotatesPair(t *testing.T) {
	s := newTestService(t)
	registerTestUser(t, s, "a@example.com")

	pair, _, err := s.Login(context.Background(), "a@example.com", "hunter2!", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	fresh, errRefresh := s.Refresh(context.Background(), pair.RefreshToken)
	if errRefresh != nil {
		t.Fatalf("refresh: %v", errRefresh)
	}
	if fresh.AccessToken == "" || fresh.RefreshToken == "" {
		t.Fatalf("incomplete refreshed pair: %+v", fresh)
	}

	// Access tokens are not refresh tokens.
	if _, errWrong := s.Refresh(context.Background(), pair.AccessToken); !errors.Is(errWrong, security.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", errWrong)
	}
}

func TestAuthenticate_RejectsAPIKeyShapedToken(t *testing.T) {
	s := newTestService(t)

	if _, err := s.Authenticate(context.Background(), "sk_notajwt"); !errors.Is(err, security.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
