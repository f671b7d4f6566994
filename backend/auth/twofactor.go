package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/PhilHem/villa-auth/backend/audit"
	"github.com/PhilHem/villa-auth/backend/models"
	"github.com/PhilHem/villa-auth/backend/security"

	"go.uber.org/zap"
)

type TOTPStatus struct {
	Enabled    bool `json:"enabled"`
	Configured bool `json:"configured"`
}

func (s *Service) admin(ctx context.Context, username string) (*models.AdminAccount, error) {
	admin, err := s.store.AdminByUsername(ctx, username)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fail(KindInvalidCredentials)
	}
	if err != nil {
		return nil, internal("lookup admin", err)
	}
	return admin, nil
}

// reprove checks the admin's password under the brute-force guard.
func (s *Service) reprove(ctx context.Context, username, password, source string) (*models.AdminAccount, error) {
	key := adminKey(username)
	if err := s.checkGuard(ctx, key, source); err != nil {
		return nil, err
	}
	admin, err := s.admin(ctx, username)
	if err != nil {
		return nil, err
	}
	if !s.hasher.Verify(password, admin.PasswordHash) {
		return nil, s.loginFailed(ctx, key, source, "invalid password")
	}
	return admin, nil
}

func (s *Service) openSecret(admin *models.AdminAccount) (string, error) {
	if !admin.TOTPConfigured() {
		return "", fail(KindInvalidInput)
	}
	secret, err := s.box.Open(*admin.TOTPSecret)
	if err != nil {
		return "", internal("open totp secret", err)
	}
	return secret, nil
}

// checkTOTP verifies code against the admin's secret and records the
// matched step. A replayed step is reported as a wrong code.
func (s *Service) checkTOTP(ctx context.Context, admin *models.AdminAccount, code string) (bool, error) {
	secret, err := s.openSecret(admin)
	if err != nil {
		return false, err
	}
	step, ok := s.totp.Verify(secret, code)
	if !ok {
		return false, nil
	}
	if step <= admin.TOTPLastStep {
		slog.Warn("totp code replayed", "source", "auth", "subject", admin.Username)
		return false, nil
	}
	advanced, err := s.store.AdvanceAdminTOTPStep(ctx, admin.Username, step)
	if err != nil {
		return false, internal("advance totp step", err)
	}
	if !advanced {
		slog.Warn("totp code replayed", "source", "auth", "subject", admin.Username)
	}
	return advanced, nil
}

// BeginTOTPSetup re-proves the password and stores a fresh pending secret.
// Calling it again before confirmation replaces the pending secret.
func (s *Service) BeginTOTPSetup(ctx context.Context, username, password, source string) (*security.Enrollment, error) {
	admin, err := s.reprove(ctx, username, password, source)
	if err != nil {
		return nil, err
	}
	if admin.TOTPEnabled {
		return nil, &Error{Kind: KindInvalidInput, Fields: map[string]string{"totp": "already_enabled"}}
	}
	s.recordSuccess(ctx, adminKey(username), source)

	enrollment, err := s.totp.Generate(username)
	if err != nil {
		return nil, internal("generate totp secret", err)
	}
	sealed, err := s.box.Seal(enrollment.Secret)
	if err != nil {
		return nil, internal("seal totp secret", err)
	}
	if err := s.store.SetAdminTOTP(ctx, username, &sealed, false, 0); err != nil {
		return nil, internal("store totp secret", err)
	}

	slog.Info("2fa setup started", "source", "auth", "subject", username)
	s.audit.LogEvent(audit.TOTPSetupStarted, zap.String("username", username), zap.String("ip", source))
	return enrollment, nil
}

// ConfirmTOTP enables 2FA once the admin proves possession of the pending
// secret. A wrong code keeps the pending secret.
func (s *Service) ConfirmTOTP(ctx context.Context, username, code string) error {
	admin, err := s.admin(ctx, username)
	if err != nil {
		return err
	}
	if admin.TOTPEnabled || !admin.TOTPConfigured() {
		return fail(KindInvalidInput)
	}
	secret, err := s.openSecret(admin)
	if err != nil {
		return err
	}
	step, ok := s.totp.Verify(secret, code)
	if !ok {
		s.audit.LogEvent(audit.TOTPRejected, zap.String("username", username), zap.String("stage", "enable"))
		return fail(KindInvalidTOTP)
	}
	if err := s.store.SetAdminTOTP(ctx, username, admin.TOTPSecret, true, step); err != nil {
		return internal("enable totp", err)
	}

	slog.Info("2fa enabled", "source", "auth", "subject", username)
	s.audit.LogEvent(audit.TOTPEnabled, zap.String("username", username))
	return nil
}

// DisableTOTP requires both the password and a current code. On any
// failure 2FA stays enabled.
func (s *Service) DisableTOTP(ctx context.Context, username, password, code, source string) error {
	admin, err := s.reprove(ctx, username, password, source)
	if err != nil {
		return err
	}
	if !admin.TOTPEnabled {
		return fail(KindInvalidInput)
	}
	ok, err := s.checkTOTP(ctx, admin, code)
	if err != nil {
		return err
	}
	if !ok {
		s.recordFailure(ctx, adminKey(username), source)
		s.audit.LogEvent(audit.TOTPRejected, zap.String("username", username), zap.String("stage", "disable"))
		return fail(KindInvalidTOTP)
	}
	s.recordSuccess(ctx, adminKey(username), source)

	if err := s.store.SetAdminTOTP(ctx, username, nil, false, 0); err != nil {
		return internal("disable totp", err)
	}

	slog.Info("2fa disabled", "source", "auth", "subject", username)
	s.audit.LogEvent(audit.TOTPDisabled, zap.String("username", username), zap.String("ip", source))
	return nil
}

func (s *Service) TOTPStatus(ctx context.Context, username string) (TOTPStatus, error) {
	admin, err := s.admin(ctx, username)
	if err != nil {
		return TOTPStatus{}, err
	}
	return TOTPStatus{Enabled: admin.TOTPEnabled, Configured: admin.TOTPConfigured()}, nil
}
