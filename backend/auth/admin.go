package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PhilHem/villa-auth/backend/audit"
	"github.com/PhilHem/villa-auth/backend/models"
	"github.com/PhilHem/villa-auth/backend/security"

	"go.uber.org/zap"
)

// AdminSeed describes the admin account created at startup.
type AdminSeed struct {
	Username     string
	Password     string // plaintext, must satisfy the password policy
	PasswordHash string // used when Password is empty
	Role         string
}

// BootstrapAdmin creates the configured admin unless it already exists. An
// existing account is left untouched.
func (s *Service) BootstrapAdmin(ctx context.Context, seed AdminSeed) error {
	username := strings.TrimSpace(seed.Username)
	if username == "" {
		return fmt.Errorf("admin username is empty")
	}

	_, err := s.store.AdminByUsername(ctx, username)
	if err == nil {
		slog.Info("admin account present", "source", "auth", "subject", username)
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("lookup admin: %w", err)
	}

	hash := seed.PasswordHash
	if seed.Password != "" {
		if err := s.policy.Validate(seed.Password, security.PolicyContext{FirstName: username}); err != nil {
			return fmt.Errorf("admin password: %w", err)
		}
		if hash, err = s.hasher.Hash(seed.Password); err != nil {
			return err
		}
	}
	if !security.IsHash(hash) {
		return fmt.Errorf("admin password_hash is not a bcrypt hash")
	}

	role := seed.Role
	if role == "" {
		role = security.RoleAdmin
	}
	err = s.store.CreateAdmin(ctx, &models.AdminAccount{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
	})
	if errors.Is(err, models.ErrDuplicate) {
		return nil
	}
	if err != nil {
		return err
	}

	slog.Info("admin account created", "source", "auth", "subject", username)
	s.audit.LogEvent(audit.AdminBootstrapped, zap.String("username", username))
	return nil
}

type AdminLoginInput struct {
	Username string
	Password string
	TOTPCode string // required when the account has 2FA enabled
	Source   string
}

// AdminLogin checks the password and, for 2FA accounts, the TOTP code.
// An empty code on a 2FA account returns KindTOTPRequired after the
// password has been proven; it is not counted as a failure.
func (s *Service) AdminLogin(ctx context.Context, in AdminLoginInput) (*Session, error) {
	username := strings.TrimSpace(in.Username)
	key := adminKey(username)

	if err := s.checkGuard(ctx, key, in.Source); err != nil {
		return nil, err
	}

	admin, err := s.store.AdminByUsername(ctx, username)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, internal("lookup admin", err)
	}
	if admin == nil {
		s.hasher.VerifyDummy(in.Password)
		return nil, s.loginFailed(ctx, key, in.Source, "unknown account")
	}
	if !s.hasher.Verify(in.Password, admin.PasswordHash) {
		return nil, s.loginFailed(ctx, key, in.Source, "invalid password")
	}

	if admin.TOTPEnabled {
		if in.TOTPCode == "" {
			slog.Info("admin password accepted, totp required", "source", "auth", "subject", username)
			return nil, fail(KindTOTPRequired)
		}
		ok, err := s.checkTOTP(ctx, admin, in.TOTPCode)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.recordFailure(ctx, key, in.Source)
			slog.Warn("admin login failed: invalid totp", "source", "auth", "subject", username, "ip", in.Source)
			s.audit.LogEvent(audit.TOTPRejected, zap.String("username", username), zap.String("ip", in.Source))
			return nil, fail(KindInvalidTOTP)
		}
	}

	return s.adminLoggedIn(ctx, admin, in.Source)
}

// CompleteAdminTOTP finishes a login whose password step already
// succeeded and returned KindTOTPRequired.
func (s *Service) CompleteAdminTOTP(ctx context.Context, username, code, source string) (*Session, error) {
	key := adminKey(username)
	if err := s.checkGuard(ctx, key, source); err != nil {
		return nil, err
	}

	admin, err := s.store.AdminByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fail(KindInvalidCredentials)
		}
		return nil, internal("lookup admin", err)
	}
	if !admin.TOTPEnabled {
		return nil, fail(KindInvalidCredentials)
	}

	ok, err := s.checkTOTP(ctx, admin, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.recordFailure(ctx, key, source)
		slog.Warn("admin 2fa step failed", "source", "auth", "subject", username, "ip", source)
		s.audit.LogEvent(audit.TOTPRejected, zap.String("username", username), zap.String("ip", source))
		return nil, fail(KindInvalidTOTP)
	}
	return s.adminLoggedIn(ctx, admin, source)
}

func (s *Service) loginFailed(ctx context.Context, key, source, reason string) error {
	s.recordFailure(ctx, key, source)
	slog.Warn("login failed", "source", "auth", "account", key, "ip", source, "reason", reason)
	s.audit.LogEvent(audit.LoginFailed, zap.String("account", key), zap.String("ip", source), zap.String("reason", reason))
	return fail(KindInvalidCredentials)
}

func (s *Service) adminLoggedIn(ctx context.Context, admin *models.AdminAccount, source string) (*Session, error) {
	s.recordSuccess(ctx, adminKey(admin.Username), source)
	sess, err := s.issue(admin.Username, admin.Role)
	if err != nil {
		return nil, err
	}
	slog.Info("admin logged in", "source", "auth", "subject", admin.Username, "ip", source)
	s.audit.LogEvent(audit.LoginSuccess, zap.String("username", admin.Username), zap.String("role", admin.Role), zap.String("ip", source))
	return sess, nil
}
