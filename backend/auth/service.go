package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/PhilHem/villa-auth/backend/audit"
	"github.com/PhilHem/villa-auth/backend/guard"
	"github.com/PhilHem/villa-auth/backend/models"
	"github.com/PhilHem/villa-auth/backend/security"

	"go.uber.org/zap"
)

// Store is the persistence the service needs. Lookups return
// models.ErrNotFound, creates return models.ErrDuplicate.
type Store interface {
	AdminByUsername(ctx context.Context, username string) (*models.AdminAccount, error)
	CreateAdmin(ctx context.Context, admin *models.AdminAccount) error
	SetAdminTOTP(ctx context.Context, username string, secret *string, enabled bool, lastStep int64) error
	AdvanceAdminTOTPStep(ctx context.Context, username string, step int64) (bool, error)

	MemberByEmail(ctx context.Context, email string) (*models.MemberAccount, error)
	MemberByID(ctx context.Context, id string) (*models.MemberAccount, error)
	CreateMember(ctx context.Context, m *models.MemberAccount) error

	SaveVerificationCode(ctx context.Context, code *models.VerificationCode) error
	VerificationCode(ctx context.Context, email string) (*models.VerificationCode, error)
	ConsumeVerificationCode(ctx context.Context, email, codeHash string, now time.Time) (*models.MemberAccount, error)
}

// Notifier delivers verification codes. Delivery is best effort: a failure
// is logged and never changes account state.
type Notifier interface {
	SendVerificationCode(ctx context.Context, to, firstName, code string) error
}

type Config struct {
	CodeTTL        time.Duration
	ResendCooldown time.Duration
	CodeKey        string // HMAC key for stored verification codes
}

type Deps struct {
	Store     Store
	Guard     *guard.BruteForceGuard
	Hasher    *security.Hasher
	Policy    *security.PasswordPolicy
	Sanitizer *security.Sanitizer
	TOTP      *security.TOTP
	SecretBox *security.SecretBox
	Tokens    *security.TokenService
	Notifier  Notifier
	Audit     *audit.Logger
	Now       func() time.Time
}

// Session is a successful login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	Subject   string
	Role      string
}

type Service struct {
	store     Store
	guard     *guard.BruteForceGuard
	hasher    *security.Hasher
	policy    *security.PasswordPolicy
	sanitizer *security.Sanitizer
	totp      *security.TOTP
	box       *security.SecretBox
	tokens    *security.TokenService
	notifier  Notifier
	audit     *audit.Logger
	codes     *VerificationCodes
	now       func() time.Time
}

func NewService(d Deps, cfg Config) *Service {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	a := d.Audit
	if a == nil {
		a = audit.Nop()
	}
	return &Service{
		store:     d.Store,
		guard:     d.Guard,
		hasher:    d.Hasher,
		policy:    d.Policy,
		sanitizer: d.Sanitizer,
		totp:      d.TOTP,
		box:       d.SecretBox,
		tokens:    d.Tokens,
		notifier:  d.Notifier,
		audit:     a,
		codes:     NewVerificationCodes(d.Store, cfg, now),
		now:       now,
	}
}

// Guard keys are namespaced so an admin and a member with the same
// identifier never share counters.
func adminKey(username string) string { return "admin:" + username }
func memberKey(email string) string { return "member:" + email }
func verifyKey(email string) string { return "verify:" + email }

// checkGuard returns AccountLocked when key is locked out from source.
func (s *Service) checkGuard(ctx context.Context, key, source string) error {
	err := s.guard.Check(ctx, key, source)
	if err == nil {
		return nil
	}
	var locked *guard.LockedError
	if errors.As(err, &locked) {
		s.audit.LogEvent(audit.LoginLocked, zap.String("account", key), zap.String("ip", source))
		return &Error{Kind: KindAccountLocked, RetryAfter: locked.RetryAfter}
	}
	return internal("check lockout", err)
}

// recordFailure counts a failed credential check. Tracker errors are logged
// and do not change the outcome returned to the caller.
func (s *Service) recordFailure(ctx context.Context, key, source string) {
	locked, err := s.guard.RecordFailure(ctx, key, source)
	if err != nil {
		slog.Error("failed to record auth failure", "source", "auth", "account", key, "error", err.Error())
		return
	}
	if locked {
		slog.Warn("lockout triggered", "source", "auth", "account", key, "ip", source)
		s.audit.LogEvent(audit.AccountLocked, zap.String("account", key), zap.String("ip", source))
	}
}

func (s *Service) recordSuccess(ctx context.Context, key, source string) {
	if err := s.guard.RecordSuccess(ctx, key, source); err != nil {
		slog.Error("failed to reset auth failures", "source", "auth", "account", key, "error", err.Error())
	}
}

func (s *Service) issue(subject, role string) (*Session, error) {
	token, exp, err := s.tokens.Issue(subject, role)
	if err != nil {
		return nil, internal("issue token", err)
	}
	return &Session{Token: token, ExpiresAt: exp, Subject: subject, Role: role}, nil
}

// VerifyToken checks a bearer token. Every failure is KindTokenInvalid.
func (s *Service) VerifyToken(token string) (security.Identity, error) {
	id, err := s.tokens.Verify(token)
	if err != nil {
		return security.Identity{}, &Error{Kind: KindTokenInvalid, Err: err}
	}
	return id, nil
}
