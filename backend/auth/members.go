package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/PhilHem/villa-auth/backend/audit"
	"github.com/PhilHem/villa-auth/backend/models"
	"github.com/PhilHem/villa-auth/backend/security"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type RegisterInput struct {
	FirstName   string
	LastName    string
	Email       string
	Phone       string
	Password    string
	AcceptTerms bool
	Address     string
}

// cleanRegistration validates every field and collects all problems
// instead of stopping at the first one.
func (s *Service) cleanRegistration(in RegisterInput) (RegisterInput, map[string]string) {
	fields := map[string]string{}
	out := RegisterInput{Password: in.Password, AcceptTerms: in.AcceptTerms}

	check := func(field string, v string, err error) string {
		var ie *security.InputError
		if errors.As(err, &ie) {
			fields[field] = ie.Reason
		}
		return v
	}

	v, err := s.sanitizer.CheckName("firstName", in.FirstName)
	out.FirstName = check("firstName", v, err)
	v, err = s.sanitizer.CheckName("lastName", in.LastName)
	out.LastName = check("lastName", v, err)
	v, err = s.sanitizer.CheckEmail(in.Email)
	out.Email = check("email", v, err)
	v, err = s.sanitizer.CheckPhone(in.Phone)
	out.Phone = check("phone", v, err)
	v, err = s.sanitizer.CleanText("address", in.Address, security.MaxAddressLength)
	out.Address = check("address", v, err)

	if in.Password == "" {
		fields["password"] = security.ReasonRequired
	}
	if !in.AcceptTerms {
		fields["acceptTerms"] = security.ReasonRequired
	}
	return out, fields
}

// RegisterMember creates an unverified, inactive member and sends a
// verification code. The account cannot log in until the code is used.
func (s *Service) RegisterMember(ctx context.Context, in RegisterInput) (*models.MemberAccount, error) {
	clean, fields := s.cleanRegistration(in)
	if len(fields) > 0 {
		slog.Info("registration rejected", "source", "auth", "fields", fields)
		s.audit.LogEvent(audit.RegistrationDenied, zap.Any("fields", fields))
		return nil, &Error{Kind: KindInvalidInput, Fields: fields}
	}

	err := s.policy.Validate(clean.Password, security.PolicyContext{
		Email:     clean.Email,
		FirstName: clean.FirstName,
		LastName:  clean.LastName,
	})
	var pe *security.PolicyError
	if errors.As(err, &pe) {
		s.audit.LogEvent(audit.RegistrationDenied, zap.Strings("reasons", pe.Violations))
		return nil, &Error{Kind: KindWeakPassword, Reasons: pe.Violations}
	}

	_, err = s.store.MemberByEmail(ctx, clean.Email)
	if err == nil {
		s.audit.LogEvent(audit.RegistrationDenied, zap.String("reason", "duplicate"))
		return nil, fail(KindDuplicateAccount)
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, internal("lookup member", err)
	}

	hash, err := s.hasher.Hash(clean.Password)
	if err != nil {
		if errors.As(err, &pe) {
			return nil, &Error{Kind: KindWeakPassword, Reasons: pe.Violations}
		}
		return nil, internal("hash password", err)
	}

	member := &models.MemberAccount{
		ID:           uuid.NewString(),
		Email:        clean.Email,
		PasswordHash: hash,
		FirstName:    clean.FirstName,
		LastName:     clean.LastName,
		Phone:        clean.Phone,
		Address:      clean.Address,
	}
	if err := s.store.CreateMember(ctx, member); err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			return nil, fail(KindDuplicateAccount)
		}
		return nil, internal("create member", err)
	}

	slog.Info("member registered", "source", "auth", "subject", member.ID)
	s.audit.LogEvent(audit.MemberRegistered, zap.String("member_id", member.ID))

	s.sendCode(ctx, member)
	return member, nil
}

// sendCode issues a fresh code and hands it to the notifier. Failures are
// logged; the account stays as it is and the member can ask for a resend.
func (s *Service) sendCode(ctx context.Context, member *models.MemberAccount) {
	ctx = context.WithoutCancel(ctx)
	code, err := s.codes.Issue(ctx, member.Email)
	if err != nil {
		slog.Error("failed to issue verification code", "source", "auth", "subject", member.ID, "error", err.Error())
		return
	}
	if s.notifier == nil {
		return
	}
	if err := s.notifier.SendVerificationCode(ctx, member.Email, member.FirstName, code); err != nil {
		slog.Error("failed to send verification code", "source", "mail", "subject", member.ID, "error", err.Error())
	}
}

// MemberLogin authenticates a verified, active member.
func (s *Service) MemberLogin(ctx context.Context, email, password, source string) (*models.MemberAccount, *Session, error) {
	email = security.NormalizeEmail(email)
	key := memberKey(email)

	if err := s.checkGuard(ctx, key, source); err != nil {
		return nil, nil, err
	}

	member, err := s.store.MemberByEmail(ctx, email)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, nil, internal("lookup member", err)
	}
	if member == nil {
		s.hasher.VerifyDummy(password)
		return nil, nil, s.loginFailed(ctx, key, source, "unknown account")
	}
	if !s.hasher.Verify(password, member.PasswordHash) {
		return nil, nil, s.loginFailed(ctx, key, source, "invalid password")
	}
	s.recordSuccess(ctx, key, source)

	if !member.CanAuthenticate() {
		slog.Info("login refused: unverified", "source", "auth", "subject", member.ID)
		return nil, nil, fail(KindUnverifiedAccount)
	}

	sess, err := s.issue(member.ID, security.RoleMember)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("member logged in", "source", "auth", "subject", member.ID, "ip", source)
	s.audit.LogEvent(audit.LoginSuccess, zap.String("member_id", member.ID), zap.String("role", security.RoleMember), zap.String("ip", source))
	return member, sess, nil
}

// VerifyEmail consumes a verification code. Guesses are throttled per
// address with the brute-force guard.
func (s *Service) VerifyEmail(ctx context.Context, email, code, source string) (*models.MemberAccount, error) {
	email = security.NormalizeEmail(email)
	key := verifyKey(email)

	if err := s.checkGuard(ctx, key, source); err != nil {
		return nil, err
	}

	member, err := s.codes.Verify(ctx, email, code)
	if err != nil {
		if KindOf(err) == KindCodeInvalidOrExpired {
			s.recordFailure(ctx, key, source)
			s.audit.LogEvent(audit.VerificationFailed, zap.String("ip", source))
		}
		return nil, err
	}
	s.recordSuccess(ctx, key, source)

	slog.Info("email verified", "source", "auth", "subject", member.ID)
	s.audit.LogEvent(audit.EmailVerified, zap.String("member_id", member.ID))
	return member, nil
}

// ResendVerification issues and sends a new code, replacing the old one.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	email = security.NormalizeEmail(email)

	member, err := s.store.MemberByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		return fail(KindUnknownAccount)
	}
	if err != nil {
		return internal("lookup member", err)
	}
	if member.IsVerified {
		return &Error{Kind: KindInvalidInput, Fields: map[string]string{"email": "already_verified"}}
	}

	wait, err := s.codes.ResendWait(ctx, email)
	if err != nil {
		return internal("check resend cooldown", err)
	}
	if wait > 0 {
		return &Error{Kind: KindRateLimited, RetryAfter: wait}
	}

	s.sendCode(ctx, member)
	s.audit.LogEvent(audit.VerificationResent, zap.String("member_id", member.ID))
	return nil
}

func (s *Service) Member(ctx context.Context, id string) (*models.MemberAccount, error) {
	m, err := s.store.MemberByID(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fail(KindTokenInvalid)
	}
	if err != nil {
		return nil, internal("lookup member", err)
	}
	return m, nil
}
