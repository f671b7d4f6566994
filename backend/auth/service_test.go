package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/PhilHem/villa-auth/backend/audit"
	"github.com/PhilHem/villa-auth/backend/database"
	"github.com/PhilHem/villa-auth/backend/guard"
	"github.com/PhilHem/villa-auth/backend/security"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"
)

const (
	adminPassword  = "Sunset-Villa-42"
	memberPassword = "Casa-Azul-2026"
	source         = "203.0.113.7"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type capturedCode struct {
	to, firstName, code string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []capturedCode
	err  error
}

func (n *fakeNotifier) SendVerificationCode(ctx context.Context, to, firstName, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, capturedCode{to, firstName, code})
	return n.err
}

func (n *fakeNotifier) last(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		t.Fatal("no verification code sent")
	}
	return n.sent[len(n.sent)-1].code
}

type env struct {
	svc      *Service
	clock    *clock
	notifier *fakeNotifier
	audit    *observer.ObservedLogs
	ctx      context.Context
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}

	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	tracker := guard.NewMemoryTracker(0)
	tracker.SetClock(clk.Now)
	t.Cleanup(tracker.Close)

	hasher, err := security.NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	box, err := security.NewSecretBox("test-totp-encryption-passphrase")
	if err != nil {
		t.Fatal(err)
	}
	tokens, err := security.NewTokenService("0123456789abcdef0123456789abcdef", 8*time.Hour, "villa-auth", security.WithClock(clk.Now))
	if err != nil {
		t.Fatal(err)
	}
	otp := security.NewTOTP("Villa Booking", 1)
	otp.SetClock(clk.Now)

	core, logs := observer.New(zap.InfoLevel)
	notifier := &fakeNotifier{}

	svc := NewService(Deps{
		Store: database.NewStore(db),
		Guard: guard.NewBruteForceGuard(tracker, guard.Policy{
			MaxAttempts:        5,
			AccountMaxAttempts: 20,
			Window:             10 * time.Minute,
			LockDuration:       15 * time.Minute,
		}),
		Hasher:    hasher,
		Policy:    security.NewPasswordPolicy(8),
		Sanitizer: security.NewSanitizer(),
		TOTP:      otp,
		SecretBox: box,
		Tokens:    tokens,
		Notifier:  notifier,
		Audit:     audit.NewWithCore(core),
		Now:       clk.Now,
	}, Config{
		CodeTTL:        24 * time.Hour,
		ResendCooldown: time.Minute,
		CodeKey:        "verification-code-key",
	})

	e := &env{svc: svc, clock: clk, notifier: notifier, audit: logs, ctx: context.Background()}
	if err := svc.BootstrapAdmin(e.ctx, AdminSeed{Username: "admin", Password: adminPassword}); err != nil {
		t.Fatal(err)
	}
	return e
}

func (e *env) register(t *testing.T, email string) {
	t.Helper()
	_, err := e.svc.RegisterMember(e.ctx, RegisterInput{
		FirstName:   "Ana",
		LastName:    "Lopez",
		Email:       email,
		Phone:       "+34 600 123 456",
		Password:    memberPassword,
		AcceptTerms: true,
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
}

func (e *env) totpCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := e.svc.totp.Code(secret)
	if err != nil {
		t.Fatal(err)
	}
	return code
}

// enable2FA enrolls admin and returns the plaintext secret.
func (e *env) enable2FA(t *testing.T) string {
	t.Helper()
	enrollment, err := e.svc.BeginTOTPSetup(e.ctx, "admin", adminPassword, source)
	if err != nil {
		t.Fatalf("BeginTOTPSetup: %v", err)
	}
	if err := e.svc.ConfirmTOTP(e.ctx, "admin", e.totpCode(t, enrollment.Secret)); err != nil {
		t.Fatalf("ConfirmTOTP: %v", err)
	}
	return enrollment.Secret
}

// RED: Test admin password login issues an admin token
func TestAdminLogin_Success(t *testing.T) {
	e := newEnv(t)

	sess, err := e.svc.AdminLogin(e.ctx, AdminLoginInput{Username: "admin", Password: adminPassword, Source: source})
	if err != nil {
		t.Fatalf("AdminLogin: %v", err)
	}
	id, err := e.svc.VerifyToken(sess.Token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if id.Subject != "admin" || id.Role != security.RoleAdmin {
		t.Errorf("unexpected identity %+v", id)
	}
	if !sess.ExpiresAt.Equal(e.clock.Now().Add(8 * time.Hour)) {
		t.Errorf("expected 8h expiry, got %v", sess.ExpiresAt)
	}
	if e.audit.FilterMessage(audit.LoginSuccess).Len() != 1 {
		t.Error("expected a login_success audit event")
	}
}

// RED: Test wrong password and unknown user are indistinguishable
func TestAdminLogin_InvalidCredentials(t *testing.T) {
	e := newEnv(t)

	_, errWrong := e.svc.AdminLogin(e.ctx, AdminLoginInput{Username: "admin", Password: "Wrong-Pass-1", Source: source})
	_, errUnknown := e.svc.AdminLogin(e.ctx, AdminLoginInput{Username: "ghost", Password: "Wrong-Pass-1", Source: source})

	if !errors.Is(errWrong, ErrInvalidCredentials) || !errors.Is(errUnknown, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v / %v", errWrong, errUnknown)
	}
	if errWrong.Error() != errUnknown.Error() {
		t.Errorf("responses differ: %q vs %q", errWrong, errUnknown)
	}
}

// RED: Test five failures lock the pair and even the right password is refused
func TestAdminLogin_Lockout(t *testing.T) {
	e := newEnv(t)
	in := AdminLoginInput{Username: "admin", Password: "Wrong-Pass-1", Source: source}

	for i := 1; i <= 5; i++ {
		_, err := e.svc.AdminLogin(e.ctx, in)
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected invalid credentials, got %v", i, err)
		}
	}

	_, err := e.svc.AdminLogin(e.ctx, AdminLoginInput{Username: "admin", Password: adminPassword, Source: source})
	var authErr *Error
	if !errors.As(err, &authErr) || authErr.Kind != KindAccountLocked {
		t.Fatalf("expected account locked, got %v", err)
	}
	if authErr.RetryAfter <= 0 || authErr.RetryAfter > 15*time.Minute {
		t.Errorf("unexpected retry after %v", authErr.RetryAfter)
	}
	if e.audit.FilterMessage(audit.AccountLocked).Len() != 1 {
		t.Error("expected one account_locked audit event")
	}

	// other sources are unaffected
	if _, err := e.svc.AdminLogin(e.ctx, AdminLoginInput{Username: "admin", Password: adminPassword, Source: "198.51.100.1"}); err != nil {
		t.Errorf("other source should log in, got %v", err)
	}

	e.clock.Advance(15*time.Minute + time.Second)
	if _, err := e.svc.AdminLogin(e.ctx, AdminLoginInput{Username: "admin", Password: adminPassword, Source: source}); err != nil {
		t.Errorf("expected login after lockout expiry, got %v", err)
	}
}

// RED: Test unknown accounts are locked out like real ones
func TestAdminLogin_UnknownAccountLocks(t *testing.T) {
	e := newEnv(t)
	in := AdminLoginInput{Username: "ghost", Password: "Wrong-Pass-1", Source: source}
	for i := 0; i < 5; i++ {
		e.svc.AdminLogin(e.ctx, in)
	}
	if _, err := e.svc.AdminLogin(e.ctx, in); !errors.Is(err, ErrAccountLocked) {
		t.Errorf("expected lockout for unknown account, got %v", err)
	}
}

// RED: Test success resets the failure counter
func TestAdminLogin_SuccessResets(t *testing.T) {
	e := newEnv(t)
	bad := AdminLoginInput{Username: "admin", Password: "Wrong-Pass-1", Source: source}
	good := AdminLoginInput{Username: "admin", Password: adminPassword, Source: source}

	for i := 0; i < 4; i++ {
		e.svc.AdminLogin(e.ctx, bad)
	}
	if _, err := e.svc.AdminLogin(e.ctx, good); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, err := e.svc.AdminLogin(e.ctx, bad); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d after reset: got %v", i+1, err)
		}
	}
}

// RED: Test concurrent failures are all counted
func TestAdminLogin_ConcurrentFailures(t *testing.T) {
	e := newEnv(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.svc.AdminLogin(e.ctx, AdminLoginInput{Username: "admin", Password: "Wrong-Pass-1", Source: source})
		}()
	}
	wg.Wait()

	if _, err := e.svc.AdminLogin(e.ctx, AdminLoginInput{Username: "admin", Password: adminPassword, Source: source}); !errors.Is(err, ErrAccountLocked) {
		t.Errorf("expected lockout after concurrent failures, got %v", err)
	}
}

// RED: Test 2FA admin cannot log in with password alone
func TestAdminLogin_TOTPRequired(t *testing.T) {
	e := newEnv(t)
	secret := e.enable2FA(t)
	e.clock.Advance(30 * time.Second)

	_, err := e.svc.AdminLogin(e.ctx, AdminLoginInput{Username: "admin", Password: adminPassword, Source: source})
	if !errors.Is(err, ErrTOTPRequired) {
		t.Fatalf("expected totp required, got %v", err)
	}

	_, err = e.svc.AdminLogin(e.ctx, AdminLoginInput{Username: "admin", Password: adminPassword, TOTPCode: "000000", Source: source})
	if !errors.Is(err, ErrInvalidTOTP) {
		t.Fatalf("expected invalid totp, got %v", err)
	}

	sess, err := e.svc.AdminLogin(e.ctx, AdminLoginInput{Username: "admin", Password: adminPassword, TOTPCode: e.totpCode(t, secret), Source: source})
	if err != nil {
		t.Fatalf("expected login with code, got %v", err)
	}
	if sess.Role != security.RoleAdmin {
		t.Errorf("unexpected role %q", sess.Role)
	}
}

// RED: Test the same TOTP code cannot be used twice
func TestAdminLogin_TOTPReplay(t *testing.T) {
	e := newEnv(t)
	secret := e.enable2FA(t)

	// the enable code's step is already spent
	_, err := e.svc.AdminLogin(e.ctx, AdminLoginInput{Username: "admin", Password: adminPassword, TOTPCode: e.totpCode(t, secret), Source: source})
	if !errors.Is(err, ErrInvalidTOTP) {
		t.Fatalf("expected replayed code to fail, got %v", err)
	}

	e.clock.Advance(30 * time.Second)
	code := e.totpCode(t, secret)
	if _, err := e.svc.CompleteAdminTOTP(e.ctx, "admin", code, source); err != nil {
		t.Fatalf("expected fresh code to pass, got %v", err)
	}
	if _, err := e.svc.CompleteAdminTOTP(e.ctx, "admin", code, source); !errors.Is(err, ErrInvalidTOTP) {
		t.Errorf("expected replay to fail, got %v", err)
	}
}

// RED: Test wrong TOTP codes count towards lockout
func TestCompleteAdminTOTP_Lockout(t *testing.T) {
	e := newEnv(t)
	secret := e.enable2FA(t)
	e.clock.Advance(30 * time.Second)

	for i := 0; i < 5; i++ {
		e.svc.CompleteAdminTOTP(e.ctx, "admin", "000000", source)
	}
	if _, err := e.svc.CompleteAdminTOTP(e.ctx, "admin", e.totpCode(t, secret), source); !errors.Is(err, ErrAccountLocked) {
		t.Errorf("expected lockout, got %v", err)
	}
}

// RED: Test setup state machine and status
func TestTOTP_SetupLifecycle(t *testing.T) {
	e := newEnv(t)

	st, _ := e.svc.TOTPStatus(e.ctx, "admin")
	if st.Enabled || st.Configured {
		t.Fatalf("fresh admin should be unconfigured, got %+v", st)
	}

	if _, err := e.svc.BeginTOTPSetup(e.ctx, "admin", "Wrong-Pass-1", source); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected bad password to fail setup, got %v", err)
	}

	enrollment, err := e.svc.BeginTOTPSetup(e.ctx, "admin", adminPassword, source)
	if err != nil {
		t.Fatal(err)
	}
	if len(enrollment.Secret) != 32 || enrollment.QRCode == "" || enrollment.ProvisioningURI == "" {
		t.Errorf("incomplete enrollment %+v", enrollment)
	}
	st, _ = e.svc.TOTPStatus(e.ctx, "admin")
	if st.Enabled || !st.Configured {
		t.Fatalf("expected pending setup, got %+v", st)
	}

	if err := e.svc.ConfirmTOTP(e.ctx, "admin", "000000"); !errors.Is(err, ErrInvalidTOTP) {
		t.Fatalf("expected wrong code to fail, got %v", err)
	}
	if err := e.svc.ConfirmTOTP(e.ctx, "admin", e.totpCode(t, enrollment.Secret)); err != nil {
		t.Fatalf("pending secret should survive a wrong code: %v", err)
	}
	st, _ = e.svc.TOTPStatus(e.ctx, "admin")
	if !st.Enabled || !st.Configured {
		t.Fatalf("expected enabled, got %+v", st)
	}

	if _, err := e.svc.BeginTOTPSetup(e.ctx, "admin", adminPassword, source); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected setup on enabled account to be rejected, got %v", err)
	}
}

// RED: Test the stored secret is sealed
func TestTOTP_SecretEncryptedAtRest(t *testing.T) {
	e := newEnv(t)
	secret := e.enable2FA(t)

	admin, err := e.svc.store.AdminByUsername(e.ctx, "admin")
	if err != nil {
		t.Fatal(err)
	}
	if admin.TOTPSecret == nil || *admin.TOTPSecret == secret {
		t.Fatal("totp secret stored in clear")
	}
}

// RED: Test disabling needs both password and code
func TestTOTP_Disable(t *testing.T) {
	e := newEnv(t)
	secret := e.enable2FA(t)
	e.clock.Advance(30 * time.Second)

	if err := e.svc.DisableTOTP(e.ctx, "admin", "Wrong-Pass-1", e.totpCode(t, secret), source); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected bad password to fail, got %v", err)
	}
	if err := e.svc.DisableTOTP(e.ctx, "admin", adminPassword, "000000", source); !errors.Is(err, ErrInvalidTOTP) {
		t.Fatalf("expected bad code to fail, got %v", err)
	}
	if st, _ := e.svc.TOTPStatus(e.ctx, "admin"); !st.Enabled {
		t.Fatal("2fa must stay enabled after failed disable")
	}

	if err := e.svc.DisableTOTP(e.ctx, "admin", adminPassword, e.totpCode(t, secret), source); err != nil {
		t.Fatalf("DisableTOTP: %v", err)
	}
	st, _ := e.svc.TOTPStatus(e.ctx, "admin")
	if st.Enabled || st.Configured {
		t.Errorf("expected unconfigured after disable, got %+v", st)
	}
	if err := e.svc.DisableTOTP(e.ctx, "admin", adminPassword, "123456", source); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected disable on unconfigured account to be rejected, got %v", err)
	}
}

// RED: Test bootstrap leaves an existing admin alone and rejects weak seeds
func TestBootstrapAdmin(t *testing.T) {
	e := newEnv(t)

	if err := e.svc.BootstrapAdmin(e.ctx, AdminSeed{Username: "admin", Password: "Another-Pass-9"}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.AdminLogin(e.ctx, AdminLoginInput{Username: "admin", Password: adminPassword, Source: source}); err != nil {
		t.Errorf("original password should still work, got %v", err)
	}

	if err := e.svc.BootstrapAdmin(e.ctx, AdminSeed{Username: "ops", Password: "password"}); err == nil {
		t.Error("expected weak seed password to be rejected")
	}
	if err := e.svc.BootstrapAdmin(e.ctx, AdminSeed{Username: "ops", PasswordHash: "not-a-hash"}); err == nil {
		t.Error("expected invalid hash to be rejected")
	}
}

// RED: Test registration leaves the account unusable until verified
func TestMember_RegisterVerifyLogin(t *testing.T) {
	e := newEnv(t)
	e.register(t, "Ana.Lopez@Example.com")

	_, _, err := e.svc.MemberLogin(e.ctx, "ana.lopez@example.com", memberPassword, source)
	if !errors.Is(err, ErrUnverifiedAccount) {
		t.Fatalf("expected unverified, got %v", err)
	}

	code := e.notifier.last(t)
	member, err := e.svc.VerifyEmail(e.ctx, "ana.lopez@example.com", code, source)
	if err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	if !member.IsVerified || !member.IsActive || member.VerifiedAt == nil {
		t.Errorf("member not activated: %+v", member)
	}

	m, sess, err := e.svc.MemberLogin(e.ctx, "ANA.LOPEZ@example.com", memberPassword, source)
	if err != nil {
		t.Fatalf("MemberLogin: %v", err)
	}
	id, err := e.svc.VerifyToken(sess.Token)
	if err != nil || id.Subject != m.ID || id.Role != security.RoleMember {
		t.Fatalf("unexpected identity %+v, %v", id, err)
	}
	if got, err := e.svc.Member(e.ctx, id.Subject); err != nil || got.Email != "ana.lopez@example.com" {
		t.Errorf("Member lookup: %+v, %v", got, err)
	}
}

// RED: Test a verification code works exactly once
func TestMember_CodeSingleUse(t *testing.T) {
	e := newEnv(t)
	e.register(t, "ana@example.com")
	code := e.notifier.last(t)

	if _, err := e.svc.VerifyEmail(e.ctx, "ana@example.com", code, source); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.VerifyEmail(e.ctx, "ana@example.com", code, source); !errors.Is(err, ErrCodeInvalidOrExpired) {
		t.Errorf("expected second use to fail, got %v", err)
	}
}

// RED: Test expired codes are rejected
func TestMember_CodeExpires(t *testing.T) {
	e := newEnv(t)
	e.register(t, "ana@example.com")
	code := e.notifier.last(t)

	e.clock.Advance(24*time.Hour + time.Second)
	if _, err := e.svc.VerifyEmail(e.ctx, "ana@example.com", code, source); !errors.Is(err, ErrCodeInvalidOrExpired) {
		t.Errorf("expected expired code to fail, got %v", err)
	}
}

// RED: Test wrong guesses keep the code usable but are throttled
func TestMember_CodeGuessing(t *testing.T) {
	e := newEnv(t)
	e.register(t, "ana@example.com")
	code := e.notifier.last(t)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for i := 0; i < 4; i++ {
		if _, err := e.svc.VerifyEmail(e.ctx, "ana@example.com", wrong, source); !errors.Is(err, ErrCodeInvalidOrExpired) {
			t.Fatalf("guess %d: got %v", i+1, err)
		}
	}
	if _, err := e.svc.VerifyEmail(e.ctx, "ana@example.com", code, source); err != nil {
		t.Fatalf("real code should survive wrong guesses: %v", err)
	}

	e.register(t, "bob@example.com")
	for i := 0; i < 5; i++ {
		e.svc.VerifyEmail(e.ctx, "bob@example.com", wrong, source)
	}
	if _, err := e.svc.VerifyEmail(e.ctx, "bob@example.com", e.notifier.last(t), source); !errors.Is(err, ErrAccountLocked) {
		t.Errorf("expected guessing to lock, got %v", err)
	}
}

// RED: Test resend cooldown and replacement of the old code
func TestMember_Resend(t *testing.T) {
	e := newEnv(t)
	e.register(t, "ana@example.com")
	first := e.notifier.last(t)

	err := e.svc.ResendVerification(e.ctx, "ana@example.com")
	var authErr *Error
	if !errors.As(err, &authErr) || authErr.Kind != KindRateLimited || authErr.RetryAfter <= 0 {
		t.Fatalf("expected cooldown, got %v", err)
	}

	e.clock.Advance(61 * time.Second)
	if err := e.svc.ResendVerification(e.ctx, "ana@example.com"); err != nil {
		t.Fatalf("ResendVerification: %v", err)
	}
	second := e.notifier.last(t)

	if first != second {
		if _, err := e.svc.VerifyEmail(e.ctx, "ana@example.com", first, source); !errors.Is(err, ErrCodeInvalidOrExpired) {
			t.Errorf("old code should be replaced, got %v", err)
		}
	}
	if _, err := e.svc.VerifyEmail(e.ctx, "ana@example.com", second, source); err != nil {
		t.Fatalf("new code should verify: %v", err)
	}

	e.clock.Advance(61 * time.Second)
	if err := e.svc.ResendVerification(e.ctx, "ana@example.com"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected already verified to be rejected, got %v", err)
	}
	if err := e.svc.ResendVerification(e.ctx, "nobody@example.com"); !errors.Is(err, ErrUnknownAccount) {
		t.Errorf("expected unknown account, got %v", err)
	}
}

// RED: Test every invalid field is reported at once
func TestMember_RegisterInvalidInput(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.RegisterMember(e.ctx, RegisterInput{
		FirstName: "<script>alert(1)</script>",
		LastName:  "Lopez",
		Email:     "not-an-email",
		Phone:     "+34 600 123 456",
		Password:  memberPassword,
		Address:   "<b>Calle Mayor</b>",
	})
	var authErr *Error
	if !errors.As(err, &authErr) || authErr.Kind != KindInvalidInput {
		t.Fatalf("expected invalid input, got %v", err)
	}
	want := map[string]string{
		"firstName":   security.ReasonForbidden,
		"email":       security.ReasonFormat,
		"address":     security.ReasonForbidden,
		"acceptTerms": security.ReasonRequired,
	}
	for field, reason := range want {
		if authErr.Fields[field] != reason {
			t.Errorf("field %s: expected %q, got %q", field, reason, authErr.Fields[field])
		}
	}
	if _, ok := authErr.Fields["lastName"]; ok {
		t.Error("valid field reported as invalid")
	}
}

// RED: Test weak passwords report every violated rule
func TestMember_RegisterWeakPassword(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.RegisterMember(e.ctx, RegisterInput{
		FirstName: "Ana", LastName: "Lopez", Email: "ana@example.com",
		Phone: "+34 600 123 456", Password: "ana", AcceptTerms: true,
	})
	var authErr *Error
	if !errors.As(err, &authErr) || authErr.Kind != KindWeakPassword {
		t.Fatalf("expected weak password, got %v", err)
	}
	has := map[string]bool{}
	for _, r := range authErr.Reasons {
		has[r] = true
	}
	for _, r := range []string{security.ViolationTooShort, security.ViolationMissingUpper, security.ViolationMissingDigit, security.ViolationContainsPersonal} {
		if !has[r] {
			t.Errorf("missing reason %q in %v", r, authErr.Reasons)
		}
	}
}

// RED: Test duplicate emails are rejected regardless of case
func TestMember_RegisterDuplicate(t *testing.T) {
	e := newEnv(t)
	e.register(t, "ana@example.com")

	_, err := e.svc.RegisterMember(e.ctx, RegisterInput{
		FirstName: "Ana", LastName: "Lopez", Email: "ANA@example.com",
		Phone: "+34 600 123 456", Password: memberPassword, AcceptTerms: true,
	})
	if !errors.Is(err, ErrDuplicateAccount) {
		t.Errorf("expected duplicate, got %v", err)
	}
}

// RED: Test a failing mail transport does not fail registration
func TestMember_RegisterMailFailure(t *testing.T) {
	e := newEnv(t)
	e.notifier.err = errors.New("smtp down")

	e.register(t, "ana@example.com")
	if _, err := e.svc.VerifyEmail(e.ctx, "ana@example.com", e.notifier.last(t), source); err != nil {
		t.Errorf("code should still be valid: %v", err)
	}
}

// RED: Test member logins are locked out like admin logins
func TestMember_LoginLockout(t *testing.T) {
	e := newEnv(t)
	e.register(t, "ana@example.com")
	e.svc.VerifyEmail(e.ctx, "ana@example.com", e.notifier.last(t), source)

	for i := 0; i < 5; i++ {
		_, _, err := e.svc.MemberLogin(e.ctx, "ana@example.com", "Wrong-Pass-1", source)
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: got %v", i+1, err)
		}
	}
	if _, _, err := e.svc.MemberLogin(e.ctx, "ana@example.com", memberPassword, source); !errors.Is(err, ErrAccountLocked) {
		t.Errorf("expected lockout, got %v", err)
	}
}

// RED: Test tampered tokens are rejected
func TestVerifyToken_Invalid(t *testing.T) {
	e := newEnv(t)
	sess, err := e.svc.AdminLogin(e.ctx, AdminLoginInput{Username: "admin", Password: adminPassword, Source: source})
	if err != nil {
		t.Fatal(err)
	}

	for _, tok := range []string{"", "garbage", sess.Token + "x"} {
		if _, err := e.svc.VerifyToken(tok); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("token %q: expected invalid, got %v", tok, err)
		}
	}

	e.clock.Advance(8*time.Hour + time.Second)
	if _, err := e.svc.VerifyToken(sess.Token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("expected expired token to fail, got %v", err)
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(errors.New("boom")) != KindInternal {
		t.Error("foreign errors should be internal")
	}
	wrapped := internal("op", errors.New("boom"))
	if !errors.Is(wrapped, ErrInternal) || KindOf(wrapped) != KindInternal {
		t.Error("internal errors should match ErrInternal")
	}
	if KindAccountLocked.String() != "account_locked" {
		t.Errorf("unexpected name %q", KindAccountLocked.String())
	}
}
