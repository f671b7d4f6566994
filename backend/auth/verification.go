package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/PhilHem/villa-auth/backend/models"
)

const codeDigits = 6

// VerificationCodes issues and checks single-use email verification codes.
// Only an HMAC of each code is stored.
type VerificationCodes struct {
	store    Store
	key      []byte
	ttl      time.Duration
	cooldown time.Duration
	now      func() time.Time
}

func NewVerificationCodes(store Store, cfg Config, now func() time.Time) *VerificationCodes {
	ttl := cfg.CodeTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &VerificationCodes{
		store:    store,
		key:      []byte(cfg.CodeKey),
		ttl:      ttl,
		cooldown: cfg.ResendCooldown,
		now:      now,
	}
}

func (v *VerificationCodes) hash(email, code string) string {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(email))
	mac.Write([]byte{0})
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

func validCodeFormat(code string) bool {
	if len(code) != codeDigits {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Issue creates a fresh code for email, replacing any outstanding one.
func (v *VerificationCodes) Issue(ctx context.Context, email string) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	now := v.now().UTC()
	err = v.store.SaveVerificationCode(ctx, &models.VerificationCode{
		Email:     email,
		CodeHash:  v.hash(email, code),
		IssuedAt:  now,
		ExpiresAt: now.Add(v.ttl),
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

// Verify consumes code and activates the member. Wrong, expired and
// already used codes are indistinguishable. A wrong guess leaves the
// outstanding code usable.
func (v *VerificationCodes) Verify(ctx context.Context, email, code string) (*models.MemberAccount, error) {
	if !validCodeFormat(code) {
		return nil, fail(KindCodeInvalidOrExpired)
	}
	m, err := v.store.ConsumeVerificationCode(ctx, email, v.hash(email, code), v.now().UTC())
	if errors.Is(err, models.ErrNotFound) {
		return nil, fail(KindCodeInvalidOrExpired)
	}
	if err != nil {
		return nil, internal("consume code", err)
	}
	return m, nil
}

// ResendWait returns how long until a new code may be issued for email.
func (v *VerificationCodes) ResendWait(ctx context.Context, email string) (time.Duration, error) {
	code, err := v.store.VerificationCode(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	wait := code.IssuedAt.Add(v.cooldown).Sub(v.now())
	if wait < 0 {
		return 0, nil
	}
	return wait, nil
}
