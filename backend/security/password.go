package security

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// Password policy violations. Each rejection lists every rule that failed.
const (
	ViolationTooShort         = "too_short"
	ViolationTooLong          = "too_long"
	ViolationMissingUpper     = "missing_uppercase"
	ViolationMissingLower     = "missing_lowercase"
	ViolationMissingDigit     = "missing_digit"
	ViolationMissingSpecial   = "missing_special"
	ViolationCommonPassword   = "common_password"
	ViolationContainsPersonal = "contains_personal_info"
)

// bcrypt ignores everything past 72 bytes.
const maxPasswordBytes = 72

var commonPasswords = map[string]struct{}{
	"123456": {}, "1234567": {}, "12345678": {}, "123456789": {}, "1234567890": {},
	"111111": {}, "000000": {}, "654321": {}, "123123": {}, "abc123": {},
	"password": {}, "password1": {}, "password123": {}, "passw0rd": {}, "p@ssw0rd": {}, "p@ssword": {},
	"admin": {}, "admin123": {}, "administrator": {}, "root": {}, "changeme": {},
	"qwerty": {}, "qwerty123": {}, "qwertyuiop": {}, "asdfgh": {}, "zxcvbnm": {},
	"letmein": {}, "welcome": {}, "welcome1": {}, "iloveyou": {}, "monkey": {},
	"dragon": {}, "sunshine": {}, "football": {}, "baseball": {}, "master": {},
	"login": {}, "princess": {}, "trustno1": {}, "secret": {}, "villa": {}, "booking": {},
}

// PolicyContext carries the personal data a password must not contain.
type PolicyContext struct {
	Email     string
	FirstName string
	LastName  string
}

type PolicyError struct {
	Violations []string
}

func (e *PolicyError) Error() string {
	return "password rejected: " + strings.Join(e.Violations, ", ")
}

type PasswordPolicy struct {
	minLength int
}

func NewPasswordPolicy(minLength int) *PasswordPolicy {
	if minLength < 8 {
		minLength = 8
	}
	return &PasswordPolicy{minLength: minLength}
}

// Validate returns nil or a *PolicyError naming every failed rule.
func (p *PasswordPolicy) Validate(password string, pc PolicyContext) error {
	var violations []string

	if len([]rune(password)) < p.minLength {
		violations = append(violations, ViolationTooShort)
	}
	if len(password) > maxPasswordBytes {
		violations = append(violations, ViolationTooLong)
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsSpace(r) && !unicode.IsLetter(r):
			special = true
		}
	}
	if !upper {
		violations = append(violations, ViolationMissingUpper)
	}
	if !lower {
		violations = append(violations, ViolationMissingLower)
	}
	if !digit {
		violations = append(violations, ViolationMissingDigit)
	}
	if !special {
		violations = append(violations, ViolationMissingSpecial)
	}

	if isCommonPassword(password) {
		violations = append(violations, ViolationCommonPassword)
	}
	if containsPersonalInfo(password, pc) {
		violations = append(violations, ViolationContainsPersonal)
	}

	if len(violations) > 0 {
		return &PolicyError{Violations: violations}
	}
	return nil
}

// isCommonPassword matches the blocklist case-insensitively, also after
// dropping decorations appended to a common word ("Password123!").
func isCommonPassword(password string) bool {
	lower := strings.ToLower(strings.TrimSpace(password))
	if _, ok := commonPasswords[lower]; ok {
		return true
	}
	base := strings.TrimRightFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(base) < 4 {
		return false
	}
	_, ok := commonPasswords[base]
	return ok
}

func containsPersonalInfo(password string, pc PolicyContext) bool {
	lower := strings.ToLower(password)
	local, _, _ := strings.Cut(strings.ToLower(pc.Email), "@")
	for _, part := range []string{local, strings.ToLower(pc.FirstName), strings.ToLower(pc.LastName)} {
		part = strings.TrimSpace(part)
		if len(part) >= 3 && strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

// Hasher hashes and verifies passwords with bcrypt.
type Hasher struct {
	cost  int
	dummy []byte
}

func NewHasher(cost int) (*Hasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", cost)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), cost)
	if err != nil {
		return nil, err
	}
	return &Hasher{cost: cost, dummy: dummy}, nil
}

func (h *Hasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", &PolicyError{Violations: []string{ViolationTooLong}}
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

func (h *Hasher) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// VerifyDummy spends the same time as a real Verify. Used when the account
// does not exist so response timing does not reveal it.
func (h *Hasher) VerifyDummy(password string) {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
}

// IsHash reports whether s looks like a bcrypt hash.
func IsHash(s string) bool {
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}
