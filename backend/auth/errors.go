package auth

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the closed set of outcomes an auth operation can fail with.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidCredentials
	KindAccountLocked
	KindRateLimited
	KindInvalidTOTP
	KindTOTPRequired
	KindWeakPassword
	KindInvalidInput
	KindDuplicateAccount
	KindTokenInvalid
	KindUnverifiedAccount
	KindCodeInvalidOrExpired
	KindUnknownAccount
)

var kindNames = map[Kind]string{
	KindInternal:             "internal",
	KindInvalidCredentials:   "invalid_credentials",
	KindAccountLocked:        "account_locked",
	KindRateLimited:          "rate_limited",
	KindInvalidTOTP:          "invalid_totp",
	KindTOTPRequired:         "totp_required",
	KindWeakPassword:         "weak_password",
	KindInvalidInput:         "invalid_input",
	KindDuplicateAccount:     "duplicate_account",
	KindTokenInvalid:         "token_invalid",
	KindUnverifiedAccount:    "unverified_account",
	KindCodeInvalidOrExpired: "code_invalid_or_expired",
	KindUnknownAccount:       "unknown_account",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is returned by every Service method. Err is the internal cause and
// is never shown to clients.
type Error struct {
	Kind       Kind
	Reasons    []string          // password policy violations
	Fields     map[string]string // field -> reason, for invalid input
	RetryAfter time.Duration     // locked or rate limited
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so errors.Is(err, ErrAccountLocked)
// works regardless of details.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrInternal             = &Error{Kind: KindInternal}
	ErrInvalidCredentials   = &Error{Kind: KindInvalidCredentials}
	ErrAccountLocked        = &Error{Kind: KindAccountLocked}
	ErrRateLimited          = &Error{Kind: KindRateLimited}
	ErrInvalidTOTP          = &Error{Kind: KindInvalidTOTP}
	ErrTOTPRequired         = &Error{Kind: KindTOTPRequired}
	ErrWeakPassword         = &Error{Kind: KindWeakPassword}
	ErrInvalidInput         = &Error{Kind: KindInvalidInput}
	ErrDuplicateAccount     = &Error{Kind: KindDuplicateAccount}
	ErrTokenInvalid         = &Error{Kind: KindTokenInvalid}
	ErrUnverifiedAccount    = &Error{Kind: KindUnverifiedAccount}
	ErrCodeInvalidOrExpired = &Error{Kind: KindCodeInvalidOrExpired}
	ErrUnknownAccount       = &Error{Kind: KindUnknownAccount}
)

// KindOf returns the Kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func fail(kind Kind) *Error {
	return &Error{Kind: kind}
}

func internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Err: fmt.Errorf("%s: %w", op, err)}
}
