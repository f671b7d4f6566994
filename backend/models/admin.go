package models

import "time"

// AdminAccount is the operator account seeded from configuration at startup.
// TOTPSecret holds the sealed secret, never the base32 plaintext.
type AdminAccount struct {
	ID           uint      `json:"-" gorm:"primaryKey"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Username     string    `json:"username" gorm:"uniqueIndex;not null"`
	PasswordHash string    `json:"-" gorm:"not null"`
	Role         string    `json:"role" gorm:"not null;default:admin"`
	TOTPSecret   *string   `json:"-"`
	TOTPEnabled  bool      `json:"totp_enabled" gorm:"default:false"`
	TOTPLastStep int64     `json:"-" gorm:"default:0"`
}

// TOTPConfigured reports whether a secret exists, enabled or pending.
func (a *AdminAccount) TOTPConfigured() bool {
	return a.TOTPSecret != nil && *a.TOTPSecret != ""
}
