package models

import "time"

type MemberAccount struct {
	ID           string     `json:"id" gorm:"primaryKey;size:36"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"-"`
	Email        string     `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash string     `json:"-" gorm:"not null"`
	FirstName    string     `json:"firstName"`
	LastName     string     `json:"lastName"`
	Phone        string     `json:"phone"`
	Address      string     `json:"address,omitempty"`
	IsVerified   bool       `json:"isVerified" gorm:"default:false"`
	IsActive     bool       `json:"isActive" gorm:"default:false"`
	VerifiedAt   *time.Time `json:"verifiedAt,omitempty"`
}

// CanAuthenticate is true only once the email has been verified and the
// account activated.
func (m *MemberAccount) CanAuthenticate() bool {
	return m.IsVerified && m.IsActive
}

// VerificationCode is the single outstanding email-verification code for an
// address. Only an HMAC of the code is stored.
type VerificationCode struct {
	ID         uint       `gorm:"primaryKey"`
	Email      string     `gorm:"uniqueIndex;not null"`
	CodeHash   string     `gorm:"not null"`
	IssuedAt   time.Time  `gorm:"not null"`
	ExpiresAt  time.Time  `gorm:"index;not null"`
	ConsumedAt *time.Time
}
