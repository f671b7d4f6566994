package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PhilHem/villa-auth/backend/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists accounts and verification codes.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ErrNotFound
	}
	return err
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *Store) AdminByUsername(ctx context.Context, username string) (*models.AdminAccount, error) {
	var admin models.AdminAccount
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&admin).Error; err != nil {
		return nil, notFound(err)
	}
	return &admin, nil
}

func (s *Store) CreateAdmin(ctx context.Context, admin *models.AdminAccount) error {
	if err := s.db.WithContext(ctx).Create(admin).Error; err != nil {
		if isDuplicate(err) {
			return models.ErrDuplicate
		}
		return fmt.Errorf("create admin: %w", err)
	}
	return nil
}

// SetAdminTOTP stores the sealed secret (nil clears it) and the enabled flag.
func (s *Store) SetAdminTOTP(ctx context.Context, username string, secret *string, enabled bool, lastStep int64) error {
	res := s.db.WithContext(ctx).Model(&models.AdminAccount{}).
		Where("username = ?", username).
		Updates(map[string]any{
			"totp_secret":    secret,
			"totp_enabled":   enabled,
			"totp_last_step": lastStep,
		})
	if res.Error != nil {
		return fmt.Errorf("update admin totp: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// AdvanceAdminTOTPStep records step as the last accepted TOTP step. It
// returns false if an equal or later step was already accepted.
func (s *Store) AdvanceAdminTOTPStep(ctx context.Context, username string, step int64) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.AdminAccount{}).
		Where("username = ? AND totp_last_step < ?", username, step).
		Update("totp_last_step", step)
	if res.Error != nil {
		return false, fmt.Errorf("advance totp step: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) MemberByEmail(ctx context.Context, email string) (*models.MemberAccount, error) {
	var m models.MemberAccount
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (s *Store) MemberByID(ctx context.Context, id string) (*models.MemberAccount, error) {
	var m models.MemberAccount
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (s *Store) CreateMember(ctx context.Context, m *models.MemberAccount) error {
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		if isDuplicate(err) {
			return models.ErrDuplicate
		}
		return fmt.Errorf("create member: %w", err)
	}
	return nil
}

// SaveVerificationCode replaces any code outstanding for the same email.
func (s *Store) SaveVerificationCode(ctx context.Context, code *models.VerificationCode) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{"code_hash", "issued_at", "expires_at", "consumed_at"}),
	}).Create(code).Error
	if err != nil {
		return fmt.Errorf("save verification code: %w", err)
	}
	return nil
}

func (s *Store) VerificationCode(ctx context.Context, email string) (*models.VerificationCode, error) {
	var code models.VerificationCode
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&code).Error; err != nil {
		return nil, notFound(err)
	}
	return &code, nil
}

// ConsumeVerificationCode marks the matching live code consumed and
// activates the unverified member in one transaction. Wrong, expired and
// already consumed codes all return models.ErrNotFound.
func (s *Store) ConsumeVerificationCode(ctx context.Context, email, codeHash string, now time.Time) (*models.MemberAccount, error) {
	var member models.MemberAccount
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.VerificationCode{}).
			Where("email = ? AND code_hash = ? AND consumed_at IS NULL AND expires_at > ?", email, codeHash, now).
			Update("consumed_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return models.ErrNotFound
		}

		res = tx.Model(&models.MemberAccount{}).
			Where("email = ? AND is_verified = ?", email, false).
			Updates(map[string]any{
				"is_verified": true,
				"is_active":   true,
				"verified_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return models.ErrNotFound
		}

		return tx.Where("email = ?", email).First(&member).Error
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("consume verification code: %w", err)
	}
	return &member, nil
}
