package security

import (
	"bytes"
	"crypto/subtle"
	"encoding/base64"
	"image/png"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod     = 30
	totpSecretSize = 20 // 160 bits, 32 base32 characters
	qrCodeSize     = 200
)

// Enrollment is what a user needs to add the secret to an authenticator app.
type Enrollment struct {
	Secret          string
	ProvisioningURI string
	QRCode          string // base64 PNG
}

type TOTP struct {
	issuer string
	skew   uint
	now    func() time.Time
}

func NewTOTP(issuer string, skew uint) *TOTP {
	return &TOTP{issuer: issuer, skew: skew, now: time.Now}
}

// SetClock replaces the time source. Tests only.
func (t *TOTP) SetClock(now func() time.Time) {
	t.now = now
}

// Generate creates a fresh secret for account.
func (t *TOTP) Generate(account string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.issuer,
		AccountName: account,
		Period:      totpPeriod,
		SecretSize:  totpSecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, err
	}

	qr, err := qrCode(key)
	if err != nil {
		return nil, err
	}

	return &Enrollment{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		QRCode:          qr,
	}, nil
}

// qrCode renders the key as a base64-encoded PNG
func qrCode(key *otp.Key) (string, error) {
	img, err := key.Image(qrCodeSize, qrCodeSize)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Verify checks code against secret within ±skew time steps and returns the
// matched step. Callers reject steps at or below the last accepted one.
func (t *TOTP) Verify(secret, code string) (int64, bool) {
	if len(code) != int(otp.DigitsSix) {
		return 0, false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return 0, false
		}
	}

	now := t.now()
	opts := totp.ValidateOpts{
		Period:    totpPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}

	var matched int64
	ok := false
	skew := int64(t.skew)
	for i := -skew; i <= skew; i++ {
		at := now.Add(time.Duration(i*totpPeriod) * time.Second)
		expected, err := totp.GenerateCodeCustom(secret, at, opts)
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 && !ok {
			matched = at.Unix() / totpPeriod
			ok = true
		}
	}
	return matched, ok
}

// Code returns the current code for secret.
func (t *TOTP) Code(secret string) (string, error) {
	return totp.GenerateCode(secret, t.now())
}
