package audit

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Security events.
const (
	LoginSuccess       = "login_success"
	LoginFailed        = "login_failed"
	LoginLocked        = "login_locked"
	AccountLocked      = "account_locked"
	RateLimited        = "rate_limited"
	TOTPSetupStarted   = "totp_setup_started"
	TOTPEnabled        = "totp_enabled"
	TOTPDisabled       = "totp_disabled"
	TOTPRejected       = "totp_rejected"
	MemberRegistered   = "member_registered"
	RegistrationDenied = "registration_denied"
	EmailVerified      = "email_verified"
	VerificationFailed = "verification_failed"
	VerificationResent = "verification_resent"
	AdminBootstrapped  = "admin_bootstrapped"
)

// Logger is an append-only stream of security events, kept apart from the
// application log.
type Logger struct {
	log *zap.Logger
}

// New writes JSON events to path through a rotating file, or to stdout when
// path is empty.
func New(path string, maxSizeMB, maxBackups int) *Logger {
	var ws zapcore.WriteSyncer
	if path == "" {
		ws = zapcore.Lock(os.Stdout)
	} else {
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			Compress:   true,
		})
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), ws, zap.InfoLevel)
	return NewWithCore(core)
}

func NewWithCore(core zapcore.Core) *Logger {
	return &Logger{log: zap.New(core).With(zap.String("stream", "audit"))}
}

// Nop discards every event.
func Nop() *Logger {
	return &Logger{log: zap.NewNop()}
}

func (a *Logger) LogEvent(event string, fields ...zap.Field) {
	a.log.Info(event, fields...)
}

func (a *Logger) Sync() error {
	return a.log.Sync()
}
