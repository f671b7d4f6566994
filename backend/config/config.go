package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MinSecretLength is the minimum accepted length for signing and
// encryption secrets.
const MinSecretLength = 32

var sizePattern = regexp.MustCompile(`(?i)^(\d+(?:\.\d+)?)\s*(B|KB|MB|GB|TB)?$`)

// ParseSize converts a human-readable size string (e.g., "5GB", "500MB", "1024KB")
// to bytes. Supports B, KB, MB, GB, TB suffixes (case-insensitive).
// Plain numbers are taken as bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid size format: %s (use e.g., '5GB', '500MB', '1024KB')", s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number in size: %s", s)
	}

	unit := strings.ToUpper(matches[2])
	if unit == "" {
		unit = "B"
	}

	multipliers := map[string]float64{
		"B":  1,
		"KB": 1024,
		"MB": 1024 * 1024,
		"GB": 1024 * 1024 * 1024,
		"TB": 1024 * 1024 * 1024 * 1024,
	}

	return int64(value * multipliers[unit]), nil
}

type Config struct {
	Listen       string             `yaml:"listen"`
	PublicURL    string             `yaml:"public_url"`
	DatabasePath string             `yaml:"database_path"`
	TrustProxy   bool               `yaml:"trust_proxy"` // honour X-Forwarded-For
	TLS          TLSConfig          `yaml:"tls"`
	Admin        AdminConfig        `yaml:"admin"`
	Token        TokenConfig        `yaml:"token"`
	TOTP         TOTPConfig         `yaml:"totp"`
	Password     PasswordConfig     `yaml:"password"`
	Lockout      LockoutConfig      `yaml:"lockout"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Tracker      TrackerConfig      `yaml:"tracker"`
	Verification VerificationConfig `yaml:"verification"`
	Session      SessionConfig      `yaml:"session"`
	Mail         MailConfig         `yaml:"mail"`
	Logs         LogsConfig         `yaml:"logs"`
}

type TLSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cert    string `yaml:"cert"`
	Key     string `yaml:"key"`
}

// AdminConfig seeds the admin account. Either Password (plaintext, checked
// against the password policy) or PasswordHash (bcrypt) must be set.
type AdminConfig struct {
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`
	Role         string `yaml:"role"`
}

type TokenConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
	Issuer string        `yaml:"issuer"`
}

type TOTPConfig struct {
	Issuer        string `yaml:"issuer"`
	EncryptionKey string `yaml:"encryption_key"`
	Skew          uint   `yaml:"skew"`
}

type PasswordConfig struct {
	BcryptCost int `yaml:"bcrypt_cost"`
	MinLength  int `yaml:"min_length"`
}

type LockoutConfig struct {
	MaxAttempts        int           `yaml:"max_attempts"`         // per (account, source)
	AccountMaxAttempts int           `yaml:"account_max_attempts"` // per account, all sources
	Window             time.Duration `yaml:"window"`
	Duration           time.Duration `yaml:"duration"`
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type TrackerConfig struct {
	Backend string      `yaml:"backend"` // "memory" or "redis"
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type VerificationConfig struct {
	CodeTTL        time.Duration `yaml:"code_ttl"`
	ResendCooldown time.Duration `yaml:"resend_cooldown"`
}

type SessionConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Secret  string        `yaml:"secret"`
}

type MailConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Host          string  `yaml:"host"`
	Port          int     `yaml:"port"`
	Username      string  `yaml:"username"`
	Password      string  `yaml:"password"`
	From          string  `yaml:"from"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	QueueSize     int     `yaml:"queue_size"`
}

type LogsConfig struct {
	Level          string        `yaml:"level"`
	File           string        `yaml:"file"`          // optional rotating file, in addition to stdout
	FileMaxSize    int64         `yaml:"-"`             // parsed from FileMaxSizeRaw
	FileMaxSizeRaw string        `yaml:"file_max_size"` // e.g. "100MB"
	MaxBackups     int           `yaml:"max_backups"`
	Retention      time.Duration `yaml:"retention"`  // how long DB log entries are kept
	AuditFile      string        `yaml:"audit_file"` // empty means stdout
}

var C Config

// Defaults returns the built-in configuration before any file or
// environment overrides.
func Defaults() Config {
	return Config{
		Listen:       ":8080",
		PublicURL:    "http://localhost:8080",
		DatabasePath: "app.db",
		Admin: AdminConfig{
			Username: "admin",
			Role:     "admin",
		},
		Token: TokenConfig{
			TTL:    8 * time.Hour,
			Issuer: "villa-auth",
		},
		TOTP: TOTPConfig{
			Issuer: "Villa Booking",
			Skew:   1,
		},
		Password: PasswordConfig{
			BcryptCost: 12,
			MinLength:  8,
		},
		Lockout: LockoutConfig{
			MaxAttempts:        5,
			AccountMaxAttempts: 20,
			Window:             10 * time.Minute,
			Duration:           15 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Requests: 60,
			Window:   time.Minute,
		},
		Tracker: TrackerConfig{
			Backend: "memory",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "villa-auth:",
			},
		},
		Verification: VerificationConfig{
			CodeTTL:        24 * time.Hour,
			ResendCooldown: time.Minute,
		},
		Session: SessionConfig{
			Timeout: 10 * time.Minute,
		},
		Mail: MailConfig{
			Port:          587,
			From:          "Villa Booking <no-reply@localhost>",
			RatePerSecond: 2,
			QueueSize:     100,
		},
		Logs: LogsConfig{
			Level:       "info",
			FileMaxSize: 100 * 1024 * 1024,
			MaxBackups:  5,
			Retention:   48 * time.Hour,
		},
	}
}

// Load fills C from defaults, then the YAML file named by CONFIG_FILE
// (default config.yaml) if it exists, then environment overrides.
func Load() error {
	C = Defaults()

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &C); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if C.Logs.FileMaxSizeRaw != "" {
		size, err := ParseSize(C.Logs.FileMaxSizeRaw)
		if err != nil {
			return err
		}
		C.Logs.FileMaxSize = size
	}

	applyEnv(&C)
	return nil
}

func applyEnv(c *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true"
		}
	}

	setString("LISTEN", &c.Listen)
	setString("PUBLIC_URL", &c.PublicURL)
	setString("DATABASE_PATH", &c.DatabasePath)
	setBool("TRUST_PROXY", &c.TrustProxy)

	setBool("TLS_ENABLED", &c.TLS.Enabled)
	setString("TLS_CERT", &c.TLS.Cert)
	setString("TLS_KEY", &c.TLS.Key)

	setString("ADMIN_USERNAME", &c.Admin.Username)
	setString("ADMIN_PASSWORD", &c.Admin.Password)
	setString("ADMIN_PASSWORD_HASH", &c.Admin.PasswordHash)

	setString("TOKEN_SECRET", &c.Token.Secret)
	setDuration("TOKEN_TTL", &c.Token.TTL)
	setString("TOTP_ENCRYPTION_KEY", &c.TOTP.EncryptionKey)

	setInt("LOCKOUT_MAX_ATTEMPTS", &c.Lockout.MaxAttempts)
	setInt("LOCKOUT_ACCOUNT_MAX_ATTEMPTS", &c.Lockout.AccountMaxAttempts)
	setDuration("LOCKOUT_WINDOW", &c.Lockout.Window)
	setDuration("LOCKOUT_DURATION", &c.Lockout.Duration)
	setInt("RATE_LIMIT_REQUESTS", &c.RateLimit.Requests)
	setDuration("RATE_LIMIT_WINDOW", &c.RateLimit.Window)

	setString("TRACKER_BACKEND", &c.Tracker.Backend)
	setString("REDIS_ADDR", &c.Tracker.Redis.Addr)
	setString("REDIS_PASSWORD", &c.Tracker.Redis.Password)

	setDuration("SESSION_TIMEOUT", &c.Session.Timeout)
	setString("SESSION_SECRET", &c.Session.Secret)

	setBool("SMTP_ENABLED", &c.Mail.Enabled)
	setString("SMTP_HOST", &c.Mail.Host)
	setInt("SMTP_PORT", &c.Mail.Port)
	setString("SMTP_USERNAME", &c.Mail.Username)
	setString("SMTP_PASSWORD", &c.Mail.Password)
	setString("SMTP_FROM", &c.Mail.From)

	setString("LOG_LEVEL", &c.Logs.Level)
	setString("LOG_FILE", &c.Logs.File)
	setString("AUDIT_LOG_FILE", &c.Logs.AuditFile)
	if v := os.Getenv("LOG_FILE_MAX_SIZE"); v != "" {
		if size, err := ParseSize(v); err == nil {
			c.Logs.FileMaxSize = size
		}
	}
	setDuration("LOG_RETENTION", &c.Logs.Retention)
}

// Validate rejects configurations the server must not start with.
func (c *Config) Validate() error {
	if len(c.Token.Secret) < MinSecretLength {
		return fmt.Errorf("token secret must be at least %d characters", MinSecretLength)
	}
	if len(c.Session.Secret) < MinSecretLength {
		return fmt.Errorf("session secret must be at least %d characters", MinSecretLength)
	}
	if len(c.TOTP.EncryptionKey) < MinSecretLength {
		return fmt.Errorf("totp encryption key must be at least %d characters", MinSecretLength)
	}
	if c.Admin.Username == "" {
		return fmt.Errorf("admin username is required")
	}
	if c.Admin.Password == "" && c.Admin.PasswordHash == "" {
		return fmt.Errorf("admin password or password_hash is required")
	}
	if c.Lockout.MaxAttempts < 1 || c.Lockout.AccountMaxAttempts < c.Lockout.MaxAttempts {
		return fmt.Errorf("lockout attempts must be positive and account_max_attempts >= max_attempts")
	}
	if c.Lockout.Window <= 0 || c.Lockout.Duration <= 0 {
		return fmt.Errorf("lockout window and duration must be positive")
	}
	if c.RateLimit.Requests < 1 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit requests and window must be positive")
	}
	switch c.Tracker.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown tracker backend %q", c.Tracker.Backend)
	}
	if c.TLS.Enabled && (c.TLS.Cert == "" || c.TLS.Key == "") {
		return fmt.Errorf("tls enabled but cert or key missing")
	}
	return nil
}
