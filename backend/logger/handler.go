package logger

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/PhilHem/villa-auth/backend/config"
	"github.com/PhilHem/villa-auth/backend/models"

	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"
)

const redacted = "[REDACTED]"

// sensitiveKeys never reach stdout, the log file or the database.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"password_hash": true,
	"code":          true,
	"totp_code":     true,
	"token":         true,
	"secret":        true,
	"authorization": true,
}

func isSensitive(key string) bool {
	return sensitiveKeys[strings.ToLower(key)]
}

// DBHandler writes JSON records to an io.Writer and persists each record as
// a models.LogEntry for the admin log viewer.
type DBHandler struct {
	db          *gorm.DB
	jsonHandler slog.Handler
	level       slog.Leveler
	attrs       []slog.Attr
}

func NewDBHandler(db *gorm.DB, w io.Writer, level slog.Leveler) *DBHandler {
	return &DBHandler{
		db: db,
		jsonHandler: slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if isSensitive(a.Key) {
					return slog.String(a.Key, redacted)
				}
				return a
			},
		}),
		level: level,
		attrs: []slog.Attr{},
	}
}

func (h *DBHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *DBHandler) Handle(ctx context.Context, r slog.Record) error {
	_ = h.jsonHandler.Handle(ctx, r)

	attrs := make(map[string]any)
	var source, subject string

	collect := func(a slog.Attr) bool {
		switch {
		case a.Key == "source":
			source = a.Value.String()
		case a.Key == "subject":
			subject = a.Value.String()
		case isSensitive(a.Key):
			attrs[a.Key] = redacted
		default:
			attrs[a.Key] = a.Value.Resolve().Any()
		}
		return true
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(collect)

	var data string
	if len(attrs) > 0 {
		b, _ := json.Marshal(attrs)
		data = string(b)
	}

	entry := models.LogEntry{
		CreatedAt: r.Time.UTC(),
		Level:     r.Level.String(),
		Message:   r.Message,
		Source:    source,
		Subject:   subject,
		Data:      data,
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	return h.db.WithContext(context.WithoutCancel(ctx)).Create(&entry).Error
}

func (h *DBHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	copy(newAttrs[len(h.attrs):], attrs)
	return &DBHandler{
		db:          h.db,
		jsonHandler: h.jsonHandler.WithAttrs(attrs),
		level:       h.level,
		attrs:       newAttrs,
	}
}

func (h *DBHandler) WithGroup(name string) slog.Handler {
	return h
}

// ParseLevel maps debug, info, warn and error to slog levels. Anything else
// is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Output returns stdout, or stdout plus a rotating file when cfg.File is set.
func Output(cfg config.LogsConfig) io.Writer {
	if cfg.File == "" {
		return os.Stdout
	}
	maxMB := int(cfg.FileMaxSize / (1024 * 1024))
	if maxMB < 1 {
		maxMB = 1
	}
	return io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    maxMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   true,
	})
}

// CleanupOldLogs removes entries older than maxAge every interval until ctx
// is done.
func CleanupOldLogs(ctx context.Context, db *gorm.DB, maxAge, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			DeleteOlderThan(db, time.Now().Add(-maxAge))
		}
	}
}

// DeleteOlderThan removes entries created before cutoff. Entries are stored
// in UTC and sqlite compares them as text.
func DeleteOlderThan(db *gorm.DB, cutoff time.Time) int64 {
	return db.Where("created_at < ?", cutoff.UTC()).Delete(&models.LogEntry{}).RowsAffected
}
