package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"net/textproto"
	"strconv"
	"sync"
	"time"

	"github.com/PhilHem/villa-auth/backend/config"

	"github.com/jordan-wright/email"
)

type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

type Sender interface {
	Send(ctx context.Context, m Message) error
}

// SMTPSender delivers through a lazily opened SMTP connection pool.
type SMTPSender struct {
	cfg     config.MailConfig
	timeout time.Duration

	mu   sync.Mutex
	pool *email.Pool
}

func NewSMTPSender(cfg config.MailConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg, timeout: 10 * time.Second}
}

func (s *SMTPSender) connect() (*email.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		return s.pool, nil
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	pool, err := email.NewPool(s.cfg.Host+":"+strconv.Itoa(s.cfg.Port), 2, auth)
	if err != nil {
		return nil, fmt.Errorf("smtp pool: %w", err)
	}
	s.pool = pool
	return pool, nil
}

func (s *SMTPSender) Send(ctx context.Context, m Message) error {
	pool, err := s.connect()
	if err != nil {
		return err
	}

	e := &email.Email{
		To:      []string{m.To},
		From:    s.cfg.From,
		Subject: m.Subject,
		Text:    []byte(m.Text),
		Headers: textproto.MIMEHeader{},
	}
	if m.HTML != "" {
		e.HTML = []byte(m.HTML)
	}

	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := pool.Send(e, timeout); err != nil {
		slog.Error("smtp send failed", "source", "mail", "host", s.cfg.Host, "error", err.Error())
		s.mu.Lock()
		if s.pool == pool {
			pool.Close()
			s.pool = nil
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// LogSender records that a message was dropped instead of delivering it.
// Bodies carry verification codes and are never logged. For development.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, m Message) error {
	slog.Info("mail delivery disabled, message dropped", "source", "mail", "to", m.To, "subject", m.Subject, "bytes", len(m.Text))
	return nil
}
