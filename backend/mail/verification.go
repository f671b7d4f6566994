package mail

import (
	"context"
	"fmt"
	"time"
)

// VerificationNotifier sends email-verification codes through a Dispatcher.
type VerificationNotifier struct {
	dispatcher *Dispatcher
	codeTTL    time.Duration
}

func NewVerificationNotifier(d *Dispatcher, codeTTL time.Duration) *VerificationNotifier {
	return &VerificationNotifier{dispatcher: d, codeTTL: codeTTL}
}

func (n *VerificationNotifier) SendVerificationCode(ctx context.Context, to, firstName, code string) error {
	return n.dispatcher.Enqueue(VerificationMessage(to, firstName, code, n.codeTTL))
}

func VerificationMessage(to, firstName, code string, ttl time.Duration) Message {
	greeting := "Hello"
	if firstName != "" {
		greeting = "Hello " + firstName
	}
	text := fmt.Sprintf(`%s,

Your Villa Booking verification code is: %s

The code expires in %s. If you did not create an account, ignore this email.
`, greeting, code, humanDuration(ttl))
	return Message{
		To:      to,
		Subject: "Verify your email address",
		Text:    text,
	}
}

func humanDuration(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	return d.String()
}
