package mail

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

var ErrQueueFull = errors.New("mail queue full")

// Dispatcher delivers messages in the background at a bounded rate so a
// burst of registrations cannot flood the SMTP relay. Senders never wait on
// delivery.
type Dispatcher struct {
	sender  Sender
	queue   chan Message
	limiter *rate.Limiter
}

func NewDispatcher(sender Sender, perSecond float64, queueSize int) *Dispatcher {
	if perSecond <= 0 {
		perSecond = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		sender:  sender,
		queue:   make(chan Message, queueSize),
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

// Enqueue schedules m for delivery without blocking.
func (d *Dispatcher) Enqueue(m Message) error {
	select {
	case d.queue <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run delivers queued messages until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-d.queue:
			if err := d.limiter.Wait(ctx); err != nil {
				return
			}
			sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if err := d.sender.Send(sendCtx, m); err != nil {
				slog.Error("mail delivery failed", "source", "mail", "to", m.To, "subject", m.Subject, "error", err.Error())
			}
			cancel()
		}
	}
}
