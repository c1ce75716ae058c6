package notification

import (
	"context"
	"log"
)

// Mailer delivers a composed message. Implementations must honor ctx cancellation and deadlines.
type Mailer interface {
	Send(ctx context.Context, msg *Message) error
}

// LogMailer writes messages to the process log instead of delivering them. Used when SMTP is not configured.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log.Printf("mailer: smtp not configured; would send %q from %s to %s", msg.Subject, msg.From, msg.To)
	return nil
}
