// smtpcheck connects to the configured SMTP server, runs the STARTTLS and AUTH handshake,
// and optionally sends a test email. Use it to confirm SMTP_* settings before deploying.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"buildboard/backend/internal/app"
	"buildboard/backend/internal/config"
	"buildboard/backend/internal/notification"
	"buildboard/backend/internal/telemetry"
)

func main() {
	to := flag.String("to", "", "Send a test email to this address after the handshake succeeds")
	subject := flag.String("subject", "SMTP check", "Subject of the test email")
	timeout := flag.Duration("timeout", 15*time.Second, "Overall timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if !cfg.SMTPEnabled() {
		fmt.Fprintln(os.Stderr, "SMTP_ADDRESS is not set; nothing to check")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	mailer := notification.NewSMTPMailer(app.SMTPConfig(cfg))
	if err := mailer.Verify(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "smtp %s: %v\n", app.SMTPAddr(cfg), err)
		os.Exit(1)
	}
	fmt.Printf("smtp %s: handshake ok\n", app.SMTPAddr(cfg))

	if *to == "" {
		return
	}
	dispatcher := notification.NewDispatcher(telemetry.Noop(), mailer, notification.NewComposer(cfg.MailerFromEmail, cfg.BaseURL))
	res, err := dispatcher.SendTestEmail(ctx, *to, *subject)
	if err != nil {
		fmt.Fprintln(os.Stderr, "send:", err)
		os.Exit(1)
	}
	if !res.Success {
		fmt.Fprintln(os.Stderr, "send:", res.Message)
		os.Exit(1)
	}
	fmt.Println(res.Message)
}
