package notification

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"
)

// SMTPConfig configures SMTPMailer. Authentication is one of plain, login, cram_md5, none.
type SMTPConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	Domain         string
	Authentication string
	StartTLS       bool
	DialTimeout    time.Duration
}

// SMTPMailer delivers mail over SMTP, upgrading with STARTTLS when offered and enabled.
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer returns a mailer for cfg.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &SMTPMailer{cfg: cfg}
}

// Send delivers msg. The connection deadline follows ctx, and cancelling ctx aborts the exchange.
func (m *SMTPMailer) Send(ctx context.Context, msg *Message) error {
	raw, err := msg.Bytes(m.cfg.Domain)
	if err != nil {
		return fmt.Errorf("compose: %w", err)
	}
	c, release, err := m.connect(ctx)
	if err != nil {
		return err
	}
	defer release()
	defer c.Close()

	if err := m.exchange(c, msg, raw); err != nil {
		return contextError(ctx, err)
	}
	return nil
}

func (m *SMTPMailer) exchange(c *smtp.Client, msg *Message, raw []byte) error {
	if err := c.Mail(msg.From); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	return c.Quit()
}

// Verify connects, negotiates TLS, and authenticates without sending anything.
func (m *SMTPMailer) Verify(ctx context.Context) error {
	c, release, err := m.connect(ctx)
	if err != nil {
		return err
	}
	defer release()
	defer c.Close()
	return contextError(ctx, c.Quit())
}

// connect dials and runs the handshake. Until release is called, cancelling ctx expires the
// connection's deadline so any blocked read or write returns.
func (m *SMTPMailer) connect(ctx context.Context) (*smtp.Client, func(), error) {
	if m.cfg.Host == "" {
		return nil, nil, errors.New("smtp: host is not configured")
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	dialer := &net.Dialer{Timeout: m.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	release := func() { stop() }

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		release()
		_ = conn.Close()
		return nil, nil, contextError(ctx, fmt.Errorf("smtp greeting: %w", err))
	}
	if err := m.handshake(c); err != nil {
		release()
		_ = c.Close()
		return nil, nil, contextError(ctx, err)
	}
	return c, release, nil
}

// contextError prefers ctx's error when ctx ending is what broke the connection.
func contextError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return fmt.Errorf("%w: %v", cerr, err)
	}
	// The conn deadline can fire a moment before ctx's own timer does.
	if dl, ok := ctx.Deadline(); ok && !time.Now().Before(dl) {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

func (m *SMTPMailer) handshake(c *smtp.Client) error {
	helo := m.cfg.Domain
	if helo == "" {
		helo = "localhost"
	}
	if err := c.Hello(helo); err != nil {
		return fmt.Errorf("smtp EHLO: %w", err)
	}
	if m.cfg.StartTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
				return fmt.Errorf("smtp STARTTLS: %w", err)
			}
		}
	}
	auth := m.auth()
	if auth == nil {
		return nil
	}
	if ok, _ := c.Extension("AUTH"); !ok {
		return errors.New("smtp: server does not support AUTH")
	}
	if err := c.Auth(auth); err != nil {
		return fmt.Errorf("smtp AUTH: %w", err)
	}
	return nil
}

func (m *SMTPMailer) auth() smtp.Auth {
	if m.cfg.Username == "" {
		return nil
	}
	switch m.cfg.Authentication {
	case "login":
		return &loginAuth{username: m.cfg.Username, password: m.cfg.Password}
	case "cram_md5":
		return smtp.CRAMMD5Auth(m.cfg.Username, m.cfg.Password)
	case "none":
		return nil
	default:
		return smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
}

// loginAuth implements the AUTH LOGIN mechanism, which net/smtp does not provide.
type loginAuth struct {
	username, password string
}

func (a *loginAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if !server.TLS {
		return "", nil, errors.New("smtp: refusing AUTH LOGIN over an unencrypted connection")
	}
	return "LOGIN", nil, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	switch string(fromServer) {
	case "Username:", "username:":
		return []byte(a.username), nil
	case "Password:", "password:":
		return []byte(a.password), nil
	}
	return nil, fmt.Errorf("smtp: unexpected AUTH LOGIN challenge %q", fromServer)
}
