// Package app builds the pieces every binary shares from Config: telemetry providers, the mail transport, and the dispatcher.
package app

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"buildboard/backend/internal/config"
	"buildboard/backend/internal/notification"
	"buildboard/backend/internal/telemetry"
	"buildboard/backend/internal/telemetry/otel"
)

// Telemetry creates the OTLP providers for cfg and the observability handles scoped to the service name.
func Telemetry(ctx context.Context, cfg *config.Config) (*otel.Providers, *telemetry.Observability, error) {
	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.OTLPInsecure)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: %w", err)
	}
	return providers, providers.Observability(cfg.ServiceName), nil
}

// SMTPConfig maps the SMTP settings in cfg onto the transport's config.
func SMTPConfig(cfg *config.Config) notification.SMTPConfig {
	return notification.SMTPConfig{
		Host:           cfg.SMTPAddress,
		Port:           cfg.SMTPPort,
		Username:       cfg.SMTPUsername,
		Password:       cfg.SMTPPassword,
		Domain:         cfg.SMTPDomain,
		Authentication: cfg.SMTPAuthentication,
		StartTLS:       cfg.SMTPEnableStartTLS,
	}
}

// SMTPAddr is host:port of the configured SMTP server.
func SMTPAddr(cfg *config.Config) string {
	return net.JoinHostPort(cfg.SMTPAddress, strconv.Itoa(cfg.SMTPPort))
}

// Mailer returns the SMTP transport, or a LogMailer when no SMTP host is configured.
func Mailer(cfg *config.Config) notification.Mailer {
	if !cfg.SMTPEnabled() {
		return notification.LogMailer{}
	}
	return notification.NewSMTPMailer(SMTPConfig(cfg))
}

// Dispatcher returns the notification dispatcher for cfg. observer may be nil.
func Dispatcher(cfg *config.Config, obs *telemetry.Observability, observer notification.DeliveryObserver) *notification.Dispatcher {
	d := notification.NewDispatcher(obs, Mailer(cfg), notification.NewComposer(cfg.MailerFromEmail, cfg.BaseURL))
	if observer != nil {
		d.SetDeliveryObserver(observer)
	}
	return d
}
