package app

import (
	"context"
	"testing"

	"buildboard/backend/internal/config"
	"buildboard/backend/internal/notification"
)

func testConfig() *config.Config {
	return &config.Config{
		BaseURL:            "http://localhost:3000",
		SMTPPort:           587,
		SMTPAuthentication: "plain",
		SMTPEnableStartTLS: true,
		MailerFromEmail:    "from@example.com",
		ServiceName:        "buildboard",
	}
}

func TestMailer(t *testing.T) {
	cfg := testConfig()
	if _, ok := Mailer(cfg).(notification.LogMailer); !ok {
		t.Error("no SMTP host should fall back to LogMailer")
	}
	cfg.SMTPAddress = "smtp.example.com"
	if _, ok := Mailer(cfg).(*notification.SMTPMailer); !ok {
		t.Error("SMTP host should yield SMTPMailer")
	}
}

func TestSMTPConfig(t *testing.T) {
	cfg := testConfig()
	cfg.SMTPAddress = "smtp.example.com"
	cfg.SMTPUsername = "apikey"
	got := SMTPConfig(cfg)
	if got.Host != "smtp.example.com" || got.Port != 587 || got.Username != "apikey" || !got.StartTLS || got.Authentication != "plain" {
		t.Errorf("SMTPConfig = %+v", got)
	}
	if addr := SMTPAddr(cfg); addr != "smtp.example.com:587" {
		t.Errorf("SMTPAddr = %q", addr)
	}
}

type countingObserver struct{ n int }

func (c *countingObserver) ObserveDelivery(string, bool) { c.n++ }

func TestDispatcher_UsesObserver(t *testing.T) {
	obs := &countingObserver{}
	d := Dispatcher(testConfig(), nil, obs)
	res, err := d.SendTestEmail(context.Background(), "a@b.com", "Hi")
	if err != nil || !res.Success {
		t.Fatalf("SendTestEmail = %+v, %v", res, err)
	}
	if obs.n != 1 {
		t.Errorf("observed = %d, want 1", obs.n)
	}
}

func TestTelemetry_NoEndpoint(t *testing.T) {
	providers, obs, err := Telemetry(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Telemetry: %v", err)
	}
	defer func() { _ = providers.Shutdown(context.Background()) }()
	if obs == nil || obs.Tracer == nil {
		t.Error("expected observability handles")
	}
}
