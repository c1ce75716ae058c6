package notification

import (
	"context"
	"errors"
	"log"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"buildboard/backend/internal/telemetry"
	userdomain "buildboard/backend/internal/user/domain"
)

const (
	counterName        = "app.email.confirmation.counter"
	counterDescription = "Counts the number of confirmation emails sent"

	msgSignupSent = "Email sent successfully"
	msgTestSent   = "Test email sent successfully"
)

// Attribute keys shared by spans, counter, and log records.
const (
	attrUserID    = "app.user.id"
	attrUserEmail = "app.user.email"
	attrType      = "app.email.type"
	attrRecipient = "app.email.recipient"
	attrSubject   = "app.email.subject"
	attrStatus    = "app.email.status"
	attrResult    = "app.email.result"
	attrError     = "app.email.error"
)

// DeliveryObserver is notified after every delivery attempt. metrics.Collector satisfies it.
type DeliveryObserver interface {
	ObserveDelivery(emailType string, success bool)
}

// Dispatcher sends transactional emails with tracing, a delivery counter, and structured logs.
type Dispatcher struct {
	obs      *telemetry.Observability
	mailer   Mailer
	composer *Composer
	counter  metric.Int64Counter
	observer DeliveryObserver
}

// NewDispatcher returns a Dispatcher that delivers through mailer. obs may be nil (no-op).
func NewDispatcher(obs *telemetry.Observability, mailer Mailer, composer *Composer) *Dispatcher {
	if obs == nil {
		obs = telemetry.Noop()
	}
	counter, err := obs.Meter.Int64Counter(counterName,
		metric.WithUnit("1"),
		metric.WithDescription(counterDescription),
	)
	if err != nil {
		log.Printf("notification: create counter: %v", err)
		counter, _ = metricnoop.NewMeterProvider().Meter("").Int64Counter(counterName)
	}
	return &Dispatcher{obs: obs, mailer: mailer, composer: composer, counter: counter}
}

// SetDeliveryObserver registers o to be told about every delivery attempt.
func (d *Dispatcher) SetDeliveryObserver(o DeliveryObserver) {
	d.observer = o
}

// SendSignupConfirmation sends the welcome email to u. Failures are recorded and returned as a Result.
func (d *Dispatcher) SendSignupConfirmation(ctx context.Context, u *userdomain.User) Result {
	if u == nil {
		return Result{Success: false, Message: "user is required"}
	}
	ctx, span := d.obs.Tracer.Start(ctx, "send_signup_confirmation", trace.WithAttributes(
		attribute.String(attrUserID, u.ID),
		attribute.String(attrUserEmail, u.Email),
		attribute.String(attrType, TypeSignupConfirmation),
	))
	defer span.End()

	msg, err := d.composer.SignupConfirmation(u)
	if err != nil {
		return d.fail(ctx, span, u.Email, TypeSignupConfirmation, err)
	}
	return d.deliver(ctx, span, msg, TypeSignupConfirmation, msgSignupSent)
}

// SendTestEmail validates recipient and sends the diagnostic email. A malformed recipient returns
// ErrEmailRequired or ErrInvalidEmail before any span is opened or the transport is contacted.
func (d *Dispatcher) SendTestEmail(ctx context.Context, recipient, subject string) (Result, error) {
	if err := ValidateEmail(recipient); err != nil {
		return Result{}, err
	}
	msg, composeErr := d.composer.TestEmail(recipient, subject)
	if msg != nil {
		subject = msg.Subject
	}
	ctx, span := d.obs.Tracer.Start(ctx, "send_test_email", trace.WithAttributes(
		attribute.String(attrRecipient, recipient),
		attribute.String(attrType, TypeTest),
		attribute.String(attrSubject, subject),
	))
	defer span.End()

	if composeErr != nil {
		return d.fail(ctx, span, recipient, TypeTest, composeErr), nil
	}
	return d.deliver(ctx, span, msg, TypeTest, msgTestSent), nil
}

// deliver runs the transport call inside a deliver_email span and reports on outer.
func (d *Dispatcher) deliver(ctx context.Context, outer trace.Span, msg *Message, emailType, okMessage string) Result {
	dctx, span := d.obs.Tracer.Start(ctx, "deliver_email", trace.WithAttributes(
		attribute.String(attrRecipient, msg.To),
	))
	err := d.send(dctx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return d.fail(ctx, outer, msg.To, emailType, err)
	}

	d.counter.Add(dctx, 1, metric.WithAttributes(attribute.String(attrType, emailType)))
	d.obs.Info(dctx, "Email sent successfully",
		otellog.String(attrRecipient, msg.To),
		otellog.String(attrType, emailType),
		otellog.String(attrStatus, "SUCCESS"),
	)
	span.SetAttributes(attribute.String(attrStatus, "sent"))
	span.End()

	outer.SetAttributes(attribute.String(attrResult, "success"))
	d.observe(emailType, true)
	return Result{Success: true, Message: okMessage}
}

// send calls the mailer, turning a panic in the transport into an error.
func (d *Dispatcher) send(ctx context.Context, msg *Message) (err error) {
	if d.mailer == nil {
		return errors.New("no mailer configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("mailer panic")
			log.Printf("notification: mailer panic: %v", r)
		}
	}()
	return d.mailer.Send(ctx, msg)
}

func (d *Dispatcher) fail(ctx context.Context, span trace.Span, recipient, emailType string, err error) Result {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(
		attribute.String(attrResult, "error"),
		attribute.String(attrError, err.Error()),
	)
	d.obs.Error(ctx, "Failed to send email",
		otellog.String(attrRecipient, recipient),
		otellog.String(attrType, emailType),
		otellog.String(attrError, err.Error()),
	)
	d.observe(emailType, false)
	return Result{Success: false, Message: err.Error()}
}

func (d *Dispatcher) observe(emailType string, success bool) {
	if d.observer != nil {
		d.observer.ObserveDelivery(emailType, success)
	}
}
