package notification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"buildboard/backend/internal/telemetry"
	userdomain "buildboard/backend/internal/user/domain"
)

// recordingMailer records sent messages and returns err from Send.
type recordingMailer struct {
	mu   sync.Mutex
	sent []*Message
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type captureEmitter struct {
	mu      sync.Mutex
	records []otellog.Record
}

func (c *captureEmitter) Emit(ctx context.Context, rec otellog.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
}

type countingObserver struct {
	ok, failed map[string]int
}

func (o *countingObserver) ObserveDelivery(emailType string, success bool) {
	if success {
		o.ok[emailType]++
	} else {
		o.failed[emailType]++
	}
}

type harness struct {
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
	logs   *captureEmitter
	mailer *recordingMailer
	obsv   *countingObserver
	d      *Dispatcher
}

func newHarness(t *testing.T, mailErr error) *harness {
	t.Helper()
	h := &harness{
		spans:  tracetest.NewSpanRecorder(),
		reader: sdkmetric.NewManualReader(),
		logs:   &captureEmitter{},
		mailer: &recordingMailer{err: mailErr},
		obsv:   &countingObserver{ok: map[string]int{}, failed: map[string]int{}},
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(h.spans))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(h.reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})
	obs := telemetry.New(tp.Tracer("buildboard"), mp.Meter("buildboard"), h.logs)
	h.d = NewDispatcher(obs, h.mailer, NewComposer("dhamari@hackclub.com", "http://localhost:3000"))
	h.d.SetDeliveryObserver(h.obsv)
	return h
}

func (h *harness) span(t *testing.T, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, s := range h.spans.Ended() {
		if s.Name() == name {
			return s
		}
	}
	t.Fatalf("span %q not recorded; got %d spans", name, len(h.spans.Ended()))
	return nil
}

func spanAttr(s sdktrace.ReadOnlySpan, key string) (string, bool) {
	for _, kv := range s.Attributes() {
		if string(kv.Key) == key {
			return kv.Value.Emit(), true
		}
	}
	return "", false
}

// counterPoints returns the counter's value per app.email.type.
func (h *harness) counterPoints(t *testing.T) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != counterName {
				continue
			}
			if m.Unit != "1" || m.Description != counterDescription {
				t.Errorf("counter unit/description = %q/%q", m.Unit, m.Description)
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("counter data = %T, want Sum[int64]", m.Data)
			}
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value(attribute.Key(attrType))
				out[v.AsString()] += dp.Value
			}
		}
	}
	return out
}

func recordAttrs(rec otellog.Record) map[string]string {
	out := map[string]string{}
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		out[kv.Key] = kv.Value.AsString()
		return true
	})
	return out
}

var ann = &userdomain.User{ID: "user-1", Email: "a@b.com", DisplayName: "Ann"}
var ann2 = &userdomain.User{ID: "user-2", Email: "bob@example.com"}

func TestSendSignupConfirmation_Success(t *testing.T) {
	h := newHarness(t, nil)

	res := h.d.SendSignupConfirmation(context.Background(), ann)

	if !res.Success || res.Message != "Email sent successfully" {
		t.Fatalf("Result = %+v", res)
	}
	if h.mailer.count() != 1 {
		t.Fatalf("sent = %d, want 1", h.mailer.count())
	}
	msg := h.mailer.sent[0]
	if msg.To != "a@b.com" || msg.Subject != SignupSubject || msg.From != "dhamari@hackclub.com" {
		t.Errorf("message = %+v", msg)
	}
	if !strings.Contains(msg.Text, "Ann") || !strings.Contains(msg.HTML, "http://localhost:3000/") {
		t.Error("signup body should greet the user and link the app")
	}

	outer := h.span(t, "send_signup_confirmation")
	inner := h.span(t, "deliver_email")
	if inner.Parent().SpanID() != outer.SpanContext().SpanID() {
		t.Error("deliver_email should be a child of send_signup_confirmation")
	}
	for key, want := range map[string]string{
		attrUserID:    "user-1",
		attrUserEmail: "a@b.com",
		attrType:      TypeSignupConfirmation,
		attrResult:    "success",
	} {
		if got, _ := spanAttr(outer, key); got != want {
			t.Errorf("outer %s = %q, want %q", key, got, want)
		}
	}
	if got, _ := spanAttr(inner, attrRecipient); got != "a@b.com" {
		t.Errorf("deliver_email recipient = %q", got)
	}
	if got, _ := spanAttr(inner, attrStatus); got != "sent" {
		t.Errorf("deliver_email status = %q, want sent", got)
	}

	if got := h.counterPoints(t)[TypeSignupConfirmation]; got != 1 {
		t.Errorf("counter[signup_confirmation] = %d, want 1", got)
	}

	if len(h.logs.records) != 1 {
		t.Fatalf("log records = %d, want 1", len(h.logs.records))
	}
	rec := h.logs.records[0]
	if rec.Severity() != otellog.SeverityInfo || rec.Body().AsString() != "Email sent successfully" {
		t.Errorf("log = %v %q", rec.Severity(), rec.Body().AsString())
	}
	attrs := recordAttrs(rec)
	if attrs[attrRecipient] != "a@b.com" || attrs[attrType] != TypeSignupConfirmation || attrs[attrStatus] != "SUCCESS" {
		t.Errorf("log attrs = %v", attrs)
	}
	if h.obsv.ok[TypeSignupConfirmation] != 1 {
		t.Errorf("observer ok = %v", h.obsv.ok)
	}
}

func TestSendSignupConfirmation_TransportFailure(t *testing.T) {
	h := newHarness(t, errors.New("535 authentication failed"))

	res := h.d.SendSignupConfirmation(context.Background(), ann)

	if res.Success || res.Message != "535 authentication failed" {
		t.Fatalf("Result = %+v", res)
	}
	outer := h.span(t, "send_signup_confirmation")
	if got, _ := spanAttr(outer, attrResult); got != "error" {
		t.Errorf("result attr = %q, want error", got)
	}
	if got, _ := spanAttr(outer, attrError); got != "535 authentication failed" {
		t.Errorf("error attr = %q", got)
	}
	if outer.Status().Code != codes.Error {
		t.Errorf("outer status = %v, want Error", outer.Status().Code)
	}
	var sawException bool
	for _, ev := range outer.Events() {
		if ev.Name == "exception" {
			sawException = true
		}
	}
	if !sawException {
		t.Error("outer span should record the exception")
	}
	if len(h.counterPoints(t)) != 0 {
		t.Error("counter should not move on failure")
	}
	if len(h.logs.records) != 1 {
		t.Fatalf("log records = %d, want 1", len(h.logs.records))
	}
	rec := h.logs.records[0]
	if rec.Severity() != otellog.SeverityError || rec.Body().AsString() != "Failed to send email" {
		t.Errorf("log = %v %q", rec.Severity(), rec.Body().AsString())
	}
	if recordAttrs(rec)[attrError] != "535 authentication failed" {
		t.Errorf("log attrs = %v", recordAttrs(rec))
	}
	if h.obsv.failed[TypeSignupConfirmation] != 1 {
		t.Errorf("observer failed = %v", h.obsv.failed)
	}
}

func TestSendSignupConfirmation_NilUser(t *testing.T) {
	h := newHarness(t, nil)
	if res := h.d.SendSignupConfirmation(context.Background(), nil); res.Success {
		t.Error("nil user should fail")
	}
	if h.mailer.count() != 0 {
		t.Error("transport should not be contacted")
	}
}

func TestSendTestEmail_Success(t *testing.T) {
	testCases := []struct {
		name        string
		subject     string
		wantSubject string
	}{
		{"explicit subject", "Hi", "Hi"},
		{"default subject", "", DefaultTestSubject},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			res, err := h.d.SendTestEmail(context.Background(), "ops@example.com", tc.subject)
			if err != nil {
				t.Fatalf("SendTestEmail: %v", err)
			}
			if !res.Success || res.Message != "Test email sent successfully" {
				t.Fatalf("Result = %+v", res)
			}
			if h.mailer.sent[0].Subject != tc.wantSubject {
				t.Errorf("subject = %q, want %q", h.mailer.sent[0].Subject, tc.wantSubject)
			}
			outer := h.span(t, "send_test_email")
			if got, _ := spanAttr(outer, attrSubject); got != tc.wantSubject {
				t.Errorf("subject attr = %q", got)
			}
			if got, _ := spanAttr(outer, attrType); got != TypeTest {
				t.Errorf("type attr = %q", got)
			}
			h.span(t, "deliver_email")
			if got := h.counterPoints(t)[TypeTest]; got != 1 {
				t.Errorf("counter[test] = %d, want 1", got)
			}
		})
	}
}

func TestSendTestEmail_InvalidRecipient(t *testing.T) {
	testCases := []struct {
		recipient string
		want      error
	}{
		{"not-an-email", ErrInvalidEmail},
		{"", ErrEmailRequired},
	}
	for _, tc := range testCases {
		t.Run(tc.recipient, func(t *testing.T) {
			h := newHarness(t, nil)
			_, err := h.d.SendTestEmail(context.Background(), tc.recipient, "Hi")
			if !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
			if h.mailer.count() != 0 {
				t.Error("transport should not be contacted")
			}
			if n := len(h.spans.Ended()); n != 0 {
				t.Errorf("spans = %d, want 0", n)
			}
			if n := len(h.logs.records); n != 0 {
				t.Errorf("log records = %d, want 0", n)
			}
		})
	}
}

func TestSendTestEmail_TransportFailure(t *testing.T) {
	h := newHarness(t, context.DeadlineExceeded)
	res, err := h.d.SendTestEmail(context.Background(), "ops@example.com", "")
	if err != nil {
		t.Fatalf("delivery failure must not surface as an error: %v", err)
	}
	if res.Success || res.Message != context.DeadlineExceeded.Error() {
		t.Errorf("Result = %+v", res)
	}
	if got, _ := spanAttr(h.span(t, "send_test_email"), attrResult); got != "error" {
		t.Errorf("result attr = %q", got)
	}
}

type panickingMailer struct{}

func (panickingMailer) Send(context.Context, *Message) error { panic("boom") }

func TestDispatcher_TransportPanicIsContained(t *testing.T) {
	d := NewDispatcher(nil, panickingMailer{}, NewComposer("from@example.com", "http://localhost:3000"))
	res := d.SendSignupConfirmation(context.Background(), ann)
	if res.Success {
		t.Error("panicking transport should produce a failure result")
	}
}

func TestDispatcher_NoMailer(t *testing.T) {
	d := NewDispatcher(nil, nil, NewComposer("from@example.com", "http://localhost:3000"))
	if res := d.SendSignupConfirmation(context.Background(), ann); res.Success {
		t.Error("missing mailer should produce a failure result")
	}
}
