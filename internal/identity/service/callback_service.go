package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"buildboard/backend/internal/audit"
	auditdomain "buildboard/backend/internal/audit/domain"
	identitydomain "buildboard/backend/internal/identity/domain"
	"buildboard/backend/internal/identity/provider"
	"buildboard/backend/internal/telemetry"
	userdomain "buildboard/backend/internal/user/domain"
)

// Sentinel errors for the callback flow; the handler maps them to user-facing alerts.
var (
	ErrNoAuthData          = errors.New("no auth data")
	ErrSubjectMissing      = errors.New("no subject id in auth payload")
	ErrUnsupportedProvider = provider.ErrUnsupportedProvider
)

// CallbackResult is the user a callback signed in, and whether this callback created it.
type CallbackResult struct {
	User    *userdomain.User
	Created bool
}

// LinkRepo is the minimal identity repository needed by the callback service.
type LinkRepo interface {
	FindOrCreate(ctx context.Context, link *identitydomain.Identity, profile *userdomain.User) (*identitydomain.LinkResult, error)
}

// ResolverLookup finds the resolver for a provider name. *provider.Registry satisfies it.
type ResolverLookup interface {
	Lookup(name string) (provider.Resolver, error)
}

// SignupNotifier is told about users created by a callback. It must not block.
type SignupNotifier interface {
	NotifySignup(ctx context.Context, u *userdomain.User)
}

// CallbackService turns a provider callback payload into a signed-in user.
type CallbackService struct {
	links     LinkRepo
	resolvers ResolverLookup
	notifier  SignupNotifier
	audit     audit.AuditLogger
	obs       *telemetry.Observability
}

// NewCallbackService returns a CallbackService. notifier, auditLogger, and obs may be nil.
func NewCallbackService(links LinkRepo, resolvers ResolverLookup, notifier SignupNotifier, auditLogger audit.AuditLogger, obs *telemetry.Observability) *CallbackService {
	if obs == nil {
		obs = telemetry.Noop()
	}
	return &CallbackService{links: links, resolvers: resolvers, notifier: notifier, audit: auditLogger, obs: obs}
}

// HandleCallback validates the payload, resolves or creates the linked user, and notifies on first sign-in.
// Only the call that actually created the user notifies, so concurrent first sign-ins send one email.
func (s *CallbackService) HandleCallback(ctx context.Context, p *provider.AuthPayload) (*CallbackResult, error) {
	ctx, span := s.obs.Tracer.Start(ctx, "auth.callback")
	defer span.End()

	res, err := s.handle(ctx, span, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logEvent(ctx, "", auditdomain.ActionLoginFailure, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("app.user.id", res.User.ID),
		attribute.Bool("app.auth.new_user", res.Created),
	)
	if res.Created {
		s.logEvent(ctx, res.User.ID, auditdomain.ActionSignup, p.Provider)
		if s.notifier != nil {
			s.notifier.NotifySignup(ctx, res.User)
		}
	}
	s.logEvent(ctx, res.User.ID, auditdomain.ActionLoginSuccess, p.Provider)
	return res, nil
}

func (s *CallbackService) handle(ctx context.Context, span trace.Span, p *provider.AuthPayload) (*CallbackResult, error) {
	if p == nil {
		return nil, ErrNoAuthData
	}
	span.SetAttributes(attribute.String("app.auth.provider", p.Provider))
	subject := p.SubjectID()
	if subject == "" {
		return nil, ErrSubjectMissing
	}
	resolver, err := s.resolvers.Lookup(p.Provider)
	if err != nil {
		return nil, err
	}
	link, profile, err := resolver.Resolve(p, subject)
	if err != nil {
		return nil, fmt.Errorf("resolve %s identity: %w", p.Provider, err)
	}
	linked, err := s.links.FindOrCreate(ctx, link, profile)
	if err != nil {
		return nil, fmt.Errorf("link %s identity: %w", p.Provider, err)
	}
	return &CallbackResult{User: linked.User, Created: linked.Created}, nil
}

func (s *CallbackService) logEvent(ctx context.Context, userID, action, metadata string) {
	if s.audit == nil {
		return
	}
	s.audit.LogEvent(ctx, userID, action, auditdomain.ResourceSession, metadata)
}

// SignOut records the sign-out. Session state itself lives in the cookie.
func (s *CallbackService) SignOut(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	s.logEvent(ctx, userID, auditdomain.ActionLogout, "")
}
