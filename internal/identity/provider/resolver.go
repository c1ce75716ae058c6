package provider

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"buildboard/backend/internal/identity/domain"
	userdomain "buildboard/backend/internal/user/domain"
)

// ErrUnsupportedProvider is returned by Registry.Lookup for names with no registered resolver.
var ErrUnsupportedProvider = errors.New("unsupported identity provider")

// Resolver maps a callback payload for one provider to the identity link to upsert
// and the profile to use if a new user has to be created.
type Resolver interface {
	Provider() domain.IdentityProvider
	Resolve(p *AuthPayload, subjectID string) (*domain.Identity, *userdomain.User, error)
}

// Registry holds resolvers keyed by provider name. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[domain.IdentityProvider]Resolver
}

// NewRegistry returns a registry containing the given resolvers.
func NewRegistry(resolvers ...Resolver) *Registry {
	r := &Registry{resolvers: make(map[domain.IdentityProvider]Resolver, len(resolvers))}
	for _, res := range resolvers {
		r.Register(res)
	}
	return r
}

// Register adds or replaces the resolver for res.Provider().
func (r *Registry) Register(res Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[res.Provider()] = res
}

// Lookup returns the resolver for name. Names are matched case-insensitively.
func (r *Registry) Lookup(name string) (Resolver, error) {
	if r == nil {
		return nil, ErrUnsupportedProvider
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resolvers[domain.IdentityProvider(strings.ToLower(strings.TrimSpace(name)))]
	if !ok {
		return nil, ErrUnsupportedProvider
	}
	return res, nil
}

// Providers returns the registered provider names in sorted order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.resolvers))
	for p := range r.resolvers {
		out = append(out, string(p))
	}
	sort.Strings(out)
	return out
}

// SlackResolver resolves Slack OpenID Connect callbacks.
type SlackResolver struct{}

func (SlackResolver) Provider() domain.IdentityProvider { return domain.IdentityProviderSlack }

// Resolve copies the tokens onto the link and uses the Slack profile as the placeholder user.
func (SlackResolver) Resolve(p *AuthPayload, subjectID string) (*domain.Identity, *userdomain.User, error) {
	link := &domain.Identity{
		Provider:     domain.IdentityProviderSlack,
		ProviderID:   subjectID,
		AccessToken:  p.Credentials.Token,
		RefreshToken: p.Credentials.RefreshToken,
	}
	if err := link.Validate(); err != nil {
		return nil, nil, err
	}
	profile := &userdomain.User{
		Email:       strings.TrimSpace(p.Info.Email),
		DisplayName: strings.TrimSpace(p.Info.Name),
	}
	return link, profile, nil
}
