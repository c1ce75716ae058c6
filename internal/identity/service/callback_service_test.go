package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	auditdomain "buildboard/backend/internal/audit/domain"
	identitydomain "buildboard/backend/internal/identity/domain"
	"buildboard/backend/internal/identity/provider"
	userdomain "buildboard/backend/internal/user/domain"
)

// memLinkRepo serializes FindOrCreate the way the unique constraint does in Postgres.
type memLinkRepo struct {
	mu    sync.Mutex
	links map[string]*identitydomain.Identity
	users map[string]*userdomain.User
	err   error
}

func newMemLinkRepo() *memLinkRepo {
	return &memLinkRepo{links: map[string]*identitydomain.Identity{}, users: map[string]*userdomain.User{}}
}

func (r *memLinkRepo) FindOrCreate(ctx context.Context, link *identitydomain.Identity, profile *userdomain.User) (*identitydomain.LinkResult, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := fmt.Sprintf("%s|%s", link.Provider, link.ProviderID)
	if existing, ok := r.links[key]; ok {
		existing.ApplyCredentials(link.AccessToken, link.RefreshToken)
		return &identitydomain.LinkResult{Identity: existing, User: r.users[existing.UserID]}, nil
	}
	u := *profile
	u.ID = uuid.New().String()
	r.users[u.ID] = &u
	l := *link
	l.ID = uuid.New().String()
	l.UserID = u.ID
	r.links[key] = &l
	return &identitydomain.LinkResult{Identity: &l, User: &u, Created: true}, nil
}

func (r *memLinkRepo) link(providerID string) *identitydomain.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.links["slack|"+providerID]
}

type recordingNotifier struct {
	mu    sync.Mutex
	users []*userdomain.User
}

func (n *recordingNotifier) NotifySignup(ctx context.Context, u *userdomain.User) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users = append(n.users, u)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.users)
}

type recordingAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *recordingAudit) LogEvent(ctx context.Context, userID, action, resource, metadata string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
}

func newTestService() (*CallbackService, *memLinkRepo, *recordingNotifier, *recordingAudit) {
	repo := newMemLinkRepo()
	notifier := &recordingNotifier{}
	auditLog := &recordingAudit{}
	svc := NewCallbackService(repo, provider.NewRegistry(provider.SlackResolver{}), notifier, auditLog, nil)
	return svc, repo, notifier, auditLog
}

func slackPayload(uid, access, refresh string) *provider.AuthPayload {
	return &provider.AuthPayload{
		Provider:    "slack",
		UID:         uid,
		Info:        provider.Info{Name: "Ann", Email: "a@b.com"},
		Credentials: provider.Credentials{Token: access, RefreshToken: refresh},
	}
}

func TestHandleCallback_FirstLoginCreatesUserAndNotifies(t *testing.T) {
	svc, repo, notifier, auditLog := newTestService()

	res, err := svc.HandleCallback(context.Background(), slackPayload("U123", "xoxp-1", "xoxe-1"))
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if !res.Created {
		t.Error("first login should create the user")
	}
	if res.User.Email != "a@b.com" || res.User.DisplayName != "Ann" {
		t.Errorf("user = %+v", res.User)
	}
	link := repo.link("U123")
	if link == nil || link.UserID != res.User.ID {
		t.Fatalf("link = %+v", link)
	}
	if notifier.count() != 1 {
		t.Errorf("signup notifications = %d, want 1", notifier.count())
	}
	want := []string{auditdomain.ActionSignup, auditdomain.ActionLoginSuccess}
	if fmt.Sprint(auditLog.actions) != fmt.Sprint(want) {
		t.Errorf("audit actions = %v, want %v", auditLog.actions, want)
	}
}

func TestHandleCallback_ReturningUserUpdatesTokens(t *testing.T) {
	svc, repo, notifier, _ := newTestService()
	first, err := svc.HandleCallback(context.Background(), slackPayload("U123", "xoxp-1", "xoxe-1"))
	if err != nil {
		t.Fatalf("first HandleCallback: %v", err)
	}

	second, err := svc.HandleCallback(context.Background(), slackPayload("U123", "xoxp-2", ""))
	if err != nil {
		t.Fatalf("second HandleCallback: %v", err)
	}
	if second.Created {
		t.Error("returning user should not be created again")
	}
	if second.User.ID != first.User.ID {
		t.Errorf("user id = %q, want %q", second.User.ID, first.User.ID)
	}
	link := repo.link("U123")
	if link.AccessToken != "xoxp-2" {
		t.Errorf("AccessToken = %q, want xoxp-2", link.AccessToken)
	}
	if link.RefreshToken != "xoxe-1" {
		t.Errorf("RefreshToken = %q, want preserved xoxe-1", link.RefreshToken)
	}
	if notifier.count() != 1 {
		t.Errorf("signup notifications = %d, want 1", notifier.count())
	}
}

func TestHandleCallback_SubjectFallbacks(t *testing.T) {
	testCases := []struct {
		name    string
		payload *provider.AuthPayload
		want    string
	}{
		{"raw info sub", &provider.AuthPayload{Provider: "slack", Extra: provider.Extra{RawInfo: map[string]any{"sub": "U-sub"}, UserID: "U-extra"}}, "U-sub"},
		{"extra user id", &provider.AuthPayload{Provider: "slack", Extra: provider.Extra{UserID: "U-extra"}}, "U-extra"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc, repo, _, _ := newTestService()
			tc.payload.Info = provider.Info{Email: "a@b.com"}
			if _, err := svc.HandleCallback(context.Background(), tc.payload); err != nil {
				t.Fatalf("HandleCallback: %v", err)
			}
			if repo.link(tc.want) == nil {
				t.Errorf("link for %q not created", tc.want)
			}
		})
	}
}

func TestHandleCallback_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		payload *provider.AuthPayload
		repoErr error
		wantErr error
	}{
		{"nil payload", nil, nil, ErrNoAuthData},
		{"no subject", &provider.AuthPayload{Provider: "slack"}, nil, ErrSubjectMissing},
		{"unsupported provider", &provider.AuthPayload{Provider: "github", UID: "octo"}, nil, ErrUnsupportedProvider},
		{"repository failure", slackPayload("U1", "xoxp", ""), errors.New("connection refused"), nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc, repo, notifier, auditLog := newTestService()
			repo.err = tc.repoErr
			_, err := svc.HandleCallback(context.Background(), tc.payload)
			if err == nil {
				t.Fatal("HandleCallback should fail")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("error = %v, want %v", err, tc.wantErr)
			}
			if tc.repoErr != nil && !errors.Is(err, tc.repoErr) {
				t.Errorf("error = %v, should wrap %v", err, tc.repoErr)
			}
			if notifier.count() != 0 {
				t.Error("failed callback should not notify")
			}
			if len(auditLog.actions) != 1 || auditLog.actions[0] != auditdomain.ActionLoginFailure {
				t.Errorf("audit actions = %v, want [login_failure]", auditLog.actions)
			}
		})
	}
}

func TestHandleCallback_ConcurrentFirstLoginNotifiesOnce(t *testing.T) {
	svc, _, notifier, _ := newTestService()

	const workers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		userIDs = map[string]bool{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.HandleCallback(context.Background(), slackPayload("U-race", "xoxp", ""))
			if err != nil {
				t.Errorf("HandleCallback: %v", err)
				return
			}
			mu.Lock()
			userIDs[res.User.ID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(userIDs) != 1 {
		t.Errorf("distinct users = %d, want 1", len(userIDs))
	}
	if notifier.count() != 1 {
		t.Errorf("signup notifications = %d, want 1", notifier.count())
	}
}

func TestSignOut_Audits(t *testing.T) {
	svc, _, _, auditLog := newTestService()
	svc.SignOut(context.Background(), "")
	svc.SignOut(context.Background(), "user-1")
	if len(auditLog.actions) != 1 || auditLog.actions[0] != auditdomain.ActionLogout {
		t.Errorf("audit actions = %v, want [logout]", auditLog.actions)
	}
}
