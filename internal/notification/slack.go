package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/slack-go/slack"

	userdomain "buildboard/backend/internal/user/domain"
)

// SlackAnnouncer posts a short message to a Slack incoming webhook for each new signup. Best-effort.
type SlackAnnouncer struct {
	webhookURL string
	client     *http.Client
	timeout    time.Duration
	wg         sync.WaitGroup
}

// NewSlackAnnouncer returns an announcer posting to webhookURL. client may be nil.
func NewSlackAnnouncer(webhookURL string, client *http.Client) *SlackAnnouncer {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &SlackAnnouncer{webhookURL: webhookURL, client: client, timeout: 5 * time.Second}
}

func (a *SlackAnnouncer) NotifySignup(ctx context.Context, u *userdomain.User) {
	if a == nil || a.webhookURL == "" || u == nil {
		return
	}
	msg := &slack.WebhookMessage{Text: signupAnnouncement(u)}
	userID := u.ID
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		postCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		if err := slack.PostWebhookCustomHTTPContext(postCtx, a.webhookURL, a.client, msg); err != nil {
			log.Printf("notification: slack signup announcement for user %s: %v", userID, err)
		}
	}()
}

// Wait blocks until in-flight posts finish. Used by tests and shutdown.
func (a *SlackAnnouncer) Wait() {
	a.wg.Wait()
}

func signupAnnouncement(u *userdomain.User) string {
	name := u.DisplayName
	if name == "" {
		name = u.Email
	}
	return fmt.Sprintf(":tada: %s just signed up for Buildboard", name)
}
