package notification

import (
	"bytes"
	"embed"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	userdomain "buildboard/backend/internal/user/domain"
)

// Subjects used when the caller does not supply one.
const (
	SignupSubject      = "Welcome to Buildboard! 🎉"
	DefaultTestSubject = "Test Email from Buildboard"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var (
	textTemplates = texttemplate.Must(texttemplate.ParseFS(templatesFS, "templates/*.txt.tmpl"))
	htmlTemplates = htmltemplate.Must(htmltemplate.ParseFS(templatesFS, "templates/*.html.tmpl"))
)

// Composer renders the email templates into Messages.
type Composer struct {
	from     string
	loginURL string
	now      func() time.Time
}

// NewComposer returns a Composer sending from from and linking to baseURL in the signup email.
func NewComposer(from, baseURL string) *Composer {
	loginURL := strings.TrimRight(baseURL, "/") + "/"
	return &Composer{from: from, loginURL: loginURL, now: time.Now}
}

// SignupConfirmation composes the welcome email for u.
func (c *Composer) SignupConfirmation(u *userdomain.User) (*Message, error) {
	name := u.DisplayName
	if name == "" {
		name = u.Email
	}
	data := struct{ Name, LoginURL string }{Name: name, LoginURL: c.loginURL}
	return c.compose(u.Email, SignupSubject, "signup_confirmation", data)
}

// TestEmail composes the diagnostic email. An empty subject uses DefaultTestSubject.
func (c *Composer) TestEmail(recipient, subject string) (*Message, error) {
	if strings.TrimSpace(subject) == "" {
		subject = DefaultTestSubject
	}
	data := struct{ Recipient, Timestamp string }{
		Recipient: recipient,
		Timestamp: c.now().UTC().Format(time.RFC1123),
	}
	return c.compose(recipient, subject, "test_email", data)
}

func (c *Composer) compose(to, subject, name string, data any) (*Message, error) {
	var text, html bytes.Buffer
	if err := textTemplates.ExecuteTemplate(&text, name+".txt.tmpl", data); err != nil {
		return nil, err
	}
	if err := htmlTemplates.ExecuteTemplate(&html, name+".html.tmpl", data); err != nil {
		return nil, err
	}
	return &Message{
		From:    c.from,
		To:      to,
		Subject: subject,
		Text:    text.String(),
		HTML:    html.String(),
		Date:    c.now(),
	}, nil
}
