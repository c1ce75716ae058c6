// Package queue carries user.signed_up events over RabbitMQ so signup confirmations can be sent
// by a worker process instead of the web server.
package queue

import (
	"encoding/json"
	"errors"
	"time"

	userdomain "buildboard/backend/internal/user/domain"
)

// SignedUpEvent is the JSON body of a user.signed_up message.
type SignedUpEvent struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// NewSignedUpEvent builds the event for u.
func NewSignedUpEvent(u *userdomain.User, at time.Time) SignedUpEvent {
	return SignedUpEvent{UserID: u.ID, Email: u.Email, DisplayName: u.DisplayName, OccurredAt: at.UTC()}
}

// User returns the user snapshot carried by the event.
func (e SignedUpEvent) User() *userdomain.User {
	return &userdomain.User{ID: e.UserID, Email: e.Email, DisplayName: e.DisplayName}
}

func decodeEvent(body []byte) (SignedUpEvent, error) {
	var ev SignedUpEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, err
	}
	if ev.UserID == "" {
		return ev, errors.New("event has no user_id")
	}
	return ev, nil
}
