package notification

import (
	"context"
	"log"
	"sync"
	"time"

	userdomain "buildboard/backend/internal/user/domain"
)

// SignupSender sends the signup confirmation. *Dispatcher satisfies it.
type SignupSender interface {
	SendSignupConfirmation(ctx context.Context, u *userdomain.User) Result
}

// SignupNotifier is told about every newly created user. It must not block the caller on delivery.
type SignupNotifier interface {
	NotifySignup(ctx context.Context, u *userdomain.User)
}

// AsyncNotifier sends the signup confirmation on its own goroutine, bounded by timeout.
// The send keeps the caller's trace context but not its cancellation.
type AsyncNotifier struct {
	sender  SignupSender
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAsyncNotifier returns an AsyncNotifier; timeout <= 0 defaults to 10s.
func NewAsyncNotifier(sender SignupSender, timeout time.Duration) *AsyncNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AsyncNotifier{sender: sender, timeout: timeout}
}

func (n *AsyncNotifier) NotifySignup(ctx context.Context, u *userdomain.User) {
	if n == nil || n.sender == nil || u == nil {
		return
	}
	user := *u
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()
		if res := n.sender.SendSignupConfirmation(sendCtx, &user); !res.Success {
			log.Printf("notification: signup confirmation for user %s failed: %s", user.ID, res.Message)
		}
	}()
}

// Wait blocks until in-flight sends finish or ctx is done.
func (n *AsyncNotifier) Wait(ctx context.Context) error {
	return waitGroup(ctx, &n.wg)
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SignupPublisher hands a signup to an out-of-process worker.
type SignupPublisher interface {
	PublishSignup(ctx context.Context, u *userdomain.User) error
}

// QueuedNotifier publishes signups for a worker to send, falling back to fallback when publishing fails.
// Publishing runs on its own goroutine, bounded by timeout, so a slow broker never holds up the caller.
type QueuedNotifier struct {
	publisher SignupPublisher
	fallback  SignupNotifier
	timeout   time.Duration
	wg        sync.WaitGroup
}

// NewQueuedNotifier returns a notifier that publishes through publisher. fallback may be nil;
// timeout <= 0 defaults to 5s.
func NewQueuedNotifier(publisher SignupPublisher, fallback SignupNotifier, timeout time.Duration) *QueuedNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &QueuedNotifier{publisher: publisher, fallback: fallback, timeout: timeout}
}

func (n *QueuedNotifier) NotifySignup(ctx context.Context, u *userdomain.User) {
	if n == nil || n.publisher == nil || u == nil {
		return
	}
	user := *u
	base := context.WithoutCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		pubCtx, cancel := context.WithTimeout(base, n.timeout)
		err := n.publisher.PublishSignup(pubCtx, &user)
		cancel()
		if err == nil {
			return
		}
		log.Printf("notification: publish signup for user %s: %v", user.ID, err)
		if n.fallback != nil {
			n.fallback.NotifySignup(base, &user)
		}
	}()
}

// Wait blocks until in-flight publishes finish or ctx is done.
func (n *QueuedNotifier) Wait(ctx context.Context) error {
	return waitGroup(ctx, &n.wg)
}

// MultiNotifier fans a signup out to every notifier in order.
type MultiNotifier []SignupNotifier

func (m MultiNotifier) NotifySignup(ctx context.Context, u *userdomain.User) {
	for _, n := range m {
		if n != nil {
			n.NotifySignup(ctx, u)
		}
	}
}
