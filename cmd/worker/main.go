// Worker consumes user.signed_up messages from RabbitMQ and sends the signup confirmation email.
// Set AMQP_URL and, optionally, SIGNUP_QUEUE and the SMTP_* settings.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"buildboard/backend/internal/app"
	"buildboard/backend/internal/config"
	"buildboard/backend/internal/notification/queue"
	userdomain "buildboard/backend/internal/user/domain"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if !cfg.QueueEnabled() {
		log.Fatal("worker: AMQP_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, obs, err := app.Telemetry(ctx, cfg)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Printf("worker: telemetry shutdown: %v", err)
		}
	}()

	dispatcher := app.Dispatcher(cfg, obs, nil)
	timeout := cfg.EmailSendTimeout()
	handle := func(ctx context.Context, u *userdomain.User) error {
		sendCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		res := dispatcher.SendSignupConfirmation(sendCtx, u)
		if !res.Success {
			return errors.New(res.Message)
		}
		return nil
	}

	log.Printf("worker: consuming %s", cfg.SignupQueue)
	if err := queue.NewConsumer(cfg.AMQPURL, cfg.SignupQueue, handle).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("worker: %v", err)
	}
	log.Println("worker: stopped")
}
