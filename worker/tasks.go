// Package worker delivers payment notifications in the background through
// asynq, so mail delivery never holds up a relay response.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/services/payments"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/utils"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	TypePaymentConfirmed = "email:payment_confirmed"
	TypeRefundProcessed  = "email:refund_processed"

	// QueueNotifications carries every customer email
	QueueNotifications = "notifications"
)

// Sender sends one email
type Sender interface {
	Send(to, subject, body string) error
}

// Enqueuer implements payments.Notifier by queueing asynq tasks
type Enqueuer struct {
	client *asynq.Client
	logger *zap.Logger
}

// NewEnqueuer returns an Enqueuer using client
func NewEnqueuer(client *asynq.Client, logger *zap.Logger) *Enqueuer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enqueuer{client: client, logger: logger}
}

// NewPaymentConfirmedTask builds the task for a confirmed payment
func NewPaymentConfirmedTask(ev payments.PaymentConfirmedEvent) (*asynq.Task, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal payment confirmed event: %w", err)
	}
	return asynq.NewTask(TypePaymentConfirmed, payload, asynq.MaxRetry(5), asynq.Queue(QueueNotifications)), nil
}

// NewRefundProcessedTask builds the task for an approved refund
func NewRefundProcessedTask(ev payments.RefundProcessedEvent) (*asynq.Task, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal refund processed event: %w", err)
	}
	return asynq.NewTask(TypeRefundProcessed, payload, asynq.MaxRetry(5), asynq.Queue(QueueNotifications)), nil
}

func (e *Enqueuer) PaymentConfirmed(ctx context.Context, ev payments.PaymentConfirmedEvent) error {
	task, err := NewPaymentConfirmedTask(ev)
	if err != nil {
		return err
	}
	return e.enqueue(ctx, task, ev.TransactionID)
}

func (e *Enqueuer) RefundProcessed(ctx context.Context, ev payments.RefundProcessedEvent) error {
	task, err := NewRefundProcessedTask(ev)
	if err != nil {
		return err
	}
	return e.enqueue(ctx, task, ev.TransactionID)
}

func (e *Enqueuer) enqueue(ctx context.Context, task *asynq.Task, transactionID string) error {
	info, err := e.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}
	e.logger.Debug("task enqueued",
		zap.String("type", task.Type()),
		zap.String("task_id", info.ID),
		zap.String("transaction_id", transactionID),
	)
	return nil
}

// NewServer builds the asynq server that consumes the notifications queue
func NewServer(redisOpt asynq.RedisClientOpt, concurrency int) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 5
	}
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueNotifications: 1,
		},
	})
}

// NewMux routes notification tasks to their handlers
func NewMux(sender Sender, logger *zap.Logger) *asynq.ServeMux {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypePaymentConfirmed, HandlePaymentConfirmed(sender, logger))
	mux.HandleFunc(TypeRefundProcessed, HandleRefundProcessed(sender, logger))
	return mux
}

// HandlePaymentConfirmed mails the booking confirmation
func HandlePaymentConfirmed(sender Sender, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var ev payments.PaymentConfirmedEvent
		if err := json.Unmarshal(task.Payload(), &ev); err != nil {
			// a payload that cannot be decoded will never succeed
			return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
		}
		if ev.CustomerEmail == "" {
			logger.Warn("payment confirmation without recipient", zap.String("transaction_id", ev.TransactionID))
			return nil
		}

		subject, body := utils.PaymentConfirmedEmail(ev.CustomerName, ev.ItemName, ev.TransactionID, ev.Amount, ev.Currency)
		if err := sender.Send(ev.CustomerEmail, subject, body); err != nil {
			logger.Error("failed to send payment confirmation", zap.String("transaction_id", ev.TransactionID), zap.Error(err))
			return err
		}
		logger.Info("payment confirmation sent", zap.String("transaction_id", ev.TransactionID))
		return nil
	}
}

// HandleRefundProcessed mails the refund receipt
func HandleRefundProcessed(sender Sender, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var ev payments.RefundProcessedEvent
		if err := json.Unmarshal(task.Payload(), &ev); err != nil {
			return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
		}
		if ev.CustomerEmail == "" {
			logger.Warn("refund notification without recipient", zap.Uint("refund_id", ev.RefundRequestID))
			return nil
		}

		subject, body := utils.RefundProcessedEmail(ev.CustomerName, ev.ItemName, ev.TransactionID, ev.Amount, ev.Currency, ev.FullRefund)
		if err := sender.Send(ev.CustomerEmail, subject, body); err != nil {
			logger.Error("failed to send refund notification", zap.Uint("refund_id", ev.RefundRequestID), zap.Error(err))
			return err
		}
		logger.Info("refund notification sent", zap.Uint("refund_id", ev.RefundRequestID))
		return nil
	}
}

// Run serves notification tasks until ctx is done, retrying startup with
// backoff while Redis is unavailable
func Run(ctx context.Context, srv *asynq.Server, mux *asynq.ServeMux, logger *zap.Logger) {
	const maxAttempts = 5

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := srv.Start(mux)
		if err == nil {
			logger.Info("notification worker started")
			<-ctx.Done()
			srv.Shutdown()
			logger.Info("notification worker stopped")
			return
		}

		logger.Error("failed to start notification worker",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt*2) * time.Second):
		}
	}
	logger.Error("notification worker gave up; emails will queue until restart")
}
