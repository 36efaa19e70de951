package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/services/payments"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sentMail struct {
	to, subject, body string
}

type fakeSender struct {
	sent []sentMail
	err  error
}

func (f *fakeSender) Send(to, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{to, subject, body})
	return nil
}

func TestHandlePaymentConfirmed(t *testing.T) {
	sender := &fakeSender{}
	task, err := NewPaymentConfirmedTask(payments.PaymentConfirmedEvent{
		BookingID:     7,
		TransactionID: "DR77ABCDEF1234",
		Amount:        15000,
		Currency:      "EUR",
		CustomerName:  "Marco Rossi",
		CustomerEmail: "marco@example.com",
		ItemName:      "Ferrari 488",
	})
	require.NoError(t, err)
	assert.Equal(t, TypePaymentConfirmed, task.Type())

	require.NoError(t, HandlePaymentConfirmed(sender, zap.NewNop())(context.Background(), task))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "marco@example.com", sender.sent[0].to)
	assert.Contains(t, sender.sent[0].body, "150.00 EUR")
	assert.Contains(t, sender.sent[0].body, "DR77ABCDEF1234")
}

func TestHandleRefundProcessed(t *testing.T) {
	sender := &fakeSender{}
	task, err := NewRefundProcessedTask(payments.RefundProcessedEvent{
		RefundRequestID: 3,
		TransactionID:   "DR77ABCDEF1234",
		Amount:          5000,
		Currency:        "EUR",
		CustomerEmail:   "marco@example.com",
		ItemName:        "Ferrari 488",
	})
	require.NoError(t, err)

	require.NoError(t, HandleRefundProcessed(sender, zap.NewNop())(context.Background(), task))
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].body, "50.00 EUR")
}

func TestHandlersPropagateSendErrors(t *testing.T) {
	sender := &fakeSender{err: errors.New("smtp down")}
	task, err := NewPaymentConfirmedTask(payments.PaymentConfirmedEvent{CustomerEmail: "a@b.c", Amount: 1, Currency: "EUR"})
	require.NoError(t, err)

	assert.Error(t, HandlePaymentConfirmed(sender, zap.NewNop())(context.Background(), task))
}

func TestHandlersSkipRetryOnBadPayload(t *testing.T) {
	task := asynq.NewTask(TypeRefundProcessed, []byte("{not json"))
	err := HandleRefundProcessed(&fakeSender{}, zap.NewNop())(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandlersIgnoreMissingRecipient(t *testing.T) {
	sender := &fakeSender{}
	task, err := NewPaymentConfirmedTask(payments.PaymentConfirmedEvent{TransactionID: "X"})
	require.NoError(t, err)

	assert.NoError(t, HandlePaymentConfirmed(sender, zap.NewNop())(context.Background(), task))
	assert.Empty(t, sender.sent)
}
