package payments

import (
	"context"
	"fmt"
	"testing"

	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/models"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/nexi"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func refundCount(t *testing.T, env *testEnv) int64 {
	t.Helper()
	var n int64
	require.NoError(t, env.db.Model(&models.RefundRequest{}).Count(&n).Error)
	return n
}

func TestRefundAboveCapturedIsRejectedBeforeGateway(t *testing.T) {
	env := newTestEnv(t)
	booking, payment := env.seedCompletedPayment(t)
	callsBefore := env.gateway.callCount()

	_, err := env.svc.Refund(context.Background(), RefundInput{PaymentID: payment.ID, Amount: 20000, Reason: "cancellation", Actor: env.adminActor()})
	require.Error(t, err)
	assert.Equal(t, KindAmountExceedsRefundable, KindOf(err))

	assert.Equal(t, callsBefore, env.gateway.callCount())
	assert.Zero(t, refundCount(t, env))
	after := env.reloadPayment(t, payment.ID)
	assert.Equal(t, payment.Version, after.Version)
	assert.Equal(t, models.BookingStatusConfirmed, env.reloadBooking(t, booking.ID).Status)

	audit := env.lastAudit(t)
	assert.Equal(t, models.AuditOperationRefund, audit.Operation)
	assert.Equal(t, models.AuditOutcomeRejected, audit.Outcome)
}

func TestRefundNonPositiveAmount(t *testing.T) {
	env := newTestEnv(t)
	_, payment := env.seedCompletedPayment(t)

	for _, amount := range []int64{0, -100} {
		_, err := env.svc.Refund(context.Background(), RefundInput{PaymentID: payment.ID, Amount: amount, Actor: env.adminActor()})
		assert.Equal(t, KindInvalidAmount, KindOf(err))
	}
	assert.Empty(t, env.gateway.refunds)
	assert.Zero(t, refundCount(t, env))
}

func TestRefundPartialThenFull(t *testing.T) {
	env := newTestEnv(t)
	booking, payment := env.seedCompletedPayment(t)
	ctx := context.Background()

	res, err := env.svc.Refund(ctx, RefundInput{PaymentID: payment.ID, Amount: 5000, Reason: "late return", Actor: env.adminActor()})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotZero(t, res.RefundID)

	p := env.reloadPayment(t, payment.ID)
	assert.Equal(t, int64(5000), p.RefundedAmount)
	assert.Equal(t, models.RefundStatusPartial, p.RefundStatus)
	b := env.reloadBooking(t, booking.ID)
	assert.Equal(t, models.BookingStatusConfirmed, b.Status)
	assert.Equal(t, models.BookingPaymentPartiallyRefunded, b.PaymentStatus)

	_, err = env.svc.Refund(ctx, RefundInput{PaymentID: payment.ID, Amount: 10001, Actor: env.adminActor()})
	assert.Equal(t, KindAmountExceedsRefundable, KindOf(err))

	res, err = env.svc.Refund(ctx, RefundInput{PaymentID: payment.ID, Amount: 10000, Actor: env.adminActor()})
	require.NoError(t, err)
	assert.True(t, res.Success)

	p = env.reloadPayment(t, payment.ID)
	assert.Equal(t, int64(15000), p.RefundedAmount)
	assert.Equal(t, models.RefundStatusFull, p.RefundStatus)
	b = env.reloadBooking(t, booking.ID)
	assert.Equal(t, models.BookingStatusRefunded, b.Status)
	assert.Equal(t, models.BookingPaymentRefunded, b.PaymentStatus)

	detail, err := env.svc.PaymentDetail(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), detail.Refunded)
	assert.Zero(t, detail.Refundable)
	assert.Len(t, detail.Refunds, 2)

	_, err = env.svc.Refund(ctx, RefundInput{PaymentID: payment.ID, Amount: 1, Actor: env.adminActor()})
	assert.Equal(t, KindAmountExceedsRefundable, KindOf(err))

	require.Len(t, env.notifier.refunded, 2)
	assert.False(t, env.notifier.refunded[0].FullRefund)
	assert.True(t, env.notifier.refunded[1].FullRefund)
	assert.Equal(t, []int64{5000, 10000}, []int64{env.gateway.refunds[0].Amount, env.gateway.refunds[1].Amount})
}

func TestRefundIdempotencyKeyReplay(t *testing.T) {
	env := newTestEnv(t)
	_, payment := env.seedCompletedPayment(t)
	in := RefundInput{PaymentID: payment.ID, Amount: 3000, IdempotencyKey: "refund-abc", Actor: env.adminActor()}

	first, err := env.svc.Refund(context.Background(), in)
	require.NoError(t, err)
	second, err := env.svc.Refund(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, first.RefundID, second.RefundID)
	assert.True(t, second.Success)
	assert.Len(t, env.gateway.refunds, 1)
	assert.Equal(t, int64(1), refundCount(t, env))
	assert.Equal(t, int64(3000), env.reloadPayment(t, payment.ID).RefundedAmount)
}

func TestRefundGatewayOutcomes(t *testing.T) {
	t.Run("network failure marks the refund failed", func(t *testing.T) {
		env := newTestEnv(t)
		_, payment := env.seedCompletedPayment(t)
		env.gateway.refund = func(nexi.RefundRequest) (*nexi.Response, error) {
			return nil, fmt.Errorf("%w: reset", nexi.ErrUnreachable)
		}

		_, err := env.svc.Refund(context.Background(), RefundInput{PaymentID: payment.ID, Amount: 1000, Actor: env.adminActor()})
		assert.Equal(t, KindGatewayUnreachable, KindOf(err))
		assert.Zero(t, env.reloadPayment(t, payment.ID).RefundedAmount)

		var refund models.RefundRequest
		require.NoError(t, env.db.First(&refund).Error)
		assert.Equal(t, models.RefundRequestFailed, refund.Status)
		assert.Equal(t, string(KindGatewayUnreachable), refund.ErrorMessage)

		audit := env.lastAudit(t)
		assert.Equal(t, models.AuditOutcomeError, audit.Outcome)
		require.NotNil(t, audit.RefundRequestID)
		assert.Equal(t, refund.ID, *audit.RefundRequestID)

		// a failed attempt holds nothing back
		env.gateway.refund = func(nexi.RefundRequest) (*nexi.Response, error) {
			return gatewayReply(t, testMACKey, map[string]string{"esito": "OK", "codiceEsito": "0", "idOperazione": "RF-2"}), nil
		}
		res, err := env.svc.Refund(context.Background(), RefundInput{PaymentID: payment.ID, Amount: 15000, Actor: env.adminActor()})
		require.NoError(t, err)
		assert.True(t, res.Success)
	})

	t.Run("declined refund is stored as failed", func(t *testing.T) {
		env := newTestEnv(t)
		_, payment := env.seedCompletedPayment(t)
		env.gateway.refund = func(nexi.RefundRequest) (*nexi.Response, error) { return declined(t, "100"), nil }

		res, err := env.svc.Refund(context.Background(), RefundInput{PaymentID: payment.ID, Amount: 1000, Actor: env.adminActor()})
		require.NoError(t, err)
		assert.False(t, res.Success)

		var refund models.RefundRequest
		require.NoError(t, env.db.First(&refund, res.RefundID).Error)
		assert.Equal(t, models.RefundRequestFailed, refund.Status)
		assert.Equal(t, "operazione rifiutata", refund.ErrorMessage)
		assert.NotEmpty(t, refund.GatewayResponse)
		assert.Zero(t, env.reloadPayment(t, payment.ID).RefundedAmount)
	})

	t.Run("bad mac is never a completed refund", func(t *testing.T) {
		env := newTestEnv(t)
		_, payment := env.seedCompletedPayment(t)
		env.gateway.refund = func(nexi.RefundRequest) (*nexi.Response, error) {
			return gatewayReply(t, "forged", map[string]string{"esito": "OK", "codiceEsito": "0"}), nil
		}

		res, err := env.svc.Refund(context.Background(), RefundInput{PaymentID: payment.ID, Amount: 1000, Actor: env.adminActor()})
		require.NoError(t, err)
		assert.Equal(t, KindMACVerificationFailed, res.ErrorKind)

		var refund models.RefundRequest
		require.NoError(t, env.db.First(&refund, res.RefundID).Error)
		assert.Equal(t, models.RefundRequestFailed, refund.Status)
		assert.Equal(t, models.MACFailed, env.lastAudit(t).MACVerificationStatus)
	})
}

func TestRefundRowIsProcessingDuringGatewayCall(t *testing.T) {
	env := newTestEnv(t)
	_, payment := env.seedCompletedPayment(t)

	var during models.RefundRequest
	env.gateway.refund = func(req nexi.RefundRequest) (*nexi.Response, error) {
		require.NoError(t, env.db.Where("payment_id = ?", payment.ID).First(&during).Error)
		return gatewayReply(t, testMACKey, map[string]string{"esito": "OK", "codiceEsito": "0", "idOperazione": "RF-9"}), nil
	}

	res, err := env.svc.Refund(context.Background(), RefundInput{PaymentID: payment.ID, Amount: 2500, Actor: env.adminActor()})
	require.NoError(t, err)
	assert.Equal(t, models.RefundRequestProcessing, during.Status)
	assert.Equal(t, int64(2500), during.Amount)
	assert.Equal(t, during.ID, res.RefundID)

	var after models.RefundRequest
	require.NoError(t, env.db.First(&after, res.RefundID).Error)
	assert.Equal(t, models.RefundRequestCompleted, after.Status)
	assert.Equal(t, "RF-9", after.GatewayRefundID)
	assert.Equal(t, int64(1), refundCount(t, env))
}

func TestRefundFinalizeFailureCannotOverRefund(t *testing.T) {
	env := newTestEnv(t)
	_, payment := env.seedCompletedPayment(t)
	ctx := context.Background()

	// the gateway approves, then someone else writes the payment so the
	// finalize transaction loses its version check
	env.gateway.refund = func(nexi.RefundRequest) (*nexi.Response, error) {
		require.NoError(t, env.db.Model(&models.Payment{}).Where("id = ?", payment.ID).
			Update("version", payment.Version+10).Error)
		return gatewayReply(t, testMACKey, map[string]string{"esito": "OK", "codiceEsito": "0", "idOperazione": "RF-LOST"}), nil
	}

	_, err := env.svc.Refund(ctx, RefundInput{PaymentID: payment.ID, Amount: 15000, Actor: env.adminActor()})
	require.Error(t, err)
	assert.Equal(t, KindConcurrentUpdate, KindOf(err))

	var stuck models.RefundRequest
	require.NoError(t, env.db.First(&stuck).Error)
	assert.Equal(t, models.RefundRequestProcessing, stuck.Status)
	assert.Equal(t, int64(15000), stuck.Amount)

	audit := env.lastAudit(t)
	require.NotNil(t, audit.RefundRequestID)
	assert.Equal(t, stuck.ID, *audit.RefundRequestID)
	assert.Equal(t, "OK", audit.Esito)

	env.gateway.refund = func(nexi.RefundRequest) (*nexi.Response, error) {
		return gatewayReply(t, testMACKey, map[string]string{"esito": "OK", "codiceEsito": "0", "idOperazione": "RF-2"}), nil
	}
	calls := env.gateway.callCount()
	_, err = env.svc.Refund(ctx, RefundInput{PaymentID: payment.ID, Amount: 1, Actor: env.adminActor()})
	assert.Equal(t, KindAmountExceedsRefundable, KindOf(err))
	assert.Equal(t, calls, env.gateway.callCount())

	detail, err := env.svc.PaymentDetail(ctx, payment.ID)
	require.NoError(t, err)
	assert.Zero(t, detail.Refunded)
	assert.Equal(t, int64(15000), detail.Processing)
	assert.Zero(t, detail.Refundable)
}

func TestRefundProcessingAmountCountsAgainstRemaining(t *testing.T) {
	env := newTestEnv(t)
	booking, payment := env.seedCompletedPayment(t)
	ctx := context.Background()

	require.NoError(t, env.db.Create(&models.RefundRequest{
		PaymentID: payment.ID, BookingID: booking.ID, Amount: 10000, Currency: "EUR",
		RequestedBy: env.admin.ID, Status: models.RefundRequestProcessing, IdempotencyKey: "in-flight",
	}).Error)

	_, err := env.svc.Refund(ctx, RefundInput{PaymentID: payment.ID, Amount: 5001, Actor: env.adminActor()})
	assert.Equal(t, KindAmountExceedsRefundable, KindOf(err))

	// the same key is still being processed
	_, err = env.svc.Refund(ctx, RefundInput{PaymentID: payment.ID, Amount: 10000, IdempotencyKey: "in-flight", Actor: env.adminActor()})
	assert.Equal(t, KindConcurrentRequest, KindOf(err))
	assert.True(t, IsRetryable(err))

	res, err := env.svc.Refund(ctx, RefundInput{PaymentID: payment.ID, Amount: 5000, Actor: env.adminActor()})
	require.NoError(t, err)
	assert.True(t, res.Success)
	// only completed rows count as refunded
	p := env.reloadPayment(t, payment.ID)
	assert.Equal(t, int64(5000), p.RefundedAmount)
	assert.Equal(t, models.RefundStatusPartial, p.RefundStatus)
	assert.Len(t, env.gateway.refunds, 1)
}

func TestRefundRequiresAdminAndCompletedPayment(t *testing.T) {
	env := newTestEnv(t)
	_, pending := env.seedPendingPayment(t)

	_, err := env.svc.Refund(context.Background(), RefundInput{PaymentID: pending.ID, Amount: 100, Actor: env.userActor()})
	assert.Equal(t, KindForbidden, KindOf(err))

	_, err = env.svc.Refund(context.Background(), RefundInput{PaymentID: pending.ID, Amount: 100, Actor: env.adminActor()})
	assert.Equal(t, KindInvalidState, KindOf(err))

	_, err = env.svc.Refund(context.Background(), RefundInput{PaymentID: 424242, Amount: 100, Actor: env.adminActor()})
	assert.Equal(t, KindPaymentNotFound, KindOf(err))
}

func TestListRefunds(t *testing.T) {
	env := newTestEnv(t)
	_, payment := env.seedCompletedPayment(t)
	ctx := context.Background()

	_, err := env.svc.Refund(ctx, RefundInput{PaymentID: payment.ID, Amount: 1000, Actor: env.adminActor()})
	require.NoError(t, err)
	env.gateway.refund = func(nexi.RefundRequest) (*nexi.Response, error) { return declined(t, "100"), nil }
	_, err = env.svc.Refund(ctx, RefundInput{PaymentID: payment.ID, Amount: 1000, Actor: env.adminActor()})
	require.NoError(t, err)

	all, total, err := env.svc.ListRefunds(ctx, RefundFilter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, all, 2)

	failed, total, err := env.svc.ListRefunds(ctx, RefundFilter{Status: models.RefundRequestFailed, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, failed, 1)
	assert.Equal(t, models.RefundRequestFailed, failed[0].Status)
}
