package payments

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/models"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/nexi"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// VerifyInput is a customer's OTP submission
type VerifyInput struct {
	TransactionID string
	OrderID       string
	OTP           string
	// RetryCount is what the client believes; the stored attempt counter wins
	RetryCount int
	Actor      Actor
}

// VerifyOTP relays the code to the gateway and records the authenticated
// outcome on the payment and its booking.
func (s *Service) VerifyOTP(ctx context.Context, in VerifyInput) (res Result, err error) {
	trail := s.beginAudit(models.AuditOperationVerify, in.Actor, in.TransactionID)
	defer func() { s.flushAudit(ctx, trail, err) }()

	if err = requireRole(in.Actor, RoleUser); err != nil {
		return Result{}, err
	}
	if in.TransactionID == "" || in.OTP == "" {
		return Result{}, newError(KindInvalidRequest, "transactionId and otpCode are required")
	}

	release, err := s.lock(ctx, in.TransactionID)
	if err != nil {
		return Result{}, err
	}
	defer release()

	payment, err := s.loadByTransaction(ctx, in.TransactionID)
	if err != nil {
		return Result{}, err
	}
	trail.attach(payment)
	booking := payment.Booking

	if err = checkOwnership(in.Actor, booking, in.OrderID); err != nil {
		return Result{}, err
	}
	if err = s.checkWindow(payment); err != nil {
		return Result{}, err
	}
	if payment.VerifyAttempts >= s.settings.MaxVerifyAttempts {
		return Result{}, newError(KindAttemptsExhausted, "maximum verification attempts reached")
	}
	if payment.PaymentStatus != models.PaymentStatusPending {
		return Result{}, newError(KindInvalidState, fmt.Sprintf("payment is %s, not pending", payment.PaymentStatus))
	}
	if booking.Status != models.BookingStatusPending {
		return Result{}, newError(KindInvalidState, fmt.Sprintf("booking is %s, not pending", booking.Status))
	}

	s.logger.Debug("verifying otp",
		zap.String("transaction_id", payment.TransactionID),
		zap.Int("attempt", payment.VerifyAttempts+1),
		zap.Int("client_retry_count", in.RetryCount),
	)

	resp, gerr := s.gateway.VerifyOTP(ctx, nexi.VerifyOTPRequest{
		TransactionID: payment.TransactionID,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		OTP:           in.OTP,
	})
	if gerr != nil {
		s.logger.Warn("gateway verify call failed",
			zap.String("transaction_id", payment.TransactionID),
			zap.Error(gerr),
		)
		return Result{}, gatewayError(gerr)
	}
	trail.gateway(resp)

	d := s.decideVerify(payment, resp, s.now())

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := updatePayment(tx, payment, d.payment); err != nil {
			return err
		}
		if d.booking != nil {
			if err := updateBooking(tx, booking, d.booking); err != nil {
				return err
			}
		}
		return trail.write(tx, d.outcome, d.result.ErrorKind)
	})
	if err != nil {
		s.logger.Error("failed to persist verify outcome",
			zap.String("transaction_id", payment.TransactionID),
			zap.String("esito", resp.Esito),
			zap.String("codice_esito", resp.CodiceEsito),
			zap.Error(err),
		)
		return Result{}, asRelayError(err)
	}
	trail.committed()

	if d.result.Success {
		s.logger.Info("payment verified",
			zap.String("transaction_id", payment.TransactionID),
			zap.Uint("booking_id", booking.ID),
			zap.Int64("captured_amount", d.captured),
		)
		s.notifyPaymentConfirmed(ctx, payment, booking, d.captured)
	}
	return d.result, nil
}

type verifyDecision struct {
	result   Result
	payment  map[string]interface{}
	booking  map[string]interface{}
	outcome  string
	captured int64
}

// decideVerify maps an authenticated or unauthenticated reply onto row changes.
// A reply with a bad MAC is a failure whatever esito says.
func (s *Service) decideVerify(p *models.Payment, resp *nexi.Response, now time.Time) verifyDecision {
	attempts := p.VerifyAttempts + 1
	left := s.settings.MaxVerifyAttempts - attempts
	if left < 0 {
		left = 0
	}

	if !resp.MACValid {
		s.logger.Error("gateway response failed MAC verification",
			zap.String("transaction_id", p.TransactionID),
			zap.String("claimed_esito", resp.Esito),
			zap.String("claimed_codice_esito", resp.CodiceEsito),
		)
		return verifyDecision{
			result: Result{
				ErrorKind:     KindMACVerificationFailed,
				Message:       "The payment response could not be authenticated.",
				GatewayCode:   resp.CodiceEsito,
				PaymentStatus: models.PaymentStatusFailed,
			},
			payment: map[string]interface{}{
				"payment_status":          models.PaymentStatusFailed,
				"mac_verification_status": models.MACFailed,
				"failure_reason":          string(KindMACVerificationFailed),
				"gateway_response_code":   resp.CodiceEsito,
				"verify_attempts":         attempts,
			},
			booking: map[string]interface{}{"payment_status": models.BookingPaymentFailed},
			outcome: models.AuditOutcomeFailure,
		}
	}

	if resp.Approved() && resp.HasImporto && resp.Importo != p.Amount {
		s.logger.Error("gateway approved a different amount",
			zap.String("transaction_id", p.TransactionID),
			zap.Int64("expected", p.Amount),
			zap.Int64("importo", resp.Importo),
		)
		return verifyDecision{
			result: Result{
				ErrorKind:     KindAmountMismatch,
				Message:       "The authorized amount does not match the booking total.",
				GatewayCode:   resp.CodiceEsito,
				PaymentStatus: models.PaymentStatusFailed,
			},
			payment: map[string]interface{}{
				"payment_status":          models.PaymentStatusFailed,
				"mac_verification_status": models.MACVerified,
				"gateway_auth_code":       resp.CodAut,
				"gateway_response_code":   resp.CodiceEsito,
				"captured_amount":         resp.Importo,
				"failure_reason":          string(KindAmountMismatch),
				"verify_attempts":         attempts,
			},
			booking: map[string]interface{}{"payment_status": models.BookingPaymentFailed},
			outcome: models.AuditOutcomeFailure,
		}
	}

	if resp.Approved() {
		captured := p.Amount
		return verifyDecision{
			result: Result{
				Success:       true,
				Message:       "Payment verified.",
				GatewayCode:   resp.CodiceEsito,
				PaymentStatus: models.PaymentStatusCompleted,
			},
			payment: map[string]interface{}{
				"payment_status":          models.PaymentStatusCompleted,
				"mac_verification_status": models.MACVerified,
				"gateway_auth_code":       resp.CodAut,
				"gateway_response_code":   resp.CodiceEsito,
				"captured_amount":         captured,
				"completed_at":            now,
				"failure_reason":          "",
			},
			booking: map[string]interface{}{
				"status":         models.BookingStatusConfirmed,
				"payment_status": models.BookingPaymentPaid,
			},
			outcome:  models.AuditOutcomeSuccess,
			captured: captured,
		}
	}

	reason := resp.Reason()
	changes := map[string]interface{}{
		"mac_verification_status": models.MACVerified,
		"gateway_response_code":   resp.CodiceEsito,
		"verify_attempts":         attempts,
		"failure_reason":          string(reason),
	}

	if reason.Retryable() && left > 0 {
		return verifyDecision{
			result: Result{
				ErrorKind:     Kind(reason),
				Message:       fmt.Sprintf("%s %d attempt(s) left.", reason.Message(), left),
				GatewayCode:   resp.CodiceEsito,
				RetryAllowed:  true,
				PaymentStatus: models.PaymentStatusPending,
				AttemptsLeft:  left,
			},
			payment: changes,
			outcome: models.AuditOutcomeFailure,
		}
	}

	kind := Kind(reason)
	message := reason.Message()
	if reason.Retryable() {
		kind = KindAttemptsExhausted
		message = "Maximum verification attempts reached."
		changes["failure_reason"] = string(KindAttemptsExhausted)
	}
	changes["payment_status"] = models.PaymentStatusFailed

	return verifyDecision{
		result: Result{
			ErrorKind:     kind,
			Message:       message,
			GatewayCode:   resp.CodiceEsito,
			PaymentStatus: models.PaymentStatusFailed,
		},
		payment: changes,
		booking: map[string]interface{}{"payment_status": models.BookingPaymentFailed},
		outcome: models.AuditOutcomeFailure,
	}
}

func (s *Service) notifyPaymentConfirmed(ctx context.Context, p *models.Payment, b *models.Booking, captured int64) {
	err := s.notifier.PaymentConfirmed(ctx, PaymentConfirmedEvent{
		BookingID:     b.ID,
		PaymentID:     p.ID,
		TransactionID: p.TransactionID,
		Amount:        captured,
		Currency:      p.Currency,
		CustomerName:  b.CustomerName,
		CustomerEmail: b.CustomerEmail,
		ItemName:      b.ItemName,
	})
	if err != nil {
		s.logger.Warn("failed to enqueue payment confirmation", zap.String("transaction_id", p.TransactionID), zap.Error(err))
	}
}

func checkOwnership(actor Actor, b *models.Booking, orderID string) error {
	if b.UserID != actor.ID {
		return newError(KindForbidden, "payment does not belong to the current user")
	}
	if orderID != "" && orderID != strconv.FormatUint(uint64(b.ID), 10) {
		return newError(KindInvalidRequest, "orderId does not match the payment")
	}
	return nil
}

// checkWindow enforces the OTP entry countdown from the stored window start.
// Rows created before the column existed fall back to their creation time.
func (s *Service) checkWindow(p *models.Payment) error {
	if !s.now().Before(windowStart(p).Add(s.settings.OTPWindow)) {
		return newError(KindVerificationExpired, "the verification window has expired")
	}
	return nil
}

func windowStart(p *models.Payment) time.Time {
	if p.OTPWindowStartedAt != nil && !p.OTPWindowStartedAt.IsZero() {
		return *p.OTPWindowStartedAt
	}
	return p.CreatedAt
}

func asRelayError(err error) error {
	if _, ok := err.(*Error); ok {
		return err
	}
	return internalError("failed to persist payment outcome", err)
}
