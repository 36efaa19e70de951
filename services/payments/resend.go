package payments

import (
	"context"
	"fmt"
	"math"

	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/models"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/nexi"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ResendInput asks for a new OTP for a pending payment
type ResendInput struct {
	TransactionID string
	OrderID       string
	Actor         Actor
}

// ResendOTP asks the gateway to send a fresh code, at most once per cooldown
func (s *Service) ResendOTP(ctx context.Context, in ResendInput) (res Result, err error) {
	trail := s.beginAudit(models.AuditOperationResendOTP, in.Actor, in.TransactionID)
	defer func() { s.flushAudit(ctx, trail, err) }()

	if err = requireRole(in.Actor, RoleUser); err != nil {
		return Result{}, err
	}
	if in.TransactionID == "" {
		return Result{}, newError(KindInvalidRequest, "transactionId is required")
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

	if err = checkOwnership(in.Actor, payment.Booking, in.OrderID); err != nil {
		return Result{}, err
	}
	if err = s.checkWindow(payment); err != nil {
		return Result{}, err
	}
	if payment.PaymentStatus != models.PaymentStatusPending {
		return Result{}, newError(KindInvalidState, fmt.Sprintf("payment is %s, not pending", payment.PaymentStatus))
	}
	if payment.VerifyAttempts >= s.settings.MaxVerifyAttempts {
		return Result{}, newError(KindAttemptsExhausted, "maximum verification attempts reached")
	}

	now := s.now()
	if payment.LastOTPSentAt != nil {
		next := payment.LastOTPSentAt.Add(s.settings.ResendCooldown)
		if now.Before(next) {
			wait := int(math.Ceil(next.Sub(now).Seconds()))
			return Result{}, newError(KindResendTooSoon, fmt.Sprintf("please wait %d seconds before requesting a new code", wait))
		}
	}

	resp, gerr := s.gateway.ResendOTP(ctx, nexi.ResendOTPRequest{
		TransactionID: payment.TransactionID,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
	})
	if gerr != nil {
		s.logger.Warn("gateway resend call failed",
			zap.String("transaction_id", payment.TransactionID),
			zap.Error(gerr),
		)
		return Result{}, gatewayError(gerr)
	}
	trail.gateway(resp)

	if !resp.Approved() {
		res = Result{
			GatewayCode:   resp.CodiceEsito,
			PaymentStatus: payment.PaymentStatus,
			RetryAllowed:  true,
		}
		if !resp.MACValid {
			s.logger.Error("resend response failed MAC verification", zap.String("transaction_id", payment.TransactionID))
			res.ErrorKind = KindMACVerificationFailed
			res.Message = "The gateway response could not be authenticated."
			res.RetryAllowed = false
		} else {
			reason := resp.Reason()
			res.ErrorKind = Kind(reason)
			res.Message = reason.Message()
		}
		if err = trail.write(s.db.WithContext(ctx), models.AuditOutcomeFailure, res.ErrorKind); err != nil {
			return Result{}, err
		}
		trail.committed()
		return res, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := updatePayment(tx, payment, map[string]interface{}{"last_otp_sent_at": now}); err != nil {
			return err
		}
		return trail.write(tx, models.AuditOutcomeSuccess, "")
	})
	if err != nil {
		return Result{}, asRelayError(err)
	}
	trail.committed()

	return Result{
		Success:       true,
		Message:       "A new verification code has been sent.",
		GatewayCode:   resp.CodiceEsito,
		PaymentStatus: payment.PaymentStatus,
		AttemptsLeft:  s.settings.MaxVerifyAttempts - payment.VerifyAttempts,
	}, nil
}
