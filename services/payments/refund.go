package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/models"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/nexi"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RefundInput is an admin refund request
type RefundInput struct {
	PaymentID      uint
	Amount         int64
	Reason         string
	IdempotencyKey string
	Actor          Actor
}

// Refund refunds part or all of a completed payment. Amounts outside
// (0, remaining] are rejected before the gateway is called.
func (s *Service) Refund(ctx context.Context, in RefundInput) (res Result, err error) {
	trail := s.beginAudit(models.AuditOperationRefund, in.Actor, "")
	defer func() { s.flushAudit(ctx, trail, err) }()

	if err = requireRole(in.Actor, RoleAdmin); err != nil {
		return Result{}, err
	}
	if in.PaymentID == 0 {
		return Result{}, newError(KindInvalidRequest, "payment id is required")
	}

	payment, err := s.loadByID(ctx, in.PaymentID)
	if err != nil {
		return Result{}, err
	}
	trail.attach(payment)

	release, err := s.lock(ctx, payment.TransactionID)
	if err != nil {
		return Result{}, err
	}
	defer release()

	// reload under the lock
	if payment, err = s.loadByID(ctx, in.PaymentID); err != nil {
		return Result{}, err
	}
	booking := payment.Booking

	if in.IdempotencyKey != "" {
		prior, ferr := s.findRefundByKey(ctx, payment.ID, in.IdempotencyKey)
		if ferr != nil {
			return Result{}, ferr
		}
		if prior != nil {
			trail.refund(prior)
			if prior.Status == models.RefundRequestProcessing {
				return Result{}, retryableError(KindConcurrentRequest, "a refund with this idempotency key is still processing", nil)
			}
			res = s.replayRefund(prior)
			outcome := models.AuditOutcomeSuccess
			if !res.Success {
				outcome = models.AuditOutcomeFailure
			}
			if err = trail.write(s.db.WithContext(ctx), outcome, res.ErrorKind); err != nil {
				return Result{}, err
			}
			trail.committed()
			return res, nil
		}
	}

	if payment.PaymentStatus != models.PaymentStatusCompleted {
		return Result{}, newError(KindInvalidState, fmt.Sprintf("payment is %s, only completed payments can be refunded", payment.PaymentStatus))
	}

	refunded, err := s.refundTotal(s.db.WithContext(ctx), payment.ID, models.RefundRequestCompleted)
	if err != nil {
		return Result{}, err
	}
	// processing rows may already have been approved by the gateway
	inFlight, err := s.refundTotal(s.db.WithContext(ctx), payment.ID, models.RefundRequestProcessing)
	if err != nil {
		return Result{}, err
	}
	remaining := payment.CapturedAmount - refunded - inFlight

	if in.Amount <= 0 {
		return Result{}, newError(KindInvalidAmount, "refund amount must be greater than zero")
	}
	if in.Amount > remaining {
		msg := fmt.Sprintf("refund amount %d exceeds refundable amount %d", in.Amount, remaining)
		if inFlight > 0 {
			msg += fmt.Sprintf(" (%d still processing)", inFlight)
		}
		return Result{}, newError(KindAmountExceedsRefundable, msg)
	}

	refund := models.RefundRequest{
		PaymentID:      payment.ID,
		BookingID:      booking.ID,
		Amount:         in.Amount,
		Currency:       payment.Currency,
		Reason:         in.Reason,
		RequestedBy:    in.Actor.ID,
		Status:         models.RefundRequestProcessing,
		IdempotencyKey: in.IdempotencyKey,
	}
	if err = s.db.WithContext(ctx).Create(&refund).Error; err != nil {
		return Result{}, internalError("failed to store refund request", err)
	}
	trail.refund(&refund)

	resp, gerr := s.gateway.Refund(ctx, nexi.RefundRequest{
		TransactionID: payment.TransactionID,
		Amount:        in.Amount,
		Currency:      payment.Currency,
	})
	if gerr != nil {
		s.logger.Warn("gateway refund call failed",
			zap.String("transaction_id", payment.TransactionID),
			zap.Uint("refund_id", refund.ID),
			zap.Int64("amount", in.Amount),
			zap.Error(gerr),
		)
		s.failRefund(ctx, &refund, string(KindGatewayUnreachable))
		return Result{}, gatewayError(gerr)
	}
	trail.gateway(resp)

	changes := map[string]interface{}{
		"status":            models.RefundRequestFailed,
		"gateway_refund_id": resp.IDOperazione,
		"gateway_response":  rawFields(resp),
	}

	full := refunded+in.Amount == payment.CapturedAmount
	switch {
	case !resp.MACValid:
		s.logger.Error("refund response failed MAC verification",
			zap.String("transaction_id", payment.TransactionID),
			zap.String("claimed_esito", resp.Esito),
		)
		changes["error_message"] = string(KindMACVerificationFailed)
		res = Result{ErrorKind: KindMACVerificationFailed, Message: "The refund response could not be authenticated.", GatewayCode: resp.CodiceEsito}
	case resp.Approved():
		changes["status"] = models.RefundRequestCompleted
		res = Result{Success: true, Message: "Refund processed.", GatewayCode: resp.CodiceEsito}
	default:
		reason := resp.Reason()
		msg := resp.Messaggio
		if msg == "" {
			msg = reason.Message()
		}
		changes["error_message"] = msg
		res = Result{ErrorKind: Kind(reason), Message: reason.Message(), GatewayCode: resp.CodiceEsito}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upd := tx.Model(&models.RefundRequest{}).
			Where("id = ? AND status = ?", refund.ID, models.RefundRequestProcessing).
			Updates(changes)
		if upd.Error != nil {
			return internalError("failed to update refund request", upd.Error)
		}
		if upd.RowsAffected == 0 {
			return retryableError(KindConcurrentUpdate, "refund request was modified concurrently", nil)
		}

		if res.Success {
			refundStatus := models.RefundStatusPartial
			bookingChanges := map[string]interface{}{"payment_status": models.BookingPaymentPartiallyRefunded}
			if full {
				refundStatus = models.RefundStatusFull
				bookingChanges = map[string]interface{}{
					"status":         models.BookingStatusRefunded,
					"payment_status": models.BookingPaymentRefunded,
				}
			}
			if err := updatePayment(tx, payment, map[string]interface{}{
				"refunded_amount": refunded + in.Amount,
				"refund_status":   refundStatus,
			}); err != nil {
				return err
			}
			if err := updateBooking(tx, booking, bookingChanges); err != nil {
				return err
			}
		}

		outcome := models.AuditOutcomeFailure
		if res.Success {
			outcome = models.AuditOutcomeSuccess
		}
		return trail.write(tx, outcome, res.ErrorKind)
	})
	if err != nil {
		// the row stays processing and keeps holding its amount until reconciled
		s.logger.Error("failed to persist refund outcome",
			zap.String("transaction_id", payment.TransactionID),
			zap.Uint("refund_id", refund.ID),
			zap.String("esito", resp.Esito),
			zap.String("id_operazione", resp.IDOperazione),
			zap.Error(err),
		)
		return Result{}, asRelayError(err)
	}
	trail.committed()

	res.RefundID = refund.ID
	res.Amount = refund.Amount
	res.PaymentStatus = payment.PaymentStatus

	if res.Success {
		s.logger.Info("refund processed",
			zap.String("transaction_id", payment.TransactionID),
			zap.Uint("refund_id", refund.ID),
			zap.Int64("amount", refund.Amount),
			zap.Bool("full", full),
		)
		if nerr := s.notifier.RefundProcessed(ctx, RefundProcessedEvent{
			BookingID:       booking.ID,
			PaymentID:       payment.ID,
			RefundRequestID: refund.ID,
			TransactionID:   payment.TransactionID,
			Amount:          refund.Amount,
			Currency:        refund.Currency,
			FullRefund:      full,
			CustomerName:    booking.CustomerName,
			CustomerEmail:   booking.CustomerEmail,
			ItemName:        booking.ItemName,
		}); nerr != nil {
			s.logger.Warn("failed to enqueue refund notification", zap.Uint("refund_id", refund.ID), zap.Error(nerr))
		}
	}
	return res, nil
}

func (s *Service) findRefundByKey(ctx context.Context, paymentID uint, key string) (*models.RefundRequest, error) {
	var refund models.RefundRequest
	err := s.db.WithContext(ctx).
		Where("payment_id = ? AND idempotency_key = ?", paymentID, key).
		First(&refund).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, internalError("failed to look up refund", err)
	}
	return &refund, nil
}

// failRefund marks a refund the gateway never answered as failed. It runs
// even if the request context is already gone.
func (s *Service) failRefund(ctx context.Context, r *models.RefundRequest, message string) {
	err := s.db.WithContext(context.WithoutCancel(ctx)).
		Model(&models.RefundRequest{}).
		Where("id = ? AND status = ?", r.ID, models.RefundRequestProcessing).
		Updates(map[string]interface{}{
			"status":        models.RefundRequestFailed,
			"error_message": message,
		}).Error
	if err != nil {
		s.logger.Error("failed to mark refund failed", zap.Uint("refund_id", r.ID), zap.Error(err))
		return
	}
	r.Status = models.RefundRequestFailed
	r.ErrorMessage = message
}

func (s *Service) replayRefund(r *models.RefundRequest) Result {
	res := Result{
		Success:  r.Status == models.RefundRequestCompleted,
		RefundID: r.ID,
		Amount:   r.Amount,
		Message:  "Refund already processed for this idempotency key.",
	}
	if !res.Success {
		res.ErrorKind = KindGatewayError
		res.Message = "A refund with this idempotency key already failed: " + r.ErrorMessage
	}
	return res
}

func (s *Service) refundTotal(db *gorm.DB, paymentID uint, statuses ...string) (int64, error) {
	var total int64
	err := db.Model(&models.RefundRequest{}).
		Where("payment_id = ? AND status IN ?", paymentID, statuses).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, internalError("failed to sum refunds", err)
	}
	return total, nil
}
