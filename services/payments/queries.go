package payments

import (
	"context"
	"errors"
	"time"

	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/models"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/verification"

	"gorm.io/gorm"
)

// PaymentStatus reads the local row the poller observes. It never calls the
// gateway.
func (s *Service) PaymentStatus(ctx context.Context, transactionID string) (verification.Snapshot, error) {
	var p models.Payment
	if err := s.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return verification.Snapshot{}, newError(KindPaymentNotFound, "payment not found")
		}
		return verification.Snapshot{}, internalError("failed to load payment", err)
	}
	return snapshotOf(&p), nil
}

// SnapshotFor is PaymentStatus restricted to the actor's own payments
func (s *Service) SnapshotFor(ctx context.Context, actor Actor, transactionID string) (verification.Snapshot, error) {
	if err := requireRole(actor, RoleUser); err != nil {
		return verification.Snapshot{}, err
	}
	var p models.Payment
	err := s.db.WithContext(ctx).
		Joins("JOIN bookings ON bookings.id = payments.booking_id").
		Where("payments.transaction_id = ? AND bookings.user_id = ?", transactionID, actor.ID).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return verification.Snapshot{}, newError(KindPaymentNotFound, "payment not found")
		}
		return verification.Snapshot{}, internalError("failed to load payment", err)
	}
	return snapshotOf(&p), nil
}

// SourceFor adapts SnapshotFor to verification.StatusSource
func (s *Service) SourceFor(actor Actor) verification.StatusSource {
	return actorSource{svc: s, actor: actor}
}

type actorSource struct {
	svc   *Service
	actor Actor
}

func (a actorSource) PaymentStatus(ctx context.Context, transactionID string) (verification.Snapshot, error) {
	return a.svc.SnapshotFor(ctx, a.actor, transactionID)
}

func snapshotOf(p *models.Payment) verification.Snapshot {
	return verification.Snapshot{
		TransactionID:   p.TransactionID,
		Status:          p.PaymentStatus,
		Amount:          p.Amount,
		CapturedAmount:  p.CapturedAmount,
		Currency:        p.Currency,
		FailureReason:   p.FailureReason,
		WindowStartedAt: windowStart(p),
		UpdatedAt:       p.UpdatedAt,
	}
}

// PaymentDetail is the admin view of one payment
type PaymentDetail struct {
	Payment    models.Payment           `json:"payment"`
	Booking    models.Booking           `json:"booking"`
	Refunds    []models.RefundRequest   `json:"refunds"`
	Refunded   int64                    `json:"refunded"`
	Processing int64                    `json:"processing"`
	Refundable int64                    `json:"refundable"`
	AuditLogs  []models.PaymentAuditLog `json:"audit_logs"`
}

// PaymentDetail loads a payment with its refunds and audit trail
func (s *Service) PaymentDetail(ctx context.Context, paymentID uint) (*PaymentDetail, error) {
	payment, err := s.loadByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)

	detail := &PaymentDetail{Payment: *payment, Booking: *payment.Booking}
	detail.Payment.Booking = nil

	if err := db.Where("payment_id = ?", payment.ID).Order("created_at DESC").Find(&detail.Refunds).Error; err != nil {
		return nil, internalError("failed to load refunds", err)
	}
	if err := db.Where("payment_id = ?", payment.ID).Order("id ASC").Find(&detail.AuditLogs).Error; err != nil {
		return nil, internalError("failed to load audit logs", err)
	}

	refunded, err := s.refundTotal(db, payment.ID, models.RefundRequestCompleted)
	if err != nil {
		return nil, err
	}
	processing, err := s.refundTotal(db, payment.ID, models.RefundRequestProcessing)
	if err != nil {
		return nil, err
	}
	detail.Refunded = refunded
	detail.Processing = processing
	if payment.PaymentStatus == models.PaymentStatusCompleted {
		detail.Refundable = payment.CapturedAmount - refunded - processing
	}
	return detail, nil
}

// RefundFilter narrows the admin refund list
type RefundFilter struct {
	Status string
	From   *time.Time
	To     *time.Time
	Offset int
	Limit  int
}

// ListRefunds returns refund requests newest first and the total count
func (s *Service) ListRefunds(ctx context.Context, f RefundFilter) ([]models.RefundRequest, int64, error) {
	query := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&models.RefundRequest{})
		if f.Status != "" {
			q = q.Where("status = ?", f.Status)
		}
		if f.From != nil {
			q = q.Where("created_at >= ?", *f.From)
		}
		if f.To != nil {
			q = q.Where("created_at < ?", *f.To)
		}
		return q
	}

	var total int64
	if err := query().Count(&total).Error; err != nil {
		return nil, 0, internalError("failed to count refunds", err)
	}

	var refunds []models.RefundRequest
	q := query().Order("created_at DESC").Order("id DESC")
	if f.Limit > 0 {
		q = q.Offset(f.Offset).Limit(f.Limit)
	}
	if err := q.Find(&refunds).Error; err != nil {
		return nil, 0, internalError("failed to list refunds", err)
	}
	return refunds, total, nil
}

// AuditTrail returns every audit row for a transaction in insertion order
func (s *Service) AuditTrail(ctx context.Context, transactionID string) ([]models.PaymentAuditLog, error) {
	var logs []models.PaymentAuditLog
	if err := s.db.WithContext(ctx).Where("transaction_id = ?", transactionID).Order("id ASC").Find(&logs).Error; err != nil {
		return nil, internalError("failed to load audit logs", err)
	}
	return logs, nil
}
