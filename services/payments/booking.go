package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CreateBookingInput is a reservation submitted by a signed-in customer
type CreateBookingInput struct {
	ItemKind      string
	ItemName      string
	StartDate     time.Time
	EndDate       time.Time
	TotalPrice    int64
	Currency      string
	Details       map[string]interface{}
	CustomerName  string
	CustomerEmail string
	Actor         Actor
}

// CreateBooking stores a pending booking for the actor
func (s *Service) CreateBooking(ctx context.Context, in CreateBookingInput) (*models.Booking, error) {
	if err := requireRole(in.Actor, RoleUser); err != nil {
		return nil, err
	}
	if !knownItemKind(in.ItemKind) {
		return nil, newError(KindInvalidRequest, fmt.Sprintf("unknown item kind %q", in.ItemKind))
	}
	if strings.TrimSpace(in.ItemName) == "" {
		return nil, newError(KindInvalidRequest, "item name is required")
	}
	if !in.EndDate.After(in.StartDate) {
		return nil, newError(KindInvalidRequest, "end date must be after start date")
	}
	if in.TotalPrice <= 0 {
		return nil, newError(KindInvalidAmount, "total price must be greater than zero")
	}

	var details datatypes.JSON
	if len(in.Details) > 0 {
		raw, err := json.Marshal(in.Details)
		if err != nil {
			return nil, newError(KindInvalidRequest, "booking details must be valid JSON")
		}
		details = raw
	}

	booking := models.Booking{
		UserID:         in.Actor.ID,
		ItemKind:       in.ItemKind,
		ItemName:       strings.TrimSpace(in.ItemName),
		StartDate:      in.StartDate,
		EndDate:        in.EndDate,
		TotalPrice:     in.TotalPrice,
		Currency:       strings.ToUpper(in.Currency),
		Status:         models.BookingStatusPending,
		PaymentStatus:  models.BookingPaymentPending,
		BookingDetails: details,
		CustomerName:   in.CustomerName,
		CustomerEmail:  in.CustomerEmail,
		Version:        1,
	}
	if err := s.db.WithContext(ctx).Create(&booking).Error; err != nil {
		return nil, internalError("failed to create booking", err)
	}
	return &booking, nil
}

// GetBooking returns a booking owned by the actor together with its payments
func (s *Service) GetBooking(ctx context.Context, actor Actor, bookingID uint) (*models.Booking, []models.Payment, error) {
	if err := requireRole(actor, RoleUser); err != nil {
		return nil, nil, err
	}
	var booking models.Booking
	if err := s.db.WithContext(ctx).First(&booking, bookingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, newError(KindBookingNotFound, "booking not found")
		}
		return nil, nil, internalError("failed to load booking", err)
	}
	if booking.UserID != actor.ID {
		return nil, nil, newError(KindBookingNotFound, "booking not found")
	}

	var payments []models.Payment
	if err := s.db.WithContext(ctx).Where("booking_id = ?", booking.ID).Order("created_at ASC").Find(&payments).Error; err != nil {
		return nil, nil, internalError("failed to load payments", err)
	}
	return &booking, payments, nil
}

// InitiatePayment opens a new payment attempt for a pending booking. Older
// pending attempts are failed so at most one attempt can still complete.
func (s *Service) InitiatePayment(ctx context.Context, actor Actor, bookingID uint) (*models.Payment, error) {
	booking, _, err := s.GetBooking(ctx, actor, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.BookingStatusPending {
		return nil, newError(KindInvalidState, fmt.Sprintf("booking is %s, not pending", booking.Status))
	}

	now := s.now()
	payment := models.Payment{
		BookingID:     booking.ID,
		TransactionID: newTransactionID(booking.ID),
		Amount:        booking.TotalPrice,
		Currency:      booking.Currency,
		PaymentStatus: models.PaymentStatusPending,
		RefundStatus:  models.RefundStatusNone,
		LastOTPSentAt: &now,
		Version:       1,

		OTPWindowStartedAt: &now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var completed int64
		if err := tx.Model(&models.Payment{}).
			Where("booking_id = ? AND payment_status = ?", booking.ID, models.PaymentStatusCompleted).
			Count(&completed).Error; err != nil {
			return internalError("failed to check payments", err)
		}
		if completed > 0 {
			return newError(KindInvalidState, "booking is already paid")
		}

		if err := tx.Model(&models.Payment{}).
			Where("booking_id = ? AND payment_status = ?", booking.ID, models.PaymentStatusPending).
			Updates(map[string]interface{}{
				"payment_status": models.PaymentStatusFailed,
				"failure_reason": "superseded",
				"version":        gorm.Expr("version + ?", 1),
			}).Error; err != nil {
			return internalError("failed to supersede payments", err)
		}

		if err := tx.Create(&payment).Error; err != nil {
			return internalError("failed to create payment", err)
		}
		return updateBooking(tx, booking, map[string]interface{}{"payment_status": models.BookingPaymentPending})
	})
	if err != nil {
		return nil, asRelayError(err)
	}

	s.logger.Info("payment initiated",
		zap.Uint("booking_id", booking.ID),
		zap.String("transaction_id", payment.TransactionID),
		zap.Int64("amount", payment.Amount),
	)
	return &payment, nil
}

// newTransactionID builds the codTrans sent to the gateway
func newTransactionID(bookingID uint) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:10]
	return fmt.Sprintf("DR7%d%s", bookingID, suffix)
}

func knownItemKind(kind string) bool {
	for _, k := range models.ItemKinds {
		if k == kind {
			return true
		}
	}
	return false
}
