// Package payments implements the gateway relay operations (verify OTP,
// resend OTP, refund) and the reads that support them.
package payments

import (
	"context"
	"errors"
	"time"

	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/models"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/nexi"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Actor roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Gateway is the subset of the Nexi client the relays need
type Gateway interface {
	VerifyOTP(ctx context.Context, req nexi.VerifyOTPRequest) (*nexi.Response, error)
	ResendOTP(ctx context.Context, req nexi.ResendOTPRequest) (*nexi.Response, error)
	Refund(ctx context.Context, req nexi.RefundRequest) (*nexi.Response, error)
}

// PaymentConfirmedEvent is emitted after a successful OTP verification
type PaymentConfirmedEvent struct {
	BookingID     uint
	PaymentID     uint
	TransactionID string
	Amount        int64
	Currency      string
	CustomerName  string
	CustomerEmail string
	ItemName      string
}

// RefundProcessedEvent is emitted after the gateway approved a refund
type RefundProcessedEvent struct {
	BookingID       uint
	PaymentID       uint
	RefundRequestID uint
	TransactionID   string
	Amount          int64
	Currency        string
	FullRefund      bool
	CustomerName    string
	CustomerEmail   string
	ItemName        string
}

// Notifier delivers customer notifications. Failures never affect payments.
type Notifier interface {
	PaymentConfirmed(ctx context.Context, ev PaymentConfirmedEvent) error
	RefundProcessed(ctx context.Context, ev RefundProcessedEvent) error
}

type nopNotifier struct{}

func (nopNotifier) PaymentConfirmed(context.Context, PaymentConfirmedEvent) error { return nil }
func (nopNotifier) RefundProcessed(context.Context, RefundProcessedEvent) error   { return nil }

// Settings are the tunables of the relay operations
type Settings struct {
	MaxVerifyAttempts int
	ResendCooldown    time.Duration
	LockTTL           time.Duration
	OTPWindow         time.Duration
}

// Actor is the authenticated caller of an operation
type Actor struct {
	ID   uint
	Role string
}

// Result is the outcome of a relay call that reached the gateway, or of a
// refund replayed from its idempotency key
type Result struct {
	Success       bool   `json:"success"`
	ErrorKind     Kind   `json:"errorKind,omitempty"`
	Message       string `json:"message,omitempty"`
	GatewayCode   string `json:"gatewayCode,omitempty"`
	RetryAllowed  bool   `json:"retryAllowed"`
	PaymentStatus string `json:"paymentStatus,omitempty"`
	AttemptsLeft  int    `json:"attemptsLeft,omitempty"`
	RefundID      uint   `json:"refundId,omitempty"`
	Amount        int64  `json:"amount,omitempty"`
}

// Service runs the relay operations against the local ledger and the gateway
type Service struct {
	db       *gorm.DB
	gateway  Gateway
	locker   Locker
	notifier Notifier
	settings Settings
	logger   *zap.Logger
	now      func() time.Time
}

// NewService wires a Service. A nil notifier disables notifications and a nil
// logger discards logs.
func NewService(db *gorm.DB, gateway Gateway, locker Locker, notifier Notifier, settings Settings, logger *zap.Logger) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	if settings.MaxVerifyAttempts <= 0 {
		settings.MaxVerifyAttempts = 3
	}
	if settings.LockTTL <= 0 {
		settings.LockTTL = 30 * time.Second
	}
	if settings.OTPWindow <= 0 {
		settings.OTPWindow = 300 * time.Second
	}
	return &Service{
		db:       db,
		gateway:  gateway,
		locker:   locker,
		notifier: notifier,
		settings: settings,
		logger:   logger,
		now:      time.Now,
	}
}

// Settings returns the effective settings
func (s *Service) Settings() Settings {
	return s.settings
}

func (s *Service) lock(ctx context.Context, transactionID string) (func(), error) {
	release, err := s.locker.Acquire(ctx, "payment:"+transactionID, s.settings.LockTTL)
	if err != nil {
		if errors.Is(err, ErrLockHeld) {
			return nil, retryableError(KindConcurrentRequest, "another request for this payment is in progress", nil)
		}
		return nil, internalError("failed to acquire payment lock", err)
	}
	return release, nil
}

func (s *Service) loadByTransaction(ctx context.Context, transactionID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.WithContext(ctx).Preload("Booking").
		Where("transaction_id = ?", transactionID).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(KindPaymentNotFound, "payment not found")
		}
		return nil, internalError("failed to load payment", err)
	}
	if payment.Booking == nil {
		return nil, internalError("payment has no booking", nil)
	}
	return &payment, nil
}

func (s *Service) loadByID(ctx context.Context, paymentID uint) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.WithContext(ctx).Preload("Booking").First(&payment, paymentID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(KindPaymentNotFound, "payment not found")
		}
		return nil, internalError("failed to load payment", err)
	}
	if payment.Booking == nil {
		return nil, internalError("payment has no booking", nil)
	}
	return &payment, nil
}

// updatePayment applies changes only if nobody else wrote the row since p was read
func updatePayment(tx *gorm.DB, p *models.Payment, changes map[string]interface{}) error {
	changes["version"] = gorm.Expr("version + ?", 1)
	res := tx.Model(&models.Payment{}).
		Where("id = ? AND version = ?", p.ID, p.Version).
		Updates(changes)
	if res.Error != nil {
		return internalError("failed to update payment", res.Error)
	}
	if res.RowsAffected == 0 {
		return retryableError(KindConcurrentUpdate, "payment was modified concurrently", nil)
	}
	p.Version++
	return nil
}

// updateBooking is updatePayment for bookings
func updateBooking(tx *gorm.DB, b *models.Booking, changes map[string]interface{}) error {
	changes["version"] = gorm.Expr("version + ?", 1)
	res := tx.Model(&models.Booking{}).
		Where("id = ? AND version = ?", b.ID, b.Version).
		Updates(changes)
	if res.Error != nil {
		return internalError("failed to update booking", res.Error)
	}
	if res.RowsAffected == 0 {
		return retryableError(KindConcurrentUpdate, "booking was modified concurrently", nil)
	}
	b.Version++
	return nil
}

func requireRole(actor Actor, role string) error {
	if actor.ID == 0 {
		return newError(KindUnauthenticated, "authentication required")
	}
	if actor.Role != role {
		return newError(KindForbidden, "not allowed to perform this operation")
	}
	return nil
}

// gatewayError turns a transport or parse failure into a relay error. Neither
// carries a gateway decision so nothing is persisted.
func gatewayError(err error) error {
	if errors.Is(err, nexi.ErrMalformedResponse) {
		return retryableError(KindGatewayUnreachable, "the payment gateway returned an unreadable response, please try again", err)
	}
	return retryableError(KindGatewayUnreachable, "the payment gateway is unreachable, please try again", err)
}
