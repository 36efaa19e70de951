package models

import (
	"time"
)

// Payment lifecycle statuses
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
)

// MAC verification outcomes
const (
	MACVerified      = "verified"
	MACFailed        = "failed"
	MACNotApplicable = "not_applicable"
)

// Refund status of a payment
const (
	RefundStatusNone    = "none"
	RefundStatusPartial = "partial"
	RefundStatusFull    = "full"
)

// Payment is one attempt to charge a booking through the gateway
type Payment struct {
	ID                    uint       `json:"id" gorm:"primaryKey"`
	BookingID             uint       `json:"booking_id" gorm:"index;not null"`
	Booking               *Booking   `json:"booking,omitempty" gorm:"foreignKey:BookingID"`
	TransactionID         string     `json:"transaction_id" gorm:"uniqueIndex;size:64;not null"`
	Amount                int64      `json:"amount" gorm:"not null"` // requested, minor units
	Currency              string     `json:"currency" gorm:"size:3;not null"`
	GatewayAuthCode       string     `json:"gateway_auth_code"`
	GatewayResponseCode   string     `json:"gateway_response_code"`
	MACVerificationStatus string     `json:"mac_verification_status"`
	PaymentStatus         string     `json:"payment_status" gorm:"index;default:'pending'"`
	FailureReason         string     `json:"failure_reason"`
	VerifyAttempts        int        `json:"verify_attempts" gorm:"not null;default:0"`
	LastOTPSentAt         *time.Time `json:"last_otp_sent_at"`
	OTPWindowStartedAt    *time.Time `json:"otp_window_started_at"` // set once, when the first code is sent
	CompletedAt           *time.Time `json:"completed_at"`
	CapturedAmount        int64      `json:"captured_amount" gorm:"not null;default:0"`
	RefundedAmount        int64      `json:"refunded_amount" gorm:"not null;default:0"`
	RefundStatus          string     `json:"refund_status" gorm:"default:'none'"`
	Version               int64      `json:"version" gorm:"not null;default:1"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}
