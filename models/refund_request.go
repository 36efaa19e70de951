package models

import (
	"time"

	"gorm.io/datatypes"
)

// Refund request statuses
const (
	RefundRequestProcessing = "processing"
	RefundRequestCompleted  = "completed"
	RefundRequestFailed     = "failed"
)

// RefundRequest is one refund attempt against a completed payment
type RefundRequest struct {
	ID              uint           `json:"id" gorm:"primaryKey"`
	PaymentID       uint           `json:"payment_id" gorm:"index;not null"`
	BookingID       uint           `json:"booking_id" gorm:"index;not null"`
	Amount          int64          `json:"amount" gorm:"not null"`
	Currency        string         `json:"currency" gorm:"size:3;not null"`
	Reason          string         `json:"reason"`
	RequestedBy     uint           `json:"requested_by" gorm:"not null"`
	Status          string         `json:"status" gorm:"index;default:'processing'"`
	GatewayRefundID string         `json:"gateway_refund_id"`
	GatewayResponse datatypes.JSON `json:"gateway_response"`
	ErrorMessage    string         `json:"error_message"`
	IdempotencyKey  string         `json:"idempotency_key" gorm:"size:128;index"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (RefundRequest) TableName() string {
	return "refund_requests"
}
