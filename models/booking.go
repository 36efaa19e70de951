package models

import (
	"time"

	"gorm.io/datatypes"
)

// Booking lifecycle statuses
const (
	BookingStatusPending   = "pending"
	BookingStatusConfirmed = "confirmed"
	BookingStatusRefunded  = "refunded"
	BookingStatusCancelled = "cancelled"
)

// Booking payment status mirror
const (
	BookingPaymentPending           = "pending"
	BookingPaymentPaid              = "paid"
	BookingPaymentFailed            = "failed"
	BookingPaymentPartiallyRefunded = "partially_refunded"
	BookingPaymentRefunded          = "refunded"
)

// Bookable item kinds
var ItemKinds = []string{"car", "yacht", "villa", "jet", "helicopter", "detailing"}

// Booking is one reservation request. Rows are never deleted.
type Booking struct {
	ID             uint           `json:"id" gorm:"primaryKey"`
	UserID         uint           `json:"user_id" gorm:"index;not null"`
	ItemKind       string         `json:"item_kind" gorm:"not null"`
	ItemName       string         `json:"item_name" gorm:"not null"`
	StartDate      time.Time      `json:"start_date"`
	EndDate        time.Time      `json:"end_date"`
	TotalPrice     int64          `json:"total_price" gorm:"not null"` // minor units
	Currency       string         `json:"currency" gorm:"size:3;not null"`
	Status         string         `json:"status" gorm:"index;default:'pending'"`
	PaymentStatus  string         `json:"payment_status" gorm:"default:'pending'"`
	BookingDetails datatypes.JSON `json:"booking_details"`
	CustomerName   string         `json:"customer_name"`
	CustomerEmail  string         `json:"customer_email"`
	Version        int64          `json:"version" gorm:"not null;default:1"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (Booking) TableName() string {
	return "bookings"
}
