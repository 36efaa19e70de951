package models

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Audited gateway operations
const (
	AuditOperationVerify    = "verify"
	AuditOperationResendOTP = "resend_otp"
	AuditOperationRefund    = "refund"
)

// Audit outcomes
const (
	AuditOutcomeSuccess  = "success"
	AuditOutcomeFailure  = "failure"
	AuditOutcomeRejected = "rejected"
	AuditOutcomeError    = "error"
)

// ErrAuditLogImmutable is returned when code tries to change a stored audit row
var ErrAuditLogImmutable = errors.New("payment audit logs are append-only")

// PaymentAuditLog records one relay invocation together with the raw gateway
// reply. Rows are never updated or deleted.
type PaymentAuditLog struct {
	ID                    uint           `json:"id" gorm:"primaryKey"`
	BookingID             *uint          `json:"booking_id" gorm:"index"`
	PaymentID             *uint          `json:"payment_id" gorm:"index"`
	RefundRequestID       *uint          `json:"refund_request_id"`
	TransactionID         string         `json:"transaction_id" gorm:"index;size:64"`
	Operation             string         `json:"operation" gorm:"not null"`
	Outcome               string         `json:"outcome" gorm:"not null"`
	ErrorKind             string         `json:"error_kind"`
	Esito                 string         `json:"esito"`
	CodiceEsito           string         `json:"codice_esito"`
	Messaggio             string         `json:"messaggio"`
	MACVerificationStatus string         `json:"mac_verification_status"`
	RawResponse           datatypes.JSON `json:"raw_response"`
	ActorID               uint           `json:"actor_id"`
	ActorRole             string         `json:"actor_role"`
	CreatedAt             time.Time      `json:"created_at"`
}

func (PaymentAuditLog) TableName() string {
	return "payment_audit_logs"
}

// BeforeUpdate keeps the table append-only
func (PaymentAuditLog) BeforeUpdate(tx *gorm.DB) error {
	return ErrAuditLogImmutable
}

// BeforeDelete keeps the table append-only
func (PaymentAuditLog) BeforeDelete(tx *gorm.DB) error {
	return ErrAuditLogImmutable
}
