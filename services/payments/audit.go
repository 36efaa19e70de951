package payments

import (
	"context"
	"encoding/json"

	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/models"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/nexi"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// auditTrail accumulates what one relay invocation learned and writes exactly
// one payment_audit_logs row for it
type auditTrail struct {
	entry   models.PaymentAuditLog
	written bool
}

func (s *Service) beginAudit(operation string, actor Actor, transactionID string) *auditTrail {
	return &auditTrail{entry: models.PaymentAuditLog{
		TransactionID:         transactionID,
		Operation:             operation,
		MACVerificationStatus: models.MACNotApplicable,
		ActorID:               actor.ID,
		ActorRole:             actor.Role,
	}}
}

func (a *auditTrail) attach(p *models.Payment) {
	id := p.ID
	bookingID := p.BookingID
	a.entry.PaymentID = &id
	a.entry.BookingID = &bookingID
	a.entry.TransactionID = p.TransactionID
}

func (a *auditTrail) refund(r *models.RefundRequest) {
	id := r.ID
	a.entry.RefundRequestID = &id
}

// gateway records the reply fields, mac included, for dispute resolution
func (a *auditTrail) gateway(resp *nexi.Response) {
	a.entry.Esito = resp.Esito
	a.entry.CodiceEsito = resp.CodiceEsito
	a.entry.Messaggio = resp.Messaggio
	if resp.MACValid {
		a.entry.MACVerificationStatus = models.MACVerified
	} else {
		a.entry.MACVerificationStatus = models.MACFailed
	}
	a.entry.RawResponse = rawFields(resp)
}

// write inserts the row through tx, normally inside the finalize transaction
func (a *auditTrail) write(tx *gorm.DB, outcome string, kind Kind) error {
	a.entry.Outcome = outcome
	a.entry.ErrorKind = string(kind)
	if err := tx.Create(&a.entry).Error; err != nil {
		return internalError("failed to write audit log", err)
	}
	return nil
}

// committed marks the row as durable once its transaction has committed
func (a *auditTrail) committed() {
	a.written = true
}

// flushAudit writes the row for invocations that ended before the finalize
// transaction committed
func (s *Service) flushAudit(ctx context.Context, trail *auditTrail, err error) {
	if trail.written {
		return
	}

	outcome := models.AuditOutcomeRejected
	kind := KindOf(err)
	switch {
	case err == nil:
		outcome = models.AuditOutcomeSuccess
		kind = ""
	case kind == KindInternal || kind == KindGatewayUnreachable:
		outcome = models.AuditOutcomeError
	}

	// a rolled back finalize must not hide the gateway reply already recorded
	trail.entry.ID = 0
	if werr := trail.write(s.db.WithContext(context.WithoutCancel(ctx)), outcome, kind); werr != nil {
		s.logger.Error("audit log write failed",
			zap.String("transaction_id", trail.entry.TransactionID),
			zap.String("operation", trail.entry.Operation),
			zap.Error(werr),
		)
		return
	}
	trail.committed()
}

// RelayRef identifies what a rejected request was about, as far as it is known
type RelayRef struct {
	TransactionID string
	PaymentID     uint
}

// RejectRelay audits a relay request that was malformed before it could reach
// the operation itself, and returns the invalid_request error to render.
func (s *Service) RejectRelay(ctx context.Context, operation string, actor Actor, ref RelayRef, message string) (err error) {
	trail := s.beginAudit(operation, actor, ref.TransactionID)
	defer func() { s.flushAudit(ctx, trail, err) }()

	var payment *models.Payment
	switch {
	case ref.PaymentID != 0:
		payment, _ = s.loadByID(ctx, ref.PaymentID)
	case ref.TransactionID != "":
		payment, _ = s.loadByTransaction(ctx, ref.TransactionID)
	}
	if payment != nil {
		trail.attach(payment)
	}
	return newError(KindInvalidRequest, message)
}

func rawFields(resp *nexi.Response) datatypes.JSON {
	if resp == nil || len(resp.Fields) == 0 {
		return nil
	}
	b, err := json.Marshal(resp.Fields)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
