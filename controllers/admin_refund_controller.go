package controllers

import (
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/models"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/services/payments"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/utils"

	"github.com/gin-gonic/gin"
)

// AdminRefundController backs the admin refund dashboard
type AdminRefundController struct {
	payments *payments.Service
}

func NewAdminRefundController(svc *payments.Service) *AdminRefundController {
	return &AdminRefundController{payments: svc}
}

// CreateRefundRequest is the admin refund body. Amount is in minor units;
// its range is checked by the refund itself so rejections are audited.
type CreateRefundRequest struct {
	Amount         int64  `json:"amount"`
	Reason         string `json:"reason" binding:"max=500"`
	IdempotencyKey string `json:"idempotencyKey" binding:"max=64"`
}

var refundStatuses = map[string]bool{
	models.RefundRequestProcessing: true,
	models.RefundRequestCompleted:  true,
	models.RefundRequestFailed:     true,
}

// ListRefunds handles GET /admin/refunds
func (ac *AdminRefundController) ListRefunds(c *gin.Context) {
	utils.LogInfo("ListRefunds called")

	status := c.Query("status")
	if status != "" && !refundStatuses[status] {
		utils.BadRequest(c, "Invalid status", "status must be processing, completed or failed")
		return
	}

	pagination := utils.NewPagination(c)
	refunds, total, err := ac.payments.ListRefunds(c.Request.Context(), payments.RefundFilter{
		Status: status,
		Offset: pagination.Offset,
		Limit:  pagination.PerPage,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	utils.LogDebug("Retrieved %d of %d refunds", len(refunds), total)
	utils.SuccessWithPagination(c, "Refunds retrieved successfully", refunds, total, pagination)
}

// PaymentDetail handles GET /admin/payments/:id
func (ac *AdminRefundController) PaymentDetail(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	detail, err := ac.payments.PaymentDetail(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	utils.Success(c, "Payment retrieved successfully", detail)
}

// CreateRefund relays an admin refund to the gateway. The idempotency key
// may come from the body or the Idempotency-Key header.
func (ac *AdminRefundController) CreateRefund(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req CreateRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		rerr := ac.payments.RejectRelay(c.Request.Context(), models.AuditOperationRefund, adminActor(c),
			payments.RelayRef{PaymentID: id}, utils.FormatValidationErrors(err).Error())
		writeRelay(c, payments.Result{}, rerr)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	actor := adminActor(c)
	utils.LogInfo("Admin %d requested refund of %d on payment %d", actor.ID, req.Amount, id)

	res, err := ac.payments.Refund(c.Request.Context(), payments.RefundInput{
		PaymentID:      id,
		Amount:         req.Amount,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
		Actor:          actor,
	})
	writeRelay(c, res, err)
}
