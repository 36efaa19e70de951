package controllers

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/models"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/services/payments"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/utils"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/verification"

	"github.com/gin-gonic/gin"
)

// PaymentVerificationController serves the OTP step: the submit relays and
// the observe endpoints the client polls afterwards
type PaymentVerificationController struct {
	payments *payments.Service
	opts     verification.Options
}

func NewPaymentVerificationController(svc *payments.Service, opts verification.Options) *PaymentVerificationController {
	return &PaymentVerificationController{payments: svc, opts: opts}
}

// StartVerificationRequest opens the OTP entry window
type StartVerificationRequest struct {
	TransactionID string `json:"transactionId" binding:"required"`
}

// VerifyOTPRequest is the OTP submission
type VerifyOTPRequest struct {
	TransactionID string      `json:"transactionId" binding:"required"`
	OrderID       json.Number `json:"orderId" binding:"required"`
	OTPCode       string      `json:"otpCode" binding:"required,otp"`
	RetryCount    int         `json:"retryCount" binding:"gte=0"`
}

// ResendOTPRequest asks for a fresh code
type ResendOTPRequest struct {
	TransactionID string      `json:"transactionId" binding:"required"`
	OrderID       json.Number `json:"orderId" binding:"required"`
}

// StartVerification reports the OTP countdown of a pending payment and
// remembers it as the customer's active verification. The countdown runs
// from the stored window start, so calling this again never extends it.
func (pc *PaymentVerificationController) StartVerification(c *gin.Context) {
	var req StartVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ValidationError(c, "Invalid request", utils.FormatValidationErrors(err))
		return
	}

	snap, err := pc.payments.SnapshotFor(c.Request.Context(), userActor(c), req.TransactionID)
	if err != nil {
		writeError(c, err)
		return
	}
	if snap.Status != models.PaymentStatusPending {
		utils.Conflict(c, "Payment is not awaiting verification", gin.H{"status": snap.Status})
		return
	}

	session := verification.ResumeSession(pc.opts, snap.WindowStartedAt)
	now := time.Now()
	if session.Expired(now) {
		writeError(c, &payments.Error{Kind: payments.KindVerificationExpired, Message: "the verification window has expired"})
		return
	}

	if err := utils.SetActiveVerification(c, req.TransactionID); err != nil {
		utils.LogError("Failed to remember active verification %s: %v", req.TransactionID, err)
	}

	utils.Success(c, "Verification started", gin.H{
		"transactionId":    req.TransactionID,
		"startedAt":        session.StartedAt(),
		"remainingSeconds": int(session.Remaining(now).Seconds()),
		"pollIntervalMs":   session.Options().Interval.Milliseconds(),
		"pollTimeoutMs":    session.Options().Timeout.Milliseconds(),
		"maxAttempts":      pc.payments.Settings().MaxVerifyAttempts,
	})
}

// CurrentVerification returns the payment the customer was verifying before
// a reload, if it is still pending
func (pc *PaymentVerificationController) CurrentVerification(c *gin.Context) {
	txID, ok := utils.ActiveVerification(c)
	if !ok {
		writeError(c, &payments.Error{Kind: payments.KindPaymentNotFound, Message: "no verification in progress"})
		return
	}

	snap, err := pc.payments.SnapshotFor(c.Request.Context(), userActor(c), txID)
	if err != nil {
		writeError(c, err)
		return
	}
	session := verification.ResumeSession(pc.opts, snap.WindowStartedAt)
	if snap.Status != models.PaymentStatusPending || session.Expired(time.Now()) {
		if err := utils.ClearActiveVerification(c, txID); err != nil {
			utils.LogError("Failed to clear active verification %s: %v", txID, err)
		}
	}

	utils.Success(c, "Current verification", gin.H{
		"snapshot":         snap,
		"remainingSeconds": int(session.Remaining(time.Now()).Seconds()),
	})
}

// VerifyOTP relays the code to the gateway. The response is not the final
// word on the payment; clients observe the outcome endpoint afterwards.
func (pc *PaymentVerificationController) VerifyOTP(c *gin.Context) {
	var req VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		rerr := pc.payments.RejectRelay(c.Request.Context(), models.AuditOperationVerify, userActor(c),
			payments.RelayRef{TransactionID: req.TransactionID}, utils.FormatValidationErrors(err).Error())
		writeRelay(c, payments.Result{}, rerr)
		return
	}

	res, err := pc.payments.VerifyOTP(c.Request.Context(), payments.VerifyInput{
		TransactionID: req.TransactionID,
		OrderID:       req.OrderID.String(),
		OTP:           req.OTPCode,
		RetryCount:    req.RetryCount,
		Actor:         userActor(c),
	})
	writeRelay(c, res, err)
}

// ResendOTP relays a request for a new code
func (pc *PaymentVerificationController) ResendOTP(c *gin.Context) {
	var req ResendOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		rerr := pc.payments.RejectRelay(c.Request.Context(), models.AuditOperationResendOTP, userActor(c),
			payments.RelayRef{TransactionID: req.TransactionID}, utils.FormatValidationErrors(err).Error())
		writeRelay(c, payments.Result{}, rerr)
		return
	}

	res, err := pc.payments.ResendOTP(c.Request.Context(), payments.ResendInput{
		TransactionID: req.TransactionID,
		OrderID:       req.OrderID.String(),
		Actor:         userActor(c),
	})
	writeRelay(c, res, err)
}

// Status returns the stored state of a payment. It never calls the gateway.
func (pc *PaymentVerificationController) Status(c *gin.Context) {
	snap, err := pc.payments.SnapshotFor(c.Request.Context(), userActor(c), c.Param("transactionId"))
	if err != nil {
		writeError(c, err)
		return
	}
	utils.Success(c, "Payment status", snap)
}

// Outcome long-polls the stored payment until it is terminal, the poll
// timeout elapses or the OTP window expires, and returns where to go next
func (pc *PaymentVerificationController) Outcome(c *gin.Context) {
	txID := c.Param("transactionId")
	expected, err := strconv.ParseInt(c.Query("expected"), 10, 64)
	if err != nil || expected <= 0 {
		utils.BadRequest(c, "expected must be a positive amount in minor units", nil)
		return
	}

	actor := userActor(c)
	// fail fast on unknown or foreign payments instead of polling for 90s
	snap, err := pc.payments.SnapshotFor(c.Request.Context(), actor, txID)
	if err != nil {
		writeError(c, err)
		return
	}

	session := verification.ResumeSession(pc.opts, snap.WindowStartedAt)

	out := session.Observe(c.Request.Context(), pc.payments.SourceFor(actor), txID, expected)
	utils.LogInfo("Verification outcome for %s: succeeded=%t reason=%s polls=%d", txID, out.Succeeded, out.Reason, out.Polls)

	if out.Reason == verification.ReasonCancelled {
		// client went away
		return
	}
	if out.Succeeded || out.Reason == verification.ReasonExpired {
		if err := utils.ClearActiveVerification(c, txID); err != nil {
			utils.LogError("Failed to clear active verification %s: %v", txID, err)
		}
	}

	utils.Success(c, "Verification outcome", gin.H{
		"succeeded": out.Succeeded,
		"reason":    out.Reason,
		"redirect":  out.RedirectPath(),
		"polls":     out.Polls,
		"snapshot":  out.Snapshot,
	})
}
