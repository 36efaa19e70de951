package controllers

import (
	"errors"
	"net/http"

	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/middleware"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/services/payments"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/utils"

	"github.com/gin-gonic/gin"
)

// RelayResponse is the body every gateway relay endpoint returns
type RelayResponse struct {
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	Message      string `json:"message,omitempty"`
	RetryAllowed bool   `json:"retryAllowed,omitempty"`
	GatewayCode  string `json:"gatewayCode,omitempty"`
}

var relayStatus = map[payments.Kind]int{
	payments.KindUnauthenticated:         http.StatusUnauthorized,
	payments.KindForbidden:               http.StatusForbidden,
	payments.KindInvalidRequest:          http.StatusBadRequest,
	payments.KindInvalidAmount:           http.StatusBadRequest,
	payments.KindPaymentNotFound:         http.StatusNotFound,
	payments.KindBookingNotFound:         http.StatusNotFound,
	payments.KindInvalidState:            http.StatusConflict,
	payments.KindConcurrentRequest:       http.StatusConflict,
	payments.KindConcurrentUpdate:        http.StatusConflict,
	payments.KindAttemptsExhausted:       http.StatusUnprocessableEntity,
	payments.KindAmountExceedsRefundable: http.StatusUnprocessableEntity,
	payments.KindVerificationExpired:     http.StatusUnprocessableEntity,
	payments.KindResendTooSoon:           http.StatusTooManyRequests,
	payments.KindGatewayUnreachable:      http.StatusServiceUnavailable,
}

// StatusForError maps a relay error onto its HTTP status
func StatusForError(err error) int {
	if status, ok := relayStatus[payments.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeRelay renders a relay outcome. Gateway decisions are 200 with
// success=false, everything else is mapped by StatusForError.
func writeRelay(c *gin.Context, res payments.Result, err error) {
	if err != nil {
		kind := payments.KindOf(err)
		status := StatusForError(err)
		body := RelayResponse{Error: string(kind), RetryAllowed: payments.IsRetryable(err)}

		var pe *payments.Error
		if status == http.StatusInternalServerError || !errors.As(err, &pe) {
			utils.LogError("relay %s failed [request_id=%s]: %v", c.FullPath(), c.GetString(utils.RequestIDKey), err)
			body.Error = string(payments.KindInternal)
			body.Message = "An internal error occurred. Please contact support."
			body.RetryAllowed = false
		} else {
			body.Message = pe.Message
		}
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusOK, RelayResponse{
		Success:      res.Success,
		Error:        string(res.ErrorKind),
		Message:      res.Message,
		RetryAllowed: res.RetryAllowed,
		GatewayCode:  res.GatewayCode,
	})
}

// writeError renders a non-relay service error in the standard envelope
func writeError(c *gin.Context, err error) {
	status := StatusForError(err)
	var pe *payments.Error
	if status == http.StatusInternalServerError || !errors.As(err, &pe) {
		utils.LogError("request %s failed: %v", c.FullPath(), err)
		utils.InternalServerError(c, "Internal server error", nil)
		return
	}
	utils.Error(c, status, pe.Message, string(pe.Kind))
}

func userActor(c *gin.Context) payments.Actor {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return payments.Actor{}
	}
	return payments.Actor{ID: user.ID, Role: payments.RoleUser}
}

func adminActor(c *gin.Context) payments.Actor {
	admin, ok := middleware.CurrentAdmin(c)
	if !ok {
		return payments.Actor{}
	}
	return payments.Actor{ID: admin.ID, Role: payments.RoleAdmin}
}
