package controllers

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/middleware"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/services/payments"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/utils"

	"github.com/gin-gonic/gin"
)

// BookingController exposes reservations and payment initiation to customers
type BookingController struct {
	payments *payments.Service
}

func NewBookingController(svc *payments.Service) *BookingController {
	return &BookingController{payments: svc}
}

// CreateBookingRequest is the reservation form body
type CreateBookingRequest struct {
	ItemKind      string                 `json:"item_kind" binding:"required,oneof=car yacht villa jet helicopter detailing"`
	ItemName      string                 `json:"item_name" binding:"required"`
	StartDate     time.Time              `json:"start_date" binding:"required"`
	EndDate       time.Time              `json:"end_date" binding:"required"`
	TotalPrice    int64                  `json:"total_price" binding:"required,gt=0"`
	Currency      string                 `json:"currency" binding:"required,iso4217"`
	Details       map[string]interface{} `json:"booking_details"`
	CustomerName  string                 `json:"customer_name"`
	CustomerEmail string                 `json:"customer_email" binding:"omitempty,email"`
}

// CreateBooking stores a pending booking for the signed-in customer
func (bc *BookingController) CreateBooking(c *gin.Context) {
	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ValidationError(c, "Invalid booking", utils.FormatValidationErrors(err))
		return
	}

	user, _ := middleware.CurrentUser(c)
	if req.CustomerEmail == "" {
		req.CustomerEmail = user.Email
	}
	if req.CustomerName == "" {
		req.CustomerName = user.FullName()
	}

	booking, err := bc.payments.CreateBooking(c.Request.Context(), payments.CreateBookingInput{
		ItemKind:      req.ItemKind,
		ItemName:      req.ItemName,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		TotalPrice:    req.TotalPrice,
		Currency:      req.Currency,
		Details:       req.Details,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		Actor:         userActor(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	utils.Created(c, "Booking created", booking)
}

// GetBooking returns one of the customer's bookings with its payment attempts
func (bc *BookingController) GetBooking(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	booking, attempts, err := bc.payments.GetBooking(c.Request.Context(), userActor(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	var details interface{}
	if len(booking.BookingDetails) > 0 {
		_ = json.Unmarshal(booking.BookingDetails, &details)
	}
	utils.Success(c, "Booking retrieved", gin.H{"booking": booking, "details": details, "payments": attempts})
}

// InitiatePayment opens a payment attempt and returns its transaction id
func (bc *BookingController) InitiatePayment(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	payment, err := bc.payments.InitiatePayment(c.Request.Context(), userActor(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	utils.Created(c, "Payment initiated", gin.H{
		"transactionId": payment.TransactionID,
		"orderId":       strconv.FormatUint(uint64(payment.BookingID), 10),
		"amount":        payment.Amount,
		"currency":      payment.Currency,
	})
}

func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		utils.BadRequest(c, "Invalid "+name, nil)
		return 0, false
	}
	return uint(id), true
}
