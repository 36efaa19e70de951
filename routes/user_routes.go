package routes

import (
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/controllers"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/middleware"

	"github.com/gin-gonic/gin"
)

// initUserRoutes initializes the public auth routes and the customer booking
// and payment verification routes
func initUserRoutes(router *gin.RouterGroup, deps Dependencies) {
	cfg := deps.Config
	authController := controllers.NewAuthController(deps.DB, cfg.JWTSecret, cfg.TokenTTL)
	bookingController := controllers.NewBookingController(deps.Payments)
	verificationController := controllers.NewPaymentVerificationController(deps.Payments, verificationOptions(cfg))

	auth := router.Group("/auth")
	{
		auth.POST("/register", authController.RegisterUser)
		auth.POST("/login", authController.LoginUser)
	}

	authenticated := middleware.AuthMiddleware(cfg.JWTSecret, deps.DB)

	user := router.Group("/user", authenticated)
	{
		user.POST("/bookings", bookingController.CreateBooking)
		user.GET("/bookings/:id", bookingController.GetBooking)
		user.POST("/bookings/:id/payments", bookingController.InitiatePayment)
	}

	// Gateway relays are rate limited per client IP. Status and outcome only
	// read local rows.
	limited := middleware.RateLimitMiddleware(cfg.MaxRequestsPerMin, deps.Logger)
	paymentRoutes := router.Group("/payments", authenticated)
	{
		paymentRoutes.POST("/verification/start", verificationController.StartVerification)
		paymentRoutes.GET("/verification/current", verificationController.CurrentVerification)
		paymentRoutes.POST("/verify", limited, verificationController.VerifyOTP)
		paymentRoutes.POST("/resend-otp", limited, verificationController.ResendOTP)
		paymentRoutes.GET("/:transactionId/status", verificationController.Status)
		paymentRoutes.GET("/:transactionId/outcome", verificationController.Outcome)
	}
}
