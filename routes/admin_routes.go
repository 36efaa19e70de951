package routes

import (
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/controllers"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/middleware"

	"github.com/gin-gonic/gin"
)

// initAdminRoutes initializes all admin-related routes
func initAdminRoutes(router *gin.RouterGroup, deps Dependencies) {
	cfg := deps.Config
	authController := controllers.NewAuthController(deps.DB, cfg.JWTSecret, cfg.TokenTTL)
	refundController := controllers.NewAdminRefundController(deps.Payments)

	admin := router.Group("/admin")
	{
		// Public admin routes
		admin.POST("/login", authController.AdminLogin)

		// Protected admin routes
		admin.Use(middleware.AdminAuthMiddleware(cfg.JWTSecret, deps.DB))
		{
			admin.GET("/refunds", refundController.ListRefunds)
			admin.GET("/refunds/export/excel", refundController.DownloadRefundReportExcel)
			admin.GET("/refunds/export/pdf", refundController.DownloadRefundReportPDF)

			admin.GET("/payments/:id", refundController.PaymentDetail)
			admin.POST("/payments/:id/refunds", middleware.RateLimitMiddleware(cfg.MaxRequestsPerMin, deps.Logger), refundController.CreateRefund)
		}
	}
}
