package routes

import (
	"net/http"

	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/config"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/services/payments"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/utils"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/verification"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Dependencies are the long-lived components the router hands to controllers
type Dependencies struct {
	Config   *config.Config
	DB       *gorm.DB
	Payments *payments.Service
	Logger   *zap.Logger
}

// SetupRouter initializes and returns the Gin router with all routes
func SetupRouter(deps Dependencies) (*gin.Engine, error) {
	cfg := deps.Config
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	if err := utils.RegisterValidators(); err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(utils.RecoveryMiddleware())
	router.Use(utils.RequestIDMiddleware())
	router.Use(utils.LoggerMiddleware())
	router.Use(utils.CORSMiddleware(cfg.AllowedOrigin))
	router.Use(utils.SecurityHeadersMiddleware())

	// The session only carries the OTP window start
	secret := cfg.SessionSecret
	if secret == "" {
		secret = cfg.JWTSecret
	}
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{
		MaxAge:   int(cfg.OTPCountdown.Seconds()) * 2,
		Path:     "/",
		Secure:   cfg.IsProduction(),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	router.Use(sessions.Sessions("dr7_session", store))

	router.GET("/healthz", func(c *gin.Context) {
		sqlDB, err := deps.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			utils.LogError("Health check failed: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/v1")
	{
		initUserRoutes(api, deps)
		initAdminRoutes(api, deps)
	}

	return router, nil
}

func verificationOptions(cfg *config.Config) verification.Options {
	return verification.Options{
		Interval:  cfg.PollInterval,
		Timeout:   cfg.PollTimeout,
		Countdown: cfg.OTPCountdown,
	}
}
