package middleware

import (
	"net/http"
	"strings"

	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/models"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/utils"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Context keys set by the auth middlewares
const (
	UserKey  = "user"
	AdminKey = "admin"
)

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", false
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader || tokenString == "" {
		return "", false
	}
	return tokenString, true
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthenticated", "message": message})
}

func forbidden(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "forbidden", "message": message})
}

// AuthMiddleware authenticates end users with a bearer JWT carrying user_id
func AuthMiddleware(secret string, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			utils.LogDebug("Missing or malformed Authorization header")
			unauthorized(c, "Please login for access")
			return
		}

		claims, err := utils.ParseToken(secret, tokenString)
		if err != nil {
			utils.LogDebug("Invalid token: %v", err)
			unauthorized(c, "Please login for access")
			return
		}

		userID, ok := utils.ClaimID(claims, "user_id")
		if !ok {
			unauthorized(c, "Please login for access")
			return
		}

		var user models.User
		if err := db.WithContext(c.Request.Context()).First(&user, userID).Error; err != nil {
			utils.LogError("User not found: %v", err)
			unauthorized(c, "User not found")
			return
		}

		if user.IsBlocked {
			utils.LogError("Blocked user attempted access: %d", userID)
			forbidden(c, "Account is blocked")
			return
		}

		c.Set(UserKey, user)
		c.Next()
	}
}

// AdminAuthMiddleware authenticates operators with a bearer JWT carrying admin_id
func AdminAuthMiddleware(secret string, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			unauthorized(c, "Authorization header is required")
			return
		}

		claims, err := utils.ParseToken(secret, tokenString)
		if err != nil {
			utils.LogError("Invalid admin token: %v", err)
			unauthorized(c, "Please login for access")
			return
		}

		adminID, ok := utils.ClaimID(claims, "admin_id")
		if !ok {
			utils.LogError("Admin ID not found in token claims")
			unauthorized(c, "Please login for access")
			return
		}

		var admin models.Admin
		if err := db.WithContext(c.Request.Context()).First(&admin, adminID).Error; err != nil {
			utils.LogError("Admin not found: %v", err)
			unauthorized(c, "Admin not found")
			return
		}

		if !admin.IsActive {
			utils.LogError("Inactive admin attempted access: %d", admin.ID)
			forbidden(c, "Admin account is inactive")
			return
		}

		c.Set(AdminKey, admin)
		utils.LogDebug("Admin %d authenticated", admin.ID)
		c.Next()
	}
}

// CurrentUser returns the user stored by AuthMiddleware
func CurrentUser(c *gin.Context) (models.User, bool) {
	v, exists := c.Get(UserKey)
	if !exists {
		return models.User{}, false
	}
	user, ok := v.(models.User)
	return user, ok
}

// CurrentAdmin returns the admin stored by AdminAuthMiddleware
func CurrentAdmin(c *gin.Context) (models.Admin, bool) {
	v, exists := c.Get(AdminKey)
	if !exists {
		return models.Admin{}, false
	}
	admin, ok := v.(models.Admin)
	return admin, ok
}
