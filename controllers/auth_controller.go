package controllers

import (
	"strings"
	"time"

	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/models"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/utils"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AuthController issues tokens for customers and operators
type AuthController struct {
	db        *gorm.DB
	jwtSecret string
	tokenTTL  time.Duration
}

// NewAuthController builds an AuthController
func NewAuthController(db *gorm.DB, jwtSecret string, tokenTTL time.Duration) *AuthController {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &AuthController{db: db, jwtSecret: jwtSecret, tokenTTL: tokenTTL}
}

// RegisterRequest represents the customer sign-up body
type RegisterRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RegisterUser creates a customer account
func (ac *AuthController) RegisterUser(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ValidationError(c, "Invalid registration details", utils.FormatValidationErrors(err))
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	var count int64
	if err := ac.db.Model(&models.User{}).Where("email = ?", req.Email).Count(&count).Error; err != nil {
		utils.LogError("Registration failed - lookup error: %v", err)
		utils.InternalServerError(c, "Failed to register", nil)
		return
	}
	if count > 0 {
		utils.Conflict(c, "Email already registered", nil)
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		utils.LogError("Registration failed - hashing error: %v", err)
		utils.InternalServerError(c, "Failed to register", nil)
		return
	}

	user := models.User{
		Email:     req.Email,
		Password:  hash,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Phone:     req.Phone,
	}
	if err := ac.db.Create(&user).Error; err != nil {
		utils.LogError("Registration failed - create error: %v", err)
		utils.InternalServerError(c, "Failed to register", nil)
		return
	}

	token, err := utils.GenerateUserToken(ac.jwtSecret, user.ID, user.Email, ac.tokenTTL)
	if err != nil {
		utils.LogError("Registration failed - token error: %v", err)
		utils.InternalServerError(c, "Failed to register", nil)
		return
	}

	utils.LogInfo("User registered: %d", user.ID)
	utils.Created(c, "Registration successful", gin.H{"token": token, "user": user})
}

// LoginUser handles customer login
func (ac *AuthController) LoginUser(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "Invalid email or password", utils.FormatValidationErrors(err))
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	var user models.User
	if err := ac.db.Where("email = ?", req.Email).First(&user).Error; err != nil {
		utils.LogDebug("Login attempt failed - user not found")
		utils.Unauthorized(c, "Invalid credentials")
		return
	}
	if !utils.CheckPassword(req.Password, user.Password) {
		utils.LogDebug("Login attempt failed - invalid password for user %d", user.ID)
		utils.Unauthorized(c, "Invalid credentials")
		return
	}
	if user.IsBlocked {
		utils.LogError("Login attempt failed - blocked account %d", user.ID)
		utils.Forbidden(c, "Account is blocked")
		return
	}

	if err := ac.db.Model(&user).Update("last_login_at", time.Now()).Error; err != nil {
		utils.LogError("Failed to update last login time for user %d: %v", user.ID, err)
	}

	token, err := utils.GenerateUserToken(ac.jwtSecret, user.ID, user.Email, ac.tokenTTL)
	if err != nil {
		utils.LogError("Failed to generate token: %v", err)
		utils.InternalServerError(c, "Failed to login", nil)
		return
	}

	utils.Success(c, "Login successful", gin.H{"token": token, "user": user})
}

// AdminLogin handles operator authentication
func (ac *AuthController) AdminLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "Invalid input", utils.FormatValidationErrors(err))
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	var admin models.Admin
	if err := ac.db.Where("email = ?", req.Email).First(&admin).Error; err != nil {
		utils.LogError("Admin not found for email: %s", req.Email)
		utils.Unauthorized(c, "Invalid credentials")
		return
	}
	if !admin.IsActive {
		utils.LogError("Inactive admin account attempted login: %s", admin.Email)
		utils.Forbidden(c, "Admin account is inactive")
		return
	}
	if !utils.CheckPassword(req.Password, admin.Password) {
		utils.LogError("Invalid password for admin: %s", admin.Email)
		utils.Unauthorized(c, "Invalid credentials")
		return
	}

	if err := ac.db.Model(&admin).Update("last_login", time.Now()).Error; err != nil {
		utils.LogError("Failed to update last login for admin %s: %v", admin.Email, err)
	}

	token, err := utils.GenerateAdminToken(ac.jwtSecret, admin.ID, ac.tokenTTL)
	if err != nil {
		utils.LogError("Failed to generate admin token: %v", err)
		utils.InternalServerError(c, "Failed to login", nil)
		return
	}

	utils.LogInfo("Admin %d logged in", admin.ID)
	utils.Success(c, "Login successful", gin.H{"token": token, "admin": admin})
}
