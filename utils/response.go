package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Envelope wraps every non-relay JSON response. Relay endpoints answer with
// their own flat body so clients can branch on success and error directly.
type Envelope struct {
	Status     string      `json:"status"`
	Message    string      `json:"message"`
	Data       interface{} `json:"data,omitempty"`
	Pagination *PageInfo   `json:"pagination,omitempty"`
	RequestID  string      `json:"request_id,omitempty"`
}

// PageInfo describes one page of a list response
type PageInfo struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	TotalPages int64 `json:"total_pages"`
}

func Success(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Envelope{Status: "success", Message: message, Data: data})
}

func Created(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusCreated, Envelope{Status: "success", Message: message, Data: data})
}

// SuccessWithPagination sends one page of a list along with its position
func SuccessWithPagination(c *gin.Context, message string, data interface{}, total int64, p Pagination) {
	info := &PageInfo{Total: total, Page: p.Page, PerPage: p.PerPage}
	if p.PerPage > 0 {
		info.TotalPages = (total + int64(p.PerPage) - 1) / int64(p.PerPage)
	}
	c.JSON(http.StatusOK, Envelope{Status: "success", Message: message, Data: data, Pagination: info})
}

// Error sends an error envelope. detail, usually a machine-readable kind or
// field errors, goes under data.error. The request id is echoed so support
// staff can match the response to server-side logs.
func Error(c *gin.Context, statusCode int, message string, detail interface{}) {
	env := Envelope{Status: "error", Message: message, RequestID: c.GetString(RequestIDKey)}
	if detail != nil {
		env.Data = gin.H{"error": detail}
	}
	c.JSON(statusCode, env)
}

func BadRequest(c *gin.Context, message string, detail interface{}) {
	Error(c, http.StatusBadRequest, message, detail)
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, message, nil)
}

func Forbidden(c *gin.Context, message string) {
	Error(c, http.StatusForbidden, message, nil)
}

// Conflict is used when the resource exists but is in the wrong state
func Conflict(c *gin.Context, message string, detail interface{}) {
	Error(c, http.StatusConflict, message, detail)
}

// ValidationError answers 422 with the per-field messages
func ValidationError(c *gin.Context, message string, fields interface{}) {
	Error(c, http.StatusUnprocessableEntity, message, fields)
}

func InternalServerError(c *gin.Context, message string, detail interface{}) {
	Error(c, http.StatusInternalServerError, message, detail)
}
