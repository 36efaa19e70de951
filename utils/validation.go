package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// FieldValidationError represents a validation error for a specific field
type FieldValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FieldValidationErrors represents multiple field validation errors
type FieldValidationErrors []FieldValidationError

// Error implements the error interface
func (e FieldValidationErrors) Error() string {
	var messages []string
	for _, err := range e {
		messages = append(messages, fmt.Sprintf("%s: %s", err.Field, err.Message))
	}
	return strings.Join(messages, "; ")
}

var (
	currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)
	otpRegex      = regexp.MustCompile(`^[0-9]{4,8}$`)
)

// supportedCurrencies are the currencies the gateway terminal is enabled for
var supportedCurrencies = map[string]bool{"EUR": true, "USD": true, "GBP": true, "CHF": true}

// RegisterValidators installs the custom binding tags on gin's validator engine
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("unexpected validator engine")
	}
	if err := v.RegisterValidation("iso4217", validateCurrency); err != nil {
		return err
	}
	return v.RegisterValidation("otp", validateOTP)
}

func validateCurrency(fl validator.FieldLevel) bool {
	code := fl.Field().String()
	return currencyRegex.MatchString(code) && supportedCurrencies[code]
}

func validateOTP(fl validator.FieldLevel) bool {
	return otpRegex.MatchString(fl.Field().String())
}

// FormatValidationErrors converts binding errors into per-field messages
func FormatValidationErrors(err error) FieldValidationErrors {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return FieldValidationErrors{{Field: "body", Message: err.Error()}}
	}
	out := make(FieldValidationErrors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldValidationError{Field: fe.Field(), Message: validationMessage(fe)})
	}
	return out
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "iso4217":
		return "must be a supported ISO 4217 currency code"
	case "otp":
		return "must be a 4-8 digit code"
	case "gt", "gte", "min":
		return "must be at least " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	case "email":
		return "must be a valid email"
	default:
		return "is invalid"
	}
}
