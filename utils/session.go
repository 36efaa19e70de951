package utils

import (
	"fmt"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// The session only remembers which payment the customer is verifying so the
// OTP page can be restored after a reload. The countdown itself lives on the
// payment row.
const activeVerificationKey = "active_verification"

// SetActiveVerification remembers transactionID as the payment being verified
func SetActiveVerification(c *gin.Context, transactionID string) error {
	session := sessions.Default(c)
	session.Set(activeVerificationKey, transactionID)
	if err := session.Save(); err != nil {
		return fmt.Errorf("failed to save active verification: %w", err)
	}
	return nil
}

// ActiveVerification returns the transaction recorded by SetActiveVerification
func ActiveVerification(c *gin.Context) (string, bool) {
	txID, ok := sessions.Default(c).Get(activeVerificationKey).(string)
	return txID, ok && txID != ""
}

// ClearActiveVerification forgets the transaction if it is still transactionID
func ClearActiveVerification(c *gin.Context, transactionID string) error {
	if current, ok := ActiveVerification(c); !ok || current != transactionID {
		return nil
	}
	session := sessions.Default(c)
	session.Delete(activeVerificationKey)
	return session.Save()
}
