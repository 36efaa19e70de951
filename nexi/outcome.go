package nexi

// Reason is the user-facing classification of a gateway failure code
type Reason string

const (
	ReasonDeclined          Reason = "declined"
	ReasonInsufficientFunds Reason = "insufficient_funds"
	ReasonInvalidCard       Reason = "invalid_card"
	ReasonExpiredCard       Reason = "expired_card"
	ReasonInvalidOTP        Reason = "invalid_otp"
	ReasonTimeout           Reason = "timeout"
	ReasonGatewayError      Reason = "gateway_error"
)

var reasonsByCode = map[string]Reason{
	"100": ReasonDeclined,
	"102": ReasonDeclined,
	"101": ReasonExpiredCard,
	"104": ReasonInvalidCard,
	"111": ReasonInvalidCard,
	"118": ReasonInvalidCard,
	"116": ReasonInsufficientFunds,
	"121": ReasonInsufficientFunds,
	"117": ReasonInvalidOTP,
	"96":  ReasonTimeout,
	"911": ReasonTimeout,
}

var messages = map[Reason]string{
	ReasonDeclined:          "The payment was declined by the card issuer.",
	ReasonInsufficientFunds: "Insufficient funds on the card.",
	ReasonInvalidCard:       "The card details are invalid.",
	ReasonExpiredCard:       "The card has expired.",
	ReasonInvalidOTP:        "The verification code is not valid.",
	ReasonTimeout:           "The gateway timed out processing the payment.",
	ReasonGatewayError:      "The payment gateway reported an error.",
}

// Classify maps a codiceEsito value to a Reason. Empty codes mean the gateway
// did not say why, unknown codes are reported as declined.
func Classify(code string) Reason {
	if code == "" {
		return ReasonGatewayError
	}
	if r, ok := reasonsByCode[code]; ok {
		return r
	}
	return ReasonDeclined
}

// Retryable reports whether the user may try again with the same payment
func (r Reason) Retryable() bool {
	return r == ReasonInvalidOTP
}

// Message returns the user-facing text for r
func (r Reason) Message() string {
	if m, ok := messages[r]; ok {
		return m
	}
	return messages[ReasonGatewayError]
}
