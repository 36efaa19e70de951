package utils

import (
	"fmt"
	"html"

	"gopkg.in/gomail.v2"
)

// EmailConfig holds email configuration
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Mailer sends HTML mail over SMTP
type Mailer struct {
	from   string
	dialer *gomail.Dialer
}

// NewMailer creates a Mailer from SMTP settings
func NewMailer(cfg EmailConfig) *Mailer {
	return &Mailer{
		from:   cfg.From,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

// Send delivers one HTML message
func (m *Mailer) Send(to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// FormatMinor renders a minor-unit amount such as 15000 EUR as "150.00 EUR"
func FormatMinor(amount int64, currency string) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, amount/100, amount%100, currency)
}

// PaymentConfirmedEmail builds the booking confirmation mail
func PaymentConfirmedEmail(customerName, itemName, transactionID string, amount int64, currency string) (string, string) {
	subject := "Your DR7 booking is confirmed"
	body := fmt.Sprintf(`
		<h2>Thank you, %s</h2>
		<p>Your payment for <strong>%s</strong> has been received and your booking is confirmed.</p>
		<p>Amount charged: <strong>%s</strong></p>
		<p>Transaction reference: %s</p>
		<p>Our concierge team will contact you shortly with the delivery details.</p>
	`, html.EscapeString(customerName), html.EscapeString(itemName), FormatMinor(amount, currency), html.EscapeString(transactionID))
	return subject, body
}

// RefundProcessedEmail builds the refund notification mail
func RefundProcessedEmail(customerName, itemName, transactionID string, refunded int64, currency string, full bool) (string, string) {
	subject := "Your DR7 refund has been processed"
	kind := "A partial refund"
	if full {
		kind = "A full refund"
	}
	body := fmt.Sprintf(`
		<h2>Hello %s</h2>
		<p>%s of <strong>%s</strong> for <strong>%s</strong> has been issued to your card.</p>
		<p>Transaction reference: %s</p>
		<p>Depending on your bank it may take 5-10 business days to appear on your statement.</p>
	`, html.EscapeString(customerName), kind, FormatMinor(refunded, currency), html.EscapeString(itemName), html.EscapeString(transactionID))
	return subject, body
}
