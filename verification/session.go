// Package verification observes the local payment row after an OTP has been
// submitted and decides where the customer goes next.
//
// Submitting the code (the relay call) and observing the result are separate
// steps. The observer only trusts what is stored locally.
package verification

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// Failure reasons reported by Observe
const (
	ReasonAmountMismatch   = "amount_mismatch"
	ReasonPaymentFailed    = "payment_failed"
	ReasonTimeoutOrPending = "timeout_or_pending"
	ReasonExpired          = "verification_expired"
	ReasonCancelled        = "cancelled"
)

// Routes the client is sent to once an outcome is known
const (
	SuccessPath = "/payment/success"
	FailurePath = "/payment/failure"
)

var (
	successStatuses = map[string]bool{"completed": true, "paid": true, "succeeded": true}
	failureStatuses = map[string]bool{"failed": true, "declined": true, "cancelled": true, "canceled": true, "error": true}
)

// Snapshot is what a poll reads from the local payments table
type Snapshot struct {
	TransactionID  string `json:"transactionId"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	CapturedAmount int64  `json:"capturedAmount"`
	Currency       string `json:"currency"`
	FailureReason  string `json:"failureReason,omitempty"`
	// WindowStartedAt is when the OTP entry countdown began, as stored on the row
	WindowStartedAt time.Time `json:"windowStartedAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// StatusSource reads the current state of a payment
type StatusSource interface {
	PaymentStatus(ctx context.Context, transactionID string) (Snapshot, error)
}

// Options controls polling cadence and the two independent deadlines
type Options struct {
	Interval  time.Duration
	Timeout   time.Duration
	Countdown time.Duration
}

// DefaultOptions polls every 2s for up to 90s within a 5 minute entry window
func DefaultOptions() Options {
	return Options{
		Interval:  2 * time.Second,
		Timeout:   90 * time.Second,
		Countdown: 300 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Interval <= 0 {
		o.Interval = d.Interval
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.Countdown <= 0 {
		o.Countdown = d.Countdown
	}
	return o
}

// Session is one OTP entry window. Its countdown runs from the moment the
// customer reached the OTP step, independent of any polling.
type Session struct {
	opts    Options
	started time.Time
}

// NewSession starts a window now
func NewSession(opts Options) *Session {
	return ResumeSession(opts, time.Now())
}

// ResumeSession rebuilds a window that started at started
func ResumeSession(opts Options, started time.Time) *Session {
	return &Session{opts: opts.withDefaults(), started: started}
}

// StartedAt returns when the window opened
func (s *Session) StartedAt() time.Time {
	return s.started
}

// Options returns the effective options
func (s *Session) Options() Options {
	return s.opts
}

// Remaining returns how much of the countdown is left at now
func (s *Session) Remaining(now time.Time) time.Duration {
	left := s.started.Add(s.opts.Countdown).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// Expired reports whether the countdown has run out at now
func (s *Session) Expired(now time.Time) bool {
	return s.Remaining(now) == 0
}

// Outcome is the terminal decision of an observation
type Outcome struct {
	Succeeded bool          `json:"succeeded"`
	Reason    string        `json:"reason,omitempty"`
	Snapshot  *Snapshot     `json:"snapshot,omitempty"`
	Polls     int           `json:"polls"`
	Elapsed   time.Duration `json:"elapsed"`
}

// RedirectPath returns the page the client should navigate to
func (o Outcome) RedirectPath() string {
	if o.Succeeded {
		return SuccessPath
	}
	return FailurePath + "?reason=" + url.QueryEscape(o.Reason)
}

// Observe polls src until the payment reaches a terminal state, the poll
// timeout elapses, the countdown expires or ctx is cancelled. The first read
// happens immediately. Read errors are retried on the next tick. Observe
// never writes anything: a timeout leaves the payment as it was.
func (s *Session) Observe(ctx context.Context, src StatusSource, transactionID string, expected int64) Outcome {
	begin := time.Now()
	out := Outcome{}
	finish := func(reason string, succeeded bool) Outcome {
		out.Reason = reason
		out.Succeeded = succeeded
		out.Elapsed = time.Since(begin)
		return out
	}

	countdown := s.Remaining(begin)
	if countdown == 0 {
		return finish(ReasonExpired, false)
	}

	readDeadline := s.opts.Timeout
	if countdown < readDeadline {
		readDeadline = countdown
	}
	readCtx, cancel := context.WithTimeout(ctx, readDeadline)
	defer cancel()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	timeout := time.NewTimer(s.opts.Timeout)
	defer timeout.Stop()
	expiry := time.NewTimer(countdown)
	defer expiry.Stop()

	for {
		if ctx.Err() != nil {
			return finish(ReasonCancelled, false)
		}

		out.Polls++
		snap, err := src.PaymentStatus(readCtx, transactionID)
		if err == nil {
			out.Snapshot = &snap
			if reason, succeeded, done := Evaluate(snap, expected); done {
				return finish(reason, succeeded)
			}
		}

		select {
		case <-ctx.Done():
			return finish(ReasonCancelled, false)
		case <-expiry.C:
			return finish(ReasonExpired, false)
		case <-timeout.C:
			return finish(ReasonTimeoutOrPending, false)
		case <-ticker.C:
		}
	}
}

// Evaluate decides whether snap is terminal. Success needs a success status
// and a captured amount equal to expected.
func Evaluate(snap Snapshot, expected int64) (reason string, succeeded, done bool) {
	status := strings.ToLower(strings.TrimSpace(snap.Status))
	switch {
	case successStatuses[status]:
		if snap.CapturedAmount != expected {
			return ReasonAmountMismatch, false, true
		}
		return "", true, true
	case failureStatuses[status]:
		if snap.FailureReason != "" {
			return snap.FailureReason, false, true
		}
		return ReasonPaymentFailed, false, true
	default:
		return "", false, false
	}
}
