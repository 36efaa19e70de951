package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/verification"

	"github.com/spf13/cobra"
)

var (
	watchAPI      string
	watchToken    string
	watchExpected int64
	watchInterval time.Duration
	watchTimeout  time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch <transactionId>",
	Short: "Poll a payment through the status endpoint until it settles",
	Long: `Runs the same polling loop the booking site uses against the
/v1/payments/:transactionId/status endpoint and prints the outcome.

Examples:
  paymentctl watch DR7123ABCDEF0123 --expected 15000 --token $TOKEN
  paymentctl watch DR7123ABCDEF0123 --expected 15000 --api https://api.dr7empire.com`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchAPI, "api", "http://localhost:8080", "API base URL")
	watchCmd.Flags().StringVar(&watchToken, "token", os.Getenv("DR7_TOKEN"), "bearer token of the booking owner")
	watchCmd.Flags().Int64Var(&watchExpected, "expected", 0, "expected amount in minor units")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", verification.DefaultOptions().Interval, "poll interval")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", verification.DefaultOptions().Timeout, "give up after")
	_ = watchCmd.MarkFlagRequired("expected")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchExpected <= 0 {
		return fmt.Errorf("--expected must be positive")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	src := &apiSource{
		base:   strings.TrimRight(watchAPI, "/"),
		token:  watchToken,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	opts := verification.Options{
		Interval:  watchInterval,
		Timeout:   watchTimeout,
		Countdown: verification.DefaultOptions().Countdown,
	}
	// the countdown runs from the window stored on the payment
	session := verification.NewSession(opts)
	if snap, err := src.PaymentStatus(ctx, args[0]); err == nil && !snap.WindowStartedAt.IsZero() {
		session = verification.ResumeSession(opts, snap.WindowStartedAt)
	}

	fmt.Printf("Watching %s (expected %d)...\n", args[0], watchExpected)
	out := session.Observe(ctx, src, args[0], watchExpected)

	fmt.Printf("Succeeded: %t\n", out.Succeeded)
	if out.Reason != "" {
		fmt.Printf("Reason:    %s\n", out.Reason)
	}
	fmt.Printf("Polls:     %d in %s\n", out.Polls, out.Elapsed.Round(time.Millisecond))
	fmt.Printf("Redirect:  %s\n", out.RedirectPath())
	if out.Snapshot != nil {
		fmt.Printf("Status:    %s (%d %s)\n", out.Snapshot.Status, out.Snapshot.Amount, out.Snapshot.Currency)
	}
	if !out.Succeeded {
		os.Exit(2)
	}
	return nil
}

// apiSource reads payment snapshots from the HTTP status endpoint
type apiSource struct {
	base   string
	token  string
	client *http.Client
}

func (s *apiSource) PaymentStatus(ctx context.Context, transactionID string) (verification.Snapshot, error) {
	endpoint := s.base + "/v1/payments/" + url.PathEscape(transactionID) + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return verification.Snapshot{}, err
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return verification.Snapshot{}, err
	}
	defer resp.Body.Close()

	var body struct {
		Status  string                `json:"status"`
		Message string                `json:"message"`
		Data    verification.Snapshot `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return verification.Snapshot{}, fmt.Errorf("decode status response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return verification.Snapshot{}, fmt.Errorf("status endpoint returned %d: %s", resp.StatusCode, body.Message)
	}
	return body.Data, nil
}
