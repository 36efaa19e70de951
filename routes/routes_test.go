package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/config"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/models"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/nexi"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/services/payments"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testSecret = "routes-test-secret"
	testMACKey = "routes-test-mac-key"
	goodOTP    = "123456"
)

// scriptedGateway approves goodOTP and every refund
type scriptedGateway struct{}

func reply(fields map[string]string) (*nexi.Response, error) {
	signer := nexi.NewSigner(testMACKey)
	signer.Sign(fields)
	form := url.Values{}
	for k, v := range fields {
		form.Set(k, v)
	}
	return nexi.ParseResponse([]byte(form.Encode()), signer)
}

func (scriptedGateway) VerifyOTP(ctx context.Context, req nexi.VerifyOTPRequest) (*nexi.Response, error) {
	if req.OTP != goodOTP {
		return reply(map[string]string{"esito": "KO", "codiceEsito": "117", "messaggio": "OTP errato"})
	}
	return reply(map[string]string{
		"esito": "OK", "codiceEsito": "0", "codAut": "AUTH01",
		"importo": fmt.Sprint(req.Amount), "divisa": req.Currency,
	})
}

func (scriptedGateway) ResendOTP(ctx context.Context, req nexi.ResendOTPRequest) (*nexi.Response, error) {
	return reply(map[string]string{"esito": "OK", "codiceEsito": "0"})
}

func (scriptedGateway) Refund(ctx context.Context, req nexi.RefundRequest) (*nexi.Response, error) {
	return reply(map[string]string{"esito": "OK", "codiceEsito": "0", "idOperazione": "RF-" + req.TransactionID})
}

type testServer struct {
	*httptest.Server
	db         *gorm.DB
	client     *http.Client
	userToken  string
	adminToken string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir, err := os.MkdirTemp("", "routes-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	db, err := gorm.Open(sqlite.Open(filepath.Join(dir, "test.db")), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, config.Migrate(db))

	user := models.User{Email: "cliente@example.com", FirstName: "Giulia", LastName: "Bianchi"}
	require.NoError(t, db.Create(&user).Error)
	admin := models.Admin{Email: "ops@example.com", IsActive: true}
	require.NoError(t, db.Create(&admin).Error)

	cfg := &config.Config{
		Env:               "test",
		JWTSecret:         testSecret,
		SessionSecret:     "routes-test-session-secret-value",
		TokenTTL:          time.Hour,
		AllowedOrigin:     "*",
		PollInterval:      20 * time.Millisecond,
		PollTimeout:       time.Second,
		OTPCountdown:      5 * time.Minute,
		MaxRequestsPerMin: 1000,
	}
	svc := payments.NewService(db, scriptedGateway{}, payments.NewLocalLocker(), nil, payments.Settings{
		MaxVerifyAttempts: 3,
		ResendCooldown:    30 * time.Second,
		LockTTL:           5 * time.Second,
		OTPWindow:         cfg.OTPCountdown,
	}, zap.NewNop())

	router, err := SetupRouter(Dependencies{Config: cfg, DB: db, Payments: svc, Logger: zap.NewNop()})
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	userToken, err := utils.GenerateUserToken(testSecret, user.ID, user.Email, time.Hour)
	require.NoError(t, err)
	adminToken, err := utils.GenerateAdminToken(testSecret, admin.ID, time.Hour)
	require.NoError(t, err)

	return &testServer{Server: srv, db: db, client: &http.Client{Jar: jar}, userToken: userToken, adminToken: adminToken}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	status, raw, _ := s.doRaw(t, method, path, token, body)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded), string(raw))
	return status, decoded
}

func (s *testServer) doRaw(t *testing.T, method, path, token string, body interface{}) (int, []byte, http.Header) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw, resp.Header
}

func data(t *testing.T, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	d, ok := body["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object: %v", body)
	return d
}

// bookAndInitiate creates a 150.00 EUR booking and opens a payment on it
func bookAndInitiate(t *testing.T, s *testServer) (transactionID, orderID string) {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/v1/user/bookings", s.userToken, gin.H{
		"item_kind":   "car",
		"item_name":   "Lamborghini Huracan",
		"start_date":  time.Now().Add(24 * time.Hour).Format(time.RFC3339),
		"end_date":    time.Now().Add(48 * time.Hour).Format(time.RFC3339),
		"total_price": 15000,
		"currency":    "EUR",
	})
	require.Equal(t, http.StatusCreated, status, body)
	bookingID := int(data(t, body)["id"].(float64))

	status, body = s.do(t, http.MethodPost, fmt.Sprintf("/v1/user/bookings/%d/payments", bookingID), s.userToken, nil)
	require.Equal(t, http.StatusCreated, status, body)
	d := data(t, body)
	return d["transactionId"].(string), d["orderId"].(string)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	status, body := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestVerificationFlowEndToEnd(t *testing.T) {
	s := newTestServer(t)
	txID, orderID := bookAndInitiate(t, s)

	status, body := s.do(t, http.MethodPost, "/v1/payments/verification/start", s.userToken, gin.H{"transactionId": txID})
	require.Equal(t, http.StatusOK, status, body)
	assert.Greater(t, data(t, body)["remainingSeconds"].(float64), float64(0))

	// malformed code never reaches the gateway
	status, body = s.do(t, http.MethodPost, "/v1/payments/verify", s.userToken, gin.H{
		"transactionId": txID, "orderId": orderID, "otpCode": "12ab",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "invalid_request", body["error"])

	status, body = s.do(t, http.MethodPost, "/v1/payments/verify", s.userToken, gin.H{
		"transactionId": txID, "orderId": orderID, "otpCode": "000000", "retryCount": 0,
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, true, body["retryAllowed"])
	assert.Equal(t, "117", body["gatewayCode"])

	status, body = s.do(t, http.MethodPost, "/v1/payments/verify", s.userToken, gin.H{
		"transactionId": txID, "orderId": orderID, "otpCode": goodOTP, "retryCount": 1,
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["success"])
	for key := range body {
		assert.Contains(t, []string{"success", "error", "message", "retryAllowed", "gatewayCode"}, key)
	}

	status, body = s.do(t, http.MethodGet, "/v1/payments/"+txID+"/status", s.userToken, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, models.PaymentStatusCompleted, data(t, body)["status"])

	status, body = s.do(t, http.MethodGet, "/v1/payments/"+txID+"/outcome?expected=15000", s.userToken, nil)
	require.Equal(t, http.StatusOK, status, body)
	outcome := data(t, body)
	assert.Equal(t, true, outcome["succeeded"])
	assert.Equal(t, "/payment/success", outcome["redirect"])

	var logs []models.PaymentAuditLog
	require.NoError(t, s.db.Where("transaction_id = ?", txID).Order("id").Find(&logs).Error)
	require.Len(t, logs, 3)
	assert.Equal(t, models.AuditOutcomeRejected, logs[0].Outcome)
	assert.Equal(t, models.AuditOutcomeFailure, logs[1].Outcome)
	assert.Equal(t, models.AuditOutcomeSuccess, logs[2].Outcome)
}

func auditRows(t *testing.T, s *testServer) int64 {
	t.Helper()
	var n int64
	require.NoError(t, s.db.Model(&models.PaymentAuditLog{}).Count(&n).Error)
	return n
}

func TestMalformedRelayRequestsAreAudited(t *testing.T) {
	s := newTestServer(t)
	txID, orderID := bookAndInitiate(t, s)

	before := auditRows(t, s)
	status, body := s.do(t, http.MethodPost, "/v1/payments/verify", s.userToken, gin.H{
		"transactionId": txID, "orderId": orderID, "otpCode": "12",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_request", body["error"])
	assert.Equal(t, before+1, auditRows(t, s))

	var last models.PaymentAuditLog
	require.NoError(t, s.db.Order("id DESC").First(&last).Error)
	assert.Equal(t, models.AuditOperationVerify, last.Operation)
	assert.Equal(t, models.AuditOutcomeRejected, last.Outcome)
	assert.Equal(t, txID, last.TransactionID)
	require.NotNil(t, last.PaymentID)

	before = auditRows(t, s)
	status, body = s.do(t, http.MethodPost, "/v1/payments/resend-otp", s.userToken, gin.H{"transactionId": txID})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_request", body["error"])
	assert.Equal(t, before+1, auditRows(t, s))

	status, _ = s.do(t, http.MethodPost, "/v1/payments/verify", s.userToken, gin.H{
		"transactionId": txID, "orderId": orderID, "otpCode": goodOTP,
	})
	require.Equal(t, http.StatusOK, status)

	var payment models.Payment
	require.NoError(t, s.db.Where("transaction_id = ?", txID).First(&payment).Error)
	refundPath := fmt.Sprintf("/v1/admin/payments/%d/refunds", payment.ID)

	cases := []struct {
		name   string
		body   gin.H
		status int
		kind   string
	}{
		{"zero amount", gin.H{"amount": 0}, http.StatusBadRequest, "invalid_amount"},
		{"missing amount", gin.H{"reason": "no amount"}, http.StatusBadRequest, "invalid_amount"},
		{"negative amount", gin.H{"amount": -5}, http.StatusBadRequest, "invalid_amount"},
		{"amount is not a number", gin.H{"amount": "lots"}, http.StatusBadRequest, "invalid_request"},
		{"reason too long", gin.H{"amount": 100, "reason": strings.Repeat("x", 501)}, http.StatusBadRequest, "invalid_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := auditRows(t, s)
			status, body := s.do(t, http.MethodPost, refundPath, s.adminToken, tc.body)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.kind, body["error"])
			assert.Equal(t, before+1, auditRows(t, s))

			var last models.PaymentAuditLog
			require.NoError(t, s.db.Order("id DESC").First(&last).Error)
			assert.Equal(t, models.AuditOperationRefund, last.Operation)
			assert.Equal(t, models.AuditOutcomeRejected, last.Outcome)
			require.NotNil(t, last.PaymentID)
			assert.Equal(t, payment.ID, *last.PaymentID)
		})
	}

	var refunds int64
	require.NoError(t, s.db.Model(&models.RefundRequest{}).Count(&refunds).Error)
	assert.Zero(t, refunds)
}

func TestVerificationWindowIsServerSide(t *testing.T) {
	s := newTestServer(t)
	txID, orderID := bookAndInitiate(t, s)

	require.NoError(t, s.db.Model(&models.Payment{}).Where("transaction_id = ?", txID).
		Update("otp_window_started_at", time.Now().Add(-6*time.Minute)).Error)

	// a client without the session cookie cannot open a fresh window
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	s.client = &http.Client{Jar: jar}

	status, body := s.do(t, http.MethodPost, "/v1/payments/verification/start", s.userToken, gin.H{"transactionId": txID})
	assert.Equal(t, http.StatusUnprocessableEntity, status, body)

	status, body = s.do(t, http.MethodPost, "/v1/payments/verify", s.userToken, gin.H{
		"transactionId": txID, "orderId": orderID, "otpCode": goodOTP,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "verification_expired", body["error"])

	status, body = s.do(t, http.MethodGet, "/v1/payments/"+txID+"/outcome?expected=15000", s.userToken, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "verification_expired", data(t, body)["reason"])

	var payment models.Payment
	require.NoError(t, s.db.Where("transaction_id = ?", txID).First(&payment).Error)
	assert.Equal(t, models.PaymentStatusPending, payment.PaymentStatus)
}

func TestCurrentVerificationFollowsSession(t *testing.T) {
	s := newTestServer(t)
	txID, _ := bookAndInitiate(t, s)

	status, _ := s.do(t, http.MethodGet, "/v1/payments/verification/current", s.userToken, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body := s.do(t, http.MethodPost, "/v1/payments/verification/start", s.userToken, gin.H{"transactionId": txID})
	require.Equal(t, http.StatusOK, status, body)
	first := data(t, body)["remainingSeconds"].(float64)

	status, body = s.do(t, http.MethodGet, "/v1/payments/verification/current", s.userToken, nil)
	require.Equal(t, http.StatusOK, status, body)
	current := data(t, body)
	assert.Equal(t, txID, current["snapshot"].(map[string]interface{})["transactionId"])
	assert.LessOrEqual(t, current["remainingSeconds"].(float64), first)

	// starting again reports the same countdown instead of a new one
	status, body = s.do(t, http.MethodPost, "/v1/payments/verification/start", s.userToken, gin.H{"transactionId": txID})
	require.Equal(t, http.StatusOK, status, body)
	assert.LessOrEqual(t, data(t, body)["remainingSeconds"].(float64), first)
}

func TestOutcomeReportsAmountMismatch(t *testing.T) {
	s := newTestServer(t)
	txID, orderID := bookAndInitiate(t, s)

	status, _ := s.do(t, http.MethodPost, "/v1/payments/verify", s.userToken, gin.H{
		"transactionId": txID, "orderId": orderID, "otpCode": goodOTP,
	})
	require.Equal(t, http.StatusOK, status)

	status, body := s.do(t, http.MethodGet, "/v1/payments/"+txID+"/outcome?expected=99900", s.userToken, nil)
	require.Equal(t, http.StatusOK, status, body)
	outcome := data(t, body)
	assert.Equal(t, false, outcome["succeeded"])
	assert.Equal(t, "amount_mismatch", outcome["reason"])
	assert.Equal(t, "/payment/failure", outcome["redirect"])

	status, _ = s.do(t, http.MethodGet, "/v1/payments/"+txID+"/outcome", s.userToken, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPaymentRoutesRequireAuth(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodPost, "/v1/payments/verify", "", gin.H{"transactionId": "x"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, false, body["success"])

	status, _ = s.do(t, http.MethodGet, "/v1/payments/unknown/status", s.userToken, nil)
	assert.Equal(t, http.StatusNotFound, status)

	// a customer token is not an admin token
	status, _ = s.do(t, http.MethodGet, "/v1/admin/refunds", s.userToken, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAdminRefundRoutes(t *testing.T) {
	s := newTestServer(t)
	txID, orderID := bookAndInitiate(t, s)

	status, _ := s.do(t, http.MethodPost, "/v1/payments/verify", s.userToken, gin.H{
		"transactionId": txID, "orderId": orderID, "otpCode": goodOTP,
	})
	require.Equal(t, http.StatusOK, status)

	var payment models.Payment
	require.NoError(t, s.db.Where("transaction_id = ?", txID).First(&payment).Error)
	refundPath := fmt.Sprintf("/v1/admin/payments/%d/refunds", payment.ID)

	status, body := s.do(t, http.MethodPost, refundPath, s.adminToken, gin.H{"amount": 20000, "reason": "too much"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "amount_exceeds_refundable", body["error"])

	status, body = s.do(t, http.MethodPost, refundPath, s.adminToken, gin.H{
		"amount": 5000, "reason": "late delivery", "idempotencyKey": "ops-1",
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["success"])

	status, body = s.do(t, http.MethodGet, fmt.Sprintf("/v1/admin/payments/%d", payment.ID), s.adminToken, nil)
	require.Equal(t, http.StatusOK, status, body)
	detail := data(t, body)
	assert.Equal(t, float64(5000), detail["refunded"])
	assert.Equal(t, float64(10000), detail["refundable"])

	status, body = s.do(t, http.MethodGet, "/v1/admin/refunds?status=completed", s.adminToken, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, float64(1), body["pagination"].(map[string]interface{})["total"])

	status, _ = s.do(t, http.MethodGet, "/v1/admin/refunds?status=bogus", s.adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, raw, header := s.doRaw(t, http.MethodGet, "/v1/admin/refunds/export/excel?period=week", s.adminToken, nil)
	require.Equal(t, http.StatusOK, status, string(raw))
	assert.Contains(t, header.Get("Content-Disposition"), "refund_report_week.xlsx")
	assert.NotEmpty(t, raw)

	status, raw, header = s.doRaw(t, http.MethodGet, "/v1/admin/refunds/export/pdf", s.adminToken, nil)
	require.Equal(t, http.StatusOK, status, string(raw))
	assert.Equal(t, "application/pdf", header.Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(raw, []byte("%PDF")))

	status, _, _ = s.doRaw(t, http.MethodGet, "/v1/admin/refunds/export/pdf?period=year", s.adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}
