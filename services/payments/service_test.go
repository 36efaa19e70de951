package payments

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/models"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/nexi"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testMACKey = "dr7-test-mac-key"

// fakeGateway answers relay calls with scripted replies and counts calls
type fakeGateway struct {
	mu      sync.Mutex
	verify  func(req nexi.VerifyOTPRequest) (*nexi.Response, error)
	resend  func(req nexi.ResendOTPRequest) (*nexi.Response, error)
	refund  func(req nexi.RefundRequest) (*nexi.Response, error)
	calls   int
	refunds []nexi.RefundRequest
}

func (g *fakeGateway) VerifyOTP(ctx context.Context, req nexi.VerifyOTPRequest) (*nexi.Response, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return g.verify(req)
}

func (g *fakeGateway) ResendOTP(ctx context.Context, req nexi.ResendOTPRequest) (*nexi.Response, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return g.resend(req)
}

func (g *fakeGateway) Refund(ctx context.Context, req nexi.RefundRequest) (*nexi.Response, error) {
	g.mu.Lock()
	g.calls++
	g.refunds = append(g.refunds, req)
	g.mu.Unlock()
	return g.refund(req)
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// recordingNotifier keeps every event it receives
type recordingNotifier struct {
	mu        sync.Mutex
	confirmed []PaymentConfirmedEvent
	refunded  []RefundProcessedEvent
}

func (n *recordingNotifier) PaymentConfirmed(ctx context.Context, ev PaymentConfirmedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, ev)
	return nil
}

func (n *recordingNotifier) RefundProcessed(ctx context.Context, ev RefundProcessedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refunded = append(n.refunded, ev)
	return nil
}

// gatewayReply signs fields with key and parses them the way the client does
func gatewayReply(t *testing.T, key string, fields map[string]string) *nexi.Response {
	t.Helper()
	nexi.NewSigner(key).Sign(fields)
	form := url.Values{}
	for k, v := range fields {
		form.Set(k, v)
	}
	resp, err := nexi.ParseResponse([]byte(form.Encode()), nexi.NewSigner(testMACKey))
	require.NoError(t, err)
	return resp
}

func approved(t *testing.T, amount string) *nexi.Response {
	return gatewayReply(t, testMACKey, map[string]string{
		"esito": "OK", "codiceEsito": "0", "codAut": "A1B2C3", "importo": amount, "divisa": "EUR",
	})
}

func declined(t *testing.T, code string) *nexi.Response {
	return gatewayReply(t, testMACKey, map[string]string{
		"esito": "KO", "codiceEsito": code, "messaggio": "operazione rifiutata",
	})
}

type testEnv struct {
	db       *gorm.DB
	svc      *Service
	gateway  *fakeGateway
	notifier *recordingNotifier
	locker   *LocalLocker
	user     models.User
	admin    models.Admin
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir, err := os.MkdirTemp("", "payments-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	db, err := gorm.Open(sqlite.Open(filepath.Join(dir, "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Admin{}, &models.Booking{},
		&models.Payment{}, &models.RefundRequest{}, &models.PaymentAuditLog{},
	))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	user := models.User{Email: "cliente@example.com", FirstName: "Marco", LastName: "Rossi"}
	require.NoError(t, db.Create(&user).Error)
	admin := models.Admin{Email: "ops@dr7empire.com", IsActive: true}
	require.NoError(t, db.Create(&admin).Error)

	gw := &fakeGateway{}
	gw.verify = func(nexi.VerifyOTPRequest) (*nexi.Response, error) { return approved(t, "15000"), nil }
	gw.resend = func(nexi.ResendOTPRequest) (*nexi.Response, error) { return approved(t, ""), nil }
	gw.refund = func(req nexi.RefundRequest) (*nexi.Response, error) {
		return gatewayReply(t, testMACKey, map[string]string{"esito": "OK", "codiceEsito": "0", "idOperazione": "RF-1"}), nil
	}

	notifier := &recordingNotifier{}
	locker := NewLocalLocker()
	svc := NewService(db, gw, locker, notifier, Settings{
		MaxVerifyAttempts: 3,
		ResendCooldown:    30 * time.Second,
		LockTTL:           5 * time.Second,
		OTPWindow:         300 * time.Second,
	}, zap.NewNop())

	return &testEnv{db: db, svc: svc, gateway: gw, notifier: notifier, locker: locker, user: user, admin: admin}
}

func (e *testEnv) userActor() Actor  { return Actor{ID: e.user.ID, Role: RoleUser} }
func (e *testEnv) adminActor() Actor { return Actor{ID: e.admin.ID, Role: RoleAdmin} }

// seedPendingPayment creates the 150.00 EUR booking used across tests
func (e *testEnv) seedPendingPayment(t *testing.T) (*models.Booking, *models.Payment) {
	t.Helper()
	booking, err := e.svc.CreateBooking(context.Background(), CreateBookingInput{
		ItemKind:      "car",
		ItemName:      "Lamborghini Huracan",
		StartDate:     time.Now().Add(24 * time.Hour),
		EndDate:       time.Now().Add(72 * time.Hour),
		TotalPrice:    15000,
		Currency:      "eur",
		Details:       map[string]interface{}{"pickup": "Cagliari"},
		CustomerName:  "Marco Rossi",
		CustomerEmail: "cliente@example.com",
		Actor:         e.userActor(),
	})
	require.NoError(t, err)

	payment, err := e.svc.InitiatePayment(context.Background(), e.userActor(), booking.ID)
	require.NoError(t, err)
	return booking, payment
}

// seedCompletedPayment verifies a pending payment so it can be refunded
func (e *testEnv) seedCompletedPayment(t *testing.T) (*models.Booking, *models.Payment) {
	t.Helper()
	booking, payment := e.seedPendingPayment(t)
	res, err := e.svc.VerifyOTP(context.Background(), e.verifyInput(booking, payment, "123456"))
	require.NoError(t, err)
	require.True(t, res.Success)
	return booking, e.reloadPayment(t, payment.ID)
}

func (e *testEnv) verifyInput(b *models.Booking, p *models.Payment, otp string) VerifyInput {
	return VerifyInput{
		TransactionID: p.TransactionID,
		OrderID:       uintString(b.ID),
		OTP:           otp,
		Actor:         e.userActor(),
	}
}

func (e *testEnv) reloadPayment(t *testing.T, id uint) *models.Payment {
	t.Helper()
	var p models.Payment
	require.NoError(t, e.db.First(&p, id).Error)
	return &p
}

func (e *testEnv) reloadBooking(t *testing.T, id uint) *models.Booking {
	t.Helper()
	var b models.Booking
	require.NoError(t, e.db.First(&b, id).Error)
	return &b
}

func (e *testEnv) auditCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&models.PaymentAuditLog{}).Count(&n).Error)
	return n
}

func (e *testEnv) lastAudit(t *testing.T) models.PaymentAuditLog {
	t.Helper()
	var log models.PaymentAuditLog
	require.NoError(t, e.db.Order("id DESC").First(&log).Error)
	return log
}

func uintString(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
