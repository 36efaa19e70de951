package nexi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	verifyOTPPath = "/ecomm/api/paga/otp/verifica"
	resendOTPPath = "/ecomm/api/paga/otp/reinvio"
	refundPath    = "/ecomm/api/bo/storna"

	// gateway replies are small; anything bigger is not a gateway reply
	maxResponseBytes = 64 << 10
)

var (
	// ErrUnreachable wraps transport failures and non-2xx replies. No payment
	// state can be inferred from it.
	ErrUnreachable = errors.New("nexi: gateway unreachable")
	// ErrMalformedResponse is returned when the reply body is not form-encoded
	ErrMalformedResponse = errors.New("nexi: malformed gateway response")
)

// Config configures a Client
type Config struct {
	BaseURL    string
	Alias      string
	MACKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the Nexi OTP and back-office endpoints
type Client struct {
	baseURL string
	alias   string
	signer  Signer
	http    *http.Client
	now     func() time.Time
}

// NewClient validates cfg and builds a Client
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("nexi: base URL is required")
	}
	if cfg.Alias == "" {
		return nil, errors.New("nexi: alias is required")
	}
	if cfg.MACKey == "" {
		return nil, errors.New("nexi: MAC key is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("nexi: invalid base URL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		alias:   cfg.Alias,
		signer:  NewSigner(cfg.MACKey),
		http:    httpClient,
		now:     time.Now,
	}, nil
}

// VerifyOTPRequest asks the gateway to check the one-time code for a transaction
type VerifyOTPRequest struct {
	TransactionID string
	Amount        int64
	Currency      string
	OTP           string
}

// ResendOTPRequest asks the gateway to send a new one-time code
type ResendOTPRequest struct {
	TransactionID string
	Amount        int64
	Currency      string
}

// RefundRequest asks the back office to refund part or all of a capture
type RefundRequest struct {
	TransactionID string
	Amount        int64
	Currency      string
}

// VerifyOTP submits the code the cardholder typed
func (c *Client) VerifyOTP(ctx context.Context, req VerifyOTPRequest) (*Response, error) {
	fields := c.baseFields(req.TransactionID, req.Amount, req.Currency)
	fields["otp"] = req.OTP
	return c.post(ctx, verifyOTPPath, fields)
}

// ResendOTP requests a fresh code for the cardholder
func (c *Client) ResendOTP(ctx context.Context, req ResendOTPRequest) (*Response, error) {
	fields := c.baseFields(req.TransactionID, req.Amount, req.Currency)
	return c.post(ctx, resendOTPPath, fields)
}

// Refund requests a refund of req.Amount against a captured transaction
func (c *Client) Refund(ctx context.Context, req RefundRequest) (*Response, error) {
	fields := c.baseFields(req.TransactionID, req.Amount, req.Currency)
	fields["operazione"] = "refund"
	return c.post(ctx, refundPath, fields)
}

func (c *Client) baseFields(txID string, amount int64, currency string) map[string]string {
	return map[string]string{
		"alias":     c.alias,
		"codTrans":  txID,
		"importo":   strconv.FormatInt(amount, 10),
		"divisa":    currency,
		"timeStamp": strconv.FormatInt(c.now().UnixMilli(), 10),
	}
}

func (c *Client) post(ctx context.Context, path string, fields map[string]string) (*Response, error) {
	c.signer.Sign(fields)

	form := url.Values{}
	for k, v := range fields {
		form.Set(k, v)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("nexi: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnreachable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}

	return ParseResponse(body, c.signer)
}

// Response is a parsed and authenticated gateway reply
type Response struct {
	Fields       map[string]string
	Esito        string
	CodiceEsito  string
	CodAut       string
	Messaggio    string
	IDOperazione string
	Importo      int64
	HasImporto   bool
	MACValid     bool
}

// ParseResponse decodes a form-encoded reply and checks its MAC with signer.
// A reply with a bad MAC is returned with MACValid false, never as an error.
func ParseResponse(body []byte, signer Signer) (*Response, error) {
	values, err := url.ParseQuery(strings.TrimSpace(string(body)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}

	fields := make(map[string]string, len(values))
	for k := range values {
		fields[k] = values.Get(k)
	}

	r := &Response{
		Fields:       fields,
		Esito:        fields["esito"],
		CodiceEsito:  fields["codiceEsito"],
		CodAut:       fields["codAut"],
		Messaggio:    fields["messaggio"],
		IDOperazione: fields["idOperazione"],
		MACValid:     signer.Verify(fields),
	}
	if raw, ok := fields["importo"]; ok && raw != "" {
		amount, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: importo %q", ErrMalformedResponse, raw)
		}
		r.Importo = amount
		r.HasImporto = true
	}
	return r, nil
}

// Approved is true only for an authenticated OK reply with code 0
func (r *Response) Approved() bool {
	return r.MACValid && r.Esito == "OK" && r.CodiceEsito == "0"
}

// Reason classifies a non-approved reply
func (r *Response) Reason() Reason {
	return Classify(r.CodiceEsito)
}
