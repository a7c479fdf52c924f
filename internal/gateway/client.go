package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cryphlabs/checkout-api/internal/common"
	"github.com/cryphlabs/checkout-api/internal/obs"
	"github.com/cryphlabs/checkout-api/internal/resilience"
)

// authHeader carries the static API key on every outbound call.
const authHeader = "access_token"

// ErrQRNotReady indicates the provider has not finished generating the PIX
// QR code yet. The poll loop treats it as transient.
var ErrQRNotReady = errors.New("gateway: pix qr code not ready")

// Error is a failed gateway call. Description carries the first
// provider-reported error when the response includes an errors array.
type Error struct {
	Operation   string
	StatusCode  int
	Description string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("gateway: %s: %s", e.Operation, e.Description)
	}
	return fmt.Sprintf("gateway: %s: status %d", e.Operation, e.StatusCode)
}

// IsError reports whether err is a gateway error.
func IsError(err error) bool {
	var target *Error
	return errors.As(err, &target)
}

// Config carries the settings required to construct a Client.
type Config struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	MaxAttempts    int
	QRPollAttempts int
	QRPollBackoff  time.Duration
	Breaker        *resilience.Breaker
	Logger         zerolog.Logger
}

// Client issues authenticated REST calls against the Asaas API.
type Client struct {
	baseURL        string
	apiKey         string
	http           resilience.HTTPClient
	qrPollAttempts int
	qrPollBackoff  time.Duration
	log            zerolog.Logger
}

// New constructs a gateway client. Outbound calls are traced and wrapped with
// the resilience HTTP client so no provider call can hang indefinitely.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("gateway: base url is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gateway: api key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	attempts := cfg.QRPollAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := cfg.QRPollBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Client{
		baseURL: base,
		apiKey:  cfg.APIKey,
		http: resilience.HTTPClient{
			Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
			Breaker:     cfg.Breaker,
			MaxAttempts: cfg.MaxAttempts,
			BaseBackoff: backoff,
			Timeout:     timeout,
		},
		qrPollAttempts: attempts,
		qrPollBackoff:  backoff,
		log:            cfg.Logger,
	}, nil
}

// CustomerInput is the data required to open a customer with the provider.
type CustomerInput struct {
	Name    string
	Email   string
	CpfCnpj string
	Phone   string
}

// Customer is the provider's view of a customer.
type Customer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	CpfCnpj string `json:"cpfCnpj"`
	Phone   string `json:"phone"`
}

// CreditCard holds raw card data submitted to the provider. It is never
// persisted locally.
type CreditCard struct {
	HolderName  string `json:"holderName"`
	Number      string `json:"number"`
	ExpiryMonth string `json:"expiryMonth"`
	ExpiryYear  string `json:"expiryYear"`
	Ccv         string `json:"ccv"`
}

// PaymentRequest creates a payment shell with the provider.
type PaymentRequest struct {
	Customer          string
	BillingType       string
	Value             decimal.Decimal
	DueDate           time.Time
	Description       string
	ExternalReference string
	CreditCard        *CreditCard
}

// Payment is the provider's view of a payment.
type Payment struct {
	ID          string          `json:"id"`
	Customer    string          `json:"customer"`
	BillingType string          `json:"billingType"`
	Value       decimal.Decimal `json:"value"`
	NetValue    decimal.Decimal `json:"netValue"`
	Status      string          `json:"status"`
	DueDate     string          `json:"dueDate"`
	InvoiceURL  string          `json:"invoiceUrl"`
	BankSlipURL string          `json:"bankSlipUrl"`
}

// PixQrCode is the payable PIX artifact: a copy-paste payload plus a base64
// encoded QR image.
type PixQrCode struct {
	EncodedImage   string `json:"encodedImage"`
	Payload        string `json:"payload"`
	ExpirationDate string `json:"expirationDate"`
}

// HolderInfo is the billing information the provider requires alongside raw
// card data.
type HolderInfo struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	CpfCnpj       string `json:"cpfCnpj"`
	PostalCode    string `json:"postalCode"`
	AddressNumber string `json:"addressNumber"`
	Phone         string `json:"phone"`
}

// ChargeRequest charges a previously created payment with card data.
type ChargeRequest struct {
	PaymentID        string
	Customer         string
	CreditCard       CreditCard
	HolderInfo       HolderInfo
	InstallmentCount int
	RemoteIP         string
}

// ChargeResult is the provider's answer to a card charge.
type ChargeResult struct {
	Status string `json:"status"`
}

// CreateCustomer registers a customer with the provider. Tax id and phone are
// normalised to digits before sending.
func (c *Client) CreateCustomer(ctx context.Context, in CustomerInput) (Customer, error) {
	body := map[string]any{
		"name":                 in.Name,
		"email":                in.Email,
		"cpfCnpj":              common.Digits(in.CpfCnpj),
		"phone":                common.Digits(in.Phone),
		"notificationDisabled": true,
	}
	var out Customer
	if err := c.do(ctx, "create_customer", http.MethodPost, "/customers", body, &out); err != nil {
		return Customer{}, err
	}
	return out, nil
}

// CreatePayment opens a payment shell with the provider.
func (c *Client) CreatePayment(ctx context.Context, req PaymentRequest) (Payment, error) {
	body := map[string]any{
		"customer":    req.Customer,
		"billingType": req.BillingType,
		"value":       json.Number(req.Value.StringFixed(2)),
		"dueDate":     req.DueDate.Format("2006-01-02"),
	}
	if req.Description != "" {
		body["description"] = req.Description
	}
	if req.ExternalReference != "" {
		body["externalReference"] = req.ExternalReference
	}
	if req.CreditCard != nil {
		body["creditCard"] = req.CreditCard
	}
	var out Payment
	if err := c.do(ctx, "create_payment", http.MethodPost, "/payments", body, &out); err != nil {
		return Payment{}, err
	}
	return out, nil
}

// GetPayment fetches the provider's current view of a payment.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (Payment, error) {
	var out Payment
	if err := c.do(ctx, "get_payment", http.MethodGet, "/payments/"+paymentID, nil, &out); err != nil {
		return Payment{}, err
	}
	return out, nil
}

// PixQrCode fetches the QR code for a PIX payment. Returns ErrQRNotReady when
// the provider has not generated it yet.
func (c *Client) PixQrCode(ctx context.Context, paymentID string) (PixQrCode, error) {
	var out PixQrCode
	err := c.do(ctx, "pix_qr_code", http.MethodGet, "/payments/"+paymentID+"/pixQrCode", nil, &out)
	if err != nil {
		var gwErr *Error
		if errors.As(err, &gwErr) && gwErr.StatusCode == http.StatusNotFound {
			return PixQrCode{}, ErrQRNotReady
		}
		return PixQrCode{}, err
	}
	if out.Payload == "" || out.EncodedImage == "" {
		return PixQrCode{}, ErrQRNotReady
	}
	return out, nil
}

// PollPixQrCode fetches the QR code with a bounded retry-with-backoff loop.
// The provider generates the code asynchronously, so "not yet ready" is
// expected on the first attempt under load.
func (c *Client) PollPixQrCode(ctx context.Context, paymentID string) (PixQrCode, error) {
	var lastErr error
	for attempt := 1; attempt <= c.qrPollAttempts; attempt++ {
		qr, err := c.PixQrCode(ctx, paymentID)
		if err == nil {
			return qr, nil
		}
		if !errors.Is(err, ErrQRNotReady) {
			return PixQrCode{}, err
		}
		lastErr = err
		if attempt == c.qrPollAttempts {
			break
		}
		c.log.Debug().Str("payment_id", paymentID).Int("attempt", attempt).Msg("pix qr code not ready, backing off")
		timer := time.NewTimer(resilience.Backoff(c.qrPollBackoff, attempt, 0.1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return PixQrCode{}, ctx.Err()
		case <-timer.C:
		}
	}
	return PixQrCode{}, lastErr
}

// PayWithCreditCard charges an existing payment with raw card data.
func (c *Client) PayWithCreditCard(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	body := map[string]any{
		"customer":             req.Customer,
		"creditCard":           req.CreditCard,
		"creditCardHolderInfo": req.HolderInfo,
		"installmentCount":     req.InstallmentCount,
		"remoteIp":             req.RemoteIP,
	}
	var out ChargeResult
	path := "/payments/" + req.PaymentID + "/payWithCreditCard"
	if err := c.do(ctx, "charge_card", http.MethodPost, path, body, &out); err != nil {
		return ChargeResult{}, err
	}
	return out, nil
}

// providerErrors is the error envelope the provider returns on failures, and
// occasionally inside a 200 response.
type providerErrors struct {
	Errors []struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"errors"`
}

func (p providerErrors) first() string {
	if len(p.Errors) == 0 {
		return ""
	}
	return p.Errors[0].Description
}

func (c *Client) do(ctx context.Context, operation, method, path string, body, out any) error {
	start := time.Now()
	err := c.doOnce(ctx, operation, method, path, body, out)
	result := "success"
	if err != nil {
		result = "error"
	}
	if obs.GatewayRequestTotal != nil {
		obs.GatewayRequestTotal.WithLabelValues(operation, result).Inc()
	}
	if obs.GatewayRequestDuration != nil {
		obs.GatewayRequestDuration.WithLabelValues(operation).Observe(obs.DurationMillis(time.Since(start)))
	}
	return err
}

func (c *Client) doOnce(ctx context.Context, operation, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gateway: marshal %s request: %w", operation, err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("gateway: build %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(authHeader, c.apiKey)

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("gateway: %s: %w", operation, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("gateway: read %s response: %w", operation, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope providerErrors
		_ = json.Unmarshal(data, &envelope)
		c.log.Warn().
			Str("operation", operation).
			Int("status", resp.StatusCode).
			Str("description", envelope.first()).
			Msg("gateway call failed")
		return &Error{Operation: operation, StatusCode: resp.StatusCode, Description: envelope.first()}
	}

	// Some provider endpoints report failures inside a 200 body.
	var envelope providerErrors
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Errors) > 0 {
		return &Error{Operation: operation, StatusCode: resp.StatusCode, Description: envelope.first()}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("gateway: decode %s response: %w", operation, err)
		}
	}
	return nil
}
