package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cryphlabs/checkout-api/internal/gateway"
)

func newClient(t *testing.T, srv *httptest.Server) *gateway.Client {
	t.Helper()
	client, err := gateway.New(gateway.Config{
		BaseURL:        srv.URL,
		APIKey:         "key_test",
		Timeout:        2 * time.Second,
		QRPollAttempts: 3,
		QRPollBackoff:  time.Millisecond,
		Logger:         zerolog.Nop(),
	})
	require.NoError(t, err)
	return client
}

func TestCreateCustomerNormalisesAndAuthenticates(t *testing.T) {
	var got map[string]any
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/customers", r.URL.Path)
		header = r.Header.Get("access_token")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "cus_001", "name": got["name"]})
	}))
	defer srv.Close()

	client := newClient(t, srv)
	customer, err := client.CreateCustomer(context.Background(), gateway.CustomerInput{
		Name:    "Ana",
		Email:   "ana@x.com",
		CpfCnpj: "123.456.789-00",
		Phone:   "(11) 99999-8888",
	})
	require.NoError(t, err)
	require.Equal(t, "cus_001", customer.ID)
	require.Equal(t, "key_test", header)
	require.Equal(t, "12345678900", got["cpfCnpj"])
	require.Equal(t, "11999998888", got["phone"])
	require.Equal(t, true, got["notificationDisabled"])
}

func TestCreateCustomerSurfacesProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]string{{"code": "invalid_cpfCnpj", "description": "CPF invalido"}},
		})
	}))
	defer srv.Close()

	client := newClient(t, srv)
	_, err := client.CreateCustomer(context.Background(), gateway.CustomerInput{Name: "Ana"})
	require.Error(t, err)
	require.True(t, gateway.IsError(err))
	require.Contains(t, err.Error(), "CPF invalido")
}

func TestCreatePaymentSendsFixedPointValue(t *testing.T) {
	var raw map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/payments", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "pay_001", "status": "PENDING", "value": 10.5})
	}))
	defer srv.Close()

	client := newClient(t, srv)
	due := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	payment, err := client.CreatePayment(context.Background(), gateway.PaymentRequest{
		Customer:    "cus_001",
		BillingType: "PIX",
		Value:       decimal.RequireFromString("10.50"),
		DueDate:     due,
	})
	require.NoError(t, err)
	require.Equal(t, "pay_001", payment.ID)
	require.Equal(t, "PENDING", payment.Status)
	// value must be a JSON number with two decimal places, never a float64 round trip
	require.Equal(t, "10.50", string(raw["value"]))
	require.Equal(t, `"2026-08-29"`, string(raw["dueDate"]))
}

func TestErrorsInsideSuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]string{{"description": "saldo insuficiente"}},
		})
	}))
	defer srv.Close()

	client := newClient(t, srv)
	_, err := client.CreatePayment(context.Background(), gateway.PaymentRequest{
		Customer: "cus", BillingType: "BOLETO", Value: decimal.New(10, 0), DueDate: time.Now(),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "saldo insuficiente")
}

func TestGetPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/payments/pay_001", r.URL.Path)
		require.Equal(t, "key_test", r.Header.Get("access_token"))
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "pay_001", "status": "CONFIRMED", "billingType": "PIX"})
	}))
	defer srv.Close()

	client := newClient(t, srv)
	payment, err := client.GetPayment(context.Background(), "pay_001")
	require.NoError(t, err)
	require.Equal(t, "pay_001", payment.ID)
	require.Equal(t, "CONFIRMED", payment.Status)
}

func TestPollPixQrCodeRetriesUntilReady(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/payments/pay_001/pixQrCode", r.URL.Path)
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"encodedImage": "aW1n", "payload": "000201pix"})
	}))
	defer srv.Close()

	client := newClient(t, srv)
	qr, err := client.PollPixQrCode(context.Background(), "pay_001")
	require.NoError(t, err)
	require.Equal(t, "aW1n", qr.EncodedImage)
	require.Equal(t, "000201pix", qr.Payload)
	require.Equal(t, int32(3), calls.Load())
}

func TestPollPixQrCodeGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	client := newClient(t, srv)
	_, err := client.PollPixQrCode(context.Background(), "pay_001")
	require.ErrorIs(t, err, gateway.ErrQRNotReady)
	require.Equal(t, int32(3), calls.Load())
}

func TestPayWithCreditCard(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/payments/pay_001/payWithCreditCard", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "CONFIRMED"})
	}))
	defer srv.Close()

	client := newClient(t, srv)
	result, err := client.PayWithCreditCard(context.Background(), gateway.ChargeRequest{
		PaymentID: "pay_001",
		Customer:  "cus_001",
		CreditCard: gateway.CreditCard{
			HolderName: "ANA SILVA", Number: "4111111111111111",
			ExpiryMonth: "08", ExpiryYear: "2030", Ccv: "123",
		},
		HolderInfo:       gateway.HolderInfo{Name: "ANA SILVA", Email: "ana@x.com", CpfCnpj: "12345678900", PostalCode: "00000000", AddressNumber: "000", Phone: "11999998888"},
		InstallmentCount: 3,
		RemoteIP:         "10.0.0.1",
	})
	require.NoError(t, err)
	require.Equal(t, "CONFIRMED", result.Status)
	require.Equal(t, "cus_001", got["customer"])
	require.Equal(t, float64(3), got["installmentCount"])
	require.Equal(t, "10.0.0.1", got["remoteIp"])
}
