package checkout

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cryphlabs/checkout-api/internal/common"
	"github.com/cryphlabs/checkout-api/internal/gateway"
	"github.com/cryphlabs/checkout-api/internal/obs"
	"github.com/cryphlabs/checkout-api/internal/store"
)

// Gateway abstracts the payment provider operations the orchestrator needs.
type Gateway interface {
	CreateCustomer(ctx context.Context, in gateway.CustomerInput) (gateway.Customer, error)
	CreatePayment(ctx context.Context, req gateway.PaymentRequest) (gateway.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (gateway.Payment, error)
	PollPixQrCode(ctx context.Context, paymentID string) (gateway.PixQrCode, error)
	PayWithCreditCard(ctx context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error)
}

// Store abstracts the persistence operations the orchestrator needs.
type Store interface {
	CreateCustomer(ctx context.Context, c *store.Customer) error
	MarkCustomerIncomplete(ctx context.Context, id uuid.UUID) error
	CreatePayment(ctx context.Context, p *store.Payment) error
	UpdatePaymentByID(ctx context.Context, id uuid.UUID, patch store.PaymentPatch) error
	UpdatePaymentByProviderID(ctx context.Context, asaasID string, patch store.PaymentPatch) (*store.Payment, error)
	GetPaymentByID(ctx context.Context, id uuid.UUID) (*store.Payment, error)
	ListPayments(ctx context.Context) ([]store.Payment, error)
}

// Service is the payment orchestrator: it composes gateway calls and store
// writes into one logical "create a payment" operation.
type Service struct {
	Store   Store
	Gateway Gateway
	// Deadline is the due-date offset applied to every payment.
	Deadline time.Duration
	Log      zerolog.Logger
}

// CreateInput is a validated checkout submission.
type CreateInput struct {
	Name        string
	Email       string
	CpfCnpj     string
	Phone       string
	BillingType store.BillingType
	Amount      decimal.Decimal
	Description string
}

// PixData is the payable PIX artifact returned to the client.
type PixData struct {
	EncodedImage string `json:"encodedImage"`
	Payload      string `json:"payload"`
}

// CreateResult carries the outcome of a checkout submission. PixError is set
// when the payment shell exists but the QR fetch failed; callers render that
// as a partial success rather than losing the payment reference.
type CreateResult struct {
	Payment            *store.Payment
	ProviderPaymentID  string
	ProviderCustomerID string
	PixData            *PixData
	PixError           error
	BankSlipURL        string
	InvoiceURL         string
	DueDate            string
}

// Create runs the end-to-end checkout sequence: local customer, remote
// customer, remote payment, local payment, then the billing-method branch.
func (s *Service) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	if s == nil || s.Store == nil || s.Gateway == nil {
		return nil, errors.New("checkout service not configured")
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}

	result := "error"
	defer func() {
		if obs.PaymentCreateTotal != nil {
			obs.PaymentCreateTotal.WithLabelValues(string(in.BillingType), result).Inc()
		}
	}()

	customer := &store.Customer{
		Name:    strings.TrimSpace(in.Name),
		Email:   strings.TrimSpace(in.Email),
		CpfCnpj: strings.TrimSpace(in.CpfCnpj),
		Phone:   strings.TrimSpace(in.Phone),
	}
	if err := s.Store.CreateCustomer(ctx, customer); err != nil {
		return nil, err
	}

	remoteCustomer, err := s.Gateway.CreateCustomer(ctx, gateway.CustomerInput{
		Name:    customer.Name,
		Email:   customer.Email,
		CpfCnpj: customer.CpfCnpj,
		Phone:   customer.Phone,
	})
	if err != nil {
		// Compensating action: the local row has no provider-side
		// counterpart, flag it for later reconciliation.
		if markErr := s.Store.MarkCustomerIncomplete(ctx, customer.ID); markErr != nil {
			s.Log.Error().Err(markErr).Str("customer_id", customer.ID.String()).Msg("mark customer incomplete")
		}
		return nil, asGatewayError(err)
	}

	dueDate := time.Now().Add(s.deadline())
	remotePayment, err := s.Gateway.CreatePayment(ctx, gateway.PaymentRequest{
		Customer:          remoteCustomer.ID,
		BillingType:       string(in.BillingType),
		Value:             in.Amount,
		DueDate:           dueDate,
		Description:       in.Description,
		ExternalReference: customer.ID.String(),
	})
	if err != nil {
		return nil, asGatewayError(err)
	}

	payment := &store.Payment{
		CustomerID:  customer.ID,
		Amount:      in.Amount,
		BillingType: in.BillingType,
		Status:      store.StatusPending,
		AsaasID:     remotePayment.ID,
		ExpiresAt:   &dueDate,
	}
	if err := s.Store.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}

	s.Log.Info().
		Str("payment_id", payment.ID.String()).
		Str("asaas_id", remotePayment.ID).
		Str("billing_type", string(in.BillingType)).
		Str("amount", in.Amount.StringFixed(2)).
		Msg("payment created")

	out := &CreateResult{
		Payment:            payment,
		ProviderPaymentID:  remotePayment.ID,
		ProviderCustomerID: remoteCustomer.ID,
	}

	switch in.BillingType {
	case store.BillingPix:
		qr, err := s.Gateway.PollPixQrCode(ctx, remotePayment.ID)
		if err != nil {
			// Degrade to partial success: the payment shell exists,
			// the client keeps its reference even without a QR code.
			s.Log.Warn().Err(err).Str("asaas_id", remotePayment.ID).Msg("pix qr code unavailable")
			out.PixError = err
			result = "partial"
			return out, nil
		}
		patch := store.PaymentPatch{PixCode: &qr.Payload, PixQrCode: &qr.EncodedImage}
		if err := s.Store.UpdatePaymentByID(ctx, payment.ID, patch); err != nil {
			return nil, err
		}
		payment.PixCode = qr.Payload
		payment.PixQrCode = qr.EncodedImage
		out.PixData = &PixData{EncodedImage: qr.EncodedImage, Payload: qr.Payload}
	case store.BillingCreditCard:
		// Card data is collected in a follow-up charge step once the
		// payment shell exists.
	default:
		out.BankSlipURL = remotePayment.BankSlipURL
		out.InvoiceURL = remotePayment.InvoiceURL
		out.DueDate = remotePayment.DueDate
	}

	result = "success"
	return out, nil
}

// ChargeInput is the follow-up card charge for a CREDIT_CARD payment shell.
type ChargeInput struct {
	ProviderPaymentID  string
	ProviderCustomerID string
	Card               gateway.CreditCard
	Installments       int
	Email              string
	CpfCnpj            string
	Phone              string
	RemoteIP           string
}

// ChargeCard submits card data for an existing payment and records the
// provider's verdict on the local row matched by provider id.
func (s *Service) ChargeCard(ctx context.Context, in ChargeInput) (string, error) {
	if s == nil || s.Store == nil || s.Gateway == nil {
		return "", errors.New("checkout service not configured")
	}
	if strings.TrimSpace(in.ProviderPaymentID) == "" {
		return "", common.ValidationError("paymentId is required")
	}
	if strings.TrimSpace(in.ProviderCustomerID) == "" {
		return "", common.ValidationError("customerId is required")
	}
	if strings.TrimSpace(in.Card.Number) == "" || strings.TrimSpace(in.Card.HolderName) == "" {
		return "", common.ValidationError("credit card details are required")
	}
	installments := in.Installments
	if installments <= 0 {
		installments = 1
	}

	result := "error"
	defer func() {
		if obs.CardChargeTotal != nil {
			obs.CardChargeTotal.WithLabelValues(result).Inc()
		}
	}()

	charge, err := s.Gateway.PayWithCreditCard(ctx, gateway.ChargeRequest{
		PaymentID:  in.ProviderPaymentID,
		Customer:   in.ProviderCustomerID,
		CreditCard: in.Card,
		HolderInfo: gateway.HolderInfo{
			Name:          in.Card.HolderName,
			Email:         strings.TrimSpace(in.Email),
			CpfCnpj:       common.Digits(in.CpfCnpj),
			PostalCode:    "00000000",
			AddressNumber: "000",
			Phone:         common.Digits(in.Phone),
		},
		InstallmentCount: installments,
		RemoteIP:         in.RemoteIP,
	})
	if err != nil {
		return "", asGatewayError(err)
	}

	if _, err := s.Store.UpdatePaymentByProviderID(ctx, in.ProviderPaymentID, store.PaymentPatch{Status: &charge.Status}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", common.NotFoundError("payment not found")
		}
		return "", err
	}

	s.Log.Info().
		Str("asaas_id", in.ProviderPaymentID).
		Str("status", charge.Status).
		Int("installments", installments).
		Msg("card charged")

	result = "success"
	return charge.Status, nil
}

// GetPayment returns a stored payment. Rows still marked PENDING are
// re-checked against the provider on demand, covering the window between a
// settled charge and its webhook delivery. A provider failure falls back to
// the stored row.
func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (*store.Payment, error) {
	payment, err := s.Store.GetPaymentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.Status != store.StatusPending || payment.AsaasID == "" {
		return payment, nil
	}

	remote, err := s.Gateway.GetPayment(ctx, payment.AsaasID)
	if err != nil {
		s.Log.Warn().Err(err).Str("asaas_id", payment.AsaasID).Msg("payment status refresh failed")
		return payment, nil
	}
	if remote.Status == "" || remote.Status == payment.Status {
		return payment, nil
	}

	if err := s.Store.UpdatePaymentByID(ctx, payment.ID, store.PaymentPatch{Status: &remote.Status}); err != nil {
		return nil, err
	}
	payment.Status = remote.Status
	return payment, nil
}

func (s *Service) deadline() time.Duration {
	if s.Deadline <= 0 {
		return 24 * time.Hour
	}
	return s.Deadline
}

func validateInput(in CreateInput) error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return common.ValidationError("name is required")
	case strings.TrimSpace(in.Email) == "":
		return common.ValidationError("email is required")
	case strings.TrimSpace(in.CpfCnpj) == "":
		return common.ValidationError("cpfCnpj is required")
	case strings.TrimSpace(in.Phone) == "":
		return common.ValidationError("phone is required")
	case in.BillingType == "":
		return common.ValidationError("paymentMethod is required")
	case !in.Amount.IsPositive():
		return common.ValidationError("amount must be positive")
	}
	return nil
}

func asGatewayError(err error) error {
	if gateway.IsError(err) {
		return common.NewAppError(common.CodeGateway, err.Error(), http.StatusInternalServerError, err)
	}
	return err
}
