package checkout

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cryphlabs/checkout-api/internal/common"
	"github.com/cryphlabs/checkout-api/internal/gateway"
	"github.com/cryphlabs/checkout-api/internal/store"
)

// Handler exposes the checkout HTTP surface.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc, Validate: validator.New()}
}

type createRequest struct {
	Name          string          `json:"name" validate:"required"`
	Email         string          `json:"email" validate:"required,email"`
	CpfCnpj       string          `json:"cpfCnpj" validate:"required"`
	Phone         string          `json:"phone" validate:"required"`
	PaymentMethod string          `json:"paymentMethod" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
}

// Create handles POST /payments.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONFailure(w, http.StatusBadRequest, common.CodeValidation, "invalid request body")
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONFailure(w, http.StatusBadRequest, common.CodeValidation, err.Error())
		return
	}

	billingType, ok := store.ParseBillingType(req.PaymentMethod)
	if !ok {
		common.JSONFailure(w, http.StatusBadRequest, common.CodeValidation, "unsupported paymentMethod")
		return
	}

	res, err := h.Svc.Create(r.Context(), CreateInput{
		Name:        req.Name,
		Email:       req.Email,
		CpfCnpj:     req.CpfCnpj,
		Phone:       req.Phone,
		BillingType: billingType,
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		common.JSONAppError(w, err)
		return
	}

	switch billingType {
	case store.BillingPix:
		if res.PixError != nil {
			common.JSON(w, http.StatusOK, map[string]any{
				"success": false,
				"error":   "failed to generate PIX QR code",
				"payment": map[string]any{
					"id":     res.ProviderPaymentID,
					"status": res.Payment.Status,
				},
			})
			return
		}
		common.JSON(w, http.StatusOK, map[string]any{
			"success": true,
			"pixData": res.PixData,
		})
	case store.BillingCreditCard:
		common.JSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"paymentId":  res.ProviderPaymentID,
			"customerId": res.ProviderCustomerID,
		})
	default:
		common.JSON(w, http.StatusOK, map[string]any{
			"success":     true,
			"bankSlipUrl": res.BankSlipURL,
			"invoiceUrl":  res.InvoiceURL,
			"dueDate":     res.DueDate,
		})
	}
}

type cardPayload struct {
	HolderName  string `json:"holderName" validate:"required"`
	Number      string `json:"number" validate:"required"`
	ExpiryMonth string `json:"expiryMonth" validate:"required"`
	ExpiryYear  string `json:"expiryYear" validate:"required"`
	Ccv         string `json:"ccv" validate:"required"`
}

type chargeCardRequest struct {
	PaymentID    string      `json:"paymentId"`
	CustomerID   string      `json:"customerId" validate:"required"`
	CreditCard   cardPayload `json:"creditCard" validate:"required"`
	Installments int         `json:"installments"`
	Email        string      `json:"email" validate:"required,email"`
	CpfCnpj      string      `json:"cpfCnpj" validate:"required"`
	Phone        string      `json:"phone"`
}

// ChargeCard handles POST /payments/{id}/charge-card. The path id is the
// provider payment id; a paymentId in the body takes precedence when present.
func (h *Handler) ChargeCard(w http.ResponseWriter, r *http.Request) {
	var req chargeCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONFailure(w, http.StatusBadRequest, common.CodeValidation, "invalid request body")
		return
	}
	if req.PaymentID == "" {
		req.PaymentID = chi.URLParam(r, "id")
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONFailure(w, http.StatusBadRequest, common.CodeValidation, err.Error())
		return
	}

	status, err := h.Svc.ChargeCard(r.Context(), ChargeInput{
		ProviderPaymentID:  req.PaymentID,
		ProviderCustomerID: req.CustomerID,
		Card: gateway.CreditCard{
			HolderName:  req.CreditCard.HolderName,
			Number:      req.CreditCard.Number,
			ExpiryMonth: req.CreditCard.ExpiryMonth,
			ExpiryYear:  req.CreditCard.ExpiryYear,
			Ccv:         req.CreditCard.Ccv,
		},
		Installments: req.Installments,
		Email:        req.Email,
		CpfCnpj:      req.CpfCnpj,
		Phone:        req.Phone,
		RemoteIP:     common.ClientIP(r),
	})
	if err != nil {
		common.JSONAppError(w, err)
		return
	}

	common.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  status,
	})
}

// Get handles GET /payments/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONFailure(w, http.StatusBadRequest, common.CodeValidation, "invalid payment id")
		return
	}
	payment, err := h.Svc.GetPayment(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			common.JSONFailure(w, http.StatusNotFound, common.CodeNotFound, "payment not found")
			return
		}
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, payment)
}

// List handles GET /payments.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	payments, err := h.Svc.Store.ListPayments(r.Context())
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, payments)
}
