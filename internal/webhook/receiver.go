// Package webhook receives payment status notifications from the provider
// and applies them to the local payment records.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/cryphlabs/checkout-api/internal/common"
	"github.com/cryphlabs/checkout-api/internal/membership"
	"github.com/cryphlabs/checkout-api/internal/obs"
	"github.com/cryphlabs/checkout-api/internal/store"
)

const signatureHeader = "asaas-signature"

// Store abstracts the persistence the receiver needs.
type Store interface {
	UpdatePaymentByProviderID(ctx context.Context, asaasID string, patch store.PaymentPatch) (*store.Payment, error)
}

// Event is the provider notification envelope. Only the fields the receiver
// acts on are modeled; the raw body is persisted verbatim for audit.
type Event struct {
	Event   string `json:"event"`
	Payment struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"payment"`
}

// Receiver handles inbound provider notifications.
type Receiver struct {
	Store      Store
	Token      string
	Membership membership.Notifier
	Log        zerolog.Logger
}

// settledStatuses trigger a members-area push.
var settledStatuses = map[string]bool{
	"RECEIVED":         true,
	"CONFIRMED":        true,
	"RECEIVED_IN_CASH": true,
}

// Handle processes POST /webhook. Deliveries are applied last-write-wins:
// whatever status arrives most recently overwrites the stored one.
func (rc *Receiver) Handle(w http.ResponseWriter, r *http.Request) {
	result := "error"
	defer func() {
		if obs.WebhookEventTotal != nil {
			obs.WebhookEventTotal.WithLabelValues(result).Inc()
		}
	}()

	sig := r.Header.Get(signatureHeader)
	if rc.Token == "" || subtle.ConstantTimeCompare([]byte(sig), []byte(rc.Token)) != 1 {
		result = "unauthorized"
		common.JSONFailure(w, http.StatusUnauthorized, common.CodeUnauthorized, "invalid webhook signature")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONFailure(w, http.StatusBadRequest, common.CodeValidation, "unreadable body")
		return
	}

	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil || evt.Payment.ID == "" {
		result = "invalid"
		common.JSONFailure(w, http.StatusBadRequest, common.CodeValidation, "malformed webhook payload")
		return
	}

	patch := store.PaymentPatch{
		Status:      &evt.Payment.Status,
		WebhookData: json.RawMessage(body),
	}
	payment, err := rc.Store.UpdatePaymentByProviderID(r.Context(), evt.Payment.ID, patch)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			result = "unknown_payment"
			common.JSONFailure(w, http.StatusNotFound, common.CodeNotFound, "payment not found")
			return
		}
		common.JSONAppError(w, err)
		return
	}

	rc.Log.Info().
		Str("event", evt.Event).
		Str("asaas_id", evt.Payment.ID).
		Str("payment_id", payment.ID.String()).
		Str("status", evt.Payment.Status).
		Msg("webhook applied")

	if rc.Membership != nil && settledStatuses[evt.Payment.Status] {
		update := membership.MemberUpdate{
			PaymentID:  payment.ID.String(),
			CustomerID: payment.CustomerID.String(),
			Status:     evt.Payment.Status,
			Active:     true,
		}
		if err := rc.Membership.UpdateMemberStatus(r.Context(), update); err != nil {
			// Membership delivery is best effort, the ack is not held
			// hostage to a downstream outage.
			rc.Log.Warn().Err(err).Str("payment_id", payment.ID.String()).Msg("membership push failed")
		}
	}

	result = "ok"
	common.JSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"paymentId": payment.ID.String(),
		"status":    evt.Payment.Status,
	})
}
