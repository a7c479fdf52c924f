package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cryphlabs/checkout-api/internal/membership"
	"github.com/cryphlabs/checkout-api/internal/store"
)

type stubStore struct {
	payments map[string]*store.Payment
	patches  []store.PaymentPatch
}

func newStubStore(asaasIDs ...string) *stubStore {
	s := &stubStore{payments: map[string]*store.Payment{}}
	for _, id := range asaasIDs {
		s.payments[id] = &store.Payment{
			ID:         uuid.New(),
			CustomerID: uuid.New(),
			AsaasID:    id,
			Status:     store.StatusPending,
		}
	}
	return s
}

func (s *stubStore) UpdatePaymentByProviderID(_ context.Context, asaasID string, patch store.PaymentPatch) (*store.Payment, error) {
	p, ok := s.payments[asaasID]
	if !ok {
		return nil, store.ErrNotFound
	}
	s.patches = append(s.patches, patch)
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.WebhookData != nil {
		p.WebhookData = patch.WebhookData
	}
	return p, nil
}

type stubNotifier struct {
	updates []membership.MemberUpdate
	err     error
}

func (n *stubNotifier) UpdateMemberStatus(_ context.Context, u membership.MemberUpdate) error {
	n.updates = append(n.updates, u)
	return n.err
}

func newReceiver(st *stubStore, n membership.Notifier) *Receiver {
	return &Receiver{Store: st, Token: "whsec_test", Membership: n, Log: zerolog.Nop()}
}

func deliver(t *testing.T, rc *Receiver, signature, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(body))
	if signature != "" {
		req.Header.Set("asaas-signature", signature)
	}
	rec := httptest.NewRecorder()
	rc.Handle(rec, req)
	return rec
}

func TestWebhookAppliesStatus(t *testing.T) {
	st := newStubStore("pay_123")
	notifier := &stubNotifier{}
	rc := newReceiver(st, notifier)

	body := `{"event":"PAYMENT_RECEIVED","payment":{"id":"pay_123","status":"RECEIVED"}}`
	rec := deliver(t, rc, "whsec_test", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success   bool   `json:"success"`
		PaymentID string `json:"paymentId"`
		Status    string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, st.payments["pay_123"].ID.String(), resp.PaymentID)
	require.Equal(t, "RECEIVED", resp.Status)

	require.Equal(t, "RECEIVED", st.payments["pay_123"].Status)
	require.JSONEq(t, body, string(st.payments["pay_123"].WebhookData))

	require.Len(t, notifier.updates, 1)
	require.Equal(t, "RECEIVED", notifier.updates[0].Status)
	require.True(t, notifier.updates[0].Active)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	st := newStubStore("pay_123")
	rc := newReceiver(st, nil)

	body := `{"event":"PAYMENT_RECEIVED","payment":{"id":"pay_123","status":"RECEIVED"}}`

	rec := deliver(t, rc, "wrong", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = deliver(t, rc, "", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Unauthorized deliveries never touch the stored payment.
	require.Equal(t, store.StatusPending, st.payments["pay_123"].Status)
	require.Empty(t, st.patches)
}

func TestWebhookUnknownPayment(t *testing.T) {
	rc := newReceiver(newStubStore(), nil)

	body := `{"event":"PAYMENT_CONFIRMED","payment":{"id":"pay_ghost","status":"CONFIRMED"}}`
	rec := deliver(t, rc, "whsec_test", body)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookMalformedPayload(t *testing.T) {
	rc := newReceiver(newStubStore("pay_123"), nil)

	rec := deliver(t, rc, "whsec_test", `{"event":"PAYMENT_RECEIVED"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = deliver(t, rc, "whsec_test", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookLastWriteWins(t *testing.T) {
	st := newStubStore("pay_123")
	rc := newReceiver(st, nil)

	rec := deliver(t, rc, "whsec_test", `{"event":"PAYMENT_CONFIRMED","payment":{"id":"pay_123","status":"CONFIRMED"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// A later delivery overwrites unconditionally, even moving backwards.
	rec = deliver(t, rc, "whsec_test", `{"event":"PAYMENT_OVERDUE","payment":{"id":"pay_123","status":"OVERDUE"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, "OVERDUE", st.payments["pay_123"].Status)
	require.Len(t, st.patches, 2)
}

func TestWebhookMembershipBestEffort(t *testing.T) {
	st := newStubStore("pay_123")
	notifier := &stubNotifier{err: context.DeadlineExceeded}
	rc := newReceiver(st, notifier)

	body := `{"event":"PAYMENT_CONFIRMED","payment":{"id":"pay_123","status":"CONFIRMED"}}`
	rec := deliver(t, rc, "whsec_test", body)

	// A failing membership push does not fail the ack.
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "CONFIRMED", st.payments["pay_123"].Status)
}
