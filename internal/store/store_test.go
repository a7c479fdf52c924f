package store_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cryphlabs/checkout-api/internal/store"
)

func TestParseBillingType(t *testing.T) {
	for input, want := range map[string]store.BillingType{
		"PIX":           store.BillingPix,
		"pix":           store.BillingPix,
		" credit_card ": store.BillingCreditCard,
		"BOLETO":        store.BillingBoleto,
	} {
		got, ok := store.ParseBillingType(input)
		require.True(t, ok, "input %q", input)
		require.Equal(t, want, got)
	}

	_, ok := store.ParseBillingType("DEBIT")
	require.False(t, ok)
	_, ok = store.ParseBillingType("")
	require.False(t, ok)
}

func TestPaymentDefaultsOnCreate(t *testing.T) {
	p := &store.Payment{}
	require.NoError(t, p.BeforeCreate(&gorm.DB{}))
	require.NotEqual(t, "00000000-0000-0000-0000-000000000000", p.ID.String())
	require.Equal(t, store.StatusPending, p.Status)

	// an explicit status must survive the hook
	p2 := &store.Payment{Status: "CONFIRMED"}
	require.NoError(t, p2.BeforeCreate(&gorm.DB{}))
	require.Equal(t, "CONFIRMED", p2.Status)
}

func TestPaymentPatchChanges(t *testing.T) {
	require.Empty(t, store.PaymentPatch{}.Changes())

	status := "RECEIVED"
	pix := "000201pix"
	img := "aW1n"
	expires := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	raw := json.RawMessage(`{"event":"PAYMENT_RECEIVED"}`)

	changes := store.PaymentPatch{
		Status:      &status,
		PixCode:     &pix,
		PixQrCode:   &img,
		ExpiresAt:   &expires,
		WebhookData: raw,
	}.Changes()

	require.Equal(t, "RECEIVED", changes["status"])
	require.Equal(t, "000201pix", changes["pix_code"])
	require.Equal(t, "aW1n", changes["pix_qr_code"])
	require.Equal(t, expires, changes["expires_at"])
	require.Equal(t, raw, changes["webhook_data"])
	require.Len(t, changes, 5)
}
