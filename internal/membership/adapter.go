// Package membership pushes payment outcomes to the members area so access
// is granted or revoked as charges settle.
package membership

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cryphlabs/checkout-api/internal/resilience"
)

// MemberUpdate describes a settled (or reversed) payment for the members area.
type MemberUpdate struct {
	PaymentID  string `json:"paymentId"`
	CustomerID string `json:"customerId"`
	Email      string `json:"email,omitempty"`
	Status     string `json:"status"`
	Active     bool   `json:"active"`
}

// Notifier is implemented by anything that can receive member updates.
type Notifier interface {
	UpdateMemberStatus(ctx context.Context, u MemberUpdate) error
}

// Adapter delivers member updates over HTTP.
type Adapter struct {
	baseURL string
	http    *resilience.HTTPClient
	log     zerolog.Logger
}

func New(baseURL string, log zerolog.Logger) *Adapter {
	return &Adapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &resilience.HTTPClient{
			Client:      &http.Client{},
			BaseBackoff: 200 * time.Millisecond,
			MaxAttempts: 3,
			Timeout:     10 * time.Second,
		},
		log: log,
	}
}

// UpdateMemberStatus posts the update to the members API.
func (a *Adapter) UpdateMemberStatus(ctx context.Context, u MemberUpdate) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/members/payment-status", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("membership update: unexpected status %d", resp.StatusCode)
	}
	a.log.Debug().Str("payment_id", u.PaymentID).Str("status", u.Status).Msg("member status pushed")
	return nil
}

// Nop discards member updates. Used when no members API is configured.
type Nop struct{}

func (Nop) UpdateMemberStatus(context.Context, MemberUpdate) error { return nil }
