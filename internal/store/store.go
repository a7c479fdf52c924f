package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the relational persistence layer for customers and payments.
type Store struct {
	db *gorm.DB
}

// New wraps a gorm connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the schema.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Customer{}, &Payment{})
}

// CreateCustomer inserts a customer row unconditionally; there is no
// dedup by email or tax id.
func (s *Store) CreateCustomer(ctx context.Context, c *Customer) error {
	return s.db.WithContext(ctx).Create(c).Error
}

// MarkCustomerIncomplete flags a customer whose remote registration failed,
// the compensating action for the local-insert-then-remote-call sequence.
func (s *Store) MarkCustomerIncomplete(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&Customer{}).Where("id = ?", id).Update("incomplete", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreatePayment inserts a payment row. Status defaults to PENDING.
func (s *Store) CreatePayment(ctx context.Context, p *Payment) error {
	return s.db.WithContext(ctx).Create(p).Error
}

// PaymentPatch is a partial update for a payment row. Nil fields are left
// untouched.
type PaymentPatch struct {
	Status      *string
	PixCode     *string
	PixQrCode   *string
	ExpiresAt   *time.Time
	WebhookData json.RawMessage
}

// Changes converts the patch into a column map for the update.
func (p PaymentPatch) Changes() map[string]any {
	changes := map[string]any{}
	if p.Status != nil {
		changes["status"] = *p.Status
	}
	if p.PixCode != nil {
		changes["pix_code"] = *p.PixCode
	}
	if p.PixQrCode != nil {
		changes["pix_qr_code"] = *p.PixQrCode
	}
	if p.ExpiresAt != nil {
		changes["expires_at"] = *p.ExpiresAt
	}
	if p.WebhookData != nil {
		changes["webhook_data"] = p.WebhookData
	}
	return changes
}

// UpdatePaymentByID applies a partial update keyed by internal id.
func (s *Store) UpdatePaymentByID(ctx context.Context, id uuid.UUID, patch PaymentPatch) error {
	changes := patch.Changes()
	if len(changes) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&Payment{}).Where("id = ?", id).Updates(changes)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePaymentByProviderID applies a partial update keyed by the
// provider-assigned id and returns the updated row. The webhook receiver
// depends on this to acknowledge with the local payment id.
func (s *Store) UpdatePaymentByProviderID(ctx context.Context, asaasID string, patch PaymentPatch) (*Payment, error) {
	var payment Payment
	err := s.db.WithContext(ctx).First(&payment, "asaas_id = ?", asaasID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	changes := patch.Changes()
	if len(changes) > 0 {
		if err := s.db.WithContext(ctx).Model(&payment).Updates(changes).Error; err != nil {
			return nil, err
		}
	}
	return &payment, nil
}

// FindPaymentByProviderID looks a payment up by the provider-assigned id.
func (s *Store) FindPaymentByProviderID(ctx context.Context, asaasID string) (*Payment, error) {
	var payment Payment
	err := s.db.WithContext(ctx).First(&payment, "asaas_id = ?", asaasID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByID returns a payment with its owning customer joined.
func (s *Store) GetPaymentByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	var payment Payment
	err := s.db.WithContext(ctx).Preload("Customer").First(&payment, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// ListPayments returns every payment newest-first with customers joined.
func (s *Store) ListPayments(ctx context.Context) ([]Payment, error) {
	var payments []Payment
	err := s.db.WithContext(ctx).Preload("Customer").Order("created_at DESC").Find(&payments).Error
	return payments, err
}
