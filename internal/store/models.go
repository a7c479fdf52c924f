package store

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BillingType enumerates the supported billing methods.
type BillingType string

const (
	BillingPix        BillingType = "PIX"
	BillingCreditCard BillingType = "CREDIT_CARD"
	BillingBoleto     BillingType = "BOLETO"
)

// ParseBillingType validates a client-supplied billing method.
func ParseBillingType(s string) (BillingType, bool) {
	switch BillingType(strings.ToUpper(strings.TrimSpace(s))) {
	case BillingPix:
		return BillingPix, true
	case BillingCreditCard:
		return BillingCreditCard, true
	case BillingBoleto:
		return BillingBoleto, true
	default:
		return "", false
	}
}

// StatusPending is the only status this service assigns itself. Every other
// status value is provider-defined and stored verbatim as reported.
const StatusPending = "PENDING"

// Customer is a checkout customer. One row is created per submission; rows
// whose remote registration failed are flagged incomplete for later
// reconciliation instead of being silently orphaned.
type Customer struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name       string    `gorm:"size:140" json:"name"`
	Email      string    `gorm:"size:140" json:"email"`
	CpfCnpj    string    `gorm:"size:30" json:"cpfCnpj"`
	Phone      string    `gorm:"size:60" json:"phone"`
	Incomplete bool      `gorm:"not null;default:false" json:"incomplete"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// BeforeCreate assigns the immutable internal id.
func (c *Customer) BeforeCreate(_ *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Payment is a local payment record. AsaasID is the provider-assigned id and
// the join key for webhook reconciliation; it must be unique.
type Payment struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CustomerID  uuid.UUID       `gorm:"type:uuid;index;not null" json:"customerId"`
	Customer    *Customer       `json:"customer,omitempty"`
	Amount      decimal.Decimal `gorm:"type:decimal(12,2)" json:"amount"`
	BillingType BillingType     `gorm:"type:varchar(20);index" json:"paymentMethod"`
	Status      string          `gorm:"size:60;index" json:"status"`
	AsaasID     string          `gorm:"size:140;uniqueIndex" json:"asaasId"`
	PixCode     string          `gorm:"type:text" json:"pixCode,omitempty"`
	PixQrCode   string          `gorm:"type:text" json:"pixQrCode,omitempty"`
	ExpiresAt   *time.Time      `json:"expiresAt,omitempty"`
	WebhookData json.RawMessage `gorm:"type:jsonb" json:"webhookData,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// BeforeCreate assigns the internal id and the initial status.
func (p *Payment) BeforeCreate(_ *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	return nil
}
