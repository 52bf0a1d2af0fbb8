package commerce

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartType tells a plain checkout cart apart from one that settles a swap.
type CartType string

const (
	CartTypeDefault CartType = "default"
	CartTypeSwap    CartType = "swap"
)

type Cart struct {
	ID                string     `json:"id"`
	Type              CartType   `json:"type"`
	TotalCents        int64      `json:"total_cents"`
	Currency          string     `json:"currency"`
	PaymentProviderID *string    `json:"payment_provider_id,omitempty"`
	PaymentStatus     string     `json:"payment_status"` // pending, authorized
	PaymentAuthorized *time.Time `json:"payment_authorized_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ExpectedAmount is the amount the gateway must report as paid for this cart.
func (c *Cart) ExpectedAmount() decimal.Decimal {
	return decimal.New(c.TotalCents, -2)
}

type Order struct {
	ID            string    `json:"id"`
	CartID        string    `json:"cart_id"`
	OrderNumber   string    `json:"order_number"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	TotalCents    int64     `json:"total_cents"`
	CreatedAt     time.Time `json:"created_at"`
}

type Swap struct {
	ID          string     `json:"id"`
	CartID      string     `json:"cart_id"`
	OrderID     string     `json:"order_id"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// Confirmed reports whether the swap's cart was already completed.
func (s *Swap) Confirmed() bool { return s.ConfirmedAt != nil }

type PaymentCollection struct {
	ID           string     `json:"id"`
	AmountCents  int64      `json:"amount_cents"`
	Currency     string     `json:"currency"`
	Status       string     `json:"status"` // not_paid, awaiting, authorized, canceled
	AuthorizedAt *time.Time `json:"authorized_at,omitempty"`
}

func (p *PaymentCollection) ExpectedAmount() decimal.Decimal {
	return decimal.New(p.AmountCents, -2)
}

func (p *PaymentCollection) Authorized() bool { return p.Status == "authorized" }
