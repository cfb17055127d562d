package store

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus is the lifecycle state of an order. pending moves to success once and never back.
type OrderStatus string

const (
	OrderPending OrderStatus = "pending"
	OrderSuccess OrderStatus = "success"
)

// Pass is a purchasable ticket tier with its remaining inventory.
type Pass struct {
	ID         int64  `json:"id"`
	Type       string `json:"type"`
	Price      int64  `json:"price"`
	Stock      int32  `json:"stock"`
	RowVersion int64  `json:"row_version"`
}

// Summary returns the public view of the pass.
func (p Pass) Summary() PassSummary {
	return PassSummary{ID: p.ID, Type: p.Type, Price: p.Price}
}

// PassSummary is the pass shape embedded in order listings and purchase responses.
type PassSummary struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Price int64  `json:"price"`
}

// Order records one purchase or upgrade attempt. ExternalPaymentRef holds the
// gateway order id the webhook is matched on; PaymentID is filled on confirmation.
type Order struct {
	ID                 uuid.UUID   `json:"id"`
	UserID             uuid.UUID   `json:"user_id"`
	PassID             int64       `json:"pass_id"`
	ExternalPaymentRef string      `json:"external_payment_ref"`
	PaymentID          string      `json:"payment_id,omitempty"`
	Status             OrderStatus `json:"status"`
	CreatedAt          time.Time   `json:"created_at"`
}

// OrderWithPass is an order joined with the pass it bought.
type OrderWithPass struct {
	Order
	Pass PassSummary `json:"passes"`
}

// NewOrder is the input for creating a pending order.
type NewOrder struct {
	UserID             uuid.UUID
	PassID             int64
	ExternalPaymentRef string
}

// Event is a scheduled happening the passes grant access to.
type Event struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Venue       string     `json:"venue,omitempty"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	IsActive    bool       `json:"is_active"`
}

// Profile holds the attendee details a user maintains.
type Profile struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name,omitempty"`
	Phone string    `json:"phone,omitempty"`
	Org   string    `json:"org,omitempty"`
	Year  string    `json:"year,omitempty"`
}
