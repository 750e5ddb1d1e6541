package gateway

import (
	"context"

	"github.com/google/uuid"
)

// Gateway defines the minimal interface for payment provider integrations.
// The provider hosts the checkout page and reports outcomes asynchronously
// via webhook; this side only creates invoices.
type Gateway interface {
	// CreateInvoice creates a payment invoice and returns the hosted
	// checkout URL plus the provider-assigned payment reference.
	CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error)
}

// InvoiceRequest contains the data needed to create an invoice.
type InvoiceRequest struct {
	OrderID     uuid.UUID // our idempotency key for this purchase attempt
	UserID      int64     // Telegram user the invoice is for
	OfferID     string    // provider's product/offer identifier
	Currency    string    // ISO 4217 currency code
	Amount      int64     // amount in the smallest currency unit
	Periodicity int       // billing period in days
}

// Invoice represents a created payment invoice.
type Invoice struct {
	PaymentURL string // hosted checkout URL to present to the user
	PaymentRef string // provider-assigned payment reference
}
