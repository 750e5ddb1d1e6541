package offer

// Offer describes the single fixed subscription product: one channel, one
// price, one billing period. There are no tiers.
type Offer struct {
	OfferID     string `yaml:"offer_id"`    // gateway's product/offer identifier
	Title       string `yaml:"title"`       // shown on the invoice
	Description string `yaml:"description"` // shown on the invoice
	Currency    string `yaml:"currency"`    // ISO 4217 code
	Price       int64  `yaml:"price"`       // amount in the smallest currency unit
	PeriodDays  int    `yaml:"period_days"` // subscription length granted per payment
}

// Validate checks the offer is usable for invoicing.
func (o Offer) Validate() error {
	if o.Title == "" {
		return ErrMissingTitle
	}
	if o.Currency == "" {
		return ErrMissingCurrency
	}
	if o.Price <= 0 {
		return ErrInvalidPrice
	}
	if o.PeriodDays <= 0 {
		return ErrInvalidPeriod
	}
	return nil
}
