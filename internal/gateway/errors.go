package gateway

import "errors"

var (
	// ErrGateway indicates the provider API was unreachable or rejected the
	// request. Surfaced to the purchase requester as "try again later"; the
	// operation is not retried automatically.
	ErrGateway = errors.New("payment gateway request failed")

	// ErrMissingAPIKey is returned when the provider API key is not configured.
	ErrMissingAPIKey = errors.New("payment gateway API key is required")

	// ErrNoPaymentURL is returned when the provider response carries no
	// checkout URL.
	ErrNoPaymentURL = errors.New("no payment URL returned from gateway")
)
