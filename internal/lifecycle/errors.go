package lifecycle

import "errors"

var (
	// ErrUnknownPaymentRef is returned when a payment event references an
	// invoice this store has no record of. Logged and acknowledged, never
	// fatal: the provider may notify about payments issued before a restart
	// with a fresh store.
	ErrUnknownPaymentRef = errors.New("unknown payment reference")
)
