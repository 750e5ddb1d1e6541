package offer

import "errors"

var (
	ErrLoadFailed      = errors.New("failed to load offer definition")
	ErrMissingTitle    = errors.New("offer title is required")
	ErrMissingCurrency = errors.New("offer currency is required")
	ErrInvalidPrice    = errors.New("offer price must be positive")
	ErrInvalidPeriod   = errors.New("offer period must be positive")
)
