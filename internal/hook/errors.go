package hook

import "errors"

var (
	// ErrMalformedPayload indicates the webhook body matched no known
	// provider payload shape.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)
