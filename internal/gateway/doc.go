// Package gateway abstracts invoice creation at the payment provider.
//
// The Gateway interface is deliberately minimal: the provider hosts the
// checkout and reports payment outcomes through its webhook, so the only
// outbound call this service ever makes is "create an invoice for this
// user". LavaGateway is the shipped implementation; the interface keeps the
// lifecycle coordinator testable without network access.
package gateway
