// Package tunnel abstracts how the webhook endpoint becomes reachable from
// the payment provider. Deployments behind a proper ingress use the Static
// exposer; alternative providers plug in behind the same interface.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// ErrExpose indicates the public endpoint could not be established.
var ErrExpose = errors.New("failed to expose webhook endpoint")

// Exposer makes a local port reachable from the public internet and
// reports the resulting base URL.
type Exposer interface {
	Expose(ctx context.Context, port int) (publicURL string, err error)
}

// Config selects and parameterizes the exposure strategy.
type Config struct {
	PublicURL string `env:"WEBHOOK_PUBLIC_URL"`
}

// Static is an Exposer for deployments whose ingress already routes a
// public URL to the webhook port. It validates and returns the
// preconfigured URL.
type Static struct {
	publicURL string
}

// NewStatic creates a Static exposer for the given public base URL.
func NewStatic(publicURL string) (*Static, error) {
	u, err := url.Parse(publicURL)
	if err != nil {
		return nil, errors.Join(ErrExpose, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: URL must be http(s), got %q", ErrExpose, publicURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: URL has no host: %q", ErrExpose, publicURL)
	}
	return &Static{publicURL: u.String()}, nil
}

// Expose returns the preconfigured public URL. The port is ignored; the
// ingress in front of the service owns the routing.
func (s *Static) Expose(_ context.Context, _ int) (string, error) {
	return s.publicURL, nil
}
