package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// LavaConfig holds configuration for the Lava billing provider.
type LavaConfig struct {
	APIKey    string        `env:"LAVA_API_KEY,required"`
	SecretKey string        `env:"LAVA_SECRET_KEY"`
	OfferID   string        `env:"LAVA_OFFER_ID"`
	BaseURL   string        `env:"LAVA_BASE_URL" envDefault:"https://api.lava.ru"`
	Timeout   time.Duration `env:"LAVA_TIMEOUT" envDefault:"15s"`
}

// LavaGateway implements Gateway for the Lava API.
type LavaGateway struct {
	config LavaConfig
	client *http.Client
}

// NewLavaGateway creates a new Lava billing gateway.
func NewLavaGateway(config LavaConfig) (*LavaGateway, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.lava.ru"
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	return &LavaGateway{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}, nil
}

// lavaInvoiceRequest is the provider's invoice-creation body. The buyer is
// identified through the email field; the provider echoes it back in webhook
// payloads, which is how the original integration carried the Telegram ID.
type lavaInvoiceRequest struct {
	Email       string  `json:"email"`
	OfferID     string  `json:"offerId,omitempty"`
	OrderID     string  `json:"orderId"`
	Currency    string  `json:"currency"`
	Sum         float64 `json:"sum"`
	Periodicity int     `json:"periodicity,omitempty"`
}

type lavaInvoiceResponse struct {
	Data struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	} `json:"data"`
	Error string `json:"error"`
}

// CreateInvoice creates a hosted payment invoice in Lava.
func (g *LavaGateway) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	if req.UserID == 0 {
		return nil, fmt.Errorf("%w: user ID is required", ErrGateway)
	}

	body, err := json.Marshal(lavaInvoiceRequest{
		Email:       fmt.Sprintf("%d@t.me", req.UserID),
		OfferID:     req.OfferID,
		OrderID:     req.OrderID.String(),
		Currency:    req.Currency,
		Sum:         float64(req.Amount) / 100,
		Periodicity: req.Periodicity,
	})
	if err != nil {
		return nil, errors.Join(ErrGateway, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.config.BaseURL+"/business/invoice/create", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Join(ErrGateway, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", g.config.APIKey)
	if g.config.SecretKey != "" {
		httpReq.Header.Set("Signature", signBody(g.config.SecretKey, body))
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, errors.Join(ErrGateway, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Join(ErrGateway, err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrGateway, resp.StatusCode)
	}

	var parsed lavaInvoiceResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, errors.Join(ErrGateway, err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrGateway, parsed.Error)
	}
	if parsed.Data.URL == "" {
		return nil, ErrNoPaymentURL
	}

	return &Invoice{
		PaymentURL: parsed.Data.URL,
		PaymentRef: parsed.Data.ID,
	}, nil
}

// signBody computes the HMAC-SHA256 request signature the provider verifies.
func signBody(secret string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
