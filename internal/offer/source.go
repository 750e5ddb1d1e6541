package offer

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

// Config selects where the offer definition comes from. When the YAML file
// exists it wins; otherwise the env-provided fields are used, matching the
// original deployment that configured everything through the environment.
type Config struct {
	FilePath string `env:"OFFER_FILE" envDefault:"offer.yaml"`

	OfferID     string `env:"OFFER_ID"`
	Title       string `env:"OFFER_TITLE" envDefault:"Private channel subscription"`
	Description string `env:"OFFER_DESCRIPTION" envDefault:"30 days of access to the private channel."`
	Currency    string `env:"CURRENCY" envDefault:"RUB"`
	Price       int64  `env:"PRICE" envDefault:"99000"`
	PeriodDays  int    `env:"PERIOD_DAYS" envDefault:"30"`
}

// Load resolves the offer from the configured file or env fallbacks.
func Load(cfg Config) (Offer, error) {
	if cfg.FilePath != "" {
		data, err := os.ReadFile(cfg.FilePath)
		switch {
		case err == nil:
			return fromYAML(data)
		case !os.IsNotExist(err):
			return Offer{}, errors.Join(ErrLoadFailed, err)
		}
	}

	o := Offer{
		OfferID:     cfg.OfferID,
		Title:       cfg.Title,
		Description: cfg.Description,
		Currency:    cfg.Currency,
		Price:       cfg.Price,
		PeriodDays:  cfg.PeriodDays,
	}
	if err := o.Validate(); err != nil {
		return Offer{}, err
	}
	return o, nil
}

func fromYAML(data []byte) (Offer, error) {
	var o Offer
	if err := yaml.Unmarshal(data, &o); err != nil {
		return Offer{}, errors.Join(ErrLoadFailed, err)
	}
	if o.PeriodDays == 0 {
		o.PeriodDays = 30
	}
	if err := o.Validate(); err != nil {
		return Offer{}, err
	}
	return o, nil
}
