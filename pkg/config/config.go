package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var dotenvOnce sync.Once

// Load parses environment variables into the provided configuration struct
// based on `env` field tags. On the first call it also loads a .env file if
// one is present; a missing .env file is not an error.
//
// Example:
//
//	type Config struct {
//		Addr     string        `env:"WEBHOOK_ADDR" envDefault:":8443"`
//		Interval time.Duration `env:"SWEEP_INTERVAL" envDefault:"24h"`
//		Token    string        `env:"TELEGRAM_BOT_TOKEN,required"`
//	}
//
//	var cfg Config
//	if err := config.Load(&cfg); err != nil { ... }
func Load[T any](v *T) error {
	dotenvOnce.Do(func() {
		_ = godotenv.Load()
	})
	if v == nil {
		return ErrNilPointer
	}
	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	return nil
}

// MustLoad works like Load but panics if configuration loading fails. Use for
// configuration the process cannot start without.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}
