package challenge

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls challenge cookie signing.
type Config struct {
	HMACKey string        `env:"KEYFOLD_CHALLENGE_HMAC_KEY"`
	TTL     time.Duration `env:"KEYFOLD_CHALLENGE_TTL" envDefault:"2m"`
}

// LoadConfigFromEnv reads cookie signing configuration.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse challenge env: %w", err)
	}
	if strings.TrimSpace(cfg.HMACKey) == "" {
		return Config{}, fmt.Errorf("KEYFOLD_CHALLENGE_HMAC_KEY is required")
	}
	return cfg, nil
}

// Codec builds the signing codec from this configuration.
func (c Config) Codec(now func() time.Time) (*Codec, error) {
	key, err := hex.DecodeString(strings.TrimSpace(c.HMACKey))
	if err != nil {
		return nil, fmt.Errorf("decode challenge hmac key: %w", err)
	}
	return NewCodec(key, c.TTL, now)
}
