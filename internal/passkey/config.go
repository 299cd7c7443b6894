package passkey

import (
	"fmt"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/keyfold/keyfold/internal/platform/config"
)

// Config controls the relying party identity. Ceremony options and
// verification must both see the same RP id and origins or verification
// fails.
type Config struct {
	RPDisplayName string   `env:"KEYFOLD_RP_DISPLAY_NAME" envDefault:"Keyfold"`
	RPID          string   `env:"KEYFOLD_RP_ID"           envDefault:"localhost"`
	RPOrigins     []string `env:"KEYFOLD_RP_ORIGINS"      envSeparator:","`
}

// LoadConfigFromEnv returns relying party configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{
			RPDisplayName: "Keyfold",
			RPID:          "localhost",
			RPOrigins:     []string{"http://localhost:8080"},
		}
	}
	if len(cfg.RPOrigins) == 0 {
		cfg.RPOrigins = []string{"http://localhost:8080"}
	}
	return cfg
}

// WebAuthn builds the ceremony library handle for this relying party.
func (c Config) WebAuthn() (*webauthn.WebAuthn, error) {
	handle, err := webauthn.New(&webauthn.Config{
		RPDisplayName: c.RPDisplayName,
		RPID:          c.RPID,
		RPOrigins:     c.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("configure webauthn: %w", err)
	}
	return handle, nil
}
