// Package passkey holds WebAuthn relying-party configuration and challenge kinds.
package passkey

import (
	"time"

	"github.com/keyfold/keyfold/internal/platform/config"
)

// ChallengeKind describes the ceremony a stored challenge belongs to.
type ChallengeKind string

const (
	ChallengeKindRegistration   ChallengeKind = "registration"
	ChallengeKindAuthentication ChallengeKind = "authentication"
)

// Config controls WebAuthn relying party settings.
type Config struct {
	RPDisplayName string        `env:"KEYFOLD_WEBAUTHN_RP_DISPLAY_NAME" envDefault:"Keyfold Auth Harness"`
	RPID          string        `env:"KEYFOLD_WEBAUTHN_RP_ID"           envDefault:"localhost"`
	RPOrigins     []string      `env:"KEYFOLD_WEBAUTHN_RP_ORIGINS"      envSeparator:","`
	ChallengeTTL  time.Duration `env:"KEYFOLD_WEBAUTHN_CHALLENGE_TTL"   envDefault:"5m"`
}

// LoadConfigFromEnv returns passkey configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{
			RPDisplayName: "Keyfold Auth Harness",
			RPID:          "localhost",
			RPOrigins:     []string{"http://localhost:3000"},
			ChallengeTTL:  5 * time.Minute,
		}
	}
	if len(cfg.RPOrigins) == 0 {
		cfg.RPOrigins = []string{"http://localhost:3000"}
	}
	return cfg
}
