package identity

import (
	"fmt"

	"github.com/dgellow/admin-front/internal/config"
	"github.com/dgellow/admin-front/internal/crypto"
	"github.com/dgellow/admin-front/internal/log"
)

// NewProvider creates a Provider based on the AuthConfig.
func NewProvider(cfg config.AuthConfig) (Provider, error) {
	var google *GoogleFederation
	if cfg.Google != nil {
		google = NewGoogleFederation(cfg.Google.ClientID, string(cfg.Google.ClientSecret), cfg.Google.RedirectURI)
	}

	switch cfg.Provider {
	case config.ProviderMemory, "":
		key, err := crypto.DeriveKey([]byte(cfg.SessionSecret), "id-token")
		if err != nil {
			return nil, fmt.Errorf("deriving id token key: %w", err)
		}
		var opts []MemoryOption
		if google != nil {
			opts = append(opts, WithMemoryGoogle(google))
		}
		p := NewMemoryProvider(key, opts...)
		for _, u := range cfg.Users {
			if err := p.AddUser(u.Email, string(u.Password), u.DisplayName); err != nil {
				return nil, fmt.Errorf("seeding user %s: %w", u.Email, err)
			}
		}
		log.LogInfoWithFields("identity", "Memory identity provider ready", map[string]any{
			"users":  len(cfg.Users),
			"google": google != nil,
		})
		return p, nil

	case config.ProviderFirebase:
		var opts []FirebaseOption
		if cfg.FirebaseEndpoint != "" {
			opts = append(opts, WithFirebaseEmulator(cfg.FirebaseEndpoint))
		}
		if google != nil {
			opts = append(opts, WithFirebaseGoogle(google))
		}
		log.LogInfoWithFields("identity", "Firebase identity provider ready", map[string]any{
			"emulator": cfg.FirebaseEndpoint != "",
			"google":   google != nil,
		})
		return NewFirebaseProvider(string(cfg.FirebaseAPIKey), opts...), nil

	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Provider)
	}
}
