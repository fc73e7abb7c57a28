package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-session-secret-must-be-32-bytes"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MemoryProviderWithDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", testSecret)
	t.Setenv("ADMIN_PASSWORD", "hunter22")

	path := writeConfig(t, `{
		"version": "v0.0.1-DEV_EDITION",
		"server": {"baseURL": "http://localhost:8080", "addr": ":8080"},
		"auth": {
			"sessionSecret": {"$env": "SESSION_SECRET"},
			"users": [{"email": "Admin@Example.com", "password": {"$env": "ADMIN_PASSWORD"}}]
		}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "admin-front", cfg.Server.Name)
	assert.Equal(t, ProviderMemory, cfg.Auth.Provider)
	assert.Equal(t, Secret(testSecret), cfg.Auth.SessionSecret)
	assert.Equal(t, DefaultMarkerCookie, cfg.Auth.MarkerCookie)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.MarkerTTL)
	assert.Equal(t, 5*time.Second, cfg.Auth.ErrorDisplay)
	assert.Equal(t, DefaultIdleTimeout, cfg.Auth.IdleTimeout)
	assert.Equal(t, StorageMemory, cfg.Storage.Kind)
	require.Len(t, cfg.Auth.Users, 1)
	assert.Equal(t, Secret("hunter22"), cfg.Auth.Users[0].Password)
}

func TestLoad_FirebaseWithRedis(t *testing.T) {
	t.Setenv("SESSION_SECRET", testSecret)
	t.Setenv("FIREBASE_API_KEY", "AIza-test")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("GOOGLE_CLIENT_SECRET", "google-secret")

	path := writeConfig(t, `{
		"version": "v0.0.1-DEV_EDITION",
		"server": {"baseURL": "https://admin.example.com", "addr": ":8080"},
		"auth": {
			"provider": "firebase",
			"firebaseApiKey": {"$env": "FIREBASE_API_KEY"},
			"sessionSecret": {"$env": "SESSION_SECRET"},
			"errorDisplay": "3s",
			"google": {
				"clientId": "client-id",
				"clientSecret": {"$env": "GOOGLE_CLIENT_SECRET"},
				"redirectUri": "https://admin.example.com/oauth/callback"
			}
		},
		"storage": {"kind": "redis", "redisUrl": {"$env": "REDIS_URL"}}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ProviderFirebase, cfg.Auth.Provider)
	assert.Equal(t, Secret("AIza-test"), cfg.Auth.FirebaseAPIKey)
	assert.Equal(t, 3*time.Second, cfg.Auth.ErrorDisplay)
	require.NotNil(t, cfg.Auth.Google)
	assert.Equal(t, Secret("google-secret"), cfg.Auth.Google.ClientSecret)
	assert.Equal(t, StorageRedis, cfg.Storage.Kind)
	assert.Equal(t, Secret("redis://localhost:6379/0"), cfg.Storage.RedisURL)
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv("SESSION_SECRET", testSecret)
	t.Setenv("SHORT_SECRET", "too-short")

	tests := []struct {
		name        string
		config      string
		expectError string
	}{
		{
			name:        "missing_version",
			config:      `{"server": {"baseURL": "http://localhost", "addr": ":8080"}}`,
			expectError: "config version is required",
		},
		{
			name:        "unsupported_version",
			config:      `{"version": "v9", "server": {"baseURL": "http://localhost", "addr": ":8080"}}`,
			expectError: "unsupported config version",
		},
		{
			name: "plain_text_secret",
			config: `{
				"version": "v0.0.1-DEV_EDITION",
				"server": {"baseURL": "http://localhost", "addr": ":8080"},
				"auth": {"sessionSecret": "plain-text-is-not-allowed-here-at-all"}
			}`,
			expectError: "auth.sessionSecret must use environment variable reference",
		},
		{
			name: "plain_text_seed_password",
			config: `{
				"version": "v0.0.1-DEV_EDITION",
				"server": {"baseURL": "http://localhost", "addr": ":8080"},
				"auth": {
					"sessionSecret": {"$env": "SESSION_SECRET"},
					"users": [{"email": "a@example.com", "password": "secret"}]
				}
			}`,
			expectError: "auth.users[0].password must use environment variable reference",
		},
		{
			name: "short_session_secret",
			config: `{
				"version": "v0.0.1-DEV_EDITION",
				"server": {"baseURL": "http://localhost", "addr": ":8080"},
				"auth": {"sessionSecret": {"$env": "SHORT_SECRET"}}
			}`,
			expectError: "sessionSecret must be at least 32 bytes",
		},
		{
			name: "missing_env_var",
			config: `{
				"version": "v0.0.1-DEV_EDITION",
				"server": {"baseURL": "http://localhost", "addr": ":8080"},
				"auth": {"sessionSecret": {"$env": "DOES_NOT_EXIST_ANYWHERE"}}
			}`,
			expectError: "environment variable DOES_NOT_EXIST_ANYWHERE not set",
		},
		{
			name: "firestore_without_project",
			config: `{
				"version": "v0.0.1-DEV_EDITION",
				"server": {"baseURL": "http://localhost", "addr": ":8080"},
				"auth": {"sessionSecret": {"$env": "SESSION_SECRET"}},
				"storage": {"kind": "firestore"}
			}`,
			expectError: "storage.gcpProject is required",
		},
		{
			name: "bad_duration",
			config: `{
				"version": "v0.0.1-DEV_EDITION",
				"server": {"baseURL": "http://localhost", "addr": ":8080"},
				"auth": {"sessionSecret": {"$env": "SESSION_SECRET"}, "markerTtl": "a week"}
			}`,
			expectError: "parsing markerTtl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.config))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestValidateConfig_Auth(t *testing.T) {
	base := func() *Config {
		cfg := &Config{
			Server: ServerConfig{BaseURL: "http://localhost:8080", Addr: ":8080"},
			Auth:   AuthConfig{SessionSecret: testSecret},
		}
		ApplyDefaults(cfg)
		return cfg
	}

	t.Run("valid_memory", func(t *testing.T) {
		assert.NoError(t, ValidateConfig(base()))
	})

	t.Run("invalid_seed_email", func(t *testing.T) {
		cfg := base()
		cfg.Auth.Users = []SeedUser{{Email: "not-an-email", Password: "secret1"}}
		err := ValidateConfig(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "users[0].email is invalid")
	})

	t.Run("firebase_without_key", func(t *testing.T) {
		cfg := base()
		cfg.Auth.Provider = ProviderFirebase
		err := ValidateConfig(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "firebaseApiKey is required")
	})

	t.Run("google_without_redirect", func(t *testing.T) {
		cfg := base()
		cfg.Auth.Google = &GoogleConfig{ClientID: "id", ClientSecret: "secret"}
		err := ValidateConfig(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "google.redirectUri is required")
	})

	t.Run("google_redirect_defaults_to_base_url", func(t *testing.T) {
		cfg := &Config{
			Server: ServerConfig{BaseURL: "https://admin.example.com", Addr: ":8080"},
			Auth: AuthConfig{
				SessionSecret: testSecret,
				Google:        &GoogleConfig{ClientID: "id", ClientSecret: "secret"},
			},
		}
		ApplyDefaults(cfg)
		require.NoError(t, ValidateConfig(cfg))
		assert.Equal(t, "https://admin.example.com/oauth/callback", cfg.Auth.Google.RedirectURI)
	})

	t.Run("unknown_provider", func(t *testing.T) {
		cfg := base()
		cfg.Auth.Provider = "ldap"
		err := ValidateConfig(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown provider")
	})
}
