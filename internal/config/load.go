package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/dgellow/admin-front/internal/emailutil"
	"github.com/dgellow/admin-front/internal/log"
	"github.com/dgellow/admin-front/internal/urlutil"
)

// SupportedVersionPrefix is the config version accepted by this build
const SupportedVersionPrefix = "v0.0.1-DEV_EDITION"

// minSessionSecretLength is the shortest session secret we accept
const minSessionSecretLength = 32

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses config JSON, resolves env references, applies defaults and
// validates the result
func Parse(data []byte) (Config, error) {
	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if !strings.HasPrefix(version, SupportedVersionPrefix) {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	// The custom UnmarshalJSON methods resolve env vars immediately
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	ApplyDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// secretPaths lists the fields that must be {"$env": ...} references
var secretPaths = [][]string{
	{"auth", "firebaseApiKey"},
	{"auth", "sessionSecret"},
	{"auth", "google", "clientSecret"},
	{"storage", "redisUrl"},
}

// validateRawConfig rejects plain-text secrets before environment resolution
func validateRawConfig(rawConfig map[string]any) error {
	for _, path := range secretPaths {
		value, ok := lookup(rawConfig, path)
		if !ok {
			continue
		}
		if err := requireEnvRef(value, strings.Join(path, ".")); err != nil {
			return err
		}
	}

	if auth, ok := rawConfig["auth"].(map[string]any); ok {
		if users, ok := auth["users"].([]any); ok {
			for i, u := range users {
				user, ok := u.(map[string]any)
				if !ok {
					continue
				}
				if password, ok := user["password"]; ok {
					if err := requireEnvRef(password, fmt.Sprintf("auth.users[%d].password", i)); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

func lookup(m map[string]any, path []string) (any, bool) {
	var current any = m
	for _, key := range path {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func requireEnvRef(value any, path string) error {
	if _, isString := value.(string); isString {
		return fmt.Errorf("%s must use environment variable reference for security", path)
	}
	if refMap, isMap := value.(map[string]any); isMap {
		if _, hasEnv := refMap["$env"]; !hasEnv {
			return fmt.Errorf("%s must use {\"$env\": \"VAR_NAME\"} format", path)
		}
	}
	return nil
}

// ApplyDefaults fills optional fields left empty in the config file
func ApplyDefaults(config *Config) {
	if config.Server.Name == "" {
		config.Server.Name = "admin-front"
	}
	if config.Auth.Provider == "" {
		config.Auth.Provider = ProviderMemory
	}
	if config.Auth.MarkerCookie == "" {
		config.Auth.MarkerCookie = DefaultMarkerCookie
	}
	if config.Auth.MarkerTTL == 0 {
		config.Auth.MarkerTTL = DefaultMarkerTTL
	}
	if config.Auth.ErrorDisplay == 0 {
		config.Auth.ErrorDisplay = DefaultErrorDisplay
	}
	if config.Auth.IdleTimeout == 0 {
		config.Auth.IdleTimeout = DefaultIdleTimeout
	}
	if g := config.Auth.Google; g != nil && g.RedirectURI == "" && config.Server.BaseURL != "" {
		if redirect, err := urlutil.JoinPath(config.Server.BaseURL, "oauth", "callback"); err == nil {
			g.RedirectURI = redirect
		}
	}
	if config.Storage.Kind == "" {
		config.Storage.Kind = StorageMemory
	}
	if config.Storage.Kind == StorageFirestore && config.Storage.FirestoreCollection == "" {
		config.Storage.FirestoreCollection = DefaultFirestoreCollection
	}
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(config *Config) error {
	if config.Server.BaseURL == "" {
		return fmt.Errorf("server.baseURL is required")
	}
	if _, err := url.Parse(config.Server.BaseURL); err != nil {
		return fmt.Errorf("server.baseURL is invalid: %w", err)
	}
	if config.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	if err := validateAuthConfig(&config.Auth); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}

	switch config.Storage.Kind {
	case StorageMemory:
	case StorageFirestore:
		if config.Storage.GCPProject == "" {
			return fmt.Errorf("storage.gcpProject is required for firestore storage")
		}
	case StorageRedis:
		if config.Storage.RedisURL == "" {
			return fmt.Errorf("storage.redisUrl is required for redis storage")
		}
	default:
		return fmt.Errorf("unknown storage kind: %s", config.Storage.Kind)
	}

	return nil
}

func validateAuthConfig(auth *AuthConfig) error {
	if len(auth.SessionSecret) < minSessionSecretLength {
		return fmt.Errorf("sessionSecret must be at least %d bytes, got %d", minSessionSecretLength, len(auth.SessionSecret))
	}
	if auth.MarkerTTL < 0 || auth.ErrorDisplay < 0 || auth.IdleTimeout < 0 {
		return fmt.Errorf("durations cannot be negative")
	}
	if auth.IdleTimeout > auth.MarkerTTL {
		log.LogWarn("Idle timeout is longer than the session marker lifetime")
	}

	switch auth.Provider {
	case ProviderMemory:
		for i, u := range auth.Users {
			if !emailutil.IsValid(emailutil.Normalize(u.Email)) {
				return fmt.Errorf("users[%d].email is invalid", i)
			}
			if u.Password == "" {
				return fmt.Errorf("users[%d].password is required", i)
			}
		}
	case ProviderFirebase:
		if auth.FirebaseAPIKey == "" {
			return fmt.Errorf("firebaseApiKey is required for the firebase provider")
		}
		if len(auth.Users) > 0 {
			log.LogWarn("auth.users is ignored by the firebase provider")
		}
	default:
		return fmt.Errorf("unknown provider: %s", auth.Provider)
	}

	if g := auth.Google; g != nil {
		if g.ClientID == "" {
			return fmt.Errorf("google.clientId is required")
		}
		if g.ClientSecret == "" {
			return fmt.Errorf("google.clientSecret is required")
		}
		if g.RedirectURI == "" {
			return fmt.Errorf("google.redirectUri is required")
		}
	}
	return nil
}
