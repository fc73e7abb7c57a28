package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// ProviderKind selects the identity provider implementation
type ProviderKind string

const (
	ProviderMemory   ProviderKind = "memory"
	ProviderFirebase ProviderKind = "firebase"
)

// StorageKind selects where credentials and user records are kept
type StorageKind string

const (
	StorageMemory    StorageKind = "memory"
	StorageFirestore StorageKind = "firestore"
	StorageRedis     StorageKind = "redis"
)

const (
	// DefaultMarkerCookie is the name of the session marker cookie
	DefaultMarkerCookie = "admin-template-auth"

	// DefaultMarkerTTL is how long the session marker survives (7 days)
	DefaultMarkerTTL = 7 * 24 * time.Hour

	// DefaultErrorDisplay is how long a login error stays on screen
	DefaultErrorDisplay = 5 * time.Second

	// DefaultIdleTimeout is how long an idle browser session stays in memory
	DefaultIdleTimeout = 30 * time.Minute

	// DefaultFirestoreCollection prefixes the Firestore collections
	DefaultFirestoreCollection = "admin_front"
)

// ServerConfig is the HTTP listener configuration
type ServerConfig struct {
	BaseURL        string   `json:"baseURL"`
	Addr           string   `json:"addr"`
	Name           string   `json:"name"`
	AllowedOrigins []string `json:"allowedOrigins"`
}

// GoogleConfig enables federated sign-in with Google
type GoogleConfig struct {
	ClientID     string `json:"clientId"`
	ClientSecret Secret `json:"clientSecret"`
	RedirectURI  string `json:"redirectUri"`
}

// SeedUser is an account created at startup by the memory provider
type SeedUser struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Password    Secret `json:"password"`
}

// AuthConfig configures the identity provider and the browser session
type AuthConfig struct {
	Provider         ProviderKind  `json:"provider"`
	FirebaseAPIKey   Secret        `json:"firebaseApiKey"`
	FirebaseEndpoint string        `json:"firebaseEndpoint,omitempty"` // Optional: Identity Toolkit emulator
	Google           *GoogleConfig `json:"google,omitempty"`
	SessionSecret    Secret        `json:"sessionSecret"`
	MarkerCookie     string        `json:"markerCookie"`
	MarkerTTL        time.Duration `json:"markerTtl"`
	ErrorDisplay     time.Duration `json:"errorDisplay"`
	IdleTimeout      time.Duration `json:"idleTimeout"`
	Users            []SeedUser    `json:"users,omitempty"`
}

// StorageConfig selects and configures the storage backend
type StorageConfig struct {
	Kind                StorageKind `json:"kind"`
	GCPProject          string      `json:"gcpProject,omitempty"`
	FirestoreDatabase   string      `json:"firestoreDatabase,omitempty"`
	FirestoreCollection string      `json:"firestoreCollection,omitempty"`
	RedisURL            Secret      `json:"redisUrl,omitempty"`
}

// Config represents the config structure with resolved values
type Config struct {
	Server  ServerConfig  `json:"server"`
	Auth    AuthConfig    `json:"auth"`
	Storage StorageConfig `json:"storage"`
}

// ParseConfigValue parses a JSON value that is either a plain string or an
// {"$env": "VAR"} reference, resolving the reference immediately.
func ParseConfigValue(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("unknown reference type in config value")
	}

	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, nil
}

func parseDuration(field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", field, err)
	}
	return d, nil
}
