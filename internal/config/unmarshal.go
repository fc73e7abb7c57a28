package config

import (
	"encoding/json"
	"fmt"
)

// UnmarshalJSON implements custom unmarshaling for ServerConfig
func (s *ServerConfig) UnmarshalJSON(data []byte) error {
	type rawServer struct {
		BaseURL        json.RawMessage `json:"baseURL"`
		Addr           json.RawMessage `json:"addr"`
		Name           string          `json:"name"`
		AllowedOrigins []string        `json:"allowedOrigins"`
	}

	var raw rawServer
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	baseURL, err := ParseConfigValue(raw.BaseURL)
	if err != nil {
		return fmt.Errorf("parsing baseURL: %w", err)
	}
	addr, err := ParseConfigValue(raw.Addr)
	if err != nil {
		return fmt.Errorf("parsing addr: %w", err)
	}

	s.BaseURL = baseURL
	s.Addr = addr
	s.Name = raw.Name
	s.AllowedOrigins = raw.AllowedOrigins
	return nil
}

// UnmarshalJSON implements custom unmarshaling for GoogleConfig
func (g *GoogleConfig) UnmarshalJSON(data []byte) error {
	type rawGoogle struct {
		ClientID     json.RawMessage `json:"clientId"`
		ClientSecret json.RawMessage `json:"clientSecret"`
		RedirectURI  string          `json:"redirectUri"`
	}

	var raw rawGoogle
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	clientID, err := ParseConfigValue(raw.ClientID)
	if err != nil {
		return fmt.Errorf("parsing clientId: %w", err)
	}
	clientSecret, err := ParseConfigValue(raw.ClientSecret)
	if err != nil {
		return fmt.Errorf("parsing clientSecret: %w", err)
	}

	g.ClientID = clientID
	g.ClientSecret = Secret(clientSecret)
	g.RedirectURI = raw.RedirectURI
	return nil
}

// UnmarshalJSON implements custom unmarshaling for SeedUser
func (u *SeedUser) UnmarshalJSON(data []byte) error {
	type rawUser struct {
		Email       string          `json:"email"`
		DisplayName string          `json:"displayName"`
		Password    json.RawMessage `json:"password"`
	}

	var raw rawUser
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	password, err := ParseConfigValue(raw.Password)
	if err != nil {
		return fmt.Errorf("parsing password for %s: %w", raw.Email, err)
	}

	u.Email = raw.Email
	u.DisplayName = raw.DisplayName
	u.Password = Secret(password)
	return nil
}

// UnmarshalJSON implements custom unmarshaling for AuthConfig
func (a *AuthConfig) UnmarshalJSON(data []byte) error {
	type rawAuth struct {
		Provider         ProviderKind    `json:"provider"`
		FirebaseAPIKey   json.RawMessage `json:"firebaseApiKey"`
		FirebaseEndpoint string          `json:"firebaseEndpoint"`
		Google           *GoogleConfig   `json:"google"`
		SessionSecret    json.RawMessage `json:"sessionSecret"`
		MarkerCookie     string          `json:"markerCookie"`
		MarkerTTL        string          `json:"markerTtl"`
		ErrorDisplay     string          `json:"errorDisplay"`
		IdleTimeout      string          `json:"idleTimeout"`
		Users            []SeedUser      `json:"users"`
	}

	var raw rawAuth
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var apiKey string
	if raw.Provider == ProviderFirebase {
		key, err := ParseConfigValue(raw.FirebaseAPIKey)
		if err != nil {
			return fmt.Errorf("parsing firebaseApiKey: %w", err)
		}
		apiKey = key
	}
	sessionSecret, err := ParseConfigValue(raw.SessionSecret)
	if err != nil {
		return fmt.Errorf("parsing sessionSecret: %w", err)
	}

	a.Provider = raw.Provider
	a.FirebaseAPIKey = Secret(apiKey)
	a.FirebaseEndpoint = raw.FirebaseEndpoint
	a.Google = raw.Google
	a.SessionSecret = Secret(sessionSecret)
	a.MarkerCookie = raw.MarkerCookie
	a.Users = raw.Users

	if a.MarkerTTL, err = parseDuration("markerTtl", raw.MarkerTTL); err != nil {
		return err
	}
	if a.ErrorDisplay, err = parseDuration("errorDisplay", raw.ErrorDisplay); err != nil {
		return err
	}
	if a.IdleTimeout, err = parseDuration("idleTimeout", raw.IdleTimeout); err != nil {
		return err
	}
	return nil
}

// UnmarshalJSON implements custom unmarshaling for StorageConfig
func (s *StorageConfig) UnmarshalJSON(data []byte) error {
	type rawStorage struct {
		Kind                StorageKind     `json:"kind"`
		GCPProject          json.RawMessage `json:"gcpProject"`
		FirestoreDatabase   string          `json:"firestoreDatabase"`
		FirestoreCollection string          `json:"firestoreCollection"`
		RedisURL            json.RawMessage `json:"redisUrl"`
	}

	var raw rawStorage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Kind = raw.Kind
	s.FirestoreDatabase = raw.FirestoreDatabase
	s.FirestoreCollection = raw.FirestoreCollection

	// Only resolve references the selected backend needs, so a redis env var
	// does not have to exist when running on memory storage
	if raw.Kind == StorageFirestore {
		project, err := ParseConfigValue(raw.GCPProject)
		if err != nil {
			return fmt.Errorf("parsing gcpProject: %w", err)
		}
		s.GCPProject = project
	}
	if raw.Kind == StorageRedis {
		redisURL, err := ParseConfigValue(raw.RedisURL)
		if err != nil {
			return fmt.Errorf("parsing redisUrl: %w", err)
		}
		s.RedisURL = Secret(redisURL)
	}
	return nil
}
