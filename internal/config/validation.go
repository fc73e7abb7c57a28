package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) addError(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) addWarning(path, format string, args ...any) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

var bashStyleRegex = regexp.MustCompile(`\$\{?([A-Z_][A-Z0-9_]*)\}?`)

// ValidateFile validates a config file structure without requiring env vars
func ValidateFile(path string) (*ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ValidateBytes(data), nil
}

// ValidateBytes validates raw config JSON without resolving env vars
func ValidateBytes(data []byte) *ValidationResult {
	result := &ValidationResult{}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.addError("", "invalid JSON: %v", err)
		return result
	}

	checkBashStyleSyntax(rawConfig, "", result)

	version, ok := rawConfig["version"].(string)
	if !ok {
		result.addError("version", "version field is required. Hint: Add \"version\": \"%s\"", SupportedVersionPrefix)
	} else if !strings.HasPrefix(version, SupportedVersionPrefix) {
		result.addError("version", "unsupported version '%s' - use '%s' or '%s-<variant>'", version, SupportedVersionPrefix, SupportedVersionPrefix)
	}

	validateServerStructure(rawConfig, result)
	validateAuthStructure(rawConfig, result)
	validateStorageStructure(rawConfig, result)

	return result
}

func validateServerStructure(rawConfig map[string]any, result *ValidationResult) {
	server, ok := rawConfig["server"].(map[string]any)
	if !ok {
		result.addError("server", "server field is required and must be an object")
		return
	}
	if _, ok := server["baseURL"]; !ok {
		result.addError("server.baseURL", "baseURL is required. Example: \"http://localhost:8080\"")
	}
	if _, ok := server["addr"]; !ok {
		result.addError("server.addr", "addr is required. Example: \":8080\"")
	}
}

func validateAuthStructure(rawConfig map[string]any, result *ValidationResult) {
	auth, ok := rawConfig["auth"].(map[string]any)
	if !ok {
		result.addError("auth", "auth field is required and must be an object")
		return
	}

	provider, _ := auth["provider"].(string)
	switch ProviderKind(provider) {
	case "", ProviderMemory:
	case ProviderFirebase:
		if key, ok := auth["firebaseApiKey"]; !ok {
			result.addError("auth.firebaseApiKey", "firebaseApiKey is required for the firebase provider")
		} else if err := validateEnvVarReference(key, "firebaseApiKey", "auth.firebaseApiKey"); err != nil {
			result.Errors = append(result.Errors, *err)
		}
	default:
		result.addError("auth.provider", "unknown provider '%s' - use 'memory' or 'firebase'", provider)
	}

	if secret, ok := auth["sessionSecret"]; !ok {
		result.addError("auth.sessionSecret", "sessionSecret is required")
	} else if err := validateEnvVarReference(secret, "sessionSecret", "auth.sessionSecret"); err != nil {
		result.Errors = append(result.Errors, *err)
	}

	for _, field := range []string{"markerTtl", "errorDisplay", "idleTimeout"} {
		if raw, ok := auth[field]; ok {
			validateDuration(raw, "auth."+field, result)
		}
	}

	if google, ok := auth["google"].(map[string]any); ok {
		if _, ok := google["clientId"]; !ok {
			result.addError("auth.google.clientId", "clientId is required when google sign-in is configured")
		}
		if secret, ok := google["clientSecret"]; !ok {
			result.addError("auth.google.clientSecret", "clientSecret is required when google sign-in is configured")
		} else if err := validateEnvVarReference(secret, "clientSecret", "auth.google.clientSecret"); err != nil {
			result.Errors = append(result.Errors, *err)
		}
	}

	if users, ok := auth["users"].([]any); ok {
		if ProviderKind(provider) == ProviderFirebase {
			result.addWarning("auth.users", "users are only created by the memory provider")
		}
		for i, u := range users {
			path := fmt.Sprintf("auth.users[%d]", i)
			user, ok := u.(map[string]any)
			if !ok {
				result.addError(path, "user must be an object")
				continue
			}
			if _, ok := user["email"].(string); !ok {
				result.addError(path+".email", "email is required")
			}
			if password, ok := user["password"]; !ok {
				result.addError(path+".password", "password is required")
			} else if err := validateEnvVarReference(password, "password", path+".password"); err != nil {
				result.Errors = append(result.Errors, *err)
			}
		}
	}
}

func validateStorageStructure(rawConfig map[string]any, result *ValidationResult) {
	storage, ok := rawConfig["storage"].(map[string]any)
	if !ok {
		return
	}

	kind, _ := storage["kind"].(string)
	switch StorageKind(kind) {
	case "", StorageMemory:
	case StorageFirestore:
		if _, ok := storage["gcpProject"]; !ok {
			result.addError("storage.gcpProject", "gcpProject is required for firestore storage")
		}
	case StorageRedis:
		if url, ok := storage["redisUrl"]; !ok {
			result.addError("storage.redisUrl", "redisUrl is required for redis storage")
		} else if err := validateEnvVarReference(url, "redisUrl", "storage.redisUrl"); err != nil {
			result.Errors = append(result.Errors, *err)
		}
	default:
		result.addError("storage.kind", "unknown storage kind '%s' - use 'memory', 'firestore' or 'redis'", kind)
	}
}

func validateDuration(raw any, path string, result *ValidationResult) {
	s, ok := raw.(string)
	if !ok {
		result.addError(path, "must be a duration string like \"5s\" or \"168h\"")
		return
	}
	if _, err := parseDuration(path, s); err != nil {
		result.addError(path, "invalid duration '%s'", s)
	}
}

func validateEnvVarReference(value any, fieldName, path string) *ValidationError {
	switch v := value.(type) {
	case string:
		if matches := bashStyleRegex.FindStringSubmatch(v); len(matches) > 1 {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", v, matches[1]),
			}
		}
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must use environment variable reference {\"$env\": \"YOUR_ENV_VAR\"} instead of plain text. Hint: This prevents secrets from being stored in config files", fieldName),
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; !hasEnv {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("%s must use {\"$env\": \"YOUR_ENV_VAR\"} format", fieldName),
			}
		}
		return nil
	default:
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must be an environment variable reference {\"$env\": \"YOUR_ENV_VAR\"}, not %T", fieldName, value),
		}
	}
}

// checkBashStyleSyntax recursively warns about $VAR and ${VAR} in plain strings
func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	switch v := value.(type) {
	case string:
		for _, match := range bashStyleRegex.FindAllString(v, -1) {
			varName := strings.Trim(match, "${}")
			result.addWarning(path, "found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", match, varName)
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; hasEnv {
			return
		}
		for key, val := range v {
			newPath := key
			if path != "" {
				newPath = path + "." + key
			}
			checkBashStyleSyntax(val, newPath, result)
		}
	case []any:
		for i, item := range v {
			checkBashStyleSyntax(item, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}
