package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgellow/admin-front/internal/crypto"
	"github.com/dgellow/admin-front/internal/log"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix     = "admin-front:"
	redisCredentialKey = redisKeyPrefix + "cred:"
	redisUsersKey      = redisKeyPrefix + "users"
	redisUpsertRetries = 5
)

// Ensure RedisStorage implements Storage interface
var _ Storage = (*RedisStorage)(nil)

// RedisStorage implements Storage on Redis. Credentials are JSON values with
// an encrypted refresh token and expire on their own after credentialTTL.
type RedisStorage struct {
	client        *redis.Client
	encryptor     crypto.Encryptor
	credentialTTL time.Duration
}

// NewRedisStorage connects to the Redis server at redisURL
func NewRedisStorage(ctx context.Context, redisURL string, encryptor crypto.Encryptor, credentialTTL time.Duration) (*RedisStorage, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	log.LogInfoWithFields("redis", "Connected to Redis", map[string]any{
		"addr": opts.Addr,
		"db":   opts.DB,
	})

	return NewRedisStorageFromClient(client, encryptor, credentialTTL)
}

// NewRedisStorageFromClient wraps an existing client
func NewRedisStorageFromClient(client *redis.Client, encryptor crypto.Encryptor, credentialTTL time.Duration) (*RedisStorage, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	return &RedisStorage{
		client:        client,
		encryptor:     encryptor,
		credentialTTL: credentialTTL,
	}, nil
}

// Close closes the Redis client
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

// SaveCredential stores the credential with the configured TTL
func (s *RedisStorage) SaveCredential(ctx context.Context, cred Credential) error {
	encrypted, err := s.encryptor.Encrypt(cred.RefreshToken)
	if err != nil {
		return fmt.Errorf("encrypting refresh token: %w", err)
	}
	if cred.UpdatedAt.IsZero() {
		cred.UpdatedAt = time.Now()
	}
	cred.RefreshToken = encrypted

	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshaling credential: %w", err)
	}
	if err := s.client.Set(ctx, redisCredentialKey+cred.SessionID, data, s.credentialTTL).Err(); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

// GetCredential retrieves and decrypts the credential of a session
func (s *RedisStorage) GetCredential(ctx context.Context, sessionID string) (*Credential, error) {
	data, err := s.client.Get(ctx, redisCredentialKey+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	cred.RefreshToken, err = s.encryptor.Decrypt(cred.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("decrypting refresh token: %w", err)
	}
	return &cred, nil
}

// DeleteCredential removes the credential of a session
func (s *RedisStorage) DeleteCredential(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, redisCredentialKey+sessionID).Err(); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

// CleanupExpiredCredentials removes credentials not updated for maxAge.
// Keys normally expire on their own; this catches keys saved with a longer
// TTL than the current setting.
func (s *RedisStorage) CleanupExpiredCredentials(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	count := 0

	iter := s.client.Scan(ctx, 0, redisCredentialKey+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return count, fmt.Errorf("failed to read credential %s: %w", key, err)
		}

		var cred Credential
		if err := json.Unmarshal(data, &cred); err != nil || !cred.UpdatedAt.After(cutoff) {
			if err := s.client.Del(ctx, key).Err(); err != nil {
				return count, fmt.Errorf("failed to delete credential %s: %w", key, err)
			}
			count++
		}
	}
	if err := iter.Err(); err != nil {
		return count, fmt.Errorf("failed to scan credentials: %w", err)
	}
	return count, nil
}

// UpsertUser creates or updates a user in the users hash. Concurrent
// upserts of the same user are retried with optimistic locking.
func (s *RedisStorage) UpsertUser(ctx context.Context, user UserInfo) error {
	now := time.Now()

	txf := func(tx *redis.Tx) error {
		current := user
		data, err := tx.HGet(ctx, redisUsersKey, user.Email).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			current.FirstSeen = now
		case err != nil:
			return err
		default:
			var existing UserInfo
			if err := json.Unmarshal(data, &existing); err != nil {
				return fmt.Errorf("failed to unmarshal user: %w", err)
			}
			current = existing
			if user.DisplayName != "" {
				current.DisplayName = user.DisplayName
			}
			if user.ProviderID != "" {
				current.ProviderID = user.ProviderID
			}
		}
		current.LastSeen = now

		encoded, err := json.Marshal(current)
		if err != nil {
			return fmt.Errorf("marshaling user: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, redisUsersKey, user.Email, encoded)
			return nil
		})
		return err
	}

	for range redisUpsertRetries {
		err := s.client.Watch(ctx, txf, redisUsersKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to upsert user: %w", err)
		}
		return nil
	}
	return fmt.Errorf("failed to upsert user: too much contention")
}

// GetAllUsers returns all users, most recently seen first
func (s *RedisStorage) GetAllUsers(ctx context.Context) ([]UserInfo, error) {
	all, err := s.client.HGetAll(ctx, redisUsersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}

	users := make([]UserInfo, 0, len(all))
	for email, data := range all {
		var user UserInfo
		if err := json.Unmarshal([]byte(data), &user); err != nil {
			log.LogError("Failed to unmarshal user %s: %v", email, err)
			continue
		}
		users = append(users, user)
	}

	sortUsers(users)
	return users, nil
}
