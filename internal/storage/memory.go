package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Ensure MemoryStorage implements Storage
var _ Storage = (*MemoryStorage)(nil)

// MemoryStorage keeps everything in process. Credentials do not survive a
// restart, so sessions are lost with it.
type MemoryStorage struct {
	credentials      map[string]*Credential // map[sessionID] = Credential
	credentialsMutex sync.RWMutex
	users            map[string]*UserInfo // map[email] = UserInfo
	usersMutex       sync.RWMutex
}

// NewMemoryStorage creates a new storage instance
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		credentials: make(map[string]*Credential),
		users:       make(map[string]*UserInfo),
	}
}

// SaveCredential stores or replaces the credential of a session
func (s *MemoryStorage) SaveCredential(ctx context.Context, cred Credential) error {
	if cred.UpdatedAt.IsZero() {
		cred.UpdatedAt = time.Now()
	}

	s.credentialsMutex.Lock()
	defer s.credentialsMutex.Unlock()
	s.credentials[cred.SessionID] = &cred
	return nil
}

// GetCredential retrieves the credential of a session
func (s *MemoryStorage) GetCredential(ctx context.Context, sessionID string) (*Credential, error) {
	s.credentialsMutex.RLock()
	defer s.credentialsMutex.RUnlock()

	cred, ok := s.credentials[sessionID]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	credCopy := *cred
	return &credCopy, nil
}

// DeleteCredential removes the credential of a session
func (s *MemoryStorage) DeleteCredential(ctx context.Context, sessionID string) error {
	s.credentialsMutex.Lock()
	defer s.credentialsMutex.Unlock()
	delete(s.credentials, sessionID)
	return nil
}

// CleanupExpiredCredentials removes credentials older than maxAge
func (s *MemoryStorage) CleanupExpiredCredentials(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	s.credentialsMutex.Lock()
	defer s.credentialsMutex.Unlock()

	count := 0
	for id, cred := range s.credentials {
		if !cred.UpdatedAt.After(cutoff) {
			delete(s.credentials, id)
			count++
		}
	}
	return count, nil
}

// UpsertUser creates or updates a user
func (s *MemoryStorage) UpsertUser(ctx context.Context, user UserInfo) error {
	now := time.Now()

	s.usersMutex.Lock()
	defer s.usersMutex.Unlock()

	existing, exists := s.users[user.Email]
	if !exists {
		user.FirstSeen = now
		user.LastSeen = now
		s.users[user.Email] = &user
		return nil
	}

	// Copy so readers holding a previous snapshot are unaffected
	userCopy := *existing
	userCopy.LastSeen = now
	if user.DisplayName != "" {
		userCopy.DisplayName = user.DisplayName
	}
	if user.ProviderID != "" {
		userCopy.ProviderID = user.ProviderID
	}
	s.users[user.Email] = &userCopy
	return nil
}

// GetAllUsers returns all users, most recently seen first
func (s *MemoryStorage) GetAllUsers(ctx context.Context) ([]UserInfo, error) {
	s.usersMutex.RLock()
	users := make([]UserInfo, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, *user)
	}
	s.usersMutex.RUnlock()

	sortUsers(users)
	return users, nil
}

// Close is a no-op for memory storage
func (s *MemoryStorage) Close() error {
	return nil
}

func sortUsers(users []UserInfo) {
	sort.Slice(users, func(i, j int) bool {
		if users[i].LastSeen.Equal(users[j].LastSeen) {
			return users[i].Email < users[j].Email
		}
		return users[i].LastSeen.After(users[j].LastSeen)
	})
}
