package storage

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/dgellow/admin-front/internal/crypto"
	"github.com/dgellow/admin-front/internal/log"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStorage implements Storage using Google Cloud Firestore.
// Refresh tokens are encrypted before they are written.
type FirestoreStorage struct {
	client                *firestore.Client
	projectID             string
	credentialsCollection string
	usersCollection       string
	encryptor             crypto.Encryptor
}

// Ensure FirestoreStorage implements Storage interface
var _ Storage = (*FirestoreStorage)(nil)

// CredentialDoc represents a credential document in Firestore
type CredentialDoc struct {
	SessionID    string    `firestore:"session_id"`
	Email        string    `firestore:"email"`
	ProviderID   string    `firestore:"provider_id"`
	RefreshToken string    `firestore:"refresh_token"` // Encrypted
	UpdatedAt    time.Time `firestore:"updated_at"`
}

// UserDoc represents a user document in Firestore
type UserDoc struct {
	Email       string    `firestore:"email"`
	DisplayName string    `firestore:"display_name"`
	ProviderID  string    `firestore:"provider_id"`
	FirstSeen   time.Time `firestore:"first_seen"`
	LastSeen    time.Time `firestore:"last_seen"`
}

// NewFirestoreStorage creates a new Firestore storage instance. collection
// prefixes the "_credentials" and "_users" collections.
func NewFirestoreStorage(ctx context.Context, projectID, database, collection string, encryptor crypto.Encryptor) (*FirestoreStorage, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}

	// Validate required parameters
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	var client *firestore.Client
	var err error

	// Firestore client with custom database
	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	log.LogInfoWithFields("firestore", "Connected to Firestore", map[string]any{
		"project":    projectID,
		"database":   database,
		"collection": collection,
	})

	return &FirestoreStorage{
		client:                client,
		projectID:             projectID,
		credentialsCollection: collection + "_credentials",
		usersCollection:       collection + "_users",
		encryptor:             encryptor,
	}, nil
}

// Close closes the Firestore client
func (s *FirestoreStorage) Close() error {
	return s.client.Close()
}

// SaveCredential encrypts the refresh token and stores the credential
func (s *FirestoreStorage) SaveCredential(ctx context.Context, cred Credential) error {
	encrypted, err := s.encryptor.Encrypt(cred.RefreshToken)
	if err != nil {
		return fmt.Errorf("encrypting refresh token: %w", err)
	}
	if cred.UpdatedAt.IsZero() {
		cred.UpdatedAt = time.Now()
	}

	doc := CredentialDoc{
		SessionID:    cred.SessionID,
		Email:        cred.Email,
		ProviderID:   cred.ProviderID,
		RefreshToken: encrypted,
		UpdatedAt:    cred.UpdatedAt,
	}
	if _, err := s.client.Collection(s.credentialsCollection).Doc(cred.SessionID).Set(ctx, doc); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

// GetCredential retrieves and decrypts the credential of a session
func (s *FirestoreStorage) GetCredential(ctx context.Context, sessionID string) (*Credential, error) {
	snap, err := s.client.Collection(s.credentialsCollection).Doc(sessionID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	var doc CredentialDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}

	refreshToken, err := s.encryptor.Decrypt(doc.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("decrypting refresh token: %w", err)
	}

	return &Credential{
		SessionID:    doc.SessionID,
		Email:        doc.Email,
		ProviderID:   doc.ProviderID,
		RefreshToken: refreshToken,
		UpdatedAt:    doc.UpdatedAt,
	}, nil
}

// DeleteCredential removes the credential of a session
func (s *FirestoreStorage) DeleteCredential(ctx context.Context, sessionID string) error {
	_, err := s.client.Collection(s.credentialsCollection).Doc(sessionID).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

// CleanupExpiredCredentials removes credentials not updated for maxAge
func (s *FirestoreStorage) CleanupExpiredCredentials(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	iter := s.client.Collection(s.credentialsCollection).
		Where("updated_at", "<=", cutoff).
		Documents(ctx)
	defer iter.Stop()

	count := 0
	batch := s.client.Batch()
	batchSize := 0
	const maxBatchSize = 500 // Firestore batch write limit

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to iterate expired credentials: %w", err)
		}

		batch.Delete(doc.Ref)
		batchSize++
		count++

		if batchSize >= maxBatchSize {
			if _, err := batch.Commit(ctx); err != nil {
				return count, fmt.Errorf("failed to commit batch: %w", err)
			}
			batch = s.client.Batch()
			batchSize = 0
		}
	}

	if batchSize > 0 {
		if _, err := batch.Commit(ctx); err != nil {
			return count, fmt.Errorf("failed to commit final batch: %w", err)
		}
	}

	return count, nil
}

// UpsertUser creates the user or updates its profile and last seen time
func (s *FirestoreStorage) UpsertUser(ctx context.Context, user UserInfo) error {
	ref := s.client.Collection(s.usersCollection).Doc(user.Email)
	now := time.Now()

	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		_, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return tx.Set(ref, UserDoc{
				Email:       user.Email,
				DisplayName: user.DisplayName,
				ProviderID:  user.ProviderID,
				FirstSeen:   now,
				LastSeen:    now,
			})
		}
		if err != nil {
			return fmt.Errorf("failed to get user: %w", err)
		}

		updates := []firestore.Update{{Path: "last_seen", Value: now}}
		if user.DisplayName != "" {
			updates = append(updates, firestore.Update{Path: "display_name", Value: user.DisplayName})
		}
		if user.ProviderID != "" {
			updates = append(updates, firestore.Update{Path: "provider_id", Value: user.ProviderID})
		}
		return tx.Update(ref, updates)
	})
}

// GetAllUsers returns all users, most recently seen first
func (s *FirestoreStorage) GetAllUsers(ctx context.Context) ([]UserInfo, error) {
	iter := s.client.Collection(s.usersCollection).Documents(ctx)
	defer iter.Stop()

	var users []UserInfo
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate users: %w", err)
		}

		var userDoc UserDoc
		if err := doc.DataTo(&userDoc); err != nil {
			log.LogError("Failed to unmarshal user: %v", err)
			continue
		}

		users = append(users, UserInfo(userDoc))
	}

	sortUsers(users)
	return users, nil
}
