package internal

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgellow/admin-front/internal/client"
	"github.com/dgellow/admin-front/internal/config"
	"github.com/dgellow/admin-front/internal/crypto"
	"github.com/dgellow/admin-front/internal/guard"
	"github.com/dgellow/admin-front/internal/identity"
	"github.com/dgellow/admin-front/internal/log"
	"github.com/dgellow/admin-front/internal/server"
	"github.com/dgellow/admin-front/internal/session"
	"github.com/dgellow/admin-front/internal/storage"
	"golang.org/x/sync/errgroup"
)

const (
	csrfTokenTTL           = 15 * time.Minute
	credentialCleanupEvery = 1 * time.Hour
	shutdownTimeout        = 30 * time.Second
)

// AdminFront is the complete admin sign-in application
type AdminFront struct {
	config     config.Config
	handler    http.Handler
	httpServer *server.HTTPServer
	manager    *client.Manager
	storage    storage.Storage
	cleanup    *storage.CleanupManager
}

// NewAdminFront builds the application and all of its dependencies
func NewAdminFront(ctx context.Context, cfg config.Config) (*AdminFront, error) {
	log.LogInfoWithFields("adminfront", "Building admin front", map[string]any{
		"baseURL":  cfg.Server.BaseURL,
		"provider": cfg.Auth.Provider,
		"storage":  cfg.Storage.Kind,
	})

	store, err := setupStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	provider, err := identity.NewProvider(cfg.Auth)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to setup identity provider: %w", err)
	}

	keys, err := deriveKeys(cfg.Auth.SessionSecret)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	manager := client.NewManager(
		func(id string, marker session.Marker, nav session.Navigator) *session.Store {
			return session.NewStore(session.Options{
				Provider:    provider,
				Marker:      marker,
				Navigator:   nav,
				Credentials: store,
				Users:       store,
				SessionID:   id,
			})
		},
		client.WithIdleTimeout(cfg.Auth.IdleTimeout),
		client.WithMarker(cfg.Auth.MarkerCookie, cfg.Auth.MarkerTTL),
	)

	g := guard.New(guard.Options{
		LoginPath:    "/login",
		MarkerCookie: cfg.Auth.MarkerCookie,
	})
	csrf := crypto.NewCSRFProtection(keys.csrf, csrfTokenTTL)

	handler := server.NewRouter(server.Dependencies{
		Name:           cfg.Server.Name,
		Manager:        manager,
		Guard:          g,
		Auth:           server.NewAuthHandlers(provider, csrf, keys.flash, keys.state, cfg.Auth.ErrorDisplay),
		Pages:          server.NewPageHandlers(store, g, csrf),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	return &AdminFront{
		config:     cfg,
		handler:    handler,
		httpServer: server.NewHTTPServer(handler, cfg.Server.Addr),
		manager:    manager,
		storage:    store,
		cleanup:    storage.NewCleanupManager(store, credentialCleanupEvery, cfg.Auth.MarkerTTL),
	}, nil
}

// Handler returns the fully wired HTTP handler
func (a *AdminFront) Handler() http.Handler {
	return a.handler
}

// Run serves until ctx is cancelled, SIGINT or SIGTERM arrives, or the
// listener fails, then shuts everything down.
func (a *AdminFront) Run(ctx context.Context) error {
	log.LogInfoWithFields("adminfront", "Starting admin front", map[string]any{
		"addr": a.config.Server.Addr,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.cleanup.Start(ctx)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := a.httpServer.Start(); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()

		log.LogInfoWithFields("adminfront", "Starting graceful shutdown", map[string]any{
			"timeout": shutdownTimeout.String(),
		})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.httpServer.Stop(shutdownCtx)
	})

	err := eg.Wait()
	a.close()

	if err != nil {
		log.LogErrorWithFields("adminfront", "Admin front stopped with error", map[string]any{
			"error": err.Error(),
		})
		return err
	}
	log.LogInfoWithFields("adminfront", "Application shutdown complete", nil)
	return nil
}

func (a *AdminFront) close() {
	a.cleanup.Stop()
	a.manager.Shutdown()
	if err := a.storage.Close(); err != nil {
		log.LogWarnWithFields("adminfront", "Failed to close storage", map[string]any{
			"error": err.Error(),
		})
	}
}

type sessionKeys struct {
	csrf  []byte
	flash []byte
	state []byte
}

func deriveKeys(secret config.Secret) (sessionKeys, error) {
	var keys sessionKeys
	for purpose, dst := range map[string]*[]byte{
		"csrf":  &keys.csrf,
		"flash": &keys.flash,
		"state": &keys.state,
	} {
		key, err := crypto.DeriveKey([]byte(secret), purpose)
		if err != nil {
			return sessionKeys{}, fmt.Errorf("failed to derive %s key: %w", purpose, err)
		}
		*dst = key
	}
	return keys, nil
}

// setupStorage creates the credential and user store selected in the config
func setupStorage(ctx context.Context, cfg config.Config) (storage.Storage, error) {
	newEncryptor := func() (crypto.Encryptor, error) {
		key, err := crypto.DeriveKey([]byte(cfg.Auth.SessionSecret), "storage")
		if err != nil {
			return nil, err
		}
		return crypto.NewEncryptor(key)
	}

	switch cfg.Storage.Kind {
	case config.StorageFirestore:
		log.LogInfoWithFields("storage", "Using Firestore storage", map[string]any{
			"project":    cfg.Storage.GCPProject,
			"database":   cfg.Storage.FirestoreDatabase,
			"collection": cfg.Storage.FirestoreCollection,
		})
		encryptor, err := newEncryptor()
		if err != nil {
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		return storage.NewFirestoreStorage(
			ctx,
			cfg.Storage.GCPProject,
			cfg.Storage.FirestoreDatabase,
			cfg.Storage.FirestoreCollection,
			encryptor,
		)

	case config.StorageRedis:
		log.LogInfoWithFields("storage", "Using Redis storage", nil)
		encryptor, err := newEncryptor()
		if err != nil {
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		return storage.NewRedisStorage(ctx, string(cfg.Storage.RedisURL), encryptor, cfg.Auth.MarkerTTL)

	default:
		log.LogInfoWithFields("storage", "Using in-memory storage", nil)
		return storage.NewMemoryStorage(), nil
	}
}
