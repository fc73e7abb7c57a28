package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgellow/admin-front/internal/log"
)

// CleanupManager periodically purges credentials older than maxAge, the
// lifetime of the session marker. A credential without a marker can never
// be used again.
type CleanupManager struct {
	storage  Storage
	interval time.Duration
	maxAge   time.Duration
	stopChan chan struct{}
	doneChan chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(storage Storage, interval, maxAge time.Duration) *CleanupManager {
	return &CleanupManager{
		storage:  storage,
		interval: interval,
		maxAge:   maxAge,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the cleanup loop in a goroutine
func (cm *CleanupManager) Start(ctx context.Context) {
	if !cm.started.CompareAndSwap(false, true) {
		return
	}
	log.LogInfoWithFields("cleanup", "Starting credential cleanup manager", map[string]any{
		"interval": cm.interval.String(),
		"maxAge":   cm.maxAge.String(),
	})

	go cm.run(ctx)
}

// Stop gracefully stops the cleanup loop. It is a no-op when the loop
// never started.
func (cm *CleanupManager) Stop() {
	if !cm.started.Load() {
		return
	}
	cm.stopOnce.Do(func() {
		log.LogInfo("Stopping credential cleanup manager...")
		close(cm.stopChan)
	})
	<-cm.doneChan // Wait for cleanup loop to finish
	log.LogInfo("Credential cleanup manager stopped")
}

// run is the main cleanup loop
func (cm *CleanupManager) run(ctx context.Context) {
	defer close(cm.doneChan)

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run cleanup immediately on start
	cm.cleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.cleanup(ctx)
		case <-cm.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// cleanup performs the actual cleanup operation
func (cm *CleanupManager) cleanup(ctx context.Context) {
	count, err := cm.storage.CleanupExpiredCredentials(ctx, cm.maxAge)
	if err != nil {
		log.LogErrorWithFields("cleanup", "Failed to cleanup expired credentials", map[string]any{
			"error": err.Error(),
		})
		return
	}

	if count > 0 {
		log.LogInfoWithFields("cleanup", "Cleaned up expired credentials", map[string]any{
			"count": count,
		})
	}
}
