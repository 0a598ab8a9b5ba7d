package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/Sriram-PR/catalog-scraper/pkg/models"
	"github.com/Sriram-PR/catalog-scraper/pkg/utils"
)

// SessionStore persists batch snapshots between dispatch attempts and across runs
type SessionStore interface {
	// Save stores snap under key, replacing any previous snapshot
	Save(key string, snap models.Snapshot) error

	// Take loads the snapshot stored under key and deletes it in the same transaction,
	// so a snapshot is consumed at most once. Returns utils.ErrSessionNotFound if absent.
	Take(key string) (models.Snapshot, error)

	// Load returns the snapshot under key without consuming it
	Load(key string) (models.Snapshot, error)

	// Delete removes the snapshot under key. Deleting a missing key is not an error.
	Delete(key string) error

	// List returns a summary of every stored snapshot, ordered by creation time
	List(ctx context.Context) ([]SessionSummary, error)
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// Count returns the number of stored snapshots
	Count() (int, error)

	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the store
	Close() error
}

// Store combines all store interfaces for components that need full access
type Store interface {
	SessionStore
	StoreAdmin
}

// SessionSummary describes a stored snapshot without its records
type SessionSummary struct {
	Key       string
	ID        string
	OutputDir string
	SourceURL string
	Status    models.SessionStatus
	Attempt   int
	Total     int
	Pending   int
	Completed int
	LastError string
	CreatedAt time.Time
}

// SessionKey derives the store key of the batch persisted to outputDir
func SessionKey(outputDir string) string {
	return utils.ShortHash(filepath.Clean(outputDir), 16)
}

// corruptSnapshotError reports a stored value that is not a snapshot
func corruptSnapshotError(key string, err error) error {
	return fmt.Errorf("%w: %w: decoding snapshot '%s': %w", utils.ErrCorruptSnapshot, utils.ErrParsing, key, err)
}

// corruptSummary lists an undecodable value so it stays visible to the user.
// Its zero CreatedAt sorts it first.
func corruptSummary(key string, err error) SessionSummary {
	return SessionSummary{Key: key, Status: models.SessionStatusCorrupt, LastError: err.Error()}
}

func summarize(key string, s models.Snapshot) SessionSummary {
	total := len(s.URLs)
	if total == 0 {
		total = len(s.Pending) + len(s.Completed) + len(s.Skipped)
	}
	return SessionSummary{
		Key:       key,
		ID:        s.ID,
		OutputDir: s.OutputDir,
		SourceURL: s.SourceURL,
		Status:    s.Status,
		Attempt:   s.Attempt,
		Total:     total,
		Pending:   len(s.Pending),
		Completed: len(s.Completed),
		LastError: s.LastError,
		CreatedAt: s.CreatedAt,
	}
}
