package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/catalog-scraper/pkg/log"
	"github.com/Sriram-PR/catalog-scraper/pkg/models"
	"github.com/Sriram-PR/catalog-scraper/pkg/utils"
)

const (
	sessionKeyPrefix = "session:"    // Prefix for snapshot keys in DB
	sessionDBDir     = "sessions_db" // Subdirectory name within stateDir for Badger DB files
)

// BadgerStore implements the Store interface using BadgerDB
type BadgerStore struct {
	db       *badger.DB
	log      *logrus.Entry
	keyCount atomic.Int64 // Cached snapshot count
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore opens the snapshot database of siteKey under stateDir.
// With reset, snapshots left by previous runs are discarded.
func NewBadgerStore(ctx context.Context, stateDir, siteKey string, reset bool, logger *logrus.Entry) (*BadgerStore, error) {
	store := &BadgerStore{log: logger}

	dbPath := filepath.Join(stateDir, utils.SanitizeFilename(siteKey)+"_"+sessionDBDir)

	if reset {
		logger.Warnf("Reset requested. REMOVING existing session directory: %s", dbPath)
		if err := os.RemoveAll(dbPath); err != nil {
			logger.Errorf("Failed to remove existing session directory %s: %v", dbPath, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))).
		WithNumVersionsToKeep(1)

	var err error
	store.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	count, err := store.countKeys()
	if err != nil {
		logger.Warnf("Failed to count existing snapshots: %v", err)
	} else {
		store.keyCount.Store(int64(count))
	}
	logger.Debugf("Session database ready at %s (%d snapshots)", dbPath, count)
	return store, nil
}

func (s *BadgerStore) countKeys() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(sessionKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := 0; i < maxConflictRetries; i++ {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// Save implements the SessionStore interface
func (s *BadgerStore) Save(key string, snap models.Snapshot) error {
	dbKey := []byte(sessionKeyPrefix + key)
	value, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal snapshot '%s': %w", utils.ErrParsing, key, err)
	}

	isNew := false
	err = s.dbUpdate(func(txn *badger.Txn) error {
		if _, errGet := txn.Get(dbKey); errors.Is(errGet, badger.ErrKeyNotFound) {
			isNew = true
		}
		return txn.SetEntry(badger.NewEntry(dbKey, value))
	})
	if err != nil {
		s.log.WithField("key", key).Errorf("DB Update error in Save: %v", err)
		return fmt.Errorf("%w: saving snapshot '%s': %w", utils.ErrDatabase, key, err)
	}
	if isNew {
		s.keyCount.Add(1)
	}
	s.log.WithFields(logrus.Fields{
		"key": key, "status": snap.Status, "pending": len(snap.Pending), "completed": len(snap.Completed),
	}).Debug("Snapshot saved")
	return nil
}

// Take implements the SessionStore interface
func (s *BadgerStore) Take(key string) (models.Snapshot, error) {
	var snap models.Snapshot
	dbKey := []byte(sessionKeyPrefix + key)

	var decodeErr error
	err := s.dbUpdate(func(txn *badger.Txn) error {
		item, errGet := txn.Get(dbKey)
		if errGet != nil {
			return errGet
		}
		decodeErr = item.Value(func(val []byte) error { return json.Unmarshal(val, &snap) })
		if decodeErr != nil {
			return nil
		}
		return txn.Delete(dbKey)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.Snapshot{}, fmt.Errorf("%w: %s", utils.ErrSessionNotFound, key)
	}
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("%w: taking snapshot '%s': %w", utils.ErrDatabase, key, err)
	}
	if decodeErr != nil {
		// An undecodable value would fail every later Take, so it is dropped here
		if errDel := s.Delete(key); errDel != nil {
			s.log.WithField("key", key).Errorf("Failed to discard undecodable snapshot: %v", errDel)
		}
		return models.Snapshot{}, corruptSnapshotError(key, decodeErr)
	}
	s.keyCount.Add(-1)
	return snap, nil
}

// Load implements the SessionStore interface
func (s *BadgerStore) Load(key string) (models.Snapshot, error) {
	var snap models.Snapshot
	dbKey := []byte(sessionKeyPrefix + key)

	err := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(dbKey)
		if errGet != nil {
			return errGet
		}
		return item.Value(func(val []byte) error {
			if errJSON := json.Unmarshal(val, &snap); errJSON != nil {
				return corruptSnapshotError(key, errJSON)
			}
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.Snapshot{}, fmt.Errorf("%w: %s", utils.ErrSessionNotFound, key)
	}
	if errors.Is(err, utils.ErrCorruptSnapshot) {
		return models.Snapshot{}, err
	}
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("%w: loading snapshot '%s': %w", utils.ErrDatabase, key, err)
	}
	return snap, nil
}

// Delete implements the SessionStore interface
func (s *BadgerStore) Delete(key string) error {
	dbKey := []byte(sessionKeyPrefix + key)
	existed := false
	err := s.dbUpdate(func(txn *badger.Txn) error {
		if _, errGet := txn.Get(dbKey); errGet == nil {
			existed = true
		}
		return txn.Delete(dbKey)
	})
	if err != nil {
		return fmt.Errorf("%w: deleting snapshot '%s': %w", utils.ErrDatabase, key, err)
	}
	if existed {
		s.keyCount.Add(-1)
	}
	return nil
}

// List implements the SessionStore interface
func (s *BadgerStore) List(ctx context.Context) ([]SessionSummary, error) {
	var out []SessionSummary
	scanErrors := 0

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(sessionKeyPrefix)

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := string(item.KeyCopy(nil)[len(prefix):])

			var snap models.Snapshot
			if errVal := item.Value(func(val []byte) error { return json.Unmarshal(val, &snap) }); errVal != nil {
				s.log.Errorf("Session scan: failed to decode snapshot '%s': %v", key, errVal)
				scanErrors++
				out = append(out, corruptSummary(key, errVal))
				continue
			}
			out = append(out, summarize(key, snap))
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return out, err
		}
		return out, fmt.Errorf("%w: listing snapshots: %w", utils.ErrDatabase, err)
	}
	if scanErrors > 0 {
		s.log.Warnf("Session scan found %d undecodable snapshots", scanErrors)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Count implements the StoreAdmin interface
func (s *BadgerStore) Count() (int, error) {
	return int(s.keyCount.Load()), nil
}

// RunGC runs BadgerDB's garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}
			var err error
			for {
				// Rewrite while at least half of a value log file is reclaimable
				if err = s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB GC: %v", ctx.Err())
			return
		}
	}
}

// Close implements the StoreAdmin interface
func (s *BadgerStore) Close() error {
	if s.db == nil || s.db.IsClosed() {
		return nil
	}
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing session DB: %v", err)
		return err
	}
	s.log.Debug("Session DB closed.")
	return nil
}
