package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/catalog-scraper/pkg/fetch"
	"github.com/Sriram-PR/catalog-scraper/pkg/models"
	"github.com/Sriram-PR/catalog-scraper/pkg/observe"
	"github.com/Sriram-PR/catalog-scraper/pkg/storage"
	"github.com/Sriram-PR/catalog-scraper/pkg/utils"
)

// SessionConfig bounds the retry of aborted batches
type SessionConfig struct {
	Concurrency      int
	MaxBatchAttempts int           // Attempts per invocation before giving up; <= 0 means 1
	BatchCooldown    time.Duration // Sleep between an aborted attempt and the next
}

// Session runs a WorkBatch to completion, snapshotting it after every aborted
// attempt and resuming from that snapshot after a cooldown
type Session struct {
	dispatcher *Dispatcher
	store      storage.SessionStore
	cfg        SessionConfig
	obs        observe.Observer
	log        *logrus.Entry
}

// NewSession creates a Session. A nil observer discards events.
func NewSession(dispatcher *Dispatcher, store storage.SessionStore, cfg SessionConfig, obs observe.Observer, log *logrus.Entry) *Session {
	if obs == nil {
		obs = observe.Nop
	}
	if cfg.MaxBatchAttempts <= 0 {
		cfg.MaxBatchAttempts = 1
	}
	return &Session{dispatcher: dispatcher, store: store, cfg: cfg, obs: obs, log: log}
}

// Run dispatches urls for outputDir until every URL is resolved.
// If a snapshot for outputDir survives from an earlier run, its records are reused and
// only the URLs it has not resolved are fetched.
// On success the returned batch holds all records and no snapshot remains. When the
// attempt ceiling is reached the error wraps utils.ErrBatchExhausted and the snapshot
// stays in the store for Resume.
func (s *Session) Run(ctx context.Context, outputDir, sourceURL string, urls []string) (*models.WorkBatch, error) {
	key := storage.SessionKey(outputDir)
	batch := models.NewWorkBatch(outputDir, sourceURL, urls)

	if prev, err := s.store.Take(key); err == nil {
		if verr := prev.Validate(); verr != nil {
			s.log.WithField("dir", outputDir).Warnf("Discarding unusable snapshot from an earlier run: %v", verr)
		} else {
			batch = mergeSnapshot(prev, sourceURL, urls)
			s.log.WithFields(logrus.Fields{"dir": outputDir, "completed": batch.CompletedCount()}).
				Info("Reusing records from an earlier run")
		}
	} else if errors.Is(err, utils.ErrCorruptSnapshot) {
		s.log.WithField("dir", outputDir).Warnf("Discarded undecodable snapshot from an earlier run: %v", err)
	} else if !errors.Is(err, utils.ErrSessionNotFound) {
		return batch, err
	}

	return s.execute(ctx, key, batch)
}

// Resume continues the batch stored under key. Snapshots that cannot be resumed fail
// immediately with utils.ErrIncompleteSnapshot and are not retried.
func (s *Session) Resume(ctx context.Context, key string) (*models.WorkBatch, error) {
	snap, err := s.store.Take(key)
	if err != nil {
		return nil, err
	}
	if !snap.Status.Resumable() {
		return nil, fmt.Errorf("%w: snapshot %s has status %s", utils.ErrIncompleteSnapshot, key, snap.Status)
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"dir": snap.OutputDir, "pending": len(snap.Pending), "completed": len(snap.Completed)}).
		Info("Resuming batch")
	return s.execute(ctx, key, models.BatchFromSnapshot(snap))
}

func (s *Session) execute(ctx context.Context, key string, batch *models.WorkBatch) (*models.WorkBatch, error) {
	start := time.Now()
	batchLog := s.log.WithFields(logrus.Fields{"batch": batch.ID, "dir": batch.OutputDir})

	for attempt := 1; ; attempt++ {
		batch.Attempt++
		pending := len(batch.Pending())
		s.obs.Observe(observe.Event{
			Stage: observe.StageBatchStart, BatchID: batch.ID, OutputDir: batch.OutputDir, URL: batch.SourceURL,
			Count: pending, Total: batch.Len(), Attempt: batch.Attempt,
		})

		err := s.dispatcher.RunBatch(ctx, batch, s.cfg.Concurrency)
		if err == nil {
			if derr := s.store.Delete(key); derr != nil {
				batchLog.Warnf("Could not discard snapshot: %v", derr)
			}
			s.obs.Observe(observe.Event{
				Stage: observe.StageBatchDone, BatchID: batch.ID, OutputDir: batch.OutputDir,
				Count: batch.CompletedCount(), Total: batch.Len(), Attempt: batch.Attempt, Dur: time.Since(start),
			})
			return batch, nil
		}

		unresolved := len(batch.Pending())
		errType := utils.CategorizeError(err)

		if ctx.Err() != nil {
			s.obs.Observe(observe.Event{
				Stage: observe.StageBatchAbort, BatchID: batch.ID, OutputDir: batch.OutputDir,
				Count: unresolved, Attempt: batch.Attempt, Err: err, ErrorType: errType,
			})
			if serr := s.save(key, batch, models.SessionStatusAborted, err); serr != nil {
				batchLog.Errorf("Could not save snapshot after cancellation: %v", serr)
			}
			return batch, err
		}

		if attempt >= s.cfg.MaxBatchAttempts {
			s.obs.Observe(observe.Event{
				Stage: observe.StageBatchAbort, BatchID: batch.ID, OutputDir: batch.OutputDir,
				Count: unresolved, Attempt: batch.Attempt, Err: err, ErrorType: errType,
			})
			exhausted := fmt.Errorf("%w: %s after %d attempts, %d URLs unresolved: %w",
				utils.ErrBatchExhausted, batch.OutputDir, attempt, unresolved, err)
			if serr := s.save(key, batch, models.SessionStatusExhausted, err); serr != nil {
				return batch, errors.Join(exhausted, serr)
			}
			s.obs.Observe(observe.Event{
				Stage: observe.StageBatchExhaust, BatchID: batch.ID, OutputDir: batch.OutputDir,
				Count: unresolved, Attempt: batch.Attempt, Err: exhausted, ErrorType: errType,
			})
			return batch, exhausted
		}

		s.obs.Observe(observe.Event{
			Stage: observe.StageBatchAbort, BatchID: batch.ID, OutputDir: batch.OutputDir,
			Count: unresolved, Attempt: batch.Attempt, Err: err, ErrorType: errType, Dur: s.cfg.BatchCooldown,
		})
		if serr := s.save(key, batch, models.SessionStatusAborted, err); serr != nil {
			return batch, serr
		}

		if serr := fetch.Sleep(ctx, s.cfg.BatchCooldown); serr != nil {
			// The snapshot stays in the store for a later resume
			return batch, fmt.Errorf("cancelled during batch cooldown (%v): %w", err, serr)
		}

		snap, terr := s.store.Take(key)
		if errors.Is(terr, utils.ErrCorruptSnapshot) {
			batchLog.Warnf("Snapshot unreadable, continuing from the in-memory batch: %v", terr)
			continue
		}
		if terr != nil {
			return batch, terr
		}
		if verr := snap.Validate(); verr != nil {
			return batch, verr
		}
		batch = models.BatchFromSnapshot(snap)
	}
}

func (s *Session) save(key string, batch *models.WorkBatch, status models.SessionStatus, cause error) error {
	return s.store.Save(key, batch.Snapshot(status, cause))
}

// mergeSnapshot rebuilds a batch from an earlier run's snapshot and adds any URLs
// discovered since then
func mergeSnapshot(prev models.Snapshot, sourceURL string, urls []string) *models.WorkBatch {
	merged := prev
	merged.SourceURL = sourceURL
	merged.Attempt = 0
	seen := make(map[string]struct{}, len(prev.URLs))
	for _, u := range prev.URLs {
		seen[u] = struct{}{}
	}
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		merged.URLs = append(merged.URLs, u)
		merged.Pending = append(merged.Pending, u)
	}
	return models.BatchFromSnapshot(merged)
}
